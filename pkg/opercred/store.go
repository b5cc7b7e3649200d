package opercred

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Store gives access to the operator block database.
type Store interface {
	// ListOper lists the OperCredential in the Store, sorted by Name.
	// It errors if the Store is not reachable.
	ListOper(ctx context.Context) ([]OperCredential, error)

	// LoadOper loads the OperCredential named name into dst.
	// It errors with ErrNotFound if there is no such OperCredential.
	LoadOper(ctx context.Context, name string, dst *OperCredential) error

	// SaveOper saves cred in the Store, replacing any OperCredential with the same Name.
	// It errors if cred is invalid or could not be saved.
	SaveOper(ctx context.Context, cred *OperCredential) error

	// RemoveOper removes the OperCredential named name from the Store.
	// It errors with ErrNotFound if there is no such OperCredential.
	RemoveOper(ctx context.Context, name string) error
}

// Resolver finds the OperCredential a principal is allowed to claim.
type Resolver interface {
	// ResolveCredential returns the OperCredential named identity if 1 of its
	// user@host masks matches username at origHost or at presentedHost.
	// It errors with ErrNotFound if there is no such OperCredential.
	ResolveCredential(ctx context.Context, username, origHost, presentedHost, identity string) (OperCredential, error)
}

// StoreResolver is a Resolver reading OperCredential from a Store.
// Every call reads the Store, so that configuration changes are observed immediately.
type StoreResolver struct {
	Store Store
}

// ResolveCredential implements Resolver.
func (self StoreResolver) ResolveCredential(ctx context.Context, username, origHost, presentedHost, identity string) (OperCredential, error) {
	var cred OperCredential
	if nil == self.Store {
		return cred, newError("nil Store")
	}

	err := self.Store.LoadOper(ctx, identity, &cred)
	if nil != err {
		return OperCredential{}, wrapError(err, "failed loading oper %s", identity)
	}
	if !cred.matchAny(username, origHost, presentedHost) {
		return OperCredential{}, wrapError(ErrNotFound, "no user@host mask matches for oper %s", identity)
	}

	return cred, nil
}

var _ Resolver = StoreResolver{}

// MemStore provides "in memory" implementation of Store.
type MemStore struct {
	mut   sync.Mutex
	opers map[string]OperCredential
}

func NewMemStore() *MemStore {
	return &MemStore{opers: make(map[string]OperCredential)}
}

// operKey folds identity names, they are case insensitive.
func operKey(name string) string {
	return strings.ToLower(name)
}

// ListOper lists the OperCredential in the MemStore.
func (self *MemStore) ListOper(_ context.Context) ([]OperCredential, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	opers := make([]OperCredential, 0, len(self.opers))
	for _, cred := range self.opers {
		opers = append(opers, cred)
	}
	slices.SortFunc(opers, func(a, b OperCredential) int {
		return strings.Compare(a.Name, b.Name)
	})

	return opers, nil
}

// LoadOper loads the OperCredential named name into dst.
func (self *MemStore) LoadOper(_ context.Context, name string, dst *OperCredential) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	cred, found := self.opers[operKey(name)]
	if !found {
		return wrapError(ErrNotFound, "unknown oper %s", name)
	}
	*dst = cred
	dst.UserHosts = slices.Clone(cred.UserHosts)

	return nil
}

// SaveOper saves cred in the MemStore.
func (self *MemStore) SaveOper(_ context.Context, cred *OperCredential) error {
	err := cred.Check()
	if nil != err {
		return wrapError(err, "can not save invalid oper")
	}

	saved := *cred
	saved.UserHosts = slices.Clone(cred.UserHosts)

	self.mut.Lock()
	defer self.mut.Unlock()

	self.opers[operKey(cred.Name)] = saved

	return nil
}

// RemoveOper removes the OperCredential named name from the MemStore.
func (self *MemStore) RemoveOper(_ context.Context, name string) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	key := operKey(name)
	if _, found := self.opers[key]; !found {
		return wrapError(ErrNotFound, "unknown oper %s", name)
	}
	delete(self.opers, key)

	return nil
}

var _ Store = &MemStore{}

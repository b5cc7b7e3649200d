// Package boltdb provides a persistent opercred.Store that keeps oper blocks in a file.
package boltdb

import (
	"context"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"code.kerpass.org/operchal/pkg/opercred"
)

const (
	connectTimeout = 5 * time.Second
	operBucket     = "operTbl"
)

// operStore opens the database for each operation, so that an admin tool can
// modify oper blocks while the server is running.
type operStore struct {
	dbpath string
}

// New returns a Store implementation that persists OperCredential in a single file boltdb database.
// It errors if the database schema can not be created.
func New(dbpath string) (opercred.Store, error) {
	store := operStore{dbpath: dbpath}

	db, err := store.open()
	if nil != err {
		return nil, err
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(operBucket))
		return wrapError(err, "failed %s bucket creation", operBucket) // nil if err is nil
	})
	if nil != err {
		return nil, wrapError(err, "failed db initialization")
	}

	return store, nil
}

func (self operStore) open() (*bolt.DB, error) {
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	return db, nil
}

// ListOper lists the OperCredential in the operStore.
// bolt keys are sorted, so the result is sorted by folded Name.
func (self operStore) ListOper(ctx context.Context) ([]opercred.OperCredential, error) {
	db, err := self.open()
	if nil != err {
		return nil, err
	}
	defer db.Close()

	opers := make([]opercred.OperCredential, 0, 4)
	err = db.View(func(tx *bolt.Tx) error {
		tbl, err := loadSchema(tx)
		if nil != err {
			return err
		}
		return tbl.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); nil != err {
				return err
			}
			cred := opercred.OperCredential{}
			err := cbor.Unmarshal(v, &cred)
			if nil != err {
				return wrapError(err, "failed unmarshaling oper %s", k)
			}
			opers = append(opers, cred)
			return nil
		})
	})

	return opers, wrapError(err, "failed db.View") // nil if err is nil
}

// LoadOper loads the OperCredential named name into dst.
// It errors with opercred.ErrNotFound if there is no such OperCredential.
func (self operStore) LoadOper(_ context.Context, name string, dst *opercred.OperCredential) error {
	db, err := self.open()
	if nil != err {
		return err
	}
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		tbl, err := loadSchema(tx)
		if nil != err {
			return err
		}
		srzcred := tbl.Get(operKey(name))
		if nil == srzcred {
			return wrapError(opercred.ErrNotFound, "unknown oper %s", name)
		}
		return wrapError(cbor.Unmarshal(srzcred, dst), "failed unmarshaling oper %s", name)
	})

	return wrapError(err, "failed db.View")
}

// SaveOper saves cred in the operStore, replacing any OperCredential with the same Name.
func (self operStore) SaveOper(_ context.Context, cred *opercred.OperCredential) error {
	err := cred.Check()
	if nil != err {
		return wrapError(err, "oper is invalid")
	}

	srzcred, err := cbor.Marshal(cred)
	if nil != err {
		return wrapError(err, "failed cbor.Marshal(cred)")
	}

	db, err := self.open()
	if nil != err {
		return err
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		tbl, err := loadSchema(tx)
		if nil != err {
			return err
		}
		return wrapError(tbl.Put(operKey(cred.Name), srzcred), "failed storing oper in bucket")
	})

	return wrapError(err, "failed db.Update") // nil if err is nil
}

// RemoveOper removes the OperCredential named name from the operStore.
// It errors with opercred.ErrNotFound if there is no such OperCredential.
func (self operStore) RemoveOper(_ context.Context, name string) error {
	db, err := self.open()
	if nil != err {
		return err
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		tbl, err := loadSchema(tx)
		if nil != err {
			return err
		}
		key := operKey(name)
		if nil == tbl.Get(key) {
			return wrapError(opercred.ErrNotFound, "unknown oper %s", name)
		}
		return tbl.Delete(key)
	})

	return wrapError(err, "failed db.Update")
}

// OperCount returns the number of OperCredential in the Store at dbpath, -1 on error.
func OperCount(dbpath string) int {
	db, err := operStore{dbpath: dbpath}.open()
	if nil != err {
		return -1
	}
	defer db.Close()

	var count int
	err = db.View(func(tx *bolt.Tx) error {
		tbl, err := loadSchema(tx)
		if nil != err {
			return err
		}
		count = tbl.Stats().KeyN
		return nil
	})
	if nil == err {
		return count
	}

	return -1
}

func loadSchema(tx *bolt.Tx) (*bolt.Bucket, error) {
	tbl := tx.Bucket([]byte(operBucket))
	if nil == tbl {
		return nil, newError("missing %s bucket", operBucket)
	}
	return tbl, nil
}

// operKey folds identity names, they are case insensitive.
func operKey(name string) []byte {
	return []byte(strings.ToLower(name))
}

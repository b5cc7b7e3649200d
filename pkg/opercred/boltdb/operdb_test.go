package boltdb

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"path"
	"testing"

	bolt "go.etcd.io/bbolt"

	"code.kerpass.org/operchal/pkg/opercred"
)

func TestNew(t *testing.T) {
	dbPath := path.Join(t.TempDir(), "oper.db")
	_, err := New(dbPath)
	if nil != err {
		t.Errorf("failed New, got error %v", err)
	}
	if 0 != OperCount(dbPath) {
		t.Errorf("new database is not empty")
	}
}

func TestOperSaveLoad(t *testing.T) {
	ctx := t.Context()
	dbPath := path.Join(t.TempDir(), "oper.db")
	store, err := New(dbPath)
	if nil != err {
		t.Fatalf("failed New, got error %v", err)
	}

	for i := range 4 {
		cred := newCred(t, fmt.Sprintf("oper%d", i))
		err = store.SaveOper(ctx, &cred)
		if nil != err {
			t.Fatalf("failed SaveOper #%d, got error %v", i, err)
		}
	}
	if 4 != OperCount(dbPath) {
		t.Errorf("failed OperCount control, %d != 4", OperCount(dbPath))
	}

	// saving again replaces the record
	cred := newCred(t, "OPER1")
	cred.RequireSecure = true
	err = store.SaveOper(ctx, &cred)
	if nil != err {
		t.Fatalf("failed SaveOper replace, got error %v", err)
	}
	if 4 != OperCount(dbPath) {
		t.Errorf("replace modified OperCount, %d != 4", OperCount(dbPath))
	}

	var loaded opercred.OperCredential
	err = store.LoadOper(ctx, "oper1", &loaded)
	if nil != err {
		t.Fatalf("failed LoadOper, got error %v", err)
	}
	if !loaded.RequireSecure || opercred.SchemeX25519 != loaded.Scheme() {
		t.Errorf("loaded oper differs, got %+v", loaded)
	}

	opers, err := store.ListOper(ctx)
	if nil != err {
		t.Fatalf("failed ListOper, got error %v", err)
	}
	if 4 != len(opers) || "oper0" != opers[0].Name {
		t.Errorf("unexpected ListOper result %v", opers)
	}

	err = printDB(t, dbPath)
	if nil != err {
		t.Errorf("failed printDB, got error %v", err)
	}
}

func TestOperRemove(t *testing.T) {
	ctx := t.Context()
	dbPath := path.Join(t.TempDir(), "oper.db")
	store, err := New(dbPath)
	if nil != err {
		t.Fatalf("failed New, got error %v", err)
	}

	cred := newCred(t, "alice")
	err = store.SaveOper(ctx, &cred)
	if nil != err {
		t.Fatalf("failed SaveOper, got error %v", err)
	}
	err = store.RemoveOper(ctx, "Alice")
	if nil != err {
		t.Fatalf("failed RemoveOper, got error %v", err)
	}
	err = store.RemoveOper(ctx, "alice")
	if !errors.Is(err, opercred.ErrNotFound) {
		t.Errorf("second RemoveOper did not fail with ErrNotFound, got error %v", err)
	}
	err = store.LoadOper(ctx, "alice", &cred)
	if !errors.Is(err, opercred.ErrNotFound) {
		t.Errorf("LoadOper did not fail with ErrNotFound, got error %v", err)
	}
}

func TestOperSaveInvalid(t *testing.T) {
	store, err := New(path.Join(t.TempDir(), "oper.db"))
	if nil != err {
		t.Fatalf("failed New, got error %v", err)
	}
	err = store.SaveOper(t.Context(), &opercred.OperCredential{Name: "alice"})
	if !errors.Is(err, opercred.ErrValidation) {
		t.Errorf("SaveOper did not fail with ErrValidation, got error %v", err)
	}
}

func TestResolverOverBolt(t *testing.T) {
	ctx := t.Context()
	store, err := New(path.Join(t.TempDir(), "oper.db"))
	if nil != err {
		t.Fatalf("failed New, got error %v", err)
	}
	cred := newCred(t, "alice")
	err = store.SaveOper(ctx, &cred)
	if nil != err {
		t.Fatalf("failed SaveOper, got error %v", err)
	}

	resolver := opercred.StoreResolver{Store: store}
	_, err = resolver.ResolveCredential(ctx, "alice", "127.0.0.1", "127.0.0.1", "alice")
	if nil != err {
		t.Errorf("failed ResolveCredential, got error %v", err)
	}
	_, err = resolver.ResolveCredential(ctx, "alice", "192.0.2.1", "192.0.2.1", "alice")
	if !errors.Is(err, opercred.ErrNotFound) {
		t.Errorf("ResolveCredential did not fail with ErrNotFound, got error %v", err)
	}
}

func newCred(t *testing.T, name string) opercred.OperCredential {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if nil != err {
		t.Fatalf("failed key generation, got error %v", err)
	}
	return opercred.OperCredential{
		Name:      name,
		UserHosts: []string{"*@127.0.0.1"},
		Key:       opercred.KeyHandle{KeyMaterial: opercred.X25519Key{PublicKey: key.PublicKey()}},
	}
}

func printDB(t *testing.T, dbPath string) error {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if nil != err {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			t.Logf("bucket %s", name)
			return b.ForEach(func(k, v []byte) error {
				t.Logf("  %s -> %d bytes", k, len(v))
				return nil
			})
		})
	})
}

package operauth

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"code.kerpass.org/operchal/pkg/opercred"
)

var (
	testRSAOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

// rsaTestKey returns a 2048 bits RSA key shared by the package tests.
func rsaTestKey() *rsa.PrivateKey {
	testRSAOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if nil != err {
			panic(err)
		}
		testRSAKey = key
	})
	return testRSAKey
}

func x25519TestKey(t *testing.T) *ecdh.PrivateKey {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if nil != err {
		t.Fatalf("failed x25519 key generation, got error %v", err)
	}
	return key
}

// testPrincipal is a Principal connected from 127.0.0.1.
type testPrincipal struct {
	user      string
	host      string
	presented string
	secure    bool
	certfp    string
	slot      Slot
}

func newPrincipal(user string) *testPrincipal {
	return &testPrincipal{user: user, host: "127.0.0.1", presented: "cloak.example.org"}
}

func (self *testPrincipal) Username() string        { return self.user }
func (self *testPrincipal) OrigHost() string        { return self.host }
func (self *testPrincipal) PresentedHost() string   { return self.presented }
func (self *testPrincipal) IsSecure() bool          { return self.secure }
func (self *testPrincipal) CertFingerprint() string { return self.certfp }
func (self *testPrincipal) ChallengeSlot() *Slot    { return &self.slot }

var _ Principal = &testPrincipal{}

// recordAudit is an AuditSink that keeps AuditRecord in memory.
type recordAudit struct {
	mut     sync.Mutex
	records []AuditRecord
}

func (self *recordAudit) Audit(_ context.Context, rec AuditRecord) {
	self.mut.Lock()
	defer self.mut.Unlock()
	self.records = append(self.records, rec)
}

func (self *recordAudit) events() []AuditEvent {
	self.mut.Lock()
	defer self.mut.Unlock()
	rv := make([]AuditEvent, 0, len(self.records))
	for _, rec := range self.records {
		rv = append(rv, rec.Event)
	}
	return rv
}

// testFixture holds an Authenticator reading oper blocks from a MemStore.
//
// Oper blocks:
//   - alice: RSA key
//   - bob:   X25519 key
//   - carol: no key
//   - dave:  RSA key, TLS required
//   - erin:  RSA key, client certificate aabbcc required
type testFixture struct {
	store   *opercred.MemStore
	auth    *Authenticator
	audit   *recordAudit
	xpriv   *ecdh.PrivateKey
	rsapriv *rsa.PrivateKey
}

func newFixture(t *testing.T) *testFixture {
	rsapriv := rsaTestKey()
	xpriv := x25519TestKey(t)
	rsaKey := opercred.KeyHandle{KeyMaterial: opercred.RSAKey{PublicKey: &rsapriv.PublicKey}}
	xKey := opercred.KeyHandle{KeyMaterial: opercred.X25519Key{PublicKey: xpriv.PublicKey()}}
	masks := []string{"*@127.0.0.1"}

	store := opercred.NewMemStore()
	for _, cred := range []opercred.OperCredential{
		{Name: "alice", UserHosts: masks, Key: rsaKey},
		{Name: "bob", UserHosts: masks, Key: xKey},
		{Name: "carol", UserHosts: masks},
		{Name: "dave", UserHosts: masks, Key: rsaKey, RequireSecure: true},
		{Name: "erin", UserHosts: masks, Key: rsaKey, CertFP: "AA:BB:CC"},
	} {
		err := store.SaveOper(context.Background(), &cred)
		if nil != err {
			t.Fatalf("failed SaveOper(%s), got error %v", cred.Name, err)
		}
	}

	audit := &recordAudit{}
	return &testFixture{
		store:   store,
		auth:    &Authenticator{Resolver: opercred.StoreResolver{Store: store}, Audit: audit},
		audit:   audit,
		xpriv:   xpriv,
		rsapriv: rsapriv,
	}
}

// begin issues a challenge for identity and fails t if it was not generated.
func (self *testFixture) begin(t *testing.T, p Principal, identity string) ChallengeOutcome {
	out := self.auth.BeginChallenge(t.Context(), p, identity)
	if ChallengeGenerated != out.Kind {
		t.Fatalf("BeginChallenge(%s) returned %s, got error %v", identity, out.Kind, out.Err())
	}
	return out
}

// respond computes the response to out with the fixture private keys.
func (self *testFixture) respond(t *testing.T, identity string, out ChallengeOutcome) string {
	var priv any = self.rsapriv
	if "bob" == identity {
		priv = self.xpriv
	}
	resp, err := Respond(priv, out.ChallengeText)
	if nil != err {
		t.Fatalf("failed Respond, got error %v", err)
	}
	return resp
}

package server

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"code.kerpass.org/operchal/internal/observability"
	"code.kerpass.org/operchal/internal/session"
	"code.kerpass.org/operchal/internal/transport"
	"code.kerpass.org/operchal/pkg/operauth"
	"code.kerpass.org/operchal/pkg/opercred"
)

const testServerName = "irc.example.org"

var (
	testRSAOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

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

type testServer struct {
	srv   *Server
	addr  string
	clock *session.OffsetClock
	store *opercred.MemStore
	audit *auditLog
}

// auditLog is an operauth.AuditSink keeping events in memory.
type auditLog struct {
	mut    sync.Mutex
	events []operauth.AuditEvent
}

func (self *auditLog) Audit(_ context.Context, rec operauth.AuditRecord) {
	self.mut.Lock()
	defer self.mut.Unlock()
	self.events = append(self.events, rec.Event)
}

func (self *auditLog) has(evt operauth.AuditEvent) bool {
	self.mut.Lock()
	defer self.mut.Unlock()
	for _, e := range self.events {
		if evt == e {
			return true
		}
	}
	return false
}

// startServer runs a Server on a loopback listener until t completes.
// wrap may turn the listener in a tls listener.
func startServer(t *testing.T, creds []opercred.OperCredential, wrap func(net.Listener) net.Listener) *testServer {
	observability.SetTestDebugLogging(t)

	store := opercred.NewMemStore()
	for _, cred := range creds {
		err := store.SaveOper(context.Background(), &cred)
		if nil != err {
			t.Fatalf("failed SaveOper(%s), got error %v", cred.Name, err)
		}
	}

	ts := &testServer{clock: &session.OffsetClock{}, store: store, audit: &auditLog{}}
	ts.srv = &Server{
		Name: testServerName,
		Auth: &operauth.Authenticator{
			Resolver: opercred.StoreResolver{Store: store},
			Clock:    ts.clock,
			Audit:    ts.audit,
		},
		ReapInterval: time.Hour,
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if nil != err {
		t.Fatalf("failed net.Listen, got error %v", err)
	}
	ts.addr = ln.Addr().String()
	if nil != wrap {
		ln = wrap(ln)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ts.srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; nil != err {
			t.Errorf("Serve returned error %v", err)
		}
	})

	return ts
}

func rsaCred(name string) opercred.OperCredential {
	return opercred.OperCredential{
		Name:      name,
		UserHosts: []string{"*@127.0.0.1"},
		Key:       opercred.KeyHandle{KeyMaterial: opercred.RSAKey{PublicKey: &rsaTestKey().PublicKey}},
	}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, conn net.Conn) *testClient {
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (self *testClient) send(line string) {
	_, err := self.conn.Write([]byte(line + "\r\n"))
	if nil != err {
		self.t.Fatalf("failed sending %q, got error %v", line, err)
	}
}

func (self *testClient) read() string {
	line, err := self.r.ReadString('\n')
	if nil != err {
		self.t.Fatalf("failed reading line, got error %v", err)
	}
	if len(line) > transport.MaxLineSize {
		self.t.Errorf("line larger than %d", transport.MaxLineSize)
	}
	return strings.TrimRight(line, "\r\n")
}

// expect reads a line and fails the test if it does not start with
// ":irc.example.org <prefix>".
func (self *testClient) expect(prefix string) string {
	line := self.read()
	if !strings.HasPrefix(line, ":"+testServerName+" "+prefix) {
		self.t.Fatalf("unexpected line %q, expecting %q", line, prefix)
	}
	return line
}

func (self *testClient) register(nick string) {
	self.send("NICK " + nick)
	self.send("USER " + nick + " 0 * :Test User")
	self.expect("001 " + nick)
}

// challenge requests a challenge and returns the joined challenge text.
func (self *testClient) challenge(nick, identity string) string {
	self.send("CHALLENGE " + identity)
	var text strings.Builder
	for {
		line := self.read()
		switch {
		case strings.HasPrefix(line, ":"+testServerName+" 740 "+nick+" :"):
			text.WriteString(line[strings.LastIndex(line, ":")+1:])
		case strings.HasPrefix(line, ":"+testServerName+" 741 "+nick):
			return text.String()
		default:
			self.t.Fatalf("unexpected challenge line %q", line)
		}
	}
}

func TestChallengeGranted(t *testing.T) {
	ts := startServer(t, []opercred.OperCredential{rsaCred("alice")}, nil)
	conn, err := net.Dial("tcp", ts.addr)
	if nil != err {
		t.Fatalf("failed Dial, got error %v", err)
	}
	c := dial(t, conn)
	c.register("alice")

	text := c.challenge("alice", "alice")
	resp, err := operauth.Respond(rsaTestKey(), text)
	if nil != err {
		t.Fatalf("failed Respond, got error %v", err)
	}
	c.send("CHALLENGE +" + resp)
	c.expect("381 alice")

	// already oper
	c.send("CHALLENGE alice")
	c.expect("381 alice")

	c.send("QUIT")
	if line := c.read(); !strings.HasPrefix(line, "ERROR :") {
		t.Errorf("unexpected QUIT reply %q", line)
	}
}

func TestChallengeLongText(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if nil != err {
		t.Fatalf("failed 4096 bits key generation, got error %v", err)
	}
	cred := opercred.OperCredential{
		Name:      "bigkey",
		UserHosts: []string{"*@127.0.0.1"},
		Key:       opercred.KeyHandle{KeyMaterial: opercred.RSAKey{PublicKey: &key.PublicKey}},
	}
	ts := startServer(t, []opercred.OperCredential{cred}, nil)
	conn, err := net.Dial("tcp", ts.addr)
	if nil != err {
		t.Fatalf("failed Dial, got error %v", err)
	}
	c := dial(t, conn)
	c.register("bob")

	// 4096 bits ciphertext is 684 base64 characters, sent in 2 lines
	text := c.challenge("bob", "bigkey")
	if 684 != len(text) {
		t.Errorf("unexpected challenge length %d", len(text))
	}
	resp, err := operauth.Respond(key, text)
	if nil != err {
		t.Fatalf("failed Respond, got error %v", err)
	}
	c.send("CHALLENGE +" + resp)
	c.expect("381 bob")
}

func TestChallengeDenied(t *testing.T) {
	carol := rsaCred("carol")
	carol.Key = opercred.KeyHandle{}
	ts := startServer(t, []opercred.OperCredential{rsaCred("alice"), carol}, nil)
	conn, err := net.Dial("tcp", ts.addr)
	if nil != err {
		t.Fatalf("failed Dial, got error %v", err)
	}
	c := dial(t, conn)

	c.send("CHALLENGE alice")
	c.expect("451 *")
	c.send("FOO bar")
	c.expect("421 * FOO")

	c.register("mallory")
	c.send("CHALLENGE")
	c.expect("461 mallory")
	c.send("CHALLENGE nobody")
	c.expect("491 mallory")
	c.send("CHALLENGE carol")
	c.expect("NOTICE mallory :I'm sorry, PK authentication is not enabled")

	// mismatch
	c.challenge("mallory", "alice")
	c.send("CHALLENGE +AAAA")
	c.expect("464 mallory")

	// no challenge pending, no reply
	c.send("CHALLENGE +AAAA")
	c.send("PING :check")
	c.expect("PONG " + testServerName + " :check")
}

func TestDisconnectAborts(t *testing.T) {
	ts := startServer(t, []opercred.OperCredential{rsaCred("alice")}, nil)
	conn, err := net.Dial("tcp", ts.addr)
	if nil != err {
		t.Fatalf("failed Dial, got error %v", err)
	}
	c := dial(t, conn)
	c.register("alice")
	c.challenge("alice", "alice")
	if 1 != ts.srv.SessionCount() {
		t.Errorf("unexpected SessionCount %d", ts.srv.SessionCount())
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for ts.srv.SessionCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if 0 != ts.srv.SessionCount() {
		t.Fatal("session not removed after disconnect")
	}
	if !ts.audit.has(operauth.AuditChallengeAborted) {
		t.Error("pending challenge not aborted on disconnect")
	}
}

func TestServeConnEnd(t *testing.T) {
	// net.Pipe addresses resolve to the "pipe" host
	bob := rsaCred("bob")
	bob.UserHosts = []string{"*@pipe"}
	ts := startServer(t, []opercred.OperCredential{bob}, nil)

	t.Run("quit", func(t *testing.T) {
		srvConn, cliConn := net.Pipe()
		done := make(chan error, 1)
		go func() {
			done <- ts.srv.ServeConn(t.Context(), srvConn)
		}()

		c := dial(t, cliConn)
		c.register("alice")
		c.send("QUIT")
		if line := c.read(); !strings.HasSuffix(line, "(Quit)") {
			t.Errorf("unexpected QUIT reply %q", line)
		}
		if err := <-done; nil != err {
			t.Errorf("ServeConn failed after QUIT, got error %v", err)
		}
	})

	t.Run("shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		srvConn, cliConn := net.Pipe()
		done := make(chan error, 1)
		go func() {
			done <- ts.srv.ServeConn(ctx, srvConn)
		}()

		c := dial(t, cliConn)
		c.register("bob")
		c.challenge("bob", "bob")
		cancel()
		line := c.read()
		if !strings.HasPrefix(line, "ERROR :Closing Link: ") || !strings.HasSuffix(line, "(Server shutdown)") {
			t.Errorf("unexpected closing line %q", line)
		}
		if err := <-done; nil != err {
			t.Errorf("ServeConn failed after shutdown, got error %v", err)
		}
		if !ts.audit.has(operauth.AuditChallengeAborted) {
			t.Error("pending challenge not aborted on shutdown")
		}
	})
}

func TestReapExpired(t *testing.T) {
	ts := startServer(t, []opercred.OperCredential{rsaCred("alice")}, nil)
	conn, err := net.Dial("tcp", ts.addr)
	if nil != err {
		t.Fatalf("failed Dial, got error %v", err)
	}
	c := dial(t, conn)
	c.register("alice")
	text := c.challenge("alice", "alice")

	if 0 != ts.srv.ReapExpired() {
		t.Error("ReapExpired discarded a live challenge")
	}
	ts.clock.Advance(operauth.ChallengeExpiry)
	if 1 != ts.srv.ReapExpired() {
		t.Error("ReapExpired kept an expired challenge")
	}

	resp, err := operauth.Respond(rsaTestKey(), text)
	if nil != err {
		t.Fatalf("failed Respond, got error %v", err)
	}
	c.send("CHALLENGE +" + resp)
	c.send("PING :reaped")
	c.expect("PONG " + testServerName + " :reaped")
}

func TestTLSCertFP(t *testing.T) {
	serverCert := selfSignedCert(t, "irc.example.org")
	clientCert := selfSignedCert(t, "alice")
	sum := sha256.Sum256(clientCert.Certificate[0])

	dave := rsaCred("dave")
	dave.RequireSecure = true
	dave.CertFP = strings.ToUpper(hex.EncodeToString(sum[:]))

	ts := startServer(t, []opercred.OperCredential{dave}, func(ln net.Listener) net.Listener {
		return tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{serverCert},
			ClientAuth:   tls.RequestClientCert,
		})
	})

	// plaintext client can not connect to a tls listener, so check the policy
	// with and without a client certificate
	testcases := []struct {
		name   string
		certs  []tls.Certificate
		expect string
	}{
		{name: "no certificate", expect: "491 dave"},
		{name: "certificate", certs: []tls.Certificate{clientCert}, expect: "740 dave"},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			conn, err := tls.Dial("tcp", ts.addr, &tls.Config{InsecureSkipVerify: true, Certificates: tc.certs})
			if nil != err {
				t.Fatalf("failed tls.Dial, got error %v", err)
			}
			c := dial(t, conn)
			c.register("dave")
			c.send("CHALLENGE dave")
			c.expect(tc.expect)
		})
	}
}

func selfSignedCert(t *testing.T, cn string) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if nil != err {
		t.Fatalf("failed key generation, got error %v", err)
	}
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if nil != err {
		t.Fatalf("failed CreateCertificate, got error %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

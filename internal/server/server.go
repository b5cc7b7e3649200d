// Package server serves the operator challenge over a line protocol.
//
// Clients register with NICK & USER, then request a challenge with
// CHALLENGE <oper name> and answer it with CHALLENGE +<response>.
package server

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"code.kerpass.org/operchal/internal/observability"
	"code.kerpass.org/operchal/internal/protocols"
	"code.kerpass.org/operchal/internal/session"
	"code.kerpass.org/operchal/internal/transport"
	"code.kerpass.org/operchal/pkg/operauth"
)

const (
	defaultReapInterval = 30 * time.Second
	handshakeTimeout    = 10 * time.Second
	abortWriteTimeout   = 2 * time.Second
)

// Server accepts client connections and runs a Session for each of them.
type Server struct {
	// Name prefixes every reply line.
	Name string

	Auth *operauth.Authenticator

	// Cloak returns the host presented to other users, it defaults to the real host.
	Cloak func(host string) string

	// ReapInterval is the period of expired challenge removal.
	ReapInterval time.Duration

	sessions session.Registry[*Session]
}

// Check returns an error if the Server is not usable.
func (self *Server) Check() error {
	if "" == self.Name || len(self.Name) > maxServerNameLen || strings.ContainsAny(self.Name, " :") {
		return newError("invalid server Name %q", self.Name)
	}
	if nil == self.Auth {
		return newError("nil Auth")
	}
	return wrapError(self.Auth.Check(), "invalid Auth") // nil if Check succeeds
}

// SessionCount returns the number of connected sessions.
func (self *Server) SessionCount() int {
	return self.sessions.Len()
}

// Serve accepts connections on ln until ctx is done.
// ln is closed when Serve returns. Connections accepted from a tls.Listener are secure.
func (self *Server) Serve(ctx context.Context, ln net.Listener) error {
	err := self.Check()
	if nil != err {
		return wrapError(err, "invalid Server")
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	// connections are closed when ctx is cancelled
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Go(func() { self.reapLoop(ctx) })

	log := observability.Logger(ctx)
	log.Info("server listening", "addr", ln.Addr().String(), "name", self.Name)
	for {
		conn, err := ln.Accept()
		if nil != err {
			if nil != ctx.Err() {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return wrapError(err, "failed Accept")
		}
		wg.Go(func() {
			err := self.ServeConn(ctx, conn)
			if nil != err {
				log.Debug("connection ended", "peer", conn.RemoteAddr().String(), "error", err)
			}
		})
	}
}

// ServeConn runs a Session over conn until the client quits, the connection
// fails or ctx is done. conn is closed when ServeConn returns.
//
// A client QUIT or ctx cancellation are not errors, ServeConn returns nil.
func (self *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		// unblock the session read, leaving time to send the closing line
		conn.SetReadDeadline(time.Now())
		conn.SetWriteDeadline(time.Now().Add(abortWriteTimeout))
	})
	defer stop()

	sess := &Session{srv: self}
	sess.origHost = remoteHost(conn.RemoteAddr())
	sess.presentedHost = sess.origHost
	if nil != self.Cloak {
		sess.presentedHost = self.Cloak(sess.origHost)
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if nil != err {
			return wrapError(err, "failed TLS handshake")
		}
		state := tlsConn.ConnectionState()
		sess.secure = true
		if len(state.PeerCertificates) > 0 {
			sum := sha256.Sum256(state.PeerCertificates[0].Raw)
			sess.certfp = hex.EncodeToString(sum[:])
		}
	}

	sId, err := self.sessions.Save(sess)
	if nil != err {
		return wrapError(err, "failed registering session")
	}
	defer self.sessions.Pop(sId)
	sess.Id = sId
	sess.ctx = observability.WithSession(ctx, sId, conn.RemoteAddr().String())
	defer self.Auth.AbortChallenge(sess.ctx, sess)

	err = protocols.Run(sess.ctx, sess, transport.NewRWTransport(conn, conn))
	if protocols.IsError(err) {
		return wrapError(err, "session %s ended", sId)
	}

	return nil
}

// reapLoop periodically discards expired challenges until ctx is done.
func (self *Server) reapLoop(ctx context.Context) {
	interval := self.ReapInterval
	if interval <= 0 {
		interval = defaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			self.ReapExpired()
		}
	}
}

// ReapExpired discards the expired challenges of all sessions.
// It returns the number of discarded challenges.
func (self *Server) ReapExpired() int {
	var count int
	self.sessions.Range(func(_ uuid.UUID, sess *Session) bool {
		if self.Auth.Reap(sess) {
			count += 1
		}
		return true
	})
	return count
}

func remoteHost(addr net.Addr) string {
	if nil == addr {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if nil != err {
		return addr.String()
	}
	return host
}

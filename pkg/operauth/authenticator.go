package operauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"

	"code.kerpass.org/operchal/internal/session"
	"code.kerpass.org/operchal/pkg/opercred"
)

// Principal is an authenticated protocol session attempting to become operator.
type Principal interface {
	Username() string

	// OrigHost is the real host of the principal connection.
	OrigHost() string

	// PresentedHost is the host shown to other users, it may be a cloak.
	PresentedHost() string

	// IsSecure returns true if the principal connection uses TLS.
	IsSecure() bool

	// CertFingerprint returns the hex fingerprint of the principal TLS client
	// certificate, or the empty string.
	CertFingerprint() string

	ChallengeSlot() *Slot
}

// Config holds server wide Authenticator policies.
type Config struct {
	// SecureOnly refuses challenges to principals not connected with TLS.
	SecureOnly bool

	// FailureLimit is the number of consecutive failed responses after which a
	// principal can not obtain new challenges. 0 disables the limit.
	FailureLimit int
}

// Authenticator issues operator challenges and verifies responses.
// An Authenticator is safe for concurrent use by multiple sessions.
type Authenticator struct {
	Resolver opercred.Resolver
	Config   Config

	// Clock defaults to session.SystemClock.
	Clock session.Clock

	// Rand is the challenge secret source, it defaults to crypto/rand.Reader.
	Rand io.Reader

	// Audit defaults to LogAudit.
	Audit AuditSink
}

// Check returns an error if the Authenticator is not usable.
func (self *Authenticator) Check() error {
	if nil == self {
		return newFlagError(ErrConfiguration, "nil Authenticator")
	}
	if nil == self.Resolver {
		return newFlagError(ErrConfiguration, "nil Resolver")
	}
	if self.Config.FailureLimit < 0 {
		return newFlagError(ErrConfiguration, "negative FailureLimit")
	}
	return nil
}

func (self *Authenticator) clock() session.Clock {
	if nil == self.Clock {
		return session.SystemClock{}
	}
	return self.Clock
}

func (self *Authenticator) rand() io.Reader {
	if nil == self.Rand {
		return rand.Reader
	}
	return self.Rand
}

func (self *Authenticator) audit(ctx context.Context, p Principal, rec AuditRecord) {
	var sink AuditSink = LogAudit{}
	if nil != self.Audit {
		sink = self.Audit
	}
	rec.Username = p.Username()
	rec.Host = p.OrigHost()
	sink.Audit(ctx, rec)
}

// BeginChallenge issues a challenge to p for the oper block named identity.
//
// Any challenge previously issued to p is discarded, whatever the outcome.
// On success the returned ChallengeOutcome holds the base64 challenge text that
// the principal must answer within ChallengeExpiry.
func (self *Authenticator) BeginChallenge(ctx context.Context, p Principal, identity string) ChallengeOutcome {
	slot := p.ChallengeSlot()
	if slot.discard() {
		self.audit(ctx, p, AuditRecord{Event: AuditChallengeSuperseded, Identity: identity})
	}

	outcome := self.beginChallenge(ctx, p, identity)
	switch outcome.Kind {
	case ChallengeGenerated:
		self.audit(ctx, p, AuditRecord{Event: AuditChallengeIssued, Identity: identity})
	case ChallengeCryptoFailure:
		self.audit(ctx, p, AuditRecord{Event: AuditChallengeFailed, Identity: identity, Err: outcome.err})
	default:
		self.audit(ctx, p, AuditRecord{
			Event:    AuditChallengeDenied,
			Identity: identity,
			Code:     outcome.Reason.String(),
			Err:      outcome.err,
		})
	}

	return outcome
}

func (self *Authenticator) beginChallenge(ctx context.Context, p Principal, identity string) ChallengeOutcome {
	err := self.Check()
	if nil != err {
		return notAuthorized(ReasonServerMisconfigured, err)
	}

	if self.Config.SecureOnly && !p.IsSecure() {
		return notAuthorized(ReasonSecureOnlyServer, nil)
	}
	slot := p.ChallengeSlot()
	if self.Config.FailureLimit > 0 && slot.Failures() >= self.Config.FailureLimit {
		return notAuthorized(ReasonTooManyFailures, nil)
	}

	cred, reason, err := self.resolve(ctx, p, identity)
	if ReasonNone != reason {
		return notAuthorized(reason, err)
	}

	artifact, err := GenerateChallenge(self.rand(), cred.Key.KeyMaterial)
	if nil != err {
		return ChallengeOutcome{
			Kind: ChallengeCryptoFailure,
			err:  wrapFlagError(ErrCrypto, err, "failed generating %s challenge for oper %s", cred.Scheme(), cred.Name),
		}
	}
	expected, err := base64.StdEncoding.DecodeString(artifact.ExpectedResponse)
	if nil != err {
		// unreachable, generators produce valid base64
		return ChallengeOutcome{Kind: ChallengeCryptoFailure, err: wrapFlagError(ErrCrypto, err, "invalid expected response")}
	}

	// last writer wins if p raced another BeginChallenge
	slot.install(&PendingChallenge{
		ClaimedIdentity:  cred.Name,
		ExpectedResponse: expected,
		IssuedAt:         self.clock().Now(),
	})

	return ChallengeOutcome{Kind: ChallengeGenerated, ChallengeText: artifact.ChallengeText}
}

// resolve loads the oper block named identity and checks that p may use it.
func (self *Authenticator) resolve(ctx context.Context, p Principal, identity string) (opercred.OperCredential, DenyReason, error) {
	cred, err := self.Resolver.ResolveCredential(ctx, p.Username(), p.OrigHost(), p.PresentedHost(), identity)
	switch {
	case errors.Is(err, opercred.ErrNotFound):
		return cred, ReasonUnknownIdentity, nil
	case nil != err:
		return cred, ReasonUnknownIdentity, err
	case !cred.HasPublicKey():
		return cred, ReasonNoPublicKey, nil
	case cred.RequireSecure && !p.IsSecure():
		return cred, ReasonSecureRequired, nil
	case !cred.MatchCertFP(p.CertFingerprint()):
		return cred, ReasonCertMismatch, nil
	}
	return cred, ReasonNone, nil
}

// SubmitResponse verifies the base64 response p sent for its pending challenge.
//
// The pending challenge is consumed whatever the outcome, a principal gets a
// single attempt per challenge. A correct response is only granted if p is still
// allowed to use the oper block.
func (self *Authenticator) SubmitResponse(ctx context.Context, p Principal, response string) VerifyOutcome {
	outcome, identity := self.submitResponse(ctx, p, response)

	slot := p.ChallengeSlot()
	switch outcome.Kind {
	case VerifyGranted:
		slot.resetFailures()
	case VerifyExpired, VerifyMismatched:
		slot.addFailure()
	}
	if VerifyNotExpecting != outcome.Kind {
		self.audit(ctx, p, AuditRecord{
			Event:    AuditResponse,
			Identity: identity,
			Code:     outcome.Kind.String(),
			Err:      outcome.err,
		})
	}

	return outcome
}

func (self *Authenticator) submitResponse(ctx context.Context, p Principal, response string) (VerifyOutcome, string) {
	pc := p.ChallengeSlot().take()
	if nil == pc {
		return VerifyOutcome{
			Kind: VerifyNotExpecting,
			err:  newFlagError(ErrProtocolState, "no pending challenge"),
		}, ""
	}
	defer pc.wipe()

	identity := pc.ClaimedIdentity
	if pc.expired(self.clock().Now()) {
		return VerifyOutcome{
			Kind: VerifyExpired,
			err:  newFlagError(ErrProtocolState, "challenge for oper %s expired", identity),
		}, identity
	}

	if !matchResponse(pc.ExpectedResponse, response) {
		return VerifyOutcome{
			Kind: VerifyMismatched,
			err:  newFlagError(ErrProtocolState, "wrong response for oper %s", identity),
		}, identity
	}

	cred, reason, err := self.resolve(ctx, p, identity)
	if ReasonNone != reason {
		var rerr error
		if nil == err {
			rerr = newFlagError(reason.flag(), "oper %s revoked, %s", identity, reason)
		} else {
			rerr = wrapFlagError(reason.flag(), err, "oper %s revoked, %s", identity, reason)
		}
		return VerifyOutcome{Kind: VerifyAuthorizationRevoked, err: rerr}, identity
	}

	return VerifyOutcome{Kind: VerifyGranted, Identity: cred.Name}, identity
}

// matchResponse compares the decoded response to expected in constant time.
// Invalid base64 never matches.
func matchResponse(expected []byte, response string) bool {
	decoded, err := base64.StdEncoding.DecodeString(response)
	if nil != err {
		return false
	}
	defer clear(decoded)

	return 1 == subtle.ConstantTimeCompare(expected, decoded)
}

// AbortChallenge discards the pending challenge of p, if any.
// Sessions call it on teardown.
func (self *Authenticator) AbortChallenge(ctx context.Context, p Principal) {
	if p.ChallengeSlot().discard() {
		self.audit(ctx, p, AuditRecord{Event: AuditChallengeAborted})
	}
}

// Reap discards the pending challenge of p if it is expired.
// It returns true if a challenge was discarded.
func (self *Authenticator) Reap(p Principal) bool {
	pc := p.ChallengeSlot().takeExpired(self.clock().Now())
	pc.wipe()
	return nil != pc
}

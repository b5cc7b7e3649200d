package operauth

// DenyReason tells why a principal was not allowed to request a challenge.
type DenyReason int

const (
	ReasonNone = DenyReason(iota)
	ReasonUnknownIdentity
	ReasonNoPublicKey
	ReasonSecureRequired
	ReasonCertMismatch
	ReasonSecureOnlyServer
	ReasonTooManyFailures
	ReasonServerMisconfigured
)

// String returns the reason code used in audit records.
func (self DenyReason) String() string {
	switch self {
	case ReasonUnknownIdentity:
		return "unknown-identity"
	case ReasonNoPublicKey:
		return "no-public-key"
	case ReasonSecureRequired:
		return "secure-required"
	case ReasonCertMismatch:
		return "certfp-mismatch"
	case ReasonSecureOnlyServer:
		return "secure-only-server"
	case ReasonTooManyFailures:
		return "too-many-failures"
	case ReasonServerMisconfigured:
		return "server-misconfigured"
	default:
		return "none"
	}
}

// flag returns the error flag matching the reason.
func (self DenyReason) flag() errorFlag {
	switch self {
	case ReasonSecureRequired, ReasonCertMismatch, ReasonSecureOnlyServer:
		return ErrTransportPolicy
	case ReasonTooManyFailures:
		return ErrProtocolState
	default:
		return ErrConfiguration
	}
}

// ChallengeKind classifies a ChallengeOutcome.
type ChallengeKind int

const (
	ChallengeNotAuthorized = ChallengeKind(iota)
	ChallengeGenerated
	ChallengeCryptoFailure
)

func (self ChallengeKind) String() string {
	switch self {
	case ChallengeGenerated:
		return "generated"
	case ChallengeCryptoFailure:
		return "crypto-failure"
	default:
		return "not-authorized"
	}
}

// ChallengeOutcome is the result of Authenticator.BeginChallenge.
type ChallengeOutcome struct {
	Kind ChallengeKind

	// Reason is set when Kind is ChallengeNotAuthorized.
	Reason DenyReason

	// ChallengeText is set when Kind is ChallengeGenerated.
	ChallengeText string

	err error
}

// Err returns nil if the challenge was generated, otherwise an error wrapping
// ErrConfiguration, ErrTransportPolicy, ErrProtocolState or ErrCrypto.
// Err details are meant for server logs, not for the principal.
func (self ChallengeOutcome) Err() error {
	return self.err
}

func notAuthorized(reason DenyReason, cause error) ChallengeOutcome {
	var err error
	if nil == cause {
		err = newFlagError(reason.flag(), "not authorized, %s", reason)
	} else {
		err = wrapFlagError(reason.flag(), cause, "not authorized, %s", reason)
	}
	return ChallengeOutcome{Kind: ChallengeNotAuthorized, Reason: reason, err: err}
}

// VerifyKind classifies a VerifyOutcome.
type VerifyKind int

const (
	VerifyNotExpecting = VerifyKind(iota)
	VerifyExpired
	VerifyMismatched
	VerifyAuthorizationRevoked
	VerifyGranted
)

func (self VerifyKind) String() string {
	switch self {
	case VerifyExpired:
		return "expired"
	case VerifyMismatched:
		return "mismatched"
	case VerifyAuthorizationRevoked:
		return "authorization-revoked"
	case VerifyGranted:
		return "granted"
	default:
		return "not-expecting"
	}
}

// VerifyOutcome is the result of Authenticator.SubmitResponse.
type VerifyOutcome struct {
	Kind VerifyKind

	// Identity is the granted oper block name, set when Kind is VerifyGranted.
	Identity string

	err error
}

// Granted returns true if the principal proved possession of the operator key.
func (self VerifyOutcome) Granted() bool {
	return VerifyGranted == self.Kind
}

// Err returns nil if the response was granted, otherwise an error wrapping
// ErrProtocolState, ErrConfiguration or ErrTransportPolicy.
func (self VerifyOutcome) Err() error {
	return self.err
}

package opercred

import (
	"strings"
)

// OperCredential is an operator block: it binds an identity name to the user@host
// masks allowed to claim it and to the operator public key.
type OperCredential struct {
	// Name is the operator identity claimed with CHALLENGE <name>.
	Name string `json:"name" cbor:"1,keyasint"`

	// UserHosts lists user@host masks, at least 1 must match the principal.
	// Masks use shell glob syntax, host parts may also be CIDR prefixes.
	UserHosts []string `json:"user_hosts" cbor:"2,keyasint"`

	// Key is the operator public key, zero if PK authentication is disabled.
	Key KeyHandle `json:"key" cbor:"3,keyasint"`

	// RequireSecure is true if the principal must be connected over TLS.
	RequireSecure bool `json:"require_secure,omitempty" cbor:"4,keyasint,omitempty"`

	// CertFP is the expected client certificate fingerprint, hex encoded.
	// It is compared case insensitively, empty disables the check.
	CertFP string `json:"certfp,omitempty" cbor:"5,keyasint,omitempty"`
}

// Check returns an error if the OperCredential is invalid.
func (self *OperCredential) Check() error {
	if nil == self {
		return wrapError(ErrValidation, "nil OperCredential")
	}
	if 0 == len(strings.TrimSpace(self.Name)) {
		return wrapError(ErrValidation, "empty Name")
	}
	if strings.ContainsAny(self.Name, " \r\n") {
		return wrapError(ErrValidation, "Name contains spaces or line breaks")
	}
	if 0 == len(self.UserHosts) {
		return wrapError(ErrValidation, "empty UserHosts")
	}
	for pos, mask := range self.UserHosts {
		if err := checkMask(mask); nil != err {
			return wrapError(err, "invalid UserHosts[%d]", pos)
		}
	}
	for _, c := range self.CertFP {
		if !strings.ContainsRune("0123456789abcdefABCDEF:", c) {
			return wrapError(ErrValidation, "CertFP is not hex encoded")
		}
	}

	return nil
}

// HasPublicKey returns true if PK authentication is enabled for the operator.
func (self *OperCredential) HasPublicKey() bool {
	return nil != self && !self.Key.IsZero()
}

// Scheme returns the challenge scheme of the operator key.
func (self *OperCredential) Scheme() KeyScheme {
	if !self.HasPublicKey() {
		return SchemeNone
	}
	return self.Key.Scheme()
}

// MatchCertFP returns true if fp satisfies the CertFP requirement.
func (self *OperCredential) MatchCertFP(fp string) bool {
	if "" == self.CertFP {
		return true
	}
	return "" != fp && strings.EqualFold(normalizeFP(fp), normalizeFP(self.CertFP))
}

func normalizeFP(fp string) string {
	return strings.ReplaceAll(strings.TrimSpace(fp), ":", "")
}

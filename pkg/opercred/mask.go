package opercred

import (
	"net/netip"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// splitMask returns the user & host parts of a user@host mask.
// A mask without @ matches any user.
func splitMask(mask string) (string, string) {
	user, host, found := strings.Cut(mask, "@")
	if !found {
		return "*", mask
	}
	return user, host
}

func checkMask(mask string) error {
	user, host := splitMask(strings.ToLower(mask))
	if "" == user || "" == host {
		return wrapError(ErrValidation, "empty user or host in mask %q", mask)
	}
	if !doublestar.ValidatePattern(user) || !doublestar.ValidatePattern(host) {
		return wrapError(ErrValidation, "bad glob pattern in mask %q", mask)
	}
	return nil
}

// MatchUserHost returns true if username@host matches mask.
// Matching is case insensitive. CIDR host parts match IP address hosts.
func MatchUserHost(mask, username, host string) bool {
	muser, mhost := splitMask(strings.ToLower(mask))
	ok, err := doublestar.Match(muser, strings.ToLower(username))
	if nil != err || !ok {
		return false
	}

	if prefix, err := netip.ParsePrefix(mhost); nil == err {
		addr, err := netip.ParseAddr(host)
		return nil == err && prefix.Contains(addr.Unmap())
	}

	ok, err = doublestar.Match(mhost, strings.ToLower(host))
	return nil == err && ok
}

// matchAny returns true if 1 of the credential masks matches username at
// origHost or at presentedHost.
func (self *OperCredential) matchAny(username, origHost, presentedHost string) bool {
	for _, mask := range self.UserHosts {
		if MatchUserHost(mask, username, origHost) || MatchUserHost(mask, username, presentedHost) {
			return true
		}
	}
	return false
}

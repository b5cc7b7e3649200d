package server

import (
	"fmt"
)

// reply numerics
const (
	rplWelcome            = 1
	rplYoureOper          = 381
	errUnknownCommand     = 421
	errNoNicknameGiven    = 431
	errErroneusNickname   = 432
	errNotRegistered      = 451
	errNeedMoreParams     = 461
	errAlreadyRegistred   = 462
	errPasswdMismatch     = 464
	errNoOperHost         = 491
	rplRSAChallenge2      = 740
	rplEndOfRSAChallenge2 = 741
)

const (
	maxNickLen       = 31
	maxServerNameLen = 63
)

// numeric formats a ":server NNN target text" reply line.
func numeric(server string, code int, target string, text string) string {
	if "" == target {
		target = "*"
	}
	return fmt.Sprintf(":%s %03d %s %s", server, code, target, text)
}

// notice formats a ":server NOTICE target :text" line.
func notice(server string, target string, text string) string {
	if "" == target {
		target = "*"
	}
	return fmt.Sprintf(":%s NOTICE %s :%s", server, target, text)
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"code.kerpass.org/operchal/internal/observability"
	"code.kerpass.org/operchal/internal/protocols"
	"code.kerpass.org/operchal/internal/transport"
	"code.kerpass.org/operchal/pkg/operauth"
)

type sessionState int

const (
	sUnregistered sessionState = iota
	sRegistered
	sOper
	sClosed
)

// Session is the server side state of a client connection.
// It is a protocols.Protocol and the operauth.Principal of the connection.
type Session struct {
	Id uuid.UUID

	ctx   context.Context
	srv   *Server
	state sessionState

	nick          string
	user          string
	origHost      string
	presentedHost string
	secure        bool
	certfp        string
	oper          string

	slot operauth.Slot
}

// State implements protocols.StateM.
func (self *Session) State() sessionState {
	return self.state
}

// SetState implements protocols.StateM.
func (self *Session) SetState(s sessionState) {
	self.state = s
}

// Oper returns the granted oper block name, or the empty string.
func (self *Session) Oper() string {
	return self.oper
}

// operauth.Principal accessors

func (self *Session) Username() string        { return self.user }
func (self *Session) OrigHost() string        { return self.origHost }
func (self *Session) PresentedHost() string   { return self.presentedHost }
func (self *Session) IsSecure() bool          { return self.secure }
func (self *Session) CertFingerprint() string { return self.certfp }

// ChallengeSlot implements operauth.Principal.
func (self *Session) ChallengeSlot() *operauth.Slot {
	return &self.slot
}

var _ operauth.Principal = &Session{}

// Update implements protocols.Protocol.
func (self *Session) Update(evt protocols.Event) (protocols.Command, error) {
	cmd, err := protocols.Update(self, sessionTransitions[:], evt)
	if errors.Is(err, protocols.ErrNotAllowed) {
		return protocols.Reply(self.numeric(errUnknownCommand, evt.Tag+" :Unknown command")), nil
	}
	return cmd, err
}

var _ protocols.Protocol = &Session{}

var sessionVerbs = []string{"NICK", "USER", "PING", "QUIT", "CHALLENGE"}

var sessionTransitions = [...]protocols.Transition[sessionState, *Session]{
	sUnregistered: {
		Allow: append([]string{protocols.EvtInit, protocols.EvtAbort}, sessionVerbs...),
		Call:  (*Session).onEvent,
		Exit:  []sessionState{sUnregistered, sRegistered, sClosed},
	},
	sRegistered: {
		Allow: append([]string{protocols.EvtAbort}, sessionVerbs...),
		Call:  (*Session).onEvent,
		Exit:  []sessionState{sRegistered, sOper, sClosed},
	},
	sOper: {
		Allow: append([]string{protocols.EvtAbort}, sessionVerbs...),
		Call:  (*Session).onEvent,
		Exit:  []sessionState{sOper, sClosed},
	},
	sClosed: {},
}

func (self *Session) onEvent(evt protocols.Event) (sessionState, protocols.Command, error) {
	switch evt.Tag {
	case protocols.EvtInit:
		return self.state, protocols.Command{Tag: protocols.CmdNoop}, nil
	case "NICK":
		return self.onNick(evt)
	case "USER":
		return self.onUser(evt)
	case "PING":
		return self.state, protocols.Reply(":" + self.srv.Name + " PONG " + self.srv.Name + " :" + evt.Arg(0)), nil
	case "QUIT":
		return sClosed, protocols.Command{
			Tag:   protocols.CmdReturn,
			Lines: []string{"ERROR :Closing Link: " + self.origHost + " (Quit)"},
		}, nil
	case "CHALLENGE":
		return self.onChallenge(evt)
	case protocols.EvtAbort:
		return sClosed, protocols.Command{
			Tag:   protocols.CmdReturn,
			Lines: []string{"ERROR :Closing Link: " + self.origHost + " (Server shutdown)"},
		}, nil
	}
	return self.state, protocols.Command{}, newError("unhandled event %s", evt.Tag)
}

func (self *Session) onNick(evt protocols.Event) (sessionState, protocols.Command, error) {
	nick := evt.Arg(0)
	switch {
	case "" == nick:
		return self.state, protocols.Reply(self.numeric(errNoNicknameGiven, ":No nickname given")), nil
	case !validNick(nick):
		return self.state, protocols.Reply(self.numeric(errErroneusNickname, nick+" :Erroneous Nickname")), nil
	}
	self.nick = nick
	return self.register()
}

func (self *Session) onUser(evt protocols.Event) (sessionState, protocols.Command, error) {
	if sUnregistered != self.state {
		return self.state, protocols.Reply(self.numeric(errAlreadyRegistred, ":You may not reregister")), nil
	}
	if len(evt.Args) < 4 || "" == evt.Arg(0) {
		return self.state, protocols.Reply(self.numeric(errNeedMoreParams, "USER :Not enough parameters")), nil
	}
	self.user = strings.TrimPrefix(evt.Arg(0), "~")
	return self.register()
}

// register completes registration once both NICK & USER were received.
func (self *Session) register() (sessionState, protocols.Command, error) {
	if sUnregistered != self.state || "" == self.nick || "" == self.user {
		return self.state, protocols.Command{Tag: protocols.CmdNoop}, nil
	}
	self.log().Info("session registered", "nick", self.nick, "user", self.user, "secure", self.secure)
	welcome := self.numeric(rplWelcome, ":Welcome "+self.nick+"!"+self.user+"@"+self.presentedHost)
	return sRegistered, protocols.Reply(welcome), nil
}

func (self *Session) onChallenge(evt protocols.Event) (sessionState, protocols.Command, error) {
	arg := evt.Arg(0)
	switch {
	case sUnregistered == self.state:
		return self.state, protocols.Reply(self.numeric(errNotRegistered, ":You have not registered")), nil
	case "" == arg:
		return self.state, protocols.Reply(self.numeric(errNeedMoreParams, "CHALLENGE :Not enough parameters")), nil
	case sOper == self.state:
		return self.state, protocols.Reply(self.numeric(rplYoureOper, ":You are now an IRC operator")), nil
	case strings.HasPrefix(arg, "+"):
		return self.submitResponse(arg[1:])
	default:
		return self.beginChallenge(arg)
	}
}

func (self *Session) beginChallenge(identity string) (sessionState, protocols.Command, error) {
	out := self.srv.Auth.BeginChallenge(self.ctx, self, identity)

	switch out.Kind {
	case operauth.ChallengeGenerated:
		chunks := transport.Fragment(out.ChallengeText, transport.ChallengeLineWidth)
		lines := make([]string, 0, len(chunks)+1)
		for _, chunk := range chunks {
			lines = append(lines, self.numeric(rplRSAChallenge2, ":"+chunk))
		}
		lines = append(lines, self.numeric(rplEndOfRSAChallenge2, ":End of CHALLENGE"))
		return self.state, protocols.Reply(lines...), nil

	case operauth.ChallengeCryptoFailure:
		return self.state, protocols.Reply(self.notice("Failed to generate challenge.")), nil
	}

	switch out.Reason {
	case operauth.ReasonNoPublicKey:
		return self.state, protocols.Reply(self.notice("I'm sorry, PK authentication is not enabled for your oper{} block.")), nil
	case operauth.ReasonTooManyFailures:
		return self.state, protocols.Reply(self.notice("Too many failed CHALLENGE attempts.")), nil
	case operauth.ReasonServerMisconfigured:
		return self.state, protocols.Reply(self.notice("Failed to generate challenge.")), nil
	}
	return self.state, protocols.Reply(self.numeric(errNoOperHost, ":No appropriate operator blocks were found for your host")), nil
}

func (self *Session) submitResponse(response string) (sessionState, protocols.Command, error) {
	vo := self.srv.Auth.SubmitResponse(self.ctx, self, response)

	switch vo.Kind {
	case operauth.VerifyGranted:
		self.oper = vo.Identity
		self.log().Info("oper granted", "oper", vo.Identity, "nick", self.nick)
		return sOper, protocols.Reply(self.numeric(rplYoureOper, ":You are now an IRC operator")), nil
	case operauth.VerifyExpired, operauth.VerifyMismatched:
		return self.state, protocols.Reply(self.numeric(errPasswdMismatch, ":Password Incorrect")), nil
	case operauth.VerifyAuthorizationRevoked:
		return self.state, protocols.Reply(self.numeric(errNoOperHost, ":No appropriate operator blocks were found for your host")), nil
	}

	// no challenge pending
	return self.state, protocols.Command{Tag: protocols.CmdNoop}, nil
}

func (self *Session) numeric(code int, text string) string {
	return numeric(self.srv.Name, code, self.nick, text)
}

func (self *Session) notice(text string) string {
	return notice(self.srv.Name, self.nick, text)
}

func (self *Session) log() *slog.Logger {
	return observability.Logger(self.ctx)
}

func validNick(nick string) bool {
	if len(nick) > maxNickLen || strings.ContainsAny(nick, " ,*?!@:.") {
		return false
	}
	return !strings.ContainsAny(nick[:1], "0123456789-#&$+")
}

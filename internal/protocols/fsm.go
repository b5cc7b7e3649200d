package protocols

import (
	"slices"
)

type selector interface {
	~int
}

// StateM is a state machine whose state is selected by a Sel value.
type StateM[Sel selector] interface {
	State() Sel
	SetState(s Sel)
}

type TransitionFunc[Sel selector, S StateM[Sel]] func(s S, evt Event) (Sel, Command, error)

// Transition describes how a state handles events.
// Allow lists the accepted Event tags and Exit the states Call may select.
type Transition[Sel selector, S StateM[Sel]] struct {
	Allow []string
	Call  TransitionFunc[Sel, S]
	Exit  []Sel
}

// Update passes evt to the Transition of s current state.
//
// It errors with ErrNotAllowed if the current state does not accept evt, in which
// case s state is left unchanged.
func Update[Sel selector, S StateM[Sel]](s S, trs []Transition[Sel, S], evt Event) (cmd Command, err error) {
	sel := s.State()
	if sel < 0 || int(sel) >= len(trs) {
		return cmd, newError("invalid inner state %d", sel)
	}

	tr := trs[int(sel)]
	if !slices.Contains(tr.Allow, evt.Tag) {
		return cmd, newFlagError(ErrNotAllowed, "event %s not allowed in state %d", evt.Tag, sel)
	}

	if nil != tr.Call {
		sel, cmd, err = tr.Call(s, evt)
	}

	if !slices.Contains(tr.Exit, sel) {
		return cmd, newError("exit %d not allowed", sel)
	}

	s.SetState(sel)

	return cmd, err
}

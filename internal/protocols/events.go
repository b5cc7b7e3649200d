package protocols

import (
	"strings"
)

const (
	EvtInit = "Init"

	// EvtAbort is sent by Run when its context is done.
	EvtAbort = "Abort"
)

// Event contains "incoming" data processed by a ProtocolFSM.
// Line protocol events are tagged with the upper cased command verb.
type Event struct {
	Tag  string
	Args []string
}

// Init returns an EvtInit Event used to initialize a ProtocolFSM.
func Init() Event {
	return Event{Tag: EvtInit}
}

// Arg returns the pos-th argument of the Event or the empty string.
func (self Event) Arg(pos int) string {
	if pos < 0 || pos >= len(self.Args) {
		return ""
	}
	return self.Args[pos]
}

// ParseLine reads a protocol line of form "[:prefix] VERB arg1 arg2 :trailing arg".
// The prefix is ignored. It errors if the line holds no verb.
func ParseLine(line string) (Event, error) {
	line = strings.TrimLeft(line, " ")
	if strings.HasPrefix(line, ":") {
		_, line, _ = strings.Cut(line, " ")
		line = strings.TrimLeft(line, " ")
	}

	var trailing string
	var hasTrailing bool
	if pos := strings.Index(line, " :"); pos >= 0 {
		trailing = line[pos+2:]
		line = line[:pos]
		hasTrailing = true
	}

	fields := strings.Fields(line)
	if 0 == len(fields) {
		return Event{}, newError("empty line")
	}

	evt := Event{Tag: strings.ToUpper(fields[0]), Args: fields[1:]}
	if hasTrailing {
		evt.Args = append(evt.Args, trailing)
	}

	return evt, nil
}

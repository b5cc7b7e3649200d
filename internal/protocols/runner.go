package protocols

import (
	"context"
	"errors"

	"code.kerpass.org/operchal/internal/transport"
)

// Run synchronously runs protocol p writing/reading lines to/from transport t.
//
// Oversized or unparsable lines are skipped. It returns when p.Update
// returns a Command with CmdReturn Tag, when ctx is done or when an error happens.
// Normal completion returns an error wrapping OK, use IsError to detect failures.
func Run(ctx context.Context, p Protocol, t transport.Transport) error {
	var cmd Command
	var err error
	evt := Init()

	for {
		cmd, err = p.Update(evt)
		if nil != err {
			return wrapError(err, "failed protocol Update")
		}
		for _, line := range cmd.Lines {
			err = t.WriteLine(line)
			if nil != err {
				return wrapError(err, "failed transport WriteLine")
			}
		}
		if CmdReturn == cmd.Tag {
			return newFlagError(OK, "protocol returned")
		}

		evt = Event{}
		for "" == evt.Tag {
			if nil != ctx.Err() {
				return abort(ctx, p, t)
			}
			line, err := t.ReadLine()
			if errors.Is(err, transport.LineTooLongError) {
				continue
			}
			if nil != err {
				if nil != ctx.Err() {
					// ctx cancellation may be what interrupted ReadLine
					return abort(ctx, p, t)
				}
				return wrapError(err, "failed transport ReadLine")
			}
			evt, err = ParseLine(line)
			if nil != err {
				evt = Event{}
			}
		}
	}
}

// abort sends EvtAbort to p and writes the resulting lines on a best effort basis.
func abort(ctx context.Context, p Protocol, t transport.Transport) error {
	cmd, err := p.Update(Event{Tag: EvtAbort})
	if nil == err {
		for _, line := range cmd.Lines {
			if nil != t.WriteLine(line) {
				break
			}
		}
	}
	return wrapFlagError(OK, context.Cause(ctx), "protocol aborted")
}

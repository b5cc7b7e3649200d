package protocols

const (
	CmdReply  = "Reply"  // used to write lines to transport.
	CmdReturn = "Return" // used to write final lines and end the Protocol.
	CmdNoop   = "Noop"   // used to wait for the next transport line.
)

// Command describes the IO operation awaited by a running Protocol.
type Command struct {
	Tag   string
	Lines []string
}

// Reply returns a CmdReply Command writing lines.
func Reply(lines ...string) Command {
	return Command{Tag: CmdReply, Lines: lines}
}

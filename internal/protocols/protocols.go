package protocols

// Protocol is updated with the Event read from a transport and returns the
// Command to execute.
type Protocol interface {
	Update(evt Event) (Command, error)
}

package chat

// streamDeltaMsg carries one streamed content chunk into the Update loop.
type streamDeltaMsg struct {
	Gen     uint64
	Content string
}

// turnDoneMsg signals that the in-flight turn finished.
type turnDoneMsg struct {
	Gen   uint64
	Reply string
	Err   error
}

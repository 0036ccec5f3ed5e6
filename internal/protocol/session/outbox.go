package session

// PendingCall is one call issued before the channel was ready.
type PendingCall struct {
	Method   string
	Payload  any
	Consumer Consumer
}

// Outbox buffers pending calls in insertion order until the handshake
// completes.
type Outbox struct {
	items []PendingCall
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Push(call PendingCall) {
	o.items = append(o.items, call)
}

// Drain removes and returns every pending call, oldest first.
func (o *Outbox) Drain() []PendingCall {
	out := o.items
	o.items = nil
	return out
}

func (o *Outbox) Len() int {
	return len(o.items)
}

// List returns a copy of the pending calls, oldest first.
func (o *Outbox) List() []PendingCall {
	out := make([]PendingCall, len(o.items))
	copy(out, o.items)
	return out
}

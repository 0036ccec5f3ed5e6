package session

import "fmt"

// Phase is the readiness of the channel.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseAwaitingHandshake
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseAwaitingHandshake:
		return "awaiting_handshake"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the observable channel state. ParentOrigin is set exactly once,
// on entry into PhaseReady. NextID starts at 1 and only grows.
type State struct {
	Phase        Phase
	ParentOrigin string
	NextID       int64
}

func initialState() State {
	return State{Phase: PhaseUninitialized, NextID: 1}
}

package session

import (
	"time"

	"github.com/danmuck/blockbridge/internal/origin"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
)

// Drop reasons. They are recorded locally only and never sent to a peer.
const (
	DropNotOpened       = "channel not opened"
	DropHandshakeOrigin = "handshake origin rejected"
	DropHandshakeRepin  = "handshake origin differs from pinned origin"
	DropCloseOrigin     = "close origin rejected"
	DropNotReady        = "response before handshake"
	DropSenderMismatch  = "response sender differs from pinned origin"
)

// Effect is one action the owner of a Machine must perform, in order.
type Effect interface {
	effect()
}

// Post sends Message to Target, which is wire.TargetAny only for the probe.
type Post struct {
	Message wire.Message
	Target  string
}

// Deliver hands Result to Consumer.
type Deliver struct {
	Consumer Consumer
	Result   Result
}

// Close runs the registered close handler.
type Close struct{}

// Drop records a silently discarded inbound message.
type Drop struct {
	Reason string
	Sender string
	Origin string
}

func (Post) effect() {}
func (Deliver) effect() {}
func (Close) effect() {}
func (Drop) effect() {}

// Machine is the channel protocol state. It is not safe for concurrent use;
// callers serialize access.
type Machine struct {
	state     State
	validator *origin.Validator
	limits    Limits
	outbox    *Outbox
	inflight  *InFlight
	now       func() time.Time
}

// NewMachine builds a machine; limits are resolved with Limits.WithDefaults.
func NewMachine(validator *origin.Validator, limits Limits) *Machine {
	limits = limits.WithDefaults()
	return &Machine{
		state:     initialState(),
		validator: validator,
		limits:    limits,
		outbox:    NewOutbox(),
		inflight:  NewInFlight(limits.MaxInFlight),
		now:       time.Now,
	}
}

// SetClock replaces the time source used to stamp dispatched calls.
func (m *Machine) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) PendingLen() int {
	return m.outbox.Len()
}

func (m *Machine) InFlightLen() int {
	return m.inflight.Len()
}

// Open moves a fresh machine to PhaseAwaitingHandshake and emits the probe.
// The parent origin is unknown, so the probe is unrestricted.
func (m *Machine) Open(selfOrigin string, init any) []Effect {
	if m.state.Phase != PhaseUninitialized {
		return nil
	}
	m.state.Phase = PhaseAwaitingHandshake
	return []Effect{Post{
		Message: wire.Handshake(selfOrigin, init),
		Target:  wire.TargetAny,
	}}
}

// Call queues the call until ready, or dispatches it to the pinned origin.
func (m *Machine) Call(method string, payload any, consumer Consumer) []Effect {
	if m.state.Phase != PhaseReady {
		m.outbox.Push(PendingCall{Method: method, Payload: payload, Consumer: consumer})
		return nil
	}
	return m.dispatch(method, payload, consumer)
}

func (m *Machine) dispatch(method string, payload any, consumer Consumer) []Effect {
	id := m.state.NextID
	m.state.NextID++

	effects := []Effect{Post{
		Message: wire.Message{Method: method, Payload: payload, ID: id},
		Target:  m.state.ParentOrigin,
	}}
	if consumer == nil {
		return effects
	}
	if evicted, ok := m.inflight.Register(id, consumer, m.now()); ok {
		effects = append(effects, Deliver{
			Consumer: evicted.Consumer,
			Result:   Result{Kind: ResultEvicted, ID: evicted.ID},
		})
	}
	return effects
}

// Receive classifies one inbound message from sender.
func (m *Machine) Receive(sender string, msg wire.Message) []Effect {
	switch msg.Method {
	case wire.MethodHandshake:
		return m.handshake(sender, msg)
	case wire.MethodCloseBlock:
		return m.closeBlock(sender, msg)
	default:
		return m.response(sender, msg)
	}
}

func (m *Machine) handshake(sender string, msg wire.Message) []Effect {
	if m.state.Phase == PhaseUninitialized {
		return drop(DropNotOpened, sender, msg)
	}
	if !m.validator.Allow(msg.Origin) {
		return drop(DropHandshakeOrigin, sender, msg)
	}
	if m.state.Phase == PhaseReady {
		if msg.Origin == m.state.ParentOrigin {
			return nil
		}
		return drop(DropHandshakeRepin, sender, msg)
	}

	m.state.ParentOrigin = msg.Origin
	m.state.Phase = PhaseReady

	var effects []Effect
	for _, call := range m.outbox.Drain() {
		effects = append(effects, m.dispatch(call.Method, call.Payload, call.Consumer)...)
	}
	return effects
}

func (m *Machine) closeBlock(sender string, msg wire.Message) []Effect {
	if !m.validator.Allow(msg.Origin) {
		return drop(DropCloseOrigin, sender, msg)
	}
	effects := []Effect{Close{}}
	return append(effects, m.Call(wire.MethodBlockReadyToClose, nil, nil)...)
}

func (m *Machine) response(sender string, msg wire.Message) []Effect {
	if m.state.Phase != PhaseReady {
		return drop(DropNotReady, sender, msg)
	}
	if sender != m.state.ParentOrigin {
		return drop(DropSenderMismatch, sender, msg)
	}
	consumer, ok := m.inflight.Resolve(msg.ID)
	if !ok {
		return nil
	}
	return []Effect{Deliver{
		Consumer: consumer,
		Result:   Result{Kind: ResultResponse, ID: msg.ID, Payload: msg.Payload},
	}}
}

// Expire resolves calls older than the configured TTL.
func (m *Machine) Expire(now time.Time) []Effect {
	if m.limits.CallTTL <= 0 {
		return nil
	}
	var effects []Effect
	for _, entry := range m.inflight.ExpireBefore(now.Add(-m.limits.CallTTL)) {
		effects = append(effects, Deliver{
			Consumer: entry.Consumer,
			Result:   Result{Kind: ResultExpired, ID: entry.ID},
		})
	}
	return effects
}

func drop(reason, sender string, msg wire.Message) []Effect {
	return []Effect{Drop{Reason: reason, Sender: sender, Origin: msg.Origin}}
}

// Package block is the embedded-document runtime: it owns one session
// Machine, applies its effects to a Transport, and exposes the named host
// operations.
package block

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/blockbridge/internal/observability"
	"github.com/danmuck/blockbridge/internal/origin"
	"github.com/danmuck/blockbridge/internal/protocol/session"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var ErrSelfOriginRequired = errors.New("block: self origin required")

// Transport delivers one outbound message. target is wire.TargetAny or the
// exact origin the message may be delivered to.
type Transport interface {
	Post(msg wire.Message, target string) error
}

// Config configures one block channel.
type Config struct {
	SelfOrigin  string
	Whitelist   []string
	SSLOptional bool
	Init        any
	Limits      session.Limits
	SweepEvery  time.Duration
	OnClose     func()
}

func DefaultConfig() Config {
	return Config{
		Whitelist:  origin.DefaultPatterns(),
		Limits:     session.DefaultLimits(),
		SweepEvery: time.Second,
	}
}

// Channel is the block end of the channel. All methods are safe for
// concurrent use. Transitions are serialized and their effects join one
// queue that a single goroutine drains in order, with the lock released
// while each effect runs. Consumers and the close handler may call back
// into the channel; effects they cause run after the ones already queued.
type Channel struct {
	cfg       Config
	transport Transport

	mu       sync.Mutex
	machine  *session.Machine
	queue    []session.Effect
	draining bool
}

// New validates cfg, opens the channel and sends the handshake probe. A
// transport failure on the probe is logged and otherwise ignored: the channel
// simply never becomes ready.
func New(cfg Config, transport Transport) (*Channel, error) {
	if strings.TrimSpace(cfg.SelfOrigin) == "" {
		return nil, ErrSelfOriginRequired
	}
	if cfg.Whitelist == nil {
		cfg.Whitelist = origin.DefaultPatterns()
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Second
	}
	validator, err := origin.Compile(origin.Whitelist{Patterns: cfg.Whitelist, SSLOptional: cfg.SSLOptional})
	if err != nil {
		return nil, err
	}
	c := &Channel{
		cfg:       cfg,
		transport: transport,
		machine:   session.NewMachine(validator, cfg.Limits),
	}
	c.transition(func(m *session.Machine) []session.Effect {
		return m.Open(cfg.SelfOrigin, initPayload(cfg.Init, cfg.OnClose != nil))
	})
	return c, nil
}

// initPayload marks a map init payload with onEditClose when a close
// handler is registered, telling the host the block accepts closeBlock.
// A nil payload becomes such a map; other payloads pass unchanged.
func initPayload(init any, onEditClose bool) any {
	if !onEditClose {
		return init
	}
	switch v := init.(type) {
	case nil:
		return map[string]any{wire.InitOnEditClose: true}
	case map[string]any:
		out := make(map[string]any, len(v)+1)
		for k, val := range v {
			out[k] = val
		}
		out[wire.InitOnEditClose] = true
		return out
	default:
		return init
	}
}

// Call issues method with payload. consumer may be nil for fire-and-forget
// calls. Before the handshake completes the call is queued.
func (c *Channel) Call(method string, payload any, consumer session.Consumer) {
	var queued bool
	c.transition(func(m *session.Machine) []session.Effect {
		queued = m.State().Phase != session.PhaseReady
		observability.RecordCall(method, queued)
		if queued {
			log.Debug().Str("method", method).Msg("block.Channel.Call queued before handshake")
		}
		return m.Call(method, payload, consumer)
	})
}

// Receive is the transport's inbound hook. sender is the origin the
// transport observed for the message.
func (c *Channel) Receive(sender string, msg wire.Message) {
	c.transition(func(m *session.Machine) []session.Effect {
		before := m.State().Phase
		effects := m.Receive(sender, msg)
		if after := m.State(); before != session.PhaseReady && after.Phase == session.PhaseReady {
			log.Info().Str("parent_origin", after.ParentOrigin).Msg("block.Channel handshake complete")
		}
		return effects
	})
}

// Sweep expires calls older than the configured call TTL.
func (c *Channel) Sweep(now time.Time) {
	c.transition(func(m *session.Machine) []session.Effect {
		return m.Expire(now)
	})
}

// Run sweeps expired calls until ctx is done. It returns immediately when no
// call TTL is configured.
func (c *Channel) Run(ctx context.Context) error {
	if c.cfg.Limits.CallTTL <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}

func (c *Channel) Phase() session.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State().Phase
}

func (c *Channel) Ready() bool {
	return c.Phase() == session.PhaseReady
}

// ParentOrigin returns the pinned host origin, empty until ready.
func (c *Channel) ParentOrigin() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State().ParentOrigin
}

func (c *Channel) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.PendingLen()
}

func (c *Channel) InFlightLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.InFlightLen()
}

// transition runs step on the machine under the lock and queues its effects.
// If no other goroutine is draining, this one drains the queue until it is
// empty; otherwise it returns and the active drainer applies them.
func (c *Channel) transition(step func(m *session.Machine) []session.Effect) {
	c.mu.Lock()
	c.queue = append(c.queue, step(c.machine)...)
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	drained := false
	defer func() {
		// A panicking effect must not leave the queue without a drainer.
		if !drained {
			c.mu.Lock()
			c.draining = false
			c.mu.Unlock()
		}
	}()
	for len(c.queue) > 0 {
		effect := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.apply(effect)
		c.mu.Lock()
	}
	c.draining = false
	drained = true
	c.mu.Unlock()
}

func (c *Channel) apply(effect session.Effect) {
	switch e := effect.(type) {
	case session.Post:
		c.post(e)
	case session.Deliver:
		observability.RecordResult(e.Result.Kind.String())
		if e.Result.Kind != session.ResultResponse {
			log.Warn().
				Int64("id", e.Result.ID).
				Str("result", e.Result.Kind.String()).
				Msg("block.Channel call resolved without response")
		}
		e.Consumer(e.Result)
	case session.Close:
		if c.cfg.OnClose != nil {
			c.cfg.OnClose()
		}
	case session.Drop:
		observability.RecordDrop(e.Reason)
		log.Debug().
			Str("reason", e.Reason).
			Str("sender", e.Sender).
			Str("claimed_origin", e.Origin).
			Msg("block.Channel dropped inbound message")
	}
}

func (c *Channel) post(p session.Post) {
	if c.transport == nil {
		return
	}
	if err := c.transport.Post(p.Message, p.Target); err != nil {
		log.Warn().
			Str("method", p.Message.Method).
			Int64("id", p.Message.ID).
			Str("target", p.Target).
			Err(err).
			Msg("block.Channel post failed")
	}
}

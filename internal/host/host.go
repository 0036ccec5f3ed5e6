// Package host is the hosting-document half of the channel protocol. It
// answers block handshakes, serves the named operations from a Store, and
// asks blocks to close.
package host

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/blockbridge/internal/observability"
	"github.com/danmuck/blockbridge/internal/origin"
	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrOriginRequired = errors.New("host: origin required")
	ErrBlockNotFound  = errors.New("host: block not found")
	ErrCloseNotWanted = errors.New("host: block did not register a close handler")
)

// Port is the host's view of one block connection.
type Port interface {
	PeerOrigin() string
	Post(msg wire.Message, target string) error
	Serve(ctx context.Context, handle func(sender string, msg wire.Message)) error
}

// Config configures a host.
type Config struct {
	Name   string
	Origin string
	// BlockWhitelist limits which block origins may connect. Empty allows any.
	BlockWhitelist []string
	SSLOptional    bool
	Seed           Seed
}

// BlockInfo is a snapshot of one connected block.
type BlockInfo struct {
	ID          uint64    `json:"id"`
	Origin      string    `json:"origin"`
	Handshaken  bool      `json:"handshaken"`
	Init        any       `json:"init,omitempty"`
	OnEditClose bool      `json:"on_edit_close"`
	CloseAcks   int       `json:"close_acks"`
	Calls       int       `json:"calls"`
	ConnectedAt time.Time `json:"connected_at"`
}

type blockConn struct {
	info BlockInfo
	port Port
}

// Host serves any number of blocks from one Store.
type Host struct {
	cfg       Config
	store     *Store
	validator *origin.Validator

	seq    atomic.Uint64
	mu     sync.RWMutex
	blocks map[uint64]*blockConn
}

func New(cfg Config) (*Host, error) {
	if strings.TrimSpace(cfg.Origin) == "" {
		return nil, ErrOriginRequired
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "blockhost"
	}
	h := &Host{
		cfg:    cfg,
		store:  NewStore(cfg.Seed),
		blocks: make(map[uint64]*blockConn),
	}
	if len(cfg.BlockWhitelist) > 0 {
		v, err := origin.Compile(origin.Whitelist{Patterns: cfg.BlockWhitelist, SSLOptional: cfg.SSLOptional})
		if err != nil {
			return nil, err
		}
		h.validator = v
	}
	return h, nil
}

func (h *Host) Name() string {
	return h.cfg.Name
}

func (h *Host) Origin() string {
	return h.cfg.Origin
}

func (h *Host) Store() *Store {
	return h.store
}

// AllowBlock reports whether a block origin may connect.
func (h *Host) AllowBlock(blockOrigin string) bool {
	if strings.TrimSpace(blockOrigin) == "" {
		return false
	}
	if h.validator == nil {
		return true
	}
	return h.validator.Allow(blockOrigin)
}

// Serve handles one block connection until it ends.
func (h *Host) Serve(ctx context.Context, port Port) error {
	bc := &blockConn{
		info: BlockInfo{
			ID:          h.seq.Add(1),
			Origin:      port.PeerOrigin(),
			ConnectedAt: time.Now(),
		},
		port: port,
	}
	h.mu.Lock()
	h.blocks[bc.info.ID] = bc
	active := len(h.blocks)
	h.mu.Unlock()
	log.Info().
		Uint64("block_id", bc.info.ID).
		Str("block_origin", bc.info.Origin).
		Int("active_blocks", active).
		Msg("host.Serve block connected")

	defer func() {
		h.mu.Lock()
		delete(h.blocks, bc.info.ID)
		remaining := len(h.blocks)
		h.mu.Unlock()
		log.Info().
			Uint64("block_id", bc.info.ID).
			Int("active_blocks", remaining).
			Msg("host.Serve block disconnected")
	}()

	return port.Serve(ctx, func(sender string, msg wire.Message) {
		h.handle(bc, sender, msg)
	})
}

func (h *Host) handle(bc *blockConn, sender string, msg wire.Message) {
	switch msg.Method {
	case wire.MethodHandshake:
		h.mu.Lock()
		bc.info.Handshaken = true
		bc.info.Init = msg.Payload
		bc.info.OnEditClose = wantsClose(msg.Payload)
		h.mu.Unlock()
		observability.RecordHostMessage(msg.Method, "ok")
		h.post(bc, wire.Handshake(h.cfg.Origin, nil))
		return
	case wire.MethodBlockReadyToClose:
		h.mu.Lock()
		bc.info.CloseAcks++
		h.mu.Unlock()
		observability.RecordHostMessage(msg.Method, "ok")
		h.post(bc, wire.Response(msg.ID, nil))
		return
	}

	result, ok := h.store.Handle(msg.Method, msg.Payload)
	if !ok {
		observability.RecordHostMessage(msg.Method, "unknown")
		log.Warn().
			Uint64("block_id", bc.info.ID).
			Str("method", msg.Method).
			Int64("id", msg.ID).
			Msg("host.handle unknown method")
		return
	}
	h.mu.Lock()
	bc.info.Calls++
	h.mu.Unlock()
	observability.RecordHostMessage(msg.Method, "ok")
	h.post(bc, wire.Response(msg.ID, result))
}

func (h *Host) post(bc *blockConn, msg wire.Message) {
	if err := bc.port.Post(msg, bc.info.Origin); err != nil {
		log.Warn().
			Uint64("block_id", bc.info.ID).
			Str("method", msg.Method).
			Err(err).
			Msg("host.post failed")
	}
}

// RequestClose asks one block (id > 0) or every block (id == 0) to close.
// Only blocks whose handshake set onEditClose are asked; asking such a block
// by id fails with ErrCloseNotWanted. It returns how many blocks were asked.
func (h *Host) RequestClose(id uint64) (int, error) {
	h.mu.RLock()
	var targets []*blockConn
	found := false
	for _, bc := range h.blocks {
		if id != 0 && bc.info.ID != id {
			continue
		}
		found = true
		if !bc.info.OnEditClose {
			log.Debug().
				Uint64("block_id", bc.info.ID).
				Msg("host.RequestClose skipped block without close handler")
			continue
		}
		targets = append(targets, bc)
	}
	h.mu.RUnlock()
	if id != 0 {
		if !found {
			return 0, ErrBlockNotFound
		}
		if len(targets) == 0 {
			return 0, ErrCloseNotWanted
		}
	}
	for _, bc := range targets {
		h.post(bc, wire.CloseBlock(h.cfg.Origin))
	}
	return len(targets), nil
}

func wantsClose(init any) bool {
	m, ok := init.(map[string]any)
	if !ok {
		return false
	}
	v, _ := m[wire.InitOnEditClose].(bool)
	return v
}

// Blocks returns connected blocks ordered by id.
func (h *Host) Blocks() []BlockInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]BlockInfo, 0, len(h.blocks))
	for _, bc := range h.blocks {
		out = append(out, bc.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

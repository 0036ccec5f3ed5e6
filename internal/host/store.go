package host

import (
	"sync"

	"github.com/danmuck/blockbridge/internal/block"
)

// Seed is the initial editor state a host exposes to blocks.
type Seed struct {
	Content      string
	SuperContent string
	Data         map[string]any
	CentralData  map[string]any
	UserData     map[string]any
	View         string
	EditorWidth  int
}

type storeOp struct {
	field string
	set   bool
}

var storeOps = map[string]storeOp{
	block.MethodGetCentralData:      {field: "centralData"},
	block.MethodSetCentralData:      {field: "centralData", set: true},
	block.MethodGetContent:          {field: "content"},
	block.MethodSetContent:          {field: "content", set: true},
	block.MethodSetSuperContent:     {field: "superContent", set: true},
	block.MethodGetData:             {field: "data"},
	block.MethodSetData:             {field: "data", set: true},
	block.MethodGetUserData:         {field: "userData"},
	block.MethodGetView:             {field: "view"},
	block.MethodSetBlockEditorWidth: {field: "editorWidth", set: true},
}

// Store is the in-memory editor state shared by every block on a host.
type Store struct {
	mu     sync.RWMutex
	fields map[string]any
}

func NewStore(seed Seed) *Store {
	return &Store{
		fields: map[string]any{
			"content":      seed.Content,
			"superContent": seed.SuperContent,
			"data":         nonNilMap(seed.Data),
			"centralData":  nonNilMap(seed.CentralData),
			"userData":     nonNilMap(seed.UserData),
			"view":         seed.View,
			"editorWidth":  seed.EditorWidth,
		},
	}
}

// Handle runs one named operation. Setters store payload and echo it back.
func (s *Store) Handle(method string, payload any) (any, bool) {
	op, ok := storeOps[method]
	if !ok {
		return nil, false
	}
	if op.set {
		s.mu.Lock()
		s.fields[op.field] = payload
		s.mu.Unlock()
		return payload, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields[op.field], true
}

// Snapshot returns a shallow copy of every field.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

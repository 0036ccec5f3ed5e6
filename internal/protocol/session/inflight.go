package session

import (
	"container/list"
	"time"
)

// Entry is one dispatched call awaiting its reply.
type Entry struct {
	ID       int64
	Consumer Consumer
	IssuedAt time.Time
}

// InFlight correlates dispatched call ids to their consumers. Entries are
// kept in issue order so the oldest can be evicted or expired first.
type InFlight struct {
	max   int
	order *list.List
	byID  map[int64]*list.Element
}

// NewInFlight returns a table holding at most max entries. max <= 0 means
// unbounded.
func NewInFlight(max int) *InFlight {
	return &InFlight{
		max:   max,
		order: list.New(),
		byID:  make(map[int64]*list.Element),
	}
}

// Register stores consumer under id. When the table is full the oldest entry
// is removed and returned.
func (t *InFlight) Register(id int64, consumer Consumer, at time.Time) (Entry, bool) {
	var evicted Entry
	var ok bool
	if t.max > 0 && t.order.Len() >= t.max {
		if front := t.order.Front(); front != nil {
			evicted = t.remove(front)
			ok = true
		}
	}
	t.byID[id] = t.order.PushBack(Entry{ID: id, Consumer: consumer, IssuedAt: at})
	return evicted, ok
}

// Resolve removes and returns the consumer for id.
func (t *InFlight) Resolve(id int64) (Consumer, bool) {
	el, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	entry := t.remove(el)
	return entry.Consumer, true
}

// ExpireBefore removes every entry issued at or before cutoff, oldest first.
func (t *InFlight) ExpireBefore(cutoff time.Time) []Entry {
	var out []Entry
	for el := t.order.Front(); el != nil; el = t.order.Front() {
		entry := el.Value.(Entry)
		if entry.IssuedAt.After(cutoff) {
			break
		}
		out = append(out, t.remove(el))
	}
	return out
}

func (t *InFlight) Has(id int64) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *InFlight) Len() int {
	return t.order.Len()
}

func (t *InFlight) remove(el *list.Element) Entry {
	entry := t.order.Remove(el).(Entry)
	delete(t.byID, entry.ID)
	return entry
}

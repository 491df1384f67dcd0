// Package flight provides the abort-then-replace primitive shared by preview
// lookups and job submissions: at most one request is in flight per Slot, and
// starting a new one cancels its predecessor.
package flight

import (
	"context"
	"sync"
)

// Request kinds sharing a session slot.
const (
	KindPreview = "preview"
	KindSubmit  = "submit"
)

// Slot holds at most one in-flight request.
type Slot struct {
	mu     sync.Mutex
	seq    uint64
	key    string
	kind   string
	cancel context.CancelFunc
}

// Ticket identifies one request started through a Slot.
type Ticket struct {
	slot *Slot
	seq  uint64
	// Key is the value the request was issued for (typically the URL).
	Key string
	// Kind labels the request ("preview", "submit") for diagnostics.
	Kind string
}

// Begin cancels the current request, if any, and starts a new one derived
// from parent. The returned context is cancelled when a later Begin or Abort
// supersedes it, or when the ticket is released.
func (s *Slot) Begin(parent context.Context, kind, key string) (context.Context, *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked(parent, kind, key)
}

// TryBegin is Begin unless a request of the same kind is already in flight,
// in which case it returns ok=false and leaves that request running.
func (s *Slot) TryBegin(parent context.Context, kind, key string) (ctx context.Context, t *Ticket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil && s.kind == kind {
		return nil, nil, false
	}
	ctx, t = s.beginLocked(parent, kind, key)
	return ctx, t, true
}

func (s *Slot) beginLocked(parent context.Context, kind, key string) (context.Context, *Ticket) {
	ctx, cancel := context.WithCancel(parent)
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	s.key = key
	s.kind = kind
	s.cancel = cancel
	return ctx, &Ticket{slot: s, seq: s.seq, Key: key, Kind: kind}
}

// Abort cancels the in-flight request without starting another.
func (s *Slot) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
	s.key = ""
	s.kind = ""
}

// Busy reports whether a request of the given kind is in flight. An empty kind
// matches any request.
func (s *Slot) Busy(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil && (kind == "" || s.kind == kind)
}

// Current reports whether t is still the latest request of its slot.
func (t *Ticket) Current() bool {
	if t == nil || t.slot == nil {
		return false
	}
	t.slot.mu.Lock()
	defer t.slot.mu.Unlock()
	return t.slot.seq == t.seq
}

// Release ends the request. It is safe to call after the ticket was superseded.
func (t *Ticket) Release() {
	if t == nil || t.slot == nil {
		return
	}
	s := t.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != t.seq || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.key = ""
	s.kind = ""
}

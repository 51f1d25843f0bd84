// Package errsink keeps a bounded trail of worker errors for the query
// surface. Workers record transient faults here instead of failing the
// process; the oldest entries are evicted past the cap.
package errsink

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the trail.
const DefaultCapacity = 200

// Entry is one recorded error.
type Entry struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

// Sink is a bounded append-only error trail.
type Sink struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// New creates a sink with the given capacity (DefaultCapacity if cap <= 0).
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{cap: capacity}
}

// Record appends an error, evicting the oldest entry when full.
func (s *Sink) Record(source string, err error) {
	if err == nil {
		return
	}
	s.RecordMessage(source, err.Error())
}

// RecordMessage appends a pre-formatted error message.
func (s *Sink) RecordMessage(source, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{Source: source, Message: msg, TS: time.Now().UnixMilli()})
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
}

// Entries returns a copy of the trail, oldest first.
func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

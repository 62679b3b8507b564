// Package logbuffer keeps the most recent activity lines shown to the user.
package logbuffer

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of lines kept by the controller
const DefaultCapacity = 10

// TimeLayout is the timestamp prefix of each line (HH:MM:SS)
const TimeLayout = "15:04:05"

// Buffer is a capped, newest-first list of "HH:MM:SS - message" lines.
// It is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []string // entries[0] is the newest
	now      func() time.Time
}

// Option configures a Buffer
type Option func(*Buffer)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a buffer holding at most capacity lines.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		capacity: capacity,
		entries:  make([]string, 0, capacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add prepends a timestamped line, evicting the oldest when full, and
// returns the line as stored.
func (b *Buffer) Add(message string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := b.now().Format(TimeLayout) + " - " + message

	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, "")
	}
	copy(b.entries[1:], b.entries[:len(b.entries)-1])
	b.entries[0] = line
	return line
}

// Entries returns a copy of the lines, newest first
func (b *Buffer) Entries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.entries...)
}

// Len returns the number of lines held
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Cap returns the maximum number of lines held
func (b *Buffer) Cap() int {
	return b.capacity
}

package control

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultScratchCapacity bounds the size of any single encoded command.
const DefaultScratchCapacity = 1024

// Scratch is one fixed-capacity region reused for every outgoing command.
// At most one Lease is live at a time.
type Scratch struct {
	mu  sync.Mutex
	buf []byte
}

func NewScratch(capacity int) (*Scratch, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Scratch{buf: make([]byte, capacity)}, nil
}

func (s *Scratch) Capacity() int {
	return len(s.buf)
}

// Acquire blocks until the region is free and returns exclusive write access.
func (s *Scratch) Acquire() *Lease {
	s.mu.Lock()
	return &Lease{s: s}
}

// TryAcquire is Acquire without waiting.
func (s *Scratch) TryAcquire() (*Lease, bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	return &Lease{s: s}, true
}

// Lease is write access to the scratch region starting at offset 0.
type Lease struct {
	s        *Scratch
	once     sync.Once
	released atomic.Bool
}

// Bytes returns the whole region, or nil once the lease is released.
func (l *Lease) Bytes() []byte {
	if l.released.Load() {
		return nil
	}
	return l.s.buf
}

func (l *Lease) Release() {
	l.once.Do(func() {
		l.released.Store(true)
		l.s.mu.Unlock()
	})
}

// Package store holds PersistentStore implementations for engine
// configuration snapshots.
package store

import (
	"errors"
	"sync"

	"github.com/danmuck/edgedlt/internal/engine"
)

var (
	ErrCorrupt = errors.New("store: snapshot envelope corrupt")
	ErrDigest  = errors.New("store: snapshot digest mismatch")
)

var _ engine.PersistentStore = (*Memory)(nil)

// Memory keeps the snapshot in process memory. It survives engine
// re-initialization but not a restart.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, engine.ErrNoSnapshot
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Write(b []byte) error {
	m.mu.Lock()
	m.data = append([]byte(nil), b...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate() error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

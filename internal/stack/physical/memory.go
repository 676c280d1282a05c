package physical

import (
	"errors"
	"io"
	"sync"
)

// MemoryMedium is an in-process Medium backed by a queue. Two halves created
// by MemoryPair deliver into each other's inbox, which keeps a fully
// synchronous pipeline deterministic: transmitted envelopes queue up and are
// drained by explicit receive calls.
type MemoryMedium struct {
	mu     sync.Mutex
	inbox  chan []byte
	peer   *MemoryMedium
	closed bool
}

// MemoryPair returns two connected in-memory mediums.
func MemoryPair() (*MemoryMedium, *MemoryMedium) {
	a := &MemoryMedium{inbox: make(chan []byte, 256)}
	b := &MemoryMedium{inbox: make(chan []byte, 256)}
	a.peer = b
	b.peer = a
	return a, b
}

func (m *MemoryMedium) Initialize() error { return nil }

func (m *MemoryMedium) Transmit(data []byte) error {
	m.peer.mu.Lock()
	defer m.peer.mu.Unlock()
	if m.peer.closed {
		return errors.New("physical: peer medium closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.peer.inbox <- buf
	return nil
}

func (m *MemoryMedium) Receive() ([]byte, error) {
	data, ok := <-m.inbox
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

// Pending reports how many envelopes are queued for Receive.
func (m *MemoryMedium) Pending() int {
	return len(m.inbox)
}

func (m *MemoryMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.inbox)
	}
	return nil
}

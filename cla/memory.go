package cla

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDialer is a reference Dialer that routes bundles between in-process
// peers through buffered channels, keyed by CLA address. It exists for
// tests and single-process demos; real deployments use a TCP/serial Dialer.
type MemoryDialer struct {
	mu    sync.Mutex
	peers map[string]chan []byte
}

func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{peers: make(map[string]chan []byte)}
}

// Register creates (or returns) the inbound channel for claAddr, so a test
// can read what was sent to it.
func (d *MemoryDialer) Register(claAddr string) <-chan []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.peers[claAddr]
	if !ok {
		ch = make(chan []byte, 64)
		d.peers[claAddr] = ch
	}
	return ch
}

func (d *MemoryDialer) Dial(_ context.Context, claAddr string) (Handle, error) {
	d.mu.Lock()
	ch, ok := d.peers[claAddr]
	if !ok {
		ch = make(chan []byte, 64)
		d.peers[claAddr] = ch
	}
	d.mu.Unlock()
	return &memoryHandle{addr: claAddr, ch: ch}, nil
}

type memoryHandle struct {
	addr string
	ch   chan []byte
}

func (h *memoryHandle) StartScheduledContact(_ context.Context, _ string) error { return nil }

func (h *memoryHandle) Send(_ context.Context, data []byte) error {
	select {
	case h.ch <- data:
		return nil
	default:
		return fmt.Errorf("cla: memory channel to %s is full", h.addr)
	}
}

func (h *memoryHandle) EndScheduledContact(_ context.Context) error { return nil }

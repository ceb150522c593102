package cla

import (
	"context"
	"net"
	"strings"
	"sync"
)

// TCPDialer is the real-deployment Dialer MemoryDialer's doc comment
// promises: claAddr is a "tcp://host:port" string, and one dialed
// connection serves exactly one scheduled contact, matching the contact
// manager's own one-handle-per-contact lifecycle (spec §4.8).
type TCPDialer struct {
	mu    sync.Mutex
	conns map[string]net.Conn
}

func NewTCPDialer() *TCPDialer {
	return &TCPDialer{conns: make(map[string]net.Conn)}
}

func (d *TCPDialer) Dial(ctx context.Context, claAddr string) (Handle, error) {
	addr := strings.TrimPrefix(claAddr, "tcp://")
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpHandle{addr: claAddr, conn: conn}, nil
}

type tcpHandle struct {
	addr string
	conn net.Conn
}

func (h *tcpHandle) StartScheduledContact(_ context.Context, _ string) error { return nil }

// Send writes data as-is: both bundle codecs are self-delimiting on the
// wire (BP6's SDNV-framed blocks, BP7's CBOR array), so no length prefix
// is needed beyond what the codec already encodes.
func (h *tcpHandle) Send(_ context.Context, data []byte) error {
	_, err := h.conn.Write(data)
	return err
}

func (h *tcpHandle) EndScheduledContact(_ context.Context) error {
	return h.conn.Close()
}

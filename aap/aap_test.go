package aap_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dtncore/agent/aap"
	"github.com/dtncore/agent/custody"
	"github.com/dtncore/agent/proc"
	"github.com/dtncore/agent/store"
)

func startServer(t *testing.T, cfg aap.Config) (addr string, registry *aap.Registry, st *store.Store) {
	t.Helper()
	st = store.New()
	cm := custody.New(cfg.LocalEID, custody.DefaultConfig())
	p := proc.New(st, cm, proc.DefaultConfig(cfg.LocalEID), func() uint64 { return 1000 })
	registry = aap.NewRegistry()
	srv := aap.NewServer(registry, st, p, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, ln) }()
	return ln.Addr().String(), registry, st
}

func dial(t *testing.T, addr string) (net.Conn, *aap.Parser) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, aap.NewParser(conn, 1<<20)
}

func TestWelcomeOnAccept(t *testing.T) {
	cfg := aap.DefaultConfig("dtn:node1")
	cfg.IdleTimeout = 0
	addr, _, _ := startServer(t, cfg)
	_, parser := dial(t, addr)

	msg, err := parser.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Type != aap.Welcome || msg.EID != "dtn:node1" {
		t.Fatalf("got %+v, want WELCOME dtn:node1", msg)
	}
}

func TestRegisterThenSendBundleIsConfirmed(t *testing.T) {
	cfg := aap.DefaultConfig("dtn:node1")
	cfg.IdleTimeout = 0
	addr, _, st := startServer(t, cfg)
	conn, parser := dial(t, addr)

	if _, err := parser.ReadMessage(); err != nil { // WELCOME
		t.Fatalf("ReadMessage(WELCOME): %v", err)
	}

	if _, err := conn.Write(aap.Encode(&aap.Message{Type: aap.Register, EID: "app1"})); err != nil {
		t.Fatalf("write REGISTER: %v", err)
	}
	ack, err := parser.ReadMessage()
	if err != nil || ack.Type != aap.Ack {
		t.Fatalf("got %+v, err %v, want ACK", ack, err)
	}

	if _, err := conn.Write(aap.Encode(&aap.Message{Type: aap.SendBundle, EID: "dtn:peer", Payload: []byte("hi")})); err != nil {
		t.Fatalf("write SENDBUNDLE: %v", err)
	}
	confirm, err := parser.ReadMessage()
	if err != nil || confirm.Type != aap.SendConfirm {
		t.Fatalf("got %+v, err %v, want SENDCONFIRM", confirm, err)
	}

	b := st.Get(uint16(confirm.BundleID))
	if b == nil {
		t.Fatal("bundle not found in store")
	}
	if string(b.Payload()) != "hi" {
		t.Fatalf("stored payload = %q, want %q", b.Payload(), "hi")
	}
	if b.Source.String() != "dtn:node1/app1" {
		t.Fatalf("stored source = %q, want %q", b.Source.String(), "dtn:node1/app1")
	}
}

func TestSendBundleWithoutRegistrationIsNacked(t *testing.T) {
	cfg := aap.DefaultConfig("dtn:node1")
	cfg.IdleTimeout = 0
	addr, _, _ := startServer(t, cfg)
	conn, parser := dial(t, addr)

	if _, err := parser.ReadMessage(); err != nil { // WELCOME
		t.Fatalf("ReadMessage(WELCOME): %v", err)
	}
	if _, err := conn.Write(aap.Encode(&aap.Message{Type: aap.SendBundle, EID: "dtn:peer", Payload: []byte("x")})); err != nil {
		t.Fatalf("write SENDBUNDLE: %v", err)
	}
	resp, err := parser.ReadMessage()
	if err != nil || resp.Type != aap.Nack {
		t.Fatalf("got %+v, err %v, want NACK", resp, err)
	}
}

func TestPingIsAcked(t *testing.T) {
	cfg := aap.DefaultConfig("dtn:node1")
	cfg.IdleTimeout = 0
	addr, _, _ := startServer(t, cfg)
	conn, parser := dial(t, addr)

	if _, err := parser.ReadMessage(); err != nil { // WELCOME
		t.Fatalf("ReadMessage(WELCOME): %v", err)
	}
	if _, err := conn.Write(aap.Encode(&aap.Message{Type: aap.Ping})); err != nil {
		t.Fatalf("write PING: %v", err)
	}
	resp, err := parser.ReadMessage()
	if err != nil || resp.Type != aap.Ack {
		t.Fatalf("got %+v, err %v, want ACK", resp, err)
	}
}

func TestIdleConnectionIsPinged(t *testing.T) {
	cfg := aap.DefaultConfig("dtn:node1")
	cfg.IdleTimeout = 50 * time.Millisecond
	addr, _, _ := startServer(t, cfg)
	_, parser := dial(t, addr)

	if _, err := parser.ReadMessage(); err != nil { // WELCOME
		t.Fatalf("ReadMessage(WELCOME): %v", err)
	}
	msg, err := parser.ReadMessage()
	if err != nil || msg.Type != aap.Ping {
		t.Fatalf("got %+v, err %v, want a server-initiated PING after idling", msg, err)
	}
}

func TestRegisteredSinkReceivesForwardedBundle(t *testing.T) {
	cfg := aap.DefaultConfig("dtn:node1")
	cfg.IdleTimeout = 0
	addr, registry, _ := startServer(t, cfg)
	conn, parser := dial(t, addr)

	if _, err := parser.ReadMessage(); err != nil { // WELCOME
		t.Fatalf("ReadMessage(WELCOME): %v", err)
	}
	if _, err := conn.Write(aap.Encode(&aap.Message{Type: aap.Register, EID: "app1"})); err != nil {
		t.Fatalf("write REGISTER: %v", err)
	}
	if _, err := parser.ReadMessage(); err != nil { // ACK
		t.Fatalf("ReadMessage(ACK): %v", err)
	}

	// give the server goroutine a moment to record the registration
	deadline := time.Now().Add(time.Second)
	for {
		if err := registry.Forward("app1", "dtn:src", []byte("incoming")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("registration never became visible to Forward")
		}
		time.Sleep(time.Millisecond)
	}

	msg, err := parser.ReadMessage()
	if err != nil || msg.Type != aap.RecvBundle || msg.EID != "dtn:src" || string(msg.Payload) != "incoming" {
		t.Fatalf("got %+v, err %v, want RECVBUNDLE dtn:src incoming", msg, err)
	}
}

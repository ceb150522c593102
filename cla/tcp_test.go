package cla_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dtncore/agent/cla"
)

func TestTCPDialerSendsBytesToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 5)
		n, _ := conn.Read(buf)
		accepted <- buf[:n]
	}()

	d := cla.NewTCPDialer()
	h, err := d.Dial(context.Background(), "tcp://"+ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := h.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-accepted:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the listener to receive data")
	}

	if err := h.EndScheduledContact(context.Background()); err != nil {
		t.Fatalf("EndScheduledContact: %v", err)
	}
}

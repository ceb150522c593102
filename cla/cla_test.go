package cla_test

import (
	"context"
	"testing"

	"github.com/dtncore/agent/cla"
)

func TestMemoryDialerDeliversSentBytes(t *testing.T) {
	d := cla.NewMemoryDialer()
	inbound := d.Register("tcp://peer")

	h, err := d.Dial(context.Background(), "tcp://peer")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := h.StartScheduledContact(context.Background(), "dtn://peer"); err != nil {
		t.Fatalf("StartScheduledContact: %v", err)
	}
	if err := h.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-inbound:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	default:
		t.Fatal("expected a buffered message, got none")
	}

	if err := h.EndScheduledContact(context.Background()); err != nil {
		t.Fatalf("EndScheduledContact: %v", err)
	}
}

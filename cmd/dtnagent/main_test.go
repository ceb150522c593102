package main

import "testing"

func TestListenAddrStripsScheme(t *testing.T) {
	got, err := listenAddr("tcp://0.0.0.0:4556")
	if err != nil {
		t.Fatalf("listenAddr: %v", err)
	}
	if got != "0.0.0.0:4556" {
		t.Fatalf("got %q, want %q", got, "0.0.0.0:4556")
	}
}

func TestListenAddrPassesThroughBareAddress(t *testing.T) {
	got, err := listenAddr("127.0.0.1:4551")
	if err != nil {
		t.Fatalf("listenAddr: %v", err)
	}
	if got != "127.0.0.1:4551" {
		t.Fatalf("got %q, want %q", got, "127.0.0.1:4551")
	}
}

func TestListenAddrRejectsEmpty(t *testing.T) {
	if _, err := listenAddr(""); err == nil {
		t.Fatal("listenAddr(\"\") should fail")
	}
}

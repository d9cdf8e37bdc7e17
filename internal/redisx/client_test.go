package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewClientWithoutAddr(t *testing.T) {
	t.Parallel()

	client, err := NewClient(context.Background(), Config{})
	if err != nil || client != nil {
		t.Fatalf("expected nil client and error, got %v %v", client, err)
	}
}

func TestNewClientPings(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
}

func TestNewClientFailsOnUnreachableServer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewClient(context.Background(), Config{Addr: addr}); err == nil {
		t.Fatal("expected ping failure")
	}
}

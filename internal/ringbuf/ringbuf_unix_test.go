//go:build !windows

package ringbuf

import (
	"path/filepath"
	"testing"
	"time"
)

func TestUnixTransportSendRecvRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosaic.server")

	server, err := Create(path, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer server.Close()

	client, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	want := []byte("ServerInstruction::SplitVertically")
	if err := client.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := make(chan []byte, 1)
	errc := make(chan error, 1)
	go func() {
		f, err := server.Recv()
		if err != nil {
			errc <- err
			return
		}
		got <- f
	}()

	select {
	case f := <-got:
		if string(f) != string(want) {
			t.Errorf("got %q, want %q", f, want)
		}
	case err := <-errc:
		t.Fatalf("Recv: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Recv")
	}
}

func TestUnixTransportMessageTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosaic.server")
	server, err := Create(path, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer server.Close()

	if err := server.Send(make([]byte, 1024)); err != ErrMessageTooLarge {
		t.Fatalf("Send oversized = %v, want ErrMessageTooLarge", err)
	}
}

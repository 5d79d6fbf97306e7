package pluginhost

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// These tests exercise the parts of the host that don't require a compiled
// WASM binary: path resolution and the stdin/stdout plumbing each loaded
// plugin gets wired to. Load/Draw/Input against a real .wasm module are
// exercised by the sandboxed widgets' own test suites, not here — this
// package has no fixture binary to compile against without the Go/WASM
// toolchain.

func TestResolvePathPrefersCallerPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "widget.wasm")
	if err := os.WriteFile(target, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h := &Host{}
	got, err := h.resolvePath(target)
	if err != nil {
		t.Fatalf("resolvePath() error = %v", err)
	}
	if got != target {
		t.Fatalf("resolvePath() = %q, want %q", got, target)
	}
}

func TestResolvePathAppendsWasmExtension(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "widget.wasm")
	if err := os.WriteFile(target, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	callerPath := filepath.Join(dir, "widget")

	h := &Host{}
	got, err := h.resolvePath(callerPath)
	if err != nil {
		t.Fatalf("resolvePath() error = %v", err)
	}
	if got != target {
		t.Fatalf("resolvePath() = %q, want %q", got, target)
	}
}

func TestResolvePathFallsBackToUserThenSystemDir(t *testing.T) {
	userDir := t.TempDir()
	systemDir := t.TempDir()
	systemTarget := filepath.Join(systemDir, "widget.wasm")
	if err := os.WriteFile(systemTarget, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h := &Host{userDir: userDir, systemDir: systemDir}
	got, err := h.resolvePath("widget")
	if err != nil {
		t.Fatalf("resolvePath() error = %v", err)
	}
	if got != systemTarget {
		t.Fatalf("resolvePath() = %q, want %q", got, systemTarget)
	}
}

func TestResolvePathNotFound(t *testing.T) {
	h := &Host{}
	if _, err := h.resolvePath("does-not-exist"); err == nil {
		t.Fatalf("resolvePath() on missing plugin should error")
	}
}

func TestPipeReaderBlocksUntilWrite(t *testing.T) {
	p := newPipeReader()
	done := make(chan struct{})
	var got []byte
	go func() {
		buf := make([]byte, 8)
		n, err := p.Read(buf)
		if err != nil {
			t.Errorf("Read() error = %v", err)
		}
		got = buf[:n]
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Read() returned before any write")
	case <-time.After(50 * time.Millisecond):
	}

	p.write([]byte("k"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Read() did not unblock after write")
	}
	if string(got) != "k" {
		t.Fatalf("Read() = %q, want %q", got, "k")
	}
}

func TestPipeReaderCloseUnblocksWithEOF(t *testing.T) {
	p := newPipeReader()
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 8))
		errCh <- err
	}()
	p.Close()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("Read() after Close() should return an error")
		}
	case <-time.After(time.Second):
		t.Fatalf("Read() did not unblock after Close()")
	}
}

func TestCaptureWriterDrainResetsBuffer(t *testing.T) {
	c := &captureWriter{}
	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := string(c.drain()); got != "hello" {
		t.Fatalf("drain() = %q, want %q", got, "hello")
	}
	if got := string(c.drain()); got != "" {
		t.Fatalf("second drain() = %q, want empty", got)
	}
}

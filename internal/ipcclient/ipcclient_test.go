package ipcclient

import (
	"testing"
	"time"

	"mosaic/internal/errctx"
	"mosaic/internal/wire"
)

// fakeTransport mirrors the one in ipcserver's tests: an in-memory
// ringbuf.Transport stand-in driven purely by channels.
type fakeTransport struct {
	in     chan []byte
	closed chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 8), closed: make(chan struct{})}
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errClosedFake = fakeErr("fake transport closed")

func (f *fakeTransport) Send(frame []byte) error { return nil }

func (f *fakeTransport) Recv() ([]byte, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case <-f.closed:
		return nil, errClosedFake
	}
}

func (f *fakeTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeTransport) Path() string { return "fake" }

func sendFrame(t *testing.T, transport *fakeTransport, instr Instruction) {
	t.Helper()
	payload, err := wire.EncodePayload(instr)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	frame, err := wire.Encode(wire.Frame{Kind: "ClientInstruction", Payload: payload})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	transport.in <- frame
}

func TestRouterForwardsDecodedInstructions(t *testing.T) {
	transport := newFakeTransport()
	received := make(chan Instruction, 4)
	done := make(chan struct{})
	go func() {
		Router(transport, func(instr Instruction, _ errctx.ErrorContext) { received <- instr })
		close(done)
	}()

	sendFrame(t, transport, Instruction{Kind: KindToScreen, ScreenKind: "MoveFocus"})

	select {
	case instr := <-received:
		if instr.Kind != KindToScreen || instr.ScreenKind != "MoveFocus" {
			t.Fatalf("got %+v, want ToScreen/MoveFocus", instr)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for routed instruction")
	}

	sendFrame(t, transport, Instruction{Kind: KindExit})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Router() did not return after Exit")
	}
}

func TestRouterStopsOnTransportClose(t *testing.T) {
	transport := newFakeTransport()
	done := make(chan struct{})
	go func() {
		Router(transport, func(Instruction, errctx.ErrorContext) {})
		close(done)
	}()

	transport.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Router() did not return after transport close")
	}
}

func TestToScreenInstructionRebuildsPayload(t *testing.T) {
	instr := Instruction{Kind: KindToScreen, ScreenKind: "MoveFocus"}
	got := instr.ToScreenInstruction()
	if got.Kind != "MoveFocus" {
		t.Fatalf("Kind = %v, want MoveFocus", got.Kind)
	}
}

// Package ipcclient implements the client side of the client/server split:
// a router goroutine that receives ClientInstruction frames off the
// session's private ring buffer and forwards each as the matching
// AppInstruction, and the drive-by path that opens the well-known server
// buffer, sends one ServerInstruction, and exits.
package ipcclient

import (
	"fmt"
	"log/slog"

	"mosaic/internal/errctx"
	"mosaic/internal/ringbuf"
	"mosaic/internal/screen"
	"mosaic/internal/wire"
)

// Kind enumerates the ClientInstruction variants.
type Kind string

const (
	KindToScreen        Kind = "ToScreen"
	KindClosePluginPane Kind = "ClosePluginPane"
	KindError           Kind = "Error"
	KindExit            Kind = "Exit"
)

// Instruction is the wire-safe ClientInstruction: a plain CBOR-serializable
// struct rather than screen.Instruction directly, since that type carries a
// Reply channel that cannot cross a process boundary.
type Instruction struct {
	Kind Kind `cbor:"kind"`

	ScreenKind screen.Kind   `cbor:"screen_kind,omitempty"`
	Pane       screen.PaneID `cbor:"pane,omitempty"`

	PluginID uint32 `cbor:"plugin,omitempty"`
	Message  string `cbor:"message,omitempty"`
}

// ToScreenInstruction rebuilds a fire-and-forget screen.Instruction from
// the wire form, suitable for forwarding onto the screen bus. Reply is
// always nil: a drive-by ToScreen instruction doesn't wait on completion.
func (i Instruction) ToScreenInstruction() screen.Instruction {
	return screen.Instruction{Kind: i.ScreenKind, Pane: i.Pane}
}

// Router receives ClientInstruction frames from a transport and forwards
// each, along with the ErrorContext it arrived with, to onInstruction
// (ordinarily the AppInstruction bus's translation function, which should
// stamp the context onto whichever bus it forwards the instruction to). It
// returns when the transport closes, or right after onInstruction has been
// called with a KindExit instruction.
func Router(t ringbuf.Transport, onInstruction func(Instruction, errctx.ErrorContext)) {
	for {
		frame, err := t.Recv()
		if err != nil {
			slog.Info("[ipcclient] router transport closed", "error", err)
			return
		}
		f, err := wire.Decode(frame)
		if err != nil {
			slog.Warn("[ipcclient] dropping malformed frame", "error", err)
			continue
		}
		var instr Instruction
		if err := wire.DecodePayload(f.Payload, &instr); err != nil {
			slog.Warn("[ipcclient] dropping frame with bad payload", "error", err)
			continue
		}
		ctx := wire.ContextTo(f.Context)
		ctx.AddCall("ipc_client", string(instr.Kind))
		onInstruction(instr, ctx)
		if instr.Kind == KindExit {
			return
		}
	}
}

// SendServerInstruction opens the well-known server ring buffer, sends one
// frame, and closes its end. Used by the drive-by CLI path (--split,
// --move-focus, --open-file): it does not start a session, it just talks
// to one that's already running.
func SendServerInstruction(serverPath string, kind string, payload any) error {
	t, err := ringbuf.Open(serverPath)
	if err != nil {
		return fmt.Errorf("ipcclient: no server reachable at %s: %w", serverPath, err)
	}
	defer t.Close()

	body, err := wire.EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("ipcclient: encode payload: %w", err)
	}
	var ctx errctx.ErrorContext
	ctx.AddCall("drive_by", kind)
	frame, err := wire.Encode(wire.Frame{Context: wire.ContextFrom(ctx), Kind: kind, Payload: body})
	if err != nil {
		return fmt.Errorf("ipcclient: encode frame: %w", err)
	}
	if err := t.Send(frame); err != nil {
		return fmt.Errorf("ipcclient: send to server: %w", err)
	}
	return nil
}

// Package ipcserver implements the server side of the client/server split:
// an IPC goroutine that receives ServerInstruction frames off the
// well-known ring buffer and dispatches each to the PTY bus or back to the
// registered client.
package ipcserver

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"mosaic/internal/bus"
	"mosaic/internal/errctx"
	"mosaic/internal/ipcclient"
	"mosaic/internal/ptybus"
	"mosaic/internal/ringbuf"
	"mosaic/internal/wire"
)

// Kind enumerates the ServerInstruction variants.
type Kind string

const (
	KindOpenFile          Kind = "OpenFile"
	KindSplitHorizontally Kind = "SplitHorizontally"
	KindSplitVertically   Kind = "SplitVertically"
	KindMoveFocus         Kind = "MoveFocus"
	KindNewClient         Kind = "NewClient"
	KindClosePluginPane   Kind = "ClosePluginPane"
	KindExit              Kind = "Exit"
)

// Instruction is the wire-safe ServerInstruction. ToPty/ToScreen, which the
// original also lists as server-instruction variants, are not reachable
// from the drive-by CLI surface this engine exposes (no flag constructs
// one) and are therefore not modeled here — see DESIGN.md.
type Instruction struct {
	Kind Kind `cbor:"kind"`

	FileName   string `cbor:"file,omitempty"`
	BufferPath string `cbor:"buf,omitempty"`
	PluginID   uint32 `cbor:"plugin,omitempty"`
}

// Deps bundles the buses the server dispatches onto. ClosePluginPane is
// forwarded to the client rather than unloaded directly here, matching the
// original's own dispatch (the client's AppInstruction translation is what
// turns it into a PluginInstruction{Unload}), so the server doesn't need a
// plugin-host handle of its own.
type Deps struct {
	Pty bus.Sender[ptybus.Instruction]
}

// Server dispatches decoded ServerInstructions. Exactly one client may be
// registered at a time (spec's Open Question resolved single-client, see
// DESIGN.md): client holds that registration, guarded by mu. clientID is a
// fresh correlation id minted on every registration, logged alongside every
// subsequent client-bound event so a multi-connection log (one client
// disconnecting, a second replacing it) can be told apart by id rather than
// by inferring it from timing.
type Server struct {
	mu       sync.Mutex
	client   ringbuf.Transport
	clientID string

	pty bus.Sender[ptybus.Instruction]
}

// New creates a server dispatcher.
func New(deps Deps) *Server {
	return &Server{pty: deps.Pty}
}

// AttachLocalClient registers t as this server's client directly, without
// the NewClient wire round-trip: used by main.go's own session process,
// whose client and server share one address space and have no reason to
// serialize a BufferPath across a process boundary they never actually
// cross. A real drive-by client still registers the normal way, via a
// ServerInstruction{NewClient} frame routed through dispatch.
func (s *Server) AttachLocalClient(t ringbuf.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
	}
	s.client = t
	s.clientID = uuid.NewString()
	slog.Info("[ipcserver] local client attached", "client_id", s.clientID)
}

// ExitWatcher bridges the app dispatcher's bounded Instruction bus onto a
// transport it doesn't otherwise read from: Run only ever blocks in
// transport.Recv, so the only way to unblock it for the app-initiated
// shutdown path is to close the transport out from under it. Run this in
// its own goroutine alongside Run.
func ExitWatcher(rx bus.Receiver[Instruction], transport ringbuf.Transport) {
	for {
		instr, _, ok := rx.Recv()
		if !ok {
			return
		}
		if instr.Kind == KindExit {
			if err := transport.Close(); err != nil {
				slog.Debug("[ipcserver] transport already closed", "error", err)
			}
			return
		}
	}
}

// NewSender matches the other buses' constructor shape.
func NewSender() (bus.Sender[Instruction], bus.Receiver[Instruction]) {
	return bus.NewUnbounded[Instruction]("ipcserver")
}

// Run listens on transport for ServerInstruction frames until Exit.
func Run(transport ringbuf.Transport, s *Server) {
	for {
		frame, err := transport.Recv()
		if err != nil {
			slog.Info("[ipcserver] transport closed", "error", err)
			return
		}
		f, err := wire.Decode(frame)
		if err != nil {
			slog.Warn("[ipcserver] dropping malformed frame", "error", err)
			continue
		}
		var instr Instruction
		if err := wire.DecodePayload(f.Payload, &instr); err != nil {
			slog.Warn("[ipcserver] dropping frame with bad payload", "error", err)
			continue
		}
		ctx := wire.ContextTo(f.Context)
		ctx.AddCall("ipc_server", string(instr.Kind))
		if exit := s.dispatch(instr, ctx); exit {
			return
		}
	}
}

func (s *Server) dispatch(instr Instruction, ctx errctx.ErrorContext) (exit bool) {
	switch instr.Kind {
	case KindOpenFile:
		path := instr.FileName
		s.sendPty(ptybus.Instruction{Kind: ptybus.KindSpawnTerminal, Path: &path}, ctx)

	case KindSplitHorizontally:
		s.sendPty(ptybus.Instruction{Kind: ptybus.KindSpawnTerminalHorizontally}, ctx)

	case KindSplitVertically:
		s.sendPty(ptybus.Instruction{Kind: ptybus.KindSpawnTerminalVertically}, ctx)

	case KindMoveFocus:
		s.sendToClient(ipcclient.Instruction{Kind: ipcclient.KindToScreen, ScreenKind: "MoveFocus"}, ctx)

	case KindNewClient:
		t, err := ringbuf.Open(instr.BufferPath)
		if err != nil {
			slog.Warn("[ipcserver] failed to open new client's buffer", "path", instr.BufferPath, "error", err)
			return false
		}

		s.mu.Lock()
		occupied := s.client != nil
		var id string
		if !occupied {
			s.client = t
			id = uuid.NewString()
			s.clientID = id
		}
		s.mu.Unlock()

		if occupied {
			s.rejectClient(t, "a client is already connected", ctx)
			return false
		}
		slog.Info("[ipcserver] remote client registered", "client_id", id, "path", instr.BufferPath)
		s.sendPty(ptybus.Instruction{Kind: ptybus.KindNewTab}, ctx)

	case KindClosePluginPane:
		s.sendToClient(ipcclient.Instruction{Kind: ipcclient.KindClosePluginPane, PluginID: instr.PluginID}, ctx)

	case KindExit:
		s.sendPty(ptybus.Instruction{Kind: ptybus.KindExit}, ctx)
		s.sendToClient(ipcclient.Instruction{Kind: ipcclient.KindExit}, ctx)
		return true

	default:
		slog.Warn("[ipcserver] unknown instruction kind, dropping", "kind", instr.Kind)
	}
	return false
}

// rejectClient sends a KindError frame over a just-opened transport that
// lost the single-client race, then closes it: the second NewClient is
// rejected outright rather than silently replacing the first.
func (s *Server) rejectClient(t ringbuf.Transport, message string, ctx errctx.ErrorContext) {
	payload, err := wire.EncodePayload(ipcclient.Instruction{Kind: ipcclient.KindError, Message: message})
	if err != nil {
		slog.Warn("[ipcserver] encode reject-client payload failed", "error", err)
	} else if encoded, err := wire.Encode(wire.Frame{Context: wire.ContextFrom(ctx), Kind: "ClientInstruction", Payload: payload}); err != nil {
		slog.Warn("[ipcserver] encode reject-client frame failed", "error", err)
	} else if err := t.Send(encoded); err != nil {
		slog.Warn("[ipcserver] send reject-client frame failed", "error", err)
	}
	t.Close()
}

func (s *Server) sendPty(instr ptybus.Instruction, ctx errctx.ErrorContext) {
	s.pty.Update(ctx)
	if err := s.pty.Send(string(instr.Kind), instr); err != nil {
		slog.Warn("[ipcserver] forwarding to pty bus failed", "error", err)
	}
}

func (s *Server) sendToClient(instr ipcclient.Instruction, ctx errctx.ErrorContext) {
	s.mu.Lock()
	client := s.client
	id := s.clientID
	s.mu.Unlock()
	if client == nil {
		slog.Warn("[ipcserver] no client registered, dropping instruction", "kind", instr.Kind)
		return
	}

	payload, err := wire.EncodePayload(instr)
	if err != nil {
		slog.Warn("[ipcserver] encode client instruction failed", "client_id", id, "error", err)
		return
	}
	frame, err := wire.Encode(wire.Frame{Context: wire.ContextFrom(ctx), Kind: "ClientInstruction", Payload: payload})
	if err != nil {
		slog.Warn("[ipcserver] encode client frame failed", "client_id", id, "error", err)
		return
	}
	if err := client.Send(frame); err != nil {
		slog.Warn("[ipcserver] send to client failed", "client_id", id, "error", err)
	}
}

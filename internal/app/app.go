// Package app implements the top-level dispatcher: the single goroutine
// that owns AppState, drives the bounded AppInstruction queue, and runs
// the shutdown sequence on both a clean Exit and a cascading Error.
package app

import (
	"fmt"
	"log/slog"
	"os"

	"mosaic/internal/bus"
	"mosaic/internal/errctx"
	"mosaic/internal/hostterm"
	"mosaic/internal/ipcserver"
	"mosaic/internal/pluginhost"
	"mosaic/internal/ptybus"
	"mosaic/internal/screen"
)

// Kind enumerates the AppInstruction variants.
type Kind string

const (
	KindGetState Kind = "GetState"
	KindSetState Kind = "SetState"
	KindExit     Kind = "Exit"
	KindError    Kind = "Error"
	KindToPty    Kind = "ToPty"
	KindToScreen Kind = "ToScreen"
	KindToPlugin Kind = "ToPlugin"
)

// State is the only process-wide mutable state the dispatcher holds,
// currently just an input-mode sub-state. It is never shared by reference:
// GetState/SetState copy it across a one-shot reply channel.
type State struct {
	InputMode string
}

// Instruction is the tagged union the app dispatcher consumes.
type Instruction struct {
	Kind Kind

	StateReply chan State
	State      State
	ErrorText  string

	Pty    ptybus.Instruction
	Screen screen.Instruction
	Plugin pluginhost.Instruction
}

// QueueCapacity is the bounded app channel's capacity: large enough to
// absorb a burst without the panic hook's TrySend observing Full under
// normal load, small enough that a wedged dispatcher doesn't grow memory
// without bound.
const QueueCapacity = 500

// Deps bundles the subsystem senders the dispatcher forwards onto and the
// host terminal used to print the final error line on a fatal cascade.
type Deps struct {
	Pty    bus.Sender[ptybus.Instruction]
	Screen bus.Sender[screen.Instruction]
	Plugin bus.Sender[pluginhost.Instruction]
	Server bus.Sender[ipcserver.Instruction]
	Host   *hostterm.Host
}

// Run is the app dispatcher goroutine. It owns state and blocks only on
// rx.Recv, per the concurrency model's suspension-point rule.
func Run(rx bus.Receiver[Instruction], deps Deps) {
	var state State

	for {
		instr, ctx, ok := rx.Recv()
		if !ok {
			return
		}
		deps.Screen.Update(ctx)

		switch instr.Kind {
		case KindGetState:
			if instr.StateReply != nil {
				instr.StateReply <- state
			}

		case KindSetState:
			state = instr.State

		case KindExit:
			shutdown(deps)
			return

		case KindError:
			fatal(deps, instr.ErrorText, ctx)
			return

		case KindToScreen:
			if err := deps.Screen.Send(string(instr.Screen.Kind), instr.Screen); err != nil {
				slog.Warn("[app] forwarding to screen bus failed", "error", err)
			}

		case KindToPlugin:
			if err := deps.Plugin.Send(string(instr.Plugin.Kind), instr.Plugin); err != nil {
				slog.Warn("[app] forwarding to plugin bus failed", "error", err)
			}

		case KindToPty:
			if err := deps.Pty.Send(string(instr.Pty.Kind), instr.Pty); err != nil {
				slog.Warn("[app] forwarding to pty bus failed", "error", err)
			}

		default:
			slog.Warn("[app] unknown instruction kind, dropping", "kind", instr.Kind)
		}
	}
}

// shutdown sends Exit to every subsystem bus, in order: screen, plugin,
// PTY, IPC server (whose exit watcher closes the server transport). The
// client router is sent nothing here; it stops when a ClientInstruction
// Exit reaches it or its own transport closes.
func shutdown(deps Deps) {
	send(deps.Screen, "Exit", screen.Instruction{Kind: screen.KindExit})
	send(deps.Plugin, "Exit", pluginhost.Instruction{Kind: pluginhost.KindExit})
	send(deps.Pty, "Exit", ptybus.Instruction{Kind: ptybus.KindExit})
	send(deps.Server, "Exit", ipcserver.Instruction{Kind: ipcserver.KindExit})
}

func send[T any](s bus.Sender[T], kind string, instr T) {
	if err := s.Send(kind, instr); err != nil {
		slog.Debug("[app] shutdown send failed, bus likely already closed", "error", err)
	}
}

// fatal runs when an Error instruction reaches the dispatcher: a goroutine
// that must never disappear reported an unrecoverable error. It runs the same shutdown
// sequence, restores the terminal, prints the error on the bottom row, and
// exits the process with status 1.
func fatal(deps Deps, message string, ctx errctx.ErrorContext) {
	slog.Error("[app] fatal error, shutting down", "error", message, "context", ctx.String())
	shutdown(deps)

	if deps.Host != nil {
		deps.Host.RestoreOnPanic(fmt.Sprintf("%s\n(%s)", message, ctx.String()))
	}
	os.Exit(1)
}

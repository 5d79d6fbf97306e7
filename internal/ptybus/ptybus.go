// Package ptybus spawns and reaps the child PTY processes behind terminal
// panes. It owns one internal/terminal.Terminal per live pane, a dedicated
// reader goroutine per pane that feeds raw output into internal/paneterm's
// VTE state and signals the screen goroutine to redraw, and the
// SpawnTerminal/ClosePane/CloseTab operations the original's PtyInstruction
// variants named.
package ptybus

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"mosaic/internal/bus"
	"mosaic/internal/paneterm"
	"mosaic/internal/screen"
	"mosaic/internal/syncwait"
	"mosaic/internal/terminal"
)

// Kind names the PtyInstruction variants this bus's goroutine switches on,
// mirroring the screen package's Kind convention.
type Kind string

const (
	KindSpawnTerminal             Kind = "SpawnTerminal"
	KindSpawnTerminalVertically   Kind = "SpawnTerminalVertically"
	KindSpawnTerminalHorizontally Kind = "SpawnTerminalHorizontally"
	KindNewTab                    Kind = "NewTab"
	KindClosePane                 Kind = "ClosePane"
	KindCloseTab                  Kind = "CloseTab"
	KindExit                      Kind = "Exit"
)

// Instruction is the tagged union the PTY bus goroutine consumes.
type Instruction struct {
	Kind Kind
	Path *string // SpawnTerminal*: optional file to open instead of the default shell
	Pane screen.PaneID
	Tab  []screen.PaneID // CloseTab: every pane id that belonged to the closed tab
}

// pane bundles one live child process with the pane id it was assigned.
type pane struct {
	id   screen.PaneID
	term *terminal.Terminal
}

// Bus owns the live pane-to-process table and forwards rendered-or-closed
// signals to the screen goroutine.
type Bus struct {
	mu       sync.Mutex
	panes    map[screen.PaneID]*pane
	nextID   atomic.Uint32
	maxPanes int

	states   *paneterm.Manager
	screen   bus.Sender[screen.Instruction]
	spawning *syncwait.Monitor
}

// New creates a PTY bus. states receives raw output for VTE tracking;
// screenSender is where NewPane/HorizontalSplit/VerticalSplit/NewTab/Pty/
// ClosePane instructions are forwarded once a spawn or exit is known.
func New(states *paneterm.Manager, screenSender bus.Sender[screen.Instruction]) *Bus {
	return &Bus{
		panes:    map[screen.PaneID]*pane{},
		states:   states,
		screen:   screenSender,
		spawning: syncwait.New(),
	}
}

// Run is the PTY bus goroutine: single-threaded dispatch over rx until Exit.
func Run(rx bus.Receiver[Instruction], b *Bus) {
	for {
		instr, ctx, ok := rx.Recv()
		if !ok {
			return
		}
		b.screen.Update(ctx)

		switch instr.Kind {
		case KindSpawnTerminal:
			id, err := b.spawnTerminal(instr.Path)
			if err != nil {
				slog.Warn("[pty] spawn terminal failed", "error", err)
				continue
			}
			send(b.screen, "NewPane", screen.Instruction{Kind: screen.KindNewPane, Pane: id})

		case KindSpawnTerminalVertically:
			id, err := b.spawnTerminal(instr.Path)
			if err != nil {
				slog.Warn("[pty] spawn terminal (vertical) failed", "error", err)
				continue
			}
			send(b.screen, "VerticalSplit", screen.Instruction{Kind: screen.KindVerticalSplit, Pane: id})

		case KindSpawnTerminalHorizontally:
			id, err := b.spawnTerminal(instr.Path)
			if err != nil {
				slog.Warn("[pty] spawn terminal (horizontal) failed", "error", err)
				continue
			}
			send(b.screen, "HorizontalSplit", screen.Instruction{Kind: screen.KindHorizontalSplit, Pane: id})

		case KindNewTab:
			id, err := b.spawnTerminal(nil)
			if err != nil {
				slog.Warn("[pty] spawn terminal for new tab failed", "error", err)
				continue
			}
			send(b.screen, "NewTab", screen.Instruction{Kind: screen.KindNewTab, Pane: id, Name: id.IDString()})

		case KindClosePane:
			b.closePane(instr.Pane)
			send(b.screen, "ClosePane", screen.Instruction{Kind: screen.KindClosePane, Pane: instr.Pane})

		case KindCloseTab:
			for _, id := range instr.Tab {
				b.closePane(id)
			}

		case KindExit:
			b.closeAll()
			return

		default:
			slog.Warn("[pty] unknown instruction kind, dropping", "kind", instr.Kind)
		}
	}
}

func send(s bus.Sender[screen.Instruction], kind string, instr screen.Instruction) {
	if err := s.Send(kind, instr); err != nil {
		slog.Debug("[pty] screen send failed, screen bus likely shutting down", "error", err)
	}
}

// SpawnPane is spawnTerminal exported for direct use by main.go's startup
// sequence (the initial pane and any --layout leaves), which needs the new
// PaneID back synchronously to build a layout tree — unlike the
// instruction-driven spawns above, which only ever notify the screen bus.
func (b *Bus) SpawnPane(path *string) (screen.PaneID, error) {
	return b.spawnTerminal(path)
}

// SetMaxPanes caps the number of simultaneously live panes; further spawns
// are rejected once the cap is reached. Zero, the default, means unlimited
// — set from main.go's --max-panes flag.
func (b *Bus) SetMaxPanes(n int) {
	b.mu.Lock()
	b.maxPanes = n
	b.mu.Unlock()
}

// spawnTerminal launches the user's shell, or a pager over path if path
// names a readable file, assigns it a fresh PaneID, starts its reader
// goroutine, and returns the new id.
func (b *Bus) spawnTerminal(path *string) (screen.PaneID, error) {
	b.mu.Lock()
	if b.maxPanes > 0 && len(b.panes) >= b.maxPanes {
		b.mu.Unlock()
		return screen.PaneID{}, fmt.Errorf("ptybus: max panes (%d) reached", b.maxPanes)
	}
	b.mu.Unlock()

	// closeAll (triggered by Exit) must not run concurrently with a spawn
	// that's already past the max-panes check but hasn't yet registered in
	// b.panes: otherwise the freshly started child process would never be
	// closed and would outlive the session.
	b.spawning.Begin()
	defer b.spawning.End()

	cfg := terminal.Config{}
	if path != nil {
		if info, err := os.Stat(*path); err == nil && !info.IsDir() {
			cfg.Shell = pagerCommand()
			cfg.Args = []string{*path}
		}
	}

	term, err := terminal.Start(cfg)
	if err != nil {
		return screen.PaneID{}, fmt.Errorf("ptybus: start terminal: %w", err)
	}

	id := screen.PaneID{Kind: screen.KindTerminal, ID: b.nextID.Add(1)}

	b.mu.Lock()
	b.panes[id] = &pane{id: id, term: term}
	b.mu.Unlock()

	b.states.EnsurePane(id.IDString(), 0, 0)
	go b.readLoop(id, term)

	return id, nil
}

func pagerCommand() string {
	if p := os.Getenv("PAGER"); p != "" {
		return p
	}
	return "less"
}

// readLoop is the dedicated reader thread named in the PTY bus design: it
// blocks only on terminal.Read, feeds every chunk into the pane's VTE
// state, and signals the screen goroutine to redraw. It exits, and closes
// the pane, when the child process's output stream ends.
func (b *Bus) readLoop(id screen.PaneID, term *terminal.Terminal) {
	term.ReadLoop(func(chunk []byte) {
		b.states.Feed(id.IDString(), chunk)
		send(b.screen, "Pty", screen.Instruction{
			Kind:     screen.KindPty,
			Pane:     id,
			PtyEvent: screen.PtyEvent{Pane: id},
		})
	})

	b.mu.Lock()
	_, stillTracked := b.panes[id]
	delete(b.panes, id)
	b.mu.Unlock()

	b.states.RemovePane(id.IDString())
	if stillTracked {
		send(b.screen, "ClosePane", screen.Instruction{Kind: screen.KindClosePane, Pane: id})
	}
}

func (b *Bus) closePane(id screen.PaneID) {
	b.mu.Lock()
	p := b.panes[id]
	delete(b.panes, id)
	b.mu.Unlock()

	if p == nil {
		return
	}
	if err := p.term.Close(); err != nil {
		slog.Debug("[pty] close pane terminal failed", "pane", id.IDString(), "error", err)
	}
	b.states.RemovePane(id.IDString())
}

func (b *Bus) closeAll() {
	b.spawning.Wait()

	b.mu.Lock()
	panes := make([]*pane, 0, len(b.panes))
	for _, p := range b.panes {
		panes = append(panes, p)
	}
	b.panes = map[screen.PaneID]*pane{}
	b.mu.Unlock()

	for _, p := range panes {
		if err := p.term.Close(); err != nil {
			slog.Debug("[pty] close pane terminal during shutdown failed", "pane", p.id.IDString(), "error", err)
		}
	}
}

// Write implements screen.PtyWriter: forwards input bytes typed into the
// focused pane to its child process's stdin.
func (b *Bus) Write(id screen.PaneID, p []byte) error {
	b.mu.Lock()
	pn := b.panes[id]
	b.mu.Unlock()
	if pn == nil {
		return errors.New("ptybus: no such pane")
	}
	_, err := pn.term.Write(p)
	return err
}

// Resize forwards a resize to the pane's PTY and its VTE state.
func (b *Bus) Resize(id screen.PaneID, cols, rows int) error {
	b.mu.Lock()
	pn := b.panes[id]
	b.mu.Unlock()
	if pn == nil {
		return errors.New("ptybus: no such pane")
	}
	b.states.EnsurePane(id.IDString(), cols, rows)
	return pn.term.Resize(cols, rows)
}

// NewSender matches the other buses' constructor shape.
func NewSender() (bus.Sender[Instruction], bus.Receiver[Instruction]) {
	return bus.NewUnbounded[Instruction]("pty")
}

// Package hostterm owns the controlling terminal itself: entering and
// leaving raw mode and the alternate screen, watching for SIGWINCH, and
// printing the final goodbye or error line on shutdown. Everything here
// talks to os.Stdout/Stdin directly; panes never touch it, only the screen
// bus's render output does (via internal/render).
package hostterm

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"mosaic/internal/bus"
	"mosaic/internal/screen"
)

const (
	enterAltScreen = "\x1b[?1049h"
	leaveAltScreen = "\x1b[?1049l"
	hideCursor     = "\x1b[?25l"
	showCursor     = "\x1b[?25h"
	resetStyle     = "\x1b[m"
)

// Host holds the controlling terminal's saved state and the screen bus used
// to deliver resize notifications.
type Host struct {
	mu       sync.Mutex
	fd       int
	state    *term.State
	stdout   io.Writer
	rows     int
	cols     int
	screen   bus.Sender[screen.Instruction]
}

// Open switches stdout into the alternate screen, hides the cursor, and
// puts stdin into raw mode. The returned Host must be closed (via Close or
// RestoreOnPanic) exactly once before the process exits, on every path.
func Open(screenSender bus.Sender[screen.Instruction]) (*Host, error) {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("hostterm: enter raw mode: %w", err)
	}

	h := &Host{
		fd:     fd,
		state:  state,
		stdout: os.Stdout,
		screen: screenSender,
	}
	if _, err := io.WriteString(h.stdout, enterAltScreen+hideCursor); err != nil {
		slog.Warn("[hostterm] failed writing alt-screen sequence", "error", err)
	}
	h.cols, h.rows, _ = term.GetSize(fd)
	return h, nil
}

// Size returns the last-known terminal dimensions (rows, cols).
func (h *Host) Size() (rows, cols int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rows, h.cols
}

// onResize is called by the platform-specific resize watcher (hostterm_unix.go's
// SIGWINCH handler; a no-op on Windows, which has no equivalent signal) with
// the freshly queried dimensions.
func (h *Host) onResize() {
	rows, cols, err := h.querySize()
	if err != nil {
		slog.Warn("[hostterm] GetSize after resize notification failed", "error", err)
		return
	}
	h.mu.Lock()
	h.rows, h.cols = rows, cols
	h.mu.Unlock()
	if err := h.screen.Send("Render", screen.Instruction{Kind: screen.KindRender, Rows: rows, Cols: cols}); err != nil {
		slog.Warn("[hostterm] posting resize render failed", "error", err)
	}
}

func (h *Host) querySize() (rows, cols int, err error) {
	cols, rows, err = term.GetSize(h.fd)
	return rows, cols, err
}

// Close restores the terminal on a clean Exit: leave the alternate screen,
// reset style, show cursor, print the goodbye line at the bottom row.
func (h *Host) Close() error {
	return h.restore("Bye from Mosaic!")
}

// RestoreOnPanic restores the terminal the same way Close does, but prints
// message instead of the goodbye line — used by the app dispatcher's fatal
// cascade (spec's Fatal error category).
func (h *Host) RestoreOnPanic(message string) {
	if err := h.restore(message); err != nil {
		slog.Error("[hostterm] failed to restore terminal after fatal error", "error", err)
	}
}

func (h *Host) restore(trailer string) error {
	h.mu.Lock()
	rows := h.rows
	state := h.state
	h.mu.Unlock()
	if rows <= 0 {
		rows = 1
	}

	if state != nil {
		if err := term.Restore(h.fd, state); err != nil {
			slog.Warn("[hostterm] failed to restore raw mode", "error", err)
		}
	}

	gotoLastLine := fmt.Sprintf("\x1b[%d;%dH", rows, 1)
	out := gotoLastLine + "\n" + leaveAltScreen + resetStyle + showCursor + trailer
	if _, err := io.WriteString(h.stdout, out); err != nil {
		return fmt.Errorf("hostterm: write restore sequence: %w", err)
	}
	if f, ok := h.stdout.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

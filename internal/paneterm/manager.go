// Package paneterm owns per-pane VTE state. The parsing itself is delegated
// to hinshun/vt10x rather than reimplemented here, while this package keeps
// the replay-ring-plus-dirty-rebuild discipline the multiplexer needs to
// reattach a pane's emulator to the right screen size after a resize or a
// period where the pane wasn't on screen.
package paneterm

import (
	"log/slog"
	"sync"

	"github.com/hinshun/vt10x"
)

const (
	defaultCols = 120
	defaultRows = 40
)

// paneTerm holds one pane's VTE state.
// Lock ordering: always acquire Manager.mu before paneTerm.mu.
type paneTerm struct {
	mu     sync.Mutex
	vt     vt10x.Terminal
	replay replayRing
	cols   int
	rows   int
	dirty  bool
}

type replayRing struct {
	data []byte
	head int
	size int
}

func newReplayRing(capacity int) replayRing {
	if capacity <= 0 {
		capacity = 1
	}
	return replayRing{data: make([]byte, capacity)}
}

func (r *replayRing) write(chunk []byte) {
	if len(chunk) == 0 || len(r.data) == 0 {
		return
	}
	if len(chunk) >= len(r.data) {
		copy(r.data, chunk[len(chunk)-len(r.data):])
		r.head = 0
		r.size = len(r.data)
		return
	}
	n := copy(r.data[r.head:], chunk)
	if n < len(chunk) {
		copy(r.data, chunk[n:])
		r.head = len(chunk) - n
	} else {
		r.head = (r.head + n) % len(r.data)
	}
	r.size += len(chunk)
	if r.size > len(r.data) {
		r.size = len(r.data)
	}
}

func (r *replayRing) snapshot() []byte {
	if r.size == 0 {
		return nil
	}
	out := make([]byte, r.size)
	if r.size < len(r.data) {
		copy(out, r.data[:r.size])
		return out
	}
	n := copy(out, r.data[r.head:])
	copy(out[n:], r.data[:r.head])
	return out
}

// Manager stores per-pane VTE state, keyed by the pane's IDString(). Lock
// ordering: Manager.mu (coarse) -> paneTerm.mu (fine). Never reverse.
type Manager struct {
	mu             sync.RWMutex
	maxReplayBytes int
	states         map[string]*paneTerm
	activePanes    map[string]struct{}
}

// NewManager creates a pane VTE manager. maxReplayBytes bounds how much raw
// output is kept to rebuild an inactive pane's emulator when it becomes
// active again.
func NewManager(maxReplayBytes int) *Manager {
	if maxReplayBytes <= 0 {
		maxReplayBytes = 512 * 1024
	}
	return &Manager{
		maxReplayBytes: maxReplayBytes,
		states:         map[string]*paneTerm{},
		activePanes:    map[string]struct{}{},
	}
}

func sanitizeSize(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	return cols, rows
}

// EnsurePane creates VTE state for paneID if missing and applies the given
// size.
func (m *Manager) EnsurePane(paneID string, cols, rows int) {
	if paneID == "" {
		return
	}
	cols, rows = sanitizeSize(cols, rows)

	m.mu.Lock()
	state := m.states[paneID]
	if state == nil {
		term := vt10x.New(vt10x.WithSize(cols, rows))
		state = &paneTerm{vt: term, replay: newReplayRing(m.maxReplayBytes), cols: cols, rows: rows}
		m.states[paneID] = state
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.cols != cols || state.rows != rows {
		state.cols, state.rows = cols, rows
		if !state.dirty {
			state.vt.Resize(cols, rows)
		}
	}
}

// Feed applies a chunk of raw PTY output to a pane's VTE state.
func (m *Manager) Feed(paneID string, chunk []byte) {
	if paneID == "" || len(chunk) == 0 {
		return
	}

	m.mu.RLock()
	state := m.states[paneID]
	var active bool
	if state != nil {
		_, active = m.activePanes[paneID]
	}
	m.mu.RUnlock()

	if state == nil {
		m.EnsurePane(paneID, defaultCols, defaultRows)
		m.mu.RLock()
		state = m.states[paneID]
		m.mu.RUnlock()
		if state == nil {
			return
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.replay.write(chunk)
	if !active {
		state.dirty = true
		return
	}
	if state.dirty {
		m.rebuildLocked(state)
		state.dirty = false
		return
	}
	if _, err := state.vt.Write(chunk); err != nil {
		slog.Debug("[paneterm] vt10x write failed", "pane", paneID, "error", err)
	}
}

// Snapshot returns the pane's current visible cell grid as plain text, one
// row per line — used by the render package to compose output for panes
// that don't need full cell-attribute fidelity, and by tests.
func (m *Manager) Snapshot(paneID string) string {
	m.mu.RLock()
	state := m.states[paneID]
	_, active := m.activePanes[paneID]
	m.mu.RUnlock()
	if state == nil {
		return ""
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if active {
		if state.dirty {
			m.rebuildLocked(state)
			state.dirty = false
		}
		return renderVT(state.vt, state.cols, state.rows)
	}
	return string(state.replay.snapshot())
}

func renderVT(vt vt10x.Terminal, cols, rows int) string {
	var out []byte
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			g := vt.Cell(x, y)
			if g.Char == 0 {
				out = append(out, ' ')
				continue
			}
			out = append(out, []byte(string(g.Char))...)
		}
		if y+1 < rows {
			out = append(out, '\n')
		}
	}
	return string(out)
}

// RemovePane drops all VTE state for a pane, called on ClosePane.
func (m *Manager) RemovePane(paneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, paneID)
	delete(m.activePanes, paneID)
}

// SetActivePanes updates which panes are currently on screen, rebuilding
// any that accumulated output while inactive.
func (m *Manager) SetActivePanes(active map[string]struct{}) {
	m.mu.Lock()
	next := make(map[string]struct{}, len(active))
	for id := range active {
		next[id] = struct{}{}
	}
	m.activePanes = next

	var toRebuild []*paneTerm
	for id := range next {
		if state := m.states[id]; state != nil {
			toRebuild = append(toRebuild, state)
		}
	}
	m.mu.Unlock()

	for _, state := range toRebuild {
		state.mu.Lock()
		if state.dirty {
			m.rebuildLocked(state)
			state.dirty = false
		}
		state.mu.Unlock()
	}
}

func (m *Manager) rebuildLocked(state *paneTerm) {
	cols, rows := sanitizeSize(state.cols, state.rows)
	state.vt = vt10x.New(vt10x.WithSize(cols, rows))
	if replay := state.replay.snapshot(); len(replay) > 0 {
		if _, err := state.vt.Write(replay); err != nil {
			slog.Debug("[paneterm] rebuild write failed", "error", err)
		}
	}
}

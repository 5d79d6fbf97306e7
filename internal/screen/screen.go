// Package screen implements the single-threaded Screen/Tab/Pane state
// machine: an ordered sequence of tabs, a tiling layout per tab, and the
// dispatch loop that reacts to every ScreenInstruction variant.
package screen

import (
	"errors"
	"fmt"
	"sync"
)

// Screen is the ordered sequence of tabs, the active tab index, and the
// current full-screen dimensions. Mutated only by the goroutine running
// Run; Snapshot is the only method safe to call concurrently from the
// render path or tests.
type Screen struct {
	mu sync.RWMutex

	Tabs      []*Tab
	ActiveTab int
	Rows      int
	Cols      int

	nextTabID int
}

// New creates an empty Screen sized to rows x cols. The first tab is added
// by the caller via NewTab once the first pane exists.
func New(rows, cols int) *Screen {
	return &Screen{Rows: rows, Cols: cols}
}

// Resize updates the screen's dimensions, used on SIGWINCH.
func (s *Screen) Resize(rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows, s.Cols = rows, cols
}

func (s *Screen) activeTabLocked() *Tab {
	if s.ActiveTab < 0 || s.ActiveTab >= len(s.Tabs) {
		return nil
	}
	return s.Tabs[s.ActiveTab]
}

// ActivePane returns the focused pane of the active tab, or nil if there is
// no active tab or it has no panes.
func (s *Screen) ActivePane() *Pane {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tab := s.activeTabLocked()
	if tab == nil {
		return nil
	}
	return tab.activePaneLocked()
}

// NewTab creates a tab containing exactly one pane and makes it active.
func (s *Screen) NewTab(name string, first *Pane) *Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := newTab(s.nextTabID, name, first)
	s.nextTabID++
	s.Tabs = append(s.Tabs, tab)
	s.ActiveTab = len(s.Tabs) - 1
	return tab
}

// SwitchTabNext / SwitchTabPrev cycle the active tab, wrapping around.
func (s *Screen) SwitchTabNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Tabs) == 0 {
		return
	}
	s.ActiveTab = (s.ActiveTab + 1) % len(s.Tabs)
}

func (s *Screen) SwitchTabPrev() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Tabs) == 0 {
		return
	}
	s.ActiveTab = (s.ActiveTab - 1 + len(s.Tabs)) % len(s.Tabs)
}

// CloseTab removes the active tab. Reports whether the screen now has zero
// tabs (the caller's cue to trigger a session Exit).
func (s *Screen) CloseTab() (empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Tabs) == 0 {
		return true
	}
	s.Tabs = append(s.Tabs[:s.ActiveTab:s.ActiveTab], s.Tabs[s.ActiveTab+1:]...)
	if s.ActiveTab >= len(s.Tabs) {
		s.ActiveTab = len(s.Tabs) - 1
	}
	return len(s.Tabs) == 0
}

// FindPane locates a pane by ID across every tab.
func (s *Screen) FindPane(id PaneID) (*Pane, *Tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tab := range s.Tabs {
		if p, idx := tab.findPane(id); idx >= 0 {
			return p, tab, nil
		}
	}
	return nil, nil, fmt.Errorf("screen: pane %s not found", id.IDString())
}

// AddPaneToActiveTab splits the active tab's focused pane in the given
// direction, inserting newPane.
func (s *Screen) AddPaneToActiveTab(direction SplitDirection, newPane *Pane) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.activeTabLocked()
	if tab == nil {
		return errors.New("screen: no active tab")
	}
	return tab.split(direction, newPane)
}

// ClosePane removes a pane wherever it lives; if that empties its tab, the
// tab itself is removed, and if that empties the screen, empty reports
// true.
func (s *Screen) ClosePane(id PaneID) (empty bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tab := range s.Tabs {
		if _, idx := tab.findPane(id); idx < 0 {
			continue
		}
		tabEmpty, err := tab.closePane(id)
		if err != nil {
			return false, err
		}
		if tabEmpty {
			s.Tabs = append(s.Tabs[:i:i], s.Tabs[i+1:]...)
			if s.ActiveTab >= len(s.Tabs) {
				s.ActiveTab = len(s.Tabs) - 1
			}
		}
		return len(s.Tabs) == 0, nil
	}
	return false, fmt.Errorf("screen: pane %s not found", id.IDString())
}

// CloseFocusedPane closes whichever pane the active tab currently focuses.
func (s *Screen) CloseFocusedPane() (empty bool, closed PaneID, err error) {
	s.mu.Lock()
	tab := s.activeTabLocked()
	if tab == nil {
		s.mu.Unlock()
		return false, PaneID{}, errors.New("screen: no active tab")
	}
	active := tab.activePaneLocked()
	if active == nil {
		s.mu.Unlock()
		return false, PaneID{}, errors.New("screen: no active pane")
	}
	id := active.ID
	s.mu.Unlock()
	empty, err = s.ClosePane(id)
	return empty, id, err
}

// MoveFocus cycles to the next selectable pane in the active tab.
func (s *Screen) MoveFocus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tab := s.activeTabLocked(); tab != nil {
		tab.moveFocus()
	}
}

func (s *Screen) moveFocusDirectional(dir focusDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.activeTabLocked()
	if tab == nil {
		return
	}
	tab.moveFocusDirection(s.Cols, s.Rows, dir)
}

func (s *Screen) resizeDirectional(dir focusDirection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.activeTabLocked()
	if tab == nil {
		return errors.New("screen: no active tab")
	}
	return tab.resizeDirection(dir)
}

// ToggleActiveTerminalFullscreen flips the Fullscreen flag of the active
// tab's focused pane.
func (s *Screen) ToggleActiveTerminalFullscreen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.activeTabLocked()
	if tab == nil {
		return
	}
	if p := tab.activePaneLocked(); p != nil {
		p.Fullscreen = !p.Fullscreen
	}
}

// ApplyLayout replaces the active tab's layout tree with one built from
// preset for the given pane IDs. Reached through the ApplyLayout screen
// instruction; the --layout startup path uses ApplyCustomLayout instead.
func (s *Screen) ApplyLayout(preset LayoutPreset, ids []PaneID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.activeTabLocked()
	if tab == nil {
		return errors.New("screen: no active tab")
	}
	tab.Layout = BuildPresetLayout(preset, ids)
	return nil
}

// ApplyCustomLayout replaces the active tab's layout tree with one already
// built by the caller (internal/layoutfile, zipping a loaded layout file's
// leaves to freshly-spawned PaneIDs) rather than one of the named presets.
func (s *Screen) ApplyCustomLayout(tree *LayoutNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.activeTabLocked()
	if tab == nil {
		return errors.New("screen: no active tab")
	}
	tab.Layout = tree
	return nil
}

// PaneRect computes the on-screen rectangle of a single pane within its
// tab's current geometry, used by the render package.
func (s *Screen) PaneRect(id PaneID) (x, y, w, h int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tab := range s.Tabs {
		if p, idx := tab.findPane(id); idx >= 0 {
			if p.Fullscreen {
				return 0, 0, s.Cols, s.Rows, true
			}
			rects := map[PaneID]rect{}
			computeRects(tab.Layout, rect{0, 0, s.Cols, s.Rows}, rects)
			r, ok := rects[id]
			return r.x, r.y, r.w, r.h, ok
		}
	}
	return 0, 0, 0, 0, false
}

// PaneSnapshot is one pane's renderable state: its rectangle plus the
// attributes the render package needs to decide whether to draw a border
// around it.
type PaneSnapshot struct {
	ID               PaneID
	X, Y, W, H       int
	Active           bool
	InvisibleBorders bool
}

// Snapshot returns the active tab's rows/cols and every visible pane's
// rectangle, read-only and safe to call from the render goroutine
// concurrently with Run's dispatch loop.
func (s *Screen) Snapshot() (rows, cols int, panes []PaneSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tab := s.activeTabLocked()
	if tab == nil {
		return s.Rows, s.Cols, nil
	}

	rects := map[PaneID]rect{}
	computeRects(tab.Layout, rect{0, 0, s.Cols, s.Rows}, rects)

	out := make([]PaneSnapshot, 0, len(tab.Panes))
	for i, p := range tab.Panes {
		x, y, w, h := 0, 0, s.Cols, s.Rows
		if p.Fullscreen {
			if i != tab.ActivePane {
				continue
			}
		} else if r, ok := rects[p.ID]; ok {
			x, y, w, h = r.x, r.y, r.w, r.h
		} else {
			continue
		}
		out = append(out, PaneSnapshot{
			ID:               p.ID,
			X:                x,
			Y:                y,
			W:                w,
			H:                h,
			Active:           i == tab.ActivePane,
			InvisibleBorders: p.InvisibleBorders,
		})
	}
	return s.Rows, s.Cols, out
}

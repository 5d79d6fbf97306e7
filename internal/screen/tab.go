package screen

import (
	"errors"
	"fmt"
)

// Tab is an ordered collection of panes, a tiling layout and a single
// focused pane, per the data model. Created on explicit new-tab or at
// startup via the default layout; destroyed when its last pane closes or on
// explicit close-tab.
type Tab struct {
	ID     int
	Name   string
	Panes  []*Pane
	Layout *LayoutNode
	// ActivePane is the index into Panes of the focused pane. Exactly one
	// pane is focused whenever len(Panes) > 0.
	ActivePane int
}

func newTab(id int, name string, first *Pane) *Tab {
	first.Active = true
	first.Selectable = true
	return &Tab{
		ID:         id,
		Name:       name,
		Panes:      []*Pane{first},
		Layout:     newLeafLayout(first.ID),
		ActivePane: 0,
	}
}

func (t *Tab) findPane(id PaneID) (*Pane, int) {
	for i, p := range t.Panes {
		if p.ID == id {
			return p, i
		}
	}
	return nil, -1
}

func (t *Tab) activePaneLocked() *Pane {
	if t.ActivePane < 0 || t.ActivePane >= len(t.Panes) {
		return nil
	}
	return t.Panes[t.ActivePane]
}

func (t *Tab) setFocus(idx int) {
	for i, p := range t.Panes {
		p.Active = i == idx
	}
	t.ActivePane = idx
}

// split inserts newPane beside the tab's currently focused pane in the
// given direction and focuses the new pane.
func (t *Tab) split(direction SplitDirection, newPane *Pane) error {
	active := t.activePaneLocked()
	if active == nil {
		return errors.New("screen: split with no active pane")
	}
	nextLayout, ok := splitLayout(t.Layout, active.ID, direction, newPane.ID)
	if !ok {
		return fmt.Errorf("screen: pane %s not found in layout", active.ID.IDString())
	}
	t.Layout = nextLayout
	newPane.Selectable = true
	t.Panes = append(t.Panes, newPane)
	t.setFocus(len(t.Panes) - 1)
	return nil
}

// moveFocusDirection shifts focus to the selectable pane whose rectangle is
// the nearest neighbor in the given direction, per the layout tree's
// current geometry. No-op if no such pane exists.
func (t *Tab) moveFocusDirection(cols, rows int, dir focusDirection) {
	active := t.activePaneLocked()
	if active == nil {
		return
	}
	rects := map[PaneID]rect{}
	computeRects(t.Layout, rect{0, 0, cols, rows}, rects)
	from, ok := rects[active.ID]
	if !ok {
		return
	}

	var best *Pane
	var bestDist int
	for _, p := range t.Panes {
		if p.ID == active.ID || !p.Selectable {
			continue
		}
		to, ok := rects[p.ID]
		if !ok || !isInDirection(from, to, dir) {
			continue
		}
		dist := directionalDistance(from, to, dir)
		if best == nil || dist < bestDist {
			best, bestDist = p, dist
		}
	}
	if best == nil {
		return
	}
	_, idx := t.findPane(best.ID)
	t.setFocus(idx)
}

// moveFocus cycles focus to the next selectable pane in pane order.
func (t *Tab) moveFocus() {
	if len(t.Panes) == 0 {
		return
	}
	for i := 1; i <= len(t.Panes); i++ {
		idx := (t.ActivePane + i) % len(t.Panes)
		if t.Panes[idx].Selectable {
			t.setFocus(idx)
			return
		}
	}
}

type focusDirection int

const (
	focusLeft focusDirection = iota
	focusRight
	focusUp
	focusDown
)

func isInDirection(from, to rect, dir focusDirection) bool {
	switch dir {
	case focusLeft:
		return to.x+to.w <= from.x
	case focusRight:
		return to.x >= from.x+from.w
	case focusUp:
		return to.y+to.h <= from.y
	case focusDown:
		return to.y >= from.y+from.h
	}
	return false
}

func directionalDistance(from, to rect, dir focusDirection) int {
	switch dir {
	case focusLeft:
		return from.x - (to.x + to.w)
	case focusRight:
		return to.x - (from.x + from.w)
	case focusUp:
		return from.y - (to.y + to.h)
	case focusDown:
		return to.y - (from.y + from.h)
	}
	return 0
}

// resizeDirection adjusts the ratio of the nearest ancestor split whose
// direction matches dir by 0.05 (kept within 0.1–0.9): Right and Down grow
// the focused pane's side of that split, Left and Up shrink it.
// Mirrors the walk-to-root algebra named in the component design: find the
// path from the layout root to the focused leaf, then nudge the last split
// encountered along the requested axis.
func (t *Tab) resizeDirection(dir focusDirection) error {
	active := t.activePaneLocked()
	if active == nil {
		return errors.New("screen: resize with no active pane")
	}
	axis := SplitVertical
	if dir == focusUp || dir == focusDown {
		axis = SplitHorizontal
	}
	grow := dir == focusRight || dir == focusDown

	path := findPathToLeaf(t.Layout, active.ID, nil)
	for i := len(path) - 1; i >= 0; i-- {
		node := path[i]
		if node.Direction != axis {
			continue
		}
		onFirstChild := i+1 < len(path) && node.Children[0] == path[i+1]
		delta := 0.05
		if (onFirstChild && !grow) || (!onFirstChild && grow) {
			delta = -delta
		}
		node.Ratio += delta
		if node.Ratio < 0.1 {
			node.Ratio = 0.1
		}
		if node.Ratio > 0.9 {
			node.Ratio = 0.9
		}
		return nil
	}
	return nil
}

func findPathToLeaf(node *LayoutNode, id PaneID, path []*LayoutNode) []*LayoutNode {
	if node == nil {
		return nil
	}
	path = append(path, node)
	if node.Type == LayoutLeaf {
		if node.PaneID == id {
			return path
		}
		return nil
	}
	if found := findPathToLeaf(node.Children[0], id, path); found != nil {
		return found
	}
	return findPathToLeaf(node.Children[1], id, path)
}

// closePane removes one pane and promotes its layout sibling. If the closed
// pane had focus, focus moves to the pane that now holds its position in
// pane order (or the last pane); Selectable is not consulted. Reports
// whether the tab is now empty (the caller destroys it in that case).
func (t *Tab) closePane(id PaneID) (empty bool, err error) {
	_, idx := t.findPane(id)
	if idx < 0 {
		return false, fmt.Errorf("screen: pane %s not in tab", id.IDString())
	}
	wasActive := idx == t.ActivePane

	nextLayout, removed := removePaneFromLayout(t.Layout, id)
	if !removed {
		remaining := make([]PaneID, 0, len(t.Panes)-1)
		for _, p := range t.Panes {
			if p.ID != id {
				remaining = append(remaining, p.ID)
			}
		}
		nextLayout = rebuildLayoutFromPaneOrder(remaining)
	}
	t.Layout = nextLayout
	t.Panes = append(t.Panes[:idx:idx], t.Panes[idx+1:]...)
	for i, p := range t.Panes {
		_ = i
		p.Active = false
	}

	if len(t.Panes) == 0 {
		t.ActivePane = 0
		return true, nil
	}
	if wasActive {
		if idx >= len(t.Panes) {
			idx = len(t.Panes) - 1
		}
		t.setFocus(idx)
	} else if t.ActivePane > idx {
		t.setFocus(t.ActivePane - 1)
	} else {
		t.setFocus(t.ActivePane)
	}
	return false, nil
}

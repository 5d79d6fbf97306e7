package screen

import "testing"

func pane(n uint32) *Pane {
	return &Pane{ID: PaneID{Kind: KindTerminal, ID: n}}
}

func TestNewTabMakesFirstPaneActiveAndSelectable(t *testing.T) {
	s := New(24, 80)
	tab := s.NewTab("tab-1", pane(1))

	if len(tab.Panes) != 1 {
		t.Fatalf("len(Panes) = %d, want 1", len(tab.Panes))
	}
	if got := s.ActivePane(); got == nil || got.ID.ID != 1 {
		t.Fatalf("ActivePane() = %v, want pane 1", got)
	}
	if !tab.Panes[0].Selectable {
		t.Fatalf("first pane must be Selectable")
	}
}

func TestAddPaneToActiveTabFocusesNewPane(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))

	if err := s.AddPaneToActiveTab(SplitHorizontal, pane(2)); err != nil {
		t.Fatalf("AddPaneToActiveTab: %v", err)
	}

	got := s.ActivePane()
	if got == nil || got.ID.ID != 2 {
		t.Fatalf("ActivePane() = %v, want pane 2", got)
	}
}

func TestAddPaneToActiveTabWithNoTabFails(t *testing.T) {
	s := New(24, 80)
	if err := s.AddPaneToActiveTab(SplitHorizontal, pane(1)); err == nil {
		t.Fatalf("AddPaneToActiveTab with no active tab should fail")
	}
}

func TestMoveFocusSkipsUnselectablePanes(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))
	if err := s.AddPaneToActiveTab(SplitHorizontal, pane(2)); err != nil {
		t.Fatalf("split: %v", err)
	}

	unselectable := pane(3)
	unselectable.Selectable = false
	if err := s.AddPaneToActiveTab(SplitHorizontal, unselectable); err != nil {
		t.Fatalf("split: %v", err)
	}

	// Active is pane 3, but it's unselectable; split() force-sets Selectable
	// true on insertion, so flip it back off after the split to simulate an
	// unselectable pane mid-tab.
	s.mu.Lock()
	s.Tabs[0].Panes[2].Selectable = false
	s.mu.Unlock()

	s.MoveFocus()
	got := s.ActivePane()
	if got == nil || got.ID.ID == 3 {
		t.Fatalf("MoveFocus landed on an unselectable pane: %v", got)
	}
}

func TestClosePaneRemovesItAndReportsEmptyWhenLast(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))

	empty, err := s.ClosePane(PaneID{Kind: KindTerminal, ID: 1})
	if err != nil {
		t.Fatalf("ClosePane: %v", err)
	}
	if !empty {
		t.Fatalf("ClosePane() empty = false, want true for last pane in last tab")
	}
}

func TestClosePaneUnknownIDErrors(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))

	if _, err := s.ClosePane(PaneID{Kind: KindTerminal, ID: 99}); err == nil {
		t.Fatalf("ClosePane(unknown) should error")
	}
}

func TestCloseFocusedPaneClosesActivePane(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))
	if err := s.AddPaneToActiveTab(SplitHorizontal, pane(2)); err != nil {
		t.Fatalf("split: %v", err)
	}

	empty, closed, err := s.CloseFocusedPane()
	if err != nil {
		t.Fatalf("CloseFocusedPane: %v", err)
	}
	if empty {
		t.Fatalf("empty = true, want false (pane 1 survives)")
	}
	if closed.ID != 2 {
		t.Fatalf("closed = %v, want pane 2", closed)
	}
	if got := s.ActivePane(); got == nil || got.ID.ID != 1 {
		t.Fatalf("ActivePane() after close = %v, want pane 1", got)
	}
}

func TestSwitchTabNextAndPrevWrapAround(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))
	s.NewTab("tab-2", pane(2))

	if s.ActiveTab != 1 {
		t.Fatalf("ActiveTab = %d, want 1 after second NewTab", s.ActiveTab)
	}

	s.SwitchTabNext()
	if s.ActiveTab != 0 {
		t.Fatalf("SwitchTabNext did not wrap: ActiveTab = %d, want 0", s.ActiveTab)
	}

	s.SwitchTabPrev()
	if s.ActiveTab != 1 {
		t.Fatalf("SwitchTabPrev did not wrap: ActiveTab = %d, want 1", s.ActiveTab)
	}
}

func TestCloseTabReportsEmptyWhenLastTabRemoved(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))

	if empty := s.CloseTab(); !empty {
		t.Fatalf("CloseTab() empty = false, want true for the only tab")
	}
}

func TestCloseTabLeavesOtherTabsIntact(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))
	s.NewTab("tab-2", pane(2))

	if empty := s.CloseTab(); empty {
		t.Fatalf("CloseTab() empty = true, want false with one tab remaining")
	}
	if len(s.Tabs) != 1 {
		t.Fatalf("len(Tabs) = %d, want 1", len(s.Tabs))
	}
	if s.Tabs[0].Name != "tab-1" {
		t.Fatalf("remaining tab = %q, want %q", s.Tabs[0].Name, "tab-1")
	}
}

func TestToggleActiveTerminalFullscreenFlipsFlag(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))

	s.ToggleActiveTerminalFullscreen()
	if got := s.ActivePane(); !got.Fullscreen {
		t.Fatalf("Fullscreen = false, want true after first toggle")
	}

	s.ToggleActiveTerminalFullscreen()
	if got := s.ActivePane(); got.Fullscreen {
		t.Fatalf("Fullscreen = true, want false after second toggle")
	}
}

func TestSnapshotFullscreenPaneCoversWholeScreen(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))
	if err := s.AddPaneToActiveTab(SplitHorizontal, pane(2)); err != nil {
		t.Fatalf("split: %v", err)
	}
	// Toggling fullscreen on the active pane (pane 2) only changes that
	// pane's own rect in the snapshot; Snapshot does not hide its sibling.
	s.ToggleActiveTerminalFullscreen()

	rows, cols, panes := s.Snapshot()
	if rows != 24 || cols != 80 {
		t.Fatalf("Snapshot dims = %dx%d, want 24x80", rows, cols)
	}

	var fullscreen *PaneSnapshot
	for i := range panes {
		if panes[i].ID.ID == 2 {
			fullscreen = &panes[i]
		}
	}
	if fullscreen == nil {
		t.Fatalf("fullscreen pane missing from snapshot")
	}
	if fullscreen.W != 80 || fullscreen.H != 24 {
		t.Fatalf("fullscreen pane rect = %dx%d, want 80x24", fullscreen.W, fullscreen.H)
	}
}

func TestPaneRectUnknownPaneReportsNotOK(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))

	if _, _, _, _, ok := s.PaneRect(PaneID{Kind: KindTerminal, ID: 99}); ok {
		t.Fatalf("PaneRect(unknown) ok = true, want false")
	}
}

func TestFindPaneAcrossTabs(t *testing.T) {
	s := New(24, 80)
	s.NewTab("tab-1", pane(1))
	s.NewTab("tab-2", pane(2))

	p, tab, err := s.FindPane(PaneID{Kind: KindTerminal, ID: 1})
	if err != nil {
		t.Fatalf("FindPane: %v", err)
	}
	if p.ID.ID != 1 {
		t.Fatalf("found pane = %v, want pane 1", p.ID)
	}
	if tab.Name != "tab-1" {
		t.Fatalf("found tab = %q, want %q", tab.Name, "tab-1")
	}
}

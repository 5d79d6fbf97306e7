package screen

import "fmt"

// PaneKind discriminates the two PaneId variants: a child PTY or a loaded
// plugin instance.
type PaneKind int

const (
	// KindTerminal panes wrap a child PTY; ID is a per-session counter
	// assigned by the PTY bus, not the PTY's file descriptor.
	KindTerminal PaneKind = iota
	// KindPlugin panes wrap a sandboxed plugin instance; ID is the
	// plugin instance id handed out by the plugin host.
	KindPlugin
)

func (k PaneKind) String() string {
	if k == KindPlugin {
		return "plugin"
	}
	return "terminal"
}

// PaneID is the tagged union named in the data model: Terminal(id) or
// Plugin(instance id). It is comparable, so it can key maps and appear in
// LayoutNode leaves directly.
type PaneID struct {
	Kind PaneKind
	ID   uint32
}

// IDString renders a PaneID the way log lines and render borders reference
// it, e.g. "%3" for terminal pane 3, "plugin:1" for a plugin instance.
func (p PaneID) IDString() string {
	if p.Kind == KindPlugin {
		return fmt.Sprintf("plugin:%d", p.ID)
	}
	return fmt.Sprintf("%%%d", p.ID)
}

// Pane is one rectangle of the tiled screen: either a live terminal or a
// live plugin instance, never both.
type Pane struct {
	ID     PaneID
	Title  string
	Active bool

	// Selectable mirrors SetSelectable: a pane that is not selectable is
	// skipped by MoveFocus but still renders and still receives Pty/Draw
	// updates. Plugin panes commonly start unselectable until they opt in.
	Selectable bool

	// MaxHeight records the value set by SetMaxHeight or a layout file.
	// Layout geometry (computeRects) does not read it, so it does not cap
	// the rows this pane's rectangle occupies.
	MaxHeight int

	// InvisibleBorders suppresses the one-cell border this pane would
	// otherwise render against its siblings.
	InvisibleBorders bool

	// Fullscreen is set by ToggleActiveTerminalFullscreen; while true this
	// pane's rectangle covers the whole tab regardless of the layout tree.
	Fullscreen bool

	Width, Height int

	// ScrollOffset counts lines scrolled back from the live tail; 0 means
	// viewing the live output.
	ScrollOffset int
}

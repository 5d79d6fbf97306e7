package screen

// Kind discriminates the ScreenInstruction variants named in the component
// design — exactly the list the screen goroutine's single switch handles.
type Kind string

const (
	KindPty                            Kind = "Pty"
	KindRender                         Kind = "Render"
	KindNewPane                        Kind = "NewPane"
	KindHorizontalSplit                Kind = "HorizontalSplit"
	KindVerticalSplit                  Kind = "VerticalSplit"
	KindWriteCharacter                 Kind = "WriteCharacter"
	KindResizeLeft                     Kind = "ResizeLeft"
	KindResizeRight                    Kind = "ResizeRight"
	KindResizeUp                       Kind = "ResizeUp"
	KindResizeDown                     Kind = "ResizeDown"
	KindMoveFocus                      Kind = "MoveFocus"
	KindMoveFocusLeft                  Kind = "MoveFocusLeft"
	KindMoveFocusRight                 Kind = "MoveFocusRight"
	KindMoveFocusUp                    Kind = "MoveFocusUp"
	KindMoveFocusDown                  Kind = "MoveFocusDown"
	KindScrollUp                       Kind = "ScrollUp"
	KindScrollDown                     Kind = "ScrollDown"
	KindClearScroll                    Kind = "ClearScroll"
	KindCloseFocusedPane               Kind = "CloseFocusedPane"
	KindClosePane                      Kind = "ClosePane"
	KindSetSelectable                  Kind = "SetSelectable"
	KindSetMaxHeight                   Kind = "SetMaxHeight"
	KindSetInvisibleBorders            Kind = "SetInvisibleBorders"
	KindToggleActiveTerminalFullscreen Kind = "ToggleActiveTerminalFullscreen"
	KindNewTab                         Kind = "NewTab"
	KindSwitchTabNext                  Kind = "SwitchTabNext"
	KindSwitchTabPrev                  Kind = "SwitchTabPrev"
	KindCloseTab                       Kind = "CloseTab"
	KindApplyLayout                    Kind = "ApplyLayout"
	KindExit                           Kind = "Exit"
)

// PtyEvent is the payload of a Pty instruction: raw terminal-emulator
// output state change for one pane. The VTE parser (vt10x) owns the actual
// cell grid; this event is just the "something changed, re-render" signal
// plus the pane it concerns.
type PtyEvent struct {
	Pane PaneID
}

// Instruction is the tagged union the screen goroutine consumes. Exactly
// one of the payload fields is meaningful, selected by Kind — mirroring the
// teacher's discriminated-struct convention rather than an interface type
// switch, since every variant here is a flat bag of fields.
type Instruction struct {
	Kind Kind

	Pane      PaneID
	NewPaneID PaneID
	Bytes     []byte
	Lines     int
	Name      string
	Selectable bool

	// Rows and Cols, when both non-zero on a Render instruction, carry a
	// new full-screen size from a SIGWINCH handler. Zero means "no resize,
	// just repaint".
	Rows int
	Cols int
	MaxHeight  int
	Invisible  bool
	Preset     LayoutPreset
	PaneIDs    []PaneID
	PtyEvent   PtyEvent

	// Reply, when non-nil, receives the instruction's error (nil on
	// success) and is then closed, once the instruction is processed.
	// NewPane, HorizontalSplit, VerticalSplit, NewTab and ApplyLayout reply
	// on it, for callers that need a synchronization point instead of pure
	// fire-and-forget.
	Reply chan error
}

func replyErr(i Instruction, err error) {
	if i.Reply != nil {
		i.Reply <- err
		close(i.Reply)
	}
}

package screen

import (
	"log/slog"

	"mosaic/internal/bus"
)

// Renderer composes and emits the current screen state. Implemented by
// internal/render; kept as a narrow interface here so this package's tests
// don't need a real terminal.
type Renderer interface {
	Render(s *Screen) error
}

// PtyWriter forwards pane input to the owning child process. Implemented by
// internal/ptybus.
type PtyWriter interface {
	Write(pane PaneID, p []byte) error
}

// Deps bundles the collaborators the dispatch loop calls out to without
// importing their packages directly (avoiding an import cycle, since
// ptybus and pluginhost both need to send ScreenInstructions back).
type Deps struct {
	Renderer  Renderer
	PtyWriter PtyWriter
}

// Run is the screen goroutine: a single-threaded state machine that reacts
// to ScreenInstruction variants until it receives Exit or its receiver is
// closed. It never blocks on anything but rx.Recv and Renderer.Render, per
// the concurrency model's "every goroutine blocks only on channel recv or
// file I/O."
func Run(rx bus.Receiver[Instruction], s *Screen, deps Deps) {
	for {
		instr, ctx, ok := rx.Recv()
		if !ok {
			return
		}
		_ = ctx // the receiving loop's own sender.Update(ctx) happens at the call sites that forward instructions onward

		if exit := dispatch(s, deps, instr); exit {
			return
		}

		pending := rx.TryRecvAll()
		renderNeeded := instr.Kind == KindRender
		for _, p := range pending {
			if exit := dispatch(s, deps, p); exit {
				return
			}
			if p.Kind == KindRender {
				renderNeeded = true
			}
		}
		if renderNeeded && deps.Renderer != nil {
			if err := deps.Renderer.Render(s); err != nil {
				slog.Warn("[screen] render failed", "error", err)
			}
		}
	}
}

func dispatch(s *Screen, deps Deps, instr Instruction) (exit bool) {
	switch instr.Kind {
	case KindExit:
		return true

	case KindRender:
		if instr.Rows > 0 && instr.Cols > 0 {
			s.Resize(instr.Rows, instr.Cols)
		}
		// actual repaint handled by the caller once per batch

	case KindPty:
		// VTE state already updated by the PTY reader goroutine; this is
		// purely the "something changed" signal, folded into the render
		// pass below.

	case KindNewPane:
		pane := &Pane{ID: instr.Pane, Selectable: true}
		if len(s.Tabs) == 0 {
			s.NewTab("tab-1", pane)
		} else {
			err := s.AddPaneToActiveTab(SplitHorizontal, pane)
			replyErr(instr, err)
			return false
		}
		replyErr(instr, nil)

	case KindHorizontalSplit:
		pane := &Pane{ID: instr.Pane, Selectable: true}
		replyErr(instr, s.AddPaneToActiveTab(SplitHorizontal, pane))

	case KindVerticalSplit:
		pane := &Pane{ID: instr.Pane, Selectable: true}
		replyErr(instr, s.AddPaneToActiveTab(SplitVertical, pane))

	case KindWriteCharacter:
		if active := s.ActivePane(); active != nil && deps.PtyWriter != nil {
			if err := deps.PtyWriter.Write(active.ID, instr.Bytes); err != nil {
				slog.Warn("[screen] write to pane failed", "pane", active.ID.IDString(), "error", err)
			}
		}

	case KindResizeLeft:
		_ = s.resizeDirectional(focusLeft)
	case KindResizeRight:
		_ = s.resizeDirectional(focusRight)
	case KindResizeUp:
		_ = s.resizeDirectional(focusUp)
	case KindResizeDown:
		_ = s.resizeDirectional(focusDown)

	case KindMoveFocus:
		s.MoveFocus()
	case KindMoveFocusLeft:
		s.moveFocusDirectional(focusLeft)
	case KindMoveFocusRight:
		s.moveFocusDirectional(focusRight)
	case KindMoveFocusUp:
		s.moveFocusDirectional(focusUp)
	case KindMoveFocusDown:
		s.moveFocusDirectional(focusDown)

	case KindScrollUp:
		if p := s.ActivePane(); p != nil {
			p.ScrollOffset += instr.Lines
		}
	case KindScrollDown:
		if p := s.ActivePane(); p != nil {
			p.ScrollOffset -= instr.Lines
			if p.ScrollOffset < 0 {
				p.ScrollOffset = 0
			}
		}
	case KindClearScroll:
		if p := s.ActivePane(); p != nil {
			p.ScrollOffset = 0
		}

	case KindCloseFocusedPane:
		_, _, err := s.CloseFocusedPane()
		if err != nil {
			slog.Warn("[screen] close focused pane failed", "error", err)
		}

	case KindClosePane:
		if _, err := s.ClosePane(instr.Pane); err != nil {
			slog.Warn("[screen] close pane failed", "pane", instr.Pane.IDString(), "error", err)
		}

	case KindSetSelectable:
		if p, _, err := s.FindPane(instr.Pane); err == nil {
			p.Selectable = instr.Selectable
		}
	case KindSetMaxHeight:
		if p, _, err := s.FindPane(instr.Pane); err == nil {
			p.MaxHeight = instr.MaxHeight
		}
	case KindSetInvisibleBorders:
		if p, _, err := s.FindPane(instr.Pane); err == nil {
			p.InvisibleBorders = instr.Invisible
		}

	case KindToggleActiveTerminalFullscreen:
		s.ToggleActiveTerminalFullscreen()

	case KindNewTab:
		pane := &Pane{ID: instr.Pane, Selectable: true}
		s.NewTab(instr.Name, pane)
		replyErr(instr, nil)

	case KindSwitchTabNext:
		s.SwitchTabNext()
	case KindSwitchTabPrev:
		s.SwitchTabPrev()
	case KindCloseTab:
		s.CloseTab()

	case KindApplyLayout:
		replyErr(instr, s.ApplyLayout(instr.Preset, instr.PaneIDs))

	default:
		slog.Warn("[screen] unknown instruction kind, dropping", "kind", instr.Kind)
	}
	return false
}

// NewSender is a convenience constructor matching the other buses' shape,
// kept here so callers don't need to know the underlying bus package's
// generic instantiation syntax.
func NewSender() (bus.Sender[Instruction], bus.Receiver[Instruction]) {
	return bus.NewUnbounded[Instruction]("screen")
}

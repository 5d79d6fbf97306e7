// Package render composes the current screen state into one escape-sequence
// frame and writes it to the host terminal. It implements screen.Renderer,
// so the screen goroutine's dispatch loop never imports it directly.
package render

import (
	"bytes"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"mosaic/internal/screen"
)

// PaneContent supplies the text a pane should display. Source implements
// it as one adapter over internal/paneterm (terminal panes) and
// internal/pluginhost (plugin panes).
type PaneContent interface {
	// Lines returns up to rows lines of content for id, already broken on
	// newlines; each returned line may be any width, narrower or wider than
	// cols — Compose handles clipping and padding.
	Lines(id screen.PaneID, rows, cols int) []string
}

// homeCursor moves to the top-left corner without clearing, so a frame
// that's identical to the last one produces byte-identical output rather
// than a flicker-inducing full erase on every frame.
const homeCursor = "\x1b[H"

// Renderer draws a screen.Screen's current state to Out.
type Renderer struct {
	Panes PaneContent
	Out   io.Writer
}

// New creates a Renderer. Out is typically the host terminal's stdout,
// already switched into the alternate screen by internal/hostterm.
func New(panes PaneContent, out io.Writer) *Renderer {
	return &Renderer{Panes: panes, Out: out}
}

// Render satisfies screen.Renderer: compose the full frame and write it in
// one call, so a torn write on a slow pipe can't interleave with a
// concurrent partial frame.
func (r *Renderer) Render(s *screen.Screen) error {
	frame := Compose(s, r.Panes)
	_, err := io.WriteString(r.Out, frame)
	return err
}

// Compose builds the full-screen character grid for s and serializes it as
// one escape-sequence string. Exported separately from Render so tests can
// check composed output without a real io.Writer.
func Compose(s *screen.Screen, panes PaneContent) string {
	rows, cols, snaps := s.Snapshot()
	if rows <= 0 || cols <= 0 {
		return homeCursor
	}

	grid := newGrid(rows, cols)
	for _, p := range snaps {
		drawPane(grid, p, panes)
	}

	var buf bytes.Buffer
	buf.WriteString(homeCursor)
	for y := 0; y < rows; y++ {
		buf.WriteString(string(grid[y]))
		if y+1 < rows {
			buf.WriteString("\r\n")
		}
	}
	return buf.String()
}

func newGrid(rows, cols int) [][]rune {
	grid := make([][]rune, rows)
	for y := range grid {
		row := make([]rune, cols)
		for x := range row {
			row[x] = ' '
		}
		grid[y] = row
	}
	return grid
}

func drawPane(grid [][]rune, p screen.PaneSnapshot, panes PaneContent) {
	x0, y0, w, h := p.X, p.Y, p.W, p.H
	if w <= 0 || h <= 0 {
		return
	}

	contentX, contentY, contentW, contentH := x0, y0, w, h
	if !p.InvisibleBorders {
		drawBorder(grid, x0, y0, w, h)
		contentX, contentY = x0+1, y0+1
		contentW, contentH = w-2, h-2
	}
	if contentW <= 0 || contentH <= 0 {
		return
	}

	var lines []string
	if panes != nil {
		lines = panes.Lines(p.ID, contentH, contentW)
	}
	for i := 0; i < contentH && i < len(lines); i++ {
		writeLine(grid, contentX, contentY+i, contentW, lines[i])
	}
}

// writeLine clips or pads line to exactly width display columns, accounting
// for wide runes, and blits it at (x,y).
func writeLine(grid [][]rune, x, y, width int, line string) {
	if y < 0 || y >= len(grid) {
		return
	}
	row := grid[y]

	clipped := ansi.Truncate(line, width, "")
	padded := clipped + strings.Repeat(" ", max(0, width-runewidth.StringWidth(clipped)))

	col := x
	for _, ru := range padded {
		if col >= x+width || col >= len(row) {
			break
		}
		row[col] = ru
		col += runeCells(ru)
	}
}

// runeCells is the display width of one rune, treating unmeasurable
// control/combining runes as occupying a single cell.
func runeCells(r rune) int {
	if w := runewidth.RuneWidth(r); w > 0 {
		return w
	}
	return 1
}

func drawBorder(grid [][]rune, x0, y0, w, h int) {
	rows, cols := len(grid), 0
	if rows > 0 {
		cols = len(grid[0])
	}
	set := func(x, y int, r rune) {
		if y >= 0 && y < rows && x >= 0 && x < cols {
			grid[y][x] = r
		}
	}
	for x := x0; x < x0+w; x++ {
		set(x, y0, '-')
		set(x, y0+h-1, '-')
	}
	for y := y0; y < y0+h; y++ {
		set(x0, y, '|')
		set(x0+w-1, y, '|')
	}
	set(x0, y0, '+')
	set(x0+w-1, y0, '+')
	set(x0, y0+h-1, '+')
	set(x0+w-1, y0+h-1, '+')
}


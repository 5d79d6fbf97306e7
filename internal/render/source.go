package render

import (
	"strings"

	"mosaic/internal/paneterm"
	"mosaic/internal/pluginhost"
	"mosaic/internal/screen"
)

// Source adapts the two places pane content actually lives — VTE state for
// terminal panes, a WASM draw call for plugin panes — to the single
// PaneContent interface Compose needs.
type Source struct {
	Panes   *paneterm.Manager
	Plugins *pluginhost.Host
}

// Lines implements PaneContent.
func (s *Source) Lines(id screen.PaneID, rows, cols int) []string {
	if id.Kind == screen.KindPlugin {
		if s.Plugins == nil {
			return nil
		}
		out, err := s.Plugins.Draw(id.ID, rows, cols)
		if err != nil {
			return nil
		}
		return strings.Split(string(out), "\n")
	}
	if s.Panes == nil {
		return nil
	}
	return strings.Split(s.Panes.Snapshot(id.IDString()), "\n")
}

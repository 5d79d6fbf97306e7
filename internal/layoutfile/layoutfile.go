// Package layoutfile loads and saves the declarative layout tree used by
// the --layout startup flag: a tree of horizontal/vertical splits with
// optional ratios and per-leaf attributes (selectable, max-height,
// invisible-borders, and an optional command to run in that pane).
package layoutfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"mosaic/internal/screen"
)

// Node is one node of a layout file's tree. A leaf has an empty Direction
// and no Children; a split has both and no leaf attributes.
type Node struct {
	Direction screen.SplitDirection `yaml:"direction,omitempty"`
	Ratio     float64               `yaml:"ratio,omitempty"`
	Children  []*Node               `yaml:"children,omitempty"`

	// Leaf-only attributes. Zero values are the defaults (selectable,
	// no height cap, bordered).
	Selectable       *bool  `yaml:"selectable,omitempty"`
	MaxHeight        int    `yaml:"max_height,omitempty"`
	InvisibleBorders bool   `yaml:"invisible_borders,omitempty"`
	Command          string `yaml:"command,omitempty"`
}

// IsLeaf reports whether n has no children — the YAML has no separate
// "type" discriminant; a node with children is a split, a node without is
// a leaf, same structural rule the in-memory LayoutNode uses.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// IsSelectable reports n's selectable attribute, defaulting to true when
// unset (an absent "selectable:" key means the normal case).
func (n *Node) IsSelectable() bool {
	return n.Selectable == nil || *n.Selectable
}

// Layout is the top-level document: a name (informational) and the root
// node of the split tree.
type Layout struct {
	Name string `yaml:"name,omitempty"`
	Root *Node  `yaml:"layout"`
}

// Default returns the built-in layout used when no --layout flag is given:
// a single selectable pane filling the whole tab.
func Default() *Layout {
	return &Layout{Name: "default", Root: &Node{}}
}

// Load reads and parses a layout file. A missing file is not an error: the
// caller falls back to Default().
func Load(path string) (*Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("layoutfile: read %s: %w", path, err)
	}
	var l Layout
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("layoutfile: parse %s: %w", path, err)
	}
	if l.Root == nil {
		return nil, fmt.Errorf("layoutfile: %s has no layout tree", path)
	}
	return &l, nil
}

// Save writes l to path as YAML, via a temp-file-plus-rename so a crash
// mid-write never leaves a truncated layout file behind.
func Save(path string, l *Layout) error {
	raw, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("layoutfile: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".layout.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("layoutfile: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("layoutfile: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("layoutfile: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("layoutfile: rename into place: %w", err)
	}
	return nil
}

// Leaves returns l's leaves in left-to-right (depth-first) order — the
// order BuildScreenLayout expects freshly-spawned PaneIDs in.
func Leaves(l *Layout) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.IsLeaf() {
			out = append(out, n)
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(l.Root)
	return out
}

// BuildScreenLayout zips ids, in order, onto l's leaves to produce a
// screen.LayoutNode tree ready for Screen.ApplyCustomLayout. len(ids) must
// equal the leaf count.
func BuildScreenLayout(l *Layout, ids []screen.PaneID) (*screen.LayoutNode, error) {
	leaves := Leaves(l)
	if len(leaves) != len(ids) {
		return nil, fmt.Errorf("layoutfile: layout has %d leaves, got %d panes", len(leaves), len(ids))
	}
	next := 0
	var build func(n *Node) *screen.LayoutNode
	build = func(n *Node) *screen.LayoutNode {
		if n.IsLeaf() {
			id := ids[next]
			next++
			return &screen.LayoutNode{Type: screen.LayoutLeaf, PaneID: id}
		}
		// A file node may list more than two children (an n-way split);
		// fold them pairwise into the binary tree the renderer walks, the
		// same way screen.BuildPresetLayout's buildEvenSplitNodes does.
		built := make([]*screen.LayoutNode, len(n.Children))
		for i, c := range n.Children {
			built[i] = build(c)
		}
		return foldSplit(built, n.Direction, n.Ratio)
	}
	return build(l.Root), nil
}

func foldSplit(nodes []*screen.LayoutNode, dir screen.SplitDirection, ratio float64) *screen.LayoutNode {
	if len(nodes) == 1 {
		return nodes[0]
	}
	mid := len(nodes) / 2
	left := foldSplit(nodes[:mid], dir, 0.5)
	right := foldSplit(nodes[mid:], dir, 0.5)
	r := ratio
	if r <= 0 {
		r = float64(mid) / float64(len(nodes))
	}
	return &screen.LayoutNode{Type: screen.LayoutSplit, Direction: dir, Ratio: r, Children: [2]*screen.LayoutNode{left, right}}
}

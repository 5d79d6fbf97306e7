package screen

// LayoutNodeType is the node category in a tab's pane layout tree.
type LayoutNodeType string

const (
	LayoutLeaf  LayoutNodeType = "leaf"
	LayoutSplit LayoutNodeType = "split"
)

// SplitDirection is the pane split direction.
type SplitDirection string

const (
	SplitHorizontal SplitDirection = "horizontal"
	SplitVertical   SplitDirection = "vertical"
)

// LayoutNode is a binary tree representation of a tab's tiling. Every leaf
// names exactly one live PaneID; every split owns exactly two children and
// a ratio describing how the parent rectangle divides between them. The
// tree's leaves, read left to right, tile the tab's rectangle with no
// overlap and no gap other than single-cell borders — the invariant
// exercised by TestTilingHasNoOverlapOrGap.
type LayoutNode struct {
	Type      LayoutNodeType `yaml:"type"`
	Direction SplitDirection `yaml:"direction,omitempty"`
	Ratio     float64        `yaml:"ratio,omitempty"`
	PaneID    PaneID         `yaml:"pane_id,omitempty"`
	Children  [2]*LayoutNode `yaml:"children,omitempty"`
}

func newLeafLayout(id PaneID) *LayoutNode {
	return &LayoutNode{Type: LayoutLeaf, PaneID: id}
}

func cloneLayout(node *LayoutNode) *LayoutNode {
	if node == nil {
		return nil
	}
	out := &LayoutNode{Type: node.Type, Direction: node.Direction, Ratio: node.Ratio, PaneID: node.PaneID}
	out.Children[0] = cloneLayout(node.Children[0])
	out.Children[1] = cloneLayout(node.Children[1])
	return out
}

// splitLayout replaces the leaf holding targetID with a new split of ratio
// 0.5 whose two children are the original pane and newID, in that order.
// Reports false if targetID was not found anywhere in the tree.
func splitLayout(root *LayoutNode, targetID PaneID, direction SplitDirection, newID PaneID) (*LayoutNode, bool) {
	if root == nil {
		return nil, false
	}
	if root.Type == LayoutLeaf && root.PaneID == targetID {
		return &LayoutNode{
			Type:      LayoutSplit,
			Direction: direction,
			Ratio:     0.5,
			Children:  [2]*LayoutNode{newLeafLayout(targetID), newLeafLayout(newID)},
		}, true
	}
	if root.Type != LayoutSplit {
		return root, false
	}
	if next, ok := splitLayout(root.Children[0], targetID, direction, newID); ok {
		root.Children[0] = next
		return root, true
	}
	if next, ok := splitLayout(root.Children[1], targetID, direction, newID); ok {
		root.Children[1] = next
		return root, true
	}
	return root, false
}

// removePaneFromLayout removes one leaf, promoting its sibling into the
// parent's place so the tree never carries a split with a missing child.
func removePaneFromLayout(root *LayoutNode, id PaneID) (*LayoutNode, bool) {
	if root == nil {
		return nil, false
	}
	if root.Type == LayoutLeaf {
		if root.PaneID == id {
			return nil, true
		}
		return root, false
	}
	if root.Type != LayoutSplit {
		return root, false
	}

	left, removedLeft := removePaneFromLayout(root.Children[0], id)
	right, removedRight := removePaneFromLayout(root.Children[1], id)
	if !removedLeft && !removedRight {
		return root, false
	}
	root.Children[0], root.Children[1] = left, right
	switch {
	case left == nil && right == nil:
		return nil, true
	case left == nil:
		return right, true
	case right == nil:
		return left, true
	default:
		return root, true
	}
}

// rect is a pane's on-screen rectangle in cells, top-left origin.
type rect struct{ x, y, w, h int }

// computeRects walks the layout tree, dividing r between the two children of
// every split node according to its ratio and direction, and returns the
// resulting rectangle for every leaf PaneID.
func computeRects(node *LayoutNode, r rect, out map[PaneID]rect) {
	if node == nil {
		return
	}
	if node.Type == LayoutLeaf {
		out[node.PaneID] = r
		return
	}
	ratio := node.Ratio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	if node.Direction == SplitHorizontal {
		topH := int(float64(r.h) * ratio)
		if topH < 1 {
			topH = 1
		}
		computeRects(node.Children[0], rect{r.x, r.y, r.w, topH}, out)
		computeRects(node.Children[1], rect{r.x, r.y + topH, r.w, r.h - topH}, out)
		return
	}
	leftW := int(float64(r.w) * ratio)
	if leftW < 1 {
		leftW = 1
	}
	computeRects(node.Children[0], rect{r.x, r.y, leftW, r.h}, out)
	computeRects(node.Children[1], rect{r.x + leftW, r.y, r.w - leftW, r.h}, out)
}

// LayoutPreset identifies a named built-in layout arrangement, referenced by
// ApplyLayout.
type LayoutPreset string

const (
	PresetEvenHorizontal LayoutPreset = "even-horizontal"
	PresetEvenVertical   LayoutPreset = "even-vertical"
	PresetMainVertical   LayoutPreset = "main-vertical"
	PresetMainHorizontal LayoutPreset = "main-horizontal"
	PresetTiled          LayoutPreset = "tiled"
)

// BuildPresetLayout creates a layout tree from a preset for the given pane
// IDs, in order.
func BuildPresetLayout(preset LayoutPreset, ids []PaneID) *LayoutNode {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) == 1 {
		return newLeafLayout(ids[0])
	}
	switch preset {
	case PresetEvenHorizontal:
		return buildEvenSplit(ids, SplitVertical)
	case PresetEvenVertical:
		return buildEvenSplit(ids, SplitHorizontal)
	case PresetMainVertical:
		return buildMainSplit(ids, SplitVertical, SplitHorizontal)
	case PresetMainHorizontal:
		return buildMainSplit(ids, SplitHorizontal, SplitVertical)
	case PresetTiled:
		return buildTiledLayout(ids)
	default:
		return buildEvenSplit(ids, SplitVertical)
	}
}

func buildEvenSplit(ids []PaneID, dir SplitDirection) *LayoutNode {
	if len(ids) == 1 {
		return newLeafLayout(ids[0])
	}
	mid := len(ids) / 2
	return &LayoutNode{
		Type:      LayoutSplit,
		Direction: dir,
		Ratio:     float64(mid) / float64(len(ids)),
		Children:  [2]*LayoutNode{buildEvenSplit(ids[:mid], dir), buildEvenSplit(ids[mid:], dir)},
	}
}

func buildMainSplit(ids []PaneID, mainDir, subDir SplitDirection) *LayoutNode {
	if len(ids) <= 2 {
		return buildEvenSplit(ids, mainDir)
	}
	return &LayoutNode{
		Type:      LayoutSplit,
		Direction: mainDir,
		Ratio:     0.6,
		Children:  [2]*LayoutNode{newLeafLayout(ids[0]), buildEvenSplit(ids[1:], subDir)},
	}
}

func buildTiledLayout(ids []PaneID) *LayoutNode {
	n := len(ids)
	if n <= 2 {
		return buildEvenSplit(ids, SplitVertical)
	}
	cols := 2
	if n > 4 {
		cols = 3
	}
	rows := (n + cols - 1) / cols
	rowNodes := make([]*LayoutNode, 0, rows)
	for r := 0; r < rows; r++ {
		start := r * cols
		end := start + cols
		if end > n {
			end = n
		}
		rowNodes = append(rowNodes, buildEvenSplit(ids[start:end], SplitVertical))
	}
	return buildEvenSplitNodes(rowNodes, SplitHorizontal)
}

func buildEvenSplitNodes(nodes []*LayoutNode, dir SplitDirection) *LayoutNode {
	if len(nodes) == 1 {
		return nodes[0]
	}
	mid := len(nodes) / 2
	return &LayoutNode{
		Type:      LayoutSplit,
		Direction: dir,
		Ratio:     float64(mid) / float64(len(nodes)),
		Children:  [2]*LayoutNode{buildEvenSplitNodes(nodes[:mid], dir), buildEvenSplitNodes(nodes[mid:], dir)},
	}
}

func rebuildLayoutFromPaneOrder(ids []PaneID) *LayoutNode {
	var root *LayoutNode
	for _, id := range ids {
		leaf := newLeafLayout(id)
		if root == nil {
			root = leaf
			continue
		}
		root = &LayoutNode{
			Type:      LayoutSplit,
			Direction: SplitHorizontal,
			Ratio:     0.5,
			Children:  [2]*LayoutNode{root, leaf},
		}
	}
	return root
}

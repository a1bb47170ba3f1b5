package main

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// ========================================
// UI hierarchy snapshot (uiautomator dump)
// ========================================

// UINode is one element of a uiautomator dump
type UINode struct {
	XMLName       xml.Name `xml:"node" json:"-"`
	Text          string   `xml:"text,attr" json:"text"`
	ResourceID    string   `xml:"resource-id,attr" json:"resourceId"`
	Class         string   `xml:"class,attr" json:"class"`
	Package       string   `xml:"package,attr" json:"package"`
	ContentDesc   string   `xml:"content-desc,attr" json:"contentDesc"`
	Checkable     bool     `xml:"checkable,attr" json:"checkable"`
	Checked       bool     `xml:"checked,attr" json:"checked"`
	Clickable     bool     `xml:"clickable,attr" json:"clickable"`
	Enabled       bool     `xml:"enabled,attr" json:"enabled"`
	Focusable     bool     `xml:"focusable,attr" json:"focusable"`
	Focused       bool     `xml:"focused,attr" json:"focused"`
	Scrollable    bool     `xml:"scrollable,attr" json:"scrollable"`
	LongClickable bool     `xml:"long-clickable,attr" json:"longClickable"`
	Password      bool     `xml:"password,attr" json:"password"`
	Selected      bool     `xml:"selected,attr" json:"selected"`
	Bounds        string   `xml:"bounds,attr" json:"bounds"`
	Nodes         []UINode `xml:"node" json:"nodes"`

	parent *UINode
}

// UIHierarchy is the <hierarchy> document root
type UIHierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []UINode `xml:"node"`
}

// Screen is a single hierarchy snapshot plus the display size it was taken at
type Screen struct {
	Root   *UINode
	Width  int
	Height int
}

// Parent returns the enclosing node, nil for the root
func (n *UINode) Parent() *UINode {
	return n.parent
}

// Rect returns the parsed bounds; ok is false when bounds are missing or malformed
func (n *UINode) Rect() (BoundsRect, bool) {
	r, err := ParseBounds(n.Bounds)
	if err != nil {
		return BoundsRect{}, false
	}
	return *r, true
}

// Visible reports whether the node occupies a non-empty area on screen
func (n *UINode) Visible() bool {
	r, ok := n.Rect()
	return ok && r.Area() > 0
}

// Actionable reports whether a tap on the node is expected to do something
func (n *UINode) Actionable() bool {
	return n.Clickable && n.Enabled && n.Visible()
}

// Label is the text a user would read for the node
func (n *UINode) Label() string {
	if t := strings.TrimSpace(n.Text); t != "" {
		return t
	}
	return strings.TrimSpace(n.ContentDesc)
}

// Walk visits n and its descendants depth-first until fn returns false
func (n *UINode) Walk(fn func(*UINode) bool) bool {
	if !fn(n) {
		return false
	}
	for i := range n.Nodes {
		if !n.Nodes[i].Walk(fn) {
			return false
		}
	}
	return true
}

// ClickableAncestor returns the nearest actionable ancestor, excluding n itself
func (n *UINode) ClickableAncestor() *UINode {
	for p := n.parent; p != nil; p = p.parent {
		if p.Actionable() {
			return p
		}
	}
	return nil
}

// linkParents fills parent pointers. Nodes are addressed in place so the
// tree must not be copied afterwards.
func linkParents(n *UINode) {
	for i := range n.Nodes {
		n.Nodes[i].parent = n
		linkParents(&n.Nodes[i])
	}
}

// ParseHierarchy turns raw dump output into a linked tree.
// Output is trimmed to the XML document and stray ampersands are escaped first.
func ParseHierarchy(raw string) (*UINode, error) {
	xmlContent := raw
	if startIdx := strings.Index(xmlContent, "<?xml"); startIdx != -1 {
		xmlContent = xmlContent[startIdx:]
	} else if startIdx := strings.Index(xmlContent, "<hierarchy"); startIdx != -1 {
		xmlContent = xmlContent[startIdx:]
	}
	if endIdx := strings.LastIndex(xmlContent, ">"); endIdx != -1 && endIdx < len(xmlContent)-1 {
		xmlContent = xmlContent[:endIdx+1]
	}

	// regexp has no lookahead, so escape everything then undo double escapes
	xmlContent = strings.ReplaceAll(xmlContent, "&", "&amp;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;amp;", "&amp;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;lt;", "&lt;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;gt;", "&gt;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;quot;", "&quot;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;apos;", "&apos;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;#", "&#")

	var doc UIHierarchy
	if err := xml.Unmarshal([]byte(xmlContent), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse UI XML (length: %d): %w", len(xmlContent), err)
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("UI dump contains no nodes")
	}

	var root *UINode
	if len(doc.Nodes) == 1 {
		root = &doc.Nodes[0]
	} else {
		// several windows (dialog over activity): wrap them in one container
		root = &UINode{
			Class:   "android.view.View",
			Package: doc.Nodes[0].Package,
			Bounds:  "[0,0][0,0]",
			Nodes:   doc.Nodes,
		}
	}
	linkParents(root)
	return root, nil
}

// NewScreen links a hand-built tree into a snapshot
func NewScreen(root *UINode, width, height int) *Screen {
	linkParents(root)
	return &Screen{Root: root, Width: width, Height: height}
}

func marshalScreen(s *Screen) ([]byte, error) {
	return json.MarshalIndent(struct {
		Width  int     `json:"width"`
		Height int     `json:"height"`
		Root   *UINode `json:"root"`
	}{s.Width, s.Height, s.Root}, "", "  ")
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

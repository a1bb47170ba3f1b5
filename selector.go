package main

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ========================================
// Element lookup over hierarchy snapshots
// ========================================

var boundsPattern = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// BoundsRect represents parsed bounds coordinates
type BoundsRect struct {
	X1, Y1, X2, Y2 int
}

// ParseBounds parses Android bounds string "[x1,y1][x2,y2]" into BoundsRect
func ParseBounds(bounds string) (*BoundsRect, error) {
	matches := boundsPattern.FindStringSubmatch(bounds)
	if len(matches) != 5 {
		return nil, fmt.Errorf("invalid bounds format: %s", bounds)
	}

	x1, _ := strconv.Atoi(matches[1])
	y1, _ := strconv.Atoi(matches[2])
	x2, _ := strconv.Atoi(matches[3])
	y2, _ := strconv.Atoi(matches[4])

	return &BoundsRect{X1: x1, Y1: y1, X2: x2, Y2: y2}, nil
}

// String formats the rect back into dump notation
func (b BoundsRect) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X1, b.Y1, b.X2, b.Y2)
}

// Center returns the center point of the bounds
func (b BoundsRect) Center() (int, int) {
	return b.X1 + (b.X2-b.X1)/2, b.Y1 + (b.Y2-b.Y1)/2
}

// Contains checks if point (x, y) is inside the bounds
func (b BoundsRect) Contains(x, y int) bool {
	return x >= b.X1 && x <= b.X2 && y >= b.Y1 && y <= b.Y2
}

// Area returns the area of the bounds rectangle
func (b BoundsRect) Area() int {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// SelectorKind is how a Selector matches nodes
type SelectorKind string

const (
	SelectByID           SelectorKind = "id"       // resource-id, exact or ":id/<v>" suffix
	SelectByText         SelectorKind = "text"     // text or content-desc, exact after trim
	SelectByDesc         SelectorKind = "desc"     // content-desc only
	SelectByTextContains SelectorKind = "contains" // case-insensitive substring of text or desc
	SelectByClass        SelectorKind = "class"
)

// Selector describes which nodes to look for. Within, when set, restricts
// matches to nodes whose center lies inside the rect.
type Selector struct {
	Kind   SelectorKind
	Value  string
	Within *BoundsRect
}

// ByID, ByText, ByDesc and Contains are shorthand constructors
func ByID(v string) Selector     { return Selector{Kind: SelectByID, Value: v} }
func ByText(v string) Selector   { return Selector{Kind: SelectByText, Value: v} }
func ByDesc(v string) Selector   { return Selector{Kind: SelectByDesc, Value: v} }
func Contains(v string) Selector { return Selector{Kind: SelectByTextContains, Value: v} }

// In returns a copy of the selector scoped to a screen region
func (s Selector) In(r BoundsRect) Selector {
	s.Within = &r
	return s
}

func (s Selector) String() string {
	if s.Within != nil {
		return fmt.Sprintf("%s=%q in %s", s.Kind, s.Value, s.Within)
	}
	return fmt.Sprintf("%s=%q", s.Kind, s.Value)
}

func (s Selector) matches(n *UINode) bool {
	switch s.Kind {
	case SelectByID:
		if n.ResourceID == "" {
			return false
		}
		if n.ResourceID != s.Value && !strings.HasSuffix(n.ResourceID, ":id/"+s.Value) {
			return false
		}
	case SelectByText:
		v := strings.TrimSpace(s.Value)
		if strings.TrimSpace(n.Text) != v && strings.TrimSpace(n.ContentDesc) != v {
			return false
		}
	case SelectByDesc:
		if n.ContentDesc != s.Value {
			return false
		}
	case SelectByTextContains:
		v := strings.ToLower(s.Value)
		if !strings.Contains(strings.ToLower(n.Text), v) && !strings.Contains(strings.ToLower(n.ContentDesc), v) {
			return false
		}
	case SelectByClass:
		if n.Class != s.Value {
			return false
		}
	default:
		return false
	}

	if s.Within != nil {
		r, ok := n.Rect()
		if !ok {
			return false
		}
		cx, cy := r.Center()
		if !s.Within.Contains(cx, cy) {
			return false
		}
	}
	return true
}

// FindElements returns every visible node matching the selector in document order
func FindElements(root *UINode, sel Selector) []*UINode {
	if root == nil {
		return nil
	}
	return collectMatchingNodes(root, func(n *UINode) bool {
		return n.Visible() && sel.matches(n)
	})
}

// FindElement returns the first visible match, or nil
func FindElement(root *UINode, sel Selector) *UINode {
	var found *UINode
	if root == nil {
		return nil
	}
	root.Walk(func(n *UINode) bool {
		if n.Visible() && sel.matches(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// IsVisible reports whether at least one node matches
func IsVisible(root *UINode, sel Selector) bool {
	return FindElement(root, sel) != nil
}

// GetText returns the trimmed label of the first match
func GetText(root *UINode, sel Selector) (string, bool) {
	n := FindElement(root, sel)
	if n == nil {
		return "", false
	}
	return n.Label(), true
}

// GetBoundingBox returns the bounds of the first match
func GetBoundingBox(root *UINode, sel Selector) (BoundsRect, bool) {
	n := FindElement(root, sel)
	if n == nil {
		return BoundsRect{}, false
	}
	return n.Rect()
}

// FindElementAtPoint returns the deepest node containing the point
func FindElementAtPoint(node *UINode, x, y int) *UINode {
	if node == nil {
		return nil
	}
	r, ok := node.Rect()
	if !ok || r.Area() == 0 {
		for i := range node.Nodes {
			if found := FindElementAtPoint(&node.Nodes[i], x, y); found != nil {
				return found
			}
		}
		return nil
	}
	if !r.Contains(x, y) {
		return nil
	}
	// later siblings are drawn on top
	for i := len(node.Nodes) - 1; i >= 0; i-- {
		if found := FindElementAtPoint(&node.Nodes[i], x, y); found != nil {
			return found
		}
	}
	return node
}

// sortByPosition orders nodes top to bottom, then left to right
func sortByPosition(nodes []*UINode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, _ := nodes[i].Rect()
		rj, _ := nodes[j].Rect()
		if ri.Y1 != rj.Y1 {
			return ri.Y1 < rj.Y1
		}
		return ri.X1 < rj.X1
	})
}

// collectMatchingNodes recursively collects all nodes matching the predicate
func collectMatchingNodes(node *UINode, predicate func(*UINode) bool) []*UINode {
	var results []*UINode
	node.Walk(func(n *UINode) bool {
		if predicate(n) {
			results = append(results, n)
		}
		return true
	})
	return results
}

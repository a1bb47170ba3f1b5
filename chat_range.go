package main

import (
	"fmt"
	"strconv"
	"strings"
)

// maxRangeIndex bounds a single range so a typo cannot allocate millions of positions
const maxRangeIndex = 100000

// ParseChatRange parses a selection such as "300-500" or "1,5,10-20" into
// 1-based list positions. Positions keep their first-seen order and repeats
// are dropped. "" and "all" select everything and return nil.
func ParseChatRange(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		return nil, nil
	}

	var out []int
	seen := make(map[int]bool)
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("invalid range %q: empty element", spec)
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parsePosition(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", spec, err)
		}
		if !isRange {
			add(start)
			continue
		}
		end, err := parsePosition(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", spec, err)
		}
		if start > end {
			return nil, fmt.Errorf("invalid range %q: start %d is after end %d", spec, start, end)
		}
		for n := start; n <= end; n++ {
			add(n)
		}
	}
	return out, nil
}

func parsePosition(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n < 1 || n > maxRangeIndex {
		return 0, fmt.Errorf("position %d out of bounds 1..%d", n, maxRangeIndex)
	}
	return n, nil
}

// maxPosition is how far discovery has to walk to satisfy positions
func maxPosition(positions []int) int {
	m := 0
	for _, p := range positions {
		m = max(m, p)
	}
	return m
}

// selectPositions picks handles by 1-based position. Positions past the end
// of the list are logged and skipped.
func selectPositions(handles []ChatHandle, positions []int) []ChatHandle {
	out := make([]ChatHandle, 0, len(positions))
	for _, p := range positions {
		if p > len(handles) {
			LogWarn("batch").Int("position", p).Int("chats", len(handles)).Msg("range position past the end of the list")
			continue
		}
		out = append(out, handles[p-1])
	}
	return out
}

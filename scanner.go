package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"iter"
	"sort"
	"strings"
)

// ========================================
// ChatListScanner - discovery and bounded bidirectional search
// ========================================

// Direction is the way the list content moves under a swipe
type Direction int

const (
	TowardTop Direction = iota
	TowardBottom
)

func (d Direction) String() string {
	if d == TowardTop {
		return "towardTop"
	}
	return "towardBottom"
}

// ScrollSearchState is one cursor of a Locate call
type ScrollSearchState struct {
	Direction          Direction
	StepsTaken         int
	StepBudget         int
	LastVisibleSetHash uint64
	RetiredEarly       bool

	frontier int // furthest distance from the start position reached, in swipes
	retiredN int // retirement order, 1 = first
}

func (c *ScrollSearchState) exhausted() bool {
	return c.StepsTaken >= c.StepBudget
}

func (c *ScrollSearchState) active() bool {
	return !c.RetiredEarly && !c.exhausted()
}

// ListOptions controls ListChats
type ListOptions struct {
	Order SortOrder
	Limit int
}

// ChatListScanner finds conversations in the home chat list
type ChatListScanner struct {
	session  *DeviceSession
	verifier *SafetyVerifier
	profile  AppProfile
	scan     ScanConfig
}

// NewChatListScanner wires a scanner to a session
func NewChatListScanner(session *DeviceSession, verifier *SafetyVerifier, profile AppProfile, scan ScanConfig) *ChatListScanner {
	return &ChatListScanner{session: session, verifier: verifier, profile: profile, scan: scan}
}

type visibleChat struct {
	name string
	rect BoundsRect
}

// visibleChats returns the chat rows on screen, top to bottom
func (s *ChatListScanner) visibleChats(ctx context.Context) ([]visibleChat, error) {
	screen, err := s.session.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	nodes := FindElements(screen.Root, ByID(s.profile.ChatRowNameID))
	sortByPosition(nodes)

	chats := make([]visibleChat, 0, len(nodes))
	for _, n := range nodes {
		name := strings.TrimSpace(n.Text)
		if name == "" {
			continue
		}
		r, _ := n.Rect()
		chats = append(chats, visibleChat{name: name, rect: r})
	}
	return chats, nil
}

// visibleSetHash fingerprints the ordered visible names
func visibleSetHash(chats []visibleChat) uint64 {
	h := fnv.New64a()
	for _, c := range chats {
		h.Write([]byte(c.name))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func (s *ChatListScanner) handleFor(c visibleChat, index int) ChatHandle {
	x, y := c.rect.Center()
	return ChatHandle{
		DisplayName:  c.name,
		DiscoveredAt: index,
		Verified:     false,
		X:            x,
		Y:            y,
		Interaction:  s.session.Interactions(),
	}
}

func findByName(chats []visibleChat, name string) (int, bool) {
	for i, c := range chats {
		if c.name == name {
			return i, true
		}
	}
	return -1, false
}

// scroll moves the list content one page in dir
func (s *ChatListScanner) scroll(ctx context.Context, dir Direction) error {
	w, h, err := s.session.ScreenSize(ctx)
	if err != nil {
		return err
	}
	x := w / 2
	if dir == TowardBottom {
		return s.session.Swipe(ctx, x, h*5/8, x, h*5/24)
	}
	return s.session.Swipe(ctx, x, h/3, x, h*3/4)
}

// Locate searches for name with two cursors that take turns. Each turn
// doubles the cursor's frontier (1, 2, 4, ... swipes from the start), so the
// trip back across already scanned pages stays linear in the distance
// reached. Those swipes are charged to the moving cursor, so no more than
// 2×budget swipes happen.
// A swipe that leaves the visible set unchanged retires its cursor. When
// both cursors are done, the first one retired gets a single confirming
// lap to catch a conversation that moved while we were scanning.
// Not finding the chat is a normal outcome (false, nil).
func (s *ChatListScanner) Locate(ctx context.Context, name string, budget int) (ChatHandle, bool, error) {
	name = strings.TrimSpace(name)
	if budget <= 0 {
		budget = s.scan.StepBudget
	}
	timer := StartOperation("scanner", "locate").AddDetail("chat", name)

	vis, err := s.visibleChats(ctx)
	if err != nil {
		timer.EndWithError(err)
		return ChatHandle{}, false, err
	}
	if i, ok := findByName(vis, name); ok {
		timer.AddDetail("swipes", 0).End()
		return s.handleFor(vis[i], i), true, nil
	}

	prev := visibleSetHash(vis)
	cursors := []*ScrollSearchState{
		{Direction: TowardTop, StepBudget: budget, LastVisibleSetHash: prev},
		{Direction: TowardBottom, StepBudget: budget, LastVisibleSetHash: prev},
	}
	pos := 0 // net swipes toward bottom from the start position
	retired := 0
	lapUsed := false
	swipes := 0
	turn := 0

	for {
		if err := ctx.Err(); err != nil {
			timer.EndWithError(err)
			return ChatHandle{}, false, err
		}

		var c *ScrollSearchState
		for i := 0; i < len(cursors); i++ {
			cand := cursors[(turn+i)%len(cursors)]
			if cand.active() {
				c = cand
				turn = (turn + i + 1) % len(cursors)
				break
			}
		}

		if c == nil {
			first := firstRetired(cursors)
			if lapUsed || first == nil || first.exhausted() {
				timer.AddDetail("swipes", swipes).AddDetail("found", false).End()
				LogInfo("scanner").Str("chat", name).Int("swipes", swipes).Msg("chat not found in list")
				return ChatHandle{}, false, nil
			}
			lapUsed = true
			first.RetiredEarly = false
			LogDebug("scanner").Str("direction", first.Direction.String()).Msg("confirming lap")
			continue
		}

		sign := 1
		if c.Direction == TowardTop {
			sign = -1
		}
		target := max(1, 2*c.frontier)

		for pos*sign < target && !c.exhausted() {
			if err := s.scroll(ctx, c.Direction); err != nil {
				timer.EndWithError(err)
				return ChatHandle{}, false, err
			}
			c.StepsTaken++
			swipes++

			vis, err := s.visibleChats(ctx)
			if err != nil {
				timer.EndWithError(err)
				return ChatHandle{}, false, err
			}
			if i, ok := findByName(vis, name); ok {
				timer.AddDetail("swipes", swipes).AddDetail("found", true).End()
				return s.handleFor(vis[i], i), true, nil
			}

			h := visibleSetHash(vis)
			c.LastVisibleSetHash = h
			if h == prev {
				retired++
				c.RetiredEarly = true
				c.retiredN = retired
				break
			}
			prev = h
			pos += sign
		}
		if pos*sign > c.frontier {
			c.frontier = pos * sign
		}
	}
}

func firstRetired(cursors []*ScrollSearchState) *ScrollSearchState {
	var first *ScrollSearchState
	for _, c := range cursors {
		if c.retiredN == 0 {
			continue
		}
		if first == nil || c.retiredN < first.retiredN {
			first = c
		}
	}
	return first
}

// scrollToTop swipes toward the top until the visible set stops changing
func (s *ChatListScanner) scrollToTop(ctx context.Context) error {
	vis, err := s.visibleChats(ctx)
	if err != nil {
		return err
	}
	prev := visibleSetHash(vis)
	for i := 0; i < s.scan.StepBudget; i++ {
		if err := s.scroll(ctx, TowardTop); err != nil {
			return err
		}
		vis, err := s.visibleChats(ctx)
		if err != nil {
			return err
		}
		h := visibleSetHash(vis)
		if h == prev {
			return nil
		}
		prev = h
	}
	return nil
}

// walkList calls fn for each newly seen chat from the top of the list down.
// It stops at the end of the list, after ListStallLimit swipes without a new
// name, or when fn returns false.
func (s *ChatListScanner) walkList(ctx context.Context, fn func(ChatHandle) bool) error {
	if err := s.scrollToTop(ctx); err != nil {
		return err
	}

	seen := make(map[string]bool)
	stall := 0
	var prev uint64
	for swipes := 0; swipes <= s.scan.StepBudget; swipes++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		vis, err := s.visibleChats(ctx)
		if err != nil {
			return err
		}
		h := visibleSetHash(vis)
		if swipes > 0 && h == prev {
			return nil
		}
		prev = h

		fresh := 0
		for _, c := range vis {
			if seen[c.name] {
				continue
			}
			seen[c.name] = true
			fresh++
			if !fn(s.handleFor(c, len(seen)-1)) {
				return nil
			}
		}
		if fresh == 0 {
			stall++
			if stall >= s.scan.ListStallLimit {
				return nil
			}
		} else {
			stall = 0
		}

		if err := s.scroll(ctx, TowardBottom); err != nil {
			return err
		}
	}
	return nil
}

// ListChats lazily yields conversations. Every range over the returned
// sequence starts again from a fresh verification and the top of the list.
// Alphabetical order has to see the whole list before yielding.
func (s *ChatListScanner) ListChats(ctx context.Context, opts ListOptions) iter.Seq2[ChatHandle, error] {
	return func(yield func(ChatHandle, error) bool) {
		if err := s.verifier.Require(ctx); err != nil {
			yield(ChatHandle{}, err)
			return
		}

		if opts.Order == OrderAlphabetical {
			var all []ChatHandle
			err := s.walkList(ctx, func(h ChatHandle) bool {
				all = append(all, h)
				return true
			})
			if err != nil {
				yield(ChatHandle{}, fmt.Errorf("list chats: %w", err))
				return
			}
			sort.SliceStable(all, func(i, j int) bool {
				a, b := strings.ToLower(all[i].DisplayName), strings.ToLower(all[j].DisplayName)
				if a != b {
					return a < b
				}
				return all[i].DisplayName < all[j].DisplayName
			})
			if opts.Limit > 0 && len(all) > opts.Limit {
				all = all[:opts.Limit]
			}
			for _, h := range all {
				if !yield(h, nil) {
					return
				}
			}
			return
		}

		count := 0
		stopped := false
		err := s.walkList(ctx, func(h ChatHandle) bool {
			if !yield(h, nil) {
				stopped = true
				return false
			}
			count++
			return opts.Limit <= 0 || count < opts.Limit
		})
		if err != nil && !stopped {
			yield(ChatHandle{}, fmt.Errorf("list chats: %w", err))
		}
	}
}

// CollectChats drains ListChats into a slice
func (s *ChatListScanner) CollectChats(ctx context.Context, opts ListOptions) ([]ChatHandle, error) {
	var out []ChatHandle
	for h, err := range s.ListChats(ctx, opts) {
		if err != nil {
			return out, err
		}
		out = append(out, h)
	}
	return out, nil
}

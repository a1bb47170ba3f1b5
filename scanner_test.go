package main

import (
	"context"
	"errors"
	"testing"
)

func TestLocate_VisibleWithoutSwiping(t *testing.T) {
	d := newFakeDevice(chatNames(20)...)
	app := newTestApp(t, d)

	h, found, err := app.scanner.Locate(context.Background(), "Chat 03", 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !found {
		t.Fatal("Chat 03 is on the first page")
	}
	if d.swipeCount() != 0 {
		t.Errorf("Expected no swipes, got %d", d.swipeCount())
	}
	if h.X != 550 || h.Y != fakeRowTop+2*fakeRowHeight+60 {
		t.Errorf("Unexpected tap point (%d,%d)", h.X, h.Y)
	}
	if h.Verified {
		t.Error("Located handles are not verified until the export opens them")
	}
}

func TestLocate_BelowTheFold(t *testing.T) {
	d := newFakeDevice(chatNames(30)...)
	app := newTestApp(t, d)

	h, found, err := app.scanner.Locate(context.Background(), "Chat 20", 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !found || h.DisplayName != "Chat 20" {
		t.Fatalf("Expected to find Chat 20, got %+v found=%v", h, found)
	}
	if !app.session.Fresh(h) {
		t.Error("A handle returned by Locate should be fresh")
	}
}

func TestLocate_AboveTheStartPosition(t *testing.T) {
	d := newFakeDevice(chatNames(30)...)
	d.offset = 20
	app := newTestApp(t, d)

	_, found, err := app.scanner.Locate(context.Background(), "Chat 02", 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !found {
		t.Fatal("Expected to find Chat 02 by scrolling toward the top")
	}
}

func TestLocate_SwipesBoundedByTwiceTheBudget(t *testing.T) {
	d := newFakeDevice(chatNames(60)...)
	d.offset = 25
	app := newTestApp(t, d)

	budget := 3
	_, found, err := app.scanner.Locate(context.Background(), "Nobody", budget)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if found {
		t.Fatal("Nobody is not in the list")
	}
	if d.swipeCount() > 2*budget {
		t.Errorf("Expected at most %d swipes, got %d", 2*budget, d.swipeCount())
	}
}

func TestLocate_LongListFromTheMiddle(t *testing.T) {
	// 200 chats, five rows per swipe, starting at row 100
	tests := []struct {
		name   string
		target string
	}{
		{"fifteen swipes up", "Chat 26"},
		{"fifteen swipes down", "Chat 179"},
		{"first row", "Chat 01"},
		{"last row", "Chat 200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDevice(chatNames(200)...)
			d.offset = 100
			app := newTestApp(t, d)

			budget := 120
			h, found, err := app.scanner.Locate(context.Background(), tt.target, budget)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !found || h.DisplayName != tt.target {
				t.Fatalf("Expected to find %s, got %+v found=%v after %d swipes", tt.target, h, found, d.swipeCount())
			}
			if d.swipeCount() > 2*budget {
				t.Errorf("Expected at most %d swipes, got %d", 2*budget, d.swipeCount())
			}
		})
	}
}

func TestLocate_NotFoundStopsAtBothEnds(t *testing.T) {
	d := newFakeDevice(chatNames(12)...)
	app := newTestApp(t, d)

	budget := 20
	_, found, err := app.scanner.Locate(context.Background(), "Nobody", budget)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if found {
		t.Fatal("Nobody is not in the list")
	}
	if d.swipeCount() >= 2*budget {
		t.Errorf("Both cursors should retire early on a short list, got %d swipes", d.swipeCount())
	}
}

func TestLocate_ChatMovedToTopDuringScan(t *testing.T) {
	d := newFakeDevice(chatNames(30)...)
	// a new message bumps the chat to the top right after the first swipe down
	d.bumpChat = "Chat 28"
	d.bumpAfterSwipe = 2
	app := newTestApp(t, d)

	h, found, err := app.scanner.Locate(context.Background(), "Chat 28", 20)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !found {
		t.Fatal("The confirming lap should find a chat that moved behind the scan")
	}
	if h.DisplayName != "Chat 28" {
		t.Errorf("Unexpected handle %q", h.DisplayName)
	}
}

func TestLocate_CancelledContext(t *testing.T) {
	d := newFakeDevice(chatNames(30)...)
	app := newTestApp(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := app.scanner.Locate(ctx, "Chat 25", 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestListChats_ListOrder(t *testing.T) {
	d := newFakeDevice(chatNames(20)...)
	app := newTestApp(t, d)

	chats, err := app.scanner.CollectChats(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chats) != 20 {
		t.Fatalf("Expected 20 chats, got %d", len(chats))
	}
	for i, c := range chats {
		if c.DisplayName != chatNames(20)[i] {
			t.Errorf("Position %d: expected %s, got %s", i, chatNames(20)[i], c.DisplayName)
		}
		if c.DiscoveredAt != i {
			t.Errorf("%s: expected DiscoveredAt %d, got %d", c.DisplayName, i, c.DiscoveredAt)
		}
	}
}

func TestListChats_StartsFromTop(t *testing.T) {
	d := newFakeDevice(chatNames(20)...)
	d.offset = 12
	app := newTestApp(t, d)

	chats, err := app.scanner.CollectChats(context.Background(), ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chats) != 1 || chats[0].DisplayName != "Chat 01" {
		t.Errorf("Expected Chat 01 first, got %+v", chats)
	}
}

func TestListChats_Limit(t *testing.T) {
	d := newFakeDevice(chatNames(40)...)
	app := newTestApp(t, d)

	chats, err := app.scanner.CollectChats(context.Background(), ListOptions{Limit: 5})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chats) != 5 {
		t.Fatalf("Expected 5 chats, got %d", len(chats))
	}
	// one swipe to confirm the top, no paging needed for five rows
	if d.swipeCount() > 1 {
		t.Errorf("Expected the walk to stop on the first page, got %d swipes", d.swipeCount())
	}
}

func TestListChats_Alphabetical(t *testing.T) {
	d := newFakeDevice("delta", "Alpha", "charlie", "Bravo")
	app := newTestApp(t, d)

	chats, err := app.scanner.CollectChats(context.Background(), ListOptions{Order: OrderAlphabetical, Limit: 3})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []string{"Alpha", "Bravo", "charlie"}
	if len(chats) != len(want) {
		t.Fatalf("Expected %d chats, got %d", len(want), len(chats))
	}
	for i, name := range want {
		if chats[i].DisplayName != name {
			t.Errorf("Position %d: expected %s, got %s", i, name, chats[i].DisplayName)
		}
	}
}

func TestListChats_RequiresVerification(t *testing.T) {
	d := newFakeDevice(chatNames(5)...)
	d.screen = fakeLauncher
	app := newTestApp(t, d)

	chats, err := app.scanner.CollectChats(context.Background(), ListOptions{})
	if !IsVerificationFailure(err) {
		t.Fatalf("Expected a verification failure, got %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("Nothing should be listed, got %d", len(chats))
	}
	if d.swipeCount() != 0 {
		t.Errorf("No gesture should be sent after a failed verification, got %d swipes", d.swipeCount())
	}
}

func TestListChats_ConsumerStopsEarly(t *testing.T) {
	d := newFakeDevice(chatNames(40)...)
	app := newTestApp(t, d)

	var seen []string
	for h, err := range app.scanner.ListChats(context.Background(), ListOptions{}) {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		seen = append(seen, h.DisplayName)
		if len(seen) == 2 {
			break
		}
	}
	if len(seen) != 2 {
		t.Errorf("Expected 2 chats, got %d", len(seen))
	}
}

func TestVisibleSetHash_OrderMatters(t *testing.T) {
	a := []visibleChat{{name: "Alice"}, {name: "Bob"}}
	b := []visibleChat{{name: "Bob"}, {name: "Alice"}}
	c := []visibleChat{{name: "AliceBob"}}

	if visibleSetHash(a) == visibleSetHash(b) {
		t.Error("Reordered rows should hash differently")
	}
	if visibleSetHash(a) == visibleSetHash(c) {
		t.Error("Name boundaries should be part of the hash")
	}
	if visibleSetHash(a) != visibleSetHash([]visibleChat{{name: "Alice"}, {name: "Bob"}}) {
		t.Error("Equal rows should hash equally")
	}
}

package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// ========================================
// fakeDevice - in-memory chat app, share sheet and upload screen
// ========================================

const (
	fakeWidth  = 1080
	fakeHeight = 2400

	fakeRowTop    = 300
	fakeRowHeight = 200
)

type fakeScreen int

const (
	fakeHome fakeScreen = iota
	fakeConversation
	fakeCommunity
	fakeMenu
	fakeMoreMenu
	fakePrivacy
	fakeMediaDialog
	fakeShare
	fakeDrive
	fakeLauncher
	fakeSettings
	fakeLock
)

type fakeChat struct {
	name            string
	community       bool
	privacyWarnings int  // warnings left to show when export is tapped
	textOnly        bool // export goes straight to the share sheet
	moreSubmenu     bool // export entry sits under "More"
	noExport        bool
}

type fakeUploadMode int

const (
	uploadByStableButton fakeUploadMode = iota
	uploadInRegion
	uploadMissing
)

type hotspot struct {
	r  BoundsRect
	do func()
}

type fakeDevice struct {
	mu sync.Mutex

	chats       []*fakeChat
	rowsPerPage int
	scrollRows  int
	offset      int
	screen      fakeScreen
	current     *fakeChat

	shareReveals int // share sheet swipes before the destination shows
	reveal       int
	destLabel    string
	upload       fakeUploadMode

	lockOverlay bool
	blankUI     bool
	fgErr       error

	// bumpChat moves to the top of the list right after swipe number bumpAfterSwipe
	bumpAfterSwipe int
	bumpChat       string

	onScreen func(fakeScreen)

	taps, swipes, backs int
	mediaChoice         string
	uploads             []string
	launches            []string
	awake               []bool
	closed              bool

	hotspots []hotspot
}

func newFakeDevice(names ...string) *fakeDevice {
	d := &fakeDevice{
		rowsPerPage: 8,
		scrollRows:  5,
		screen:      fakeHome,
		destLabel:   "Drive",
	}
	for _, n := range names {
		d.chats = append(d.chats, &fakeChat{name: n})
	}
	return d
}

// chatNames returns "Chat 01" .. "Chat n"
func chatNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Chat %02d", i+1)
	}
	return out
}

func (d *fakeDevice) chat(name string) *fakeChat {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chats {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (d *fakeDevice) setScreen(s fakeScreen) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screen = s
}

func (d *fakeDevice) currentScreen() fakeScreen {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screen
}

func (d *fakeDevice) swipeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.swipes
}

func (d *fakeDevice) uploaded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uploads...)
}

// goTo switches screens; caller holds mu
func (d *fakeDevice) goTo(s fakeScreen) {
	d.screen = s
	if s == fakeShare {
		d.reveal = 0
	}
	if d.onScreen != nil {
		d.onScreen(s)
	}
}

// ==================== Backend ====================

func (d *fakeDevice) ForegroundApp(ctx context.Context) (ForegroundApp, error) {
	if err := ctx.Err(); err != nil {
		return ForegroundApp{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fgErr != nil {
		return ForegroundApp{}, d.fgErr
	}
	return d.foreground(), nil
}

func (d *fakeDevice) foreground() ForegroundApp {
	switch d.screen {
	case fakeHome:
		return ForegroundApp{Package: "com.whatsapp", Activity: "com.whatsapp.home.ui.HomeActivity"}
	case fakeConversation, fakeMenu, fakeMoreMenu, fakePrivacy, fakeMediaDialog:
		return ForegroundApp{Package: "com.whatsapp", Activity: "com.whatsapp.Conversation"}
	case fakeCommunity:
		return ForegroundApp{Package: "com.whatsapp", Activity: "com.whatsapp.community.CommunityNavigationActivity"}
	case fakeSettings:
		return ForegroundApp{Package: "com.whatsapp", Activity: "com.whatsapp.settings.Settings"}
	case fakeShare:
		return ForegroundApp{Package: "com.android.intentresolver", Activity: "com.android.intentresolver.ChooserActivity"}
	case fakeDrive:
		return ForegroundApp{Package: "com.google.android.apps.docs", Activity: "com.google.android.apps.docs.shareitem.UploadMenuActivity"}
	case fakeLock:
		return ForegroundApp{Package: "com.android.systemui", Activity: "com.android.systemui.keyguard.KeyguardHostActivity"}
	}
	return ForegroundApp{Package: "com.google.android.apps.nexuslauncher", Activity: "com.google.android.apps.nexuslauncher.NexusLauncherActivity"}
}

func (d *fakeDevice) DumpHierarchy(ctx context.Context) (*UINode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.render(), nil
}

func (d *fakeDevice) Tap(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taps++
	d.render()
	for i := len(d.hotspots) - 1; i >= 0; i-- {
		if d.hotspots[i].r.Contains(x, y) {
			d.hotspots[i].do()
			return nil
		}
	}
	return nil
}

func (d *fakeDevice) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.swipes++

	switch d.screen {
	case fakeHome:
		if y1 > y2 {
			d.offset += d.scrollRows
		} else {
			d.offset -= d.scrollRows
		}
		maxOffset := len(d.chats) - d.rowsPerPage
		if maxOffset < 0 {
			maxOffset = 0
		}
		if d.offset > maxOffset {
			d.offset = maxOffset
		}
		if d.offset < 0 {
			d.offset = 0
		}
	case fakeShare:
		if y1 > y2 {
			d.reveal++
		}
	}

	if d.bumpChat != "" && d.swipes == d.bumpAfterSwipe {
		for i, c := range d.chats {
			if c.name == d.bumpChat {
				moved := append([]*fakeChat{c}, d.chats[:i]...)
				d.chats = append(moved, d.chats[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (d *fakeDevice) PressKey(ctx context.Context, keyCode int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if keyCode != KeyBack {
		return fmt.Errorf("unexpected key %d", keyCode)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backs++
	switch d.screen {
	case fakeHome:
		d.goTo(fakeLauncher)
	case fakeConversation, fakeCommunity, fakeSettings:
		d.goTo(fakeHome)
	case fakeMenu, fakeMoreMenu, fakePrivacy, fakeMediaDialog, fakeShare, fakeDrive:
		d.goTo(fakeConversation)
	}
	return nil
}

func (d *fakeDevice) ScreenSize(ctx context.Context) (int, int, error) {
	return fakeWidth, fakeHeight, ctx.Err()
}

func (d *fakeDevice) LaunchApp(ctx context.Context, component string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches = append(d.launches, component)
	if strings.HasPrefix(component, "com.whatsapp/") {
		d.offset = 0
		d.goTo(fakeHome)
	}
	return nil
}

func (d *fakeDevice) KeepAwake(ctx context.Context, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.awake = append(d.awake, on)
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// ==================== Rendering ====================

func rect(x1, y1, x2, y2 int) BoundsRect {
	return BoundsRect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func fakeNode(id, class, text string, r BoundsRect) UINode {
	return UINode{ResourceID: id, Class: class, Text: text, Bounds: r.String(), Enabled: true}
}

// button makes n clickable and registers what a tap on it does; caller holds mu
func (d *fakeDevice) button(n UINode, do func()) UINode {
	n.Clickable = true
	r, _ := n.Rect()
	d.hotspots = append(d.hotspots, hotspot{r: r, do: do})
	return n
}

// render builds the current screen and its hotspots; caller holds mu
func (d *fakeDevice) render() *UINode {
	d.hotspots = nil
	fg := d.foreground()
	root := &UINode{Class: "android.widget.FrameLayout", Package: fg.Package, Bounds: rect(0, 0, fakeWidth, fakeHeight).String(), Enabled: true}

	switch d.screen {
	case fakeHome:
		if !d.blankUI {
			root.Nodes = append(root.Nodes, fakeNode("com.whatsapp:id/toolbar", "android.view.ViewGroup", "", rect(0, 0, fakeWidth, 200)))
			root.Nodes = append(root.Nodes, d.chatRows()...)
		}
	case fakeConversation, fakeMenu, fakeMoreMenu, fakePrivacy, fakeMediaDialog:
		root.Nodes = append(root.Nodes, d.conversation()...)
		switch d.screen {
		case fakeMenu:
			root.Nodes = append(root.Nodes, d.menu(false))
		case fakeMoreMenu:
			root.Nodes = append(root.Nodes, d.menu(true))
		case fakePrivacy:
			root.Nodes = append(root.Nodes, d.privacyDialog())
		case fakeMediaDialog:
			root.Nodes = append(root.Nodes, d.mediaDialog())
		}
	case fakeCommunity:
		root.Nodes = append(root.Nodes,
			fakeNode("com.whatsapp:id/toolbar", "android.view.ViewGroup", "", rect(0, 0, fakeWidth, 200)),
			fakeNode("com.whatsapp:id/community_home_header", "android.widget.TextView", d.current.name, rect(0, 200, fakeWidth, 500)),
		)
	case fakeSettings:
		root.Nodes = append(root.Nodes, fakeNode("com.whatsapp:id/toolbar", "android.view.ViewGroup", "Settings", rect(0, 0, fakeWidth, 200)))
	case fakeShare:
		root.Nodes = append(root.Nodes, d.shareSheet())
	case fakeDrive:
		root.Nodes = append(root.Nodes, d.driveScreen()...)
	case fakeLock:
		root.Nodes = append(root.Nodes, fakeNode("com.android.systemui:id/keyguard_message_area", "android.widget.TextView", "Swipe up to unlock", rect(0, 1800, fakeWidth, 1900)))
	}

	if d.lockOverlay {
		root.Nodes = append(root.Nodes, fakeNode("com.android.systemui:id/lock_icon", "android.widget.ImageView", "", rect(490, 2200, 590, 2300)))
	}
	linkParents(root)
	return root
}

func (d *fakeDevice) chatRows() []UINode {
	var rows []UINode
	for i := 0; i < d.rowsPerPage && d.offset+i < len(d.chats); i++ {
		c := d.chats[d.offset+i]
		y := fakeRowTop + i*fakeRowHeight
		row := d.button(fakeNode("com.whatsapp:id/contact_row_container", "android.widget.RelativeLayout", "", rect(0, y, fakeWidth, y+fakeRowHeight)), func() {
			d.current = c
			if c.community {
				d.goTo(fakeCommunity)
				return
			}
			d.goTo(fakeConversation)
		})
		row.Nodes = []UINode{fakeNode("com.whatsapp:id/conversations_row_contact_name", "android.widget.TextView", c.name, rect(200, y+20, 900, y+100))}
		rows = append(rows, row)
	}
	return rows
}

func (d *fakeDevice) conversation() []UINode {
	toolbar := fakeNode("com.whatsapp:id/toolbar", "android.view.ViewGroup", "", rect(0, 0, fakeWidth, 200))
	title := fakeNode("com.whatsapp:id/conversation_contact_name", "android.widget.TextView", d.current.name, rect(150, 60, 700, 140))
	overflow := d.button(fakeNode("com.whatsapp:id/menuitem_overflow", "android.widget.ImageButton", "", rect(960, 80, 1070, 180)), func() {
		d.goTo(fakeMenu)
	})
	overflow.ContentDesc = "More options"
	toolbar.Nodes = []UINode{title, overflow}
	return []UINode{toolbar}
}

func (d *fakeDevice) menu(sub bool) UINode {
	c := d.current
	type item struct {
		label string
		do    func()
	}
	noop := func() {}
	var items []item
	switch {
	case sub:
		items = []item{{"Report", noop}, {"Block", noop}, {"Export chat", d.exportTapped}}
	case c.noExport:
		items = []item{{"View contact", noop}, {"Search", noop}, {"Clear chat", noop}}
	case c.moreSubmenu:
		items = []item{{"View contact", noop}, {"Search", noop}, {"More", func() { d.goTo(fakeMoreMenu) }}}
	default:
		items = []item{{"View contact", noop}, {"Search", noop}, {"Export chat", d.exportTapped}}
	}

	popup := fakeNode("", "android.widget.ListView", "", rect(500, 100, 1070, 100+len(items)*120))
	for i, it := range items {
		y := 100 + i*120
		popup.Nodes = append(popup.Nodes, d.button(fakeNode("com.whatsapp:id/title", "android.widget.TextView", it.label, rect(500, y, 1070, y+120)), it.do))
	}
	return popup
}

// exportTapped runs from a hotspot; caller holds mu
func (d *fakeDevice) exportTapped() {
	c := d.current
	switch {
	case c.privacyWarnings > 0:
		c.privacyWarnings--
		d.goTo(fakePrivacy)
	case c.textOnly:
		d.goTo(fakeShare)
	default:
		d.goTo(fakeMediaDialog)
	}
}

func (d *fakeDevice) privacyDialog() UINode {
	dialog := fakeNode("android:id/parentPanel", "android.widget.LinearLayout", "", rect(100, 900, 980, 1500))
	dialog.Nodes = []UINode{
		fakeNode("android:id/message", "android.widget.TextView", "Advanced chat privacy is on. This prevents the exporting of chats.", rect(140, 950, 940, 1250)),
		d.button(fakeNode("android:id/button1", "android.widget.Button", "OK", rect(760, 1350, 940, 1450)), func() {
			d.goTo(fakeConversation)
		}),
	}
	return dialog
}

func (d *fakeDevice) mediaDialog() UINode {
	choose := func(label string) func() {
		return func() {
			d.mediaChoice = label
			d.goTo(fakeShare)
		}
	}
	dialog := fakeNode("android:id/parentPanel", "android.widget.LinearLayout", "", rect(100, 900, 980, 1500))
	dialog.Nodes = []UINode{
		fakeNode("android:id/alertTitle", "android.widget.TextView", "Export chat", rect(140, 950, 940, 1050)),
		d.button(fakeNode("android:id/button2", "android.widget.Button", "Without media", rect(300, 1350, 600, 1450)), choose("Without media")),
		d.button(fakeNode("android:id/button1", "android.widget.Button", "Include media", rect(640, 1350, 940, 1450)), choose("Include media")),
	}
	return dialog
}

func (d *fakeDevice) shareSheet() UINode {
	sheet := fakeNode("com.android.intentresolver:id/chooser_scrollable_container", "android.widget.ScrollView", "", rect(0, 1200, fakeWidth, fakeHeight))
	labels := []string{"Messages", "Gmail"}
	if d.reveal >= d.shareReveals {
		labels = append(labels, d.destLabel)
	}
	for i, label := range labels {
		x := 40 + i*260
		target := d.button(fakeNode("com.android.intentresolver:id/item", "android.widget.LinearLayout", "", rect(x, 1300, x+250, 1600)), func() {
			if label == d.destLabel {
				d.goTo(fakeDrive)
			}
		})
		target.Nodes = []UINode{fakeNode("android:id/text1", "android.widget.TextView", label, rect(x+10, 1500, x+240, 1580))}
		sheet.Nodes = append(sheet.Nodes, target)
	}
	return sheet
}

func (d *fakeDevice) driveScreen() []UINode {
	nodes := []UINode{
		fakeNode("com.google.android.apps.docs:id/title", "android.widget.TextView", "Upload to Drive", rect(40, 100, 700, 200)),
	}
	upload := func() {
		d.uploads = append(d.uploads, d.current.name)
		d.goTo(fakeConversation)
	}
	switch d.upload {
	case uploadByStableButton:
		nodes = append(nodes, d.button(fakeNode("com.google.android.apps.docs:id/save_button", "android.widget.Button", "Upload", rect(800, 2200, 1040, 2320)), upload))
	case uploadInRegion:
		nodes = append(nodes, d.button(fakeNode("", "android.widget.Button", "Upload", rect(850, 100, 1050, 220)), upload))
	}
	return nodes
}

// ==================== Test wiring ====================

// testConfig shrinks every wait so failure paths finish quickly
func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Timing = Timing{
		CallTimeout:     time.Second,
		DumpTimeout:     time.Second,
		PollInterval:    time.Millisecond,
		StepTimeout:     60 * time.Millisecond,
		DriveTimeout:    60 * time.Millisecond,
		Backoff:         time.Millisecond,
		BaselineTimeout: time.Second,
	}
	cfg.Scan.StepBudget = 20
	return cfg
}

func newTestApp(t *testing.T, d *fakeDevice) *App {
	t.Helper()
	return NewApp(testConfig(t), d, "fake-device", nil)
}

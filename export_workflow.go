package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatexport/pkg/types"
)

// ========================================
// ExportWorkflow - per-conversation export state machine
// ========================================

// transition moves an attempt out of one state. It returns the state it
// reached; target is the state it is trying to reach and names the failing
// step when it returns an error.
type transition struct {
	target ExportState
	run    func(ctx context.Context, r *exportRun) (ExportState, error)
}

// exportRun is the scratch state of one attempt. Nothing here outlives ExportChat.
type exportRun struct {
	chat      ChatHandle
	withMedia bool

	shareShown     bool // share sheet came up without a media dialog
	uploadStrategy string
}

// ExportWorkflow drives one conversation at a time from the chat list to the
// destination's upload confirmation.
type ExportWorkflow struct {
	session  *DeviceSession
	verifier *SafetyVerifier
	scanner  *ChatListScanner
	profile  AppProfile
	timing   Timing
	scan     ScanConfig
	debugDir string

	transitions map[ExportState]transition
}

// NewExportWorkflow builds the transition table
func NewExportWorkflow(session *DeviceSession, verifier *SafetyVerifier, scanner *ChatListScanner, cfg *Config) *ExportWorkflow {
	w := &ExportWorkflow{
		session:  session,
		verifier: verifier,
		scanner:  scanner,
		profile:  cfg.App,
		timing:   cfg.Timing,
		scan:     cfg.Scan,
		debugDir: cfg.DebugDumpDir,
	}
	w.transitions = map[ExportState]transition{
		StateIdle:                       {target: StateChatOpened, run: w.openChat},
		StateChatOpened:                 {target: StateMenuOpened, run: w.openExportMenu},
		StateMenuOpened:                 {target: StateExportTriggered, run: w.triggerExport},
		StateExportTriggered:            {target: StateMediaChoiceMade, run: w.chooseMedia},
		StateMediaChoiceMade:            {target: StateDestinationAppSelected, run: w.selectDestinationApp},
		StateDestinationAppSelected:     {target: StateDestinationFolderConfirmed, run: w.awaitDestination},
		StateDestinationFolderConfirmed: {target: StateUploadConfirmed, run: w.confirmUpload},
		StateUploadConfirmed:            {target: StateDone, run: w.finish},
	}
	return w
}

// ExportChat runs one conversation to a terminal state and returns the
// finalized attempt. Step-local failures are reported in the attempt, never
// as an error. The device is returned to the chat list afterwards, except
// after a failed verification where no further interaction is safe.
func (w *ExportWorkflow) ExportChat(ctx context.Context, handle ChatHandle, withMedia bool) ExportAttempt {
	attempt := ExportAttempt{
		ID:        uuid.NewString(),
		Chat:      handle,
		WithMedia: withMedia,
		Path:      []ExportState{StateIdle},
		StartedAt: time.Now(),
	}
	timer := StartOperation("export", "export_chat").
		AddDetail("chat", handle.DisplayName).
		AddDetail("attemptId", attempt.ID).
		AddDetail("withMedia", withMedia)

	run := &exportRun{chat: handle, withMedia: withMedia}
	state := StateIdle
	var failing ExportState
	var stepErr error

	for !state.Terminal() {
		t, ok := w.transitions[state]
		if !ok {
			failing, stepErr = state, fmt.Errorf("no transition out of %s", state)
			break
		}
		if err := ctx.Err(); err != nil {
			failing, stepErr = t.target, err
			break
		}
		next, err := t.run(ctx, run)
		if err != nil {
			failing, stepErr = t.target, err
			break
		}
		LogDebug("export").Str("chat", handle.DisplayName).Str("from", string(state)).Str("to", string(next)).Msg("transition")
		state = next
		attempt.Path = append(attempt.Path, state)
	}

	attempt.Chat = run.chat
	attempt.Chat.DisplayName = handle.DisplayName
	if stepErr == nil {
		attempt.Status = types.StatusSucceeded
		attempt.UploadStrategy = run.uploadStrategy
	} else {
		attempt.FailingStep = failing
		attempt.Status, attempt.Reason, attempt.Detail = classifyStepError(stepErr)
		terminal := StateFailed
		if attempt.Status == types.StatusSkippedIncompatible {
			terminal = StateSkipped
		}
		attempt.Path = append(attempt.Path, terminal)
	}

	// Cleanup runs on a detached, bounded context so cancellation still leaves
	// the device at the chat list.
	if attempt.Status != types.StatusSucceeded && w.debugDir != "" {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timing.DumpTimeout)
		if path, err := w.session.DumpDebug(dctx, w.debugDir, handle.DisplayName+"_"+string(failing)); err == nil && path != "" {
			LogInfo("export").Str("file", path).Msg("debug hierarchy written")
		}
		cancel()
	}
	if attempt.Status != types.StatusFailedVerification {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timing.BaselineTimeout)
		if err := w.ReturnToBaseline(bctx); err != nil {
			LogWarn("export").Err(err).Str("chat", handle.DisplayName).Msg("could not return to chat list")
		}
		cancel()
	}

	attempt.FinishedAt = time.Now()
	timer.AddDetail("status", string(attempt.Status)).AddDetail("path", len(attempt.Path))
	if stepErr != nil {
		timer.AddDetail("failingStep", string(failing)).EndWithError(stepErr)
	} else {
		timer.AddDetail("uploadStrategy", attempt.UploadStrategy).End()
	}
	return attempt
}

// classifyStepError maps a transition error onto the attempt outcome
func classifyStepError(err error) (ExportStatus, string, string) {
	var (
		incompatible *IncompatibleChat
		verification *VerificationFailure
		timeout      *NavigationTimeout
		noUpload     *UploadControlNotFound
		step         *StepFailure
	)
	switch {
	case errors.As(err, &incompatible):
		return types.StatusSkippedIncompatible, "incompatible", incompatible.Reason
	case errors.As(err, &verification):
		return types.StatusFailedVerification, string(verification.Result.FailingReason), verification.Result.Detail
	case errors.Is(err, ErrUnverified):
		return types.StatusFailedVerification, "unverified", err.Error()
	case errors.Is(err, ErrChatNotLocated):
		return types.StatusNotLocated, "notLocated", err.Error()
	case errors.As(err, &timeout):
		return types.StatusFailedStep, types.StepReasonTimeout, timeout.Error()
	case errors.As(err, &noUpload):
		return types.StatusFailedStep, types.StepReasonUploadControlNotFound, noUpload.Error()
	case errors.As(err, &step):
		return types.StatusFailedStep, step.Reason, step.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.StatusFailedStep, types.StepReasonCancelled, err.Error()
	}
	return types.StatusFailedStep, types.StepReasonBackendError, err.Error()
}

// ========================================
// Transitions
// ========================================

// openChat: verify, locate, re-verify, tap the row, wait for the conversation
func (w *ExportWorkflow) openChat(ctx context.Context, r *exportRun) (ExportState, error) {
	if err := w.verifier.Require(ctx); err != nil {
		return "", err
	}

	name := r.chat.DisplayName
	h, found, err := w.scanner.Locate(ctx, name, w.scan.StepBudget)
	if err != nil {
		return "", &StepFailure{Step: StateChatOpened, Reason: types.StepReasonBackendError, Err: err}
	}
	if !found {
		return "", ErrChatNotLocated
	}

	if err := w.verifier.Require(ctx); err != nil {
		return "", err
	}
	if !w.session.Fresh(h) {
		LogDebug("export").Str("chat", name).Msg("handle went stale, locating again")
		if h, found, err = w.scanner.Locate(ctx, name, w.scan.StepBudget); err != nil {
			return "", &StepFailure{Step: StateChatOpened, Reason: types.StepReasonBackendError, Err: err}
		} else if !found {
			return "", ErrChatNotLocated
		}
		if err := w.verifier.Require(ctx); err != nil {
			return "", err
		}
	}
	h.Verified = true
	r.chat = h

	if err := w.session.TapGuarded(ctx, h.X, h.Y); err != nil {
		return "", err
	}

	err = w.waitFor(ctx, StateChatOpened, "conversation screen", w.timing.StepTimeout, func(ctx context.Context) (bool, error) {
		fg, err := w.session.Foreground(ctx)
		if err != nil {
			return false, err
		}
		if fg.Package != w.profile.Package {
			return false, nil
		}
		if marker := matchAnyFold(fg.Activity, w.profile.CommunityMarkers); marker != "" {
			return false, &IncompatibleChat{Chat: name, Reason: "community container (" + fg.Activity + ")"}
		}
		screen, err := w.session.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		for _, id := range w.profile.CommunityElementIDs {
			if IsVisible(screen.Root, ByID(id)) {
				return false, &IncompatibleChat{Chat: name, Reason: "community container"}
			}
		}
		return strings.Contains(fg.Activity, w.profile.ConversationMarker), nil
	})
	if err != nil {
		return "", err
	}
	return StateChatOpened, nil
}

// openExportMenu opens the overflow menu down to the export entry, with a
// small bounded retry while the menu renders.
func (w *ExportWorkflow) openExportMenu(ctx context.Context, r *exportRun) (ExportState, error) {
	for attempt := 1; attempt <= w.scan.MenuAttempts; attempt++ {
		if attempt > 1 {
			if err := w.session.Sleep(ctx, w.timing.Backoff); err != nil {
				return "", err
			}
		}
		ok, err := w.tryOpenExportMenu(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return StateMenuOpened, nil
		}
		LogDebug("export").Str("chat", r.chat.DisplayName).Int("attempt", attempt).Msg("export entry not rendered yet")
	}
	return "", &IncompatibleChat{Chat: r.chat.DisplayName, Reason: "no export action in chat menu"}
}

func (w *ExportWorkflow) tryOpenExportMenu(ctx context.Context) (bool, error) {
	screen, err := w.session.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	overflow := w.findOverflow(screen)
	if overflow == nil {
		return false, nil
	}
	if err := w.session.TapNode(ctx, overflow); err != nil {
		return false, err
	}

	exportSel := Contains(w.profile.ExportLabel)
	moreSel := ByText(w.profile.MoreLabel)
	var more *UINode
	found, err := w.pollScreen(ctx, w.timing.StepTimeout, func(s *Screen) bool {
		if IsVisible(s.Root, exportSel) {
			return true
		}
		more = FindElement(s.Root, moreSel)
		return more != nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, w.session.Back(ctx)
	}
	if more == nil {
		return true, nil
	}

	if err := w.session.TapNode(ctx, more); err != nil {
		return false, err
	}
	found, err = w.pollScreen(ctx, w.timing.StepTimeout, func(s *Screen) bool {
		return IsVisible(s.Root, exportSel)
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, w.session.Back(ctx)
	}
	return true, nil
}

// findOverflow tries the stable id, then the accessibility label, then an
// image button in the top-right corner.
func (w *ExportWorkflow) findOverflow(s *Screen) *UINode {
	if n := FindElement(s.Root, ByID(w.profile.OverflowID)); n != nil {
		return n
	}
	if n := FindElement(s.Root, ByDesc(w.profile.OverflowDesc)); n != nil {
		return n
	}
	var found *UINode
	s.Root.Walk(func(n *UINode) bool {
		if !n.Clickable || !n.Visible() {
			return true
		}
		if !strings.HasSuffix(n.Class, "ImageView") && !strings.HasSuffix(n.Class, "ImageButton") {
			return true
		}
		r, _ := n.Rect()
		x, y := r.Center()
		if x > s.Width-200 && y < 400 {
			found = n
			return false
		}
		return true
	})
	return found
}

type triggerOutcome int

const (
	outcomeNone triggerOutcome = iota
	outcomePrivacy
	outcomeMediaDialog
	outcomeShareSheet
)

// triggerExport taps the export entry. A chat-privacy warning is dismissed
// and the trigger retried once; a second warning skips the chat.
func (w *ExportWorkflow) triggerExport(ctx context.Context, r *exportRun) (ExportState, error) {
	for try := 1; ; try++ {
		screen, err := w.session.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		entry := FindElement(screen.Root, Contains(w.profile.ExportLabel))
		if entry == nil {
			return "", &NavigationTimeout{Step: StateExportTriggered, Expect: "export menu entry"}
		}
		if err := w.session.TapNode(ctx, entry); err != nil {
			return "", err
		}

		outcome := outcomeNone
		err = w.waitFor(ctx, StateExportTriggered, "media dialog or share sheet", w.timing.StepTimeout, func(ctx context.Context) (bool, error) {
			o, err := w.observeTrigger(ctx)
			outcome = o
			return o != outcomeNone, err
		})
		if err != nil {
			return "", err
		}

		switch outcome {
		case outcomePrivacy:
			if err := w.dismissWarning(ctx); err != nil {
				return "", err
			}
			if try >= 2 {
				return "", &IncompatibleChat{Chat: r.chat.DisplayName, Reason: "chat privacy warning recurred"}
			}
			LogInfo("export").Str("chat", r.chat.DisplayName).Msg("privacy warning dismissed, retrying export once")
			if _, err := w.openExportMenu(ctx, r); err != nil {
				return "", err
			}
			continue
		case outcomeShareSheet:
			r.shareShown = true
		}
		return StateExportTriggered, nil
	}
}

func (w *ExportWorkflow) observeTrigger(ctx context.Context) (triggerOutcome, error) {
	screen, err := w.session.Snapshot(ctx)
	if err != nil {
		return outcomeNone, err
	}
	if w.privacyWarning(screen) != nil {
		return outcomePrivacy, nil
	}
	if IsVisible(screen.Root, Contains(w.profile.IncludeMedia)) || IsVisible(screen.Root, Contains(w.profile.WithoutMedia)) {
		return outcomeMediaDialog, nil
	}
	if w.shareSheetVisible(screen) {
		return outcomeShareSheet, nil
	}
	fg, err := w.session.Foreground(ctx)
	if err != nil {
		return outcomeNone, err
	}
	if fg.Package == w.profile.SharePackage {
		return outcomeShareSheet, nil
	}
	return outcomeNone, nil
}

func (w *ExportWorkflow) privacyWarning(s *Screen) *UINode {
	for _, text := range w.profile.PrivacyTexts {
		if n := FindElement(s.Root, Contains(text)); n != nil {
			return n
		}
	}
	return nil
}

func (w *ExportWorkflow) shareSheetVisible(s *Screen) bool {
	for _, id := range w.profile.ShareContainerIDs {
		if IsVisible(s.Root, ByID(id)) {
			return true
		}
	}
	return false
}

// dismissWarning acknowledges a modal: the OK button by text, its clickable
// container, the text itself, and the back key when nothing matches.
func (w *ExportWorkflow) dismissWarning(ctx context.Context) error {
	screen, err := w.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, label := range w.profile.DismissLabels {
		n := FindElement(screen.Root, ByText(label))
		if n == nil {
			continue
		}
		if err := w.session.TapNode(ctx, tapTarget(n)); err != nil {
			return err
		}
		return w.session.Sleep(ctx, w.timing.Backoff)
	}
	LogDebug("export").Msg("no dismiss button, pressing back")
	if err := w.session.Back(ctx); err != nil {
		return err
	}
	return w.session.Sleep(ctx, w.timing.Backoff)
}

// tapTarget prefers the node itself when actionable, then its nearest actionable ancestor
func tapTarget(n *UINode) *UINode {
	if n.Actionable() {
		return n
	}
	if a := n.ClickableAncestor(); a != nil {
		return a
	}
	return n
}

// chooseMedia picks with or without media. Text-only chats skip the dialog
// and go straight to the share sheet, which makes the choice implicit.
func (w *ExportWorkflow) chooseMedia(ctx context.Context, r *exportRun) (ExportState, error) {
	if r.shareShown {
		LogDebug("export").Str("chat", r.chat.DisplayName).Msg("no media dialog, share sheet already open")
		return StateMediaChoiceMade, nil
	}
	label := w.profile.WithoutMedia
	if r.withMedia {
		label = w.profile.IncludeMedia
	}
	var option *UINode
	found, err := w.pollScreen(ctx, w.timing.StepTimeout, func(s *Screen) bool {
		option = FindElement(s.Root, Contains(label))
		return option != nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", &NavigationTimeout{Step: StateMediaChoiceMade, Expect: label, Waited: w.timing.StepTimeout}
	}
	if err := w.session.TapNode(ctx, tapTarget(option)); err != nil {
		return "", err
	}
	return StateMediaChoiceMade, nil
}

// selectDestinationApp waits for the share sheet and picks the destination by
// its primary label, then its secondary one, revealing more targets between tries.
func (w *ExportWorkflow) selectDestinationApp(ctx context.Context, r *exportRun) (ExportState, error) {
	err := w.waitFor(ctx, StateDestinationAppSelected, "share sheet", w.timing.StepTimeout, func(ctx context.Context) (bool, error) {
		screen, err := w.session.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		if w.shareSheetVisible(screen) {
			return true, nil
		}
		fg, err := w.session.Foreground(ctx)
		if err != nil {
			return false, err
		}
		return fg.Package == w.profile.SharePackage, nil
	})
	if err != nil {
		return "", err
	}

	w0, h0, err := w.session.ScreenSize(ctx)
	if err != nil {
		return "", err
	}
	for reveal := 0; reveal <= w.scan.RevealSwipes; reveal++ {
		if reveal > 0 {
			if err := w.session.Swipe(ctx, w0/2, h0*85/100, w0/2, h0*35/100); err != nil {
				return "", err
			}
			if err := w.session.Sleep(ctx, w.timing.PollInterval); err != nil {
				return "", err
			}
		}
		screen, err := w.session.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		for _, label := range w.profile.DestinationLabels {
			n := FindElement(screen.Root, ByText(label))
			if n == nil {
				continue
			}
			if err := w.session.TapNode(ctx, tapTarget(n)); err != nil {
				return "", err
			}
			ExportLog().Str("chat", r.chat.DisplayName).Str("destination", label).Int("reveals", reveal).Msg("destination selected")
			return StateDestinationAppSelected, nil
		}
	}
	return "", &StepFailure{
		Step:   StateDestinationAppSelected,
		Reason: types.StepReasonDestinationNotFound,
		Err:    fmt.Errorf("none of %q visible after %d reveal swipes", w.profile.DestinationLabels, w.scan.RevealSwipes),
	}
}

// awaitDestination polls the foreground until the destination app takes over
func (w *ExportWorkflow) awaitDestination(ctx context.Context, r *exportRun) (ExportState, error) {
	err := w.waitFor(ctx, StateDestinationFolderConfirmed, "destination app", w.timing.DriveTimeout, func(ctx context.Context) (bool, error) {
		fg, err := w.session.Foreground(ctx)
		if err != nil {
			return false, err
		}
		for _, pkg := range w.profile.DestinationPackages {
			if fg.Package == pkg {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return StateDestinationFolderConfirmed, nil
}

// confirmUpload runs the upload strategies until one finds a unique control
func (w *ExportWorkflow) confirmUpload(ctx context.Context, r *exportRun) (ExportState, error) {
	deadline := time.Now().Add(w.timing.StepTimeout)
	for {
		screen, err := w.session.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		node, strategy, tried := selectUploadControl(screen, w.profile)
		if node != nil {
			if err := w.session.TapNode(ctx, node); err != nil {
				return "", err
			}
			r.uploadStrategy = strategy
			ExportLog().Str("chat", r.chat.DisplayName).Str("strategy", strategy).Msg("upload confirmed")
			return StateUploadConfirmed, nil
		}
		if time.Now().After(deadline) {
			return "", &UploadControlNotFound{Tried: tried}
		}
		if err := w.session.Sleep(ctx, w.timing.PollInterval); err != nil {
			return "", err
		}
	}
}

// finish only records that the transfer was handed over; it completes asynchronously
func (w *ExportWorkflow) finish(ctx context.Context, r *exportRun) (ExportState, error) {
	return StateDone, nil
}

// ========================================
// Baseline
// ========================================

// ReturnToBaseline brings the device back to the chat list. Back is only
// pressed while one of the apps this workflow drives is in front; when that
// is not enough the target app is launched again, but never over a lock screen.
func (w *ExportWorkflow) ReturnToBaseline(ctx context.Context) error {
	for i := 0; ; i++ {
		fg, err := w.session.Foreground(ctx)
		if err != nil {
			return fmt.Errorf("return to baseline: %w", err)
		}
		if w.atBaseline(fg) {
			LogDebug("export").Int("backPresses", i).Msg("at chat list")
			return nil
		}
		if i >= w.scan.MaxBackPresses || !w.drivenPackage(fg.Package) {
			break
		}
		if err := w.session.Back(ctx); err != nil {
			return fmt.Errorf("return to baseline: %w", err)
		}
		if err := w.session.Sleep(ctx, w.timing.PollInterval); err != nil {
			return err
		}
	}

	fg, err := w.session.Foreground(ctx)
	if err != nil {
		return fmt.Errorf("return to baseline: query foreground: %w", err)
	}
	if err := w.verifier.RequireUnlocked(ctx); err != nil {
		return fmt.Errorf("return to baseline: %w", err)
	}
	component := w.profile.Package + "/" + w.profile.LaunchActivity
	LogInfo("export").Str("component", component).Str("foreground", fg.Component()).Msg("relaunching app to reach chat list")
	if err := w.session.Launch(ctx, component); err != nil {
		return fmt.Errorf("return to baseline: %w", err)
	}
	return w.waitFor(ctx, StateIdle, "chat list", w.timing.StepTimeout, func(ctx context.Context) (bool, error) {
		fg, err := w.session.Foreground(ctx)
		if err != nil {
			return false, err
		}
		return w.atBaseline(fg), nil
	})
}

func (w *ExportWorkflow) atBaseline(fg ForegroundApp) bool {
	return fg.Package == w.profile.Package && matchAny(fg.Activity, w.profile.HomeMarkers) != ""
}

func (w *ExportWorkflow) drivenPackage(pkg string) bool {
	if pkg == w.profile.Package || pkg == w.profile.SharePackage {
		return true
	}
	for _, p := range w.profile.DestinationPackages {
		if pkg == p {
			return true
		}
	}
	return false
}

// ========================================
// Polling
// ========================================

// waitFor polls cond every PollInterval until it holds, errors, or timeout elapses
func (w *ExportWorkflow) waitFor(ctx context.Context, step ExportState, expect string, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	start := time.Now()
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Since(start) >= timeout {
			return &NavigationTimeout{Step: step, Expect: expect, Waited: time.Since(start).Round(time.Millisecond)}
		}
		if err := w.session.Sleep(ctx, w.timing.PollInterval); err != nil {
			return err
		}
	}
}

// pollScreen is waitFor over snapshots that reports a timeout as false
func (w *ExportWorkflow) pollScreen(ctx context.Context, timeout time.Duration, match func(*Screen) bool) (bool, error) {
	err := w.waitFor(ctx, "", "", timeout, func(ctx context.Context) (bool, error) {
		s, err := w.session.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		return match(s), nil
	})
	var timeoutErr *NavigationTimeout
	if errors.As(err, &timeoutErr) {
		return false, nil
	}
	return err == nil, err
}

// matchAnyFold is matchAny ignoring case
func matchAnyFold(s string, markers []string) string {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}

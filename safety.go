package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatexport/pkg/types"
)

// ========================================
// SafetyVerifier - gate before every unit of work
// ========================================

// SafetyVerifier confirms the target app is in front, on an allowed screen,
// showing its own UI, and that the device is unlocked.
type SafetyVerifier struct {
	session *DeviceSession
	profile AppProfile
	checks  []safetyCheck
}

// safetyCheck is one ordered predicate. pass records its own flag on the result.
type safetyCheck struct {
	reason FailReason
	pass   func(ctx context.Context, p *lazyState, r *VerificationResult) (bool, string, error)
}

// lazyState fetches device state once per Verify call
type lazyState struct {
	session *DeviceSession
	fg      *ForegroundApp
	screen  *Screen
}

func (p *lazyState) foreground(ctx context.Context) (ForegroundApp, error) {
	if p.fg == nil {
		fg, err := p.session.Foreground(ctx)
		if err != nil {
			return ForegroundApp{}, err
		}
		p.fg = &fg
	}
	return *p.fg, nil
}

func (p *lazyState) snapshot(ctx context.Context) (*Screen, error) {
	if p.screen == nil {
		s, err := p.session.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		p.screen = s
	}
	return p.screen, nil
}

// NewSafetyVerifier builds the ordered check list for a profile
func NewSafetyVerifier(session *DeviceSession, profile AppProfile) *SafetyVerifier {
	v := &SafetyVerifier{session: session, profile: profile}
	v.checks = []safetyCheck{
		{reason: types.ReasonPackageMismatch, pass: v.checkPackage},
		{reason: types.ReasonDeniedScreen, pass: v.checkActivity},
		{reason: types.ReasonUINotPresent, pass: v.checkProofUI},
		{reason: types.ReasonDeviceLocked, pass: v.checkUnlocked},
	}
	return v
}

// Verify evaluates the checks in order and stops at the first failure.
// A passing result arms the session's entry gate; a failing one disarms it.
func (v *SafetyVerifier) Verify(ctx context.Context) VerificationResult {
	result := VerificationResult{CheckedAt: time.Now().UnixMilli()}
	p := &lazyState{session: v.session}

	for _, c := range v.checks {
		ok, detail, err := c.pass(ctx, p, &result)
		if err != nil {
			result.FailingReason = types.ReasonBackendUnavailable
			result.Detail = err.Error()
			break
		}
		if !ok {
			result.FailingReason = c.reason
			result.Detail = detail
			break
		}
	}
	if p.fg != nil {
		result.Foreground = *p.fg
	}

	result.OverallOK = result.FailingReason == types.ReasonNone
	if result.OverallOK {
		v.session.armGate()
		LogDebug("safety").Str("foreground", result.Foreground.Component()).Msg("verification passed")
	} else {
		v.session.disarmGate()
		LogWarn("safety").
			Str("reason", string(result.FailingReason)).
			Str("detail", result.Detail).
			Str("foreground", result.Foreground.Component()).
			Msg("verification failed")
	}
	return result
}

// Require runs Verify and converts a failure into a *VerificationFailure
func (v *SafetyVerifier) Require(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := v.Verify(ctx)
	if !r.OverallOK {
		return &VerificationFailure{Result: r}
	}
	return nil
}

func (v *SafetyVerifier) checkPackage(ctx context.Context, p *lazyState, r *VerificationResult) (bool, string, error) {
	fg, err := p.foreground(ctx)
	if err != nil {
		return false, "", err
	}
	r.PackageOK = fg.Package == v.profile.Package
	if !r.PackageOK {
		return false, fmt.Sprintf("foreground package is %q, want %q", fg.Package, v.profile.Package), nil
	}
	return true, "", nil
}

func (v *SafetyVerifier) checkActivity(ctx context.Context, p *lazyState, r *VerificationResult) (bool, string, error) {
	fg, err := p.foreground(ctx)
	if err != nil {
		return false, "", err
	}
	if marker := matchAny(fg.Activity, v.profile.DeniedScreens); marker != "" {
		return false, fmt.Sprintf("activity %q matches denied marker %q", fg.Activity, marker), nil
	}
	r.ActivityOK = true
	return true, "", nil
}

func (v *SafetyVerifier) checkProofUI(ctx context.Context, p *lazyState, r *VerificationResult) (bool, string, error) {
	screen, err := p.snapshot(ctx)
	if err != nil {
		return false, "", err
	}
	for _, id := range v.profile.ProofIDs {
		if IsVisible(screen.Root, ByID(id)) {
			r.UIPresentOK = true
			return true, "", nil
		}
	}
	return false, "none of the proof elements is visible", nil
}

// RequireUnlocked runs only the lock signals, whatever app is in front.
// It guards relaunching the target app, which enters no conversation, and
// leaves the entry gate as it is.
func (v *SafetyVerifier) RequireUnlocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := &lazyState{session: v.session}
	detail, err := v.lockSignal(ctx, p)
	if err != nil {
		return err
	}
	if detail == "" {
		return nil
	}
	r := VerificationResult{
		CheckedAt:     time.Now().UnixMilli(),
		FailingReason: types.ReasonDeviceLocked,
		Detail:        detail,
	}
	if p.fg != nil {
		r.Foreground = *p.fg
	}
	LogWarn("safety").Str("detail", detail).Str("foreground", r.Foreground.Component()).Msg("device locked")
	return &VerificationFailure{Result: r}
}

// lockSignal returns a description of the first lock sign found, or ""
func (v *SafetyVerifier) lockSignal(ctx context.Context, p *lazyState) (string, error) {
	fg, err := p.foreground(ctx)
	if err != nil {
		return "", err
	}
	if marker := matchAny(fg.Activity, v.profile.LockIndicators); marker != "" {
		return fmt.Sprintf("activity %q looks like a lock screen", fg.Activity), nil
	}
	for _, pkg := range v.profile.LockPackages {
		if fg.Package == pkg {
			return fmt.Sprintf("%s is in front", pkg), nil
		}
	}

	screen, err := p.snapshot(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range v.profile.LockElementIDs {
		if IsVisible(screen.Root, ByID(id)) {
			return fmt.Sprintf("unlock prompt %s is visible", id), nil
		}
	}
	return "", nil
}

// checkUnlocked combines three signals: activity name heuristics, unlock
// prompt elements in the tree, and a second package query.
func (v *SafetyVerifier) checkUnlocked(ctx context.Context, p *lazyState, r *VerificationResult) (bool, string, error) {
	detail, err := v.lockSignal(ctx, p)
	if err != nil {
		return false, "", err
	}
	if detail != "" {
		return false, detail, nil
	}

	again, err := v.session.Foreground(ctx)
	if err != nil {
		return false, "", err
	}
	for _, pkg := range v.profile.LockPackages {
		if again.Package == pkg {
			return false, fmt.Sprintf("focus moved to %s", pkg), nil
		}
	}
	if again.Package != v.profile.Package {
		return false, fmt.Sprintf("focus moved to %s during verification", again.Package), nil
	}

	r.UnlockedOK = true
	return true, "", nil
}

// matchAny returns the first marker contained in s, or ""
func matchAny(s string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return m
		}
	}
	return ""
}

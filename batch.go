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

// BatchOptions selects and shapes a batch run
type BatchOptions struct {
	// Chats are explicit display names; empty means every chat in the list
	Chats     []string
	Order     SortOrder
	Limit     int
	// Positions are 1-based places in the discovered list, see ParseChatRange.
	// They take precedence over Limit and cannot be combined with Chats.
	Positions []int
	WithMedia bool

	// Resume skips chats found at the destination or exported in an earlier run
	Resume bool
	Lister DestinationLister
	// Filter is consulted before every chat; a DestinationWatcher may update it mid-run
	Filter *ResumeFilter

	// OnAttempt is called after each finalized attempt
	OnAttempt func(index, total int, attempt ExportAttempt)
}

// RunBatch exports a set of conversations one after another. A failed
// verification before discovery aborts the run with an error; per-chat
// failures are tallied and the run continues, unless verification keeps
// failing MaxConsecutiveVerifyFailure times in a row.
func (a *App) RunBatch(ctx context.Context, opts BatchOptions) (RunSummary, error) {
	if !a.busy.TryLock() {
		return RunSummary{}, ErrDeviceBusy
	}
	defer a.busy.Unlock()

	sum := RunSummary{
		RunID:     uuid.NewString(),
		DeviceID:  a.DeviceID(),
		StartedAt: time.Now(),
	}
	timer := StartOperation("batch", "run_batch").AddDetail("runId", sum.RunID)

	finish := func(err error) (RunSummary, error) {
		sum.FinishedAt = time.Now()
		sum.SettleRemainder()
		if a.history != nil {
			if herr := a.history.FinishRun(sum); herr != nil {
				LogError("batch").Err(herr).Msg("failed to store run summary")
			}
		}
		timer.AddDetail("requested", sum.Requested).
			AddDetail("succeeded", sum.Succeeded).
			AddDetail("skipped", sum.Skipped).
			AddDetail("failed", sum.Failed).
			AddDetail("notAttempted", sum.NotAttempted)
		if err != nil {
			timer.EndWithError(err)
		} else {
			timer.End()
		}
		return sum, err
	}
	abort := func(reason string, err error) (RunSummary, error) {
		sum.Aborted = true
		sum.AbortReason = reason
		LogError("batch").Str("runId", sum.RunID).Str("reason", reason).Msg("batch aborted")
		return finish(err)
	}

	if a.history != nil {
		if err := a.history.CreateRun(sum.RunID, sum.DeviceID, sum.StartedAt); err != nil {
			LogError("batch").Err(err).Msg("failed to create run record")
		}
	}

	if err := a.verifier.Require(ctx); err != nil {
		return abort("verification failed at start", err)
	}

	if a.cfg.Batch.KeepAwake {
		if err := a.session.KeepAwake(ctx, true); err != nil {
			LogWarn("batch").Err(err).Msg("keep awake failed")
		} else {
			defer func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Timing.CallTimeout)
				defer cancel()
				if err := a.session.KeepAwake(rctx, false); err != nil {
					LogWarn("batch").Err(err).Msg("restore screen timeout failed")
				}
			}()
		}
	}

	handles, err := a.batchHandles(ctx, opts)
	if err != nil {
		if IsVerificationFailure(err) {
			return abort("verification failed before discovery", err)
		}
		return abort("chat discovery failed", err)
	}
	sum.Requested = len(handles)

	filter := opts.Filter
	if opts.Resume {
		if filter == nil {
			filter = NewResumeFilter(a.cfg.App.ArtifactPrefix)
		}
		if opts.Lister != nil {
			if err := filter.Load(ctx, opts.Lister); err != nil {
				LogWarn("batch").Err(err).Msg("destination listing unavailable, resuming from history only")
			}
		}
		if a.history != nil {
			chats, err := a.history.ExportedChats(sum.DeviceID)
			if err != nil {
				LogWarn("batch").Err(err).Msg("history unavailable for resume")
			}
			filter.AddChats(chats)
		}
	}

	ExportLog().Str("runId", sum.RunID).Int("chats", len(handles)).Bool("resume", opts.Resume).Msg("batch started")

	consecutive := 0
	for i, h := range handles {
		if err := ctx.Err(); err != nil {
			return abort("cancelled", nil)
		}
		if filter != nil && filter.Exported(h.DisplayName) {
			sum.AlreadyExported++
			LogInfo("batch").Str("chat", h.DisplayName).Msg("already exported, skipping")
			continue
		}

		attempt := a.workflow.ExportChat(ctx, h, opts.WithMedia)
		sum.Add(attempt)
		a.record(sum.RunID, attempt)
		if opts.OnAttempt != nil {
			opts.OnAttempt(i, len(handles), attempt)
		}

		switch attempt.Status {
		case types.StatusFailedVerification:
			consecutive++
			if consecutive >= a.cfg.Batch.MaxConsecutiveVerifyFailure {
				return abort(fmt.Sprintf("%d consecutive verification failures", consecutive), nil)
			}
		case types.StatusSucceeded:
			consecutive = 0
			if filter != nil {
				filter.AddChats([]string{h.DisplayName})
			}
		default:
			consecutive = 0
		}
	}
	return finish(nil)
}

// batchHandles resolves explicit names or discovers the whole list.
// Repeated names collapse into one request.
func (a *App) batchHandles(ctx context.Context, opts BatchOptions) ([]ChatHandle, error) {
	if len(opts.Chats) > 0 && len(opts.Positions) > 0 {
		return nil, errors.New("a range cannot be combined with chat names")
	}
	if len(opts.Positions) > 0 {
		if opts.Limit > 0 {
			LogWarn("batch").Int("limit", opts.Limit).Msg("limit ignored, a range was given")
		}
		all, err := a.scanner.CollectChats(ctx, ListOptions{Order: opts.Order, Limit: maxPosition(opts.Positions)})
		if err != nil {
			return nil, err
		}
		handles := selectPositions(all, opts.Positions)
		if len(handles) == 0 {
			return nil, fmt.Errorf("range selects no chats, the list has %d", len(all))
		}
		return handles, nil
	}
	if len(opts.Chats) == 0 {
		return a.scanner.CollectChats(ctx, ListOptions{Order: opts.Order, Limit: opts.Limit})
	}

	seen := make(map[string]bool, len(opts.Chats))
	handles := make([]ChatHandle, 0, len(opts.Chats))
	for _, name := range opts.Chats {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		handles = append(handles, ChatHandle{DisplayName: name, DiscoveredAt: -1})
	}
	if len(handles) == 0 {
		return nil, errors.New("no chat names given")
	}
	return handles, nil
}

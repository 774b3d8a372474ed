package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrStepTimeout is returned when a lifecycle step outlives its timeout
// and the reset is configured not to proceed past it.
var ErrStepTimeout = errors.New("lifecycle step timed out")

// ResetMode selects what Reset does between stop and start.
type ResetMode string

const (
	// ResetRestart stops and starts the store, forcing a full re-sync.
	ResetRestart ResetMode = "restart"
	// ResetClearAndRestart also wipes local data before starting.
	ResetClearAndRestart ResetMode = "clearAndRestart"
)

// StepOutcome is the result of one lifecycle step.
type StepOutcome string

const (
	StepOK      StepOutcome = "ok"
	StepTimeout StepOutcome = "timeout"
	StepFailed  StepOutcome = "failed"
	StepSkipped StepOutcome = "skipped"
)

// Lifecycle is the part of the store Reset drives.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Clear(ctx context.Context) error
	OutboxDepth(ctx context.Context) (int, error)
	Hub() *Hub
}

// ResetOptions configures Reset. Use DefaultResetOptions for defaults.
type ResetOptions struct {
	Mode ResetMode

	// WaitForOutbox waits up to OutboxTimeout for outboxStatus{isEmpty:true}
	// before stopping. Best-effort: a timeout is not an error.
	WaitForOutbox bool
	OutboxTimeout time.Duration

	StopTimeout  time.Duration
	ClearTimeout time.Duration
	StartTimeout time.Duration

	ProceedOnStopTimeout  bool
	ProceedOnClearTimeout bool
	ProceedOnStartTimeout bool

	Logger *zap.Logger
}

// DefaultResetOptions returns the standard timeouts for mode.
func DefaultResetOptions(mode ResetMode) ResetOptions {
	return ResetOptions{
		Mode:                 mode,
		WaitForOutbox:        true,
		OutboxTimeout:        2 * time.Second,
		StopTimeout:          5 * time.Second,
		ClearTimeout:         5 * time.Second,
		StartTimeout:         5 * time.Second,
		ProceedOnStopTimeout: true,
	}
}

// ResetResult reports what each step did.
type ResetResult struct {
	OutboxEmptyObserved bool        `json:"outboxEmptyObserved"`
	Stop                StepOutcome `json:"stop"`
	Clear               StepOutcome `json:"clear"`
	Start               StepOutcome `json:"start"`
}

// Reset stops the store, optionally clears it, and starts it again.
//
// Stop is wrapped in a timeout that by default is tolerated: a stop that
// hangs on an unreachable remote is logged and the reset carries on.
// Clear and start timeouts fail the reset unless configured otherwise.
func Reset(ctx context.Context, lc Lifecycle, opts ResetOptions) (*ResetResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("reset")

	switch opts.Mode {
	case ResetRestart, ResetClearAndRestart:
	default:
		return nil, fmt.Errorf("invalid reset mode %q", opts.Mode)
	}

	result := &ResetResult{Stop: StepSkipped, Clear: StepSkipped, Start: StepSkipped}

	if opts.WaitForOutbox {
		result.OutboxEmptyObserved = WaitForOutboxEmpty(ctx, lc, opts.OutboxTimeout)
		if !result.OutboxEmptyObserved {
			logger.Warn("outbox not empty before reset", zap.Duration("timeout", opts.OutboxTimeout))
		}
	}

	outcome, err := withTimeout(ctx, opts.StopTimeout, lc.Stop)
	result.Stop = outcome
	if err != nil {
		if outcome == StepTimeout && opts.ProceedOnStopTimeout {
			logger.Warn("stop timed out, proceeding", zap.Duration("timeout", opts.StopTimeout))
		} else {
			return result, fmt.Errorf("failed to stop store: %w", err)
		}
	}

	if opts.Mode == ResetClearAndRestart {
		outcome, err := withTimeout(ctx, opts.ClearTimeout, lc.Clear)
		result.Clear = outcome
		if err != nil {
			if outcome == StepTimeout && opts.ProceedOnClearTimeout {
				logger.Warn("clear timed out, proceeding", zap.Duration("timeout", opts.ClearTimeout))
			} else {
				return result, fmt.Errorf("failed to clear store: %w", err)
			}
		}
	}

	outcome, err = withTimeout(ctx, opts.StartTimeout, lc.Start)
	result.Start = outcome
	if err != nil {
		if outcome == StepTimeout && opts.ProceedOnStartTimeout {
			logger.Warn("start timed out, proceeding", zap.Duration("timeout", opts.StartTimeout))
		} else {
			return result, fmt.Errorf("failed to start store: %w", err)
		}
	}

	logger.Info("reset complete",
		zap.String("mode", string(opts.Mode)),
		zap.String("stop", string(result.Stop)),
		zap.String("clear", string(result.Clear)),
		zap.String("start", string(result.Start)))
	return result, nil
}

// ForceFullSync restarts the store so the engine re-pulls everything.
func ForceFullSync(ctx context.Context, lc Lifecycle, logger *zap.Logger) (*ResetResult, error) {
	opts := DefaultResetOptions(ResetRestart)
	opts.Logger = logger
	return Reset(ctx, lc, opts)
}

// ClearCacheAndResync wipes local data and re-syncs from the remote.
func ClearCacheAndResync(ctx context.Context, lc Lifecycle, logger *zap.Logger) (*ResetResult, error) {
	opts := DefaultResetOptions(ResetClearAndRestart)
	opts.Logger = logger
	return Reset(ctx, lc, opts)
}

// withTimeout runs fn bounded by d. fn gets a context carrying the
// deadline; if it ignores it, withTimeout still returns at the deadline
// and fn is left to finish in the background.
func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) (StepOutcome, error) {
	if d <= 0 {
		if err := fn(ctx); err != nil {
			return StepFailed, err
		}
		return StepOK, nil
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- fn(tctx) }()

	select {
	case err := <-errc:
		switch {
		case err == nil:
			return StepOK, nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return StepTimeout, fmt.Errorf("%w after %v", ErrStepTimeout, d)
		default:
			return StepFailed, err
		}
	case <-tctx.Done():
		if ctx.Err() != nil {
			return StepFailed, ctx.Err()
		}
		return StepTimeout, fmt.Errorf("%w after %v", ErrStepTimeout, d)
	}
}

// WaitForOutboxEmpty waits until the outbox is observed empty, either
// directly or through an outboxStatus{isEmpty:true} event.
func WaitForOutboxEmpty(ctx context.Context, lc Lifecycle, timeout time.Duration) bool {
	empty := make(chan struct{}, 1)
	unsubscribe := lc.Hub().Listen(func(ev Event) {
		if ev.Name != EventOutboxStatus {
			return
		}
		if st, ok := ev.Data.(OutboxStatus); ok && st.IsEmpty {
			select {
			case empty <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if depth, err := lc.OutboxDepth(ctx); err == nil && depth == 0 {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-empty:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// InitialSyncOutcome is the result of WaitForInitialSync.
type InitialSyncOutcome string

const (
	InitialSyncReady   InitialSyncOutcome = "ready"
	InitialSyncFailed  InitialSyncOutcome = "failed"
	InitialSyncTimeout InitialSyncOutcome = "timeout"
)

// SyncWaiter is the part of the store WaitForInitialSync needs.
type SyncWaiter interface {
	Hub() *Hub
	IsSynced() bool
}

// WaitForInitialSync blocks until the first sync is ready, fails, or the
// timeout passes. It never returns an error.
func WaitForInitialSync(ctx context.Context, s SyncWaiter, timeout time.Duration) InitialSyncOutcome {
	outcome := make(chan InitialSyncOutcome, 1)
	unsubscribe := s.Hub().Listen(func(ev Event) {
		var o InitialSyncOutcome
		switch ev.Name {
		case EventSyncQueriesReady:
			o = InitialSyncReady
		case EventSyncQueriesError:
			o = InitialSyncFailed
		default:
			return
		}
		select {
		case outcome <- o:
		default:
		}
	})
	defer unsubscribe()

	if s.IsSynced() {
		return InitialSyncReady
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-outcome:
		return o
	case <-timer.C:
		return InitialSyncTimeout
	case <-ctx.Done():
		return InitialSyncTimeout
	}
}

package transaction

import (
	"context"
	"errors"
	"sync"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// callbackTarget receives the completion callbacks of an external transaction.
type callbackTarget interface {
	ownerActive() bool
	beforeCompletion(ctx context.Context) error
	afterCompletion(ctx context.Context, status Status, delayed bool) error
	markRollbackOnly(ctx context.Context)
}

// registration is one synchronization handed to the platform. Each phase is processed at
// most once per registration.
type registration struct {
	origin     string
	beforeDone bool
	afterDone  bool
}

// callbackCoordinator sequences platform callbacks onto the coordinator. The platform may
// deliver them from any goroutine.
type callbackCoordinator interface {
	beforeCompletion(ctx context.Context, reg *registration) error
	afterCompletion(ctx context.Context, reg *registration, status Status) error
	// processDelayed runs completion work that could not run where it was delivered.
	processDelayed(ctx context.Context) error
}

// platformSynchronization is what the coordinator registers with the platform.
type platformSynchronization struct {
	callbacks callbackCoordinator
	reg       *registration
}

func (s *platformSynchronization) BeforeCompletion(ctx context.Context) error {
	return s.callbacks.beforeCompletion(ctx, s.reg)
}

func (s *platformSynchronization) AfterCompletion(ctx context.Context, status Status) error {
	return s.callbacks.afterCompletion(ctx, s.reg, status)
}

// nonTrackingCallbacks processes callbacks wherever they are delivered.
type nonTrackingCallbacks struct {
	target callbackTarget
	log    logger.Logger
	mu     sync.Mutex
}

func newNonTrackingCallbacks(target callbackTarget, log logger.Logger) *nonTrackingCallbacks {
	return &nonTrackingCallbacks{target: target, log: log}
}

// claimBefore reports whether the before phase of reg may run now.
func (n *nonTrackingCallbacks) claimBefore(reg *registration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if reg.beforeDone || reg.afterDone {
		return false
	}
	reg.beforeDone = true
	return true
}

func (n *nonTrackingCallbacks) beforeCompletion(ctx context.Context, reg *registration) error {
	if !n.claimBefore(reg) {
		n.log.Debug("ignoring repeated or late before-completion callback")
		return nil
	}
	return n.runBefore(ctx)
}

func (n *nonTrackingCallbacks) runBefore(ctx context.Context) error {
	if !n.target.ownerActive() {
		n.log.Debug("skipping before-completion, owner no longer active")
		return nil
	}
	if err := n.target.beforeCompletion(ctx); err != nil {
		n.log.Warn("before-completion failed, marking transaction for rollback", "error", err)
		n.target.markRollbackOnly(ctx)
		return err
	}
	return nil
}

func (n *nonTrackingCallbacks) afterCompletion(ctx context.Context, reg *registration, status Status) error {
	n.mu.Lock()
	if reg.afterDone {
		n.mu.Unlock()
		n.log.Debug("ignoring repeated after-completion callback")
		return nil
	}
	reg.afterDone = true
	n.mu.Unlock()
	return n.target.afterCompletion(ctx, status, false)
}

func (n *nonTrackingCallbacks) processDelayed(context.Context) error {
	return nil
}

// trackingCallbacks checks the origin of each callback against the origin recorded at
// registration. A rollback delivered from a foreign origin is held back and processed on
// the owner's next Pulse, which then reports it. With rejectForeign, a foreign
// before-completion is refused so the platform rolls the transaction back.
type trackingCallbacks struct {
	*nonTrackingCallbacks
	rejectForeign bool
	delayed       *Status
}

func newTrackingCallbacks(target callbackTarget, log logger.Logger, rejectForeign bool) *trackingCallbacks {
	return &trackingCallbacks{
		nonTrackingCallbacks: newNonTrackingCallbacks(target, log),
		rejectForeign:        rejectForeign,
	}
}

func isForeign(ctx context.Context, reg *registration) bool {
	return reg.origin != "" && OriginFrom(ctx) != reg.origin
}

func (t *trackingCallbacks) beforeCompletion(ctx context.Context, reg *registration) error {
	if t.rejectForeign && isForeign(ctx, reg) {
		t.log.Warn("rejecting before-completion delivered from a different goroutine")
		t.target.markRollbackOnly(ctx)
		return txerr.New(txerr.ErrIllegalState, "before-completion delivered from a different goroutine")
	}
	return t.nonTrackingCallbacks.beforeCompletion(ctx, reg)
}

func (t *trackingCallbacks) afterCompletion(ctx context.Context, reg *registration, status Status) error {
	t.mu.Lock()
	if reg.afterDone {
		t.mu.Unlock()
		t.log.Debug("ignoring repeated after-completion callback")
		return nil
	}
	reg.afterDone = true
	if isForeign(ctx, reg) && status.Normalize() == StatusRolledBack {
		delayed := status
		t.delayed = &delayed
		t.mu.Unlock()
		t.log.Debug("delaying after-completion of rollback delivered from a different goroutine")
		return nil
	}
	t.mu.Unlock()
	return t.target.afterCompletion(ctx, status, false)
}

func (t *trackingCallbacks) processDelayed(ctx context.Context) error {
	t.mu.Lock()
	delayed := t.delayed
	t.delayed = nil
	t.mu.Unlock()
	if delayed == nil {
		return nil
	}

	t.log.Debug("processing delayed after-completion")
	err := t.target.afterCompletion(ctx, *delayed, true)
	return errors.Join(
		txerr.New(txerr.ErrIllegalState, "transaction was rolled back from a different goroutine"),
		err,
	)
}

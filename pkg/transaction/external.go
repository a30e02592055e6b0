package transaction

import (
	"context"
	"errors"
	"sync"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/observability/metrics"
	"github.com/nimburion/txcoord/pkg/observability/tracing"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// ExternalOptions configures an ExternalCoordinator.
type ExternalOptions struct {
	// AutoJoin registers with external transactions on Pulse.
	AutoJoin bool
	// PreferUserTransaction resolves the user transaction handle before the transaction
	// manager.
	PreferUserTransaction bool
	// ThreadTracking checks where completion callbacks are delivered from.
	ThreadTracking bool
	// RejectForeign refuses foreign before-completion callbacks. Needs ThreadTracking.
	RejectForeign bool
	Logger        logger.Logger
}

// ExternalCoordinator integrates an owner with an external transaction platform. Commit
// and rollback are delegated to the platform; completion callbacks reach the owner through
// the synchronization registered when joining.
type ExternalCoordinator struct {
	owner     Owner
	platform  Platform
	opts      ExternalOptions
	log       logger.Logger
	syncs     *SynchronizationRegistry
	callbacks callbackCoordinator

	mu       sync.Mutex
	delegate *driverControl
	joined   bool
}

var (
	_ Coordinator    = (*ExternalCoordinator)(nil)
	_ callbackTarget = (*ExternalCoordinator)(nil)
)

// NewExternalCoordinator creates the coordinator and joins the current external
// transaction when auto-join is enabled.
func NewExternalCoordinator(ctx context.Context, owner Owner, platform Platform, opts ExternalOptions) (*ExternalCoordinator, error) {
	if owner == nil {
		return nil, txerr.New(txerr.ErrConfiguration, "transaction owner is required")
	}
	if platform == nil {
		return nil, txerr.New(txerr.ErrConfiguration, "external transaction platform is required")
	}
	if opts.RejectForeign && !opts.ThreadTracking {
		return nil, txerr.New(txerr.ErrConfiguration, "rejecting foreign callbacks requires thread tracking")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	c := &ExternalCoordinator{
		owner:    owner,
		platform: platform,
		opts:     opts,
		log:      log.With("component", "transaction_coordinator", "backend", BackendExternal),
		syncs:    NewSynchronizationRegistry(),
	}
	if opts.ThreadTracking {
		c.callbacks = newTrackingCallbacks(c, c.log, opts.RejectForeign)
	} else {
		c.callbacks = newNonTrackingCallbacks(c, c.log)
	}

	if err := c.Pulse(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Backend returns BackendExternal.
func (c *ExternalCoordinator) Backend() string {
	return BackendExternal
}

// LocalSynchronizations returns the registry notified around completion.
func (c *ExternalCoordinator) LocalSynchronizations() *SynchronizationRegistry {
	return c.syncs
}

// IsJoined reports whether the completion synchronization is registered with the current
// external transaction.
func (c *ExternalCoordinator) IsJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// Pulse processes completion work delayed from a foreign goroutine, then joins the current
// external transaction if auto-join is on and nothing is registered yet.
func (c *ExternalCoordinator) Pulse(ctx context.Context) error {
	if err := c.callbacks.processDelayed(ctx); err != nil {
		return err
	}
	if !c.opts.AutoJoin || c.IsJoined() {
		return nil
	}
	if !c.platform.CanRegisterSynchronization(ctx) {
		return nil
	}
	if err := c.join(ctx); err != nil && !errors.Is(err, txerr.ErrAlreadyJoined) {
		return err
	}
	return nil
}

// ExplicitJoin joins the current external transaction regardless of auto-join. Joining
// twice is a no-op.
func (c *ExternalCoordinator) ExplicitJoin(ctx context.Context) error {
	if c.IsJoined() {
		c.log.Debug("explicit join called on an already joined coordinator")
		return nil
	}
	if !c.platform.CanRegisterSynchronization(ctx) {
		return txerr.New(txerr.ErrIllegalState, "no external transaction on which to join")
	}
	if err := c.join(ctx); err != nil && !errors.Is(err, txerr.ErrAlreadyJoined) {
		return err
	}
	return nil
}

// join registers the completion synchronization. It fails with txerr.ErrAlreadyJoined when
// one is registered already.
func (c *ExternalCoordinator) join(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return txerr.New(txerr.ErrAlreadyJoined, "")
	}
	c.joined = true
	c.mu.Unlock()

	ctx, span := tracing.StartTransactionSpan(ctx, tracing.SpanOperationTxJoin, tracing.WithBackend(BackendExternal))
	defer func() { tracing.End(span, err) }()

	synchronization := &platformSynchronization{
		callbacks: c.callbacks,
		reg:       &registration{origin: OriginFrom(ctx)},
	}
	if err = c.platform.RegisterSynchronization(ctx, synchronization); err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return txerr.Wrap(txerr.ErrTransaction, "unable to register synchronization with external transaction", err)
	}
	c.log.Debug("joined external transaction")
	return nil
}

// DriverControl returns the current driver control, building one backed by the platform
// handle when none is live.
func (c *ExternalCoordinator) DriverControl() (DriverControl, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delegate != nil && c.delegate.State() != StateInvalid {
		return c.delegate, nil
	}
	adapter, err := resolveAdapter(c.platform, c.opts.PreferUserTransaction, c.log)
	if err != nil {
		return nil, err
	}
	c.delegate = newDriverControl(BackendExternal, &externalDriver{coordinator: c, adapter: adapter}, c.log)
	return c.delegate, nil
}

func (c *ExternalCoordinator) ownerActive() bool {
	return c.owner.IsActive()
}

func (c *ExternalCoordinator) beforeCompletion(ctx context.Context) error {
	c.log.Debug("before transaction completion")
	c.owner.BeforeTransactionCompletion(ctx)
	return c.syncs.NotifyBeforeCompletion(ctx)
}

func (c *ExternalCoordinator) afterCompletion(ctx context.Context, status Status, delayed bool) error {
	status = status.Normalize()
	successful := status.Successful()
	c.log.Debug("after transaction completion", "status", status, "delayed", delayed)

	err := c.syncs.NotifyAfterCompletion(ctx, status)
	c.owner.AfterTransactionCompletion(ctx, successful)

	c.mu.Lock()
	d := c.delegate
	c.delegate = nil
	c.joined = false
	c.mu.Unlock()
	if d != nil {
		d.invalidate(status)
	}

	metrics.RecordTransactionCompletion(BackendExternal, successful)
	return txerr.Wrap(txerr.ErrTransaction, "after-completion synchronization failed", err)
}

func (c *ExternalCoordinator) markRollbackOnly(ctx context.Context) {
	c.mu.Lock()
	d := c.delegate
	c.mu.Unlock()

	var adapter *platformAdapter
	if d != nil {
		adapter = d.backend.(*externalDriver).adapter
	} else {
		var err error
		if adapter, err = resolveAdapter(c.platform, c.opts.PreferUserTransaction, c.log); err != nil {
			c.log.Warn("unable to mark external transaction for rollback", "error", err)
			return
		}
	}
	if err := adapter.markRollbackOnly(ctx); err != nil {
		c.log.Warn("unable to mark external transaction for rollback", "error", err)
	}
}

type externalDriver struct {
	coordinator *ExternalCoordinator
	adapter     *platformAdapter
}

func (e *externalDriver) begin(ctx context.Context) error {
	if err := e.adapter.begin(ctx); err != nil {
		return err
	}
	metrics.RecordTransactionBegin(BackendExternal)
	if err := e.coordinator.join(ctx); err != nil && !errors.Is(err, txerr.ErrAlreadyJoined) {
		return errors.Join(err, e.adapter.rollback(ctx))
	}
	return nil
}

func (e *externalDriver) commit(ctx context.Context, rollbackOnly bool) error {
	if rollbackOnly {
		return errors.Join(
			txerr.New(txerr.ErrTransaction, "transaction was marked for rollback only"),
			e.adapter.rollback(ctx),
		)
	}
	return e.adapter.commit(ctx)
}

func (e *externalDriver) rollback(ctx context.Context) error {
	return e.adapter.rollback(ctx)
}

func (e *externalDriver) markRollbackOnly(ctx context.Context) error {
	return e.adapter.markRollbackOnly(ctx)
}

func (e *externalDriver) status(ctx context.Context) Status {
	return e.adapter.status(ctx)
}

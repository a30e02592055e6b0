package transaction

import (
	"context"
	"errors"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/observability/metrics"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// ResourceLocalCoordinator drives transactions directly on the owner's resource-local
// transaction. Completion callbacks run inline in the caller of Commit and Rollback:
// owner before hook, synchronizations before, physical commit or rollback,
// synchronizations after, owner after hook, delegate invalidation.
type ResourceLocalCoordinator struct {
	owner    Owner
	log      logger.Logger
	syncs    *SynchronizationRegistry
	delegate *driverControl
}

var _ Coordinator = (*ResourceLocalCoordinator)(nil)

// NewResourceLocalCoordinator creates a coordinator for owner.
func NewResourceLocalCoordinator(owner Owner, log logger.Logger) (*ResourceLocalCoordinator, error) {
	if owner == nil {
		return nil, txerr.New(txerr.ErrConfiguration, "transaction owner is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ResourceLocalCoordinator{
		owner: owner,
		log:   log.With("component", "transaction_coordinator", "backend", BackendResourceLocal),
		syncs: NewSynchronizationRegistry(),
	}, nil
}

// Backend returns BackendResourceLocal.
func (c *ResourceLocalCoordinator) Backend() string {
	return BackendResourceLocal
}

// DriverControl returns the current driver control, building one bound to the owner's
// resource-local transaction when none is live.
func (c *ResourceLocalCoordinator) DriverControl() (DriverControl, error) {
	if c.delegate != nil && c.delegate.State() != StateInvalid {
		return c.delegate, nil
	}
	tx := c.owner.ResourceLocalTransaction()
	if tx == nil {
		return nil, txerr.New(txerr.ErrConfiguration, "owner exposes no resource-local transaction")
	}
	driver := &resourceLocalDriver{coordinator: c, tx: tx}
	c.delegate = newDriverControl(BackendResourceLocal, driver, c.log)
	driver.control = c.delegate
	return c.delegate, nil
}

// ExplicitJoin has nothing to join.
func (c *ResourceLocalCoordinator) ExplicitJoin(context.Context) error {
	c.log.Warn("calling explicit join on a resource-local transaction coordinator has no effect")
	return nil
}

// IsJoined is always false.
func (c *ResourceLocalCoordinator) IsJoined() bool {
	return false
}

// Pulse has nothing to resynchronize with.
func (c *ResourceLocalCoordinator) Pulse(context.Context) error {
	return nil
}

// LocalSynchronizations returns the registry notified around completion.
func (c *ResourceLocalCoordinator) LocalSynchronizations() *SynchronizationRegistry {
	return c.syncs
}

func (c *ResourceLocalCoordinator) afterBegin() {
	c.log.Debug("resource-local transaction begun")
	metrics.RecordTransactionBegin(BackendResourceLocal)
}

func (c *ResourceLocalCoordinator) beforeCompletion(ctx context.Context) error {
	c.log.Debug("before transaction completion")
	c.owner.BeforeTransactionCompletion(ctx)
	return c.syncs.NotifyBeforeCompletion(ctx)
}

func (c *ResourceLocalCoordinator) afterCompletion(ctx context.Context, d *driverControl, successful bool) error {
	c.log.Debug("after transaction completion", "successful", successful)
	status := StatusFromOutcome(successful)
	err := c.syncs.NotifyAfterCompletion(ctx, status)
	c.owner.AfterTransactionCompletion(ctx, successful)
	d.invalidate(status)
	if c.delegate == d {
		c.delegate = nil
	}
	metrics.RecordTransactionCompletion(BackendResourceLocal, successful)
	return txerr.Wrap(txerr.ErrTransaction, "after-completion synchronization failed", err)
}

// commitReporter is implemented by resource-local transactions whose Commit can fail after
// the commit itself went through, e.g. while restoring connection settings.
type commitReporter interface {
	WasCommitted() bool
}

type resourceLocalDriver struct {
	coordinator *ResourceLocalCoordinator
	control     *driverControl
	tx          ResourceLocalTransaction
}

func (r *resourceLocalDriver) begin(ctx context.Context) error {
	if err := r.tx.Begin(ctx); err != nil {
		return txerr.Wrap(txerr.ErrTransaction, "unable to begin resource-local transaction", err)
	}
	r.coordinator.afterBegin()
	return nil
}

func (r *resourceLocalDriver) commit(ctx context.Context, rollbackOnly bool) error {
	if rollbackOnly {
		err := r.rollback(ctx)
		return errors.Join(txerr.New(txerr.ErrTransaction, "transaction was marked for rollback only"), err)
	}

	if err := r.coordinator.beforeCompletion(ctx); err != nil {
		r.coordinator.log.Warn("before-completion failed, rolling back", "error", err)
		return errors.Join(
			txerr.Wrap(txerr.ErrTransaction, "before-completion failed", err),
			r.rollback(ctx),
		)
	}

	if err := r.tx.Commit(ctx); err != nil {
		if reporter, ok := r.tx.(commitReporter); ok && reporter.WasCommitted() {
			r.coordinator.log.Warn("resource-local transaction committed with completion errors", "error", err)
			return errors.Join(err, r.coordinator.afterCompletion(ctx, r.control, true))
		}
		r.coordinator.log.Error("resource-local commit failed, rolling back", "error", err)
		return errors.Join(
			txerr.Wrap(txerr.ErrTransaction, "unable to commit resource-local transaction", err),
			r.rollback(ctx),
		)
	}
	return r.coordinator.afterCompletion(ctx, r.control, true)
}

func (r *resourceLocalDriver) rollback(ctx context.Context) error {
	rbErr := r.tx.Rollback(ctx)
	if rbErr != nil {
		rbErr = txerr.Wrap(txerr.ErrTransaction, "unable to roll back resource-local transaction", rbErr)
	}
	return errors.Join(rbErr, r.coordinator.afterCompletion(ctx, r.control, false))
}

func (r *resourceLocalDriver) markRollbackOnly(context.Context) error {
	return nil
}

func (r *resourceLocalDriver) status(context.Context) Status {
	switch r.control.State() {
	case StateActive:
		if r.control.isRollbackOnly() {
			return StatusMarkedRollback
		}
		return StatusActive
	case StateCompleting:
		return StatusCommitting
	default:
		return StatusNoTransaction
	}
}

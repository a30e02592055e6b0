package transaction

import (
	"context"
	"sync"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/observability/tracing"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// DelegateState is the lifecycle state of a DriverControl.
type DelegateState string

const (
	StateFresh      DelegateState = "fresh"
	StateActive     DelegateState = "active"
	StateCompleting DelegateState = "completing"
	StateInvalid    DelegateState = "invalid"
)

// DriverControl begins and ends exactly one transaction. Once that transaction completed
// every call fails with txerr.ErrInvalidDelegate; ask the coordinator for a new one.
type DriverControl interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// MarkRollbackOnly makes the eventual Commit roll back instead.
	MarkRollbackOnly(ctx context.Context) error
	Status(ctx context.Context) Status
	State() DelegateState
}

// driverBackend performs the backend specific part of each DriverControl operation.
// State checks happen before it is called.
type driverBackend interface {
	begin(ctx context.Context) error
	commit(ctx context.Context, rollbackOnly bool) error
	rollback(ctx context.Context) error
	markRollbackOnly(ctx context.Context) error
	status(ctx context.Context) Status
}

type driverControl struct {
	backendName string
	backend     driverBackend
	log         logger.Logger

	mu           sync.Mutex
	state        DelegateState
	rollbackOnly bool
	final        Status
}

var _ DriverControl = (*driverControl)(nil)

func newDriverControl(backendName string, backend driverBackend, log logger.Logger) *driverControl {
	return &driverControl{
		backendName: backendName,
		backend:     backend,
		log:         log,
		state:       StateFresh,
	}
}

func (d *driverControl) State() DelegateState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *driverControl) isRollbackOnly() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollbackOnly
}

// invalidate ends the delegate's life. It is reached exactly once per delegate.
func (d *driverControl) invalidate(final Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateInvalid {
		return
	}
	d.state = StateInvalid
	d.final = final
	d.log.Debug("transaction driver control invalidated", "backend", d.backendName, "status", final)
}

func (d *driverControl) invalidErr(op string) error {
	return txerr.Newf(txerr.ErrInvalidDelegate, "cannot %s: transaction already completed", op)
}

func (d *driverControl) Begin(ctx context.Context) (err error) {
	d.mu.Lock()
	switch d.state {
	case StateInvalid:
		d.mu.Unlock()
		return d.invalidErr("begin")
	case StateFresh:
	default:
		d.mu.Unlock()
		return txerr.New(txerr.ErrIllegalState, "transaction already active")
	}
	d.mu.Unlock()

	ctx, span := tracing.StartTransactionSpan(ctx, tracing.SpanOperationTxBegin, tracing.WithBackend(d.backendName))
	defer func() { tracing.End(span, err) }()

	if err = d.backend.begin(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	if d.state == StateFresh {
		d.state = StateActive
	}
	d.mu.Unlock()
	return nil
}

func (d *driverControl) Commit(ctx context.Context) (err error) {
	d.mu.Lock()
	switch d.state {
	case StateInvalid:
		d.mu.Unlock()
		return d.invalidErr("commit")
	case StateActive:
	default:
		state := d.state
		d.mu.Unlock()
		return txerr.Newf(txerr.ErrIllegalState, "cannot commit transaction in state %s", state)
	}
	d.state = StateCompleting
	rollbackOnly := d.rollbackOnly
	d.mu.Unlock()

	ctx, span := tracing.StartTransactionSpan(ctx, tracing.SpanOperationTxCommit, tracing.WithBackend(d.backendName))
	defer func() { tracing.End(span, err) }()

	return d.backend.commit(ctx, rollbackOnly)
}

func (d *driverControl) Rollback(ctx context.Context) (err error) {
	d.mu.Lock()
	switch d.state {
	case StateInvalid:
		d.mu.Unlock()
		return d.invalidErr("roll back")
	case StateFresh:
		d.mu.Unlock()
		d.log.Debug("rollback requested without an active transaction")
		return nil
	case StateActive:
	default:
		d.mu.Unlock()
		return txerr.New(txerr.ErrIllegalState, "transaction is already completing")
	}
	d.state = StateCompleting
	d.mu.Unlock()

	ctx, span := tracing.StartTransactionSpan(ctx, tracing.SpanOperationTxRollback, tracing.WithBackend(d.backendName))
	defer func() { tracing.End(span, err) }()

	return d.backend.rollback(ctx)
}

func (d *driverControl) MarkRollbackOnly(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateInvalid:
		d.mu.Unlock()
		return d.invalidErr("mark rollback only")
	case StateActive:
	default:
		state := d.state
		d.mu.Unlock()
		return txerr.Newf(txerr.ErrIllegalState, "cannot mark transaction in state %s for rollback", state)
	}
	d.rollbackOnly = true
	d.mu.Unlock()

	d.log.Debug("transaction marked for rollback only", "backend", d.backendName)
	return d.backend.markRollbackOnly(ctx)
}

func (d *driverControl) Status(ctx context.Context) Status {
	d.mu.Lock()
	state, final := d.state, d.final
	d.mu.Unlock()
	if state == StateInvalid {
		return final
	}
	return d.backend.status(ctx)
}

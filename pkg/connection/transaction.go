package connection

import (
	"context"
	"errors"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// TransactionStatus is the state of a PhysicalTransaction.
type TransactionStatus string

const (
	StatusNotActive    TransactionStatus = "not_active"
	StatusActive       TransactionStatus = "active"
	StatusCommitted    TransactionStatus = "committed"
	StatusRolledBack   TransactionStatus = "rolled_back"
	StatusFailedCommit TransactionStatus = "failed_commit"
)

// PhysicalTransaction drives a resource-local transaction directly on the physical
// connection. Begin turns auto-commit off and remembers the previous setting; completion
// restores it and then lets the logical connection apply its release policy.
type PhysicalTransaction struct {
	log             logger.Logger
	connection      func(ctx context.Context) (Connection, error)
	afterCompletion func(ctx context.Context) error

	status              TransactionStatus
	initiallyAutoCommit bool
}

func newPhysicalTransaction(
	log logger.Logger,
	connection func(ctx context.Context) (Connection, error),
	afterCompletion func(ctx context.Context) error,
) *PhysicalTransaction {
	return &PhysicalTransaction{
		log:             log,
		connection:      connection,
		afterCompletion: afterCompletion,
		status:          StatusNotActive,
	}
}

// Status returns the current transaction status.
func (t *PhysicalTransaction) Status() TransactionStatus {
	return t.status
}

// InProgress reports whether a transaction was begun and not yet rolled back: it is
// active, or its commit failed and a rollback is still due.
func (t *PhysicalTransaction) InProgress() bool {
	return t.status == StatusActive || t.status == StatusFailedCommit
}

// WasCommitted reports whether the last transaction reached the database commit, even if
// completion handling failed afterwards.
func (t *PhysicalTransaction) WasCommitted() bool {
	return t.status == StatusCommitted
}

// Begin starts a transaction on the physical connection.
func (t *PhysicalTransaction) Begin(ctx context.Context) error {
	if t.status == StatusActive {
		return txerr.New(txerr.ErrIllegalState, "resource-local transaction already active")
	}
	conn, err := t.connection(ctx)
	if err != nil {
		return err
	}

	autoCommit, err := conn.AutoCommit(ctx)
	if err != nil {
		return txerr.Wrap(txerr.ErrTransaction, "unable to read auto-commit mode", err)
	}
	if autoCommit {
		t.log.Debug("disabling auto-commit for resource-local transaction")
		if err := conn.SetAutoCommit(ctx, false); err != nil {
			return txerr.Wrap(txerr.ErrTransaction, "unable to disable auto-commit", err)
		}
	}
	t.initiallyAutoCommit = autoCommit
	t.status = StatusActive
	return nil
}

// Commit commits the physical transaction and runs completion handling. A failed commit
// leaves the transaction in StatusFailedCommit so the caller can roll it back.
func (t *PhysicalTransaction) Commit(ctx context.Context) error {
	if t.status != StatusActive {
		return txerr.Newf(txerr.ErrIllegalState, "cannot commit resource-local transaction in status %s", t.status)
	}
	conn, err := t.connection(ctx)
	if err != nil {
		t.status = StatusFailedCommit
		return err
	}
	if err := conn.Commit(ctx); err != nil {
		t.status = StatusFailedCommit
		return txerr.Wrap(txerr.ErrTransaction, "unable to commit against physical connection", err)
	}
	t.status = StatusCommitted
	return t.complete(ctx)
}

// Rollback rolls back the physical transaction and runs completion handling.
func (t *PhysicalTransaction) Rollback(ctx context.Context) error {
	if t.status != StatusActive && t.status != StatusFailedCommit {
		return txerr.Newf(txerr.ErrIllegalState, "cannot roll back resource-local transaction in status %s", t.status)
	}
	conn, err := t.connection(ctx)
	if err != nil {
		return err
	}
	rbErr := conn.Rollback(ctx)
	t.status = StatusRolledBack
	if rbErr != nil {
		rbErr = txerr.Wrap(txerr.ErrTransaction, "unable to rollback against physical connection", rbErr)
	}
	return errors.Join(rbErr, t.complete(ctx))
}

func (t *PhysicalTransaction) complete(ctx context.Context) error {
	var resetErr error
	if t.initiallyAutoCommit {
		conn, err := t.connection(ctx)
		if err == nil {
			err = conn.SetAutoCommit(ctx, true)
		}
		if err != nil {
			t.log.Warn("unable to restore auto-commit after transaction", "error", err)
			resetErr = txerr.Wrap(txerr.ErrTransaction, "unable to restore auto-commit", err)
		}
	}
	t.initiallyAutoCommit = false

	var releaseErr error
	if t.afterCompletion != nil {
		releaseErr = t.afterCompletion(ctx)
	}
	return errors.Join(resetErr, releaseErr)
}

package transaction

import (
	"context"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// UserTransaction is the application-facing handle of an external transaction platform.
type UserTransaction interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	SetRollbackOnly(ctx context.Context) error
	Status(ctx context.Context) Status
}

// TransactionManager is the container-facing handle of an external transaction platform.
type TransactionManager interface {
	UserTransaction
	// TransactionID identifies the current transaction, "" when there is none.
	TransactionID(ctx context.Context) string
}

// Platform is an external transaction manager the coordinator integrates with.
type Platform interface {
	// CanRegisterSynchronization reports whether a transaction is in progress that accepts
	// completion callbacks.
	CanRegisterSynchronization(ctx context.Context) bool
	// RegisterSynchronization adds s to the current transaction. The platform invokes it
	// exactly once per phase.
	RegisterSynchronization(ctx context.Context, s Synchronization) error
	TransactionManager() (TransactionManager, error)
	UserTransaction() (UserTransaction, error)
}

// Adapter kinds, reported in logs.
const (
	adapterUserTransaction    = "user_transaction"
	adapterTransactionManager = "transaction_manager"
)

// platformAdapter drives the external transaction through one platform handle. It only
// completes transactions it began itself.
type platformAdapter struct {
	kind      string
	handle    UserTransaction
	log       logger.Logger
	initiator bool
}

func (a *platformAdapter) begin(ctx context.Context) error {
	if status := a.handle.Status(ctx); status != StatusNoTransaction {
		a.log.Debug("external transaction already in progress, joining instead of beginning", "adapter", a.kind, "status", status)
		return nil
	}
	if err := a.handle.Begin(ctx); err != nil {
		return txerr.Wrap(txerr.ErrTransaction, "unable to begin external transaction", err)
	}
	a.initiator = true
	a.log.Debug("external transaction begun", "adapter", a.kind)
	return nil
}

func (a *platformAdapter) commit(ctx context.Context) error {
	if !a.initiator {
		a.log.Debug("skipping commit of external transaction not begun by this driver", "adapter", a.kind)
		return nil
	}
	a.initiator = false
	if err := a.handle.Commit(ctx); err != nil {
		return txerr.Wrap(txerr.ErrTransaction, "unable to commit external transaction", err)
	}
	return nil
}

func (a *platformAdapter) rollback(ctx context.Context) error {
	if !a.initiator {
		a.log.Debug("marking external transaction not begun by this driver for rollback", "adapter", a.kind)
		return a.markRollbackOnly(ctx)
	}
	a.initiator = false
	if err := a.handle.Rollback(ctx); err != nil {
		return txerr.Wrap(txerr.ErrTransaction, "unable to roll back external transaction", err)
	}
	return nil
}

func (a *platformAdapter) markRollbackOnly(ctx context.Context) error {
	if err := a.handle.SetRollbackOnly(ctx); err != nil {
		return txerr.Wrap(txerr.ErrTransaction, "unable to mark external transaction for rollback", err)
	}
	return nil
}

func (a *platformAdapter) status(ctx context.Context) Status {
	return a.handle.Status(ctx)
}

// resolveAdapter picks the preferred platform handle and falls back to the other one.
func resolveAdapter(platform Platform, preferUserTransaction bool, log logger.Logger) (*platformAdapter, error) {
	userTransaction := func() *platformAdapter {
		ut, err := platform.UserTransaction()
		if err != nil || ut == nil {
			log.Debug("user transaction not accessible", "error", err)
			return nil
		}
		return &platformAdapter{kind: adapterUserTransaction, handle: ut, log: log}
	}
	transactionManager := func() *platformAdapter {
		tm, err := platform.TransactionManager()
		if err != nil || tm == nil {
			log.Debug("transaction manager not accessible", "error", err)
			return nil
		}
		return &platformAdapter{kind: adapterTransactionManager, handle: tm, log: log}
	}

	first, second := transactionManager, userTransaction
	if preferUserTransaction {
		first, second = userTransaction, transactionManager
	}
	adapter := first()
	if adapter == nil {
		adapter = second()
	}
	if adapter == nil {
		return nil, txerr.New(txerr.ErrPlatformInaccessible,
			"unable to access transaction manager or user transaction to build a driver control")
	}
	return adapter, nil
}

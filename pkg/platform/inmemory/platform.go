// Package inmemory is a process-local external transaction platform. It runs two-phase
// completion across enlisted participants and drives registered synchronizations the
// way a container transaction manager does. One transaction is current at a time.
package inmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/transaction"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// Participant is a resource enlisted in the current transaction.
type Participant interface {
	Prepare(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ErrHandleUnavailable is returned when a platform handle was disabled.
var ErrHandleUnavailable = errors.New("platform handle unavailable")

// Option configures a Platform.
type Option func(*Platform)

// WithoutUserTransaction hides the user transaction handle.
func WithoutUserTransaction() Option {
	return func(p *Platform) { p.noUserTransaction = true }
}

// WithoutTransactionManager hides the transaction manager handle.
func WithoutTransactionManager() Option {
	return func(p *Platform) { p.noTransactionManager = true }
}

// WithAsyncAfterCompletion delivers after-completion callbacks on a separate goroutine.
// Use Wait to block until they ran.
func WithAsyncAfterCompletion() Option {
	return func(p *Platform) { p.async = true }
}

// WithLogger sets the platform logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Platform) { p.log = log }
}

type txState struct {
	id               string
	status           transaction.Status
	synchronizations []transaction.Synchronization
	participants     []Participant
}

// Platform implements transaction.Platform. It is its own transaction manager and user
// transaction.
type Platform struct {
	log                  logger.Logger
	noUserTransaction    bool
	noTransactionManager bool
	async                bool

	mu      sync.Mutex
	current *txState
	pending sync.WaitGroup
}

var (
	_ transaction.Platform           = (*Platform)(nil)
	_ transaction.TransactionManager = (*Platform)(nil)
)

// New creates a platform with no transaction in progress.
func New(opts ...Option) *Platform {
	p := &Platform{}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.NewNop()
	}
	p.log = p.log.With("component", "inmemory_platform")
	return p
}

// CanRegisterSynchronization reports whether a transaction is active.
func (p *Platform) CanRegisterSynchronization(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && p.current.status == transaction.StatusActive
}

// RegisterSynchronization adds s to the current transaction.
func (p *Platform) RegisterSynchronization(_ context.Context, s transaction.Synchronization) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.status != transaction.StatusActive {
		return txerr.New(txerr.ErrIllegalState, "no active transaction to register a synchronization with")
	}
	p.current.synchronizations = append(p.current.synchronizations, s)
	return nil
}

// TransactionManager returns the platform itself unless the handle was disabled.
func (p *Platform) TransactionManager() (transaction.TransactionManager, error) {
	if p.noTransactionManager {
		return nil, ErrHandleUnavailable
	}
	return p, nil
}

// UserTransaction returns the platform itself unless the handle was disabled.
func (p *Platform) UserTransaction() (transaction.UserTransaction, error) {
	if p.noUserTransaction {
		return nil, ErrHandleUnavailable
	}
	return p, nil
}

// Enlist adds a participant to the current transaction.
func (p *Platform) Enlist(_ context.Context, participant Participant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || !p.current.status.IsActive() {
		return txerr.New(txerr.ErrIllegalState, "no active transaction to enlist in")
	}
	p.current.participants = append(p.current.participants, participant)
	return nil
}

// Begin starts a transaction.
func (p *Platform) Begin(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return txerr.New(txerr.ErrIllegalState, "transaction already in progress")
	}
	p.current = &txState{id: uuid.NewString(), status: transaction.StatusActive}
	p.log.Debug("transaction begun", "tx_id", p.current.id)
	return nil
}

// TransactionID returns the id of the current transaction, "" when there is none.
func (p *Platform) TransactionID(context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.id
}

// Status returns the status of the current transaction.
func (p *Platform) Status(context.Context) transaction.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return transaction.StatusNoTransaction
	}
	return p.current.status
}

// SetRollbackOnly dooms the current transaction.
func (p *Platform) SetRollbackOnly(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return txerr.New(txerr.ErrIllegalState, "no transaction to mark for rollback")
	}
	p.current.status = transaction.StatusMarkedRollback
	return nil
}

// Commit runs before-completion synchronizations, prepares and commits every participant
// and delivers after-completion. A failure in any step rolls the transaction back and is
// returned.
func (p *Platform) Commit(ctx context.Context) error {
	p.mu.Lock()
	tx := p.current
	if tx == nil {
		p.mu.Unlock()
		return txerr.New(txerr.ErrIllegalState, "no transaction to commit")
	}
	doomed := tx.status == transaction.StatusMarkedRollback
	synchronizations := append([]transaction.Synchronization(nil), tx.synchronizations...)
	p.mu.Unlock()

	if doomed {
		p.rollback(ctx, tx)
		return txerr.New(txerr.ErrTransaction, "transaction was marked for rollback only")
	}

	for _, s := range synchronizations {
		if err := s.BeforeCompletion(ctx); err != nil {
			p.rollback(ctx, tx)
			return txerr.Wrap(txerr.ErrTransaction, "before-completion failed, transaction rolled back", err)
		}
	}

	p.mu.Lock()
	doomed = tx.status == transaction.StatusMarkedRollback
	if !doomed {
		tx.status = transaction.StatusCommitting
	}
	participants := append([]Participant(nil), tx.participants...)
	p.mu.Unlock()
	if doomed {
		p.rollback(ctx, tx)
		return txerr.New(txerr.ErrTransaction, "transaction was marked for rollback during before-completion")
	}

	for _, participant := range participants {
		if err := participant.Prepare(ctx); err != nil {
			p.rollback(ctx, tx)
			return txerr.Wrap(txerr.ErrTransaction, "participant failed to prepare, transaction rolled back", err)
		}
	}

	var commitErrs []error
	for _, participant := range participants {
		if err := participant.Commit(ctx); err != nil {
			p.log.Error("participant failed to commit after prepare", "tx_id", tx.id, "error", err)
			commitErrs = append(commitErrs, err)
		}
	}
	p.complete(ctx, tx, transaction.StatusCommitted)
	if len(commitErrs) > 0 {
		return txerr.Wrap(txerr.ErrTransaction, "heuristic outcome: participants failed to commit", errors.Join(commitErrs...))
	}
	return nil
}

// Rollback rolls the current transaction back and delivers after-completion with ctx.
func (p *Platform) Rollback(ctx context.Context) error {
	p.mu.Lock()
	tx := p.current
	p.mu.Unlock()
	if tx == nil {
		return txerr.New(txerr.ErrIllegalState, "no transaction to roll back")
	}
	p.rollback(ctx, tx)
	return nil
}

// RollbackFrom rolls the current transaction back on behalf of another party, such as a
// timeout reaper. ctx is what synchronizations observe.
func (p *Platform) RollbackFrom(ctx context.Context) error {
	return p.Rollback(ctx)
}

// Wait blocks until asynchronous after-completion deliveries finished.
func (p *Platform) Wait() {
	p.pending.Wait()
}

func (p *Platform) rollback(ctx context.Context, tx *txState) {
	p.mu.Lock()
	tx.status = transaction.StatusRollingBack
	participants := append([]Participant(nil), tx.participants...)
	p.mu.Unlock()

	for _, participant := range participants {
		if err := participant.Rollback(ctx); err != nil {
			p.log.Warn("participant failed to roll back", "tx_id", tx.id, "error", err)
		}
	}
	p.complete(ctx, tx, transaction.StatusRolledBack)
}

// complete dissociates tx and delivers after-completion. Synchronization failures are
// logged; the outcome is already final.
func (p *Platform) complete(ctx context.Context, tx *txState, status transaction.Status) {
	p.mu.Lock()
	tx.status = status
	if p.current == tx {
		p.current = nil
	}
	synchronizations := append([]transaction.Synchronization(nil), tx.synchronizations...)
	p.mu.Unlock()
	p.log.Debug("transaction completed", "tx_id", tx.id, "status", status)

	deliver := func(ctx context.Context) {
		for _, s := range synchronizations {
			if err := s.AfterCompletion(ctx, status); err != nil {
				p.log.Warn("after-completion synchronization failed", "tx_id", tx.id, "error", err)
			}
		}
	}
	if !p.async {
		deliver(ctx)
		return
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		deliver(context.WithoutCancel(ctx))
	}()
}

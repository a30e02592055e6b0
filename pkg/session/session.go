// Package session ties one logical connection to one transaction coordinator. A Session
// is the owner the coordinator reports completion to; it is created per unit of work and
// closed exactly once.
package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/observability/metrics"
	"github.com/nimburion/txcoord/pkg/transaction"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// Options configures a Session. Exactly one of Provider and Connection must be set.
type Options struct {
	// Provider backs a managed logical connection.
	Provider connection.Provider
	// Connection is a caller-supplied physical connection. Acquisition and release modes
	// do not apply to it.
	Connection      connection.Connection
	AcquisitionMode connection.AcquisitionMode
	ReleaseMode     connection.ReleaseMode
	// Builder creates the coordinator. Defaults to the resource-local backend.
	Builder transaction.Builder
	Logger  logger.Logger
}

// Operation is a unit of work run against the physical connection.
type Operation func(ctx context.Context, conn connection.Connection) error

// Session owns a logical connection and the coordinator driving its transactions.
type Session struct {
	id          string
	log         logger.Logger
	logical     connection.LogicalConnection
	coordinator transaction.Coordinator
	closed      atomic.Bool
}

var _ transaction.Owner = (*Session)(nil)

// New builds the logical connection and then the coordinator. With an external builder
// and auto-join enabled, the session joins the transaction already active on the platform.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Provider == nil && opts.Connection == nil {
		return nil, txerr.New(txerr.ErrConfiguration, "session requires a connection provider or a connection")
	}
	if opts.Provider != nil && opts.Connection != nil {
		return nil, txerr.New(txerr.ErrConfiguration, "session accepts either a connection provider or a connection, not both")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	builder := opts.Builder
	if builder == nil {
		builder = transaction.ResourceLocalBuilder{}
	}

	s := &Session{id: uuid.NewString()}
	s.log = log.With("session_id", s.id)
	ctx = s.Context(ctx)

	if opts.Connection != nil {
		s.logical = connection.NewProvidedConnection(opts.Connection, s.log)
	} else {
		logical, err := connection.NewManagedConnection(ctx, opts.Provider, connection.Options{
			AcquisitionMode: opts.AcquisitionMode,
			ReleaseMode:     opts.ReleaseMode,
			Logger:          s.log,
		})
		if err != nil {
			return nil, err
		}
		s.logical = logical
	}

	coordinator, err := builder.Build(ctx, s, s.log)
	if err != nil {
		return nil, errors.Join(err, s.logical.Close(ctx))
	}
	s.coordinator = coordinator

	metrics.RecordSessionOpened()
	s.log.Debug("session opened", "backend", coordinator.Backend())
	return s, nil
}

// ID returns the origin token of the session.
func (s *Session) ID() string {
	return s.id
}

// Context stamps ctx with the session's origin token and unit-of-work id. Completion
// callbacks carrying this context are recognized as delivered by the session's owner.
func (s *Session) Context(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if transaction.OriginFrom(ctx) == s.id {
		return ctx
	}
	ctx = transaction.WithOrigin(ctx, s.id)
	return logger.ContextWithUnitOfWork(ctx, s.id)
}

// Coordinator returns the transaction coordinator.
func (s *Session) Coordinator() transaction.Coordinator {
	return s.coordinator
}

// LogicalConnection returns the logical connection.
func (s *Session) LogicalConnection() connection.LogicalConnection {
	return s.logical
}

// IsOpen reports whether Close has not been called.
func (s *Session) IsOpen() bool {
	return !s.closed.Load()
}

// IsActive implements transaction.Owner.
func (s *Session) IsActive() bool {
	return s.IsOpen()
}

// IsReadyToSerialize reports whether the session holds neither a physical connection nor
// open statement resources.
func (s *Session) IsReadyToSerialize() bool {
	return !s.logical.IsPhysicallyConnected() && !s.logical.ResourceRegistry().HasRegisteredResources()
}

// Accept runs op against the physical connection. The coordinator is pulsed first so a
// transaction begun elsewhere is joined. After op returns, the logical connection applies
// its after-statement release policy. Failures that do not already belong to the txerr
// taxonomy are classified as txerr.ErrOperation.
func (s *Session) Accept(ctx context.Context, op Operation) error {
	if !s.IsOpen() {
		return txerr.New(txerr.ErrClosedResource, "session is closed")
	}
	ctx = s.Context(ctx)
	if err := s.coordinator.Pulse(ctx); err != nil {
		return err
	}
	conn, err := s.logical.PhysicalConnection(ctx)
	if err != nil {
		return err
	}

	opErr := op(ctx, conn)
	if opErr != nil && !txerr.Classified(opErr) {
		opErr = txerr.Wrap(txerr.ErrOperation, "unexpected error performing operation", opErr)
	}
	return errors.Join(opErr, s.logical.AfterStatement(ctx))
}

// Perform is Accept for operations producing a result.
func Perform[R any](ctx context.Context, s *Session, op func(ctx context.Context, conn connection.Connection) (R, error)) (R, error) {
	var result R
	err := s.Accept(ctx, func(ctx context.Context, conn connection.Connection) error {
		var opErr error
		result, opErr = op(ctx, conn)
		return opErr
	})
	return result, err
}

// WithTransaction runs fn inside a transaction driven through the coordinator. The
// transaction is rolled back when fn fails or panics and committed otherwise.
func (s *Session) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if !s.IsOpen() {
		return txerr.New(txerr.ErrClosedResource, "session is closed")
	}
	ctx = s.Context(ctx)
	control, err := s.coordinator.DriverControl()
	if err != nil {
		return err
	}
	if err := control.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := control.Rollback(ctx); rbErr != nil {
				s.log.Error("rollback after panic failed", "error", rbErr)
			}
			panic(p)
		}
	}()

	if fnErr := fn(ctx); fnErr != nil {
		return errors.Join(fnErr, control.Rollback(ctx))
	}
	return control.Commit(ctx)
}

// Close closes the logical connection. The session is marked closed even when that
// fails; the failure is reported as txerr.ErrClose. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	metrics.RecordSessionClosed()
	s.log.Debug("closing session")
	if err := s.logical.Close(s.Context(ctx)); err != nil {
		return txerr.Wrap(txerr.ErrClose, "unable to close session", err)
	}
	return nil
}

// ResourceLocalTransaction implements transaction.Owner.
func (s *Session) ResourceLocalTransaction() transaction.ResourceLocalTransaction {
	return s.logical.PhysicalTransaction()
}

// BeforeTransactionCompletion implements transaction.Owner.
func (s *Session) BeforeTransactionCompletion(ctx context.Context) {
	s.log.WithContext(ctx).Debug("before transaction completion")
}

// AfterTransactionCompletion implements transaction.Owner. The logical connection applies
// its after-transaction release policy; for resource-local transactions this already
// happened when the physical transaction completed.
func (s *Session) AfterTransactionCompletion(ctx context.Context, successful bool) {
	log := s.log.WithContext(ctx)
	log.Debug("after transaction completion", "successful", successful)
	if err := s.logical.AfterTransaction(ctx); err != nil {
		log.Warn("unable to release connection after transaction", "error", err)
	}
}

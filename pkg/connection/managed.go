package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/observability/metrics"
	"github.com/nimburion/txcoord/pkg/observability/tracing"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// Release triggers, reported to metrics and spans.
const (
	triggerAfterStatement   = "after_statement"
	triggerAfterTransaction = "after_transaction"
	triggerClose            = "close"
)

// Options configures a managed logical connection.
type Options struct {
	AcquisitionMode AcquisitionMode
	ReleaseMode     ReleaseMode
	Logger          logger.Logger
}

// ManagedConnection obtains and releases its physical connection through a Provider
// according to its acquisition and release modes. Completion callbacks may release the
// connection from a platform goroutine, so the held connection and the closed flag are
// guarded by mu.
type ManagedConnection struct {
	provider    Provider
	releaseMode ReleaseMode
	log         logger.Logger
	registry    *ResourceRegistry
	transaction *PhysicalTransaction

	mu       sync.Mutex
	physical Connection
	closed   bool
}

// NewManagedConnection validates opts and, for immediate acquisition, obtains the physical
// connection right away.
func NewManagedConnection(ctx context.Context, provider Provider, opts Options) (*ManagedConnection, error) {
	if provider == nil {
		return nil, txerr.New(txerr.ErrConfiguration, "connection provider is required")
	}
	if opts.AcquisitionMode == "" {
		opts.AcquisitionMode = AcquireDeferred
	}
	if opts.ReleaseMode == "" {
		opts.ReleaseMode = ReleaseOnClose
	}
	if err := ValidateModes(opts.AcquisitionMode, opts.ReleaseMode); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	c := &ManagedConnection{
		provider:    provider,
		releaseMode: opts.ReleaseMode,
		log:         log.With("component", "managed_connection"),
	}
	c.registry = NewResourceRegistry(c.log)
	c.transaction = newPhysicalTransaction(c.log, c.PhysicalConnection, c.AfterTransaction)

	if opts.AcquisitionMode == AcquireImmediately {
		c.mu.Lock()
		_, err := c.acquireLocked(ctx)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ReleaseMode returns the configured release mode.
func (c *ManagedConnection) ReleaseMode() ReleaseMode {
	return c.releaseMode
}

// IsOpen reports whether Close has not been called.
func (c *ManagedConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// IsPhysicallyConnected reports whether a physical connection is currently held.
func (c *ManagedConnection) IsPhysicallyConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.physical != nil
}

// ResourceRegistry returns the registry of statement-scoped resources.
func (c *ManagedConnection) ResourceRegistry() *ResourceRegistry {
	return c.registry
}

// PhysicalTransaction returns the resource-local transaction bound to this connection.
func (c *ManagedConnection) PhysicalTransaction() *PhysicalTransaction {
	return c.transaction
}

// PhysicalConnection returns the physical connection, obtaining one from the provider when
// none is held.
func (c *ManagedConnection) PhysicalConnection(ctx context.Context) (Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, txerr.New(txerr.ErrClosedResource, "logical connection is closed")
	}
	return c.acquireLocked(ctx)
}

func (c *ManagedConnection) acquireLocked(ctx context.Context) (Connection, error) {
	if c.physical != nil {
		return c.physical, nil
	}

	spanCtx, span := tracing.StartConnectionSpan(ctx, tracing.SpanOperationConnAcquire)
	conn, err := c.provider.Obtain(spanCtx)
	if err == nil && conn == nil {
		err = txerr.New(txerr.ErrAcquisition, "provider returned no connection")
	}
	metrics.RecordConnectionAcquisition(err)
	tracing.End(span, err)
	if err != nil {
		return nil, txerr.Wrap(txerr.ErrAcquisition, "unable to acquire physical connection", err)
	}

	c.log.Debug("physical connection acquired")
	c.physical = conn
	return conn, nil
}

// AfterStatement releases the physical connection in after-statement mode, unless a
// resource-local transaction is in progress on it or statement-scoped resources still pin
// it.
func (c *ManagedConnection) AfterStatement(ctx context.Context) error {
	if c.releaseMode != ReleaseAfterStatement {
		return nil
	}
	if c.transaction.InProgress() {
		c.log.Debug("skipping aggressive release after statement inside a resource-local transaction")
		return nil
	}
	if c.registry.HasRegisteredResources() {
		c.log.Debug("skipping aggressive release after statement due to held resources")
		return nil
	}
	c.log.Debug("initiating physical connection release after statement")
	return c.release(ctx, triggerAfterStatement)
}

// AfterTransaction releases the physical connection for every mode but on-close, even when
// resources are still registered: they are closed first. This also catches after-statement
// releases that were skipped earlier.
func (c *ManagedConnection) AfterTransaction(ctx context.Context) error {
	if c.releaseMode == ReleaseOnClose {
		return nil
	}
	c.log.Debug("initiating physical connection release after transaction")
	return c.release(ctx, triggerAfterTransaction)
}

// ManualDisconnect is not supported for connections obtained by the manager.
func (c *ManagedConnection) ManualDisconnect(context.Context) (Connection, error) {
	if !c.IsOpen() {
		return nil, txerr.New(txerr.ErrClosedResource, "logical connection is closed")
	}
	return nil, txerr.New(txerr.ErrIllegalState, "cannot manually disconnect unless connection was originally supplied by caller")
}

// ManualReconnect is not supported for connections obtained by the manager.
func (c *ManagedConnection) ManualReconnect(context.Context, Connection) error {
	if !c.IsOpen() {
		return txerr.New(txerr.ErrClosedResource, "logical connection is closed")
	}
	return txerr.New(txerr.ErrIllegalState, "cannot manually reconnect unless connection was originally supplied by caller")
}

// Close releases registered resources and the physical connection. The connection is
// marked closed even when a release fails; the joined release errors are returned.
func (c *ManagedConnection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := errors.Join(c.registry.ReleaseResources(), c.release(ctx, triggerClose))
	c.log.Debug("logical connection closed")
	return err
}

// release detaches the physical connection, closes the resources still registered on it
// and hands it back to the provider. Open result sets would otherwise keep the driver
// connection busy and block its release.
func (c *ManagedConnection) release(ctx context.Context, trigger string) error {
	c.mu.Lock()
	conn := c.physical
	c.physical = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	resourceErr := c.registry.ReleaseResources()

	spanCtx, span := tracing.StartConnectionSpan(ctx, tracing.SpanOperationConnRelease, tracing.WithReleaseTrigger(trigger))
	err := c.provider.Release(spanCtx, conn)
	metrics.RecordConnectionRelease(trigger, err)
	tracing.End(span, err)
	if err != nil {
		c.log.Error("unable to release physical connection", "trigger", trigger, "error", err)
		err = txerr.Wrap(txerr.ErrRelease, "unable to release physical connection", err)
	}
	return errors.Join(resourceErr, err)
}

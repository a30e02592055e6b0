package connection

import (
	"context"

	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// ProvidedConnection wraps a physical connection supplied by the caller. The caller keeps
// ownership: release modes do not apply and Close never closes the physical connection.
// It is the only kind of logical connection that supports manual disconnect/reconnect.
type ProvidedConnection struct {
	log         logger.Logger
	registry    *ResourceRegistry
	transaction *PhysicalTransaction

	physical Connection
	closed   bool
}

// NewProvidedConnection wraps conn. A nil conn starts the logical connection disconnected.
func NewProvidedConnection(conn Connection, log logger.Logger) *ProvidedConnection {
	if log == nil {
		log = logger.NewNop()
	}
	c := &ProvidedConnection{
		log:      log.With("component", "provided_connection"),
		physical: conn,
	}
	c.registry = NewResourceRegistry(c.log)
	c.transaction = newPhysicalTransaction(c.log, c.PhysicalConnection, c.AfterTransaction)
	return c
}

// IsOpen reports whether Close has not been called.
func (c *ProvidedConnection) IsOpen() bool {
	return !c.closed
}

// IsPhysicallyConnected reports whether a caller-supplied connection is attached.
func (c *ProvidedConnection) IsPhysicallyConnected() bool {
	return c.physical != nil
}

// ResourceRegistry returns the registry of statement-scoped resources.
func (c *ProvidedConnection) ResourceRegistry() *ResourceRegistry {
	return c.registry
}

// PhysicalTransaction returns the resource-local transaction bound to this connection.
func (c *ProvidedConnection) PhysicalTransaction() *PhysicalTransaction {
	return c.transaction
}

// PhysicalConnection returns the attached connection.
func (c *ProvidedConnection) PhysicalConnection(context.Context) (Connection, error) {
	if c.closed {
		return nil, txerr.New(txerr.ErrClosedResource, "logical connection is closed")
	}
	if c.physical == nil {
		return nil, txerr.New(txerr.ErrIllegalState, "caller-supplied connection was disconnected")
	}
	return c.physical, nil
}

// AfterStatement is a no-op: the caller owns the connection.
func (c *ProvidedConnection) AfterStatement(context.Context) error {
	return nil
}

// AfterTransaction is a no-op: the caller owns the connection.
func (c *ProvidedConnection) AfterTransaction(context.Context) error {
	return nil
}

// ManualDisconnect releases held resources and hands the connection back to the caller.
// The connection is detached even when a resource fails to close; that failure is
// returned alongside it.
func (c *ProvidedConnection) ManualDisconnect(context.Context) (Connection, error) {
	if c.closed {
		return nil, txerr.New(txerr.ErrClosedResource, "logical connection is closed")
	}
	err := c.registry.ReleaseResources()
	conn := c.physical
	c.physical = nil
	return conn, err
}

// ManualReconnect attaches conn. Reconnecting while a different connection is attached is
// rejected; the caller must disconnect first.
func (c *ProvidedConnection) ManualReconnect(_ context.Context, conn Connection) error {
	if c.closed {
		return txerr.New(txerr.ErrClosedResource, "logical connection is closed")
	}
	if conn == nil {
		return txerr.New(txerr.ErrIllegalState, "cannot reconnect with a nil connection")
	}
	if conn == c.physical {
		c.log.Debug("reconnecting the same caller-supplied connection that is already attached")
		return nil
	}
	if c.physical != nil {
		return txerr.New(txerr.ErrIllegalState, "cannot reconnect to a new caller-supplied connection while connected; disconnect first")
	}
	c.physical = conn
	return nil
}

// Close releases registered resources and detaches the caller's connection without
// closing it.
func (c *ProvidedConnection) Close(context.Context) error {
	if c.closed {
		return nil
	}
	defer func() {
		c.closed = true
		c.physical = nil
	}()
	return c.registry.ReleaseResources()
}

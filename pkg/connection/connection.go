// Package connection manages the physical database connection behind a session: when it is
// acquired, when it is handed back to its provider, and how a resource-local transaction
// toggles its auto-commit mode.
package connection

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimburion/txcoord/pkg/txerr"
)

// Connection is a physical database connection as seen by the logical connection.
type Connection interface {
	// AutoCommit reports whether every statement commits on its own.
	AutoCommit(ctx context.Context) (bool, error)
	// SetAutoCommit switches auto-commit mode. Enabling it commits pending work.
	SetAutoCommit(ctx context.Context, autoCommit bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Provider hands out physical connections and takes them back.
type Provider interface {
	Obtain(ctx context.Context) (Connection, error)
	Release(ctx context.Context, conn Connection) error
}

// AcquisitionMode controls when a managed logical connection obtains its physical connection.
type AcquisitionMode string

const (
	// AcquireImmediately obtains the physical connection at construction.
	AcquireImmediately AcquisitionMode = "immediate"
	// AcquireDeferred obtains the physical connection on first use.
	AcquireDeferred AcquisitionMode = "deferred"
)

// ReleaseMode controls when a managed logical connection releases its physical connection.
type ReleaseMode string

const (
	// ReleaseOnClose holds the connection until the logical connection closes.
	ReleaseOnClose ReleaseMode = "on_close"
	// ReleaseAfterStatement releases after each statement once no resources are held.
	ReleaseAfterStatement ReleaseMode = "after_statement"
	// ReleaseAfterTransaction releases when a transaction completes.
	ReleaseAfterTransaction ReleaseMode = "after_transaction"
)

// ParseAcquisitionMode converts a configuration string to an AcquisitionMode.
func ParseAcquisitionMode(value string) (AcquisitionMode, error) {
	switch AcquisitionMode(strings.ToLower(strings.TrimSpace(value))) {
	case AcquireImmediately, "immediately":
		return AcquireImmediately, nil
	case AcquireDeferred, "":
		return AcquireDeferred, nil
	default:
		return "", txerr.Newf(txerr.ErrConfiguration, "unknown connection acquisition mode %q", value)
	}
}

// ParseReleaseMode converts a configuration string to a ReleaseMode.
func ParseReleaseMode(value string) (ReleaseMode, error) {
	switch ReleaseMode(strings.ToLower(strings.TrimSpace(value))) {
	case ReleaseOnClose, "":
		return ReleaseOnClose, nil
	case ReleaseAfterStatement:
		return ReleaseAfterStatement, nil
	case ReleaseAfterTransaction:
		return ReleaseAfterTransaction, nil
	default:
		return "", txerr.Newf(txerr.ErrConfiguration, "unknown connection release mode %q", value)
	}
}

// ValidateModes rejects immediate acquisition paired with anything but on-close release.
func ValidateModes(acquisition AcquisitionMode, release ReleaseMode) error {
	switch acquisition {
	case AcquireImmediately, AcquireDeferred:
	default:
		return txerr.Newf(txerr.ErrConfiguration, "unknown connection acquisition mode %q", acquisition)
	}
	switch release {
	case ReleaseOnClose, ReleaseAfterStatement, ReleaseAfterTransaction:
	default:
		return txerr.Newf(txerr.ErrConfiguration, "unknown connection release mode %q", release)
	}
	if acquisition == AcquireImmediately && release != ReleaseOnClose {
		return txerr.New(txerr.ErrConfiguration, fmt.Sprintf(
			"illegal combination of acquisition mode %s with release mode %s", acquisition, release))
	}
	return nil
}

// LogicalConnection is the session-facing view of a physical connection.
type LogicalConnection interface {
	// PhysicalConnection returns the physical connection, acquiring it if needed.
	PhysicalConnection(ctx context.Context) (Connection, error)
	IsOpen() bool
	IsPhysicallyConnected() bool
	ResourceRegistry() *ResourceRegistry
	// PhysicalTransaction is the resource-local transaction driven through this connection.
	PhysicalTransaction() *PhysicalTransaction
	AfterStatement(ctx context.Context) error
	AfterTransaction(ctx context.Context) error
	// ManualDisconnect hands a caller-supplied connection back to the caller.
	ManualDisconnect(ctx context.Context) (Connection, error)
	// ManualReconnect attaches a caller-supplied connection.
	ManualReconnect(ctx context.Context, conn Connection) error
	Close(ctx context.Context) error
}

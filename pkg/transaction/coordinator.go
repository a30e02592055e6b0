// Package transaction coordinates the lifecycle of a unit of work against either a
// resource-local transaction or an external transaction platform. Both backends expose
// the same Coordinator contract; callers hold only the interface.
package transaction

import (
	"context"

	"github.com/nimburion/txcoord/pkg/observability/logger"
)

// ResourceLocalTransaction is the native transaction of a single physical connection.
type ResourceLocalTransaction interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Owner is the unit of work a coordinator reports completion to.
type Owner interface {
	// IsActive reports whether the owner can still take part in a transaction.
	IsActive() bool
	BeforeTransactionCompletion(ctx context.Context)
	AfterTransactionCompletion(ctx context.Context, successful bool)
	// ResourceLocalTransaction is used by the resource-local backend only.
	ResourceLocalTransaction() ResourceLocalTransaction
}

// Coordinator drives one owner's transactions and their completion notifications.
type Coordinator interface {
	// DriverControl returns the driver for the current transaction, building a new one
	// when none exists or the previous one completed.
	DriverControl() (DriverControl, error)
	// ExplicitJoin registers with an external transaction in progress.
	ExplicitJoin(ctx context.Context) error
	IsJoined() bool
	// Pulse gives the coordinator a chance to join a transaction started since the last
	// check and to run completion work that was delivered elsewhere.
	Pulse(ctx context.Context) error
	LocalSynchronizations() *SynchronizationRegistry
	Backend() string
}

// Builder creates the coordinator for an owner.
type Builder interface {
	Build(ctx context.Context, owner Owner, log logger.Logger) (Coordinator, error)
}

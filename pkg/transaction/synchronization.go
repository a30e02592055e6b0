package transaction

import (
	"context"
	"sync"

	"github.com/nimburion/txcoord/pkg/observability/metrics"
)

// Synchronization is notified around transaction completion.
type Synchronization interface {
	// BeforeCompletion runs before the transaction commits. An error turns the commit into
	// a rollback.
	BeforeCompletion(ctx context.Context) error
	// AfterCompletion runs once the outcome is final.
	AfterCompletion(ctx context.Context, status Status) error
}

// SynchronizationFuncs adapts plain functions to Synchronization. Nil hooks are skipped.
type SynchronizationFuncs struct {
	Before func(ctx context.Context) error
	After  func(ctx context.Context, status Status) error
}

// BeforeCompletion implements Synchronization.
func (s SynchronizationFuncs) BeforeCompletion(ctx context.Context) error {
	if s.Before == nil {
		return nil
	}
	return s.Before(ctx)
}

// AfterCompletion implements Synchronization.
func (s SynchronizationFuncs) AfterCompletion(ctx context.Context, status Status) error {
	if s.After == nil {
		return nil
	}
	return s.After(ctx, status)
}

// Completion phases, used as metric labels.
const (
	phaseBeforeCompletion = "before_completion"
	phaseAfterCompletion  = "after_completion"
)

// SynchronizationRegistry is an ordered fan-out of synchronizations. It keeps no
// transaction state and lives as long as the coordinator owning it. External platforms
// may notify from their own goroutine while the owner registers, so notifications walk a
// snapshot taken under mu.
type SynchronizationRegistry struct {
	mu               sync.Mutex
	synchronizations []Synchronization
}

// NewSynchronizationRegistry creates an empty registry.
func NewSynchronizationRegistry() *SynchronizationRegistry {
	return &SynchronizationRegistry{}
}

// Register appends s. Registering the same synchronization twice notifies it twice.
func (r *SynchronizationRegistry) Register(s Synchronization) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synchronizations = append(r.synchronizations, s)
}

// Len returns the number of registered synchronizations.
func (r *SynchronizationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.synchronizations)
}

// Clear drops every registered synchronization.
func (r *SynchronizationRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synchronizations = nil
}

func (r *SynchronizationRegistry) snapshot() []Synchronization {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Synchronization(nil), r.synchronizations...)
}

// NotifyBeforeCompletion calls BeforeCompletion in registration order and stops at the
// first error.
func (r *SynchronizationRegistry) NotifyBeforeCompletion(ctx context.Context) error {
	for _, s := range r.snapshot() {
		if err := s.BeforeCompletion(ctx); err != nil {
			metrics.RecordSynchronizationFailure(phaseBeforeCompletion)
			return err
		}
	}
	return nil
}

// NotifyAfterCompletion calls AfterCompletion in registration order with the normalized
// status and stops at the first error.
func (r *SynchronizationRegistry) NotifyAfterCompletion(ctx context.Context, status Status) error {
	status = status.Normalize()
	for _, s := range r.snapshot() {
		if err := s.AfterCompletion(ctx, status); err != nil {
			metrics.RecordSynchronizationFailure(phaseAfterCompletion)
			return err
		}
	}
	return nil
}

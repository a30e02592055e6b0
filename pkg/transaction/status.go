package transaction

// Status is the outcome or progress of a transaction as reported to synchronizations and
// by external platforms.
type Status string

const (
	StatusActive         Status = "active"
	StatusMarkedRollback Status = "marked_rollback"
	StatusCommitting     Status = "committing"
	StatusRollingBack    Status = "rolling_back"
	StatusCommitted      Status = "committed"
	StatusRolledBack     Status = "rolled_back"
	StatusNoTransaction  Status = "no_transaction"
	StatusUnknown        Status = "unknown"
)

// Backend names used for logs, metrics and spans.
const (
	BackendResourceLocal = "resource_local"
	BackendExternal      = "external"
)

// StatusFromOutcome maps a completion flag onto its final status.
func StatusFromOutcome(successful bool) Status {
	if successful {
		return StatusCommitted
	}
	return StatusRolledBack
}

// Normalize collapses a platform status reported at completion into committed, rolled back
// or unknown.
func (s Status) Normalize() Status {
	switch s {
	case StatusCommitted:
		return StatusCommitted
	case StatusRolledBack, StatusMarkedRollback, StatusRollingBack:
		return StatusRolledBack
	default:
		return StatusUnknown
	}
}

// Successful reports whether s describes a committed transaction.
func (s Status) Successful() bool {
	return s == StatusCommitted
}

// IsActive reports whether s describes a transaction that has begun and not yet completed.
func (s Status) IsActive() bool {
	return s == StatusActive || s == StatusMarkedRollback
}

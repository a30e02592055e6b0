package health

import (
	"context"
	"strings"
	"time"

	"github.com/nimburion/txcoord/pkg/transaction"
)

const defaultCheckTimeout = 5 * time.Second

// Checkable is implemented by components that support health checks, such as the store
// providers.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker runs a component's HealthCheck under a timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a checker for adapter. A zero timeout defaults to 5s.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := CheckResult{Name: c.name, Status: StatusHealthy, Message: "OK"}
	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)
	return result
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// PlatformChecker verifies that an external transaction platform exposes the handles the
// external coordinator drives transactions through. One missing handle degrades the
// platform; both missing make it unhealthy.
type PlatformChecker struct {
	name     string
	platform transaction.Platform
}

// NewPlatformChecker creates a checker for platform.
func NewPlatformChecker(name string, platform transaction.Platform) *PlatformChecker {
	return &PlatformChecker{name: name, platform: platform}
}

// Check resolves both platform handles.
func (c *PlatformChecker) Check(context.Context) CheckResult {
	start := time.Now()
	var missing []string
	if _, err := c.platform.TransactionManager(); err != nil {
		missing = append(missing, "transaction manager: "+err.Error())
	}
	if _, err := c.platform.UserTransaction(); err != nil {
		missing = append(missing, "user transaction: "+err.Error())
	}

	result := CheckResult{Name: c.name, Timestamp: time.Now(), Duration: time.Since(start)}
	switch len(missing) {
	case 0:
		result.Status = StatusHealthy
		result.Message = "OK"
	case 1:
		result.Status = StatusDegraded
		result.Message = missing[0]
	default:
		result.Status = StatusUnhealthy
		result.Error = strings.Join(missing, "; ")
	}
	return result
}

// Name returns the name of the health check
func (c *PlatformChecker) Name() string {
	return c.name
}

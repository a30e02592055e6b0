package connection

import (
	"errors"
	"io"
	"sync"

	"github.com/nimburion/txcoord/pkg/observability/logger"
)

// ResourceRegistry tracks statement-scoped resources (prepared statements, result sets)
// that pin the physical connection. Resources are closed in registration order. It is safe
// for concurrent use; resources are closed outside the lock.
type ResourceRegistry struct {
	log logger.Logger

	mu        sync.Mutex
	resources []io.Closer
}

// NewResourceRegistry creates an empty registry.
func NewResourceRegistry(log logger.Logger) *ResourceRegistry {
	if log == nil {
		log = logger.NewNop()
	}
	return &ResourceRegistry{log: log}
}

// Register starts tracking resource. Registering the same resource twice is a no-op.
func (r *ResourceRegistry) Register(resource io.Closer) {
	if resource == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(resource) >= 0 {
		return
	}
	r.resources = append(r.resources, resource)
}

// Release closes resource and stops tracking it. Unknown resources are still closed.
func (r *ResourceRegistry) Release(resource io.Closer) error {
	if resource == nil {
		return nil
	}
	r.mu.Lock()
	i := r.indexOf(resource)
	if i >= 0 {
		r.resources = append(r.resources[:i], r.resources[i+1:]...)
	}
	r.mu.Unlock()
	if i < 0 {
		r.log.Debug("releasing resource that was not registered")
	}
	return resource.Close()
}

// HasRegisteredResources reports whether any resource is still open.
func (r *ResourceRegistry) HasRegisteredResources() bool {
	return r.Len() > 0
}

// Len returns the number of tracked resources.
func (r *ResourceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resources)
}

// ReleaseResources closes every tracked resource. A failing close is logged and does not
// stop the others; the joined errors are returned.
func (r *ResourceRegistry) ReleaseResources() error {
	r.mu.Lock()
	resources := r.resources
	r.resources = nil
	r.mu.Unlock()
	if len(resources) == 0 {
		return nil
	}
	r.log.Debug("releasing statement-scoped resources", "count", len(resources))

	var errs []error
	for _, resource := range resources {
		if err := resource.Close(); err != nil {
			r.log.Warn("unable to release statement-scoped resource", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// indexOf must be called with mu held.
func (r *ResourceRegistry) indexOf(resource io.Closer) int {
	for i, existing := range r.resources {
		if existing == resource {
			return i
		}
	}
	return -1
}

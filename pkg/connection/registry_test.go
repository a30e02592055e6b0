package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestResourceRegistry(t *testing.T) {
	r := NewResourceRegistry(nil)
	a, b := &fakeResource{}, &fakeResource{closeErr: errBoom}

	r.Register(a)
	r.Register(a)
	r.Register(b)
	r.Register(nil)
	if r.Len() != 2 {
		t.Fatalf("expected 2 resources, got %d", r.Len())
	}

	if err := r.Release(a); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if a.closed != 1 || r.Len() != 1 {
		t.Fatal("release must close and untrack")
	}

	c := &fakeResource{}
	r.Register(c)
	err := r.ReleaseResources()
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected close failure to surface, got %v", err)
	}
	if c.closed != 1 || b.closed != 1 {
		t.Fatal("a failing close must not stop the others")
	}
	if r.HasRegisteredResources() {
		t.Fatal("registry must be empty after ReleaseResources")
	}
}

// Property: in after-statement mode the physical connection is released exactly when the
// last registered resource has been released.
func TestProperty_AfterStatementReleaseFollowsRegistry(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("release only once registry is empty", prop.ForAll(
		func(held int) bool {
			ctx := context.Background()
			provider := &fakeProvider{}
			c, err := NewManagedConnection(ctx, provider, Options{ReleaseMode: ReleaseAfterStatement})
			if err != nil {
				return false
			}
			if _, err := c.PhysicalConnection(ctx); err != nil {
				return false
			}

			resources := make([]*fakeResource, held)
			for i := range resources {
				resources[i] = &fakeResource{}
				c.ResourceRegistry().Register(resources[i])
			}

			for _, res := range resources {
				if err := c.AfterStatement(ctx); err != nil {
					return false
				}
				if !c.IsPhysicallyConnected() {
					return false
				}
				_ = c.ResourceRegistry().Release(res)
			}

			if err := c.AfterStatement(ctx); err != nil {
				return false
			}
			return !c.IsPhysicallyConnected() && provider.released == 1
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

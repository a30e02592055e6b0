// Package store opens pooled databases and exposes them as connection providers for
// sessions.
package store

import (
	"context"

	"github.com/nimburion/txcoord/pkg/connection"
)

// Provider is a connection.Provider backed by a database pool with a lifecycle and
// health contract.
type Provider interface {
	connection.Provider
	HealthCheck(ctx context.Context) error
	Close() error
}

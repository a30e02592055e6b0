package transaction

import (
	"context"

	"github.com/nimburion/txcoord/pkg/config"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// ResourceLocalBuilder builds ResourceLocalCoordinators.
type ResourceLocalBuilder struct{}

// Build implements Builder.
func (ResourceLocalBuilder) Build(_ context.Context, owner Owner, log logger.Logger) (Coordinator, error) {
	return NewResourceLocalCoordinator(owner, log)
}

// ExternalBuilder builds ExternalCoordinators. The zero value disables auto-join and
// thread tracking; NewExternalBuilder applies the defaults.
type ExternalBuilder struct {
	Platform              Platform
	AutoJoin              bool
	PreferUserTransaction bool
	ThreadTracking        bool
	RejectForeign         bool
}

// NewExternalBuilder returns a builder with auto-join and thread tracking enabled and the
// transaction manager preferred over the user transaction.
func NewExternalBuilder(platform Platform) ExternalBuilder {
	return ExternalBuilder{
		Platform:       platform,
		AutoJoin:       true,
		ThreadTracking: true,
	}
}

// Build implements Builder.
func (b ExternalBuilder) Build(ctx context.Context, owner Owner, log logger.Logger) (Coordinator, error) {
	return NewExternalCoordinator(ctx, owner, b.Platform, ExternalOptions{
		AutoJoin:              b.AutoJoin,
		PreferUserTransaction: b.PreferUserTransaction,
		ThreadTracking:        b.ThreadTracking,
		RejectForeign:         b.RejectForeign,
		Logger:                log,
	})
}

// NewBuilder selects the builder configured by cfg. platform is only used by the external
// backend, where it is required.
func NewBuilder(cfg config.TransactionConfig, platform Platform) (Builder, error) {
	switch cfg.Backend {
	case "", config.TransactionBackendResourceLocal:
		return ResourceLocalBuilder{}, nil
	case config.TransactionBackendExternal:
		if platform == nil {
			return nil, txerr.New(txerr.ErrConfiguration, "external transaction backend requires a platform")
		}
		return ExternalBuilder{
			Platform:              platform,
			AutoJoin:              cfg.AutoJoin,
			PreferUserTransaction: cfg.PreferUserTransaction,
			ThreadTracking:        cfg.ThreadTracking,
			RejectForeign:         cfg.RejectForeign,
		}, nil
	default:
		return nil, txerr.Newf(txerr.ErrConfiguration, "unknown transaction backend %q", cfg.Backend)
	}
}

package store

import (
	"strings"

	"github.com/nimburion/txcoord/pkg/config"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/store/mysql"
	"github.com/nimburion/txcoord/pkg/store/postgres"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// NewProvider opens the database configured by cfg and returns it as a connection
// provider. A positive cfg.AcquireFailureThreshold guards acquisition with a circuit
// breaker.
func NewProvider(cfg config.DatabaseConfig, log logger.Logger) (Provider, error) {
	provider, err := open(cfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.AcquireFailureThreshold > 0 {
		return Guard(provider, cfg.AcquireFailureThreshold, cfg.AcquireCooldown, log), nil
	}
	return provider, nil
}

func open(cfg config.DatabaseConfig, log logger.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.DatabaseTypePostgres:
		adapter, err := postgres.NewPostgreSQLAdapter(postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case config.DatabaseTypeMySQL:
		adapter, err := mysql.NewMySQLAdapter(mysql.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, txerr.Newf(txerr.ErrConfiguration, "unsupported database.type %q (supported: postgres, mysql)", cfg.Type)
	}
}

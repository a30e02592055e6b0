package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

const defaultConnectTimeout = 5 * time.Second

// PostgreSQLAdapter hands out pooled PostgreSQL connections to logical connections
type PostgreSQLAdapter struct {
	db       *sql.DB
	provider *connection.DBProvider
	logger   logger.Logger
	config   Config
}

var _ connection.Provider = (*PostgreSQLAdapter)(nil)

// Config holds PostgreSQL connection configuration
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectTimeout bounds the initial ping and every Obtain without a caller deadline.
	ConnectTimeout time.Duration
	// TxOptions applies to transactions opened on obtained connections. May be nil.
	TxOptions *sql.TxOptions
}

// NewPostgreSQLAdapter creates a new PostgreSQL adapter with connection pooling
func NewPostgreSQLAdapter(cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	if cfg.URL == "" {
		return nil, txerr.New(txerr.ErrConfiguration, "database URL is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	// Open database connection
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, txerr.Wrap(txerr.ErrAcquisition, "failed to open database", err)
	}

	a := newAdapter(db, cfg, log)

	// Verify connection
	ctx, cancel := a.withConnectTimeout(context.Background())
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, txerr.Wrap(txerr.ErrAcquisition, "failed to ping database", err)
	}

	log.Info("PostgreSQL connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
		"conn_max_idle_time", cfg.ConnMaxIdleTime,
	)
	return a, nil
}

func newAdapter(db *sql.DB, cfg Config, log logger.Logger) *PostgreSQLAdapter {
	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &PostgreSQLAdapter{
		db:       db,
		provider: connection.NewDBProvider(db, cfg.TxOptions),
		logger:   log,
		config:   cfg,
	}
}

// DB returns the underlying *sql.DB for direct access when needed
func (a *PostgreSQLAdapter) DB() *sql.DB {
	return a.db
}

// Obtain reserves a dedicated connection from the pool.
func (a *PostgreSQLAdapter) Obtain(ctx context.Context) (connection.Connection, error) {
	ctx, cancel := a.withConnectTimeout(ctx)
	defer cancel()

	conn, err := a.provider.Obtain(ctx)
	if err != nil {
		return nil, txerr.Wrap(txerr.ErrAcquisition, "failed to obtain PostgreSQL connection", err)
	}
	return conn, nil
}

// Release returns conn to the pool, rolling back any work left pending on it.
func (a *PostgreSQLAdapter) Release(ctx context.Context, conn connection.Connection) error {
	if err := a.provider.Release(ctx, conn); err != nil {
		return txerr.Wrap(txerr.ErrRelease, "failed to release PostgreSQL connection", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (a *PostgreSQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// HealthCheck verifies the database connection is healthy with a timeout
func (a *PostgreSQLAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Error("PostgreSQL health check failed", "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close gracefully closes the database connection
func (a *PostgreSQLAdapter) Close() error {
	a.logger.Info("closing PostgreSQL connection")

	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close PostgreSQL connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	a.logger.Info("PostgreSQL connection closed successfully")
	return nil
}

func (a *PostgreSQLAdapter) withConnectTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := a.config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

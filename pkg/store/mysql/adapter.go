package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

const defaultConnectTimeout = 5 * time.Second

// MySQLAdapter provides pooled MySQL connections to logical connections.
type MySQLAdapter struct {
	db       *sql.DB
	provider *connection.DBProvider
	logger   logger.Logger
	config   Config
}

var _ connection.Provider = (*MySQLAdapter)(nil)

// Config holds MySQL configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	TxOptions       *sql.TxOptions
}

// NewMySQLAdapter validates the DSN, opens the pool and pings it once.
func NewMySQLAdapter(cfg Config, log logger.Logger) (*MySQLAdapter, error) {
	if cfg.URL == "" {
		return nil, txerr.New(txerr.ErrConfiguration, "database URL is required")
	}
	dsn, err := mysqldriver.ParseDSN(cfg.URL)
	if err != nil {
		return nil, txerr.Wrap(txerr.ErrConfiguration, "invalid mysql DSN", err)
	}
	// Scan DATETIME columns into time.Time.
	dsn.ParseTime = true
	if log == nil {
		log = logger.NewNop()
	}

	connector, err := mysqldriver.NewConnector(dsn)
	if err != nil {
		return nil, txerr.Wrap(txerr.ErrConfiguration, "failed to create mysql connector", err)
	}
	a := newAdapter(sql.OpenDB(connector), cfg, log)

	ctx, cancel := a.withConnectTimeout(context.Background())
	defer cancel()
	if err := a.db.PingContext(ctx); err != nil {
		_ = a.db.Close()
		return nil, txerr.Wrap(txerr.ErrAcquisition, "failed to ping mysql database", err)
	}

	log.Info("MySQL connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
		"conn_max_idle_time", cfg.ConnMaxIdleTime,
	)
	return a, nil
}

func newAdapter(db *sql.DB, cfg Config, log logger.Logger) *MySQLAdapter {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return &MySQLAdapter{
		db:       db,
		provider: connection.NewDBProvider(db, cfg.TxOptions),
		logger:   log,
		config:   cfg,
	}
}

// DB returns the underlying pool.
func (a *MySQLAdapter) DB() *sql.DB {
	return a.db
}

// Obtain reserves a dedicated connection from the pool.
func (a *MySQLAdapter) Obtain(ctx context.Context) (connection.Connection, error) {
	ctx, cancel := a.withConnectTimeout(ctx)
	defer cancel()
	conn, err := a.provider.Obtain(ctx)
	if err != nil {
		return nil, txerr.Wrap(txerr.ErrAcquisition, "failed to obtain mysql connection", err)
	}
	return conn, nil
}

// Release returns conn to the pool.
func (a *MySQLAdapter) Release(ctx context.Context, conn connection.Connection) error {
	if err := a.provider.Release(ctx, conn); err != nil {
		return txerr.Wrap(txerr.ErrRelease, "failed to release mysql connection", err)
	}
	return nil
}

// Ping performs a basic connectivity check to verify the service is reachable.
func (a *MySQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// HealthCheck verifies the component is operational and can perform its intended function.
func (a *MySQLAdapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.db.PingContext(hcCtx); err != nil {
		a.logger.Error("MySQL health check failed", "error", err)
		return fmt.Errorf("mysql health check failed: %w", err)
	}
	return nil
}

// Close releases the pool. Connections still held by logical connections are closed when
// they are released.
func (a *MySQLAdapter) Close() error {
	a.logger.Info("closing MySQL connection")
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close MySQL connection", "error", err)
		return fmt.Errorf("failed to close mysql connection: %w", err)
	}
	a.logger.Info("MySQL connection closed successfully")
	return nil
}

func (a *MySQLAdapter) withConnectTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := a.config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

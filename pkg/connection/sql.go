package connection

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nimburion/txcoord/pkg/txerr"
)

// Executor is implemented by physical connections able to run SQL.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// SQLConn adapts a pooled *sql.Conn to Connection. database/sql has no auto-commit switch,
// so turning auto-commit off makes the next statement open a *sql.Tx that lives until
// Commit, Rollback or auto-commit is switched back on.
type SQLConn struct {
	conn       *sql.Conn
	txOptions  *sql.TxOptions
	autoCommit bool
	tx         *sql.Tx
}

var (
	_ Connection = (*SQLConn)(nil)
	_ Executor   = (*SQLConn)(nil)
)

// NewSQLConn wraps conn in auto-commit mode. opts is used for every transaction opened on
// the connection and may be nil.
func NewSQLConn(conn *sql.Conn, opts *sql.TxOptions) *SQLConn {
	return &SQLConn{conn: conn, txOptions: opts, autoCommit: true}
}

// Raw returns the wrapped *sql.Conn.
func (c *SQLConn) Raw() *sql.Conn {
	return c.conn
}

// InTransaction reports whether a database transaction is currently open.
func (c *SQLConn) InTransaction() bool {
	return c.tx != nil
}

// AutoCommit reports the current auto-commit mode.
func (c *SQLConn) AutoCommit(context.Context) (bool, error) {
	return c.autoCommit, nil
}

// SetAutoCommit switches auto-commit mode; switching it on commits pending work.
func (c *SQLConn) SetAutoCommit(_ context.Context, autoCommit bool) error {
	if autoCommit == c.autoCommit {
		return nil
	}
	if autoCommit && c.tx != nil {
		tx := c.tx
		c.tx = nil
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	c.autoCommit = autoCommit
	return nil
}

// Commit commits pending work. Without pending work it does nothing.
func (c *SQLConn) Commit(context.Context) error {
	if c.autoCommit {
		return txerr.New(txerr.ErrIllegalState, "commit requested while auto-commit is enabled")
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

// Rollback discards pending work. Without pending work it does nothing.
func (c *SQLConn) Rollback(context.Context) error {
	if c.autoCommit {
		return txerr.New(txerr.ErrIllegalState, "rollback requested while auto-commit is enabled")
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

// ExecContext runs query inside the pending transaction when auto-commit is off.
func (c *SQLConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := c.currentTx(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs query inside the pending transaction when auto-commit is off.
func (c *SQLConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := c.currentTx(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs query inside the pending transaction when auto-commit is off. A
// failure to open the transaction surfaces from Row.Scan.
func (c *SQLConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	tx, err := c.currentTx(ctx)
	if err == nil && tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return c.conn.QueryRowContext(ctx, query, args...)
}

// PrepareContext prepares query inside the pending transaction when auto-commit is off.
func (c *SQLConn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	tx, err := c.currentTx(ctx)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.PrepareContext(ctx, query)
	}
	return c.conn.PrepareContext(ctx, query)
}

// Close discards pending work and returns the connection to its pool.
func (c *SQLConn) Close() error {
	var rbErr error
	if c.tx != nil {
		rbErr = c.tx.Rollback()
		c.tx = nil
	}
	return errors.Join(rbErr, c.conn.Close())
}

func (c *SQLConn) currentTx(ctx context.Context) (*sql.Tx, error) {
	if c.autoCommit {
		return nil, nil
	}
	if c.tx == nil {
		tx, err := c.conn.BeginTx(ctx, c.txOptions)
		if err != nil {
			return nil, err
		}
		c.tx = tx
	}
	return c.tx, nil
}

// DBProvider is a Provider drawing connections from a *sql.DB pool.
type DBProvider struct {
	db        *sql.DB
	txOptions *sql.TxOptions
}

// NewDBProvider creates a provider over db. opts applies to transactions opened on the
// connections it hands out and may be nil.
func NewDBProvider(db *sql.DB, opts *sql.TxOptions) *DBProvider {
	return &DBProvider{db: db, txOptions: opts}
}

// Obtain reserves a connection from the pool.
func (p *DBProvider) Obtain(ctx context.Context) (Connection, error) {
	if p == nil || p.db == nil {
		return nil, txerr.New(txerr.ErrAcquisition, "database pool is not initialized")
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return NewSQLConn(conn, p.txOptions), nil
}

// Release returns conn to the pool.
func (p *DBProvider) Release(_ context.Context, conn Connection) error {
	sqlConn, ok := conn.(*SQLConn)
	if !ok {
		return txerr.Newf(txerr.ErrRelease, "connection %T was not obtained from this provider", conn)
	}
	return sqlConn.Close()
}

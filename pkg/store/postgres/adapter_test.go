package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

func newTestLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	if err != nil {
		t.Fatalf("NewZapLogger: %v", err)
	}
	return log
}

func TestNewPostgreSQLAdapter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "empty URL",
			cfg: Config{
				URL:             "",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			wantErr: txerr.ErrConfiguration,
		},
		{
			name:    "unreachable database",
			cfg:     Config{URL: "invalid://localhost", ConnectTimeout: 500 * time.Millisecond},
			wantErr: txerr.ErrAcquisition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPostgreSQLAdapter(tt.cfg, newTestLogger(t))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewPostgreSQLAdapter() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgreSQLAdapter_PoolConfiguration(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	a := newAdapter(db, Config{MaxOpenConns: 7, MaxIdleConns: 3}, newTestLogger(t))
	if got := a.DB().Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("expected MaxOpenConnections=7, got %d", got)
	}
}

func TestPostgreSQLAdapter_ObtainRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newAdapter(db, Config{MaxOpenConns: 2}, newTestLogger(t))
	ctx := context.Background()

	conn, err := a.Obtain(ctx)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}

	// Work left pending at release time is rolled back.
	if err := conn.SetAutoCommit(ctx, false); err != nil {
		t.Fatalf("SetAutoCommit: %v", err)
	}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectRollback()
	if _, err := conn.(connection.Executor).ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		t.Fatalf("exec: %v", err)
	}

	if err := a.Release(ctx, conn); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestPostgreSQLAdapter_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	a := newAdapter(db, Config{}, newTestLogger(t))

	mock.ExpectPing().WillReturnError(errors.New("connection reset"))
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check failure")
	}
}

func TestWithConnectTimeout_UsesConfigWhenNoDeadline(t *testing.T) {
	a := &PostgreSQLAdapter{config: Config{ConnectTimeout: 2 * time.Second}}

	ctx, cancel := a.withConnectTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected deadline from connect timeout")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("unexpected remaining timeout: %v", remaining)
	}
}

func TestWithConnectTimeout_PreservesCallerDeadline(t *testing.T) {
	a := &PostgreSQLAdapter{config: Config{ConnectTimeout: 2 * time.Second}}
	parentCtx, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()

	ctx, cancel := a.withConnectTimeout(parentCtx)
	defer cancel()

	parentDeadline, _ := parentCtx.Deadline()
	gotDeadline, _ := ctx.Deadline()
	if !gotDeadline.Equal(parentDeadline) {
		t.Fatalf("expected caller deadline to be preserved, got %v want %v", gotDeadline, parentDeadline)
	}
}

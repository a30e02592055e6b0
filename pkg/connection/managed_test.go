package connection

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nimburion/txcoord/pkg/txerr"
)

func TestValidateModes(t *testing.T) {
	tests := []struct {
		name        string
		acquisition AcquisitionMode
		release     ReleaseMode
		wantErr     bool
	}{
		{name: "immediate on close", acquisition: AcquireImmediately, release: ReleaseOnClose},
		{name: "immediate after statement", acquisition: AcquireImmediately, release: ReleaseAfterStatement, wantErr: true},
		{name: "immediate after transaction", acquisition: AcquireImmediately, release: ReleaseAfterTransaction, wantErr: true},
		{name: "deferred after statement", acquisition: AcquireDeferred, release: ReleaseAfterStatement},
		{name: "deferred after transaction", acquisition: AcquireDeferred, release: ReleaseAfterTransaction},
		{name: "unknown acquisition", acquisition: "lazy", release: ReleaseOnClose, wantErr: true},
		{name: "unknown release", acquisition: AcquireDeferred, release: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModes(tt.acquisition, tt.release)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateModes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, txerr.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestParseModes(t *testing.T) {
	if m, err := ParseAcquisitionMode("IMMEDIATELY"); err != nil || m != AcquireImmediately {
		t.Fatalf("ParseAcquisitionMode = %q, %v", m, err)
	}
	if m, err := ParseReleaseMode(" after_statement "); err != nil || m != ReleaseAfterStatement {
		t.Fatalf("ParseReleaseMode = %q, %v", m, err)
	}
	if _, err := ParseReleaseMode("never"); !errors.Is(err, txerr.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewManagedConnection(t *testing.T) {
	ctx := context.Background()

	if _, err := NewManagedConnection(ctx, nil, Options{}); !errors.Is(err, txerr.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for nil provider, got %v", err)
	}

	provider := &fakeProvider{}
	_, err := NewManagedConnection(ctx, provider, Options{
		AcquisitionMode: AcquireImmediately,
		ReleaseMode:     ReleaseAfterTransaction,
	})
	if !errors.Is(err, txerr.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if provider.obtained != 0 {
		t.Fatal("invalid configuration must not acquire")
	}

	c, err := NewManagedConnection(ctx, provider, Options{AcquisitionMode: AcquireImmediately})
	if err != nil {
		t.Fatalf("NewManagedConnection: %v", err)
	}
	if !c.IsPhysicallyConnected() || provider.obtained != 1 {
		t.Fatal("immediate acquisition must obtain at construction")
	}

	deferred, err := NewManagedConnection(ctx, &fakeProvider{}, Options{})
	if err != nil {
		t.Fatalf("NewManagedConnection: %v", err)
	}
	if deferred.IsPhysicallyConnected() {
		t.Fatal("deferred acquisition must not obtain at construction")
	}
	if deferred.ReleaseMode() != ReleaseOnClose {
		t.Fatalf("default release mode = %q", deferred.ReleaseMode())
	}
}

func TestManagedConnection_PhysicalConnection(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	c, _ := NewManagedConnection(ctx, provider, Options{})

	first, err := c.PhysicalConnection(ctx)
	if err != nil {
		t.Fatalf("PhysicalConnection: %v", err)
	}
	second, _ := c.PhysicalConnection(ctx)
	if first != second || provider.obtained != 1 {
		t.Fatal("expected the held connection to be reused")
	}

	failing, _ := NewManagedConnection(ctx, &fakeProvider{obtainErr: errBoom}, Options{})
	if _, err := failing.PhysicalConnection(ctx); !errors.Is(err, txerr.ErrAcquisition) || !errors.Is(err, errBoom) {
		t.Fatalf("expected ErrAcquisition wrapping cause, got %v", err)
	}
}

func TestManagedConnection_AfterStatement(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	c, _ := NewManagedConnection(ctx, provider, Options{ReleaseMode: ReleaseAfterStatement})

	if _, err := c.PhysicalConnection(ctx); err != nil {
		t.Fatalf("PhysicalConnection: %v", err)
	}
	rows := &fakeResource{}
	c.ResourceRegistry().Register(rows)

	if err := c.AfterStatement(ctx); err != nil {
		t.Fatalf("AfterStatement: %v", err)
	}
	if !c.IsPhysicallyConnected() || provider.released != 0 {
		t.Fatal("release must be skipped while resources are held")
	}

	if err := c.ResourceRegistry().Release(rows); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := c.AfterStatement(ctx); err != nil {
		t.Fatalf("AfterStatement: %v", err)
	}
	if c.IsPhysicallyConnected() || provider.released != 1 {
		t.Fatal("expected release once resources are gone")
	}
}

func TestManagedConnection_AfterStatementInsideTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		provider := &fakeProvider{}
		c, _ := NewManagedConnection(ctx, provider, Options{ReleaseMode: ReleaseAfterStatement})
		tx := c.PhysicalTransaction()
		if err := tx.Begin(ctx); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		conn := provider.last

		for i := 0; i < 3; i++ {
			if _, err := c.PhysicalConnection(ctx); err != nil {
				t.Fatalf("PhysicalConnection: %v", err)
			}
			if err := c.AfterStatement(ctx); err != nil {
				t.Fatalf("AfterStatement: %v", err)
			}
		}
		if !c.IsPhysicallyConnected() || provider.released != 0 {
			t.Fatal("connection must stay bound while the transaction is active")
		}

		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if provider.obtained != 1 || conn.commits != 1 {
			t.Fatalf("expected one connection carrying the commit, obtained=%d commits=%d", provider.obtained, conn.commits)
		}
		if c.IsPhysicallyConnected() || provider.released != 1 {
			t.Fatal("connection must be released once the transaction completes")
		}
	})

	t.Run("failed commit", func(t *testing.T) {
		provider := &fakeProvider{}
		c, _ := NewManagedConnection(ctx, provider, Options{ReleaseMode: ReleaseAfterStatement})
		tx := c.PhysicalTransaction()
		_ = tx.Begin(ctx)
		provider.last.commitErr = errBoom

		if err := tx.Commit(ctx); !errors.Is(err, errBoom) {
			t.Fatalf("expected commit failure, got %v", err)
		}
		if err := c.AfterStatement(ctx); err != nil {
			t.Fatalf("AfterStatement: %v", err)
		}
		if provider.released != 0 {
			t.Fatal("connection must stay bound until the failed commit is rolled back")
		}
		if err := tx.Rollback(ctx); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		if provider.last.rollbacks != 1 || provider.released != 1 {
			t.Fatalf("expected rollback on the same connection, rollbacks=%d released=%d", provider.last.rollbacks, provider.released)
		}
	})
}

func TestManagedConnection_AfterTransaction(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		mode        ReleaseMode
		wantRelease bool
	}{
		{name: "after transaction", mode: ReleaseAfterTransaction, wantRelease: true},
		{name: "after statement", mode: ReleaseAfterStatement, wantRelease: true},
		{name: "on close", mode: ReleaseOnClose, wantRelease: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{}
			c, _ := NewManagedConnection(ctx, provider, Options{ReleaseMode: tt.mode})
			_, _ = c.PhysicalConnection(ctx)
			c.ResourceRegistry().Register(&fakeResource{})

			if err := c.AfterTransaction(ctx); err != nil {
				t.Fatalf("AfterTransaction: %v", err)
			}
			if got := provider.released == 1; got != tt.wantRelease {
				t.Fatalf("released = %v, want %v", got, tt.wantRelease)
			}
		})
	}
}

func TestManagedConnection_Close(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{releaseErr: errBoom}
	c, _ := NewManagedConnection(ctx, provider, Options{})
	_, _ = c.PhysicalConnection(ctx)
	stmt := &fakeResource{}
	c.ResourceRegistry().Register(stmt)

	err := c.Close(ctx)
	if !errors.Is(err, txerr.ErrRelease) {
		t.Fatalf("expected ErrRelease, got %v", err)
	}
	if c.IsOpen() {
		t.Fatal("connection must be closed even when release fails")
	}
	if stmt.closed != 1 {
		t.Fatal("registered resources must be released on close")
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
	if provider.released != 1 {
		t.Fatalf("expected a single release, got %d", provider.released)
	}
	if _, err := c.PhysicalConnection(ctx); !errors.Is(err, txerr.ErrClosedResource) {
		t.Fatalf("expected ErrClosedResource, got %v", err)
	}
}

func TestManagedConnection_CloseReportsResourceFailures(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	c, _ := NewManagedConnection(ctx, provider, Options{ReleaseMode: ReleaseAfterTransaction})
	_, _ = c.PhysicalConnection(ctx)
	failing := &fakeResource{closeErr: errBoom}
	c.ResourceRegistry().Register(failing)

	if err := c.AfterTransaction(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("expected resource failure from AfterTransaction, got %v", err)
	}
	if c.IsPhysicallyConnected() || provider.released != 1 {
		t.Fatal("connection must be released even when a resource fails to close")
	}

	_, _ = c.PhysicalConnection(ctx)
	c.ResourceRegistry().Register(&fakeResource{closeErr: errBoom})
	if err := c.Close(ctx); !errors.Is(err, errBoom) {
		t.Fatalf("expected resource failure from Close, got %v", err)
	}
	if c.IsOpen() || provider.released != 2 {
		t.Fatal("connection must be closed and released despite the resource failure")
	}
}

func TestManagedConnection_ConcurrentRelease(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	c, _ := NewManagedConnection(ctx, provider, Options{ReleaseMode: ReleaseAfterTransaction})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := c.PhysicalConnection(ctx); err != nil {
					t.Errorf("PhysicalConnection: %v", err)
					return
				}
				c.ResourceRegistry().Register(&fakeResource{})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := c.AfterTransaction(ctx); err != nil {
					t.Errorf("AfterTransaction: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.IsPhysicallyConnected() || c.ResourceRegistry().HasRegisteredResources() {
		t.Fatal("expected nothing held after close")
	}
	if provider.obtained != provider.released {
		t.Fatalf("obtained %d connections but released %d", provider.obtained, provider.released)
	}
}

func TestManagedConnection_ManualDisconnect(t *testing.T) {
	ctx := context.Background()
	c, _ := NewManagedConnection(ctx, &fakeProvider{}, Options{})

	if _, err := c.ManualDisconnect(ctx); !errors.Is(err, txerr.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}
	if err := c.ManualReconnect(ctx, newFakeConnection()); !errors.Is(err, txerr.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", err)
	}

	_ = c.Close(ctx)
	if _, err := c.ManualDisconnect(ctx); !errors.Is(err, txerr.ErrClosedResource) {
		t.Fatalf("expected ErrClosedResource after close, got %v", err)
	}
}

func TestPhysicalTransaction_AutoCommit(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	c, _ := NewManagedConnection(ctx, provider, Options{ReleaseMode: ReleaseAfterTransaction})
	tx := c.PhysicalTransaction()

	if err := tx.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	conn := provider.last
	if conn.autoCommit {
		t.Fatal("auto-commit must be off inside the transaction")
	}
	if err := tx.Begin(ctx); !errors.Is(err, txerr.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState on nested begin, got %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !conn.autoCommit || conn.commits != 1 {
		t.Fatalf("expected restored auto-commit and one commit, got %+v", conn)
	}
	if tx.Status() != StatusCommitted {
		t.Fatalf("status = %s", tx.Status())
	}
	if provider.released != 1 {
		t.Fatal("after-transaction release must follow completion")
	}
}

func TestPhysicalTransaction_KeepsManualCommitMode(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConnection()
	conn.autoCommit = false
	c := NewProvidedConnection(conn, nil)
	tx := c.PhysicalTransaction()

	if err := tx.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if conn.autoCommit || len(conn.autoCommitLog) != 0 {
		t.Fatalf("auto-commit must not be touched, log %v", conn.autoCommitLog)
	}
	if conn.rollbacks != 1 {
		t.Fatalf("expected one rollback, got %d", conn.rollbacks)
	}
}

func TestPhysicalTransaction_FailedCommit(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConnection()
	conn.commitErr = errBoom
	tx := NewProvidedConnection(conn, nil).PhysicalTransaction()

	_ = tx.Begin(ctx)
	if err := tx.Commit(ctx); !errors.Is(err, txerr.ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}
	if tx.Status() != StatusFailedCommit {
		t.Fatalf("status = %s", tx.Status())
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after failed commit: %v", err)
	}
	if !conn.autoCommit {
		t.Fatal("auto-commit must be restored after rollback")
	}
	if err := tx.Commit(ctx); !errors.Is(err, txerr.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState committing inactive transaction, got %v", err)
	}
}

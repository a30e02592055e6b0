package cli

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/txcoord/pkg/config"
	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/platform/inmemory"
	"github.com/nimburion/txcoord/pkg/store"
)

type mockProvider struct {
	*connection.DBProvider
	db *sql.DB
}

func (p *mockProvider) HealthCheck(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *mockProvider) Close() error                          { return p.db.Close() }

func newMockFactory(t *testing.T) (ProviderFactory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	factory := func(config.DatabaseConfig, logger.Logger) (store.Provider, error) {
		return &mockProvider{DBProvider: connection.NewDBProvider(db, nil), db: db}, nil
	}
	return factory, mock
}

func run(t *testing.T, opts Options, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts.Out = &out
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "TXCLI"
	}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, Options{Name: "txprobe"}, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	for _, want := range []string{"Service:    txprobe", "Version:    " + AppVersion, "Commit:     " + GitCommit} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	secretsFile := filepath.Join(dir, "secrets.yaml")
	if err := os.WriteFile(configFile, []byte("transaction:\n  backend: external\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(secretsFile, []byte("database:\n  url: postgres://user:secret@db/app\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		args      []string
		want      string
		forbidden string
	}{
		{
			name:      "redacted by default",
			args:      []string{"config", "show", "-c", configFile},
			want:      config.RedactedValue,
			forbidden: "secret@db",
		},
		{
			name: "secrets on request",
			args: []string{"config", "show", "-c", configFile, "--show-secrets"},
			want: "postgres://user:secret@db/app",
		},
		{
			name: "flags override file",
			args: []string{"config", "show", "-c", configFile, "--tx-backend", "resource_local"},
			want: "backend: resource_local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, Options{}, tt.args...)
			if err != nil {
				t.Fatalf("config show: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Fatalf("expected %q in output:\n%s", tt.want, out)
			}
			if tt.forbidden != "" && strings.Contains(out, tt.forbidden) {
				t.Fatalf("output leaks %q:\n%s", tt.forbidden, out)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	out, err := run(t, Options{}, "config", "validate")
	if err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	if !strings.Contains(out, "configuration is valid") {
		t.Fatalf("unexpected output %q", out)
	}

	_, err = run(t, Options{}, "config", "validate", "--acquisition-mode", "immediate", "--release-mode", "after_statement")
	if err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
		t.Fatalf("expected a validation failure, got %v", err)
	}
}

func TestSecretFileFlag(t *testing.T) {
	t.Setenv("TXCLISECRET_SECRETS_FILE", "")
	secretsFile := filepath.Join(t.TempDir(), "db-secrets.yaml")
	if err := os.WriteFile(secretsFile, []byte("database:\n  url: postgres://u:p@db/app\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, Options{EnvPrefix: "TXCLISECRET"}, "config", "show", "--secret-file", secretsFile, "--show-secrets")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "postgres://u:p@db/app") {
		t.Fatalf("secret file not applied:\n%s", out)
	}

	_, err = run(t, Options{EnvPrefix: "TXCLISECRET"}, "config", "show", "--secret-file", t.TempDir())
	if err == nil {
		t.Fatal("expected an error for a directory passed as secret file")
	}
}

func TestProbe_ResourceLocal(t *testing.T) {
	factory, mock := newMockFactory(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow("1"))
	mock.ExpectCommit()
	mock.ExpectClose()

	out, err := run(t, Options{OpenProvider: factory}, "probe")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out, "backend=resource_local result=1") {
		t.Fatalf("unexpected output %q", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProbe_External(t *testing.T) {
	factory, mock := newMockFactory(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow("1"))
	mock.ExpectClose()

	out, err := run(t, Options{OpenProvider: factory, Platform: inmemory.New()}, "probe", "--tx-backend", "external", "--metrics")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out, "backend=external result=1") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, `txcoord_transactions_completed_total{backend="external",outcome="committed"}`) {
		t.Fatalf("expected completion metrics in output:\n%s", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProbe_QueryFailureRollsBack(t *testing.T) {
	factory, mock := newMockFactory(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	mock.ExpectClose()

	_, err := run(t, Options{OpenProvider: factory}, "probe", "--query", "SELECT broken")
	if err == nil || !strings.Contains(err.Error(), "probe failed") {
		t.Fatalf("expected a probe failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProbe_ProviderFailure(t *testing.T) {
	factory := func(config.DatabaseConfig, logger.Logger) (store.Provider, error) {
		return nil, errors.New("connection refused")
	}
	if _, err := run(t, Options{OpenProvider: factory}, "probe"); err == nil {
		t.Fatal("expected provider failure to surface")
	}
}

func TestResolveEnvPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: config.DefaultEnvPrefix},
		{in: "  ", want: config.DefaultEnvPrefix},
		{in: "billing", want: "BILLING"},
	}
	for _, tt := range tests {
		if got := resolveEnvPrefix(tt.in); got != tt.want {
			t.Fatalf("resolveEnvPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHealthcheck(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		platform *inmemory.Platform
		want     string
		wantErr  bool
	}{
		{
			name: "database only",
			args: []string{"healthcheck"},
			want: "database",
		},
		{
			name:     "external backend checks the platform",
			args:     []string{"healthcheck", "--tx-backend", "external"},
			platform: inmemory.New(),
			want:     "transaction_platform",
		},
		{
			name:     "degraded platform fails",
			args:     []string{"healthcheck", "--tx-backend", "external"},
			platform: inmemory.New(inmemory.WithoutUserTransaction()),
			want:     "degraded",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, mock := newMockFactory(t)
			mock.ExpectClose()
			opts := Options{OpenProvider: factory}
			if tt.platform != nil {
				opts.Platform = tt.platform
			}

			out, err := run(t, opts, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("healthcheck error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Fatalf("expected %q in output:\n%s", tt.want, out)
			}
		})
	}
}

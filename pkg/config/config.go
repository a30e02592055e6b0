package config

import "time"

// Database type constants
const (
	// DatabaseTypePostgres represents PostgreSQL database
	DatabaseTypePostgres = "postgres"
	// DatabaseTypeMySQL represents MySQL database
	DatabaseTypeMySQL = "mysql"
)

// Transaction backend constants
const (
	// TransactionBackendResourceLocal drives transactions directly on the connection
	TransactionBackendResourceLocal = "resource_local"
	// TransactionBackendExternal delegates transactions to an external platform
	TransactionBackendExternal = "external"
)

// Config is the root configuration structure for a transaction-coordinated session
type Config struct {
	Connection    ConnectionConfig    `mapstructure:"connection" yaml:"connection"`
	Transaction   TransactionConfig   `mapstructure:"transaction" yaml:"transaction"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ConnectionConfig configures when physical connections are acquired and released
type ConnectionConfig struct {
	AcquisitionMode string `mapstructure:"acquisition_mode" yaml:"acquisition_mode"` // immediate, deferred
	ReleaseMode     string `mapstructure:"release_mode" yaml:"release_mode"`         // on_close, after_statement, after_transaction
}

// TransactionConfig selects and tunes the transaction coordinator
type TransactionConfig struct {
	Backend               string `mapstructure:"backend" yaml:"backend"` // resource_local, external
	AutoJoin              bool   `mapstructure:"auto_join" yaml:"auto_join"`
	PreferUserTransaction bool   `mapstructure:"prefer_user_transaction" yaml:"prefer_user_transaction"`
	ThreadTracking        bool   `mapstructure:"thread_tracking" yaml:"thread_tracking"`
	RejectForeign         bool   `mapstructure:"reject_foreign" yaml:"reject_foreign"`
}

// DatabaseConfig configures the connection pool backing the connection provider
type DatabaseConfig struct {
	Type                    string        `mapstructure:"type" yaml:"type"` // postgres, mysql
	URL                     string        `mapstructure:"url" yaml:"url"`
	MaxOpenConns            int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns            int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime         time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime         time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	QueryTimeout            time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	ConnectTimeout          time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// AcquireFailureThreshold opens the acquisition circuit after that many consecutive
	// failures. Zero disables the circuit.
	AcquireFailureThreshold int           `mapstructure:"acquire_failure_threshold" yaml:"acquire_failure_threshold"`
	AcquireCooldown         time.Duration `mapstructure:"acquire_cooldown" yaml:"acquire_cooldown"`
}

// ObservabilityConfig configures logging, metrics and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"` // json, text
	ServiceName       string  `mapstructure:"service_name" yaml:"service_name"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			AcquisitionMode: "deferred",
			ReleaseMode:     "after_transaction",
		},
		Transaction: TransactionConfig{
			Backend:        TransactionBackendResourceLocal,
			AutoJoin:       true,
			ThreadTracking: true,
		},
		Database: DatabaseConfig{
			Type:            DatabaseTypePostgres,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
			ConnectTimeout:  5 * time.Second,
			AcquireCooldown: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			ServiceName:       "txcoord",
			TracingSampleRate: 0.1,
		},
	}
}

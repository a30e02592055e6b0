package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/txerr"
)

// DefaultEnvPrefix is used when no prefix is configured.
const DefaultEnvPrefix = "TXCOORD"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to TXCOORD)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags binds command line flags registered by RegisterFlags. Flags that were set
// override every other source.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the configured file path, or empty string if none.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()

	// Start with defaults
	l.setDefaults(v, DefaultConfig())

	// Read config file if provided
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified but couldn't be read
			return nil, nil, txerr.Wrap(txerr.ErrConfiguration, fmt.Sprintf("failed to read config file %s", l.configFile), err)
		}
	}

	var secrets *Config
	if withSecrets {
		var err error
		if secrets, err = l.mergeSecrets(v); err != nil {
			return nil, nil, err
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.prefix())
	l.bindEnvVars(v)

	if err := l.bindFlags(v); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, txerr.Wrap(txerr.ErrConfiguration, "failed to unmarshal config", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, nil, err
	}
	return &cfg, secrets, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Connection
	v.BindEnv("connection.acquisition_mode", l.prefixedEnv("CONNECTION_ACQUISITION_MODE"))
	v.BindEnv("connection.release_mode", l.prefixedEnv("CONNECTION_RELEASE_MODE"))

	// Transaction
	v.BindEnv("transaction.backend", l.prefixedEnv("TX_BACKEND"))
	v.BindEnv("transaction.auto_join", l.prefixedEnv("TX_AUTO_JOIN"))
	v.BindEnv("transaction.prefer_user_transaction", l.prefixedEnv("TX_PREFER_USER_TRANSACTION"))
	v.BindEnv("transaction.thread_tracking", l.prefixedEnv("TX_THREAD_TRACKING"))
	v.BindEnv("transaction.reject_foreign", l.prefixedEnv("TX_REJECT_FOREIGN"))

	// Database
	v.BindEnv("database.type", l.prefixedEnv("DB_TYPE"))
	v.BindEnv("database.url", l.prefixedEnv("DB_URL"))
	v.BindEnv("database.max_open_conns", l.prefixedEnv("DB_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.prefixedEnv("DB_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.prefixedEnv("DB_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.prefixedEnv("DB_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.query_timeout", l.prefixedEnv("DB_QUERY_TIMEOUT"))
	v.BindEnv("database.connect_timeout", l.prefixedEnv("DB_CONNECT_TIMEOUT"))
	v.BindEnv("database.acquire_failure_threshold", l.prefixedEnv("DB_ACQUIRE_FAILURE_THRESHOLD"))
	v.BindEnv("database.acquire_cooldown", l.prefixedEnv("DB_ACQUIRE_COOLDOWN"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.service_name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
}

// flagBindings maps command line flags onto configuration keys.
var flagBindings = map[string]string{
	"acquisition-mode": "connection.acquisition_mode",
	"release-mode":     "connection.release_mode",
	"tx-backend":       "transaction.backend",
	"db-type":          "database.type",
	"db-url":           "database.url",
	"log-level":        "observability.log_level",
	"log-format":       "observability.log_format",
}

// RegisterFlags adds the flags understood by WithFlags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("acquisition-mode", "", "physical connection acquisition mode (immediate, deferred)")
	flags.String("release-mode", "", "physical connection release mode (on_close, after_statement, after_transaction)")
	flags.String("tx-backend", "", "transaction backend (resource_local, external)")
	flags.String("db-type", "", "database type (postgres, mysql)")
	flags.String("db-url", "", "database connection URL")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagBindings {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return txerr.Wrap(txerr.ErrConfiguration, fmt.Sprintf("failed to bind flag --%s", name), err)
		}
	}
	return nil
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return fmt.Sprintf("%s_%s", l.prefix(), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	// Connection defaults
	v.SetDefault("connection.acquisition_mode", cfg.Connection.AcquisitionMode)
	v.SetDefault("connection.release_mode", cfg.Connection.ReleaseMode)

	// Transaction defaults
	v.SetDefault("transaction.backend", cfg.Transaction.Backend)
	v.SetDefault("transaction.auto_join", cfg.Transaction.AutoJoin)
	v.SetDefault("transaction.prefer_user_transaction", cfg.Transaction.PreferUserTransaction)
	v.SetDefault("transaction.thread_tracking", cfg.Transaction.ThreadTracking)
	v.SetDefault("transaction.reject_foreign", cfg.Transaction.RejectForeign)

	// Database defaults
	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", cfg.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.acquire_failure_threshold", cfg.Database.AcquireFailureThreshold)
	v.SetDefault("database.acquire_cooldown", cfg.Database.AcquireCooldown)

	// Observability defaults
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.service_name", cfg.Observability.ServiceName)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
}

// Validate validates the configuration and returns every problem found, classified as
// txerr.ErrConfiguration.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Connection.AcquisitionMode = strings.ToLower(strings.TrimSpace(cfg.Connection.AcquisitionMode))
	cfg.Connection.ReleaseMode = strings.ToLower(strings.TrimSpace(cfg.Connection.ReleaseMode))
	cfg.Transaction.Backend = strings.ToLower(strings.TrimSpace(cfg.Transaction.Backend))
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))

	// Validate connection modes
	acquisition, err := connection.ParseAcquisitionMode(cfg.Connection.AcquisitionMode)
	if err != nil {
		errs = append(errs, err)
	}
	release, err := connection.ParseReleaseMode(cfg.Connection.ReleaseMode)
	if err != nil {
		errs = append(errs, err)
	}
	if acquisition != "" && release != "" {
		if err := connection.ValidateModes(acquisition, release); err != nil {
			errs = append(errs, err)
		}
	}

	// Validate transaction backend
	validBackends := []string{TransactionBackendResourceLocal, TransactionBackendExternal}
	if !contains(validBackends, cfg.Transaction.Backend) {
		errs = append(errs, fmt.Errorf("invalid transaction.backend: %s (must be one of: %v)", cfg.Transaction.Backend, validBackends))
	}
	if cfg.Transaction.RejectForeign && !cfg.Transaction.ThreadTracking {
		errs = append(errs, errors.New("transaction.reject_foreign requires transaction.thread_tracking"))
	}

	// Validate database configuration
	validDatabaseTypes := []string{DatabaseTypePostgres, DatabaseTypeMySQL}
	if cfg.Database.Type != "" && !contains(validDatabaseTypes, cfg.Database.Type) {
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: %v)", cfg.Database.Type, validDatabaseTypes))
	}
	if cfg.Database.MaxOpenConns < 0 {
		errs = append(errs, errors.New("database.max_open_conns must be >= 0"))
	}
	if cfg.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database.max_idle_conns must be >= 0"))
	}
	if cfg.Database.MaxOpenConns > 0 && cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		errs = append(errs, errors.New("database.max_idle_conns must be <= database.max_open_conns"))
	}
	if cfg.Database.AcquireFailureThreshold < 0 || cfg.Database.AcquireCooldown < 0 {
		errs = append(errs, errors.New("database.acquire_failure_threshold and database.acquire_cooldown must be >= 0"))
	}
	if cfg.Database.ConnMaxLifetime < 0 || cfg.Database.ConnMaxIdleTime < 0 {
		errs = append(errs, errors.New("database connection lifetimes must be >= 0"))
	}

	// Validate observability
	if _, err := logger.ParseLogLevel(cfg.Observability.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLogFormat(cfg.Observability.LogFormat); err != nil {
		errs = append(errs, err)
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing_sample_rate must be between 0 and 1"))
	}
	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}

	if len(errs) > 0 {
		return txerr.Wrap(txerr.ErrConfiguration, "config validation failed", errors.Join(errs...))
	}
	return nil
}

// contains checks if a string slice contains a specific item
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

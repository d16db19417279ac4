package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config.toml keys,
// e.g. SYNC_DATABASE_PASSWORD or SYNC_ENGINE_WORKER_BATCH_SIZE.
const EnvPrefix = "SYNC"

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Engine    EngineConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	AutoMigrate     bool
}

// RedisConfig holds Redis connection settings.
// When Enabled is false the engine coordinates through in-process stores.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTLP gRPC endpoint, e.g. "localhost:4317"
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool

	MetricsEnabled        bool
	MetricsExportInterval time.Duration
	LogsEnabled           bool

	DBTraceEnabled    bool
	DBLogFullSQL      bool // dev only
	DBSlowQueryThresh time.Duration

	ProfilingEnabled       bool
	ProfilingServerAddress string // Pyroscope server, e.g. "http://pyroscope:4040"
}

// EngineConfig holds the sync engine settings
type EngineConfig struct {
	Worker      WorkerConfig
	Retry       RetryConfig
	TenantRetry map[string]RetryConfig // keyed by tenant UUID
	Echo        EchoConfig
	Conflict    ConflictConfig
	Lock        LockConfig
	Adapter     AdapterConfig
	Maintenance MaintenanceConfig
	StockPoll   StockPollConfig
	Idempotency IdempotencyConfig
	Ownership   map[string]string // field name -> commerce|fulfillment|shared
}

// WorkerConfig controls the job poller
type WorkerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int // pollers claiming jobs in parallel
}

// RetryConfig is the retry policy applied to failed jobs
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
}

// EchoConfig holds the echo detection windows
type EchoConfig struct {
	PushWindow        time.Duration
	RecentWriteWindow time.Duration
}

// ConflictConfig controls conflict resolution
type ConflictConfig struct {
	Window       time.Duration
	ManualFields []string
}

// LockConfig controls per-entity mutual exclusion
type LockConfig struct {
	TTL  time.Duration
	Wait time.Duration
}

// AdapterConfig controls outbound channel calls
type AdapterConfig struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second per channel, 0 = unlimited
	RateBurst int
}

// MaintenanceConfig controls the cron maintenance sweeps
type MaintenanceConfig struct {
	Enabled          bool
	CleanupSchedule  string
	CleanupRetention time.Duration
	RequeueSchedule  string
	StaleAfter       time.Duration
}

// StockPollConfig controls the periodic stock reconciliation trigger
type StockPollConfig struct {
	Enabled       bool
	CheckInterval time.Duration
}

// IdempotencyConfig controls webhook deduplication
type IdempotencyConfig struct {
	Enabled   bool
	TTL       time.Duration
	KeyPrefix string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. .env file in the working directory
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile behaves like Load but reads the given config file instead of searching
// the default paths. An empty path falls back to the search paths.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/syncengine")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:                v.GetBool("telemetry.enabled"),
			CollectorEndpoint:      v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:          v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:            v.GetString("telemetry.service_name"),
			Insecure:               v.GetBool("telemetry.insecure"),
			MetricsEnabled:         v.GetBool("telemetry.metrics_enabled"),
			MetricsExportInterval:  v.GetDuration("telemetry.metrics_export_interval"),
			LogsEnabled:            v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:         v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:           v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh:      v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:       v.GetBool("telemetry.profiling_enabled"),
			ProfilingServerAddress: v.GetString("telemetry.profiling_server_address"),
		},
		Engine: EngineConfig{
			Worker: WorkerConfig{
				Enabled:      boolOrDefault(v, "engine.worker.enabled", true),
				PollInterval: v.GetDuration("engine.worker.poll_interval"),
				BatchSize:    v.GetInt("engine.worker.batch_size"),
				Concurrency:  v.GetInt("engine.worker.concurrency"),
			},
			Retry: RetryConfig{
				MaxRetries:        v.GetInt("engine.retry.max_retries"),
				BaseDelay:         v.GetDuration("engine.retry.base_delay"),
				BackoffMultiplier: v.GetFloat64("engine.retry.backoff_multiplier"),
				MaxDelay:          v.GetDuration("engine.retry.max_delay"),
			},
			Echo: EchoConfig{
				PushWindow:        v.GetDuration("engine.echo.push_window"),
				RecentWriteWindow: v.GetDuration("engine.echo.recent_write_window"),
			},
			Conflict: ConflictConfig{
				Window:       v.GetDuration("engine.conflict.window"),
				ManualFields: v.GetStringSlice("engine.conflict.manual_fields"),
			},
			Lock: LockConfig{
				TTL:  v.GetDuration("engine.lock.ttl"),
				Wait: v.GetDuration("engine.lock.wait"),
			},
			Adapter: AdapterConfig{
				Timeout:   v.GetDuration("engine.adapter.timeout"),
				RateLimit: v.GetFloat64("engine.adapter.rate_limit"),
				RateBurst: v.GetInt("engine.adapter.rate_burst"),
			},
			Maintenance: MaintenanceConfig{
				Enabled:          boolOrDefault(v, "engine.maintenance.enabled", true),
				CleanupSchedule:  v.GetString("engine.maintenance.cleanup_schedule"),
				CleanupRetention: v.GetDuration("engine.maintenance.cleanup_retention"),
				RequeueSchedule:  v.GetString("engine.maintenance.requeue_schedule"),
				StaleAfter:       v.GetDuration("engine.maintenance.stale_after"),
			},
			StockPoll: StockPollConfig{
				Enabled:       boolOrDefault(v, "engine.stock_poll.enabled", true),
				CheckInterval: v.GetDuration("engine.stock_poll.check_interval"),
			},
			Idempotency: IdempotencyConfig{
				Enabled:   boolOrDefault(v, "engine.idempotency.enabled", true),
				TTL:       v.GetDuration("engine.idempotency.ttl"),
				KeyPrefix: v.GetString("engine.idempotency.key_prefix"),
			},
			Ownership: v.GetStringMapString("engine.ownership"),
		},
	}

	if v.IsSet("engine.tenant_retry") {
		overrides := make(map[string]RetryConfig)
		if err := v.UnmarshalKey("engine.tenant_retry", &overrides); err != nil {
			return nil, fmt.Errorf("error reading engine.tenant_retry: %w", err)
		}
		cfg.Engine.TenantRetry = overrides
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func boolOrDefault(v *viper.Viper, key string, def bool) bool {
	if !v.IsSet(key) {
		return def
	}
	return v.GetBool(key)
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "syncengine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "syncengine"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	t := &cfg.Telemetry
	if t.CollectorEndpoint == "" {
		t.CollectorEndpoint = "localhost:4317"
	}
	if t.SamplingRatio == 0 {
		t.SamplingRatio = 1.0
	}
	if t.ServiceName == "" {
		t.ServiceName = cfg.App.Name
	}
	if t.MetricsExportInterval == 0 {
		t.MetricsExportInterval = 60 * time.Second
	}
	if t.DBSlowQueryThresh == 0 {
		t.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if t.ProfilingServerAddress == "" {
		t.ProfilingServerAddress = "http://localhost:4040"
	}

	e := &cfg.Engine
	if e.Worker.PollInterval == 0 {
		e.Worker.PollInterval = 5 * time.Second
	}
	if e.Worker.BatchSize == 0 {
		e.Worker.BatchSize = 50
	}
	if e.Worker.Concurrency == 0 {
		e.Worker.Concurrency = 1
	}
	if e.Retry.MaxRetries == 0 {
		e.Retry.MaxRetries = 5
	}
	if e.Retry.BaseDelay == 0 {
		e.Retry.BaseDelay = 60 * time.Second
	}
	if e.Retry.BackoffMultiplier == 0 {
		e.Retry.BackoffMultiplier = 2
	}
	if e.Retry.MaxDelay == 0 {
		e.Retry.MaxDelay = time.Hour
	}
	if e.Echo.PushWindow == 0 {
		e.Echo.PushWindow = 60 * time.Second
	}
	if e.Echo.RecentWriteWindow == 0 {
		e.Echo.RecentWriteWindow = 30 * time.Second
	}
	if e.Conflict.Window == 0 {
		e.Conflict.Window = 5 * time.Minute
	}
	if e.Lock.TTL == 0 {
		e.Lock.TTL = 2 * time.Minute
	}
	if e.Lock.Wait == 0 {
		e.Lock.Wait = 3 * time.Second
	}
	if e.Adapter.Timeout == 0 {
		e.Adapter.Timeout = 30 * time.Second
	}
	if e.Adapter.RateBurst == 0 {
		e.Adapter.RateBurst = 1
	}
	if e.Maintenance.CleanupSchedule == "" {
		e.Maintenance.CleanupSchedule = "0 3 * * *"
	}
	if e.Maintenance.CleanupRetention == 0 {
		e.Maintenance.CleanupRetention = 7 * 24 * time.Hour
	}
	if e.Maintenance.RequeueSchedule == "" {
		e.Maintenance.RequeueSchedule = "*/5 * * * *"
	}
	if e.Maintenance.StaleAfter == 0 {
		e.Maintenance.StaleAfter = 15 * time.Minute
	}
	if e.StockPoll.CheckInterval == 0 {
		e.StockPoll.CheckInterval = time.Minute
	}
	if e.Idempotency.TTL == 0 {
		e.Idempotency.TTL = 24 * time.Hour
	}
	if e.Idempotency.KeyPrefix == "" {
		e.Idempotency.KeyPrefix = "sync:webhook:"
	}
	for id, rc := range e.TenantRetry {
		e.TenantRetry[id] = rc.withFallback(e.Retry)
	}
}

// withFallback fills unset fields of a tenant override from the global policy.
func (r RetryConfig) withFallback(global RetryConfig) RetryConfig {
	if r.MaxRetries == 0 {
		r.MaxRetries = global.MaxRetries
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = global.BaseDelay
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = global.BackoffMultiplier
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = global.MaxDelay
	}
	return r
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	e := c.Engine
	if e.Worker.Concurrency < 0 {
		return fmt.Errorf("engine.worker.concurrency cannot be negative")
	}
	if e.Worker.BatchSize < 0 {
		return fmt.Errorf("engine.worker.batch_size cannot be negative")
	}
	if err := e.Retry.validate("engine.retry"); err != nil {
		return err
	}
	for id, rc := range e.TenantRetry {
		if err := rc.validate("engine.tenant_retry." + id); err != nil {
			return err
		}
	}
	if e.Echo.PushWindow < 0 || e.Echo.RecentWriteWindow < 0 {
		return fmt.Errorf("engine.echo windows cannot be negative")
	}
	if e.Conflict.Window < 0 {
		return fmt.Errorf("engine.conflict.window cannot be negative")
	}
	if e.Lock.Wait > e.Lock.TTL {
		return fmt.Errorf("engine.lock.wait (%s) cannot exceed engine.lock.ttl (%s)", e.Lock.Wait, e.Lock.TTL)
	}
	if e.Adapter.RateLimit < 0 {
		return fmt.Errorf("engine.adapter.rate_limit cannot be negative")
	}
	for field, class := range e.Ownership {
		switch strings.ToLower(class) {
		case "commerce", "fulfillment", "shared":
		default:
			return fmt.Errorf("engine.ownership.%s: unknown field class %q", field, class)
		}
	}
	return nil
}

func (r RetryConfig) validate(key string) error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries cannot be negative", key)
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("%s delays cannot be negative", key)
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("%s.backoff_multiplier must be at least 1, got %v", key, r.BackoffMultiplier)
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the host:port address of the Redis server
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

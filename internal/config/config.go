package config

import (
	"fmt"
	"time"
)

// Default service configuration values.
const (
	defaultServiceName    = "leadscout"
	defaultServiceVersion = "1.0.0"
	defaultServicePort    = 8090
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// Default database configuration values.
const (
	defaultDBHost         = "localhost"
	defaultDBPort         = 5432
	defaultDBUser         = "postgres"
	defaultDBName         = "leadscout"
	defaultDBSSLMode      = "disable"
	defaultDBMaxConns     = 25
	defaultDBMaxIdleConns = 5
	defaultDBConnLifetime = time.Hour
)

// Default scheduling and safety values. Maxima are deliberately conservative:
// exceeding platform-tolerated activity rates risks account bans.
const (
	defaultOperatingStartHour = 8
	defaultOperatingEndHour   = 24
	defaultMaxDailyScrapes    = 30
	defaultMaxDailyComments   = 15
	defaultMaxDailyDMs        = 8
	defaultMinActionDelay     = 30 * time.Second
	defaultMaxActionDelay     = 3 * time.Minute
	defaultStartupJitterMax   = 2 * time.Minute
	defaultCooldownPeriod     = 10 * time.Minute
	defaultActionsPerMinute   = 2
)

// Default run, conversation, health and cleanup values.
const (
	defaultInitialScrapeLimit = 200
	defaultScrapeBatchLimit   = 50
	defaultIdleTimeout        = 30 * time.Minute
	defaultIdleSweepInterval  = time.Minute
	defaultReportInterval     = 30 * time.Second
	defaultRetentionDays      = 7
	defaultCleanupSchedule    = "0 3 * * *"
	defaultSessionLockTTL     = 30 * time.Minute
	defaultAutomationTimeout  = 2 * time.Minute
)

// Config holds the full engine configuration, constructed once at process
// start and passed by dependency injection. Nothing reads the environment
// after loading.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Logging      LoggingConfig      `yaml:"logging"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Quota        QuotaConfig        `yaml:"quota"`
	Scrape       ScrapeConfig       `yaml:"scrape"`
	Conversation ConversationConfig `yaml:"conversation"`
	Health       HealthConfig       `yaml:"health"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
	Automation   AutomationConfig   `yaml:"automation"`
	Accounts     []AccountConfig    `yaml:"accounts"`
}

// ServiceConfig holds service identity and runtime settings.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"LEADSCOUT_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"      yaml:"debug"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_HOST"     yaml:"host"`
	Port            int           `env:"POSTGRES_PORT"     yaml:"port"`
	User            string        `env:"POSTGRES_USER"     yaml:"user"`
	Password        string        `env:"POSTGRES_PASSWORD" yaml:"password"`
	Database        string        `env:"POSTGRES_DB"       yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"     yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// ScheduleConfig holds the operating window and pacing rules shared by all
// agents. Hours are in each account's local day, 0-24; an end hour of 24
// means midnight.
type ScheduleConfig struct {
	OperatingStartHour int           `env:"OPERATING_START_HOUR" yaml:"operating_start_hour"`
	OperatingEndHour   int           `env:"OPERATING_END_HOUR"   yaml:"operating_end_hour"`
	PeakHours          []int         `env:"PEAK_HOURS"           yaml:"peak_hours"`
	MinActionDelay     time.Duration `env:"MIN_ACTION_DELAY"     yaml:"min_action_delay"`
	MaxActionDelay     time.Duration `env:"MAX_ACTION_DELAY"     yaml:"max_action_delay"`
	StartupJitterMax   time.Duration `env:"STARTUP_JITTER_MAX"   yaml:"startup_jitter_max"`
	CooldownPeriod     time.Duration `env:"COOLDOWN_PERIOD"      yaml:"cooldown_period"`
	ActionsPerMinute   int           `env:"ACTIONS_PER_MINUTE"   yaml:"actions_per_minute"`
}

// IsPeakHour reports whether the given hour is a designated peak hour.
func (s *ScheduleConfig) IsPeakHour(hour int) bool {
	for _, h := range s.PeakHours {
		if h == hour {
			return true
		}
	}
	return false
}

// QuotaConfig holds per-kind, per-account daily maxima. Fixed at deployment;
// agents cannot mutate them.
type QuotaConfig struct {
	MaxDailyScrapes  int `env:"MAX_DAILY_SCRAPES"  yaml:"max_daily_scrapes"`
	MaxDailyComments int `env:"MAX_DAILY_COMMENTS" yaml:"max_daily_comments"`
	MaxDailyDMs      int `env:"MAX_DAILY_DMS"      yaml:"max_daily_dms"`
}

// ScrapeConfig bounds scraping traversals.
type ScrapeConfig struct {
	// InitialScrapeLimit caps the full historical traversal on a group's
	// first-ever scrape.
	InitialScrapeLimit int `env:"INITIAL_SCRAPE_LIMIT" yaml:"initial_scrape_limit"`
	// BatchLimit caps posts fetched per incremental run.
	BatchLimit int `env:"SCRAPE_BATCH_LIMIT" yaml:"batch_limit"`
}

// ConversationConfig governs the messaging agent's idle handling.
type ConversationConfig struct {
	IdleTimeout   time.Duration `env:"CONVERSATION_IDLE_TIMEOUT" yaml:"idle_timeout"`
	SweepInterval time.Duration `env:"IDLE_SWEEP_INTERVAL"       yaml:"sweep_interval"`
}

// HealthConfig governs heartbeat reporting.
type HealthConfig struct {
	// ControlPlaneURL is the heartbeat ingestion endpoint base URL. Empty
	// means agents report through the in-process service directly.
	ControlPlaneURL string        `env:"CONTROL_PLANE_URL" yaml:"control_plane_url"`
	ReportInterval  time.Duration `env:"REPORT_INTERVAL"   yaml:"report_interval"`
	// SessionLockTTL bounds how long a crashed agent can hold an account's
	// session lock before it expires.
	SessionLockTTL time.Duration `env:"SESSION_LOCK_TTL" yaml:"session_lock_ttl"`
}

// CleanupConfig governs the scheduled post-retention job.
type CleanupConfig struct {
	RetentionDays int    `env:"CLEANUP_RETENTION_DAYS" yaml:"retention_days"`
	Schedule      string `env:"CLEANUP_SCHEDULE"       yaml:"schedule"`
	// Token is the shared secret required by the cleanup HTTP trigger.
	Token string `env:"CLEANUP_TOKEN" yaml:"token"`
}

// AutomationConfig points at the browser-automation sidecar that executes
// scraping and engagement actions on the engine's behalf.
type AutomationConfig struct {
	// BaseURL is the sidecar's HTTP endpoint. Empty disables the agent
	// fleet; the process then serves the control plane only.
	BaseURL        string        `env:"AUTOMATION_URL"             yaml:"base_url"`
	RequestTimeout time.Duration `env:"AUTOMATION_REQUEST_TIMEOUT" yaml:"request_timeout"`
}

// AccountConfig is one roster entry: the identity an agent operates.
type AccountConfig struct {
	ID            string `yaml:"id"`
	Username      string `yaml:"username"`
	CredentialRef string `yaml:"credential_ref"`
}

// Load loads configuration from a YAML file, applies defaults, then env
// overrides, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := loadFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg.setDefaults()
	// Re-apply env overrides after defaults (env always wins)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validatePort("service.port", c.Service.Port); err != nil {
		return err
	}

	if c.Database.Host == "" {
		return &ValidationError{Field: "database.host", Message: "is required"}
	}

	if c.Database.Database == "" {
		return &ValidationError{Field: "database.database", Message: "is required"}
	}

	if c.Redis.Addr == "" {
		return &ValidationError{Field: "redis.addr", Message: "is required"}
	}

	if c.Schedule.OperatingStartHour < 0 || c.Schedule.OperatingStartHour > 23 {
		return &ValidationError{Field: "schedule.operating_start_hour", Message: "must be between 0 and 23"}
	}

	if c.Schedule.OperatingEndHour < 1 || c.Schedule.OperatingEndHour > 24 {
		return &ValidationError{Field: "schedule.operating_end_hour", Message: "must be between 1 and 24"}
	}

	if c.Schedule.OperatingStartHour >= c.Schedule.OperatingEndHour {
		return &ValidationError{Field: "schedule.operating_start_hour", Message: "must be before operating_end_hour"}
	}

	for _, h := range c.Schedule.PeakHours {
		if h < 0 || h > 23 {
			return &ValidationError{Field: "schedule.peak_hours", Message: "hours must be between 0 and 23"}
		}
	}

	if c.Schedule.MinActionDelay > c.Schedule.MaxActionDelay {
		return &ValidationError{Field: "schedule.min_action_delay", Message: "must not exceed max_action_delay"}
	}

	if c.Quota.MaxDailyScrapes <= 0 || c.Quota.MaxDailyComments <= 0 || c.Quota.MaxDailyDMs <= 0 {
		return &ValidationError{Field: "quota", Message: "daily maxima must be positive"}
	}

	if c.Conversation.IdleTimeout <= 0 {
		return &ValidationError{Field: "conversation.idle_timeout", Message: "must be positive"}
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("accounts[%d].id", i), Message: "is required"}
		}
		if seen[acct.ID] {
			return &ValidationError{Field: fmt.Sprintf("accounts[%d].id", i), Message: "is duplicated"}
		}
		seen[acct.ID] = true
	}

	return nil
}

func (c *Config) setDefaults() {
	setServiceDefaults(&c.Service)
	setDatabaseDefaults(&c.Database)
	setLoggingDefaults(&c.Logging)
	setScheduleDefaults(&c.Schedule)
	setQuotaDefaults(&c.Quota)
	setScrapeDefaults(&c.Scrape)
	setConversationDefaults(&c.Conversation)
	setHealthDefaults(&c.Health)
	setCleanupDefaults(&c.Cleanup)

	if c.Automation.RequestTimeout == 0 {
		c.Automation.RequestTimeout = defaultAutomationTimeout
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
	if s.Port == 0 {
		s.Port = defaultServicePort
	}
}

func setDatabaseDefaults(d *DatabaseConfig) {
	if d.Host == "" {
		d.Host = defaultDBHost
	}
	if d.Port == 0 {
		d.Port = defaultDBPort
	}
	if d.User == "" {
		d.User = defaultDBUser
	}
	if d.Database == "" {
		d.Database = defaultDBName
	}
	if d.SSLMode == "" {
		d.SSLMode = defaultDBSSLMode
	}
	if d.MaxConnections == 0 {
		d.MaxConnections = defaultDBMaxConns
	}
	if d.MaxIdleConns == 0 {
		d.MaxIdleConns = defaultDBMaxIdleConns
	}
	if d.ConnMaxLifetime == 0 {
		d.ConnMaxLifetime = defaultDBConnLifetime
	}
}

func setLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	if l.Format == "" {
		l.Format = defaultLogFormat
	}
}

func setScheduleDefaults(s *ScheduleConfig) {
	if s.OperatingStartHour == 0 && s.OperatingEndHour == 0 {
		s.OperatingStartHour = defaultOperatingStartHour
		s.OperatingEndHour = defaultOperatingEndHour
	}
	if s.MinActionDelay == 0 {
		s.MinActionDelay = defaultMinActionDelay
	}
	if s.MaxActionDelay == 0 {
		s.MaxActionDelay = defaultMaxActionDelay
	}
	if s.StartupJitterMax == 0 {
		s.StartupJitterMax = defaultStartupJitterMax
	}
	if s.CooldownPeriod == 0 {
		s.CooldownPeriod = defaultCooldownPeriod
	}
	if s.ActionsPerMinute == 0 {
		s.ActionsPerMinute = defaultActionsPerMinute
	}
}

func setQuotaDefaults(q *QuotaConfig) {
	if q.MaxDailyScrapes == 0 {
		q.MaxDailyScrapes = defaultMaxDailyScrapes
	}
	if q.MaxDailyComments == 0 {
		q.MaxDailyComments = defaultMaxDailyComments
	}
	if q.MaxDailyDMs == 0 {
		q.MaxDailyDMs = defaultMaxDailyDMs
	}
}

func setScrapeDefaults(s *ScrapeConfig) {
	if s.InitialScrapeLimit == 0 {
		s.InitialScrapeLimit = defaultInitialScrapeLimit
	}
	if s.BatchLimit == 0 {
		s.BatchLimit = defaultScrapeBatchLimit
	}
}

func setConversationDefaults(c *ConversationConfig) {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaultIdleSweepInterval
	}
}

func setHealthDefaults(h *HealthConfig) {
	if h.ReportInterval == 0 {
		h.ReportInterval = defaultReportInterval
	}
	if h.SessionLockTTL == 0 {
		h.SessionLockTTL = defaultSessionLockTTL
	}
}

func setCleanupDefaults(c *CleanupConfig) {
	if c.RetentionDays == 0 {
		c.RetentionDays = defaultRetentionDays
	}
	if c.Schedule == "" {
		c.Schedule = defaultCleanupSchedule
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DATABASE_TYPE_POSTGRES = "POSTGRES"
	DATABASE_TYPE_MYSQL    = "MYSQL"
	DATABASE_TYPE_SQLITE   = "SQLITE"

	ENV_DEVELOPMENT = "development"
	ENV_PRODUCTION  = "production"
	ENV_TEST        = "test"
)

const developmentJWTSecret = "stellara-development-secret"

type Config struct {
	NodeEnv  string `env:"NODE_ENV" envDefault:"development"`
	Port     int    `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL"`
	// ExecutorName overrides the hostname used to register this instance.
	ExecutorName string `env:"EXECUTOR_NAME"`
	// TrustedProxies are the IPs or CIDRs whose X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Database   Database   `envPrefix:"DB_"`
	Engine     Engine     `envPrefix:"ENGINE_"`
	Auth       Auth
	Redis      Redis      `envPrefix:"REDIS_"`
	Stellar    Stellar    `envPrefix:"STELLAR_"`
	MarketData MarketData `envPrefix:"MARKET_DATA_"`
	Voice      Voice      `envPrefix:"VOICE_"`
	Throttle   Throttle   `envPrefix:"THROTTLE_"`
	Audit      Audit      `envPrefix:"AUDIT_"`
	Telemetry  Telemetry  `envPrefix:"OTEL_"`
}

type Database struct {
	Type         string `env:"TYPE" envDefault:"POSTGRES"`
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         int    `env:"PORT" envDefault:"5432"`
	Username     string `env:"USERNAME" envDefault:"postgres"`
	Password     string `env:"PASSWORD" envDefault:"password"`
	Database     string `env:"DATABASE" envDefault:"stellara_workflows"`
	SSLMode      string `env:"SSLMODE" envDefault:"disable"`
	URL          string `env:"URL"`
	SQLiteFile   string `env:"SQLITE_FILE" envDefault:"./stellara.db"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
}

type Engine struct {
	CheckDBInterval           time.Duration `env:"CHECK_DB_INTERVAL" envDefault:"3s"`
	StuckWorkflowsInterval    time.Duration `env:"STUCK_WORKFLOWS_INTERVAL" envDefault:"60s"`
	StuckWorkflowsRepairAfter time.Duration `env:"STUCK_WORKFLOWS_REPAIR_AFTER" envDefault:"5m"`
	BatchSize                 int           `env:"BATCH_SIZE" envDefault:"5"`          //number of workflows to pull from the database at a time
	ExecutorGroup             string        `env:"EXECUTOR_GROUP" envDefault:"default"` //the group id of the executor that it will process jobs from
	ExecutorSize              int           `env:"EXECUTOR_SIZE" envDefault:"5"`        //number of workers to run ie the parallel nature of the jobs
	HeartbeatInterval         time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
}

type Auth struct {
	JWTSecret       string        `env:"JWT_SECRET,unset"`
	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"stellara"`
	AccessTTL       time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL      time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	NonceTTL        time.Duration `env:"LOGIN_NONCE_TTL" envDefault:"5m"`
	MaxFailedLogins int           `env:"AUTH_MAX_FAILED_LOGINS" envDefault:"5"`
}

type Redis struct {
	URL           string `env:"URL" envDefault:"redis://localhost:6379/0"`
	ChannelPrefix string `env:"CHANNEL_PREFIX" envDefault:"stellara:"`
	Disabled      bool   `env:"DISABLED"`
}

type Stellar struct {
	HorizonURL        string        `env:"HORIZON_URL" envDefault:"https://horizon-testnet.stellar.org"`
	NetworkPassphrase string        `env:"NETWORK_PASSPHRASE" envDefault:"Test SDF Network ; September 2015"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	PageLimit         int           `env:"PAGE_LIMIT" envDefault:"50"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	MonitorEnabled    bool          `env:"MONITOR_ENABLED" envDefault:"true"`
}

type MarketData struct {
	URL         string        `env:"URL" envDefault:"https://api.coingecko.com/api/v3"`
	TTL         time.Duration `env:"TTL" envDefault:"60s"`
	Assets      []string      `env:"ASSETS" envDefault:"stellar,usd-coin" envSeparator:","`
	Currency    string        `env:"CURRENCY" envDefault:"usd"`
	RefreshCron string        `env:"REFRESH_CRON" envDefault:"@every 1m"`
}

type Voice struct {
	TranscribeURL  string        `env:"TRANSCRIBE_URL"`
	Workers        int           `env:"WORKERS" envDefault:"2"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
}

type Throttle struct {
	Backend       string  `env:"BACKEND" envDefault:"memory"`
	RPS           float64 `env:"RPS" envDefault:"10"`
	Burst         int     `env:"BURST" envDefault:"20"`
	AuthPerMinute int     `env:"AUTH_RPM" envDefault:"10"`
}

type Audit struct {
	RetentionDays int    `env:"RETENTION_DAYS" envDefault:"365"`
	PurgeCron     string `env:"PURGE_CRON" envDefault:"@daily"`
}

type Telemetry struct {
	Endpoint    string `env:"EXPORTER_OTLP_ENDPOINT" envDefault:"http://localhost:4318/v1/traces"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"stellara-api"`
	Disabled    bool   `env:"SDK_DISABLED"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Database.Type = strings.ToUpper(strings.TrimSpace(c.Database.Type))
	switch c.Database.Type {
	case DATABASE_TYPE_POSTGRES, DATABASE_TYPE_MYSQL, DATABASE_TYPE_SQLITE:
	default:
		return fmt.Errorf("DB_TYPE must be one of POSTGRES, MYSQL, SQLITE (got %q)", c.Database.Type)
	}
	if c.Database.Type == DATABASE_TYPE_MYSQL && c.Database.URL != "" {
		if !strings.HasPrefix(c.Database.URL, "mysql://") {
			return errors.New("DB_URL must start with 'mysql://' for MySQL")
		}
		if !strings.Contains(c.Database.URL, "parseTime=true") {
			return errors.New("DB_URL must contain 'parseTime=true' for MySQL")
		}
	}
	if c.Auth.JWTSecret == "" {
		if !c.IsDevelopment() && c.NodeEnv != ENV_TEST {
			return errors.New("JWT_SECRET is required outside development")
		}
		c.Auth.JWTSecret = developmentJWTSecret
	}
	if c.Engine.BatchSize <= 0 {
		c.Engine.BatchSize = 10
	}
	if c.Engine.ExecutorSize <= 0 {
		c.Engine.ExecutorSize = 1
	}
	for _, proxy := range c.TrustedProxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy)
		}
	}
	switch c.Throttle.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("THROTTLE_BACKEND must be memory or redis (got %q)", c.Throttle.Backend)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.NodeEnv == ENV_DEVELOPMENT
}

func (c *Config) IsProduction() bool {
	return c.NodeEnv == ENV_PRODUCTION
}

// Synchronize reports whether migrations are applied automatically on start.
func (c *Config) Synchronize() bool {
	return c.IsDevelopment() || c.Database.AutoMigrate
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// DatabaseURL is the DSN for the configured database.
func (c *Config) DatabaseURL() string {
	return c.Database.DSN()
}

// DriverName is the database/sql driver for the configured dialect.
func (d Database) DriverName() string {
	switch d.Type {
	case DATABASE_TYPE_MYSQL:
		return "mysql"
	case DATABASE_TYPE_SQLITE:
		return "sqlite3"
	default:
		return "postgres"
	}
}

// DSN is the connection string handed to sql.Open.
func (d Database) DSN() string {
	switch d.Type {
	case DATABASE_TYPE_MYSQL:
		if d.URL != "" {
			return strings.TrimPrefix(d.URL, "mysql://")
		}
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true",
			d.Username, d.Password, net.JoinHostPort(d.Host, strconv.Itoa(d.Port)), d.Database)
	case DATABASE_TYPE_SQLITE:
		return d.SQLiteFile + "?_busy_timeout=5000&_foreign_keys=on"
	default:
		if d.URL != "" {
			return d.URL
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.Username, d.Password),
			Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:     "/" + d.Database,
			RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
		}
		return u.String()
	}
}

// MigrationURL is the golang-migrate database URL.
func (d Database) MigrationURL() string {
	switch d.Type {
	case DATABASE_TYPE_MYSQL:
		return "mysql://" + d.DSN() + "&multiStatements=true"
	case DATABASE_TYPE_SQLITE:
		return "sqlite3://" + d.SQLiteFile
	default:
		return d.DSN()
	}
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "STOCKCORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "STOCKCORE_DB_DSN"
	EnvDBHost = "STOCKCORE_DB_HOST"
	EnvDBUser = "STOCKCORE_DB_USER"
	EnvDBName = "STOCKCORE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Reservation  ReservationConfig
	SLA          SLAConfig
	Sweeper      SweeperConfig
	Selector     SelectorConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOCKCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"STOCKCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOCKCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOCKCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOCKCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOCKCORE_DB_DSN"`
	Driver string `envconfig:"STOCKCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOCKCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"STOCKCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOCKCORE_DB_USER"`
	LegacyPassword string `envconfig:"STOCKCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOCKCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOCKCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOCKCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOCKCORE_REDIS_ADDR"`
	Password     string        `envconfig:"STOCKCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOCKCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOCKCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOCKCORE_AUTO_MIGRATE" default:"false"`
	// ReservationLock toggles the optional redis lock around vendor-fallback
	// iteration. Correctness never depends on it.
	ReservationLock bool `envconfig:"STOCKCORE_FEATURE_RESERVATION_LOCK" default:"true"`
}

type ReservationConfig struct {
	// TTL bounds how long an active reservation may sit without an order
	// transition before the sweeper force-releases it.
	TTL           time.Duration `envconfig:"STOCKCORE_RESERVATION_TTL" default:"30m"`
	MaxCandidates int           `envconfig:"STOCKCORE_RESERVATION_MAX_CANDIDATES" default:"10"`
	LockTTL       time.Duration `envconfig:"STOCKCORE_RESERVATION_LOCK_TTL" default:"5s"`
}

type SLAConfig struct {
	Window          time.Duration `envconfig:"STOCKCORE_SLA_WINDOW" default:"30m"`
	ExtensionWindow time.Duration `envconfig:"STOCKCORE_SLA_EXTENSION_WINDOW" default:"30m"`
	SweepInterval   time.Duration `envconfig:"STOCKCORE_SLA_SWEEP_INTERVAL" default:"1m"`
	SweepJitter     time.Duration `envconfig:"STOCKCORE_SLA_SWEEP_JITTER" default:"10s"`
	MaxAlternates   int           `envconfig:"STOCKCORE_SLA_MAX_ALTERNATES" default:"5"`
	// BreachCooldown excludes vendors an order was recently moved away from
	// so a breach cannot ping-pong between two overloaded vendors.
	BreachCooldown time.Duration `envconfig:"STOCKCORE_SLA_BREACH_COOLDOWN" default:"1h"`
}

type SweeperConfig struct {
	Interval  time.Duration `envconfig:"STOCKCORE_SWEEPER_INTERVAL" default:"5m"`
	Jitter    time.Duration `envconfig:"STOCKCORE_SWEEPER_JITTER" default:"30s"`
	Retention time.Duration `envconfig:"STOCKCORE_SWEEPER_RETENTION" default:"168h"`
}

type SelectorConfig struct {
	CacheTTL time.Duration `envconfig:"STOCKCORE_SELECTOR_CACHE_TTL" default:"30s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Lending       LendingConfig
	Cron          CronConfig
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
	Env          string `envconfig:"LENDKEEP_APP_ENV" required:"true"`
	Port         string `envconfig:"LENDKEEP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LENDKEEP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LENDKEEP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LENDKEEP_DB_DSN"`
	Driver string `envconfig:"LENDKEEP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LENDKEEP_DB_HOST"`
	LegacyPort     int    `envconfig:"LENDKEEP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LENDKEEP_DB_USER"`
	LegacyPassword string `envconfig:"LENDKEEP_DB_PASSWORD"`
	LegacyName     string `envconfig:"LENDKEEP_DB_NAME"`
	LegacySSLMode  string `envconfig:"LENDKEEP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LENDKEEP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LENDKEEP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LENDKEEP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LENDKEEP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LENDKEEP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LENDKEEP_REDIS_ADDR"`
	Password     string        `envconfig:"LENDKEEP_REDIS_PASSWORD"`
	DB           int           `envconfig:"LENDKEEP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LENDKEEP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LENDKEEP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LENDKEEP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LENDKEEP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LENDKEEP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LENDKEEP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LENDKEEP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LENDKEEP_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"LENDKEEP_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"LENDKEEP_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"LENDKEEP_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"LENDKEEP_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"LENDKEEP_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"LENDKEEP_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"LENDKEEP_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"LENDKEEP_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"LENDKEEP_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"LENDKEEP_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"LENDKEEP_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LENDKEEP_AUTO_MIGRATE" default:"false"`
	SeedOnBoot  bool `envconfig:"LENDKEEP_SEED_ON_BOOT" default:"false"`
}

// LendingConfig tunes the lending engine policies.
type LendingConfig struct {
	LoanPeriodDays  int `envconfig:"LENDKEEP_LOAN_PERIOD_DAYS" default:"14"`
	MaxActiveLoans  int `envconfig:"LENDKEEP_MAX_ACTIVE_LOANS" default:"1"`
	TxRetryAttempts int `envconfig:"LENDKEEP_TX_RETRY_ATTEMPTS" default:"3"`
}

// LoanPeriod returns the configured loan duration.
func (l LendingConfig) LoanPeriod() time.Duration {
	days := l.LoanPeriodDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

type CronConfig struct {
	Interval time.Duration `envconfig:"LENDKEEP_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"LENDKEEP_CRON_LOCK_TTL" default:"2h"`
	Port     string        `envconfig:"LENDKEEP_CRON_METRICS_PORT" default:"9090"`
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

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "soihtufest"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SOIHTUFEST_DB_DSN"
	EnvDBHost = "SOIHTUFEST_DB_HOST"
	EnvDBUser = "SOIHTUFEST_DB_USER"
	EnvDBName = "SOIHTUFEST_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Paytrail     PaytrailConfig
	SMTP         SMTPConfig
	Receipts     ReceiptsConfig
	Store        StoreConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"SOIHTUFEST_APP_ENV" required:"true"`
	Port         string `envconfig:"SOIHTUFEST_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SOIHTUFEST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SOIHTUFEST_LOG_WARN_STACK" default:"false"`
	BaseURL      string `envconfig:"SOIHTUFEST_BASE_URL" required:"true"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SOIHTUFEST_DB_DSN"`
	Driver string `envconfig:"SOIHTUFEST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SOIHTUFEST_DB_HOST"`
	LegacyPort     int    `envconfig:"SOIHTUFEST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SOIHTUFEST_DB_USER"`
	LegacyPassword string `envconfig:"SOIHTUFEST_DB_PASSWORD"`
	LegacyName     string `envconfig:"SOIHTUFEST_DB_NAME"`
	LegacySSLMode  string `envconfig:"SOIHTUFEST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SOIHTUFEST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOIHTUFEST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOIHTUFEST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOIHTUFEST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SOIHTUFEST_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"SOIHTUFEST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOIHTUFEST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOIHTUFEST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOIHTUFEST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOIHTUFEST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PaytrailConfig carries the merchant credentials and endpoint for the
// payment provider. The secret signs every outbound request and verifies
// every inbound callback.
type PaytrailConfig struct {
	MerchantID     string        `envconfig:"SOIHTUFEST_PAYTRAIL_MERCHANT_ID" required:"true"`
	Secret         string        `envconfig:"SOIHTUFEST_PAYTRAIL_SECRET" required:"true"`
	APIURL         string        `envconfig:"SOIHTUFEST_PAYTRAIL_API_URL" default:"https://services.paytrail.com"`
	RequestTimeout time.Duration `envconfig:"SOIHTUFEST_PAYTRAIL_TIMEOUT" default:"20s"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SOIHTUFEST_SMTP_HOST" default:"localhost"`
	Port     int    `envconfig:"SOIHTUFEST_SMTP_PORT" default:"25"`
	Username string `envconfig:"SOIHTUFEST_SMTP_USERNAME"`
	Password string `envconfig:"SOIHTUFEST_SMTP_PASSWORD"`
}

type ReceiptsConfig struct {
	From           string        `envconfig:"SOIHTUFEST_RECEIPT_FROM" default:"store@soihtufest.fi"`
	Subject        string        `envconfig:"SOIHTUFEST_RECEIPT_SUBJECT" default:"Order confirmation"`
	MaxAttempts    uint64        `envconfig:"SOIHTUFEST_RECEIPT_MAX_ATTEMPTS" default:"5"`
	InitialBackoff time.Duration `envconfig:"SOIHTUFEST_RECEIPT_INITIAL_BACKOFF" default:"2s"`
	MaxBackoff     time.Duration `envconfig:"SOIHTUFEST_RECEIPT_MAX_BACKOFF" default:"2m"`
	RequeueAfter   time.Duration `envconfig:"SOIHTUFEST_RECEIPT_REQUEUE_AFTER" default:"15m"`
}

type StoreConfig struct {
	NoCostMethod string `envconfig:"SOIHTUFEST_STORE_NO_COST_METHOD" default:"no_payment"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SOIHTUFEST_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SOIHTUFEST_AUTO_MIGRATE" default:"false"`
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

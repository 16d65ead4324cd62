package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Listings     ListingsConfig
	Security     SecurityConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
	GoogleMaps   GoogleMapsConfig
	GCP          GCPConfig
	GCS          GCSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Listings.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KEYSTONE_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYSTONE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KEYSTONE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYSTONE_LOG_WARN_STACK" default:"false"`

	// LogDebugSample keeps one debug entry in N.
	LogDebugSample uint32 `envconfig:"KEYSTONE_LOG_DEBUG_SAMPLE" default:"1"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"KEYSTONE_DB_DSN"`
	Driver string `envconfig:"KEYSTONE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEYSTONE_DB_HOST"`
	LegacyPort     int    `envconfig:"KEYSTONE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEYSTONE_DB_USER"`
	LegacyPassword string `envconfig:"KEYSTONE_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEYSTONE_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEYSTONE_DB_SSLMODE" default:"disable"`

	MaxOpenConns     int           `envconfig:"KEYSTONE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns     int           `envconfig:"KEYSTONE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime  time.Duration `envconfig:"KEYSTONE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime  time.Duration `envconfig:"KEYSTONE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	OperationTimeout time.Duration `envconfig:"KEYSTONE_DB_OPERATION_TIMEOUT" default:"10s"`
	SlowQuery        time.Duration `envconfig:"KEYSTONE_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYSTONE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEYSTONE_REDIS_ADDR"`
	Password     string        `envconfig:"KEYSTONE_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYSTONE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYSTONE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYSTONE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYSTONE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYSTONE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYSTONE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KEYSTONE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KEYSTONE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"KEYSTONE_JWT_EXPIRATION_MINUTES" default:"60"`
	SessionTTLMinutes int    `envconfig:"KEYSTONE_SESSION_TTL_MINUTES" default:"10080"`
}

// SessionTTL returns how long a hosted-auth session stays registered.
func (j JWTConfig) SessionTTL() time.Duration {
	if j.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.SessionTTLMinutes) * time.Minute
}

type ListingsConfig struct {
	WriteShape   string `envconfig:"KEYSTONE_LISTINGS_WRITE_SHAPE" default:"geo"`
	MaxImages    int    `envconfig:"KEYSTONE_LISTINGS_MAX_IMAGES" default:"40"`
	MaxUploadMB  int    `envconfig:"KEYSTONE_LISTINGS_MAX_UPLOAD_MB" default:"15"`
	ObjectPrefix string `envconfig:"KEYSTONE_LISTINGS_OBJECT_PREFIX" default:"listings"`
}

func (l ListingsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.WriteShape)) {
	case ShapeWide, ShapeNormalized, ShapeGeo:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvListingsWriteShape, ShapeWide, ShapeNormalized, ShapeGeo)
	}
}

// MaxUploadBytes converts the configured upload cap to bytes.
func (l ListingsConfig) MaxUploadBytes() int64 {
	if l.MaxUploadMB <= 0 {
		return 0
	}
	return int64(l.MaxUploadMB) << 20
}

type SecurityConfig struct {
	AlertWindow    time.Duration `envconfig:"KEYSTONE_SECURITY_ALERT_WINDOW" default:"15m"`
	AlertThreshold int           `envconfig:"KEYSTONE_SECURITY_ALERT_THRESHOLD" default:"5"`
	// GeocodePerMinute caps geocode previews per user; zero disables the limit.
	GeocodePerMinute int `envconfig:"KEYSTONE_SECURITY_GEOCODE_PER_MINUTE" default:"30"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"KEYSTONE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KEYSTONE_AUTO_MIGRATE" default:"false"`
}

type GoogleMapsConfig struct {
	APIKey  string `envconfig:"KEYSTONE_GOOGLE_MAPS_API_KEY"`
	BaseURL string `envconfig:"KEYSTONE_GOOGLE_MAPS_BASE_URL"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEYSTONE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KEYSTONE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KEYSTONE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"KEYSTONE_GCS_BUCKET_NAME" required:"true"`
	PublicBaseURL string `envconfig:"KEYSTONE_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:keystone.db?_foreign_keys=on"
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

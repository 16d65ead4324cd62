package config

const EnvPrefix = "KEYSTONE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ShapeWide       = "wide"
	ShapeNormalized = "normalized"
	ShapeGeo        = "geo"
)

const (
	EnvAppEnv   = "KEYSTONE_APP_ENV"
	EnvPort     = "KEYSTONE_APP_PORT"
	EnvLogLevel = "KEYSTONE_LOG_LEVEL"

	EnvDBDSN    = "KEYSTONE_DB_DSN"
	EnvDBDriver = "KEYSTONE_DB_DRIVER"
	EnvDBHost   = "KEYSTONE_DB_HOST"
	EnvDBUser   = "KEYSTONE_DB_USER"
	EnvDBName   = "KEYSTONE_DB_NAME"

	EnvRedisURL = "KEYSTONE_REDIS_URL"

	EnvJWTSecret = "KEYSTONE_JWT_SECRET"
	EnvJWTIssuer = "KEYSTONE_JWT_ISSUER"

	EnvListingsWriteShape = "KEYSTONE_LISTINGS_WRITE_SHAPE"
	EnvGCSBucket          = "KEYSTONE_GCS_BUCKET_NAME"
	EnvCORSOrigins        = "KEYSTONE_CORS_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

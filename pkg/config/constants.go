package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "LENDKEEP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv    = "LENDKEEP_APP_ENV"
	EnvPort      = "LENDKEEP_APP_PORT"
	EnvRedisURL  = "LENDKEEP_REDIS_URL"
	EnvJWTSecret = "LENDKEEP_JWT_SECRET"
	EnvJWTIssuer = "LENDKEEP_JWT_ISSUER"

	EnvDBDSN  = "LENDKEEP_DB_DSN"
	EnvDBHost = "LENDKEEP_DB_HOST"
	EnvDBUser = "LENDKEEP_DB_USER"
	EnvDBName = "LENDKEEP_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

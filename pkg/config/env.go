package config

// EnvPrefix is handed to envconfig; every field carries its full name in the tag.
const EnvPrefix = "PORTAL"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "PORTAL_APP_ENV"
	EnvPort     = "PORTAL_APP_PORT"
	EnvLogLevel = "PORTAL_LOG_LEVEL"

	EnvDBDSN  = "PORTAL_DB_DSN"
	EnvDBHost = "PORTAL_DB_HOST"
	EnvDBUser = "PORTAL_DB_USER"
	EnvDBName = "PORTAL_DB_NAME"

	EnvUseSQLite = "PORTAL_USE_SQLITE"

	EnvRedisURL = "PORTAL_REDIS_URL"

	EnvJWTSecret         = "PORTAL_JWT_SECRET"
	EnvJWTIssuer         = "PORTAL_JWT_ISSUER"
	EnvJWTExpMins        = "PORTAL_JWT_EXPIRATION_MINUTES"
	EnvSessionTTLMinutes = "PORTAL_SESSION_TTL_MINUTES"

	EnvProfileRetryBudget  = "PORTAL_PROFILE_RETRY_BUDGET"
	EnvProfileRetryBackoff = "PORTAL_PROFILE_RETRY_BACKOFF"

	EnvWorkspaceMax = "PORTAL_WORKSPACE_MAX"

	EnvGCPProjectID        = "PORTAL_GCP_PROJECT_ID"
	EnvPubSubIdentityTopic = "PORTAL_PUBSUB_IDENTITY_TOPIC"
	EnvPubSubIdentitySub   = "PORTAL_PUBSUB_IDENTITY_SUBSCRIPTION"
)

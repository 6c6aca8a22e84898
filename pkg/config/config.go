package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Profile       ProfileConfig
	Workspace     WorkspaceConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
}

// Load reads every section from the environment and checks the
// cross-field rules envconfig tags cannot express. All violations are
// reported together.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs error
	if !c.FeatureFlags.UseSQLite {
		errs = multierr.Append(errs, c.DB.resolveDSN())
	}
	if c.JWT.SessionTTL() <= c.JWT.AccessTTL() {
		errs = multierr.Append(errs, fmt.Errorf("%s must exceed the access token lifetime", EnvSessionTTLMinutes))
	}
	if c.Profile.RetryBudget < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must not be negative", EnvProfileRetryBudget))
	}
	if c.Workspace.IdleTTL > 0 && c.Workspace.SweepInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("workspace sweep interval must be positive when idle ttl is set"))
	}
	if c.Workspace.MaxLive <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be positive", EnvWorkspaceMax))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"PORTAL_APP_ENV" required:"true"`
	Port         string `envconfig:"PORTAL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PORTAL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PORTAL_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string      `envconfig:"PORTAL_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout    time.Duration `envconfig:"PORTAL_SHUTDOWN_TIMEOUT" default:"15s"`
	ClientCookieSecure bool          `envconfig:"PORTAL_CLIENT_COOKIE_SECURE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN        string `envconfig:"PORTAL_DB_DSN"`
	Driver     string `envconfig:"PORTAL_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"PORTAL_DB_SQLITE_PATH" default:"portal.db"`

	LegacyHost     string `envconfig:"PORTAL_DB_HOST"`
	LegacyPort     int    `envconfig:"PORTAL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PORTAL_DB_USER"`
	LegacyPassword string `envconfig:"PORTAL_DB_PASSWORD"`
	LegacyName     string `envconfig:"PORTAL_DB_NAME"`
	LegacySSLMode  string `envconfig:"PORTAL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PORTAL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PORTAL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PORTAL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PORTAL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"PORTAL_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PORTAL_REDIS_URL"`
	Address      string        `envconfig:"PORTAL_REDIS_ADDR"`
	Password     string        `envconfig:"PORTAL_REDIS_PASSWORD"`
	DB           int           `envconfig:"PORTAL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PORTAL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PORTAL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PORTAL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PORTAL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PORTAL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PORTAL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PORTAL_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PORTAL_JWT_EXPIRATION_MINUTES" required:"true"`
	SessionTTLMinutes int    `envconfig:"PORTAL_SESSION_TTL_MINUTES" default:"10080"`
}

// SessionTTL returns how long an issued identity session stays valid.
func (j JWTConfig) SessionTTL() time.Duration {
	if j.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.SessionTTLMinutes) * time.Minute
}

// AccessTTL returns the lifetime of a single access token.
func (j JWTConfig) AccessTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"PORTAL_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"PORTAL_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"PORTAL_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"PORTAL_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"PORTAL_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"PORTAL_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"PORTAL_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"PORTAL_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"PORTAL_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"PORTAL_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"PORTAL_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite       bool `envconfig:"PORTAL_USE_SQLITE" default:"false"`
	AutoMigrate     bool `envconfig:"PORTAL_AUTO_MIGRATE" default:"false"`
	StrictRoleGuard bool `envconfig:"PORTAL_STRICT_ROLE_GUARD" default:"true"`
}

// ProfileConfig tunes the profile reconciliation loop.
type ProfileConfig struct {
	RetryBudget   int           `envconfig:"PORTAL_PROFILE_RETRY_BUDGET" default:"3"`
	RetryBackoff  time.Duration `envconfig:"PORTAL_PROFILE_RETRY_BACKOFF" default:"1s"`
	AvatarBaseURL string        `envconfig:"PORTAL_PROFILE_AVATAR_BASE_URL" default:"https://ui-avatars.com/api/"`
}

type WorkspaceConfig struct {
	IdleTTL       time.Duration `envconfig:"PORTAL_WORKSPACE_IDLE_TTL" default:"30m"`
	SweepInterval time.Duration `envconfig:"PORTAL_WORKSPACE_SWEEP_INTERVAL" default:"1m"`
	MaxLive       int           `envconfig:"PORTAL_WORKSPACE_MAX" default:"10000"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"PORTAL_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"PORTAL_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	IdentityTopic        string        `envconfig:"PORTAL_PUBSUB_IDENTITY_TOPIC" default:"portal-identity-events"`
	IdentitySubscription string        `envconfig:"PORTAL_PUBSUB_IDENTITY_SUBSCRIPTION"`
	IdempotencyTTL       time.Duration `envconfig:"PORTAL_PUBSUB_IDEMPOTENCY_TTL" default:"168h"`
}

// Enabled reports whether identity events should flow through Pub/Sub.
func (p PubSubConfig) Enabled(gcp GCPConfig) bool {
	return strings.TrimSpace(gcp.ProjectID) != "" && strings.TrimSpace(p.IdentityTopic) != ""
}

// resolveDSN assembles a postgres URL from the discrete PORTAL_DB_* parts
// when no DSN is given.
func (db *DBConfig) resolveDSN() error {
	if db.DSN != "" {
		return nil
	}
	var missing []string
	for env, v := range map[string]string{EnvDBHost: db.LegacyHost, EnvDBUser: db.LegacyUser, EnvDBName: db.LegacyName} {
		if v == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword != "" {
		u.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = u.String()
	return nil
}

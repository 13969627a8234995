package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Geofence     GeofenceConfig
	Ingest       IngestConfig
	Retention    RetentionConfig
	Cron         CronConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Geofence.Validate(); err != nil {
		return nil, err
	}
	if cfg.FeatureFlags.RequireIngestAuth && strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("%s is required when %s is enabled", EnvJWTSecret, EnvRequireIngestAuth)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"HOSTELSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"HOSTELSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HOSTELSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HOSTELSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"HOSTELSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"HOSTELSYNC_DB_DSN"`
	Driver string `envconfig:"HOSTELSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"HOSTELSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"HOSTELSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"HOSTELSYNC_DB_USER"`
	LegacyPassword string `envconfig:"HOSTELSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"HOSTELSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"HOSTELSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HOSTELSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HOSTELSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HOSTELSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HOSTELSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"HOSTELSYNC_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HOSTELSYNC_REDIS_URL"`
	Address      string        `envconfig:"HOSTELSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"HOSTELSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"HOSTELSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HOSTELSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HOSTELSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HOSTELSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HOSTELSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HOSTELSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify device session tokens.
// Tokens are minted by the hostel portal; this service only verifies them.
type JWTConfig struct {
	Secret            string `envconfig:"HOSTELSYNC_JWT_SECRET"`
	Issuer            string `envconfig:"HOSTELSYNC_JWT_ISSUER" default:"hostelsync"`
	ExpirationMinutes int    `envconfig:"HOSTELSYNC_JWT_EXPIRATION_MINUTES" default:"1440"`
}

type FeatureFlagsConfig struct {
	AutoMigrate       bool `envconfig:"HOSTELSYNC_AUTO_MIGRATE" default:"false"`
	RequireIngestAuth bool `envconfig:"HOSTELSYNC_FEATURE_REQUIRE_INGEST_AUTH" default:"false"`
}

// GeofenceConfig describes the hostel reference point and the fence around it.
type GeofenceConfig struct {
	ReferenceLat float64       `envconfig:"HOSTELSYNC_GEOFENCE_REFERENCE_LAT" default:"17.53883"`
	ReferenceLng float64       `envconfig:"HOSTELSYNC_GEOFENCE_REFERENCE_LNG" default:"78.39342"`
	RadiusMeters float64       `envconfig:"HOSTELSYNC_GEOFENCE_RADIUS_METERS" default:"500"`
	BufferMeters float64       `envconfig:"HOSTELSYNC_GEOFENCE_BUFFER_METERS" default:"10"`
	StaleAfter   time.Duration `envconfig:"HOSTELSYNC_GEOFENCE_STALE_AFTER" default:"0s"`
}

// Validate rejects reference points outside WGS84 bounds and non-positive radii.
func (g GeofenceConfig) Validate() error {
	if math.IsNaN(g.ReferenceLat) || g.ReferenceLat < -90 || g.ReferenceLat > 90 {
		return fmt.Errorf("%s must be within [-90, 90]", EnvGeofenceRefLat)
	}
	if math.IsNaN(g.ReferenceLng) || g.ReferenceLng < -180 || g.ReferenceLng > 180 {
		return fmt.Errorf("%s must be within [-180, 180]", EnvGeofenceRefLng)
	}
	if !(g.RadiusMeters > 0) {
		return fmt.Errorf("%s must be positive", EnvGeofenceRadius)
	}
	if g.BufferMeters < 0 {
		return fmt.Errorf("%s must not be negative", EnvGeofenceBuffer)
	}
	if g.StaleAfter < 0 {
		return errors.New("geofence stale-after must not be negative")
	}
	return nil
}

type IngestConfig struct {
	ReadLimitBytes  int64         `envconfig:"HOSTELSYNC_INGEST_READ_LIMIT_BYTES" default:"1024"`
	PongWait        time.Duration `envconfig:"HOSTELSYNC_INGEST_PONG_WAIT" default:"60s"`
	PingInterval    time.Duration `envconfig:"HOSTELSYNC_INGEST_PING_INTERVAL" default:"30s"`
	WriteWait       time.Duration `envconfig:"HOSTELSYNC_INGEST_WRITE_WAIT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"HOSTELSYNC_INGEST_ALLOWED_ORIGINS" default:"*"`
	RateLimitWindow time.Duration `envconfig:"HOSTELSYNC_INGEST_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP  int           `envconfig:"HOSTELSYNC_INGEST_RATE_LIMIT_PER_IP" default:"120"`
}

type RetentionConfig struct {
	PositionMaxAge time.Duration `envconfig:"HOSTELSYNC_RETENTION_POSITION_MAX_AGE" default:"720h"`
	OutboxMaxAge   time.Duration `envconfig:"HOSTELSYNC_RETENTION_OUTBOX_MAX_AGE" default:"720h"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"HOSTELSYNC_CRON_INTERVAL" default:"1h"`
	LockTTL            time.Duration `envconfig:"HOSTELSYNC_CRON_LOCK_TTL" default:"10m"`
	ReconcileBatchSize int           `envconfig:"HOSTELSYNC_CRON_RECONCILE_BATCH_SIZE" default:"500"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"HOSTELSYNC_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"HOSTELSYNC_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"HOSTELSYNC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"HOSTELSYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	GeofenceTopic        string `envconfig:"HOSTELSYNC_PUBSUB_GEOFENCE_TOPIC" default:"hostel-geofence-events"`
	GeofenceSubscription string `envconfig:"HOSTELSYNC_PUBSUB_GEOFENCE_SUBSCRIPTION" default:"hostel-geofence-events-bq"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"HOSTELSYNC_BIGQUERY_DATASET" default:"hostelsync"`
	GeofenceEventsTable string `envconfig:"HOSTELSYNC_BIGQUERY_GEOFENCE_TABLE" default:"geofence_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"HOSTELSYNC_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"HOSTELSYNC_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"HOSTELSYNC_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// TrackerConfig drives the device-side reporter in cmd/tracker.
type TrackerConfig struct {
	ServerURL   string        `envconfig:"HOSTELSYNC_TRACKER_SERVER_URL" default:"http://localhost:8080"`
	Username    string        `envconfig:"HOSTELSYNC_TRACKER_USERNAME"`
	Email       string        `envconfig:"HOSTELSYNC_TRACKER_EMAIL"`
	Token       string        `envconfig:"HOSTELSYNC_TRACKER_TOKEN"`
	Mode        string        `envconfig:"HOSTELSYNC_TRACKER_MODE" default:"oneshot"`
	Interval    time.Duration `envconfig:"HOSTELSYNC_TRACKER_INTERVAL" default:"5s"`
	ReportEvery time.Duration `envconfig:"HOSTELSYNC_TRACKER_REPORT_EVERY" default:"10m"`
	MaxAge      time.Duration `envconfig:"HOSTELSYNC_TRACKER_MAX_AGE" default:"5s"`
	RouteFile   string        `envconfig:"HOSTELSYNC_TRACKER_ROUTE_FILE"`
}

// TrackerSettings is the subset of configuration a device needs. It loads
// without database or redis settings.
type TrackerSettings struct {
	LogLevel string `envconfig:"HOSTELSYNC_LOG_LEVEL" default:"info"`
	Geofence GeofenceConfig
	Tracker  TrackerConfig
}

func LoadTracker() (*TrackerSettings, error) {
	var cfg TrackerSettings
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing tracker config: %w", err)
	}
	if err := cfg.Geofence.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Tracker.ServerURL) == "" {
		return nil, fmt.Errorf("%s is required", EnvTrackerServerURL)
	}
	if cfg.Tracker.Interval <= 0 {
		return nil, fmt.Errorf("%s must be positive", EnvTrackerInterval)
	}
	return &cfg, nil
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

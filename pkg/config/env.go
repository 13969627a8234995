package config

const EnvPrefix = "HOSTELSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "HOSTELSYNC_APP_ENV"
	EnvPort     = "HOSTELSYNC_APP_PORT"
	EnvLogLevel = "HOSTELSYNC_LOG_LEVEL"

	EnvDBDSN  = "HOSTELSYNC_DB_DSN"
	EnvDBHost = "HOSTELSYNC_DB_HOST"
	EnvDBUser = "HOSTELSYNC_DB_USER"
	EnvDBName = "HOSTELSYNC_DB_NAME"

	EnvRedisURL = "HOSTELSYNC_REDIS_URL"

	EnvJWTSecret         = "HOSTELSYNC_JWT_SECRET"
	EnvRequireIngestAuth = "HOSTELSYNC_FEATURE_REQUIRE_INGEST_AUTH"

	EnvGeofenceRefLat     = "HOSTELSYNC_GEOFENCE_REFERENCE_LAT"
	EnvGeofenceRefLng     = "HOSTELSYNC_GEOFENCE_REFERENCE_LNG"
	EnvGeofenceRadius     = "HOSTELSYNC_GEOFENCE_RADIUS_METERS"
	EnvGeofenceBuffer     = "HOSTELSYNC_GEOFENCE_BUFFER_METERS"
	EnvGeofenceStaleAfter = "HOSTELSYNC_GEOFENCE_STALE_AFTER"

	EnvIngestAllowedOrigins = "HOSTELSYNC_INGEST_ALLOWED_ORIGINS"
	EnvRetentionMaxAge      = "HOSTELSYNC_RETENTION_POSITION_MAX_AGE"

	EnvGCPProjectID = "HOSTELSYNC_GCP_PROJECT_ID"

	EnvTrackerServerURL = "HOSTELSYNC_TRACKER_SERVER_URL"
	EnvTrackerUsername  = "HOSTELSYNC_TRACKER_USERNAME"
	EnvTrackerMode      = "HOSTELSYNC_TRACKER_MODE"
	EnvTrackerInterval  = "HOSTELSYNC_TRACKER_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

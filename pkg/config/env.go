package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "SETTLEMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "SETTLEMENT_APP_ENV"
	EnvPort     = "SETTLEMENT_APP_PORT"
	EnvLogLevel = "SETTLEMENT_LOG_LEVEL"

	EnvDBDSN    = "SETTLEMENT_DB_DSN"
	EnvDBDriver = "SETTLEMENT_DB_DRIVER"
	EnvDBHost   = "SETTLEMENT_DB_HOST"
	EnvDBUser   = "SETTLEMENT_DB_USER"
	EnvDBName   = "SETTLEMENT_DB_NAME"

	EnvRedisURL = "SETTLEMENT_REDIS_URL"

	EnvJWTSecret = "SETTLEMENT_JWT_SECRET"
	EnvJWTIssuer = "SETTLEMENT_JWT_ISSUER"

	EnvGCPProjectID = "SETTLEMENT_GCP_PROJECT_ID"

	EnvPubSubSettlementTopic = "SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC"
	EnvPubSubAnalyticsSub    = "SETTLEMENT_PUBSUB_ANALYTICS_SUBSCRIPTION"

	EnvPaymentsGateway   = "SETTLEMENT_PAYMENTS_GATEWAY"
	EnvPaymentsKeyID     = "SETTLEMENT_PAYMENTS_KEY_ID"
	EnvPaymentsKeySecret = "SETTLEMENT_PAYMENTS_KEY_SECRET"

	EnvCommissionDefaultRate = "SETTLEMENT_COMMISSION_DEFAULT_RATE"
	EnvReturnWindowDays      = "SETTLEMENT_ORDERS_RETURN_WINDOW_DAYS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

package config

const (
	EnvPrefix = "GIFTLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv      = "GIFTLEDGER_APP_ENV"
	EnvPort        = "GIFTLEDGER_APP_PORT"
	EnvDBDSN       = "GIFTLEDGER_DB_DSN"
	EnvDBHost      = "GIFTLEDGER_DB_HOST"
	EnvDBUser      = "GIFTLEDGER_DB_USER"
	EnvDBName      = "GIFTLEDGER_DB_NAME"
	EnvDBPassword  = "GIFTLEDGER_DB_PASSWORD"
	EnvRedisURL    = "GIFTLEDGER_REDIS_URL"
	EnvJWTSecret   = "GIFTLEDGER_JWT_SECRET"
	EnvJWTIssuer   = "GIFTLEDGER_JWT_ISSUER"
	EnvUseSQLite   = "GIFTLEDGER_USE_SQLITE"
	EnvStripeKey   = "GIFTLEDGER_STRIPE_API_KEY"
	EnvStripeHook  = "GIFTLEDGER_STRIPE_SECRET"
	EnvLedgerTopic = "GIFTLEDGER_PUBSUB_LEDGER_TOPIC"

	EnvLedgerMinContribution = "GIFTLEDGER_LEDGER_MIN_CONTRIBUTION_CENTS"
	EnvLedgerMinRedemption   = "GIFTLEDGER_LEDGER_MIN_REDEMPTION_CENTS"
	EnvLedgerFlagThreshold   = "GIFTLEDGER_LEDGER_FLAG_THRESHOLD_CENTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

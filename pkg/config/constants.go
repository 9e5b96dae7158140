package config

const (
	EnvPrefix = "CATALOG"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "CATALOG_APP_ENV"
	EnvLogLevel = "CATALOG_LOG_LEVEL"

	EnvDBDSN      = "CATALOG_DB_DSN"
	EnvDBDriver   = "CATALOG_DB_DRIVER"
	EnvDBHost     = "CATALOG_DB_HOST"
	EnvDBPort     = "CATALOG_DB_PORT"
	EnvDBUser     = "CATALOG_DB_USER"
	EnvDBPassword = "CATALOG_DB_PASS"
	EnvDBName     = "CATALOG_DB_NAME"

	EnvRedisURL = "CATALOG_REDIS_URL"

	EnvShopifyDomain  = "CATALOG_SHOPIFY_DOMAIN"
	EnvShopifyToken   = "CATALOG_SHOPIFY_TOKEN"
	EnvShopifyVersion = "CATALOG_SHOPIFY_API_VERSION"

	EnvProductIDs      = "CATALOG_PRODUCT_IDS"
	EnvExclusionMarker = "CATALOG_RESET_EXCLUDE_MARKER"
	EnvSurvivorPolicy  = "CATALOG_RESET_SURVIVOR"

	EnvSyncStockLocation = "CATALOG_SYNC_STOCK_LOCATION"

	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"

	SurvivorFirst = "first"
	SurvivorLast  = "last"
)

var legacyDBEnvVars = []string{
	EnvDBHost,
	EnvDBUser,
	EnvDBName,
}

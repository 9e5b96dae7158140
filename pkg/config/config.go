package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Shopify ShopifyConfig `validate:"-"`
	Reset   ResetConfig
	Sync    SyncConfig
}

// Load reads the process environment once. Shopify credentials are validated
// separately by the binaries that talk to the remote catalog.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validateStruct(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CATALOG_APP_ENV" default:"dev" validate:"required"`
	LogLevel     string `envconfig:"CATALOG_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CATALOG_LOG_FORMAT" default:"json" validate:"oneof=json console"`
	LogWarnStack bool   `envconfig:"CATALOG_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"CATALOG_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CATALOG_DB_DSN"`
	Driver string `envconfig:"CATALOG_DB_DRIVER" default:"postgres" validate:"oneof=postgres mysql sqlite"`

	Host     string `envconfig:"CATALOG_DB_HOST"`
	Port     int    `envconfig:"CATALOG_DB_PORT"`
	User     string `envconfig:"CATALOG_DB_USER"`
	Password string `envconfig:"CATALOG_DB_PASS"`
	Name     string `envconfig:"CATALOG_DB_NAME"`
	SSLMode  string `envconfig:"CATALOG_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CATALOG_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"CATALOG_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CATALOG_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CATALOG_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CATALOG_REDIS_URL"`
	Address      string        `envconfig:"CATALOG_REDIS_ADDR"`
	Password     string        `envconfig:"CATALOG_REDIS_PASSWORD"`
	DB           int           `envconfig:"CATALOG_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CATALOG_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"CATALOG_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"CATALOG_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CATALOG_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CATALOG_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured. Without one the
// binaries fall back to process-local locks.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type ShopifyConfig struct {
	ShopDomain    string        `envconfig:"CATALOG_SHOPIFY_DOMAIN" validate:"required"`
	AccessToken   string        `envconfig:"CATALOG_SHOPIFY_TOKEN" validate:"required"`
	APIVersion    string        `envconfig:"CATALOG_SHOPIFY_API_VERSION" default:"2024-04" validate:"required"`
	// Timeout bounds a single request attempt.
	Timeout       time.Duration `envconfig:"CATALOG_SHOPIFY_TIMEOUT" default:"30s"`
	MaxAttempts   int           `envconfig:"CATALOG_SHOPIFY_MAX_ATTEMPTS" default:"5" validate:"min=1"`
	BackoffBase   time.Duration `envconfig:"CATALOG_SHOPIFY_BACKOFF_BASE" default:"1s"`
	BackoffCap    time.Duration `envconfig:"CATALOG_SHOPIFY_BACKOFF_CAP" default:"32s"`
	MutationDelay time.Duration `envconfig:"CATALOG_SHOPIFY_MUTATION_DELAY" default:"500ms"`
}

// Validate checks the credentials needed to reach the Admin API.
func (s ShopifyConfig) Validate() error {
	return validateStruct(&s)
}

// APIURL builds the REST endpoint for the configured shop and API version.
func (s ShopifyConfig) APIURL(endpoint string) string {
	return fmt.Sprintf("%s/%s", s.BaseURL(), strings.TrimLeft(endpoint, "/"))
}

// BaseURL returns the admin API root without a trailing slash.
func (s ShopifyConfig) BaseURL() string {
	domain := strings.TrimSuffix(strings.TrimSpace(s.ShopDomain), "/")
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return fmt.Sprintf("%s/admin/api/%s", domain, s.APIVersion)
}

type ResetConfig struct {
	ProductIDs      []string      `envconfig:"CATALOG_PRODUCT_IDS"`
	ExclusionMarker string        `envconfig:"CATALOG_RESET_EXCLUDE_MARKER" default:"perso"`
	SurvivorPolicy  string        `envconfig:"CATALOG_RESET_SURVIVOR" default:"first" validate:"oneof=first last"`
	LockTTL         time.Duration `envconfig:"CATALOG_RESET_LOCK_TTL" default:"30m"`
	ExitOnFailure   bool          `envconfig:"CATALOG_RESET_EXIT_ON_FAILURE" default:"true"`
}

type SyncConfig struct {
	ProductStatus string        `envconfig:"CATALOG_SYNC_PRODUCT_STATUS" default:"active" validate:"oneof=active draft archived any"`
	PageSize      int           `envconfig:"CATALOG_SYNC_PAGE_SIZE" default:"250" validate:"min=1,max=250"`
	StockLocation string        `envconfig:"CATALOG_SYNC_STOCK_LOCATION"`
	Interval      time.Duration `envconfig:"CATALOG_SYNC_INTERVAL" default:"1h"`
	MetricsAddr   string        `envconfig:"CATALOG_SYNC_METRICS_ADDR" default:":9090"`
}

// SplitProductIDs turns a comma-separated list into trimmed, non-empty IDs.
func SplitProductIDs(raw string) []string {
	ids := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

// ParseProductIDs converts textual product IDs into the numeric identities
// used by the Admin API.
func ParseProductIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, value := range raw {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		id, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id %q", value)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s is required", EnvProductIDs)
	}
	return ids, nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	if db.Driver == DriverSQLite {
		db.DSN = "file:catalogsync.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	switch db.Driver {
	case DriverMySQL:
		port := db.Port
		if port == 0 {
			port = 3306
		}
		mc := mysqldriver.NewConfig()
		mc.User = db.User
		mc.Passwd = db.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", db.Host, port)
		mc.DBName = db.Name
		mc.ParseTime = true
		db.DSN = mc.FormatDSN()
	default:
		port := db.Port
		if port == 0 {
			port = 5432
		}
		userInfo := url.User(db.User)
		if db.Password != "" {
			userInfo = url.UserPassword(db.User, db.Password)
		}

		u := &url.URL{
			Scheme: "postgres",
			User:   userInfo,
			Host:   fmt.Sprintf("%s:%d", db.Host, port),
			Path:   db.Name,
		}

		if db.SSLMode != "" {
			q := u.Query()
			q.Set("sslmode", db.SSLMode)
			u.RawQuery = q.Encode()
		}

		db.DSN = u.String()
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("envconfig"); name != "" {
			return name
		}
		return field.Name
	})
	return v
}

// validateStruct reports every missing or malformed key at once instead of
// stopping on the first one.
func validateStruct(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	missing := []string{}
	invalid := []string{}
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
			continue
		}
		invalid = append(invalid, fmt.Sprintf("%s=%v (%s)", fe.Field(), fe.Value(), fe.Tag()))
	}
	parts := []string{}
	if len(missing) > 0 {
		parts = append(parts, "missing environment variables: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid environment variables: "+strings.Join(invalid, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

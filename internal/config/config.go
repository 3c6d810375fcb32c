package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	LogFormat   string

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// BNF hierarchy source (NHSBSA open data datastore).
	BNFAPIURL     string
	BNFResourceID string
	BNFAPIToken   string
	BNFPageLimit  int

	// eMIT pricing source.
	EMITFilePath string
	// Coverage window of the eMIT dataset vintage. This is a property of
	// the published file, not something derivable from its rows.
	EMITPeriodStart time.Time
	EMITPeriodEnd   time.Time
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "medtrack"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFormat:   getenv("LOG_FORMAT", "json"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "medtrack"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		BNFAPIURL:     getenv("NHSBSA_API_URL", "https://opendata.nhsbsa.net/api/action/datastore_search"),
		BNFResourceID: getenv("BNF_RESOURCE_ID", "BNF_CODE_CURRENT_202505_VERSION_88"),
		BNFAPIToken:   strings.TrimSpace(getenv("NHSBSA_API_TOKEN", "")),
		BNFPageLimit:  getenvInt("BNF_PAGE_LIMIT", 1000),

		EMITFilePath:    getenv("EMIT_FILE_PATH", "data/emit_national_database.xlsx"),
		EMITPeriodStart: getenvDate("EMIT_PERIOD_START", time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)),
		EMITPeriodEnd:   getenvDate("EMIT_PERIOD_END", time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)),
	}

	return cfg
}

// Module provides the loaded configuration to the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDate(key string, def time.Time) time.Time {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return def
	}
	return parsed
}

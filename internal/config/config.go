package config

import (
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Planner  PlannerConfig
	Forecast ForecastConfig
	Solver   SolverConfig
	Schedule ScheduleConfig
	LogLevel string
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConcurrentTx int64
}

type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RunTTLSeconds int
}

// StorageConfig points at the S3-compatible bucket holding frozen snapshots.
type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

type PlannerConfig struct {
	WorkerCount         int
	MaxConcurrentRuns   int
	PeriodsPerYear      int
	DefaultLeadTime     float64
	OfferTTL            time.Duration
	OffersPerProduct    int
	ShippingFraction    float64
	MaxShortageFraction float64
	TopRecommendations  int
	DefaultHorizon      int
	DefaultMaxSuppliers int
	DefaultRiskMode     string
}

type ForecastConfig struct {
	MinHistory      int
	HoldoutFraction float64
	MinHoldout      int
	SeasonLength    int
	UpperQuantile   float64
}

type SolverConfig struct {
	Timeout  time.Duration
	MaxNodes int
}

type ScheduleConfig struct {
	Cron string
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		// Set default values
		viper.SetDefault("LOG_LEVEL", "info")
		viper.SetDefault("SERVER_PORT", "8080")
		viper.SetDefault("SERVER_MODE", "debug")
		viper.SetDefault("SERVER_READ_TIMEOUT", 15)
		viper.SetDefault("SERVER_WRITE_TIMEOUT", 30)
		viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
		viper.SetDefault("DB_HOST", "localhost")
		viper.SetDefault("DB_PORT", "5432")
		viper.SetDefault("DB_USER", "postgres")
		viper.SetDefault("DB_PASSWORD", "postgres")
		viper.SetDefault("DB_NAME", "procureplan")
		viper.SetDefault("DB_SSLMODE", "disable")
		viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
		viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
		viper.SetDefault("DB_MAX_CONCURRENT_TX", 10)
		viper.SetDefault("CACHE_ENABLED", false)
		viper.SetDefault("REDIS_URL", "")
		viper.SetDefault("REDIS_HOST", "127.0.0.1")
		viper.SetDefault("REDIS_PORT", "6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("CACHE_RUN_TTL_SECONDS", 3600)
		viper.SetDefault("STORAGE_ENABLED", false)
		viper.SetDefault("STORAGE_ENDPOINT", "localhost:9000")
		viper.SetDefault("STORAGE_ACCESS_KEY", "")
		viper.SetDefault("STORAGE_SECRET_KEY", "")
		viper.SetDefault("STORAGE_BUCKET", "procureplan")
		viper.SetDefault("STORAGE_REGION", "us-east-1")
		viper.SetDefault("STORAGE_USE_SSL", false)
		viper.SetDefault("STORAGE_PREFIX", "snapshots/")
		viper.SetDefault("PLANNER_WORKER_COUNT", 4)
		viper.SetDefault("PLANNER_MAX_CONCURRENT_RUNS", 2)
		viper.SetDefault("PLANNER_PERIODS_PER_YEAR", 52)
		viper.SetDefault("PLANNER_DEFAULT_LEAD_TIME", 4)
		viper.SetDefault("PLANNER_OFFER_TTL", "24h")
		viper.SetDefault("PLANNER_OFFERS_PER_PRODUCT", 8)
		viper.SetDefault("PLANNER_SHIPPING_FRACTION", 0.08)
		viper.SetDefault("PLANNER_MAX_SHORTAGE_FRACTION", 0.10)
		viper.SetDefault("PLANNER_TOP_RECOMMENDATIONS", 10)
		viper.SetDefault("PLANNER_DEFAULT_HORIZON", 12)
		viper.SetDefault("PLANNER_DEFAULT_MAX_SUPPLIERS", 2)
		viper.SetDefault("PLANNER_DEFAULT_RISK_MODE", "p50")
		viper.SetDefault("FORECAST_MIN_HISTORY", 8)
		viper.SetDefault("FORECAST_HOLDOUT_FRACTION", 0.2)
		viper.SetDefault("FORECAST_MIN_HOLDOUT", 4)
		viper.SetDefault("FORECAST_SEASON_LENGTH", 4)
		viper.SetDefault("FORECAST_UPPER_QUANTILE", 0.9)
		viper.SetDefault("SOLVER_TIMEOUT", "5s")
		viper.SetDefault("SOLVER_MAX_NODES", 20000)
		viper.SetDefault("SCHEDULE_CRON", "")

		// Read from environment variables
		viper.AutomaticEnv()

		instance = &Config{
			LogLevel: viper.GetString("LOG_LEVEL"),
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
				WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Database: DatabaseConfig{
				Host:            viper.GetString("DB_HOST"),
				Port:            viper.GetString("DB_PORT"),
				User:            viper.GetString("DB_USER"),
				Password:        viper.GetString("DB_PASSWORD"),
				DBName:          viper.GetString("DB_NAME"),
				SSLMode:         viper.GetString("DB_SSLMODE"),
				MaxOpenConns:    viper.GetInt("DB_MAX_OPEN_CONNS"),
				MaxIdleConns:    viper.GetInt("DB_MAX_IDLE_CONNS"),
				MaxConcurrentTx: viper.GetInt64("DB_MAX_CONCURRENT_TX"),
			},
			Cache: CacheConfig{
				Enabled:       viper.GetBool("CACHE_ENABLED"),
				RedisURL:      viper.GetString("REDIS_URL"),
				RedisHost:     viper.GetString("REDIS_HOST"),
				RedisPort:     viper.GetString("REDIS_PORT"),
				RedisPassword: viper.GetString("REDIS_PASSWORD"),
				RedisDB:       viper.GetInt("REDIS_DB"),
				RunTTLSeconds: viper.GetInt("CACHE_RUN_TTL_SECONDS"),
			},
			Storage: StorageConfig{
				Enabled:   viper.GetBool("STORAGE_ENABLED"),
				Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
				AccessKey: viper.GetString("STORAGE_ACCESS_KEY"),
				SecretKey: viper.GetString("STORAGE_SECRET_KEY"),
				Bucket:    viper.GetString("STORAGE_BUCKET"),
				Region:    viper.GetString("STORAGE_REGION"),
				UseSSL:    viper.GetBool("STORAGE_USE_SSL"),
				Prefix:    viper.GetString("STORAGE_PREFIX"),
			},
			Planner: PlannerConfig{
				WorkerCount:         viper.GetInt("PLANNER_WORKER_COUNT"),
				MaxConcurrentRuns:   viper.GetInt("PLANNER_MAX_CONCURRENT_RUNS"),
				PeriodsPerYear:      viper.GetInt("PLANNER_PERIODS_PER_YEAR"),
				DefaultLeadTime:     viper.GetFloat64("PLANNER_DEFAULT_LEAD_TIME"),
				OfferTTL:            viper.GetDuration("PLANNER_OFFER_TTL"),
				OffersPerProduct:    viper.GetInt("PLANNER_OFFERS_PER_PRODUCT"),
				ShippingFraction:    viper.GetFloat64("PLANNER_SHIPPING_FRACTION"),
				MaxShortageFraction: viper.GetFloat64("PLANNER_MAX_SHORTAGE_FRACTION"),
				TopRecommendations:  viper.GetInt("PLANNER_TOP_RECOMMENDATIONS"),
				DefaultHorizon:      viper.GetInt("PLANNER_DEFAULT_HORIZON"),
				DefaultMaxSuppliers: viper.GetInt("PLANNER_DEFAULT_MAX_SUPPLIERS"),
				DefaultRiskMode:     viper.GetString("PLANNER_DEFAULT_RISK_MODE"),
			},
			Forecast: ForecastConfig{
				MinHistory:      viper.GetInt("FORECAST_MIN_HISTORY"),
				HoldoutFraction: viper.GetFloat64("FORECAST_HOLDOUT_FRACTION"),
				MinHoldout:      viper.GetInt("FORECAST_MIN_HOLDOUT"),
				SeasonLength:    viper.GetInt("FORECAST_SEASON_LENGTH"),
				UpperQuantile:   viper.GetFloat64("FORECAST_UPPER_QUANTILE"),
			},
			Solver: SolverConfig{
				Timeout:  viper.GetDuration("SOLVER_TIMEOUT"),
				MaxNodes: viper.GetInt("SOLVER_MAX_NODES"),
			},
			Schedule: ScheduleConfig{
				Cron: viper.GetString("SCHEDULE_CRON"),
			},
		}
	})

	return instance
}

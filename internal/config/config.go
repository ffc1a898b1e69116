package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppEnv     string
	AppPort    string
	AppHost    string
	AppName    string
	AppVersion string

	// Postgres (job persistence mirror + audit sink)
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxConnections  int
	DBIdleConnections int
	DBConnLifetime    time.Duration
	DatabaseURL       string // Alternative connection string

	// Redis (broker)
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisMaxRetries   int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisURL          string // Alternative connection string

	// JWT (admin/submission API auth)
	JWTSecret            string
	JWTExpiration        time.Duration
	JWTRefreshExpiration time.Duration
	JWTIssuer            string
	JWTAudience          string

	// Queue (broker + defaults shared by every submitted task)
	Queue struct {
		DefaultQueue    string
		ResultTTL       time.Duration
		FailedTTL       time.Duration
		CleanupInterval time.Duration
	}

	// Worker (engine defaults; overridable per-engine in code)
	Worker struct {
		Count             int // number of Engine instances sharing these settings
		MaxConcurrent     int
		PollInterval      time.Duration
		TaskTimeout       time.Duration
		AutoRetry         bool
		RetryOnTimeout    bool
		HeartbeatInterval time.Duration
		ShutdownGrace     time.Duration
	}

	// HTTP (admin/submission surface)
	HTTP struct {
		ListenAddr string
	}

	// RateLimit (per-client-IP request throttling on the admin/submission API)
	RateLimit struct {
		Requests int
		Duration time.Duration
	}

	// CORS
	CORS struct {
		AllowedOrigins   []string
		AllowedMethods   []string
		AllowedHeaders   []string
		AllowCredentials bool
		MaxAge           int
	}

	// Logging
	Log struct {
		Level  string
		Format string
		Output string
	}
}

func Load() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(".env.development"); err != nil {
		// Try .env.test for test environment
		if err := godotenv.Load(".env.test"); err != nil {
			// Only error if not production and not test
			appEnv := os.Getenv("APP_ENV")
			if appEnv != "production" && appEnv != "test" {
				// Ignore error in test mode for now
			}
		}
	}

	cfg := &Config{
		// Application
		AppEnv:     getEnv("APP_ENV", "development"),
		AppPort:    getEnv("APP_PORT", "8080"),
		AppHost:    getEnv("APP_HOST", "0.0.0.0"),
		AppName:    getEnv("APP_NAME", "dtq"),
		AppVersion: getEnv("APP_VERSION", "1.0.0"),

		// Postgres
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "dtq"),
		DBPassword:        getEnv("DB_PASSWORD", "dtq123"),
		DBName:            getEnv("DB_NAME", "dtq_dev"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "disable"),
		DBMaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
		DBIdleConnections: getEnvAsInt("DB_IDLE_CONNECTIONS", 5),
		DBConnLifetime:    time.Duration(getEnvAsInt("DB_CONNECTION_LIFETIME", 300)) * time.Second,
		DatabaseURL:       getEnv("DATABASE_URL", ""),

		// Redis
		RedisHost:         getEnv("REDIS_HOST", "localhost"),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvAsInt("REDIS_DB", 0),
		RedisMaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
		RedisPoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
		RedisMinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNECTIONS", 3),
		RedisURL:          getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		JWTExpiration:        parseDuration(getEnv("JWT_ACCESS_TOKEN_EXPIRY", "24h"), 24*time.Hour),
		JWTRefreshExpiration: parseDuration(getEnv("JWT_REFRESH_TOKEN_EXPIRY", "168h"), 7*24*time.Hour),
		JWTIssuer:            getEnv("JWT_ISSUER", "dtq"),
		JWTAudience:          getEnv("JWT_AUDIENCE", "dtq-api"),
	}

	// Queue
	cfg.Queue.DefaultQueue = getEnv("QUEUE_DEFAULT_QUEUE", "default")
	cfg.Queue.ResultTTL = parseDuration(getEnv("QUEUE_RESULT_TTL", "24h"), 24*time.Hour)
	cfg.Queue.FailedTTL = parseDuration(getEnv("QUEUE_FAILED_TTL", "168h"), 7*24*time.Hour)
	cfg.Queue.CleanupInterval = parseDuration(getEnv("QUEUE_CLEANUP_INTERVAL", "1h"), time.Hour)

	// Worker
	cfg.Worker.Count = getEnvAsInt("WORKER_COUNT", 1)
	cfg.Worker.MaxConcurrent = getEnvAsInt("WORKER_MAX_CONCURRENT", 4)
	cfg.Worker.PollInterval = parseDuration(getEnv("WORKER_POLL_INTERVAL", "1s"), time.Second)
	cfg.Worker.TaskTimeout = parseDuration(getEnv("WORKER_TASK_TIMEOUT", "5m"), 5*time.Minute)
	cfg.Worker.AutoRetry = getEnvAsBool("WORKER_AUTO_RETRY", true)
	cfg.Worker.RetryOnTimeout = getEnvAsBool("WORKER_RETRY_ON_TIMEOUT", false)
	cfg.Worker.HeartbeatInterval = parseDuration(getEnv("WORKER_HEARTBEAT_INTERVAL", "30s"), 30*time.Second)
	cfg.Worker.ShutdownGrace = parseDuration(getEnv("WORKER_SHUTDOWN_GRACE", "30s"), 30*time.Second)

	// HTTP
	cfg.HTTP.ListenAddr = getEnv("HTTP_LISTEN_ADDR", ":8080")

	// Rate limiting
	cfg.RateLimit.Requests = getEnvAsInt("RATE_LIMIT_REQUESTS", 100)
	cfg.RateLimit.Duration = parseDuration(getEnv("RATE_LIMIT_DURATION", "60s"), 60*time.Second)

	// CORS
	cfg.CORS.AllowedOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")
	cfg.CORS.AllowedMethods = strings.Split(getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS,PATCH"), ",")
	cfg.CORS.AllowedHeaders = strings.Split(getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Requested-With"), ",")
	cfg.CORS.AllowCredentials = getEnvAsBool("CORS_ALLOW_CREDENTIALS", true)
	cfg.CORS.MaxAge = getEnvAsInt("CORS_MAX_AGE", 86400)

	// Logging
	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.Output = getEnv("LOG_OUTPUT", "stdout")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

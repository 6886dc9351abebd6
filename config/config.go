package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	Port string

	// Audio catalogue
	AudioSource     string // "fs" or "minio"
	AudioDir        string // Catalogue root when AudioSource is "fs"
	AudioPrefix     string // Object prefix when AudioSource is "minio"
	GeneralQuota    int    // N: clips drawn from the general pool
	LanguageQuota   int    // M: clips drawn from the language pool
	WatchCatalogue  bool   // Push catalogue changes to the admin feed
	QuestionsFile   string // Optional YAML question catalogue, embedded default otherwise
	SessionBackend  string // "memory" or "redis"
	SessionTTL      time.Duration
	StoreBackend    string // "file", "sql", "sheets", "firestore" or "minio"
	StoreRetries    int    // Attempts per store call, 1 disables retrying
	ResponseFile    string // File store path
	DBDriver        string // "mysql" or "postgres"
	DBHost          string
	DBPort          string
	DBUser          string
	DBPassword      string
	DBName          string
	DBSSLMode       string
	SheetsCredFile  string
	SpreadsheetID   string
	SheetName       string
	FirestoreProj   string
	FirestoreColl   string
	FirestoreCred   string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioRegion     string
	MinioUseSSL     bool
	MinioRespPrefix string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Admin portal
	AdminPassword     string // Plain password, only used when no hash is configured
	AdminPasswordHash string // bcrypt hash
	JWTSecret         string
	TokenTTL          time.Duration

	// 日志配置
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env files.
func FromEnv() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		AudioSource:     getEnv("AUDIO_SOURCE", "fs"),
		AudioDir:        getEnv("AUDIO_DIR", "audio"),
		AudioPrefix:     getEnv("AUDIO_PREFIX", "audio/"),
		GeneralQuota:    getEnvInt("GENERAL_CLIP_QUOTA", 4),
		LanguageQuota:   getEnvInt("LANGUAGE_CLIP_QUOTA", 2),
		WatchCatalogue:  getEnvBool("WATCH_CATALOGUE", true),
		QuestionsFile:   os.Getenv("QUESTIONS_FILE"),
		SessionBackend:  getEnv("SESSION_BACKEND", "memory"),
		SessionTTL:      getEnvDuration("SESSION_TTL", 6*time.Hour),
		StoreBackend:    getEnv("STORE_BACKEND", "file"),
		StoreRetries:    getEnvInt("STORE_RETRY_ATTEMPTS", 3),
		ResponseFile:    getEnv("RESPONSE_FILE", "data/survey_responses.jsonl"),
		DBDriver:        getEnv("DB_DRIVER", "mysql"),
		DBHost:          getEnv("DB_HOST", "127.0.0.1"),
		DBPort:          getEnv("DB_PORT", "3306"),
		DBUser:          getEnv("DB_USER", "root"),
		DBPassword:      os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:          getEnv("DB_NAME", "survey"),
		DBSSLMode:       getEnv("DB_SSLMODE", "disable"),
		SheetsCredFile:  os.Getenv("GOOGLE_SHEETS_CREDENTIALS"),
		SpreadsheetID:   os.Getenv("GOOGLE_SHEETS_SPREADSHEET_ID"),
		SheetName:       getEnv("GOOGLE_SHEETS_SHEET", "Sheet1"),
		FirestoreProj:   os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreColl:   getEnv("FIRESTORE_COLLECTION", "survey_responses"),
		FirestoreCred:   os.Getenv("FIRESTORE_CREDENTIALS"),
		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:     getEnv("MINIO_BUCKET", "survey"),
		MinioRegion:     getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),
		MinioRespPrefix: getEnv("MINIO_RESPONSE_PREFIX", "responses/"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库

		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenTTL:          getEnvDuration("ADMIN_TOKEN_TTL", 12*time.Hour),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       os.Getenv("LOG_FILE"),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// Validate checks the settings that would otherwise fail late at request time.
func (c *Config) Validate() error {
	if c.GeneralQuota < 0 {
		return fmt.Errorf("GENERAL_CLIP_QUOTA must be non-negative, got %d", c.GeneralQuota)
	}
	if c.LanguageQuota < 0 {
		return fmt.Errorf("LANGUAGE_CLIP_QUOTA must be non-negative, got %d", c.LanguageQuota)
	}
	switch c.AudioSource {
	case "fs", "minio":
	default:
		return fmt.Errorf("unknown AUDIO_SOURCE %q", c.AudioSource)
	}
	switch c.SessionBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	switch c.StoreBackend {
	case "file":
		if c.ResponseFile == "" {
			return fmt.Errorf("RESPONSE_FILE is required for the file store")
		}
	case "sql":
		if c.DBDriver != "mysql" && c.DBDriver != "postgres" {
			return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
		}
	case "sheets":
		if c.SpreadsheetID == "" {
			return fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID is required for the sheets store")
		}
	case "firestore":
		if c.FirestoreProj == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore store")
		}
	case "minio":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreRetries < 1 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1, got %d", c.StoreRetries)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
	}
	return nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with simple defaults.
type Config struct {
	ListenAddr    string
	ExtenderPath  string // Path to the external audio extension binary
	ExtendTimeout int    // Timeout for one extension run, in seconds
	UploadDir     string // Base directory for storing original uploaded audio files
	ResultDir     string // Directory for extended output files
	MaxUploadSize int64  // Maximum accepted upload size in bytes
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	// 日志配置
	LogPath  string
	LogLevel string
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

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	uploadBase := getEnv("UPLOAD_DIR", "uploads")

	return &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		ExtenderPath:  getEnv("AUDIO_EXTENDER_PATH", "audio-extender"),
		ExtendTimeout: getEnvInt("EXTEND_TIMEOUT", 600),
		UploadDir:     uploadBase,
		ResultDir:     getEnv("RESULT_DIR", filepath.Join(uploadBase, "extended")),
		MaxUploadSize: getEnvInt64("MAX_UPLOAD_SIZE", 15<<20), // 15MB
		DBHost:        getEnv("DB_HOST", "127.0.0.1"),
		DBPort:        getEnv("DB_PORT", "3306"),
		DBUser:        getEnv("DB_USER", "root"),
		DBPassword:    os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:        getEnv("DB_NAME", "xtendfm"),
		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库
		LogPath:       getEnv("LOG_PATH", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

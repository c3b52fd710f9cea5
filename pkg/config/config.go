package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	CORS     CORSConfig
	Deploy   DeployConfig
	TOMs     TOMsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// DeployConfig carries the deployment-level settings the permission model is derived from.
type DeployConfig struct {
	UserElevation string
	Stage         string
}

// TOMsConfig governs the restriction versioning engine and its collaborators.
type TOMsConfig struct {
	ConfigPath       string
	SRID             int
	SplitQuietWindow time.Duration
	RedisSessions    bool
	SessionTTL       time.Duration
	GroupIdleTimeout time.Duration
	MigrationsDir    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS"), ","),
	}

	cfg.Deploy = DeployConfig{
		UserElevation: strings.TrimSpace(v.GetString("DEPLOY_USER_ELEVATION")),
		Stage:         v.GetString("DEPLOY_STAGE"),
	}

	cfg.TOMs = TOMsConfig{
		ConfigPath:       v.GetString("TOMS_CONFIG_PATH"),
		SRID:             v.GetInt("TOMS_SRID"),
		SplitQuietWindow: parseDuration(v.GetString("TOMS_SPLIT_QUIET_WINDOW"), time.Second),
		RedisSessions:    v.GetBool("ENABLE_REDIS_SESSIONS"),
		SessionTTL:       parseDuration(v.GetString("TOMS_SESSION_TTL"), 12*time.Hour),
		GroupIdleTimeout: parseDuration(v.GetString("TOMS_GROUP_IDLE_TIMEOUT"), 30*time.Minute),
		MigrationsDir:    v.GetString("TOMS_MIGRATIONS_DIR"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "toms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	v.SetDefault("DEPLOY_USER_ELEVATION", "guest")
	v.SetDefault("DEPLOY_STAGE", "UNKNOWN DEPLOY STAGE")

	v.SetDefault("TOMS_CONFIG_PATH", ".")
	v.SetDefault("TOMS_SRID", 27700)
	v.SetDefault("TOMS_SPLIT_QUIET_WINDOW", "1s")
	v.SetDefault("ENABLE_REDIS_SESSIONS", false)
	v.SetDefault("TOMS_SESSION_TTL", "12h")
	v.SetDefault("TOMS_GROUP_IDLE_TIMEOUT", "30m")
	v.SetDefault("TOMS_MIGRATIONS_DIR", "./migrations")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string, seps string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	AllowedOrigins     []string
	Development        bool
	RateLimitPerMinute int
}

// StorageConfig drives backend selection: RedisURL wins over the REST pair,
// and with neither set the repository falls back to JSON files in DataDir.
type StorageConfig struct {
	RedisURL           string
	RestURL            string
	RestToken          string
	DataDir            string
	MaxAttempts        int
	BaseDelayMs        int
	MaxDelayMs         int
	RequestTimeoutSec  int
	CASAttempts        int
	DegradedCooldownMs int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (s StorageConfig) HasRedis() bool {
	return strings.TrimSpace(s.RedisURL) != ""
}

func (s StorageConfig) HasREST() bool {
	return strings.TrimSpace(s.RestURL) != "" && strings.TrimSpace(s.RestToken) != ""
}

func (s StorageConfig) BaseDelay() time.Duration {
	return time.Duration(s.BaseDelayMs) * time.Millisecond
}

func (s StorageConfig) MaxDelay() time.Duration {
	return time.Duration(s.MaxDelayMs) * time.Millisecond
}

func (s StorageConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSec) * time.Second
}

func (s StorageConfig) DegradedCooldown() time.Duration {
	return time.Duration(s.DegradedCooldownMs) * time.Millisecond
}

// Load reads .env (if present), config.yaml (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/culture-survey")

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("CULTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindConventionalEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// The storage variables are also accepted under the names hosting providers
// inject them with.
func bindConventionalEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"storage.redisUrl":  {"CULTURE_STORAGE_REDISURL", "REDIS_URL", "KV_URL"},
		"storage.restUrl":   {"CULTURE_STORAGE_RESTURL", "KV_REST_API_URL", "UPSTASH_REDIS_REST_URL"},
		"storage.restToken": {"CULTURE_STORAGE_RESTTOKEN", "KV_REST_API_TOKEN", "UPSTASH_REDIS_REST_TOKEN"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)
	v.SetDefault("server.rateLimitPerMinute", 30)

	v.SetDefault("storage.dataDir", "./data")
	v.SetDefault("storage.maxAttempts", 3)
	v.SetDefault("storage.baseDelayMs", 75)
	v.SetDefault("storage.maxDelayMs", 2000)
	v.SetDefault("storage.requestTimeoutSec", 5)
	v.SetDefault("storage.casAttempts", 5)
	v.SetDefault("storage.degradedCooldownMs", 2000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

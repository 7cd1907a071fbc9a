package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the runtime configuration of the device daemon. Anything the
// operator can change through the web interface lives in the persisted
// device settings instead (internal/settings).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Flash   FlashConfig   `yaml:"flash"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	System  SystemConfig  `yaml:"system"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// FlashConfig holds the flash bank layout
type FlashConfig struct {
	Dir      string `yaml:"dir"`
	SlotSize int64  `yaml:"slot_size"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`
	BCryptCost    int           `yaml:"bcrypt_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// SystemConfig holds device-level behavior
type SystemConfig struct {
	SettingsPath string        `yaml:"settings_path"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	WifiTimeout  time.Duration `yaml:"wifi_timeout"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 80),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 20*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 20*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Flash: FlashConfig{
			Dir:      getEnv("FLASH_DIR", "/var/lib/minosd/flash"),
			SlotSize: int64(getEnvInt("FLASH_SLOT_SIZE", 4<<20)),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", time.Hour),
			BCryptCost:    getEnvInt("BCRYPT_COST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		System: SystemConfig{
			SettingsPath: getEnv("SETTINGS_PATH", "/var/lib/minosd/settings.yaml"),
			RestartDelay: getEnvDuration("RESTART_DELAY", 200*time.Millisecond),
			WifiTimeout:  getEnvDuration("WIFI_TIMEOUT", 30*time.Second),
		},
	}
}

// Addr returns the listen address of the HTTP server
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

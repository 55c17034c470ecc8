package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"admin-api-key":                        true,
	"dispatch-token":                       true,
	"":                                     true,
}

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Admin      AdminConfig
	Worker     WorkerConfig
	Session    SessionConfig
	Encryption EncryptionConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

type AdminConfig struct {
	APIKey string
}

type WorkerConfig struct {
	// CallbackBase is the externally reachable URL of this service; the
	// three callback URLs in every dispatch payload derive from it.
	CallbackBase string
	// DispatchToken is the bearer token presented on outbound /job/create calls.
	DispatchToken      string
	DispatchTimeout    time.Duration
	ConnectTimeout     time.Duration
	HealthCheckTimeout time.Duration
	// DefaultMaxSessions applies to workers that self-register via credential.
	DefaultMaxSessions int
}

type SessionConfig struct {
	// TTL is how long a session stays usable after purchase.
	TTL time.Duration
	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration
}

type EncryptionConfig struct {
	Key string
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8006"),
			Mode: getEnv("GIN_MODE", "release"), // 默认为 release 模式
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "vps_user"),
			Password: getEnv("DB_PASSWORD", "vps_pass"),
			DBName:   getEnv("DB_NAME", "vps_broker"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Worker: WorkerConfig{
			CallbackBase:       getEnv("CALLBACK_BASE_URL", "http://localhost:8006"),
			DispatchToken:      getEnv("DISPATCH_TOKEN", ""),
			DispatchTimeout:    getEnvDuration("DISPATCH_TIMEOUT", 10*time.Second),
			ConnectTimeout:     getEnvDuration("DISPATCH_CONNECT_TIMEOUT", 5*time.Second),
			HealthCheckTimeout: getEnvDuration("WORKER_HEALTH_TIMEOUT", 5*time.Second),
			DefaultMaxSessions: getEnvInt("WORKER_DEFAULT_MAX_SESSIONS", 3),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
	}

	// 日志脱敏: 不记录敏感配置
	log.Printf("[config] VPS Broker loaded: port=%s db=%s/%s callback_base=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Worker.CallbackBase)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.Admin.APIKey] {
		return fmt.Errorf("ADMIN_API_KEY must be set to a secure value (current value is insecure or empty)")
	}

	if insecureDefaults[c.Worker.DispatchToken] {
		return fmt.Errorf("DISPATCH_TOKEN must be set to a secure value (current value is insecure or empty)")
	}

	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

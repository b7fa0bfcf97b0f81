package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	apperrors "github.com/wanderlustcms/api/internal/errors"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvTesting:
		return true
	}
	return false
}

type Config struct {
	Server    Server
	Database  Database
	JWT       JWT
	Security  Security
	RateLimit RateLimit
	Cache     Cache
}

type Server struct {
	Port           int
	Environment    Environment
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
}

func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

func (s Server) IsDevelopment() bool {
	return s.Environment == EnvDevelopment
}

type Database struct {
	URL             string
	MaxOpenConns    int32
	MaxIdleConns    int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type JWT struct {
	Secret             string
	Issuer             string
	Audience           string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type Security struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

type RateLimit struct {
	Enabled bool
}

type Cache struct {
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// Load loads configuration from the environment with proper error handling
func Load() (Config, error) {
	var config Config
	var err error

	// Server configuration
	config.Server.Port, err = getEnvIntSafe("SERVER_PORT", 8080, false)
	if err != nil {
		return config, fmt.Errorf("server port config error: %w", err)
	}

	config.Server.Environment, err = getEnvEnvironmentSafe("SERVER_ENVIRONMENT", EnvDevelopment, false)
	if err != nil {
		return config, fmt.Errorf("server environment config error: %w", err)
	}

	config.Server.WriteTimeout, err = getEnvDurationSafe("SERVER_WRITE_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server write timeout config error: %w", err)
	}

	config.Server.ReadTimeout, err = getEnvDurationSafe("SERVER_READ_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server read timeout config error: %w", err)
	}

	config.Server.IdleTimeout, err = getEnvDurationSafe("SERVER_IDLE_TIMEOUT", 60*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server idle timeout config error: %w", err)
	}

	config.Server.MaxHeaderBytes, err = getEnvIntSafe("SERVER_MAX_HEADER_BYTES", 1<<20, false)
	if err != nil {
		return config, fmt.Errorf("server max header bytes config error: %w", err)
	}

	// Database configuration
	config.Database.URL, err = getEnvStringSafe("DB_URL", "", true)
	if err != nil {
		return config, fmt.Errorf("database URL config error: %w", err)
	}

	config.Database.MaxOpenConns, err = getEnvInt32Safe("DB_MAX_OPEN_CONNS", 25, false)
	if err != nil {
		return config, fmt.Errorf("database max open conns config error: %w", err)
	}

	config.Database.MaxIdleConns, err = getEnvInt32Safe("DB_MAX_IDLE_CONNS", 5, false)
	if err != nil {
		return config, fmt.Errorf("database max idle conns config error: %w", err)
	}

	config.Database.ConnMaxLifetime, err = getEnvDurationSafe("DB_CONN_MAX_LIFETIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max lifetime config error: %w", err)
	}

	config.Database.ConnMaxIdleTime, err = getEnvDurationSafe("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max idle time config error: %w", err)
	}

	// JWT configuration
	config.JWT.Secret, err = getEnvStringSafe("JWT_SECRET", "", true)
	if err != nil {
		return config, fmt.Errorf("JWT secret config error: %w", err)
	}

	config.JWT.Issuer, err = getEnvStringSafe("JWT_ISSUER", "WanderlustApi", false)
	if err != nil {
		return config, fmt.Errorf("JWT issuer config error: %w", err)
	}

	config.JWT.Audience, err = getEnvStringSafe("JWT_AUDIENCE", "WanderlustClient", false)
	if err != nil {
		return config, fmt.Errorf("JWT audience config error: %w", err)
	}

	config.JWT.AccessTokenExpiry, err = getEnvDurationSafe("JWT_ACCESS_TOKEN_EXPIRY", 60*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("JWT access token expiry config error: %w", err)
	}

	config.JWT.RefreshTokenExpiry, err = getEnvDurationSafe("JWT_REFRESH_TOKEN_EXPIRY", 7*24*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("JWT refresh token expiry config error: %w", err)
	}

	// Security headers configuration
	config.Security.EnableHSTS, err = getEnvBoolSafe("SECURITY_ENABLE_HSTS", true, false)
	if err != nil {
		return config, fmt.Errorf("HSTS enable config error: %w", err)
	}

	config.Security.HSTSMaxAge, err = getEnvIntSafe("SECURITY_HSTS_MAX_AGE", 31536000, false)
	if err != nil {
		return config, fmt.Errorf("HSTS max age config error: %w", err)
	}

	config.Security.HSTSIncludeSubdomains, err = getEnvBoolSafe("SECURITY_HSTS_INCLUDE_SUBDOMAINS", true, false)
	if err != nil {
		return config, fmt.Errorf("HSTS include subdomains config error: %w", err)
	}

	config.Security.ContentSecurityPolicy, err = getEnvStringSafe("SECURITY_CSP", "", false)
	if err != nil {
		return config, fmt.Errorf("CSP config error: %w", err)
	}

	config.Security.ReferrerPolicy, err = getEnvStringSafe("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin", false)
	if err != nil {
		return config, fmt.Errorf("referrer policy config error: %w", err)
	}

	config.Security.PermissionsPolicy, err = getEnvStringSafe("SECURITY_PERMISSIONS_POLICY", "camera=(), microphone=(), geolocation=(), payment=(), usb=(), magnetometer=(), gyroscope=()", false)
	if err != nil {
		return config, fmt.Errorf("permissions policy config error: %w", err)
	}

	// Rate limit configuration
	config.RateLimit.Enabled, err = getEnvBoolSafe("RATE_LIMIT_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("rate limit enabled config error: %w", err)
	}

	// Cache configuration
	config.Cache.RedisEnabled, err = getEnvBoolSafe("REDIS_ENABLED", false, false)
	if err != nil {
		return config, fmt.Errorf("Redis enabled config error: %w", err)
	}

	config.Cache.RedisAddr, err = getEnvStringSafe("REDIS_ADDR", "localhost:6379", false)
	if err != nil {
		return config, fmt.Errorf("Redis address config error: %w", err)
	}

	config.Cache.RedisPassword, err = getEnvStringSafe("REDIS_PASSWORD", "", false)
	if err != nil {
		return config, fmt.Errorf("Redis password config error: %w", err)
	}

	config.Cache.RedisDB, err = getEnvIntSafe("REDIS_DB", 0, false)
	if err != nil {
		return config, fmt.Errorf("Redis DB config error: %w", err)
	}

	config.Cache.RedisPoolSize, err = getEnvIntSafe("REDIS_POOL_SIZE", 10, false)
	if err != nil {
		return config, fmt.Errorf("Redis pool size config error: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Validate enforces startup invariants. A failure here must abort the
// process; it is never deferred to request time.
func (c Config) Validate() error {
	if c.JWT.Secret == "" {
		return apperrors.ConfigError("JWT secret is not configured", nil)
	}
	if c.Server.IsProduction() {
		if len(c.JWT.Secret) < 32 {
			return apperrors.ConfigError("JWT secret must be at least 32 bytes in production", nil)
		}
		if !c.Security.EnableHSTS {
			return apperrors.ConfigError("HSTS must be enabled in production", nil)
		}
	}
	if c.JWT.AccessTokenExpiry <= 0 {
		return apperrors.ConfigError("JWT access token expiry must be positive", nil)
	}
	if c.JWT.RefreshTokenExpiry <= 0 {
		return apperrors.ConfigError("JWT refresh token expiry must be positive", nil)
	}
	return nil
}

// Safe versions of config helpers that return errors instead of using log.Fatal

func getEnvStringSafe(key, defaultValue string, required bool) (string, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	return value, nil
}

func getEnvIntSafe(key string, defaultValue int, required bool) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return value, nil
}

func getEnvInt32Safe(key string, defaultValue int32, required bool) (int32, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return int32(value), nil
}

func getEnvDurationSafe(key string, defaultValue time.Duration, required bool) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a valid duration: %w", key, err)
	}
	return value, nil
}

func getEnvBoolSafe(key string, defaultValue bool, required bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return false, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("environment variable %s must be a valid boolean: %w", key, err)
	}
	return value, nil
}

func getEnvEnvironmentSafe(key string, defaultValue Environment, required bool) (Environment, error) {
	env, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	envValue := Environment(env)
	if !envValue.IsValid() {
		return "", fmt.Errorf("environment variable %s has invalid value: %s", key, env)
	}
	return envValue, nil
}

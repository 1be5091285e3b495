// Package config provides configuration management for the trading
// pipeline. It loads settings from environment variables and .env files.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// validLogLevels is the set of accepted zerolog log levels.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
	"panic": true, "disabled": true,
}

// ValidationError holds multiple configuration validation errors.
// It aggregates all issues so operators can fix everything in one pass.
type ValidationError struct {
	Errors []string
}

// Error returns a formatted multi-line error message listing all issues.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%d configuration error(s):\n  - %s",
		len(ve.Errors), strings.Join(ve.Errors, "\n  - "))
}

// ReloadChange describes a single configuration change detected during hot-reload.
type ReloadChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	Applied  bool        `json:"applied"`
}

// ReloadResult summarizes what happened during a configuration hot-reload.
type ReloadResult struct {
	Changes         []ReloadChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
	RestartReasons  []string       `json:"restart_reasons,omitempty"`
}

// Config holds all configuration for the trading pipeline's processes.
type Config struct {
	mu sync.RWMutex // protects hot-reloadable fields during concurrent access

	// Operator Surface HTTP server
	ServerPort     int
	ServerHost     string
	APIKey         string
	AllowedOrigins []string

	// ZMQ transport endpoints (bind addresses on the owning side)
	TickPublishAddr string
	SignalPipeAddr  string
	GatewayRPCAddr  string

	// Gateway client retry/timeout policy
	GatewayTimeout    time.Duration
	GatewayRetryCount int

	// Session/Condition Store file paths
	SessionStorePath   string
	ConditionStorePath string
	SessionTimeout     time.Duration

	// Redis Health Cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// S3 Backup Archiver
	BackupEnabled  bool
	BackupEndpoint string
	BackupRegion   string
	BackupBucket   string
	BackupInterval time.Duration

	// SQLite audit log
	AuditDBPath string

	// Logging
	LogLevel string

	// Shutdown settings
	ShutdownTimeout time.Duration

	// Internal settings
	EnvFile string
}

// Load reads configuration from environment variables and .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:     getEnvInt("OPERATOR_HTTP_PORT", 8090),
		ServerHost:     getEnv("OPERATOR_HTTP_HOST", "0.0.0.0"),
		APIKey:         os.Getenv("API_KEY"),
		AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		TickPublishAddr: getEnv("TICK_PUBLISH_ADDR", "tcp://0.0.0.0:5555"),
		SignalPipeAddr:  getEnv("SIGNAL_PIPE_ADDR", "tcp://0.0.0.0:5556"),
		GatewayRPCAddr:  getEnv("GATEWAY_RPC_ADDR", "tcp://0.0.0.0:5557"),

		GatewayTimeout:    getEnvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayRetryCount: getEnvInt("GATEWAY_RETRY_COUNT", 3),

		SessionStorePath:   getEnv("SESSION_STORE_PATH", "./tmp/session.json"),
		ConditionStorePath: getEnv("CONDITION_STORE_PATH", "./data/conditions.json"),
		SessionTimeout:     getEnvDuration("SESSION_TIMEOUT", 12*time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		BackupEnabled:  getEnv("BACKUP_ENABLED", "false") == "true",
		BackupEndpoint: os.Getenv("BACKUP_S3_ENDPOINT"),
		BackupRegion:   getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupBucket:   os.Getenv("BACKUP_S3_BUCKET"),
		BackupInterval: getEnvDuration("BACKUP_INTERVAL", 15*time.Minute),

		AuditDBPath: getEnv("AUDIT_DB_PATH", "./tmp/audit.db"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		EnvFile: ".env",
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs comprehensive configuration validation with fail-fast
// behavior. All errors are aggregated and returned as a single
// ValidationError so operators can fix everything in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs,
			fmt.Sprintf("invalid OPERATOR_HTTP_PORT %d: must be between 1 and 65535", c.ServerPort))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs,
			fmt.Sprintf("invalid LOG_LEVEL '%s': must be one of trace, debug, info, warn, error, fatal, panic, disabled", c.LogLevel))
	}

	for _, e := range []struct {
		name, val string
	}{
		{"TICK_PUBLISH_ADDR", c.TickPublishAddr},
		{"SIGNAL_PIPE_ADDR", c.SignalPipeAddr},
		{"GATEWAY_RPC_ADDR", c.GatewayRPCAddr},
	} {
		if e.val == "" {
			errs = append(errs, fmt.Sprintf("%s must not be empty", e.name))
		}
	}

	if c.GatewayRetryCount < 0 {
		errs = append(errs, "GATEWAY_RETRY_COUNT must not be negative")
	}

	if c.SessionStorePath == "" {
		errs = append(errs, "SESSION_STORE_PATH must not be empty")
	}
	if c.ConditionStorePath == "" {
		errs = append(errs, "CONDITION_STORE_PATH must not be empty")
	}

	if c.BackupEnabled && c.BackupBucket == "" {
		errs = append(errs, "BACKUP_ENABLED requires BACKUP_S3_BUCKET")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Reload re-reads configuration from environment variables and .env
// files, applying only hot-reloadable fields to the live config.
// Structural fields (transport endpoints, store paths, ports) are
// detected but NOT applied — the caller receives a restart advisory.
//
// Hot-reloadable fields: LogLevel, ShutdownTimeout, AllowedOrigins,
// GatewayTimeout, GatewayRetryCount, BackupInterval.
func (c *Config) Reload() (*ReloadResult, error) {
	envFile := c.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Overload(envFile)

	newCfg := &Config{
		ServerPort:         getEnvInt("OPERATOR_HTTP_PORT", 8090),
		ServerHost:         getEnv("OPERATOR_HTTP_HOST", "0.0.0.0"),
		APIKey:             os.Getenv("API_KEY"),
		AllowedOrigins:     parseList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		TickPublishAddr:    getEnv("TICK_PUBLISH_ADDR", "tcp://0.0.0.0:5555"),
		SignalPipeAddr:     getEnv("SIGNAL_PIPE_ADDR", "tcp://0.0.0.0:5556"),
		GatewayRPCAddr:     getEnv("GATEWAY_RPC_ADDR", "tcp://0.0.0.0:5557"),
		GatewayTimeout:     getEnvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayRetryCount:  getEnvInt("GATEWAY_RETRY_COUNT", 3),
		SessionStorePath:   getEnv("SESSION_STORE_PATH", "./tmp/session.json"),
		ConditionStorePath: getEnv("CONDITION_STORE_PATH", "./data/conditions.json"),
		SessionTimeout:     getEnvDuration("SESSION_TIMEOUT", 12*time.Hour),
		RedisAddr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		BackupEnabled:      getEnv("BACKUP_ENABLED", "false") == "true",
		BackupEndpoint:     os.Getenv("BACKUP_S3_ENDPOINT"),
		BackupRegion:       getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupBucket:       os.Getenv("BACKUP_S3_BUCKET"),
		BackupInterval:     getEnvDuration("BACKUP_INTERVAL", 15*time.Minute),
		AuditDBPath:        getEnv("AUDIT_DB_PATH", "./tmp/audit.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		EnvFile:            envFile,
	}

	if err := newCfg.Validate(); err != nil {
		return nil, fmt.Errorf("reloaded config validation failed: %w", err)
	}

	result := &ReloadResult{Changes: make([]ReloadChange, 0)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.detectRestartChange(result, "ServerPort", c.ServerPort, newCfg.ServerPort)
	c.detectRestartChange(result, "ServerHost", c.ServerHost, newCfg.ServerHost)
	c.detectRestartChange(result, "TickPublishAddr", c.TickPublishAddr, newCfg.TickPublishAddr)
	c.detectRestartChange(result, "SignalPipeAddr", c.SignalPipeAddr, newCfg.SignalPipeAddr)
	c.detectRestartChange(result, "GatewayRPCAddr", c.GatewayRPCAddr, newCfg.GatewayRPCAddr)
	c.detectRestartChange(result, "SessionStorePath", c.SessionStorePath, newCfg.SessionStorePath)
	c.detectRestartChange(result, "ConditionStorePath", c.ConditionStorePath, newCfg.ConditionStorePath)

	if c.LogLevel != newCfg.LogLevel {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "LogLevel", OldValue: c.LogLevel, NewValue: newCfg.LogLevel, Applied: true,
		})
		c.LogLevel = newCfg.LogLevel
		if lvl, err := zerolog.ParseLevel(newCfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	if c.ShutdownTimeout != newCfg.ShutdownTimeout {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "ShutdownTimeout", OldValue: c.ShutdownTimeout.String(), NewValue: newCfg.ShutdownTimeout.String(), Applied: true,
		})
		c.ShutdownTimeout = newCfg.ShutdownTimeout
	}

	if !stringSlicesEqual(c.AllowedOrigins, newCfg.AllowedOrigins) {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "AllowedOrigins", OldValue: c.AllowedOrigins, NewValue: newCfg.AllowedOrigins, Applied: true,
		})
		c.AllowedOrigins = newCfg.AllowedOrigins
	}

	if c.GatewayTimeout != newCfg.GatewayTimeout {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "GatewayTimeout", OldValue: c.GatewayTimeout.String(), NewValue: newCfg.GatewayTimeout.String(), Applied: true,
		})
		c.GatewayTimeout = newCfg.GatewayTimeout
	}

	if c.GatewayRetryCount != newCfg.GatewayRetryCount {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "GatewayRetryCount", OldValue: c.GatewayRetryCount, NewValue: newCfg.GatewayRetryCount, Applied: true,
		})
		c.GatewayRetryCount = newCfg.GatewayRetryCount
	}

	if c.BackupInterval != newCfg.BackupInterval {
		result.Changes = append(result.Changes, ReloadChange{
			Field: "BackupInterval", OldValue: c.BackupInterval.String(), NewValue: newCfg.BackupInterval.String(), Applied: true,
		})
		c.BackupInterval = newCfg.BackupInterval
	}

	log.Info().
		Int("total_changes", len(result.Changes)).
		Bool("requires_restart", result.RequiresRestart).
		Msg("configuration reloaded")

	return result, nil
}

// detectRestartChange checks if a field value changed and records it as a
// restart-required change (not applied to the live config).
func (c *Config) detectRestartChange(result *ReloadResult, field string, oldVal, newVal interface{}) {
	if fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal) {
		result.Changes = append(result.Changes, ReloadChange{
			Field:    field,
			OldValue: oldVal,
			NewValue: newVal,
			Applied:  false,
		})
		result.RequiresRestart = true
		result.RestartReasons = append(result.RestartReasons, field+" changed")
	}
}

// stringSlicesEqual returns true if two string slices have identical contents.
func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a time.Duration, or
// a default. The value should be a Go duration string (e.g. "30s", "5m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// GenerateAPIKey generates a secure random API key of 32 bytes (64 hex characters).
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// RotateAPIKey generates a new API key, updates the config, and persists
// it to the .env file (so it survives a restart of the Operator Surface).
func (c *Config) RotateAPIKey() (string, error) {
	newKey, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	c.APIKey = newKey

	envFile := c.EnvFile
	if envFile == "" {
		envFile = ".env"
	}

	content, err := os.ReadFile(envFile)
	if err != nil {
		if os.IsNotExist(err) {
			return newKey, os.WriteFile(envFile, []byte("API_KEY="+newKey+"\n"), 0644)
		}
		return "", err
	}

	lines := strings.Split(string(content), "\n")
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, "API_KEY=") {
			lines[i] = "API_KEY=" + newKey
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, "API_KEY="+newKey)
	}

	if err := os.WriteFile(envFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", fmt.Errorf("failed to write .env file: %w", err)
	}

	return newKey, nil
}

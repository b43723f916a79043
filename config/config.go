package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top level process configuration. Unlike the multi-tenant
// SaaS original this carries, it assumes a single operator running a fixed
// set of bots against one exchange account.
type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	TradingConfig      TradingConfig      `json:"trading"`
	RiskConfig         RiskConfig         `json:"risk"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	NotificationConfig NotificationConfig `json:"notification"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
	RedisConfig        RedisConfig        `json:"redis"`
	StorageConfig      StorageConfig      `json:"storage"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	TestNet   bool   `json:"testnet"`
	MockMode  bool   `json:"mock_mode"` // Use simulated data when Binance API is unavailable
}

// TradingConfig carries the fixed constants that drive every bot's tick
// loop and close guards. These map directly onto the engine's named
// constants rather than per-user preferences.
type TradingConfig struct {
	DryRun bool `json:"dry_run"` // Test mode without real orders

	TickIntervalSeconds       int `json:"tick_interval_seconds"`        // 300
	ErrorRetryIntervalSeconds int `json:"error_retry_interval_seconds"` // 60

	AllowedTimeframes []string `json:"allowed_timeframes"` // e.g. 5m,15m,1h,4h,1d
	QuoteCurrency     string   `json:"quote_currency"`     // "USDT"
}

// RiskConfig carries the exact close-guard thresholds. Defaults match the
// values the engine was validated against; they are intentionally not
// meant to be tuned per bot.
type RiskConfig struct {
	MaxOpenPositions int `json:"max_open_positions"`

	StopLossPct            float64 `json:"stop_loss_pct"`              // -2.0
	TakeProfitMinPct       float64 `json:"take_profit_min_pct"`        // +2.0
	TrailingDrawdownPct    float64 `json:"trailing_drawdown_pct"`      // 3.0
	MinHoldingMinutes      int     `json:"min_holding_minutes"`        // 15
	SignalMinConfidence    float64 `json:"signal_min_confidence"`      // 0.6
	TakerFeePct            float64 `json:"taker_fee_pct"`              // 0.001
	MinProfitAfterFeesPct  float64 `json:"min_profit_after_fees_pct"`  // 0.3
}

type NotificationConfig struct {
	Enabled   bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// ServerConfig holds HTTP/WS server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig holds single-operator bearer token authentication
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	OperatorUsername    string        `json:"operator_username"`
	OperatorPasswordHash string       `json:"operator_password_hash"` // bcrypt hash
	MinPasswordLength   int           `json:"min_password_length"`
}

// VaultConfig holds HashiCorp Vault configuration for exchange credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for API keys
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig backs the shared last-price cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// StorageConfig holds the Postgres connection used for all persistence
type StorageConfig struct {
	DSN             string `json:"dsn"`
	MaxConns        int32  `json:"max_conns"`
	MigrationsOnBoot bool  `json:"migrations_on_boot"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: BINANCE_API_KEY and BINANCE_SECRET_KEY are always read here; when
// Vault is enabled, internal/secrets uses them only as the fallback pair.
func applyEnvOverrides(cfg *Config) {
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	if cfg.BinanceConfig.BaseURL == "" {
		cfg.BinanceConfig.BaseURL = "https://api.binance.com"
	}
	cfg.BinanceConfig.TestNet = getEnvOrDefault("BINANCE_TESTNET", "false") == "true"
	cfg.BinanceConfig.MockMode = getEnvOrDefault("MOCK_MODE", "false") == "true"

	cfg.TradingConfig.DryRun = getEnvOrDefault("TRADING_DRY_RUN", "false") == "true"
	cfg.TradingConfig.TickIntervalSeconds = getEnvIntOrDefault("TICK_INTERVAL_SECONDS", 300)
	cfg.TradingConfig.ErrorRetryIntervalSeconds = getEnvIntOrDefault("ERROR_RETRY_INTERVAL_SECONDS", 60)
	cfg.TradingConfig.QuoteCurrency = getEnvOrDefault("QUOTE_CURRENCY", "USDT")
	if len(cfg.TradingConfig.AllowedTimeframes) == 0 {
		cfg.TradingConfig.AllowedTimeframes = []string{"5m", "15m", "1h", "4h", "1d"}
	}

	cfg.RiskConfig.MaxOpenPositions = getEnvIntOrDefault("RISK_MAX_OPEN_POSITIONS", cfg.RiskConfig.MaxOpenPositions)
	cfg.RiskConfig.StopLossPct = getEnvFloatOrDefault("RISK_STOP_LOSS_PCT", -2.0)
	cfg.RiskConfig.TakeProfitMinPct = getEnvFloatOrDefault("RISK_TAKE_PROFIT_MIN_PCT", 2.0)
	cfg.RiskConfig.TrailingDrawdownPct = getEnvFloatOrDefault("RISK_TRAILING_DRAWDOWN_PCT", 3.0)
	cfg.RiskConfig.MinHoldingMinutes = getEnvIntOrDefault("RISK_MIN_HOLDING_MINUTES", 15)
	cfg.RiskConfig.SignalMinConfidence = getEnvFloatOrDefault("RISK_SIGNAL_MIN_CONFIDENCE", 0.6)
	cfg.RiskConfig.TakerFeePct = getEnvFloatOrDefault("RISK_TAKER_FEE_PCT", 0.001)
	cfg.RiskConfig.MinProfitAfterFeesPct = getEnvFloatOrDefault("RISK_MIN_PROFIT_AFTER_FEES_PCT", 0.3)

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.WebhookURL = getEnvOrDefault("NOTIFICATION_WEBHOOK_URL", cfg.NotificationConfig.WebhookURL)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "true") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute)
	cfg.AuthConfig.OperatorUsername = getEnvOrDefault("AUTH_OPERATOR_USERNAME", cfg.AuthConfig.OperatorUsername)
	cfg.AuthConfig.OperatorPasswordHash = getEnvOrDefault("AUTH_OPERATOR_PASSWORD_HASH", cfg.AuthConfig.OperatorPasswordHash)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", 8)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "cyphertrade/api-keys")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	cfg.StorageConfig.DSN = getEnvOrDefault("DATABASE_DSN", cfg.StorageConfig.DSN)
	cfg.StorageConfig.MaxConns = int32(getEnvIntOrDefault("DATABASE_MAX_CONNS", 10))
	cfg.StorageConfig.MigrationsOnBoot = getEnvOrDefault("DATABASE_MIGRATIONS_ON_BOOT", "true") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ToAuthConfig converts AuthConfig to the format expected by the auth package
func (c *AuthConfig) ToAuthConfig() AuthConfigExport {
	return AuthConfigExport{
		JWTSecret:           c.JWTSecret,
		AccessTokenDuration: c.AccessTokenDuration,
		MinPasswordLength:   c.MinPasswordLength,
	}
}

// AuthConfigExport is the exported auth config format for the auth package
type AuthConfigExport struct {
	JWTSecret           string
	AccessTokenDuration time.Duration
	MinPasswordLength   int
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		BinanceConfig: BinanceConfig{
			APIKey:    "your_api_key_here",
			SecretKey: "your_secret_key_here",
			BaseURL:   "https://api.binance.com",
			TestNet:   true,
		},
		TradingConfig: TradingConfig{
			DryRun:                    true,
			TickIntervalSeconds:       300,
			ErrorRetryIntervalSeconds: 60,
			AllowedTimeframes:         []string{"5m", "15m", "1h", "4h", "1d"},
			QuoteCurrency:             "USDT",
		},
		RiskConfig: RiskConfig{
			MaxOpenPositions:      5,
			StopLossPct:           -2.0,
			TakeProfitMinPct:      2.0,
			TrailingDrawdownPct:   3.0,
			MinHoldingMinutes:     15,
			SignalMinConfidence:   0.6,
			TakerFeePct:           0.001,
			MinProfitAfterFeesPct: 0.3,
		},
		LoggingConfig: LoggingConfig{
			Level:       "INFO",
			Output:      "stdout",
			JSONFormat:  true,
			IncludeFile: false,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		StorageConfig: StorageConfig{
			MaxConns:         10,
			MigrationsOnBoot: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

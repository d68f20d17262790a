package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string
	Timezone    *time.Location // calendar day used for daily quotas
	HTTPAddr    string

	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	GatewayRPS     float64

	CronSpecDispatch     string
	CronSpecCadence      string
	CronSpecInstanceSync string

	CooldownMin        time.Duration
	CooldownMax        time.Duration
	InvalidCooldownMin time.Duration
	InvalidCooldownMax time.Duration
	ClaimLease         time.Duration
	CadenceBatchSize   int

	AMQPURL      string // empty disables event publishing
	AMQPExchange string

	TelegramToken   string // empty disables the operator bot
	AdminTelegramID int64
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	tz := getString("TIMEZONE", "UTC")
	cfg.Timezone, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.HTTPAddr = getString("HTTP_ADDR", ":8080")
	cfg.GatewayURL = strings.TrimRight(os.Getenv("GATEWAY_URL"), "/")
	cfg.GatewayAPIKey = os.Getenv("GATEWAY_API_KEY")
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayRPS, err = getFloat("GATEWAY_RPS", 5); err != nil {
		return nil, err
	}

	cfg.CronSpecDispatch = getString("CRON_SPEC_DISPATCH", "@every 5s")
	cfg.CronSpecCadence = getString("CRON_SPEC_CADENCE", "@every 30s")
	cfg.CronSpecInstanceSync = getString("CRON_SPEC_INSTANCE_SYNC", "@every 1m")

	if cfg.CooldownMin, err = getSeconds("COOLDOWN_MIN_SECONDS", 300); err != nil {
		return nil, err
	}
	if cfg.CooldownMax, err = getSeconds("COOLDOWN_MAX_SECONDS", 600); err != nil {
		return nil, err
	}
	if cfg.CooldownMax < cfg.CooldownMin {
		return nil, fmt.Errorf("COOLDOWN_MAX_SECONDS must be >= COOLDOWN_MIN_SECONDS")
	}
	if cfg.InvalidCooldownMin, err = getSeconds("INVALID_COOLDOWN_MIN_SECONDS", 5); err != nil {
		return nil, err
	}
	if cfg.InvalidCooldownMax, err = getSeconds("INVALID_COOLDOWN_MAX_SECONDS", 15); err != nil {
		return nil, err
	}
	if cfg.InvalidCooldownMax < cfg.InvalidCooldownMin {
		return nil, fmt.Errorf("INVALID_COOLDOWN_MAX_SECONDS must be >= INVALID_COOLDOWN_MIN_SECONDS")
	}
	if cfg.ClaimLease, err = getDuration("CLAIM_LEASE", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CadenceBatchSize, err = getInt("CADENCE_BATCH_SIZE", 200); err != nil {
		return nil, err
	}

	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.AMQPExchange = getString("AMQP_EXCHANGE", "outreach.events")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	if cfg.TelegramToken != "" && cfg.AdminTelegramID == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is required when TELEGRAM_TOKEN is set")
	}

	return cfg, nil
}

// RequireGateway checks the settings only the serve command needs.
func (c *AppConfig) RequireGateway() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is not set")
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getSeconds(key string, def int) (time.Duration, error) {
	n, err := getInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return time.Duration(n) * time.Second, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	App struct {
		Port         string
		LogLevel     string
		LogFormat    string
		Timezone     *time.Location
		CORSOrigins  []string
		StrictGuard  bool
		DemoUserID   int64
		DemoUsername string
	}

	Postgres struct {
		Host     string
		Port     string
		User     string
		Password string
		DBName   string
		Schema   string
		SSLMode  string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Merchant struct {
		BankAccount   string
		Name          string
		City          string
		StoreLabel    string
		PhoneNumber   string
		TerminalLabel string
	}

	Payment struct {
		BaseURL        string
		Token          string
		RequestTimeout time.Duration
	}

	Poller struct {
		Interval          time.Duration
		Timeout           time.Duration
		ReconcileInterval time.Duration
	}
}

// Load builds the configuration from the environment. A .env file in the
// working directory, if present, is loaded first.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.App.Port = getEnv("APP_PORT", "5000")
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.App.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.App.DemoUsername = getEnv("DEMO_USERNAME", "demo_user")
	if cfg.App.DemoUserID, err = strconv.ParseInt(getEnv("DEMO_USER_ID", "1"), 10, 64); err != nil {
		return nil, fmt.Errorf("DEMO_USER_ID: %w", err)
	}
	if cfg.App.Timezone, err = time.LoadLocation(getEnv("TIMEZONE", "Asia/Phnom_Penh")); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	if cfg.App.StrictGuard, err = strconv.ParseBool(getEnv("ENFORCE_SINGLE_ACTIVE_ORDER", "false")); err != nil {
		return nil, fmt.Errorf("ENFORCE_SINGLE_ACTIVE_ORDER: %w", err)
	}
	cfg.App.CORSOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", "*"))

	cfg.Postgres.Host = getEnv("BLUEPRINT_DB_HOST", "localhost")
	cfg.Postgres.Port = getEnv("BLUEPRINT_DB_PORT", "5432")
	cfg.Postgres.User = getEnv("BLUEPRINT_DB_USERNAME", "postgres")
	cfg.Postgres.Password = os.Getenv("BLUEPRINT_DB_PASSWORD")
	cfg.Postgres.DBName = getEnv("BLUEPRINT_DB_DATABASE", "topup")
	cfg.Postgres.Schema = getEnv("BLUEPRINT_DB_SCHEMA", "public")
	cfg.Postgres.SSLMode = getEnv("BLUEPRINT_DB_SSLMODE", "disable")

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}

	cfg.Merchant.BankAccount = getEnv("BANK_ACCOUNT", "chhira_ly@aclb")
	cfg.Merchant.Name = getEnv("MERCHANT_NAME", "PI YA LEGEND")
	cfg.Merchant.City = getEnv("MERCHANT_CITY", "Phnom Penh")
	cfg.Merchant.StoreLabel = getEnv("STORE_LABEL", "MShop")
	cfg.Merchant.PhoneNumber = getEnv("PHONE_NUMBER", "855882000544")
	cfg.Merchant.TerminalLabel = getEnv("TERMINAL_LABEL", "Cashier-01")

	cfg.Payment.BaseURL = strings.TrimRight(getEnv("PAYMENT_API_URL", "https://panha-dev.vercel.app"), "/")
	cfg.Payment.Token = os.Getenv("PAYMENT_API_TOKEN")
	if cfg.Payment.RequestTimeout, err = getDuration("PAYMENT_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.Poller.Interval, err = getDuration("POLL_INTERVAL", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.Poller.Timeout, err = getDuration("POLL_TIMEOUT", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.Poller.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Poller.Interval <= 0 || cfg.Poller.Timeout <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL and POLL_TIMEOUT must be positive")
	}

	return cfg, nil
}

// PostgresURL returns the connection string in the form accepted by the
// pgx stdlib driver.
func (c *Config) PostgresURL() string {
	query := "sslmode=" + url.QueryEscape(c.Postgres.SSLMode) +
		"&search_path=" + url.QueryEscape(c.Postgres.Schema)
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     net.JoinHostPort(c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: query,
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

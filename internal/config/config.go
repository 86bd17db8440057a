package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Env         string
	ServiceName string

	DBSource  string
	RedisAddr string

	KafkaBrokers []string

	LedgerBaseURL   string
	LedgerAccessKey string
	LedgerSecretKey string
	LedgerTimeout   time.Duration

	AuthBaseURL string
	GeoBaseURL  string

	ReservationFee int64
	Currency       string
	PlatformFee    int64
	RequestExpiry  time.Duration
	SweepInterval  time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	ledgerBase := os.Getenv("LEDGER_API_BASE_URL")
	accessKey := os.Getenv("LEDGER_ACCESS_KEY")
	secretKey := os.Getenv("LEDGER_SECRET_KEY")
	if ledgerBase == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("LEDGER_API_BASE_URL, LEDGER_ACCESS_KEY and LEDGER_SECRET_KEY are required")
	}

	fee, err := envInt64("RESERVATION_FEE", 50)
	if err != nil {
		return nil, err
	}
	platformFee, err := envInt64("PLATFORM_FEE", 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:        getenv("SERVER_PORT", "8080"),
		Env:         getenv("ENVIRONMENT", "development"),
		ServiceName: getenv("SERVICE_NAME", "parkswap-api"),

		DBSource:  dbSource,
		RedisAddr: getenv("REDIS_ADDR", ""),

		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),

		LedgerBaseURL:   ledgerBase,
		LedgerAccessKey: accessKey,
		LedgerSecretKey: secretKey,
		LedgerTimeout:   envDuration("LEDGER_TIMEOUT", 15*time.Second),

		AuthBaseURL: getenv("AUTH_BASE_URL", ""),
		GeoBaseURL:  getenv("GEO_BASE_URL", ""),

		ReservationFee: fee,
		Currency:       getenv("CURRENCY", "ILS"),
		PlatformFee:    platformFee,
		RequestExpiry:  envDuration("REQUEST_EXPIRY", 24*time.Hour),
		SweepInterval:  envDuration("SWEEP_INTERVAL", 10*time.Minute),
	}, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt64(k string, def int64) (int64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return n, nil
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

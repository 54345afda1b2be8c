package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	ScoreCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	MatchLimit int

	PaymentRetryAttempts   int
	PaymentRetryDelay      time.Duration
	FullRefundLeadTime     time.Duration
	PlatformFeeBps         int64
	LateCancelPenaltyCents int64
	ReassignAcceptTimeout  time.Duration
	ReassignCreditCents    int64

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		ScoreCacheTTL:   10 * time.Minute,
		KafkaTopic:      "parking-events",
		MatchLimit:      10,

		PaymentRetryAttempts:   3,
		PaymentRetryDelay:      200 * time.Millisecond,
		FullRefundLeadTime:     24 * time.Hour,
		PlatformFeeBps:         1000,
		LateCancelPenaltyCents: 500,
		ReassignAcceptTimeout:  30 * time.Minute,
		ReassignCreditCents:    500,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.ScoreCacheTTL, "SCORE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.MatchLimit, "MATCH_LIMIT", &errs)
	setIntFromEnv(&cfg.PaymentRetryAttempts, "PAYMENT_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.PaymentRetryDelay, "PAYMENT_RETRY_DELAY", &errs)
	setDurationFromEnv(&cfg.FullRefundLeadTime, "FULL_REFUND_LEAD_TIME", &errs)
	setInt64FromEnv(&cfg.PlatformFeeBps, "PLATFORM_FEE_BPS", &errs)
	setInt64FromEnv(&cfg.LateCancelPenaltyCents, "LATE_CANCEL_PENALTY_CENTS", &errs)
	setDurationFromEnv(&cfg.ReassignAcceptTimeout, "REASSIGN_ACCEPT_TIMEOUT", &errs)
	setInt64FromEnv(&cfg.ReassignCreditCents, "REASSIGN_CREDIT_CENTS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_LIMIT must be > 0"))
	}
	if cfg.PaymentRetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_RETRY_ATTEMPTS must be > 0"))
	}
	if cfg.PlatformFeeBps < 0 || cfg.PlatformFeeBps > 10000 {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_BPS must be within [0,10000]"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

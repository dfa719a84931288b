package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreNATS   = "nats"
	StoreMemory = "memory"
)

type Config struct {
	// DatabaseURL points at the driver/student directory. Empty disables it.
	DatabaseURL     string
	NATSURL         string
	KVBucket        string
	Store           string
	HTTPAddr        string
	MetricsAddr     string
	Location        *time.Location
	StartLead       time.Duration
	StartGrace      time.Duration
	SweepInterval   time.Duration // 0 runs the expiry sweep only at startup
	RequestTimeout  time.Duration
	LogNATSSubjects bool
	OTLPEndpoint    string
	OTLPProtocol    string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Directory DSN: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.KVBucket = getenvDefault("NATS_KV_BUCKET", "shuttle")

	cfg.Store = strings.ToLower(strings.TrimSpace(getenvDefault("STORE", StoreNATS)))
	if cfg.Store != StoreNATS && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("invalid STORE: %q (want %s or %s)", cfg.Store, StoreNATS, StoreMemory)
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	var err error
	if cfg.StartLead, err = minutes("START_LEAD_MINUTES", 20); err != nil {
		return nil, err
	}
	if cfg.StartGrace, err = minutes("START_GRACE_MINUTES", 5); err != nil {
		return nil, err
	}

	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %q", v)
		}
		cfg.SweepInterval = d
	}

	cfg.RequestTimeout = 10 * time.Second
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %q", v)
		}
		cfg.RequestTimeout = d
	}

	// Debug logging for NATS publish subjects
	cfg.LogNATSSubjects = isTrue(os.Getenv("LOG_NATS_SUBJECTS"))

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPProtocol = strings.ToLower(getenvDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf"))
	if cfg.OTLPProtocol != "grpc" && cfg.OTLPProtocol != "http/protobuf" {
		return nil, fmt.Errorf("invalid OTEL_EXPORTER_OTLP_PROTOCOL: %q (want grpc or http/protobuf)", cfg.OTLPProtocol)
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func minutes(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Minute, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * time.Minute, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}

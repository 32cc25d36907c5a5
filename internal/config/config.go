package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	CatalogSeed     = "seed"
	CatalogYAML     = "yaml"
	CatalogPostgres = "postgres"
)

type Config struct {
	HTTPAddr         string `validate:"required"`
	CatalogSource    string `validate:"oneof=seed yaml postgres"`
	CatalogFile      string `validate:"required_if=CatalogSource yaml"`
	DatabaseURL      string
	PersistLocations bool
	NATSURL          string
	LogNATSSubjects  bool
	MetricsAddr      string
	AverageSpeedMps  float64 `validate:"gt=0"`
	SubscriberBuffer int     `validate:"gt=0"`
	CommuteDBPath    string
	CORSOrigins      []string `validate:"min=1,dive,required"`
	Location         *time.Location

	Simulate        bool
	PublishInterval time.Duration `validate:"gt=0"`
	SpeedMultiplier float64       `validate:"gt=0"`
}

// NeedsDatabase reports whether any component is backed by Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.CatalogSource == CatalogPostgres || c.PersistLocations
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":3001")
	cfg.CatalogSource = strings.ToLower(getenvDefault("CATALOG_SOURCE", CatalogSeed))
	cfg.CatalogFile = os.Getenv("CATALOG_FILE")
	cfg.PersistLocations = parseBool(os.Getenv("PERSIST_LOCATIONS"))

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		dsn := url.URL{
			Scheme:   "postgres",
			User:     url.User(getenvDefault("PGUSER", "postgres")),
			Host:     net.JoinHostPort(host, port),
			Path:     "/" + os.Getenv("PGDATABASE"),
			RawQuery: url.Values{"sslmode": {getenvDefault("PGSSLMODE", "disable")}}.Encode(),
		}
		if pass := os.Getenv("PGPASSWORD"); pass != "" {
			dsn.User = url.UserPassword(dsn.User.Username(), pass)
		}
		cfg.DatabaseURL = dsn.String()
	}

	// Empty disables the relay.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	var err error
	if cfg.AverageSpeedMps, err = floatEnv("AVERAGE_SPEED_MPS", 5.56); err != nil {
		return nil, err
	}
	if cfg.SubscriberBuffer, err = intEnv("SUBSCRIBER_BUFFER", 64); err != nil {
		return nil, err
	}

	// Empty disables the commute log.
	if v, ok := os.LookupEnv("COMMUTE_DB_PATH"); ok {
		cfg.CommuteDBPath = strings.TrimSpace(v)
	} else {
		cfg.CommuteDBPath = "./commute.db"
	}

	for _, o := range strings.Split(getenvDefault("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	cfg.Simulate = parseBool(os.Getenv("SIMULATE"))
	ms, err := intEnv("SIMULATE_INTERVAL_MS", 1000)
	if err != nil {
		return nil, err
	}
	cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	if cfg.SpeedMultiplier, err = floatEnv("SPEED_MULTIPLIER", 1.0); err != nil {
		return nil, err
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.NeedsDatabase() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL, PG_DSN or PGDATABASE must be set for CATALOG_SOURCE=postgres or PERSIST_LOCATIONS")
	}
	return nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
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

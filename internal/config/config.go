package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Quota is a per-action-class admission budget expressed as
// "<maxRequests>/<window>", e.g. "3/1m" or "10/60s".
type Quota struct {
	MaxRequests int
	Window      time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (q *Quota) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("quota %q: want <max>/<window>", raw)
	}
	max, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || max <= 0 {
		return fmt.Errorf("quota %q: max requests must be a positive integer", raw)
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return fmt.Errorf("quota %q: invalid window", raw)
	}
	q.MaxRequests = max
	q.Window = window
	return nil
}

func (q Quota) String() string {
	return fmt.Sprintf("%d/%s", q.MaxRequests, q.Window)
}

// Config holds the runtime configuration, sourced from the environment.
type Config struct {
	Addr        string `env:"GATEPASS_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"GATEPASS_PG_DSN"`

	// SQL files applied by cmd/migrate.
	MigrationsDir string `env:"GATEPASS_MIGRATIONS_DIR" envDefault:"ops/migrations/sql"`
	SeedsDir      string `env:"GATEPASS_SEEDS_DIR" envDefault:"ops/migrations/seeds"`

	// Bounded timeout applied by the facade around every store operation.
	StoreTimeout time.Duration `env:"GATEPASS_STORE_TIMEOUT" envDefault:"5s"`

	// Pass issuance policy.
	MaxActivePasses int           `env:"GATEPASS_MAX_ACTIVE_PASSES" envDefault:"3"`
	RetentionWindow time.Duration `env:"GATEPASS_RETENTION_WINDOW" envDefault:"720h"`

	// Per-action-class quotas for the rate governor.
	QuotaRegister   Quota `env:"GATEPASS_QUOTA_REGISTER" envDefault:"3/1h"`
	QuotaModerate   Quota `env:"GATEPASS_QUOTA_MODERATE" envDefault:"30/1m"`
	QuotaPassIssue  Quota `env:"GATEPASS_QUOTA_PASS_ISSUE" envDefault:"10/1h"`
	QuotaPassUse    Quota `env:"GATEPASS_QUOTA_PASS_USE" envDefault:"60/1m"`
	QuotaPassCancel Quota `env:"GATEPASS_QUOTA_PASS_CANCEL" envDefault:"10/1m"`
	QuotaSearch     Quota `env:"GATEPASS_QUOTA_SEARCH" envDefault:"30/1m"`

	// Per-IP token bucket in front of the HTTP shell.
	HTTPRateBurst  int `env:"GATEPASS_HTTP_RATE_BURST" envDefault:"20"`
	HTTPRatePerSec int `env:"GATEPASS_HTTP_RATE_PER_SEC" envDefault:"10"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

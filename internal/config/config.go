// Package config reads process configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/govalues/money"
	"github.com/joho/godotenv"

	"github.com/kasaplus/ledger/internal/ledger"
)

// Config is the resolved runtime configuration.
type Config struct {
	DatabaseURL string
	LogLevel    slog.Leveler
	LogFormat   string
	Currency    money.Currency
	// DefaultVATRate is a percentage, used when a sale carries no rate.
	DefaultVATRate    decimal.Decimal
	HTTPAddr          string
	ReconcileInterval time.Duration
	ReconcileScopes   []ledger.Scope
}

// Load reads the given env files (.env when none is given and it exists) and
// then the environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup resolves the configuration through lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		DatabaseURL: get("DATABASE_URL", ""),
		LogLevel:    ParseLogLevel(get("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(get("LOG_FORMAT", "json")),
		HTTPAddr:    get("HTTP_ADDR", ":8080"),
	}

	curr, err := money.ParseCurr(get("LEDGER_CURRENCY", "TRY"))
	if err != nil {
		return Config{}, fmt.Errorf("LEDGER_CURRENCY: %w", err)
	}
	cfg.Currency = curr

	rate, err := decimal.Parse(get("LEDGER_DEFAULT_VAT_RATE", "20"))
	if err != nil || rate.IsNeg() {
		return Config{}, fmt.Errorf("LEDGER_DEFAULT_VAT_RATE: must be a non-negative percentage")
	}
	cfg.DefaultVATRate = rate

	if v := get("RECONCILE_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("RECONCILE_INTERVAL: invalid duration %q", v)
		}
		cfg.ReconcileInterval = d
	}
	if cfg.ReconcileScopes, err = ParseScopes(get("RECONCILE_SCOPES", "")); err != nil {
		return Config{}, fmt.Errorf("RECONCILE_SCOPES: %w", err)
	}
	return cfg, nil
}

// ParseScopes parses "tenant:branch,tenant:branch".
func ParseScopes(s string) ([]ledger.Scope, error) {
	var out []ledger.Scope
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tenant, branch, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("scope %q: want tenant:branch", part)
		}
		id, err := uuid.Parse(strings.TrimSpace(tenant))
		if err != nil {
			return nil, fmt.Errorf("scope %q: %w", part, err)
		}
		scope := ledger.Scope{TenantID: id, Branch: strings.TrimSpace(branch)}
		if err := scope.Validate(); err != nil {
			return nil, fmt.Errorf("scope %q: %w", part, err)
		}
		out = append(out, scope)
	}
	return out, nil
}

// ParseLogLevel maps env values to slog.Leveler
func ParseLogLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the process logger; JSON unless LOG_FORMAT=text.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

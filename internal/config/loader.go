package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if RESONATE_CONFIG is set
//  3. env (prefix RESONATE_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("RESONATE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: RESONATE_ADDR, RESONATE_MAX_BOARDS, ...
	// Map env keys like RESONATE_MAX_BOARDS -> max_boards (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("RESONATE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "resonate_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DatabaseDSN == "":
		return fmt.Errorf("%w: database_dsn must not be empty", ErrInvalidConfig)
	case c.MaxBoards <= 0:
		return fmt.Errorf("%w: max_boards must be positive", ErrInvalidConfig)
	case c.BoardTTL <= 0:
		return fmt.Errorf("%w: board_ttl must be positive", ErrInvalidConfig)
	case c.ReconcileInterval <= 0:
		return fmt.Errorf("%w: reconcile_interval must be positive", ErrInvalidConfig)
	case c.ReconcileBatchSize <= 0:
		return fmt.Errorf("%w: reconcile_batch_size must be positive", ErrInvalidConfig)
	case c.TempRetention <= 0:
		return fmt.Errorf("%w: temp_retention must be positive", ErrInvalidConfig)
	}
	return nil
}

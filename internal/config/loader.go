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
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if GUILDCORE_CONFIG is set
//  3. env (prefix GUILDCORE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("GUILDCORE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: GUILDCORE_ADDR, GUILDCORE_STORE_PATH, ...
	// mapped to the flat koanf keys on the struct.
	envProvider := env.Provider("GUILDCORE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "guildcore_")
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
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("%w: inbox_size must be positive", ErrInvalidConfig)
	}
	if c.SignupCredit < 0 {
		return fmt.Errorf("%w: signup_credit must not be negative", ErrInvalidConfig)
	}
	if c.MaxGiveawayDuration <= 0 {
		return fmt.Errorf("%w: max_giveaway_duration must be positive", ErrInvalidConfig)
	}
	return nil
}

// Package config defines service configuration and loading.
//
// Conventions:
// - Defaults come from New; file and environment layers override them.
// - External errors are wrapped via this package's sentinel errors.
package config

import "time"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the metrics/health HTTP listen address.
	Addr string `koanf:"addr"`

	// StorePath is the SQLite database file. Empty selects the
	// in-memory store.
	StorePath string `koanf:"store_path"`

	// DiscordToken enables the gateway adapter when set.
	DiscordToken string `koanf:"discord_token"`

	// CommandChannelID restricts prefix commands to one channel when set.
	CommandChannelID string `koanf:"command_channel_id"`

	// InboxSize bounds the in-memory reaction inbox.
	InboxSize int `koanf:"inbox_size"`

	// DedupeSize bounds the delivery deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// CountdownInterval is how often countdown displays refresh.
	CountdownInterval time.Duration `koanf:"countdown_interval"`

	// SignupCredit is awarded to each participant at signup close.
	SignupCredit int64 `koanf:"signup_credit"`

	// RoleBonuses maps role names to one-off point bonuses.
	RoleBonuses map[string]int64 `koanf:"role_bonuses"`

	// RatingValues maps rating kinds to their point values.
	RatingValues map[string]int64 `koanf:"rating_values"`

	// MaxGiveawayDuration caps the giveaway entry window.
	MaxGiveawayDuration time.Duration `koanf:"max_giveaway_duration"`
}

// New returns the built-in defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9090",
		InboxSize:         4096,
		DedupeSize:        50_000,
		CountdownInterval: 30 * time.Second,
		SignupCredit:      40,
		RoleBonuses: map[string]int64{
			"healer": 20,
		},
		RatingValues: map[string]int64{
			"excellent": 40,
			"good":      10,
			"baseline":  0,
			"fail":      -5,
		},
		MaxGiveawayDuration: 7 * 24 * time.Hour,
	}
}

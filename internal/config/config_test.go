package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "dealwatcher", cfg.App.Name)
	require.Equal(t, "30m0s", cfg.Scheduler.Interval.String())
	require.True(t, cfg.Scheduler.AlignToBucket)
	require.Equal(t, 3.0, cfg.Deals.MinDropPct)
	require.Equal(t, int64(1500), cfg.Deals.MinDropAbs)
	require.Equal(t, []float64{3, 6, 10, 15, 20}, cfg.Deals.TierPcts)
	require.Equal(t, 50, cfg.Bot.MaxPosts)
	require.False(t, cfg.Bot.Enabled)
	require.Equal(t, "#deal", cfg.Bot.ActualHashtag)
}

func validConfig() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Scheduler.Interval = 0 },
			wantErr: "scheduler.interval",
		},
		{
			name:    "wrong tier count",
			mutate:  func(c *Config) { c.Deals.TierPcts = []float64{3, 6} },
			wantErr: "exactly five",
		},
		{
			name:    "non increasing tiers",
			mutate:  func(c *Config) { c.Deals.TierPcts = []float64{3, 6, 6, 15, 20} },
			wantErr: "strictly increasing",
		},
		{
			name:    "negative drop pct",
			mutate:  func(c *Config) { c.Deals.MinDropPct = -1 },
			wantErr: "min_drop_pct",
		},
		{
			name:    "zero max posts",
			mutate:  func(c *Config) { c.Bot.MaxPosts = 0 },
			wantErr: "max_posts",
		},
		{
			name:    "bot enabled without token",
			mutate:  func(c *Config) { c.Bot.Enabled = true; c.Bot.Telegram.ChatID = "chat" },
			wantErr: "bot_token",
		},
		{
			name: "bot enabled without chat id",
			mutate: func(c *Config) {
				c.Bot.Enabled = true
				c.Bot.Telegram.BotToken = "token"
			},
			wantErr: "chat_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateAcceptsCompleteBotConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Bot.Enabled = true
	cfg.Bot.Telegram.BotToken = "token"
	cfg.Bot.Telegram.ChatID = "chat"
	require.NoError(t, cfg.Validate())
}

func TestIgnoredBrand(t *testing.T) {
	cfg := validConfig()
	cfg.Bot.IgnoreBrands = []string{"NoName", "generic"}

	require.True(t, cfg.IgnoredBrand("noname"))
	require.True(t, cfg.IgnoredBrand("GENERIC"))
	require.False(t, cfg.IgnoredBrand("acme"))
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig()
	cfg.Export.MaxDataPoints = 123

	require.Equal(t, 123, cfg.ResolveMaxPoints(0))
	require.Equal(t, 7, cfg.ResolveMaxPoints(7))
}

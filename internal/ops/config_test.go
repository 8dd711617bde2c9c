package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
	"main/pkg/fixed"
)

const sampleConfig = `{
  "registry": {
    "venues": [{"name": "SIM"}],
    "symbols": [
      {"name": "EURUSD", "venue": "SIM", "class": "FOREX", "mark": "1.0842"},
      {"name": "BTCUSD", "venue": "SIM", "class": "CRYPTO"}
    ]
  },
  "accounts": [
    {
      "name": "alpha",
      "mode": "NETTING",
      "limits": {
        "version": 3,
        "restrictedSymbols": ["BTCUSD"],
        "maxPositionPerSymbol": "100.5",
        "maxOrderNotional": "250000",
        "maxOrdersPerMinute": 30,
        "maxOrdersPerDay": 500,
        "dailyLossLimit": "10000"
      }
    },
    {"name": "beta", "mode": "HEDGING", "limits": {"version": 1}}
  ],
  "correlation": {"storePath": "/tmp/correlations.db", "retentionHours": 48},
  "journal": {"enabled": true, "host": "db", "port": 5433, "database": "oms"},
  "feed": {"socketPath": "/tmp/events.sock", "queueCapacity": 2048},
  "profile": {"enabled": false}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ops_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadResolvesConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	loaded, err := Load(path)
	require.NoError(t, err)

	sym, ok := loaded.Registry.SymbolByName("EURUSD")
	require.True(t, ok)
	assert.Equal(t, schema.AssetClassForex, sym.Class)
	sym, ok = loaded.Registry.SymbolByName("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, schema.AssetClassCrypto, sym.Class)

	require.Len(t, loaded.Marks, 1)
	assert.True(t, fixed.Equal(loaded.Marks["EURUSD"], fixed.MustParse("1.0842")))

	require.Len(t, loaded.Accounts, 2)
	alpha := loaded.Accounts[0]
	assert.Equal(t, "alpha", alpha.Name)
	assert.Equal(t, schema.AccountModeNetting, alpha.Mode)
	assert.EqualValues(t, 3, alpha.Limits.Version)
	assert.Equal(t, []string{"BTCUSD"}, alpha.Limits.RestrictedSymbols)
	assert.True(t, fixed.Equal(alpha.Limits.MaxPositionPerSymbol, fixed.MustParse("100.5")))
	assert.True(t, fixed.Equal(alpha.Limits.MaxOrderNotional, fixed.MustParse("250000")))
	assert.Equal(t, 30, alpha.Limits.MaxOrdersPerMinute)
	assert.Equal(t, schema.AccountModeHedging, loaded.Accounts[1].Mode)

	assert.Equal(t, 48*time.Hour, loaded.Retention)
	assert.Equal(t, "/tmp/correlations.db", loaded.StorePath)
	require.NotNil(t, loaded.Journal)
	assert.Equal(t, "db", loaded.Journal.Host)
	assert.Equal(t, 5433, loaded.Journal.Port)
	assert.Equal(t, "/tmp/events.sock", loaded.Feed.SocketPath)
	assert.Equal(t, 2048, loaded.Feed.QueueCapacity)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{
  "registry": {"venues": [{"name": "SIM"}], "symbols": []},
  "accounts": []
}`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, loaded.Retention)
	assert.Nil(t, loaded.Journal)
	assert.Equal(t, 4096, loaded.Feed.QueueCapacity)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown asset class",
			content: `{"registry": {"venues": [{"name": "SIM"}],
				"symbols": [{"name": "X", "venue": "SIM", "class": "BOND"}]}}`,
		},
		{
			name: "unknown venue",
			content: `{"registry": {"venues": [],
				"symbols": [{"name": "X", "venue": "SIM", "class": "FOREX"}]}}`,
		},
		{
			name: "unknown account mode",
			content: `{"registry": {"venues": [{"name": "SIM"}], "symbols": []},
				"accounts": [{"name": "a", "mode": "GROSS"}]}`,
		},
		{
			name: "empty account name",
			content: `{"registry": {"venues": [{"name": "SIM"}], "symbols": []},
				"accounts": [{"name": "", "mode": "NETTING"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadLimits(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	limits, err := LoadLimits(path)
	require.NoError(t, err)
	require.Len(t, limits, 2)
	assert.EqualValues(t, 3, limits["alpha"].Version)
	assert.True(t, fixed.Equal(limits["alpha"].DailyLossLimit, fixed.MustParse("10000")))
	assert.EqualValues(t, 1, limits["beta"].Version)
}

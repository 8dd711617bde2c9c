// Package ops loads the adapter's JSON configuration and resolves it
// into ready-to-use wiring values.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/yanun0323/decimal"

	"main/internal/adapter"
	"main/internal/journal"
	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/fixed"
)

// FileConfig mirrors the JSON config layout. Decimal-valued limits are
// carried as strings so they survive parsing without float rounding.
type FileConfig struct {
	Registry    RegistryConfig    `json:"registry"`
	Accounts    []AccountConfig   `json:"accounts"`
	Correlation CorrelationConfig `json:"correlation"`
	Journal     JournalConfig     `json:"journal"`
	Feed        FeedConfig        `json:"feed"`
	Profile     ProfileConfig     `json:"profile"`
	SnapshotDir string            `json:"snapshotDir"`
}

// RegistryConfig defines venue and symbol mappings.
type RegistryConfig struct {
	Venues  []VenueConfig  `json:"venues"`
	Symbols []SymbolConfig `json:"symbols"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name"`
}

// SymbolConfig describes a symbol entry. Mark seeds the valuation
// price so the paper venue can fill market orders before any price
// update arrives.
type SymbolConfig struct {
	Name  string          `json:"name"`
	Venue string          `json:"venue"`
	Class string          `json:"class"`
	Mark  decimal.Decimal `json:"mark"`
}

// AccountConfig describes one trading account and its risk limits.
type AccountConfig struct {
	Name   string       `json:"name"`
	Mode   string       `json:"mode"`
	Limits LimitsConfig `json:"limits"`
}

// LimitsConfig mirrors the risk limits in JSON form.
type LimitsConfig struct {
	Version              uint16          `json:"version"`
	KillSwitch           bool            `json:"killSwitch"`
	RestrictedSymbols    []string        `json:"restrictedSymbols"`
	LongOnlySymbols      []string        `json:"longOnlySymbols"`
	MaxPositionPerSymbol decimal.Decimal `json:"maxPositionPerSymbol"`
	MaxOrderNotional     decimal.Decimal `json:"maxOrderNotional"`
	MaxOrdersPerMinute   int             `json:"maxOrdersPerMinute"`
	MaxOrdersPerDay      int             `json:"maxOrdersPerDay"`
	DailyLossLimit       decimal.Decimal `json:"dailyLossLimit"`
}

// CorrelationConfig controls idempotent request handling.
type CorrelationConfig struct {
	StorePath      string `json:"storePath"`
	RetentionHours int    `json:"retentionHours"`
}

// JournalConfig describes the optional PostgreSQL journal.
type JournalConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// FeedConfig describes the local event feed.
type FeedConfig struct {
	SocketPath    string `json:"socketPath"`
	QueueCapacity int    `json:"queueCapacity"`
}

// ProfileConfig toggles continuous profiling.
type ProfileConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry    *schema.Registry
	Accounts    []adapter.AccountConfig
	Marks       map[string]fixed.Value
	Retention   time.Duration
	StorePath   string
	Journal     *journal.Option
	Feed        FeedConfig
	Profile     ProfileConfig
	SnapshotDir string
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	marks, err := resolveMarks(cfg.Registry.Symbols)
	if err != nil {
		return Loaded{}, err
	}
	accounts, err := resolveAccounts(cfg.Accounts)
	if err != nil {
		return Loaded{}, err
	}

	retention := time.Duration(cfg.Correlation.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	loaded := Loaded{
		Registry:    registry,
		Accounts:    accounts,
		Marks:       marks,
		Retention:   retention,
		StorePath:   cfg.Correlation.StorePath,
		Feed:        cfg.Feed,
		Profile:     cfg.Profile,
		SnapshotDir: cfg.SnapshotDir,
	}
	if loaded.Feed.QueueCapacity <= 0 {
		loaded.Feed.QueueCapacity = 4096
	}
	if cfg.Journal.Enabled {
		loaded.Journal = &journal.Option{
			Host:     cfg.Journal.Host,
			Port:     cfg.Journal.Port,
			User:     cfg.Journal.User,
			Password: cfg.Journal.Password,
			Database: cfg.Journal.Database,
			SSLMode:  cfg.Journal.SSLMode,
		}
	}
	return loaded, nil
}

// LoadLimits re-reads only the per-account risk limits, for hot reload.
func LoadLimits(path string) (map[string]risk.Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	out := make(map[string]risk.Limits, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		limits, err := resolveLimits(acct.Limits)
		if err != nil {
			return nil, fmt.Errorf("limits for account %s: %w", acct.Name, err)
		}
		out[acct.Name] = limits
	}
	return out, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, sym := range cfg.Symbols {
		venueID, ok := reg.VenueIDByName(sym.Venue)
		if !ok {
			return nil, fmt.Errorf("venue not found: %s", sym.Venue)
		}
		class, err := parseAssetClass(sym.Class)
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym.Name, err)
		}
		if _, err := reg.AddSymbol(sym.Name, venueID, class); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveMarks(symbols []SymbolConfig) (map[string]fixed.Value, error) {
	out := make(map[string]fixed.Value, len(symbols))
	for _, sym := range symbols {
		mark, err := parseLimit(sym.Mark)
		if err != nil {
			return nil, fmt.Errorf("mark for symbol %s: %w", sym.Name, err)
		}
		if !mark.IsZero() {
			out[sym.Name] = mark
		}
	}
	return out, nil
}

func resolveAccounts(cfgs []AccountConfig) ([]adapter.AccountConfig, error) {
	out := make([]adapter.AccountConfig, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("account name is empty")
		}
		mode, err := parseAccountMode(cfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", cfg.Name, err)
		}
		limits, err := resolveLimits(cfg.Limits)
		if err != nil {
			return nil, fmt.Errorf("limits for account %s: %w", cfg.Name, err)
		}
		out = append(out, adapter.AccountConfig{
			Name:   cfg.Name,
			Mode:   mode,
			Limits: limits,
		})
	}
	return out, nil
}

func resolveLimits(cfg LimitsConfig) (risk.Limits, error) {
	limits := risk.Limits{
		Version:            cfg.Version,
		KillSwitch:         cfg.KillSwitch,
		RestrictedSymbols:  cfg.RestrictedSymbols,
		LongOnlySymbols:    cfg.LongOnlySymbols,
		MaxOrdersPerMinute: cfg.MaxOrdersPerMinute,
		MaxOrdersPerDay:    cfg.MaxOrdersPerDay,
	}
	var err error
	if limits.MaxPositionPerSymbol, err = parseLimit(cfg.MaxPositionPerSymbol); err != nil {
		return risk.Limits{}, fmt.Errorf("maxPositionPerSymbol: %w", err)
	}
	if limits.MaxOrderNotional, err = parseLimit(cfg.MaxOrderNotional); err != nil {
		return risk.Limits{}, fmt.Errorf("maxOrderNotional: %w", err)
	}
	if limits.DailyLossLimit, err = parseLimit(cfg.DailyLossLimit); err != nil {
		return risk.Limits{}, fmt.Errorf("dailyLossLimit: %w", err)
	}
	return limits, nil
}

func parseLimit(d decimal.Decimal) (fixed.Value, error) {
	s := d.String()
	if s == "" || s == "0" {
		return fixed.Zero(), nil
	}
	return fixed.Parse(s)
}

func parseAccountMode(s string) (schema.AccountMode, error) {
	switch s {
	case "NETTING":
		return schema.AccountModeNetting, nil
	case "HEDGING":
		return schema.AccountModeHedging, nil
	default:
		return schema.AccountModeUnknown, fmt.Errorf("unknown account mode: %q", s)
	}
}

func parseAssetClass(s string) (schema.AssetClass, error) {
	switch s {
	case "FOREX":
		return schema.AssetClassForex, nil
	case "CRYPTO":
		return schema.AssetClassCrypto, nil
	case "EQUITY":
		return schema.AssetClassEquity, nil
	case "COMMODITY":
		return schema.AssetClassCommodity, nil
	default:
		return schema.AssetClassUnknown, fmt.Errorf("unknown asset class: %q", s)
	}
}

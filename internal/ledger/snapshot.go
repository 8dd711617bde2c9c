package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"main/pkg/fixed"
)

// Snapshot captures account positions at a point in time, used for
// recovery and replay verification.
type Snapshot struct {
	Account   string          `json:"account"`
	Timestamp int64           `json:"timestamp"`
	Realized  fixed.Value     `json:"realized"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol   string      `json:"symbol"`
	Quantity fixed.Value `json:"quantity"`
	AvgPrice fixed.Value `json:"avgPrice"`
}

// TakeSnapshot builds a snapshot from the ledger's current positions.
func TakeSnapshot(l Ledger, account string) Snapshot {
	views := l.Positions()
	entries := make([]PositionEntry, 0, len(views))
	for _, v := range views {
		entries = append(entries, PositionEntry{
			Symbol:   v.Symbol,
			Quantity: v.Quantity,
			AvgPrice: v.AvgEntryPrice,
		})
	}
	return Snapshot{
		Account:   account,
		Timestamp: time.Now().UTC().UnixMicro(),
		Realized:  l.RealizedPnL(),
		Positions: entries,
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// CompareSnapshots verifies that two snapshots agree on every position
// quantity after scale alignment.
func CompareSnapshots(expected, actual Snapshot) error {
	byName := make(map[string]PositionEntry, len(expected.Positions))
	for _, e := range expected.Positions {
		byName[e.Symbol] = e
	}
	for _, a := range actual.Positions {
		e, ok := byName[a.Symbol]
		if !ok {
			return fmt.Errorf("unexpected position: %s", a.Symbol)
		}
		if !fixed.Equal(e.Quantity, a.Quantity) {
			return fmt.Errorf("position mismatch for %s: %s != %s", a.Symbol, e.Quantity, a.Quantity)
		}
		delete(byName, a.Symbol)
	}
	for symbol := range byName {
		return fmt.Errorf("missing position: %s", symbol)
	}
	return nil
}

// Package ledger persists per-audit token usage and cost estimates as an
// append-only JSONL log. The ledger is advisory: malformed lines are
// skipped on read, unlike the decision store.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/internal/pricing"
)

// DefaultPath is the ledger location relative to the working directory.
const DefaultPath = ".vigil/cost-ledger.jsonl"

// Entry is one persisted ledger record.
type Entry struct {
	Timestamp        string  `json:"timestamp"`
	Repo             string  `json:"repo"`
	Focus            string  `json:"focus"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	FileCount        int     `json:"file_count"`
	CostEstimateUSD  float64 `json:"cost_estimate_usd"`
}

// Ledger reads and appends cost entries at a fixed path.
type Ledger struct {
	path string
}

// New returns a Ledger at path, or at DefaultPath when path is empty.
func New(path string) *Ledger {
	if path == "" {
		path = DefaultPath
	}
	return &Ledger{path: path}
}

// Append computes the cost estimate for the entry and appends it.
// An empty Timestamp is filled with the current time.
func (l *Ledger) Append(e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}

	key := pricing.ResolveModelKey(e.Provider, e.Model)
	if p, ok := pricing.Models[key]; ok {
		useBatch := strings.EqualFold(e.Provider, "anthropic")
		cost := pricing.Cost(e.InputTokens, e.OutputTokens, p, useBatch)
		e.CostEstimateUSD = math.Round(cost*10000) / 10000
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling ledger entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	return nil
}

// Read returns all well-formed entries. Missing file yields an empty
// slice; malformed lines are dropped.
func (l *Ledger) Read() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return entries, nil
}

// LastN returns the most recent n entries.
func (l *Ledger) LastN(n int) ([]Entry, error) {
	entries, err := l.Read()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// LastNDays returns entries from the last n days. Entries with invalid
// timestamps are dropped.
func (l *Ledger) LastNDays(n int) ([]Entry, error) {
	entries, err := l.Read()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, -n)
	var recent []Entry
	for _, e := range entries {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			continue
		}
		if !ts.Before(cutoff) {
			recent = append(recent, e)
		}
	}
	return recent, nil
}

// Summary aggregates a set of entries for reporting.
type Summary struct {
	Runs        int
	TotalCost   float64
	InputTokens int
	ByRepo      map[string]float64
	ByProvider  map[string]float64
}

// Summarize computes read-side aggregates over entries.
func Summarize(entries []Entry) Summary {
	s := Summary{
		ByRepo:     make(map[string]float64),
		ByProvider: make(map[string]float64),
	}
	for _, e := range entries {
		s.Runs++
		s.TotalCost += e.CostEstimateUSD
		s.InputTokens += e.InputTokens
		s.ByRepo[e.Repo] += e.CostEstimateUSD
		s.ByProvider[e.Provider] += e.CostEstimateUSD
	}
	return s
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"momentumwatch/pkg/model"
)

// FallbackDump is what an undelivered run leaves on disk
type FallbackDump struct {
	RunID   string                 `json:"run_id"`
	AsOf    string                 `json:"as_of"`
	Buckets model.Buckets          `json:"buckets"`
	Message *model.AlertMessage    `json:"message,omitempty"`
	Results []model.MomentumResult `json:"results"`
}

// WriteFallback saves the run's buckets and composed alert as JSON under
// dir and returns the file path
func WriteFallback(dir string, out *Outcome) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create fallback dir: %w", err)
	}

	dump := FallbackDump{
		RunID:   out.RunID,
		AsOf:    out.AsOf.Format("2006-01-02"),
		Buckets: out.Buckets,
		Message: out.Message,
	}
	if out.Scan != nil {
		dump.Results = out.Scan.Results
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode fallback: %w", err)
	}

	name := fmt.Sprintf("alert-%s-%s.json", out.AsOf.Format("20060102"), shortID(out.RunID))
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write fallback: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write fallback: %w", err)
	}
	return path, nil
}

// ReadFallback loads a dump written by WriteFallback
func ReadFallback(path string) (*FallbackDump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dump FallbackDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &dump, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return fmt.Sprintf("%d", time.Now().Unix())
	}
	return id
}

package symbols

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"momentumwatch/pkg/model"
)

// minRemoteSymbols guards against a remote list that parsed but is clearly
// not an index constituent list (an error page, a truncated download).
const minRemoteSymbols = 10

// ErrNoSymbols means a source produced no usable symbols
var ErrNoSymbols = errors.New("no symbols")

// Source records where the universe came from
type Source string

const (
	SourceConfig  Source = "config"
	SourceFile    Source = "file"
	SourceURL     Source = "url"
	SourceBuiltin Source = "builtin"
)

// Sources lists the configured universe inputs
type Sources struct {
	Name    string
	Symbols []string
	File    string
	URL     string
}

// Loader resolves the set of symbols to screen
type Loader struct {
	client *http.Client
	suffix string
}

// NewLoader creates a new symbol loader
func NewLoader(suffix string, timeout time.Duration) *Loader {
	return &Loader{
		client: &http.Client{Timeout: timeout},
		suffix: suffix,
	}
}

// Load returns the universe. An explicit symbol list wins, then a local
// file, then a remote list. A configured file that cannot be read is an
// error; a remote list that fails falls back to the built-in universe.
func (l *Loader) Load(ctx context.Context, src Sources) ([]model.Symbol, Source, error) {
	if len(src.Symbols) > 0 {
		syms := l.LoadSymbols(src.Symbols)
		if len(syms) == 0 {
			return nil, SourceConfig, fmt.Errorf("%w in configured list", ErrNoSymbols)
		}
		return syms, SourceConfig, nil
	}

	if src.File != "" {
		syms, err := l.LoadFile(src.File)
		if err != nil {
			return nil, SourceFile, err
		}
		return syms, SourceFile, nil
	}

	if src.URL != "" {
		syms, err := l.LoadURL(ctx, src.URL)
		if err == nil {
			return syms, SourceURL, nil
		}
		log.WithField("url", src.URL).Warnf("Failed to fetch symbol list, using built-in universe: %v", err)
	}

	return l.builtin(src.Name), SourceBuiltin, nil
}

// LoadSymbols normalizes and de-duplicates symbols, keeping their order
func (l *Loader) LoadSymbols(raw []string) []model.Symbol {
	seen := make(map[model.Symbol]bool, len(raw))
	out := make([]model.Symbol, 0, len(raw))
	for _, r := range raw {
		s := model.NormalizeSymbol(r, l.suffix)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// LoadFile reads a CSV with a "Symbol" column, such as the index
// constituent lists NSE publishes
func (l *Loader) LoadFile(path string) ([]model.Symbol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbol file: %w", err)
	}
	defer f.Close()

	syms, err := l.parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return syms, nil
}

// LoadURL downloads a constituent CSV
func (l *Loader) LoadURL(ctx context.Context, url string) ([]model.Symbol, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	syms, err := l.parse(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(syms) < minRemoteSymbols {
		return nil, fmt.Errorf("only %d symbols in remote list", len(syms))
	}
	return syms, nil
}

func (l *Loader) parse(r io.Reader) ([]model.Symbol, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), "symbol") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: no Symbol column", ErrNoSymbols)
	}

	var raw []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warnf("Skipping malformed symbol row: %v", err)
			continue
		}
		if col < len(rec) {
			raw = append(raw, rec[col])
		}
	}

	syms := l.LoadSymbols(raw)
	if len(syms) == 0 {
		return nil, ErrNoSymbols
	}
	return syms, nil
}

func (l *Loader) builtin(name string) []model.Symbol {
	list := GetUniverse(Universe(strings.ToLower(name)))
	if len(list) == 0 {
		if name != "" {
			log.WithField("universe", name).Warn("Unknown universe, using core list")
		}
		list = CoreSymbols
	}
	return l.LoadSymbols(list)
}

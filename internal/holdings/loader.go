// Package holdings reads the user's holdings list.
package holdings

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"momentumwatch/pkg/model"
)

var (
	// ErrNotFound means the holdings file does not exist
	ErrNotFound = errors.New("holdings file not found")

	// ErrNoSymbolColumn means the header row has no "symbol" column
	ErrNoSymbolColumn = errors.New("holdings file has no symbol column")
)

// LoadFile reads a holdings CSV from disk
func LoadFile(path, suffix string) (model.Holdings, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening holdings file: %w", err)
	}
	defer f.Close()

	h, err := Parse(f, suffix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.WithFields(log.Fields{"file": path, "count": len(h)}).Info("Loaded holdings")
	return h, nil
}

// Parse reads holdings from CSV. The header must contain a "symbol" column
// (any case); "quantity" is optional and every other column is ignored.
// Rows that cannot be read are skipped with a warning.
func Parse(r io.Reader, suffix string) (model.Holdings, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err == io.EOF {
		return model.Holdings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	symCol, qtyCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "symbol":
			symCol = i
		case "quantity", "qty":
			qtyCol = i
		}
	}
	if symCol < 0 {
		return nil, ErrNoSymbolColumn
	}

	holdings := make(model.Holdings)
	line := 1
	for {
		record, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithField("line", line).Warnf("Skipping malformed holdings row: %v", err)
			continue
		}
		if symCol >= len(record) {
			log.WithField("line", line).Warn("Skipping holdings row without symbol")
			continue
		}

		sym := model.NormalizeSymbol(record[symCol], suffix)
		if sym == "" {
			log.WithField("line", line).Warn("Skipping holdings row with empty symbol")
			continue
		}

		rec := model.HoldingRecord{Symbol: sym}
		if qtyCol >= 0 && qtyCol < len(record) {
			if raw := strings.TrimSpace(record[qtyCol]); raw != "" {
				qty, err := strconv.ParseFloat(raw, 64)
				if err != nil || qty < 0 {
					log.WithFields(log.Fields{"line": line, "symbol": sym}).Warnf("Skipping holdings row with bad quantity %q", raw)
					continue
				}
				rec.Quantity = qty
			}
		}

		if prev, ok := holdings[sym]; ok {
			rec.Quantity += prev.Quantity
		}
		holdings[sym] = rec
	}

	return holdings, nil
}

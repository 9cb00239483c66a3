package model

import (
	"sort"
	"strings"
	"time"
)

// Symbol is an exchange-qualified ticker such as "RELIANCE.NS"
type Symbol string

// String returns the ticker text
func (s Symbol) String() string {
	return string(s)
}

// NormalizeSymbol upper-cases and trims a ticker. Bare codes (no exchange
// suffix, not an index like "^NSEI") get the given suffix appended.
func NormalizeSymbol(raw, suffix string) Symbol {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if suffix != "" && !strings.Contains(s, ".") && !strings.HasPrefix(s, "^") {
		s += strings.ToUpper(suffix)
	}
	return Symbol(s)
}

// PricePoint is the close of one trading day
type PricePoint struct {
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceSeries holds daily closes for one symbol, ascending by date
type PriceSeries struct {
	Symbol Symbol       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// SortPoints orders the points by date ascending
func (p *PriceSeries) SortPoints() {
	sort.Slice(p.Points, func(i, j int) bool {
		return p.Points[i].Date.Before(p.Points[j].Date)
	})
}

// Classification is the momentum verdict for a symbol
type Classification string

const (
	Qualifying    Classification = "qualifying"
	NonQualifying Classification = "non_qualifying"
)

// Trend is the direction of the short moving average
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendFlat    Trend = "flat"
	TrendUnknown Trend = ""
)

// MomentumResult is the evaluated momentum of one symbol. It is never
// modified after the evaluator returns it.
type MomentumResult struct {
	Symbol         Symbol         `json:"symbol"`
	PctChange      float64        `json:"pct_change"`
	Classification Classification `json:"classification"`
	FirstClose     float64        `json:"first_close"`
	LastClose      float64        `json:"last_close"`
	FirstDate      time.Time      `json:"first_date"`
	LastDate       time.Time      `json:"last_date"`
	Points         int            `json:"points"`

	// Informational only, never used for classification
	AvgVolume float64 `json:"avg_volume"`
	MA20Trend Trend   `json:"ma20_trend,omitempty"`
}

// Qualifies reports whether the result met the threshold
func (r MomentumResult) Qualifies() bool {
	return r.Classification == Qualifying
}

// HoldingRecord is one line of the user's holdings list
type HoldingRecord struct {
	Symbol   Symbol  `json:"symbol"`
	Quantity float64 `json:"quantity,omitempty"`
}

// Holdings is the per-run holdings snapshot keyed by symbol
type Holdings map[Symbol]HoldingRecord

// Has reports whether the symbol is currently held
func (h Holdings) Has(s Symbol) bool {
	_, ok := h[s]
	return ok
}

// Symbols returns the held symbols sorted
func (h Holdings) Symbols() []Symbol {
	out := make([]Symbol, 0, len(h))
	for s := range h {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Candidate is a symbol placed in an alert bucket together with its result
type Candidate struct {
	Result   MomentumResult `json:"result"`
	Quantity float64        `json:"quantity,omitempty"`
}

// UnevaluatedEntry is a symbol whose momentum could not be computed
type UnevaluatedEntry struct {
	Symbol Symbol `json:"symbol"`
	Held   bool   `json:"held"`
	Reason string `json:"reason"`
}

// Buckets is the reconciled outcome of a run
type Buckets struct {
	Exit        []Candidate        `json:"exit"`
	Watch       []Candidate        `json:"watch"`
	Unevaluated []UnevaluatedEntry `json:"unevaluated"`
}

// Empty reports whether there is nothing to alert on
func (b Buckets) Empty() bool {
	return len(b.Exit) == 0 && len(b.Watch) == 0 && len(b.Unevaluated) == 0
}

// AlertMessage is the composed alert, sent once and then discarded
type AlertMessage struct {
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	HTML       string   `json:"html"`
	Recipients []string `json:"recipients"`
}

// ScanResult is the output of screening a symbol set
type ScanResult struct {
	Results      []MomentumResult   `json:"results"`
	Failures     []UnevaluatedEntry `json:"failures"`
	Skipped      []Symbol           `json:"skipped,omitempty"`
	TotalScanned int                `json:"total_scanned"`
	ScanTime     time.Duration      `json:"scan_time"`
}

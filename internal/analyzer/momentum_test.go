package analyzer

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"momentumwatch/pkg/model"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, ist)
}

// linearSeries builds one close per calendar day from start, moving from
// first to last in equal steps.
func linearSeries(sym model.Symbol, start time.Time, days int, first, last float64) *model.PriceSeries {
	s := &model.PriceSeries{Symbol: sym}
	for i := 0; i < days; i++ {
		c := first + (last-first)*float64(i)/float64(days-1)
		if i == days-1 {
			c = last
		}
		s.Points = append(s.Points, model.PricePoint{Date: start.AddDate(0, 0, i), Close: c, Volume: 1000})
	}
	return s
}

func TestEvaluate(t *testing.T) {
	asOf := day(2024, 4, 1)
	w := LookbackWindow(asOf, 3)

	tests := []struct {
		name  string
		first float64
		last  float64
		pct   float64
		class model.Classification
	}{
		{"rising", 100, 120, 20, model.Qualifying},
		{"falling", 100, 90, -10, model.NonQualifying},
		{"watch", 100, 118, 18, model.Qualifying},
		{"boundary is inclusive", 100, 115, 15, model.Qualifying},
		{"just below", 100, 114.99, 14.99, model.NonQualifying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := linearSeries("X.NS", w.Start, 92, tt.first, tt.last)
			res, err := Evaluate(series, w, 15.0)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if math.Abs(res.PctChange-tt.pct) > 1e-9 {
				t.Errorf("Expected pct %f, got %f", tt.pct, res.PctChange)
			}
			if res.Classification != tt.class {
				t.Errorf("Expected %s, got %s", tt.class, res.Classification)
			}
			if res.FirstClose != tt.first || res.LastClose != tt.last {
				t.Errorf("Unexpected anchors: first=%f last=%f", res.FirstClose, res.LastClose)
			}
		})
	}
}

func TestClassifyUsesFullPrecision(t *testing.T) {
	// 14.999 displays as 15.00 but must not qualify
	if Classify(14.999, 15.0) != model.NonQualifying {
		t.Error("14.999 must be non-qualifying")
	}
	if Classify(15.0, 15.0) != model.Qualifying {
		t.Error("15.0 must be qualifying")
	}
}

func TestEvaluateSkipsMissingDays(t *testing.T) {
	asOf := day(2024, 4, 1)
	w := LookbackWindow(asOf, 3) // 2024-01-01 .. 2024-04-01

	// Window start is a holiday and the end is a weekend. The anchors move
	// to the nearest closes inside the window; the outer points are ignored.
	series := &model.PriceSeries{
		Symbol: "HOL.NS",
		Points: []model.PricePoint{
			{Date: day(2023, 12, 29), Close: 50},
			{Date: day(2024, 1, 2), Close: 100},
			{Date: day(2024, 2, 15), Close: 110},
			{Date: day(2024, 3, 28), Close: 125},
			{Date: day(2024, 4, 2), Close: 999},
		},
	}
	res, err := Evaluate(series, w, 15.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.FirstClose != 100 || res.LastClose != 125 {
		t.Errorf("Expected anchors 100 -> 125, got %f -> %f", res.FirstClose, res.LastClose)
	}
	if res.PctChange != 25 {
		t.Errorf("Expected 25%%, got %f", res.PctChange)
	}
	if res.Points != 3 {
		t.Errorf("Expected 3 points in window, got %d", res.Points)
	}
}

func TestEvaluateSortsUnorderedInput(t *testing.T) {
	w := LookbackWindow(day(2024, 4, 1), 3)
	series := &model.PriceSeries{
		Symbol: "U.NS",
		Points: []model.PricePoint{
			{Date: day(2024, 3, 1), Close: 90},
			{Date: day(2024, 1, 10), Close: 100},
		},
	}
	res, err := Evaluate(series, w, 15.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.PctChange != -10 {
		t.Errorf("Expected -10%%, got %f", res.PctChange)
	}
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	w := LookbackWindow(day(2024, 4, 1), 3)

	tests := []struct {
		name   string
		series *model.PriceSeries
	}{
		{"nil", nil},
		{"empty", &model.PriceSeries{Symbol: "E.NS"}},
		{"single point", &model.PriceSeries{Symbol: "S.NS", Points: []model.PricePoint{{Date: day(2024, 2, 1), Close: 10}}}},
		{"outside window", &model.PriceSeries{Symbol: "O.NS", Points: []model.PricePoint{
			{Date: day(2023, 6, 1), Close: 10}, {Date: day(2023, 7, 1), Close: 12},
		}}},
		{"zero first close", &model.PriceSeries{Symbol: "Z.NS", Points: []model.PricePoint{
			{Date: day(2024, 2, 1), Close: 0}, {Date: day(2024, 3, 1), Close: 12},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.series, w, 15.0)
			if !errors.Is(err, ErrInsufficientHistory) {
				t.Errorf("Expected ErrInsufficientHistory, got %v", err)
			}
		})
	}
}

func TestPercentChangeIsFinite(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		first := r.Float64()*1000 + 0.01
		last := r.Float64() * 2000
		pct := PercentChange(first, last)
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			t.Fatalf("Non-finite pct for %f -> %f", first, last)
		}
		if want := (last - first) / first * 100; pct != want {
			t.Fatalf("Expected %f, got %f", want, pct)
		}
	}
}

func TestMATrend(t *testing.T) {
	up := linearSeries("UP.NS", day(2024, 1, 1), 30, 100, 130).Points
	if got := MATrend(up, 20); got != model.TrendUp {
		t.Errorf("Expected up trend, got %q", got)
	}

	down := linearSeries("DN.NS", day(2024, 1, 1), 30, 130, 100).Points
	if got := MATrend(down, 20); got != model.TrendDown {
		t.Errorf("Expected down trend, got %q", got)
	}

	flat := linearSeries("FL.NS", day(2024, 1, 1), 30, 100, 100).Points
	if got := MATrend(flat, 20); got != model.TrendFlat {
		t.Errorf("Expected flat trend, got %q", got)
	}

	if got := MATrend(up[:20], 20); got != model.TrendUnknown {
		t.Errorf("Expected unknown trend with too few points, got %q", got)
	}
}

func TestAverageVolume(t *testing.T) {
	points := []model.PricePoint{{Volume: 100}, {Volume: 300}}
	if got := AverageVolume(points); got != 200 {
		t.Errorf("Expected 200, got %f", got)
	}
	if got := AverageVolume(nil); got != 0 {
		t.Errorf("Expected 0 for no points, got %f", got)
	}
}

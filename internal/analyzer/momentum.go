package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"momentumwatch/pkg/model"
)

// ErrInsufficientHistory means the window holds fewer than two usable closes
var ErrInsufficientHistory = errors.New("insufficient history")

// Window is a closed range of calendar days. Points are compared by their
// calendar date in their own location, so the time of day never matters.
type Window struct {
	Start time.Time
	End   time.Time
}

// LookbackWindow returns the window ending on asOf and starting months earlier
func LookbackWindow(asOf time.Time, months int) Window {
	return Window{
		Start: asOf.AddDate(0, -months, 0),
		End:   asOf,
	}
}

// Contains reports whether t falls on a day inside the window
func (w Window) Contains(t time.Time) bool {
	d := dayKey(t)
	return d >= dayKey(w.Start) && d <= dayKey(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

func dayKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Classify applies the threshold at full precision. The boundary is inclusive.
func Classify(pctChange, thresholdPct float64) model.Classification {
	if pctChange >= thresholdPct {
		return model.Qualifying
	}
	return model.NonQualifying
}

// PercentChange returns (last-first)/first*100
func PercentChange(first, last float64) float64 {
	return (last - first) / first * 100
}

// Evaluate computes the momentum of a series over the window. The first
// close is the earliest point on or after the window start and the last
// close the latest point on or before the window end, so missing trading
// days simply move the anchor to the nearest available close.
func Evaluate(series *model.PriceSeries, w Window, thresholdPct float64) (model.MomentumResult, error) {
	if series == nil {
		return model.MomentumResult{}, fmt.Errorf("%w: no series", ErrInsufficientHistory)
	}

	points := make([]model.PricePoint, 0, len(series.Points))
	for _, p := range series.Points {
		if w.Contains(p.Date) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	if len(points) < 2 {
		return model.MomentumResult{}, fmt.Errorf("%w: %d closes in %s", ErrInsufficientHistory, len(points), w)
	}

	first, last := points[0], points[len(points)-1]
	if first.Close <= 0 || math.IsNaN(first.Close) || math.IsNaN(last.Close) {
		return model.MomentumResult{}, fmt.Errorf("%w: unusable first close %v", ErrInsufficientHistory, first.Close)
	}

	pct := PercentChange(first.Close, last.Close)
	return model.MomentumResult{
		Symbol:         series.Symbol,
		PctChange:      pct,
		Classification: Classify(pct, thresholdPct),
		FirstClose:     first.Close,
		LastClose:      last.Close,
		FirstDate:      first.Date,
		LastDate:       last.Date,
		Points:         len(points),
		AvgVolume:      AverageVolume(points),
		MA20Trend:      MATrend(points, 20),
	}, nil
}

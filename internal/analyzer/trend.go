package analyzer

import (
	"momentumwatch/pkg/model"
)

// CalculateMA calculates the simple moving average of the closes ending at
// index end (inclusive). Returns 0 when there is not enough data.
func CalculateMA(points []model.PricePoint, period, end int) float64 {
	if period <= 0 || end >= len(points) || end+1 < period {
		return 0
	}

	var sum float64
	for i := end - period + 1; i <= end; i++ {
		sum += points[i].Close
	}
	return sum / float64(period)
}

// MATrend compares the moving average on the last day with the one on the
// day before. Needs period+1 points.
func MATrend(points []model.PricePoint, period int) model.Trend {
	if len(points) < period+1 {
		return model.TrendUnknown
	}
	last := len(points) - 1
	now := CalculateMA(points, period, last)
	prev := CalculateMA(points, period, last-1)

	switch {
	case now > prev:
		return model.TrendUp
	case now < prev:
		return model.TrendDown
	default:
		return model.TrendFlat
	}
}

// AverageVolume returns the mean daily volume of the points
func AverageVolume(points []model.PricePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum int64
	for _, p := range points {
		sum += p.Volume
	}
	return float64(sum) / float64(len(points))
}

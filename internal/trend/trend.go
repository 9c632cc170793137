// Package trend fits ordinary least-squares regression over a time-ordered
// scalar series and classifies direction and significance.
package trend

import (
	"errors"
	"time"

	"strategist/internal/domain"
)

// Point is one observation in a time-ordered series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Classification thresholds. The regression runs against the sequence
// index, not raw time, so unevenly spaced observations do not bias the
// slope.
const (
	slopeBand            = 0.5
	significantRSquared  = 0.7
	marginalRSquared     = 0.3
	minPoints            = 2
	MinMeaningfulPoints  = 3
)

var ErrInsufficientData = errors.New("trend: need at least 2 data points")

// Analyze fits value against index and classifies the series. Callers
// wanting a meaningful read should supply MinMeaningfulPoints or more.
func Analyze(metric string, points []Point, periodDays int) (domain.TrendAnalysis, error) {
	if len(points) < minPoints {
		return domain.TrendAnalysis{}, ErrInsufficientData
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}

	slope, r2 := fit(values)

	first, last := values[0], values[len(values)-1]
	var changePct float64
	if first != 0 {
		changePct = (last - first) / first * 100
	}

	direction := domain.TrendStable
	switch {
	case slope > slopeBand:
		direction = domain.TrendImproving
	case slope < -slopeBand:
		direction = domain.TrendDeclining
	case first == 0 && last == 0:
		direction = domain.TrendStalled
	}

	significance := domain.SignificanceNoise
	switch {
	case r2 > significantRSquared:
		significance = domain.SignificanceSignificant
	case r2 > marginalRSquared:
		significance = domain.SignificanceMarginal
	}

	return domain.TrendAnalysis{
		Metric:           metric,
		Direction:        direction,
		ChangePercentage: changePct,
		DataPoints:       values,
		Significance:     significance,
		PeriodDays:       periodDays,
		Slope:            slope,
		RSquared:         r2,
	}, nil
}

// fit returns the OLS slope of values against index and the fit's R².
// A constant series has zero total variance; its R² is reported as 0 so
// it classifies as noise rather than as a perfect fit.
func fit(values []float64) (slope, r2 float64) {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	mean := sumY / n
	var ssTot, ssRes float64
	for i, v := range values {
		fitted := intercept + slope*float64(i)
		ssTot += (v - mean) * (v - mean)
		ssRes += (v - fitted) * (v - fitted)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

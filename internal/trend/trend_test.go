package trend_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategist/internal/domain"
	"strategist/internal/trend"
)

func points(values ...float64) []trend.Point {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]trend.Point, len(values))
	for i, v := range values {
		pts[i] = trend.Point{Timestamp: base.AddDate(0, 0, i), Value: v}
	}
	return pts
}

func TestAnalyzeDecliningSignificant(t *testing.T) {
	// Steady interview-score decline: slope well below -0.5 with a tight fit.
	ta, err := trend.Analyze("interview_score", points(80, 78, 75, 70, 65), 30)
	require.NoError(t, err)

	assert.Equal(t, domain.TrendDeclining, ta.Direction)
	assert.Equal(t, domain.SignificanceSignificant, ta.Significance)
	assert.Negative(t, ta.Slope)
	assert.Greater(t, ta.RSquared, 0.7)
	assert.InDelta(t, -18.75, ta.ChangePercentage, 0.001)
}

func TestAnalyzeImproving(t *testing.T) {
	ta, err := trend.Analyze("interview_score", points(50, 55, 61, 68, 74), 30)
	require.NoError(t, err)

	assert.Equal(t, domain.TrendImproving, ta.Direction)
	assert.Equal(t, domain.SignificanceSignificant, ta.Significance)
	assert.Positive(t, ta.ChangePercentage)
}

func TestAnalyzeStable(t *testing.T) {
	ta, err := trend.Analyze("interview_score", points(70, 70.2, 69.9, 70.1), 30)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendStable, ta.Direction)
}

func TestAnalyzeStalledOnZeroEndpoints(t *testing.T) {
	ta, err := trend.Analyze("applications", points(0, 1, 0), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendStalled, ta.Direction)
	assert.Zero(t, ta.ChangePercentage)
}

func TestAnalyzeConstantSeriesIsNoise(t *testing.T) {
	ta, err := trend.Analyze("interview_score", points(60, 60, 60, 60), 30)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendStable, ta.Direction)
	assert.Equal(t, domain.SignificanceNoise, ta.Significance)
	assert.Zero(t, ta.ChangePercentage)
}

func TestAnalyzeDivisionByZeroGuard(t *testing.T) {
	ta, err := trend.Analyze("interview_score", points(0, 40, 80), 30)
	require.NoError(t, err)
	// First value is zero; change percentage stays defined.
	assert.Zero(t, ta.ChangePercentage)
	assert.Equal(t, domain.TrendImproving, ta.Direction)
}

func TestAnalyzeNoisySeriesMarginalOrbelow(t *testing.T) {
	ta, err := trend.Analyze("interview_score", points(60, 85, 55, 90, 58), 30)
	require.NoError(t, err)
	assert.NotEqual(t, domain.SignificanceSignificant, ta.Significance)
}

func TestAnalyzeTooFewPoints(t *testing.T) {
	_, err := trend.Analyze("interview_score", points(42), 30)
	assert.ErrorIs(t, err, trend.ErrInsufficientData)

	_, err = trend.Analyze("interview_score", nil, 30)
	assert.ErrorIs(t, err, trend.ErrInsufficientData)
}

func TestAnalyzeTwoPointsAllowed(t *testing.T) {
	ta, err := trend.Analyze("interview_score", points(40, 60), 30)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendImproving, ta.Direction)
	assert.InDelta(t, 50, ta.ChangePercentage, 0.001)
}

package scoring

import (
	"math"

	"github.com/careflock/careflock-go/internal/errors"
)

// minAnomalyWeeks is the minimum history needed before anomaly detection runs:
// the latest week plus enough trailing weeks for a meaningful baseline.
const minAnomalyWeeks = 5

// Anomaly describes how the latest period compares against its trailing baseline.
type Anomaly struct {
	Latest      float64
	Mean        float64
	StdDev      float64
	ZScore      float64
	PercentDrop float64 // positive when the latest period fell below the mean
	IsAnomaly   bool
}

// DetectAnomaly compares the last value against the mean and standard
// deviation of the preceding values. A drop of more than two standard
// deviations marks an anomaly. Rises are never anomalous here; the engine
// only alerts on decline.
func DetectAnomaly(values []float64) (Anomaly, error) {
	if len(values) < minAnomalyWeeks {
		return Anomaly{}, errors.Newf("need at least %d periods for anomaly detection, got %d", minAnomalyWeeks, len(values)).
			Component("scoring").
			Category(errors.CategoryValidation).
			Build()
	}

	baseline := values[:len(values)-1]
	latest := values[len(values)-1]

	var sum float64
	for _, v := range baseline {
		sum += v
	}
	mean := sum / float64(len(baseline))

	var sq float64
	for _, v := range baseline {
		d := v - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(baseline)))

	a := Anomaly{Latest: latest, Mean: mean, StdDev: stddev}
	if mean > 0 {
		a.PercentDrop = (mean - latest) / mean * 100
	}
	if stddev > 0 {
		a.ZScore = (latest - mean) / stddev
		a.IsAnomaly = a.ZScore < -2
	}
	return a, nil
}

// ForecastPoint is one projected period.
type ForecastPoint struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

// LinearForecast fits a least-squares line through the history and projects it
// periodsAhead periods forward. Projections are floored at zero; headcounts
// and giving totals cannot go negative.
func LinearForecast(history []float64, periodsAhead int) ([]ForecastPoint, float64, error) {
	if len(history) < 2 {
		return nil, 0, errors.Newf("need at least 2 periods to forecast, got %d", len(history)).
			Component("scoring").
			Category(errors.CategoryValidation).
			Build()
	}
	if periodsAhead <= 0 {
		periodsAhead = 4
	}

	n := float64(len(history))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range history {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return nil, 0, errors.Newf("degenerate history, cannot fit trend").
			Component("scoring").
			Category(errors.CategoryValidation).
			Build()
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	points := make([]ForecastPoint, 0, periodsAhead)
	for p := 1; p <= periodsAhead; p++ {
		x := n - 1 + float64(p)
		points = append(points, ForecastPoint{
			Period: p,
			Value:  math.Max(0, intercept+slope*x),
		})
	}
	return points, slope, nil
}

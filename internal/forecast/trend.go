package forecast

import "math"

// TrendAnalysisResult summarizes a daily cost series.
type TrendAnalysisResult struct {
	// BaselineCost is the mean daily cost.
	BaselineCost float64 `json:"baselineCost"`
	// TrendComponent is the least-squares slope in cost per day.
	TrendComponent float64 `json:"trendComponent"`
	// Intercept is the fitted cost at day 0.
	Intercept              float64 `json:"intercept"`
	StandardDeviation      float64 `json:"standardDeviation"`
	CoefficientOfVariation float64 `json:"coefficientOfVariation"`
	// DailyGrowthRate is the slope as a percentage of the baseline.
	DailyGrowthRate float64 `json:"dailyGrowthRate"`
	SampleCount     int     `json:"sampleCount"`
}

// TrendAnalysis fits an ordinary least-squares line over costs indexed as
// days 0..n-1 and computes the population standard deviation. An empty
// series yields the zero result.
func TrendAnalysis(costs []float64) TrendAnalysisResult {
	n := len(costs)
	if n == 0 {
		return TrendAnalysisResult{}
	}

	var sum float64
	for _, c := range costs {
		sum += c
	}
	mean := sum / float64(n)

	xMean := float64(n-1) / 2
	var ssXY, ssXX, ssYY float64
	for i, c := range costs {
		dx := float64(i) - xMean
		dy := c - mean
		ssXY += dx * dy
		ssXX += dx * dx
		ssYY += dy * dy
	}

	var slope float64
	if ssXX > 0 {
		slope = ssXY / ssXX
	}
	std := math.Sqrt(ssYY / float64(n))

	r := TrendAnalysisResult{
		BaselineCost:      mean,
		TrendComponent:    slope,
		Intercept:         mean - slope*xMean,
		StandardDeviation: std,
		SampleCount:       n,
	}
	if mean > 0 {
		r.CoefficientOfVariation = std / mean
		r.DailyGrowthRate = slope / mean * 100
	}
	return r
}

// ClassifyTrend labels a daily growth rate percentage.
func ClassifyTrend(dailyGrowthRate float64) string {
	switch {
	case dailyGrowthRate > stableGrowthBand:
		return TrendIncreasing
	case dailyGrowthRate < -stableGrowthBand:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

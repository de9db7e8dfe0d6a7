// Package forecast projects 30-day storage cost from a persisted estimate
// and a series of daily cost samples.
package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/model"
)

// Trend labels.
const (
	TrendIncreasing = "Increasing"
	TrendDecreasing = "Decreasing"
	TrendStable     = "Stable"
	TrendUnknown    = "Unknown"
)

const (
	forecastDays     = 30
	midpointDays     = 15
	stableGrowthBand = 0.5

	baseConfidence            = 75
	minForecastConfidence     = 10
	maxForecastConfidence     = 95
	highVolatilityCV          = 0.5
	moderateVolatilityCV      = 0.3
	highVolatilityPenalty     = 25
	moderateVolatilityPenalty = 15
	perChangePenalty          = 5
	maxPenalizedChanges       = 3
	stabilityBonus            = 10

	rapidGrowthRate    = 5.0
	snapshotCountLimit = 50
	utilizationLimit   = 80.0
	lowConfidence      = 50
	backupShareLimit   = 0.20
	egressShareLimit   = 0.30
	recheckAfterDays   = 7
)

// DailyCost is one sample of a daily cost series.
type DailyCost struct {
	Date time.Time `json:"date"`
	Cost float64   `json:"cost"`
}

// Input is everything a forecast consumes.
type Input struct {
	Analysis      model.VolumeCostEstimate
	DailyCosts    []DailyCost
	RecentChanges []string

	SnapshotCount   int
	SnapshotSizeGiB float64
	ProvisionedGiB  float64
	UsedGiB         float64
}

// CostForecastResult is a 30-day cost projection.
type CostForecastResult struct {
	ResourceID string `json:"resourceId"`

	HistoricalPeriodStart time.Time `json:"historicalPeriodStart"`
	HistoricalPeriodEnd   time.Time `json:"historicalPeriodEnd"`
	ForecastPeriodStart   time.Time `json:"forecastPeriodStart"`
	ForecastPeriodEnd     time.Time `json:"forecastPeriodEnd"`

	HistoricalTotalCost float64 `json:"historicalTotalCost"`

	BaselineComponent      float64 `json:"baselineComponent"`
	TrendComponent         float64 `json:"trendComponent"`
	VarianceComponent      float64 `json:"varianceComponent"`
	StandardDeviation      float64 `json:"standardDeviation"`
	CoefficientOfVariation float64 `json:"coefficientOfVariation"`
	DailyGrowthRate        float64 `json:"dailyGrowthRate"`
	Trend                  string  `json:"trend"`

	ChangeMultiplier float64 `json:"changeMultiplier"`
	DailyForecast    float64 `json:"dailyForecast"`
	ForecastLow      float64 `json:"forecastLow"`
	ForecastMid      float64 `json:"forecastMid"`
	ForecastHigh     float64 `json:"forecastHigh"`
	PercentageChange float64 `json:"percentageChange"`
	ConfidenceLevel  int     `json:"confidenceLevel"`

	DetectedChanges []string `json:"detectedChanges"`
	RiskFactors     []string `json:"riskFactors"`
	Recommendations []string `json:"recommendations"`
}

// Engine produces forecasts. It holds no state between calls.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Forecast projects the next 30 days of cost. It never fails: without samples
// it returns the historical total with trend Unknown and minimum confidence.
func (e *Engine) Forecast(in Input) CostForecastResult {
	historical := in.Analysis.TotalEstimatedCost
	r := CostForecastResult{
		ResourceID:          in.Analysis.ResourceID,
		HistoricalTotalCost: historical,
		ChangeMultiplier:    1,
		DetectedChanges:     DetectChanges(in.RecentChanges),
		RiskFactors:         []string{},
		Recommendations:     []string{},
	}
	r.setPeriods(in)

	if len(in.DailyCosts) == 0 {
		r.Trend = TrendUnknown
		r.ForecastLow, r.ForecastMid, r.ForecastHigh = historical, historical, historical
		r.DailyForecast = historical / forecastDays
		r.ConfidenceLevel = minForecastConfidence
		r.assess(in)
		e.log(r, 0)
		return r
	}

	costs := make([]float64, len(in.DailyCosts))
	for i, d := range in.DailyCosts {
		costs[i] = d.Cost
	}
	t := TrendAnalysis(costs)

	r.BaselineComponent = t.BaselineCost
	r.TrendComponent = t.TrendComponent
	r.VarianceComponent = t.StandardDeviation * t.StandardDeviation
	r.StandardDeviation = t.StandardDeviation
	r.CoefficientOfVariation = t.CoefficientOfVariation
	r.DailyGrowthRate = t.DailyGrowthRate
	r.Trend = ClassifyTrend(t.DailyGrowthRate)

	r.ChangeMultiplier = ChangeMultiplier(r.DetectedChanges)
	daily := math.Max((t.BaselineCost+t.TrendComponent*midpointDays)*r.ChangeMultiplier, 0)
	r.DailyForecast = daily
	r.ForecastLow = math.Max(daily-t.StandardDeviation, 0) * forecastDays
	r.ForecastMid = daily * forecastDays
	r.ForecastHigh = (daily + t.StandardDeviation) * forecastDays
	if historical > 0 {
		r.PercentageChange = (r.ForecastMid - historical) / historical * 100
	}
	r.ConfidenceLevel = confidence(t, len(r.DetectedChanges))
	r.assess(in)
	e.log(r, t.SampleCount)
	return r
}

func (r *CostForecastResult) setPeriods(in Input) {
	var first, last time.Time
	for _, d := range in.DailyCosts {
		if d.Date.IsZero() {
			continue
		}
		if first.IsZero() || d.Date.Before(first) {
			first = d.Date
		}
		if d.Date.After(last) {
			last = d.Date
		}
	}
	if last.IsZero() {
		last = in.Analysis.CalculatedAt
		first = last.AddDate(0, 0, -(len(in.DailyCosts) - 1))
		if len(in.DailyCosts) == 0 {
			first = last
		}
	}
	r.HistoricalPeriodStart = first
	r.HistoricalPeriodEnd = last
	r.ForecastPeriodStart = last.AddDate(0, 0, 1)
	r.ForecastPeriodEnd = last.AddDate(0, 0, forecastDays)
}

func confidence(t TrendAnalysisResult, changes int) int {
	c := baseConfidence
	switch {
	case t.CoefficientOfVariation > highVolatilityCV:
		c -= highVolatilityPenalty
	case t.CoefficientOfVariation > moderateVolatilityCV:
		c -= moderateVolatilityPenalty
	}
	c -= perChangePenalty * min(changes, maxPenalizedChanges)
	if math.Abs(t.DailyGrowthRate) < stableGrowthBand {
		c += stabilityBonus
	}
	return max(minForecastConfidence, min(c, maxForecastConfidence))
}

// assess appends risk factors and the recommendations they imply.
func (r *CostForecastResult) assess(in Input) {
	if r.DailyGrowthRate > rapidGrowthRate {
		r.risk("rapid cost growth of %.1f%% per day", r.DailyGrowthRate)
		r.recommend("Investigate the source of rapid cost growth")
		r.recommend("Apply a data retention or lifecycle policy to limit growth")
	}
	if r.CoefficientOfVariation > highVolatilityCV {
		r.risk("high cost volatility (coefficient of variation %.2f)", r.CoefficientOfVariation)
	}
	if in.SnapshotCount > snapshotCountLimit {
		r.risk("%d snapshots retained using %.1f GiB", in.SnapshotCount, in.SnapshotSizeGiB)
		r.recommend("Review snapshot retention; %d snapshots exceed the %d snapshot guideline", in.SnapshotCount, snapshotCountLimit)
	}
	if in.ProvisionedGiB > 0 {
		if util := in.UsedGiB / in.ProvisionedGiB * 100; util > utilizationLimit {
			r.risk("capacity utilization at %.0f%%", util)
			r.recommend("Plan a capacity increase before the volume fills")
		}
	}
	if r.ConfidenceLevel < lowConfidence {
		r.risk("low forecast confidence (%d%%)", r.ConfidenceLevel)
		r.recommend("Re-check this forecast after %d more days of cost data", recheckAfterDays)
	}

	total := in.Analysis.TotalEstimatedCost
	if total > 0 {
		if share := in.Analysis.ComponentCost(model.ComponentSnapshot) / total; share > backupShareLimit {
			r.recommend("Backup and snapshot storage is %.0f%% of cost; verify the retention is necessary", share*100)
		}
		if share := in.Analysis.ComponentCost(model.ComponentEgress) / total; share > egressShareLimit {
			r.recommend("Egress is %.0f%% of cost; keep data transfer within the region where possible", share*100)
		}
	}
}

func (r *CostForecastResult) risk(format string, args ...any) {
	r.RiskFactors = append(r.RiskFactors, fmt.Sprintf(format, args...))
}

func (r *CostForecastResult) recommend(format string, args ...any) {
	r.Recommendations = append(r.Recommendations, fmt.Sprintf(format, args...))
}

func (e *Engine) log(r CostForecastResult, samples int) {
	e.logger.Debug().
		Str(logging.FieldResourceID, r.ResourceID).
		Int("samples", samples).
		Str("trend", r.Trend).
		Float64("forecast_mid", r.ForecastMid).
		Int(logging.FieldConfidence, r.ConfidenceLevel).
		Msg("cost forecast computed")
}

package estimate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
)

// builder accumulates the components and caveats of one estimate.
type builder struct {
	est       model.VolumeCostEstimate
	deduction int
}

func newBuilder(info VolumeInfo, method string, now time.Time) *builder {
	b := &builder{est: model.VolumeCostEstimate{
		EstimateID:       uuid.NewString(),
		ResourceID:       info.ResourceID,
		ResourceName:     info.Name,
		ResourceType:     info.ResourceType,
		Region:           info.Region,
		Components:       []model.CostComponentEstimate{},
		Currency:         defaultCurrency,
		Warnings:         append([]string{}, info.Warnings...),
		Notes:            append([]string{}, info.Notes...),
		EstimationMethod: method,
		CalculatedAt:     now.UTC(),
	}}
	if b.est.ResourceType == "" {
		b.est.ResourceType = info.Family.String()
	}
	return b
}

func (b *builder) warn(format string, args ...any) {
	b.est.Warnings = append(b.est.Warnings, fmt.Sprintf(format, args...))
}

func (b *builder) note(format string, args ...any) {
	b.est.Notes = append(b.est.Notes, fmt.Sprintf(format, args...))
}

func (b *builder) deduct(points int) {
	b.deduction += points
}

func (b *builder) method(m string) {
	b.est.EstimationMethod = m
}

// add appends a component priced from item. unitPrice must already be per
// billed unit per month.
func (b *builder) add(componentType, description string, quantity float64, unit string, unitPrice float64, source string, item pricing.PriceItem) {
	if item.CurrencyCode != "" {
		b.est.Currency = item.CurrencyCode
	}
	cost, _ := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(unitPrice)).Float64()
	b.est.Components = append(b.est.Components, model.CostComponentEstimate{
		ComponentType: componentType,
		Description:   description,
		Quantity:      quantity,
		Unit:          unit,
		UnitPrice:     unitPrice,
		EstimatedCost: cost,
		DataSource:    source,
		MeterName:     item.MeterName,
	})
}

// build totals the components and scores confidence.
func (b *builder) build() model.VolumeCostEstimate {
	total := decimal.Zero
	for _, c := range b.est.Components {
		total = total.Add(decimal.NewFromFloat(c.EstimatedCost))
	}
	b.est.TotalEstimatedCost, _ = total.Float64()

	if len(b.est.Components) == 0 {
		b.est.TotalEstimatedCost = 0
		b.est.ConfidenceLevel = model.MinConfidence
		return b.est
	}
	b.est.ConfidenceLevel = clampConfidence(model.MaxConfidence - b.deduction - confidencePerWarning*len(b.est.Warnings))
	return b.est
}

func clampConfidence(c int) int {
	if c < model.MinConfidence {
		return model.MinConfidence
	}
	if c > model.MaxConfidence {
		return model.MaxConfidence
	}
	return c
}

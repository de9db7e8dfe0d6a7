package pricing

import (
	"strings"
)

// HoursPerMonth converts hourly catalog rates into monthly ones.
const HoursPerMonth = 730.0

// Category is the coarse classification of a price record.
type Category string

const (
	CategoryStorage     Category = "storage"
	CategoryTransaction Category = "transaction"
	CategoryEgress      Category = "egress"
	CategorySnapshot    Category = "snapshot"
	CategoryOther       Category = "other"
)

// retailPage is one page of the retail prices API response.
type retailPage struct {
	BillingCurrency string       `json:"BillingCurrency"`
	Items           []retailItem `json:"Items"`
	NextPageLink    string       `json:"NextPageLink"`
	Count           int          `json:"Count"`
}

// retailItem is a raw price record as returned by the catalog.
type retailItem struct {
	CurrencyCode       string  `json:"currencyCode"`
	TierMinimumUnits   float64 `json:"tierMinimumUnits"`
	RetailPrice        float64 `json:"retailPrice"`
	UnitPrice          float64 `json:"unitPrice"`
	ArmRegionName      string  `json:"armRegionName"`
	Location           string  `json:"location"`
	EffectiveStartDate string  `json:"effectiveStartDate"`
	MeterID            string  `json:"meterId"`
	MeterName          string  `json:"meterName"`
	ProductID          string  `json:"productId"`
	SkuID              string  `json:"skuId"`
	ProductName        string  `json:"productName"`
	SkuName            string  `json:"skuName"`
	ServiceName        string  `json:"serviceName"`
	ServiceID          string  `json:"serviceId"`
	ServiceFamily      string  `json:"serviceFamily"`
	UnitOfMeasure      string  `json:"unitOfMeasure"`
	Type               string  `json:"type"`
}

// PriceItem is a normalized catalog price record. Values are never mutated
// after the client returns them.
type PriceItem struct {
	MeterID          string
	MeterName        string
	UnitOfMeasure    string
	UnitPrice        float64
	TierMinimumUnits float64
	CurrencyCode     string
	Region           string
	ProductID        string
	ProductName      string
	SkuID            string
	SkuName          string
	ServiceName      string
	ServiceID        string
	Type             string

	IsStorageCapacity bool
	IsTransaction     bool
	IsDataTransfer    bool
	IsSnapshot        bool
}

func (r retailItem) toPriceItem() PriceItem {
	return PriceItem{
		MeterID:          r.MeterID,
		MeterName:        r.MeterName,
		UnitOfMeasure:    r.UnitOfMeasure,
		UnitPrice:        r.UnitPrice,
		TierMinimumUnits: r.TierMinimumUnits,
		CurrencyCode:     r.CurrencyCode,
		Region:           r.ArmRegionName,
		ProductID:        r.ProductID,
		ProductName:      r.ProductName,
		SkuID:            r.SkuID,
		SkuName:          r.SkuName,
		ServiceName:      r.ServiceName,
		ServiceID:        r.ServiceID,
		Type:             r.Type,
	}
}

// classify sets the classification flags from substrings of the meter name.
func classify(p PriceItem) PriceItem {
	m := strings.ToLower(p.MeterName)
	p.IsSnapshot = strings.Contains(m, "snapshot")
	p.IsStorageCapacity = !p.IsSnapshot && (strings.Contains(m, "capacity") ||
		strings.Contains(m, "data stored") ||
		strings.Contains(m, "provisioned") ||
		strings.Contains(m, "disk") && !strings.Contains(m, "operations"))
	p.IsTransaction = strings.Contains(m, "operations") ||
		strings.Contains(m, "transaction") ||
		strings.Contains(m, "write") ||
		strings.Contains(m, "read")
	p.IsDataTransfer = strings.Contains(m, "data transfer") ||
		strings.Contains(m, "egress") ||
		strings.Contains(m, "retrieval")
	return p
}

// Category returns the dominant classification of the record.
func (p PriceItem) Category() Category {
	switch {
	case p.IsSnapshot:
		return CategorySnapshot
	case p.IsStorageCapacity:
		return CategoryStorage
	case p.IsTransaction:
		return CategoryTransaction
	case p.IsDataTransfer:
		return CategoryEgress
	default:
		return CategoryOther
	}
}

// IsHourly reports whether the unit of measure is a per-hour rate.
func (p PriceItem) IsHourly() bool {
	return strings.Contains(strings.ToLower(p.UnitOfMeasure), "hour")
}

// MonthlyUnitPrice returns the unit price scaled to one month.
func (p PriceItem) MonthlyUnitPrice() float64 {
	if p.IsHourly() {
		return p.UnitPrice * HoursPerMonth
	}
	return p.UnitPrice
}

// UnitDivisor returns the batch size encoded in the unit of measure, for
// example 10000 for "10K" or "10,000" and 1 when no batch is present.
func (p PriceItem) UnitDivisor() float64 {
	u := strings.ToUpper(strings.ReplaceAll(p.UnitOfMeasure, ",", ""))
	switch {
	case strings.HasPrefix(u, "1000000"), strings.HasPrefix(u, "1M"):
		return 1000000
	case strings.HasPrefix(u, "10000"), strings.HasPrefix(u, "10K"):
		return 10000
	case strings.HasPrefix(u, "100 "):
		return 100
	default:
		return 1
	}
}

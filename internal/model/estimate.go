package model

import "time"

// Cost component types.
const (
	ComponentStorage     = "storage"
	ComponentCoolStorage = "cool-storage"
	ComponentTiering     = "tiering"
	ComponentRetrieval   = "retrieval"
	ComponentTransaction = "transaction"
	ComponentEgress      = "egress"
	ComponentSnapshot    = "snapshot"
	ComponentIOPS        = "iops"
	ComponentThroughput  = "throughput"
)

// Data source tags recorded on each component.
const (
	DataSourceCatalog       = "catalog"
	DataSourceMetrics       = "metrics"
	DataSourceAssumption    = "assumption"
	DataSourceConfiguration = "configuration"
)

// Confidence bounds for VolumeCostEstimate.
const (
	MinConfidence = 10
	MaxConfidence = 100
)

// CostComponentEstimate is a single billed line of an estimate.
// EstimatedCost always equals Quantity × UnitPrice.
type CostComponentEstimate struct {
	ComponentType string  `json:"componentType"`
	Description   string  `json:"description"`
	Quantity      float64 `json:"quantity"`
	Unit          string  `json:"unit"`
	UnitPrice     float64 `json:"unitPrice"`
	EstimatedCost float64 `json:"estimatedCost"`
	DataSource    string  `json:"dataSource"`
	MeterName     string  `json:"meterName,omitempty"`
}

// VolumeCostEstimate is the monthly cost estimate for one resource.
type VolumeCostEstimate struct {
	EstimateID         string                  `json:"estimateId"`
	ResourceID         string                  `json:"resourceId"`
	ResourceName       string                  `json:"resourceName"`
	ResourceType       string                  `json:"resourceType"`
	Region             string                  `json:"region"`
	Components         []CostComponentEstimate `json:"components"`
	TotalEstimatedCost float64                 `json:"totalEstimatedCost"`
	Currency           string                  `json:"currency"`
	ConfidenceLevel    int                     `json:"confidenceLevel"`
	Warnings           []string                `json:"warnings"`
	Notes              []string                `json:"notes"`
	EstimationMethod   string                  `json:"estimationMethod"`
	CalculatedAt       time.Time               `json:"calculatedAt"`
}

// ComponentCost returns the summed cost of all components of the given type.
func (e *VolumeCostEstimate) ComponentCost(componentType string) float64 {
	var total float64
	for _, c := range e.Components {
		if c.ComponentType == componentType {
			total += c.EstimatedCost
		}
	}
	return total
}

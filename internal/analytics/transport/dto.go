package transport

import "github.com/google/uuid"

// StageAnalyticsRow is the funnel snapshot for one stage.
type StageAnalyticsRow struct {
	StageID        uuid.UUID `json:"stageId"`
	StageName      string    `json:"stageName"`
	DealCount      int       `json:"dealCount"`
	TotalValue     int64     `json:"totalValue"`
	AvgValue       float64   `json:"avgValue"`
	AvgDaysInStage float64   `json:"avgDaysInStage"`
	ConversionRate float64   `json:"conversionRate"`
}

// StageAnalyticsResponse wraps the per-stage analytics in pipeline order.
type StageAnalyticsResponse struct {
	PipelineID uuid.UUID           `json:"pipelineId"`
	Items      []StageAnalyticsRow `json:"items"`
}

// StuckDealRow is one open deal exceeding the dwell threshold.
type StuckDealRow struct {
	DealID      uuid.UUID `json:"dealId"`
	Title       string    `json:"title"`
	StageID     uuid.UUID `json:"stageId"`
	StageName   string    `json:"stageName"`
	OwnerID     uuid.UUID `json:"ownerId"`
	ValueCents  int64     `json:"valueCents"`
	Currency    string    `json:"currency"`
	DaysInStage int       `json:"daysInStage"`
}

// StuckDealsResponse wraps the stuck-deal listing.
type StuckDealsResponse struct {
	PipelineID    uuid.UUID      `json:"pipelineId"`
	ThresholdDays int            `json:"thresholdDays"`
	Items         []StuckDealRow `json:"items"`
	Total         int            `json:"total"`
}

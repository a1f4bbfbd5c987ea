package usecase

import (
	"context"
	"errors"
)

// ErrHistoryDisabled is returned when no analysis history is configured.
var ErrHistoryDisabled = errors.New("analysis history is disabled")

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	AverageConfidence  float64 `json:"average_confidence"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates analysis metrics from persisted logs.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.history == nil {
		return nil, ErrHistoryDisabled
	}

	aggregation, err := uc.history.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:      aggregation.TotalCount,
		SuccessfulRequests: aggregation.SuccessCount,
		AverageConfidence:  aggregation.AverageConfidence,
		AverageLatencyMs:   aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

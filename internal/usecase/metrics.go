package usecase

import (
	"context"
	"errors"

	"github.com/example/scoreslip/internal/logging"
	"github.com/example/scoreslip/internal/repository"
)

// MetricsSummary represents aggregated backend call insights.
type MetricsSummary struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	SuccessRate        float64          `json:"success_rate"`
	AverageLatencyMs   float64          `json:"average_latency_ms"`
	ByOutcome          map[string]int64 `json:"by_outcome"`
	ByOperation        map[string]int64 `json:"by_operation"`
}

// GetMetricsSummary aggregates the request journal.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.journal == nil {
		return nil, logging.NewOperationError("usecase.metrics_summary", "", errors.New("request journal not configured"))
	}
	aggregation, err := uc.journal.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:      aggregation.TotalCount,
		SuccessfulRequests: aggregation.SuccessCount,
		AverageLatencyMs:   aggregation.AverageLatencyMs,
		ByOutcome:          aggregation.ByOutcome,
		ByOperation:        aggregation.ByOperation,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

// SessionJournal lists the session's most recent backend calls.
func (uc *AnalysisUseCase) SessionJournal(ctx context.Context, session string, limit int) ([]*repository.RequestLog, error) {
	if uc.journal == nil {
		return nil, logging.NewOperationError("usecase.session_journal", "", errors.New("request journal not configured"))
	}
	logs, err := uc.journal.FindBySession(ctx, session, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*repository.RequestLog{}
	}
	return logs, nil
}

package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/logging"
	"github.com/example/scoreslip/internal/repository"
)

// Journal persists the diagnostic record of backend calls.
type Journal interface {
	SaveLog(ctx context.Context, log *repository.RequestLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	FindBySession(ctx context.Context, sessionID string, limit int) ([]*repository.RequestLog, error)
}

type journalEntry struct {
	operation string
	requestID string
	session   string
	route     string
	started   time.Time
	details   string
}

// record writes one journal row. Journal failures are logged, never
// returned: the caller's outcome does not depend on them.
func record(ctx context.Context, journal Journal, logger *zap.Logger, entry journalEntry, callErr error) {
	if journal == nil {
		return
	}
	row := &repository.RequestLog{
		RequestID: entry.requestID,
		SessionID: entry.session,
		Operation: entry.operation,
		Route:     entry.route,
		Outcome:   string(apperr.KindOf(callErr)),
		LatencyMs: time.Since(entry.started).Milliseconds(),
		Details:   entry.details,
		CreatedAt: time.Now().UTC(),
	}
	var transport *apperr.TransportError
	if errors.As(callErr, &transport) {
		row.StatusCode = transport.StatusCode
	}
	if callErr != nil && row.Details == "" {
		row.Details = callErr.Error()
	}

	if err := journal.SaveLog(context.WithoutCancel(ctx), row); err != nil {
		logging.WithOperation(logger, "journal.save", entry.requestID).Warn("failed to journal backend call",
			zap.String("journaled_operation", entry.operation),
			zap.Error(err),
		)
	}
}

// calledBackend reports whether err can only have come after a network
// call was attempted.
func calledBackend(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict:
		return false
	default:
		return true
	}
}

package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/scoreslip/internal/logging"
)

// RequestLog is one journaled backend call.
type RequestLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  string    `gorm:"column:request_id;index;size:64" json:"request_id"`
	SessionID  string    `gorm:"column:session_id;index;size:64" json:"session_id"`
	Operation  string    `gorm:"column:operation;size:64" json:"operation"`
	Route      string    `gorm:"column:route;size:32" json:"route,omitempty"`
	Outcome    string    `gorm:"column:outcome;size:32" json:"outcome"`
	StatusCode int       `gorm:"column:status_code" json:"status_code,omitempty"`
	LatencyMs  int64     `gorm:"column:latency_ms" json:"latency_ms"`
	Details    string    `gorm:"column:details;type:text" json:"details,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at;index" json:"created_at"`
}

// TableName overrides the default table name.
func (RequestLog) TableName() string {
	return "request_logs"
}

// OutcomeOK is the outcome recorded for a successful call.
const OutcomeOK = "ok"

// MetricsAggregation summarizes the journal.
type MetricsAggregation struct {
	TotalCount       int64
	SuccessCount     int64
	AverageLatencyMs float64
	ByOutcome        map[string]int64
	ByOperation      map[string]int64
}

// JournalRepository persists the request journal.
type JournalRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewJournalRepository creates a new repository instance.
func NewJournalRepository(db *gorm.DB, logger *zap.Logger) *JournalRepository {
	return &JournalRepository{
		db:             db,
		logger:         logger.Named("journal_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *JournalRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&RequestLog{})
	})
}

// SaveLog persists a journal entry.
func (r *JournalRepository) SaveLog(ctx context.Context, log *RequestLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindBySession returns the session's most recent entries, newest first.
func (r *JournalRepository) FindBySession(ctx context.Context, sessionID string, limit int) ([]*RequestLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []*RequestLog
	err := r.executeWithRetry(ctx, "repository.find_by_session", "", func() error {
		return r.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals, success count and mean latency, plus
// per-outcome and per-operation counts.
func (r *JournalRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var totals struct {
		TotalCount       int64
		SuccessCount     int64
		AverageLatencyMs float64
	}
	var byOutcome []struct {
		Outcome string
		Count   int64
	}
	var byOperation []struct {
		Operation string
		Count     int64
	}

	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		db := r.db.WithContext(ctx).Model(&RequestLog{})
		if err := db.Select(
			"COUNT(*) AS total_count, "+
				"COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS success_count, "+
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms", OutcomeOK,
		).Scan(&totals).Error; err != nil {
			return err
		}
		if err := r.db.WithContext(ctx).Model(&RequestLog{}).
			Select("outcome, COUNT(*) AS count").
			Group("outcome").
			Scan(&byOutcome).Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).Model(&RequestLog{}).
			Select("operation, COUNT(*) AS count").
			Group("operation").
			Scan(&byOperation).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:       totals.TotalCount,
		SuccessCount:     totals.SuccessCount,
		AverageLatencyMs: totals.AverageLatencyMs,
		ByOutcome:        make(map[string]int64, len(byOutcome)),
		ByOperation:      make(map[string]int64, len(byOperation)),
	}
	for _, row := range byOutcome {
		agg.ByOutcome[row.Outcome] = row.Count
	}
	for _, row := range byOperation {
		agg.ByOperation[row.Operation] = row.Count
	}
	return agg, nil
}

func (r *JournalRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scoreslip/internal/analysis"
	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/backend"
	"github.com/example/scoreslip/internal/learning"
	"github.com/example/scoreslip/internal/logging"
	"github.com/example/scoreslip/internal/route"
)

// DefaultResultTTL bounds how long a session's last result stays readable.
const DefaultResultTTL = 30 * time.Minute

// ErrNoResult means the session has no stored result.
var ErrNoResult = errors.New("no stored result")

// AnalysisBackend is the slice of the backend client the analysis flow uses.
type AnalysisBackend interface {
	Timeout(class backend.TimeoutClass) time.Duration
	Analyze(ctx context.Context, img backend.Image, opts backend.RequestOptions, class backend.TimeoutClass) (*analysis.RawAnalysis, error)
	AnalyzeUnified(ctx context.Context, img backend.Image) (*analysis.UnifiedRaw, error)
}

// Learner submits feedback pairs.
type Learner interface {
	Submit(ctx context.Context, session, predicted, real, homeTeam, awayTeam string) (*learning.Outcome, error)
}

// AnalysisUseCase runs analyses and feedback for browser sessions. A
// session has at most one analysis in flight and keeps only its latest
// rendered result.
type AnalysisUseCase struct {
	backend   AnalysisBackend
	learner   Learner
	journal   Journal
	logger    *zap.Logger
	redis     redisRetry
	resultTTL time.Duration
}

// StoredResult is the session's latest rendered analysis. Exactly one of
// Analysis and Unified is set.
type StoredResult struct {
	RequestID string                `json:"requestId"`
	Route     string                `json:"route"`
	StoredAt  time.Time             `json:"storedAt"`
	Analysis  *analysis.View        `json:"analysis,omitempty"`
	Unified   *analysis.UnifiedView `json:"unified,omitempty"`
}

// NewAnalysisUseCase constructs a new use case instance. A zero resultTTL
// means DefaultResultTTL.
func NewAnalysisUseCase(b AnalysisBackend, learner Learner, cache Cache, journal Journal, resultTTL time.Duration, logger *zap.Logger) *AnalysisUseCase {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	named := logger.Named("analysis_usecase")
	return &AnalysisUseCase{
		backend:   b,
		learner:   learner,
		journal:   journal,
		logger:    named,
		redis:     newRedisRetry(cache, named),
		resultTTL: resultTTL,
	}
}

func inFlightKey(session string) string { return fmt.Sprintf("inflight:analysis:%s", session) }
func resultKey(session string) string   { return fmt.Sprintf("result:%s", session) }

// Analyze sends img through rt's analysis profile and stores the rendered
// view as the session's latest result.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, session string, rt route.Route, img backend.Image, opts backend.RequestOptions) (*StoredResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.analyze", requestID), session)

	opts, err := rt.Apply(opts)
	if err != nil {
		return nil, logging.NewOperationError("usecase.analyze", requestID, err)
	}
	if len(img.Data) == 0 {
		return nil, logging.NewOperationError("usecase.analyze", requestID, apperr.NewValidationError("file", "Veuillez sélectionner une image"))
	}
	profile := rt.Profile()

	release, err := uc.acquire(ctx, requestID, session, uc.backend.Timeout(profile.Timeout))
	if err != nil {
		return nil, err
	}
	defer release()

	entry := journalEntry{operation: "analyze", requestID: requestID, session: session, route: rt.String(), started: time.Now()}
	raw, err := uc.backend.Analyze(ctx, img, opts, profile.Timeout)
	record(ctx, uc.journal, uc.logger, entry, err)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.analyze", requestID, err)
		opLogger.Warn("analysis failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
		return nil, wrapped
	}

	if raw.CacheDisabled == nil {
		disabled := opts.DisableCache
		raw.CacheDisabled = &disabled
	}
	view := analysis.BuildView(analysis.Normalize(*raw), opts.ManualMatchName, profile.TopN)

	stored := &StoredResult{
		RequestID: requestID,
		Route:     rt.String(),
		StoredAt:  time.Now().UTC(),
		Analysis:  &view,
	}
	uc.store(ctx, requestID, session, stored)
	mostProbable := ""
	if view.MostProbable != nil {
		mostProbable = view.MostProbable.Score
	}
	opLogger.Info("analysis completed",
		zap.String("route", rt.String()),
		zap.String("most_probable", mostProbable),
		zap.String("provenance", string(view.Provenance)),
	)
	return stored, nil
}

// AnalyzeUnified runs the coefficient-enriched pipeline, which persists its
// prediction on the backend.
func (uc *AnalysisUseCase) AnalyzeUnified(ctx context.Context, session string, img backend.Image, manualMatchName string) (*StoredResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithSession(logging.WithOperation(uc.logger, "usecase.analyze_unified", requestID), session)

	if len(img.Data) == 0 {
		return nil, logging.NewOperationError("usecase.analyze_unified", requestID, apperr.NewValidationError("file", "Veuillez sélectionner une image"))
	}

	release, err := uc.acquire(ctx, requestID, session, uc.backend.Timeout(backend.Extended))
	if err != nil {
		return nil, err
	}
	defer release()

	entry := journalEntry{operation: "analyze_unified", requestID: requestID, session: session, started: time.Now()}
	raw, err := uc.backend.AnalyzeUnified(ctx, img)
	record(ctx, uc.journal, uc.logger, entry, err)
	if err != nil {
		opLogger.Warn("unified analysis failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
		return nil, logging.NewOperationError("usecase.analyze_unified", requestID, err)
	}

	view := analysis.BuildUnifiedView(*raw, manualMatchName)
	stored := &StoredResult{
		RequestID: requestID,
		Route:     "unified",
		StoredAt:  time.Now().UTC(),
		Unified:   &view,
	}
	uc.store(ctx, requestID, session, stored)
	opLogger.Info("unified analysis completed", zap.Bool("saved_to_cache", view.SavedToCache))
	return stored, nil
}

// LatestResult returns the session's last stored result or ErrNoResult.
func (uc *AnalysisUseCase) LatestResult(ctx context.Context, session string) (*StoredResult, error) {
	cached, err := uc.redis.withRedisGet(ctx, "", "cache.get.result", resultKey(session))
	if err != nil {
		if isMiss(err) {
			return nil, ErrNoResult
		}
		return nil, err
	}
	var stored StoredResult
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		logging.WithOperation(uc.logger, "usecase.latest_result", "").Warn("failed to decode cached result", zap.Error(err))
		return nil, ErrNoResult
	}
	return &stored, nil
}

// Learn forwards a feedback pair for session.
func (uc *AnalysisUseCase) Learn(ctx context.Context, session, predicted, real, homeTeam, awayTeam string) (*learning.Outcome, error) {
	entry := journalEntry{operation: "learn", requestID: uuid.NewString(), session: session, started: time.Now()}
	outcome, err := uc.learner.Submit(ctx, session, predicted, real, homeTeam, awayTeam)
	if calledBackend(err) {
		if outcome != nil {
			entry.details = string(outcome.State)
		}
		record(ctx, uc.journal, uc.logger, entry, err)
	}
	return outcome, err
}

// acquire takes the session's in-flight guard. The guard expires on its
// own after ttl so a crashed request cannot block the session. Release
// only removes the guard while it still holds requestID.
func (uc *AnalysisUseCase) acquire(ctx context.Context, requestID, session string, ttl time.Duration) (func(), error) {
	key := inFlightKey(session)
	var acquired bool
	err := uc.redis.withRedisRetry(ctx, requestID, "cache.setnx.inflight", func() error {
		ok, err := uc.redis.cache.SetNX(ctx, key, requestID, ttl+5*time.Second)
		acquired = ok
		return err
	})
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, logging.NewOperationError("usecase.acquire", requestID, fmt.Errorf("analysis for session %s: %w", session, apperr.ErrInFlight))
	}
	return func() {
		releaseCtx := context.WithoutCancel(ctx)
		var released bool
		if err := uc.redis.withRedisRetry(releaseCtx, requestID, "cache.del.inflight", func() error {
			ok, err := uc.redis.cache.DelIfValue(releaseCtx, key, requestID)
			released = ok
			return err
		}); err != nil {
			logging.WithOperation(uc.logger, "usecase.release", requestID).Warn("failed to release in-flight guard", zap.Error(err))
			return
		}
		if !released {
			logging.WithOperation(uc.logger, "usecase.release", requestID).Warn("in-flight guard expired before release")
		}
	}, nil
}

// store replaces the session's latest result. A failed write leaves the
// previous result in place and does not fail the analysis.
func (uc *AnalysisUseCase) store(ctx context.Context, requestID, session string, stored *StoredResult) {
	opLogger := logging.WithOperation(uc.logger, "usecase.store_result", requestID)
	serialized, err := json.Marshal(stored)
	if err != nil {
		opLogger.Error("failed to serialize result", zap.Error(err))
		return
	}
	if err := uc.redis.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.redis.cache.Set(ctx, resultKey(session), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache result", zap.Error(err))
	}
}

func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

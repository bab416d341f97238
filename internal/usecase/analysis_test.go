package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/scoreslip/internal/analysis"
	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/backend"
	"github.com/example/scoreslip/internal/learning"
	"github.com/example/scoreslip/internal/logging"
	"github.com/example/scoreslip/internal/repository"
	"github.com/example/scoreslip/internal/route"
)

type stubJournal struct {
	mu        sync.Mutex
	savedLogs []*repository.RequestLog
	saveErr   error
	agg       *repository.MetricsAggregation
	aggErr    error
}

func (s *stubJournal) SaveLog(ctx context.Context, log *repository.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedLogs = append(s.savedLogs, log)
	return s.saveErr
}

func (s *stubJournal) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return s.agg, s.aggErr
}

func (s *stubJournal) FindBySession(ctx context.Context, sessionID string, limit int) ([]*repository.RequestLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.RequestLog
	for i := len(s.savedLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.savedLogs[i].SessionID == sessionID {
			out = append(out, s.savedLogs[i])
		}
	}
	return out, nil
}

func (s *stubJournal) logs() []*repository.RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*repository.RequestLog(nil), s.savedLogs...)
}

// stubCache is an in-memory Cache. setErrs and getErrs are consumed one
// per call before the store is touched.
type stubCache struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	setErrs []error
	getErrs []error
	setKeys []string
	delKeys []string
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	s.values[key] = value.(string)
	s.ttls[key] = expiration
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return "", err
		}
	}
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *stubCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = value.(string)
	s.ttls[key] = expiration
	return true, nil
}

func (s *stubCache) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delKeys = append(s.delKeys, key)
	if current, ok := s.values[key]; !ok || current != value {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

// expire drops key as if its TTL had lapsed.
func (s *stubCache) expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *stubCache) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

type stubBackend struct {
	mu      sync.Mutex
	raw     *analysis.RawAnalysis
	unified *analysis.UnifiedRaw
	err     error
	opts    []backend.RequestOptions
	classes []backend.TimeoutClass
	entered chan struct{}
	block   chan struct{}
}

func (s *stubBackend) Timeout(class backend.TimeoutClass) time.Duration {
	if class == backend.Extended {
		return 120 * time.Second
	}
	return 60 * time.Second
}

func (s *stubBackend) Analyze(ctx context.Context, img backend.Image, opts backend.RequestOptions, class backend.TimeoutClass) (*analysis.RawAnalysis, error) {
	s.mu.Lock()
	s.opts = append(s.opts, opts)
	s.classes = append(s.classes, class)
	s.mu.Unlock()
	if s.entered != nil {
		close(s.entered)
	}
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	copied := *s.raw
	return &copied, nil
}

func (s *stubBackend) AnalyzeUnified(ctx context.Context, img backend.Image) (*analysis.UnifiedRaw, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.unified, nil
}

type stubLearner struct {
	outcome *learning.Outcome
	err     error
}

func (s *stubLearner) Submit(ctx context.Context, session, predicted, real, homeTeam, awayTeam string) (*learning.Outcome, error) {
	return s.outcome, s.err
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

var slip = backend.Image{Filename: "slip.png", ContentType: "image/png", Data: []byte("png")}

func floatPtr(v float64) *float64 { return &v }

func sampleRaw() *analysis.RawAnalysis {
	return &analysis.RawAnalysis{
		MatchName: "PSG - OM",
		Bookmaker: "Bookmaker inconnu",
		Probabilities: analysis.NewDistribution(
			analysis.ScoreProbability{Score: "1-1", Probability: 30},
			analysis.ScoreProbability{Score: "2-1", Probability: 30},
			analysis.ScoreProbability{Score: "0-0", Probability: 25},
			analysis.ScoreProbability{Score: "3-0", Probability: 15},
		),
		Confidence: floatPtr(0.72),
	}
}

func newTestUseCase(b AnalysisBackend, cache Cache, journal Journal) *AnalysisUseCase {
	uc := NewAnalysisUseCase(b, &stubLearner{}, cache, journal, 0, zap.NewNop())
	uc.redis.initialBackoff = time.Millisecond
	uc.redis.maxBackoff = 2 * time.Millisecond
	return uc
}

func TestAnalyzeStoresNormalizedView(t *testing.T) {
	cache := newStubCache()
	journal := &stubJournal{}
	b := &stubBackend{raw: sampleRaw()}
	uc := newTestUseCase(b, cache, journal)

	stored, err := uc.Analyze(context.Background(), "s1", route.Production, slip, backend.RequestOptions{DisableCache: true})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	view := stored.Analysis
	if view == nil || view.MostProbable == nil || view.MostProbable.Score != "1-1" {
		t.Fatalf("expected first-encountered tie winner, got %+v", view)
	}
	if view.MostProbable.Probability == nil || *view.MostProbable.Probability != 0.3 {
		t.Fatalf("expected fraction, got %v", view.MostProbable.Probability)
	}
	if len(view.Top3) != 3 || view.Top3[1].Score != "2-1" {
		t.Fatalf("unexpected top3 %+v", view.Top3)
	}
	if view.ConfidenceBand != analysis.BandHigh {
		t.Fatalf("expected high band, got %q", view.ConfidenceBand)
	}
	if view.Bookmaker != "" {
		t.Fatalf("expected bookmaker sentinel to be hidden, got %q", view.Bookmaker)
	}
	if b.opts[0].DisableCache {
		t.Fatal("production route must not forward the cache toggle")
	}
	if view.CacheDisabled {
		t.Fatal("cacheDisabled must reflect the forwarded options")
	}

	if !cache.has(resultKey("s1")) {
		t.Fatal("expected result to be stored")
	}
	if cache.ttls[resultKey("s1")] != DefaultResultTTL {
		t.Fatalf("unexpected ttl %s", cache.ttls[resultKey("s1")])
	}
	if cache.has(inFlightKey("s1")) {
		t.Fatal("expected in-flight guard to be released")
	}

	logs := journal.logs()
	if len(logs) != 1 || logs[0].Operation != "analyze" || logs[0].Outcome != "ok" || logs[0].Route != "production" {
		t.Fatalf("unexpected journal %+v", logs)
	}
	if logs[0].RequestID != stored.RequestID {
		t.Fatalf("journal and result disagree on request id")
	}
}

func TestAnalyzerRouteUsesExtendedTimeoutAndTopTen(t *testing.T) {
	off := false
	b := &stubBackend{raw: sampleRaw()}
	uc := newTestUseCase(b, newStubCache(), &stubJournal{})

	stored, err := uc.Analyze(context.Background(), "s1", route.Analyzer, slip, backend.RequestOptions{
		DisableCache:          true,
		UseLeagueCoefficients: &off,
		League:                "Ligue 1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.classes[0] != backend.Extended {
		t.Fatalf("expected extended timeout, got %v", b.classes[0])
	}
	if b.opts[0].League != "Ligue 1" || !b.opts[0].DisableCache {
		t.Fatalf("analyzer must forward options, got %+v", b.opts[0])
	}
	if len(stored.Analysis.TopN) != 4 {
		t.Fatalf("expected the whole distribution in topN, got %d", len(stored.Analysis.TopN))
	}
	if !stored.Analysis.CacheDisabled {
		t.Fatal("expected cacheDisabled to default to the request option")
	}
}

func TestAnalyzeRejectsConcurrentRequest(t *testing.T) {
	cache := newStubCache()
	b := &stubBackend{raw: sampleRaw(), entered: make(chan struct{}), block: make(chan struct{})}
	uc := newTestUseCase(b, cache, &stubJournal{})

	done := make(chan error, 1)
	go func() {
		_, err := uc.Analyze(context.Background(), "s1", route.Test, slip, backend.RequestOptions{})
		done <- err
	}()
	<-b.entered

	_, err := uc.Analyze(context.Background(), "s1", route.Test, slip, backend.RequestOptions{})
	if !errors.Is(err, apperr.ErrInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	if apperr.HTTPStatus(err) != 409 {
		t.Fatalf("expected 409, got %d", apperr.HTTPStatus(err))
	}

	close(b.block)
	if err := <-done; err != nil {
		t.Fatalf("first analysis failed: %v", err)
	}
	if cache.has(inFlightKey("s1")) {
		t.Fatal("expected guard to be released")
	}
}

func TestAnalyzeValidationMakesNoCall(t *testing.T) {
	b := &stubBackend{raw: sampleRaw()}
	journal := &stubJournal{}
	uc := newTestUseCase(b, newStubCache(), journal)

	_, err := uc.Analyze(context.Background(), "s1", route.Production, backend.Image{}, backend.RequestOptions{})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = uc.Analyze(context.Background(), "s1", route.Dashboard, slip, backend.RequestOptions{})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error on dashboard, got %v", err)
	}
	if len(b.opts) != 0 || len(journal.logs()) != 0 {
		t.Fatalf("expected no backend call and no journal entry")
	}
}

func TestAnalyzeTimeoutKeepsPreviousResult(t *testing.T) {
	cache := newStubCache()
	journal := &stubJournal{}
	b := &stubBackend{raw: sampleRaw()}
	uc := newTestUseCase(b, cache, journal)

	first, err := uc.Analyze(context.Background(), "s1", route.Production, slip, backend.RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.err = &apperr.TimeoutError{Operation: "analyze", Timeout: time.Minute, Err: context.DeadlineExceeded}
	_, err = uc.Analyze(context.Background(), "s1", route.Production, slip, backend.RequestOptions{})
	if apperr.UserMessage(err, apperr.GenericAnalysisMessage) != apperr.TimeoutMessage {
		t.Fatalf("expected timeout message, got %q", apperr.UserMessage(err, apperr.GenericAnalysisMessage))
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.analyze" {
		t.Fatalf("expected OperationError, got %T", err)
	}

	latest, err := uc.LatestResult(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.RequestID != first.RequestID {
		t.Fatal("a failed analysis must not replace the stored result")
	}
	logs := journal.logs()
	if len(logs) != 2 || logs[1].Outcome != string(apperr.KindTimeout) {
		t.Fatalf("expected timeout to be journaled, got %+v", logs)
	}
}

func TestAnalyzeRetriesTransientRedisSet(t *testing.T) {
	cache := newStubCache()
	cache.setErrs = []error{transientRedisError{}}
	uc := newTestUseCase(&stubBackend{raw: sampleRaw()}, cache, &stubJournal{})

	if _, err := uc.Analyze(context.Background(), "s1", route.Production, slip, backend.RequestOptions{}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) != 2 || cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target the same key, got %v", cache.setKeys)
	}
	if !cache.has(resultKey("s1")) {
		t.Fatal("expected result to be stored after retry")
	}
}

func TestLatestResultRoundTrip(t *testing.T) {
	cache := newStubCache()
	uc := newTestUseCase(&stubBackend{raw: sampleRaw()}, cache, &stubJournal{})

	if _, err := uc.LatestResult(context.Background(), "s1"); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}

	stored, err := uc.Analyze(context.Background(), "s1", route.Production, slip, backend.RequestOptions{ManualMatchName: "Lyon - Nice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	latest, err := uc.LatestResult(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.RequestID != stored.RequestID || latest.Analysis.MatchName != "Lyon - Nice" || !latest.Analysis.ManualMatchName {
		t.Fatalf("unexpected latest result %+v", latest.Analysis)
	}
	if latest.Analysis.Top3[0].Score != "1-1" {
		t.Fatalf("tie order lost through the cache: %+v", latest.Analysis.Top3)
	}
}

func TestLatestResultPropagatesRedisFailure(t *testing.T) {
	cache := newStubCache()
	cache.getErrs = []error{errors.New("connection refused")}
	uc := newTestUseCase(&stubBackend{}, cache, &stubJournal{})

	_, err := uc.LatestResult(context.Background(), "s1")
	if err == nil || errors.Is(err, ErrNoResult) {
		t.Fatalf("expected redis failure, got %v", err)
	}
}

func TestAnalyzeUnified(t *testing.T) {
	cache := newStubCache()
	b := &stubBackend{unified: &analysis.UnifiedRaw{
		Success:           true,
		MatchName:         "League - Ligue 1",
		MostProbableScore: "2-0",
		Confidence:        floatPtr(45),
		SavedToCache:      true,
		Top3: []analysis.ScoreProbability{
			{Score: "1-0", Probability: 20},
			{Score: "2-0", Probability: 35},
		},
	}}
	uc := newTestUseCase(b, cache, &stubJournal{})

	stored, err := uc.AnalyzeUnified(context.Background(), "s1", slip, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Unified == nil || stored.Unified.Top3[0].Score != "2-0" {
		t.Fatalf("expected re-ranked top3, got %+v", stored.Unified)
	}
	if stored.Unified.MatchName != "" {
		t.Fatalf("expected league placeholder to be hidden, got %q", stored.Unified.MatchName)
	}
	raw, _ := cache.Get(context.Background(), resultKey("s1"))
	var back StoredResult
	if err := json.Unmarshal([]byte(raw), &back); err != nil || back.Unified == nil || back.Analysis != nil {
		t.Fatalf("unexpected stored payload %s", raw)
	}
}

func TestLearnJournalsOnlyBackendCalls(t *testing.T) {
	journal := &stubJournal{}
	learner := &stubLearner{err: apperr.NewValidationError("real", "bad")}
	uc := NewAnalysisUseCase(&stubBackend{}, learner, newStubCache(), journal, 0, zap.NewNop())

	if _, err := uc.Learn(context.Background(), "s1", "2-1", "", "", ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(journal.logs()) != 0 {
		t.Fatal("validation failures make no call and are not journaled")
	}

	learner.err = nil
	learner.outcome = &learning.Outcome{State: learning.StateSkipped, Message: "déjà appris"}
	out, err := uc.Learn(context.Background(), "s1", "2-1", "3-1", "", "")
	if err != nil || out.State != learning.StateSkipped {
		t.Fatalf("unexpected outcome %+v, err %v", out, err)
	}
	logs := journal.logs()
	if len(logs) != 1 || logs[0].Operation != "learn" || logs[0].Details != "skipped" {
		t.Fatalf("unexpected journal %+v", logs)
	}
}

func TestJournalFailureDoesNotFailAnalysis(t *testing.T) {
	journal := &stubJournal{saveErr: errors.New("db down")}
	uc := newTestUseCase(&stubBackend{raw: sampleRaw()}, newStubCache(), journal)

	if _, err := uc.Analyze(context.Background(), "s1", route.Production, slip, backend.RequestOptions{}); err != nil {
		t.Fatalf("expected success despite journal failure, got %v", err)
	}
}

func TestGetMetricsSummary(t *testing.T) {
	journal := &stubJournal{agg: &repository.MetricsAggregation{
		TotalCount:       4,
		SuccessCount:     3,
		AverageLatencyMs: 120,
		ByOutcome:        map[string]int64{"ok": 3, "timeout": 1},
	}}
	uc := newTestUseCase(&stubBackend{}, newStubCache(), journal)

	summary, err := uc.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.SuccessRate != 0.75 || summary.ByOutcome["timeout"] != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSessionJournalListsNewestFirst(t *testing.T) {
	journal := &stubJournal{}
	uc := newTestUseCase(&stubBackend{raw: sampleRaw()}, newStubCache(), journal)

	for _, session := range []string{"s1", "s2", "s1"} {
		if _, err := uc.Analyze(context.Background(), session, route.Production, slip, backend.RequestOptions{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	logs, err := uc.SessionJournal(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries for s1, got %d", len(logs))
	}
	for _, l := range logs {
		if l.SessionID != "s1" || l.Outcome != repository.OutcomeOK {
			t.Fatalf("unexpected entry %+v", l)
		}
	}

	empty, err := uc.SessionJournal(context.Background(), "nobody", 10)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v %v", empty, err)
	}
}

func TestReleaseKeepsGuardTakenAfterExpiry(t *testing.T) {
	cache := newStubCache()
	b := &stubBackend{raw: sampleRaw(), entered: make(chan struct{}), block: make(chan struct{})}
	uc := newTestUseCase(b, cache, &stubJournal{})

	done := make(chan error, 1)
	go func() {
		_, err := uc.Analyze(context.Background(), "s1", route.Test, slip, backend.RequestOptions{})
		done <- err
	}()
	<-b.entered

	cache.expire(inFlightKey("s1"))
	ok, err := cache.SetNX(context.Background(), inFlightKey("s1"), "second-request", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected second request to take the lapsed guard, got %v %v", ok, err)
	}

	close(b.block)
	if err := <-done; err != nil {
		t.Fatalf("first analysis failed: %v", err)
	}
	value, err := cache.Get(context.Background(), inFlightKey("s1"))
	if err != nil || value != "second-request" {
		t.Fatalf("expected second request's guard to survive, got %q %v", value, err)
	}
}

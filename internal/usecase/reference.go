package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/backend"
	"github.com/example/scoreslip/internal/logging"
)

// ReferenceBackend is the slice of the backend client serving reference,
// history and admin data.
type ReferenceBackend interface {
	ListLeagues(ctx context.Context) (backend.LeagueList, error)
	LeagueStandings(ctx context.Context, league string) (json.RawMessage, error)
	TeamCoefficient(ctx context.Context, team, league string) (*backend.TeamCoefficient, error)
	UpdateLeague(ctx context.Context, league string, force bool) (json.RawMessage, error)
	UpdateAllLeagues(ctx context.Context) (json.RawMessage, error)
	TriggerLeagueUpdate(ctx context.Context) (json.RawMessage, error)
	SchedulerStatus(ctx context.Context) (json.RawMessage, error)
	ClearAnalysisCache(ctx context.Context) (json.RawMessage, error)
	LastUploads(ctx context.Context, limit int) ([]backend.UploadRow, error)
	LastAnalyses(ctx context.Context, limit int) ([]backend.AnalysisRow, error)
	LearningStats(ctx context.Context, days int) (json.RawMessage, error)
	Diagnostic(ctx context.Context) (json.RawMessage, error)
	UploadImageAdvanced(ctx context.Context, img backend.Image, hints backend.AdvancedUpload) (json.RawMessage, error)
}

// ReferenceUseCase proxies reference, history and admin calls, journaling
// each one.
type ReferenceUseCase struct {
	backend ReferenceBackend
	journal Journal
	logger  *zap.Logger
}

// MatchCoefficients pairs the two teams' strength factors. Fallback is set
// when a lookup failed and both teams carry the neutral coefficient.
type MatchCoefficients struct {
	League   string                  `json:"league"`
	Home     backend.TeamCoefficient `json:"home"`
	Away     backend.TeamCoefficient `json:"away"`
	Fallback bool                    `json:"fallback,omitempty"`
	Warning  string                  `json:"warning,omitempty"`
}

const neutralCoefficient = 1.0

func NewReferenceUseCase(b ReferenceBackend, journal Journal, logger *zap.Logger) *ReferenceUseCase {
	return &ReferenceUseCase{
		backend: b,
		journal: journal,
		logger:  logger.Named("reference_usecase"),
	}
}

// call runs fn and journals it under operation.
func call[T any](ctx context.Context, uc *ReferenceUseCase, session, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	entry := journalEntry{operation: operation, requestID: uuid.NewString(), session: session, started: time.Now()}
	out, err := fn(ctx)
	if calledBackend(err) {
		record(ctx, uc.journal, uc.logger, entry, err)
	}
	if err != nil {
		logging.WithSession(logging.WithOperation(uc.logger, operation, entry.requestID), session).Warn("backend call failed",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		var zero T
		return zero, logging.NewOperationError(operation, entry.requestID, err)
	}
	return out, nil
}

func (uc *ReferenceUseCase) Leagues(ctx context.Context, session string) (backend.LeagueList, error) {
	return call(ctx, uc, session, "list_leagues", uc.backend.ListLeagues)
}

func (uc *ReferenceUseCase) Standings(ctx context.Context, session, league string) (json.RawMessage, error) {
	return call(ctx, uc, session, "league_standings", func(ctx context.Context) (json.RawMessage, error) {
		return uc.backend.LeagueStandings(ctx, league)
	})
}

// MatchCoefficients fetches both teams' coefficients concurrently. If
// either lookup fails, both teams fall back to the neutral 1.0 and the
// pair is flagged; only a cancelled caller gets an error.
func (uc *ReferenceUseCase) MatchCoefficients(ctx context.Context, session, league, home, away string) (*MatchCoefficients, error) {
	home, away, league = strings.TrimSpace(home), strings.TrimSpace(away), strings.TrimSpace(league)
	if home == "" || away == "" {
		return nil, apperr.NewValidationError("teams", "Veuillez indiquer les deux équipes")
	}
	pair, err := call(ctx, uc, session, "match_coefficients", func(ctx context.Context) (*MatchCoefficients, error) {
		out := &MatchCoefficients{League: league}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			c, err := uc.backend.TeamCoefficient(gctx, home, league)
			if err != nil {
				return err
			}
			out.Home = *c
			return nil
		})
		g.Go(func() error {
			c, err := uc.backend.TeamCoefficient(gctx, away, league)
			if err != nil {
				return err
			}
			out.Away = *c
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err == nil {
		return pair, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	return &MatchCoefficients{
		League:   league,
		Home:     backend.TeamCoefficient{Team: home, League: league, Coefficient: neutralCoefficient},
		Away:     backend.TeamCoefficient{Team: away, League: league, Coefficient: neutralCoefficient},
		Fallback: true,
		Warning:  apperr.UserMessage(err, apperr.GenericBackendMessage),
	}, nil
}

func (uc *ReferenceUseCase) UploadHistory(ctx context.Context, session string, limit int) ([]backend.UploadRow, error) {
	return call(ctx, uc, session, "last_uploads", func(ctx context.Context) ([]backend.UploadRow, error) {
		return uc.backend.LastUploads(ctx, limit)
	})
}

func (uc *ReferenceUseCase) AnalysisHistory(ctx context.Context, session string, limit int) ([]backend.AnalysisRow, error) {
	return call(ctx, uc, session, "last_analyses", func(ctx context.Context) ([]backend.AnalysisRow, error) {
		return uc.backend.LastAnalyses(ctx, limit)
	})
}

func (uc *ReferenceUseCase) LearningStats(ctx context.Context, session string, days int) (json.RawMessage, error) {
	return call(ctx, uc, session, "learning_stats", func(ctx context.Context) (json.RawMessage, error) {
		return uc.backend.LearningStats(ctx, days)
	})
}

func (uc *ReferenceUseCase) Diagnostic(ctx context.Context, session string) (json.RawMessage, error) {
	return call(ctx, uc, session, "diagnostic", uc.backend.Diagnostic)
}

// UploadAdvanced submits an image with team/league hints.
func (uc *ReferenceUseCase) UploadAdvanced(ctx context.Context, session string, img backend.Image, hints backend.AdvancedUpload) (json.RawMessage, error) {
	return call(ctx, uc, session, "upload_image_advanced", func(ctx context.Context) (json.RawMessage, error) {
		return uc.backend.UploadImageAdvanced(ctx, img, hints)
	})
}

func (uc *ReferenceUseCase) UpdateLeague(ctx context.Context, session, league string, force bool) (json.RawMessage, error) {
	return call(ctx, uc, session, "update_league", func(ctx context.Context) (json.RawMessage, error) {
		return uc.backend.UpdateLeague(ctx, league, force)
	})
}

func (uc *ReferenceUseCase) UpdateAllLeagues(ctx context.Context, session string) (json.RawMessage, error) {
	return call(ctx, uc, session, "update_all_leagues", uc.backend.UpdateAllLeagues)
}

func (uc *ReferenceUseCase) TriggerLeagueUpdate(ctx context.Context, session string) (json.RawMessage, error) {
	return call(ctx, uc, session, "trigger_league_update", uc.backend.TriggerLeagueUpdate)
}

func (uc *ReferenceUseCase) SchedulerStatus(ctx context.Context, session string) (json.RawMessage, error) {
	return call(ctx, uc, session, "scheduler_status", uc.backend.SchedulerStatus)
}

func (uc *ReferenceUseCase) ClearAnalysisCache(ctx context.Context, session string) (json.RawMessage, error) {
	return call(ctx, uc, session, "clear_analysis_cache", uc.backend.ClearAnalysisCache)
}

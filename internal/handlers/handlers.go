package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/auth"
	"github.com/example/scoreslip/internal/backend"
	"github.com/example/scoreslip/internal/learning"
	"github.com/example/scoreslip/internal/logging"
	"github.com/example/scoreslip/internal/poller"
	"github.com/example/scoreslip/internal/repository"
	"github.com/example/scoreslip/internal/route"
	"github.com/example/scoreslip/internal/usecase"
)

// AnalysisService runs analyses and feedback for a session.
type AnalysisService interface {
	Analyze(ctx context.Context, session string, rt route.Route, img backend.Image, opts backend.RequestOptions) (*usecase.StoredResult, error)
	AnalyzeUnified(ctx context.Context, session string, img backend.Image, manualMatchName string) (*usecase.StoredResult, error)
	LatestResult(ctx context.Context, session string) (*usecase.StoredResult, error)
	Learn(ctx context.Context, session, predicted, real, homeTeam, awayTeam string) (*learning.Outcome, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	SessionJournal(ctx context.Context, session string, limit int) ([]*repository.RequestLog, error)
}

// ReferenceService serves reference, history and admin data.
type ReferenceService interface {
	Leagues(ctx context.Context, session string) (backend.LeagueList, error)
	Standings(ctx context.Context, session, league string) (json.RawMessage, error)
	MatchCoefficients(ctx context.Context, session, league, home, away string) (*usecase.MatchCoefficients, error)
	UploadHistory(ctx context.Context, session string, limit int) ([]backend.UploadRow, error)
	AnalysisHistory(ctx context.Context, session string, limit int) ([]backend.AnalysisRow, error)
	LearningStats(ctx context.Context, session string, days int) (json.RawMessage, error)
	Diagnostic(ctx context.Context, session string) (json.RawMessage, error)
	UploadAdvanced(ctx context.Context, session string, img backend.Image, hints backend.AdvancedUpload) (json.RawMessage, error)
	UpdateLeague(ctx context.Context, session, league string, force bool) (json.RawMessage, error)
	UpdateAllLeagues(ctx context.Context, session string) (json.RawMessage, error)
	TriggerLeagueUpdate(ctx context.Context, session string) (json.RawMessage, error)
	SchedulerStatus(ctx context.Context, session string) (json.RawMessage, error)
	ClearAnalysisCache(ctx context.Context, session string) (json.RawMessage, error)
}

// DashboardSource exposes the polled dashboard status.
type DashboardSource interface {
	Snapshot() poller.Snapshot
}

// Services groups what the routes depend on.
type Services struct {
	Analysis  AnalysisService
	Reference ReferenceService
	Dashboard DashboardSource
	Logger    *zap.Logger
}

type handler struct {
	Services
}

// RegisterRoutes wires the HTTP handlers to the Gin router. authMiddleware
// guards everything under /v1.
func RegisterRoutes(router *gin.Engine, services Services, authMiddleware gin.HandlerFunc) {
	if services.Logger == nil {
		services.Logger = zap.NewNop()
	}
	h := &handler{Services: services}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", authMiddleware)
	v1.POST("/views/:route/analyze", h.analyze)
	v1.POST("/unified/analyze", h.analyzeUnified)
	v1.GET("/results/latest", h.latestResult)
	v1.POST("/learn", h.learn)

	v1.GET("/leagues", h.leagues)
	v1.GET("/leagues/:league/standings", h.standings)
	v1.GET("/leagues/:league/coefficients", h.coefficients)

	v1.GET("/history/uploads", h.uploadHistory)
	v1.GET("/history/analyses", h.analysisHistory)
	v1.GET("/system/learning-stats", h.learningStats)
	v1.GET("/system/diagnostic", h.diagnostic)
	v1.GET("/dashboard", h.dashboard)
	v1.POST("/uploads/advanced", h.uploadAdvanced)
	v1.GET("/metrics", h.metrics)
	v1.GET("/journal", h.journal)

	admin := v1.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/leagues/update", h.updateLeague)
	admin.POST("/leagues/update-all", h.rawCall(func(ctx context.Context, session string) (json.RawMessage, error) {
		return h.Reference.UpdateAllLeagues(ctx, session)
	}))
	admin.POST("/leagues/trigger-update", h.rawCall(func(ctx context.Context, session string) (json.RawMessage, error) {
		return h.Reference.TriggerLeagueUpdate(ctx, session)
	}))
	admin.GET("/leagues/scheduler-status", h.rawCall(func(ctx context.Context, session string) (json.RawMessage, error) {
		return h.Reference.SchedulerStatus(ctx, session)
	}))
	admin.DELETE("/analysis-cache", h.rawCall(func(ctx context.Context, session string) (json.RawMessage, error) {
		return h.Reference.ClearAnalysisCache(ctx, session)
	}))
}

func sessionOf(c *gin.Context) string {
	session, _ := auth.GetSessionID(c.Request.Context())
	return session
}

// writeError answers with the status and user message err maps to.
func (h *handler) writeError(c *gin.Context, err error, fallback string) {
	var upload *uploadError
	if errors.As(err, &upload) {
		c.JSON(upload.status, gin.H{"error": upload.message})
		return
	}

	status := apperr.HTTPStatus(err)
	body := gin.H{
		"error": apperr.UserMessage(err, fallback),
		"kind":  apperr.KindOf(err),
	}
	if requestID := logging.RequestIDOf(err); requestID != "" {
		body["request_id"] = requestID
	}
	if status >= http.StatusInternalServerError {
		logging.WithSession(h.Logger, sessionOf(c)).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

func writeRaw(c *gin.Context, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (h *handler) analyze(c *gin.Context) {
	rt, err := route.Parse(c.Param("route"))
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	img, err := readUpload(c)
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	opts, err := requestOptions(c)
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}

	stored, err := h.Analysis.Analyze(c.Request.Context(), sessionOf(c), rt, img, opts)
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *handler) analyzeUnified(c *gin.Context) {
	img, err := readUpload(c)
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	stored, err := h.Analysis.AnalyzeUnified(c.Request.Context(), sessionOf(c), img, param(c, "match_name"))
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *handler) latestResult(c *gin.Context) {
	stored, err := h.Analysis.LatestResult(c.Request.Context(), sessionOf(c))
	if errors.Is(err, usecase.ErrNoResult) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Aucun résultat"})
		return
	}
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, stored)
}

type learnRequest struct {
	Predicted string `form:"predicted" json:"predicted"`
	Real      string `form:"real" json:"real"`
	HomeTeam  string `form:"home_team" json:"home_team"`
	AwayTeam  string `form:"away_team" json:"away_team"`
}

func (h *handler) learn(c *gin.Context) {
	var req learnRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Requête invalide"})
		return
	}
	outcome, err := h.Analysis.Learn(c.Request.Context(), sessionOf(c), req.Predicted, req.Real, req.HomeTeam, req.AwayTeam)
	if err != nil {
		h.writeError(c, err, apperr.GenericLearningMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"state":           outcome.State,
		"skipped":         outcome.State == learning.StateSkipped,
		"message":         outcome.Message,
		"newDiffExpected": outcome.NewDiffExpected,
	})
}

func (h *handler) leagues(c *gin.Context) {
	leagues, err := h.Reference.Leagues(c.Request.Context(), sessionOf(c))
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leagues": leagues})
}

func (h *handler) standings(c *gin.Context) {
	raw, err := h.Reference.Standings(c.Request.Context(), sessionOf(c), c.Param("league"))
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	writeRaw(c, raw)
}

func (h *handler) coefficients(c *gin.Context) {
	pair, err := h.Reference.MatchCoefficients(c.Request.Context(), sessionOf(c), c.Param("league"), c.Query("home"), c.Query("away"))
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *handler) uploadHistory(c *gin.Context) {
	limit, err := intParam(c, "limit")
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	rows, err := h.Reference.UploadHistory(c.Request.Context(), sessionOf(c), limit)
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": rows})
}

func (h *handler) analysisHistory(c *gin.Context) {
	limit, err := intParam(c, "limit")
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	rows, err := h.Reference.AnalysisHistory(c.Request.Context(), sessionOf(c), limit)
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": rows})
}

func (h *handler) learningStats(c *gin.Context) {
	days, err := intParam(c, "days")
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	raw, err := h.Reference.LearningStats(c.Request.Context(), sessionOf(c), days)
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": raw})
}

func (h *handler) diagnostic(c *gin.Context) {
	raw, err := h.Reference.Diagnostic(c.Request.Context(), sessionOf(c))
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	writeRaw(c, raw)
}

func (h *handler) dashboard(c *gin.Context) {
	if h.Dashboard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Tableau de bord indisponible"})
		return
	}
	snap := h.Dashboard.Snapshot()
	if snap.Status == nil {
		if snap.LastError != "" {
			c.JSON(http.StatusBadGateway, gin.H{"error": snap.LastError})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chargement du statut en cours"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handler) uploadAdvanced(c *gin.Context) {
	img, err := readUpload(c)
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	preferVision, err := boolParam(c, "prefer_gpt_vision")
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	hints := backend.AdvancedUpload{
		League:          param(c, "league"),
		HomeTeam:        param(c, "home_team"),
		AwayTeam:        param(c, "away_team"),
		Bookmaker:       param(c, "bookmaker"),
		PreferGPTVision: preferVision != nil && *preferVision,
	}
	raw, err := h.Reference.UploadAdvanced(c.Request.Context(), sessionOf(c), img, hints)
	if err != nil {
		h.writeError(c, err, apperr.GenericAnalysisMessage)
		return
	}
	writeRaw(c, raw)
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.Analysis.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) journal(c *gin.Context) {
	limit, err := intParam(c, "limit")
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	logs, err := h.Analysis.SessionJournal(c.Request.Context(), sessionOf(c), limit)
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

func (h *handler) updateLeague(c *gin.Context) {
	force, err := boolParam(c, "force")
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	raw, err := h.Reference.UpdateLeague(c.Request.Context(), sessionOf(c), param(c, "league"), force != nil && *force)
	if err != nil {
		h.writeError(c, err, apperr.GenericBackendMessage)
		return
	}
	writeRaw(c, raw)
}

func (h *handler) rawCall(fn func(ctx context.Context, session string) (json.RawMessage, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := fn(c.Request.Context(), sessionOf(c))
		if err != nil {
			h.writeError(c, err, apperr.GenericBackendMessage)
			return
		}
		writeRaw(c, raw)
	}
}

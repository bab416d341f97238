package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/example/scoreslip/internal/analysis"
	"github.com/example/scoreslip/internal/apperr"
)

// Analyze uploads img to /api/analyze.
func (c *Client) Analyze(ctx context.Context, img Image, opts RequestOptions, class TimeoutClass) (*analysis.RawAnalysis, error) {
	if len(img.Data) == 0 {
		return nil, apperr.NewValidationError("file", "Veuillez sélectionner une image")
	}
	build := func(ctx context.Context) (*http.Request, error) {
		return BuildAnalyzeRequest(ctx, c.baseURL, img, opts)
	}
	var raw analysis.RawAnalysis
	if err := c.do(ctx, "analyze", class, build, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// AnalyzeUnified uploads img to the coefficient-enriched pipeline and asks
// the backend to persist the prediction.
func (c *Client) AnalyzeUnified(ctx context.Context, img Image) (*analysis.UnifiedRaw, error) {
	if len(img.Data) == 0 {
		return nil, apperr.NewValidationError("file", "Veuillez sélectionner une image")
	}
	build := multipartRequest(c.url("/api/unified/analyze"), img, []formField{{name: "persist_cache", value: "true"}})
	var raw analysis.UnifiedRaw
	if err := c.do(ctx, "unified_analyze", Extended, build, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// Learn posts one feedback pair. Team names are sent only when set.
func (c *Client) Learn(ctx context.Context, req LearnRequest) (*LearnResponse, error) {
	form := url.Values{}
	form.Set("predicted", req.Predicted)
	form.Set("real", req.Real)
	if req.HomeTeam != "" {
		form.Set("home_team", req.HomeTeam)
	}
	if req.AwayTeam != "" {
		form.Set("away_team", req.AwayTeam)
	}

	target := c.url("/api/learn")
	build := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("Accept", "application/json")
		return r, nil
	}
	var resp LearnResponse
	if err := c.do(ctx, "learn", Interactive, build, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListLeagues returns the league names known to the backend.
func (c *Client) ListLeagues(ctx context.Context) (LeagueList, error) {
	var leagues LeagueList
	if err := c.do(ctx, "list_leagues", Interactive, getRequest(c.url("/api/admin/league/list")), &leagues); err != nil {
		return nil, err
	}
	return leagues, nil
}

// LeagueStandings returns the backend's standings payload for league.
func (c *Client) LeagueStandings(ctx context.Context, league string) (json.RawMessage, error) {
	league = strings.TrimSpace(league)
	if league == "" {
		return nil, apperr.NewValidationError("league", "Veuillez choisir une ligue")
	}
	q := url.Values{}
	q.Set("league", league)
	var raw json.RawMessage
	if err := c.do(ctx, "league_standings", Interactive, getRequest(c.url("/api/admin/league/standings?"+q.Encode())), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// TeamCoefficient returns team's strength factor in league.
func (c *Client) TeamCoefficient(ctx context.Context, team, league string) (*TeamCoefficient, error) {
	team = strings.TrimSpace(team)
	if team == "" {
		return nil, apperr.NewValidationError("team", "Veuillez indiquer une équipe")
	}
	q := url.Values{}
	q.Set("team", team)
	if league = strings.TrimSpace(league); league != "" {
		q.Set("league", league)
	}
	var coeff TeamCoefficient
	if err := c.do(ctx, "team_coefficient", Interactive, getRequest(c.url("/api/league/team-coeff?"+q.Encode())), &coeff); err != nil {
		return nil, err
	}
	if coeff.Team == "" {
		coeff.Team = team
	}
	if coeff.League == "" {
		coeff.League = league
	}
	return &coeff, nil
}

// UpdateLeague refreshes one league, or the default set when league is
// empty. force bypasses the backend's freshness check.
func (c *Client) UpdateLeague(ctx context.Context, league string, force bool) (json.RawMessage, error) {
	q := url.Values{}
	if league = strings.TrimSpace(league); league != "" {
		q.Set("league", league)
	}
	if force {
		q.Set("force", "true")
	}
	target := c.url("/api/admin/league/update")
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	var raw json.RawMessage
	if err := c.do(ctx, "update_league", Interactive, bodylessRequest(http.MethodPost, target), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// UpdateAllLeagues refreshes every league. It runs under the extended
// deadline.
func (c *Client) UpdateAllLeagues(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "update_all_leagues", Extended, bodylessRequest(http.MethodPost, c.url("/api/admin/league/update-all")), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) TriggerLeagueUpdate(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "trigger_league_update", Interactive, bodylessRequest(http.MethodPost, c.url("/api/admin/league/trigger-update")), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) SchedulerStatus(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "scheduler_status", Interactive, getRequest(c.url("/api/admin/league/scheduler-status")), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ClearAnalysisCache drops the backend's analysis cache.
func (c *Client) ClearAnalysisCache(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "clear_analysis_cache", Interactive, bodylessRequest(http.MethodDelete, c.url("/api/admin/clear-analysis-cache")), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// LastUploads returns the most recent uploads. limit <= 0 leaves the
// backend default.
func (c *Client) LastUploads(ctx context.Context, limit int) ([]UploadRow, error) {
	var resp struct {
		Uploads []UploadRow `json:"uploads"`
	}
	if err := c.do(ctx, "last_uploads", Interactive, getRequest(c.url("/api/last-uploads"+limitQuery("limit", limit))), &resp); err != nil {
		return nil, err
	}
	if resp.Uploads == nil {
		return []UploadRow{}, nil
	}
	return resp.Uploads, nil
}

// LastAnalyses returns the most recent analyses.
func (c *Client) LastAnalyses(ctx context.Context, limit int) ([]AnalysisRow, error) {
	var resp struct {
		Analyses []AnalysisRow `json:"analyses"`
	}
	if err := c.do(ctx, "last_analyses", Interactive, getRequest(c.url("/api/last-analyses"+limitQuery("limit", limit))), &resp); err != nil {
		return nil, err
	}
	if resp.Analyses == nil {
		return []AnalysisRow{}, nil
	}
	return resp.Analyses, nil
}

// LearningStats returns the backend's learning statistics over the last
// days. The stats object is unwrapped when the backend nests it.
func (c *Client) LearningStats(ctx context.Context, days int) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "learning_stats", Interactive, getRequest(c.url("/api/learning-stats"+limitQuery("days", days))), &raw); err != nil {
		return nil, err
	}
	var wrapped struct {
		Stats json.RawMessage `json:"stats"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Stats) > 0 {
		return wrapped.Stats, nil
	}
	return raw, nil
}

func (c *Client) Diagnostic(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "diagnostic", Interactive, getRequest(c.url("/api/diagnostic")), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DashboardStatus fetches the monitoring snapshot the dashboard polls.
func (c *Client) DashboardStatus(ctx context.Context) (*DashboardStatus, error) {
	var status DashboardStatus
	if err := c.do(ctx, "dashboard_status", Interactive, getRequest(c.url("/api/ufa/v3/dashboard-status")), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// UploadImageAdvanced submits img with optional team/league hints.
func (c *Client) UploadImageAdvanced(ctx context.Context, img Image, hints AdvancedUpload) (json.RawMessage, error) {
	if len(img.Data) == 0 {
		return nil, apperr.NewValidationError("file", "Veuillez sélectionner une image")
	}
	var fields []formField
	for _, f := range []formField{
		{name: "league", value: hints.League},
		{name: "home_team", value: hints.HomeTeam},
		{name: "away_team", value: hints.AwayTeam},
		{name: "bookmaker", value: hints.Bookmaker},
	} {
		if strings.TrimSpace(f.value) != "" {
			fields = append(fields, formField{name: f.name, value: strings.TrimSpace(f.value)})
		}
	}
	if hints.PreferGPTVision {
		fields = append(fields, formField{name: "prefer_gpt_vision", value: "true"})
	}
	var raw json.RawMessage
	if err := c.do(ctx, "upload_image_advanced", Extended, multipartRequest(c.url("/api/upload-image-advanced"), img, fields), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func multipartRequest(target string, img Image, fields []formField) requestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := multipartBody(img, fields)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

func limitQuery(name string, n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + name + "=" + strconv.Itoa(n)
}

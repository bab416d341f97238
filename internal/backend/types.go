package backend

import (
	"encoding/json"
	"fmt"
)

// LearnRequest is one predicted/real pair for /api/learn. Team names are
// optional context for the backend.
type LearnRequest struct {
	Predicted string
	Real      string
	HomeTeam  string
	AwayTeam  string
}

// LearnResponse is the /api/learn reply. Skipped means the pair was
// accepted but not applied.
type LearnResponse struct {
	Success         bool     `json:"success"`
	Skipped         bool     `json:"skipped"`
	Message         string   `json:"message"`
	NewDiffExpected *float64 `json:"newDiffExpected"`
	Error           string   `json:"error"`
}

// TeamCoefficient is a team's strength factor in a league.
type TeamCoefficient struct {
	Team        string  `json:"team"`
	League      string  `json:"league"`
	Coefficient float64 `json:"coefficient"`
	Source      string  `json:"source,omitempty"`
}

const defaultCoefficient = 1.0

// UnmarshalJSON folds the backend's coef/coeficient spellings into
// Coefficient. A missing value means the neutral 1.0.
func (t *TeamCoefficient) UnmarshalJSON(data []byte) error {
	var wire struct {
		Team        string   `json:"team"`
		League      string   `json:"league"`
		Coefficient *float64 `json:"coefficient"`
		Coef        *float64 `json:"coef"`
		Coeficient  *float64 `json:"coeficient"`
		Source      string   `json:"source"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t.Team = wire.Team
	t.League = wire.League
	t.Source = wire.Source
	t.Coefficient = defaultCoefficient
	for _, v := range []*float64{wire.Coefficient, wire.Coef, wire.Coeficient} {
		if v != nil {
			t.Coefficient = *v
			break
		}
	}
	return nil
}

// LeagueList is the set of leagues the backend knows. The endpoint has
// answered with a bare array, {"leagues": [...]} and {"list": [...]}.
type LeagueList []string

func (l *LeagueList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapped struct {
			Leagues []json.RawMessage `json:"leagues"`
			List    []json.RawMessage `json:"list"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return fmt.Errorf("league list: %w", err)
		}
		items = wrapped.Leagues
		if items == nil {
			items = wrapped.List
		}
	}

	out := make(LeagueList, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
			Code string `json:"code"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("league list entry: %w", err)
		}
		if obj.Name != "" {
			out = append(out, obj.Name)
		} else if obj.Code != "" {
			out = append(out, obj.Code)
		}
	}
	*l = out
	return nil
}

// DashboardStatus is the /api/ufa/v3/dashboard-status payload.
type DashboardStatus struct {
	Scheduler   string               `json:"scheduler"`
	KeepAlive   string               `json:"keep_alive"`
	Backend     string               `json:"backend"`
	Coeffs      DashboardCoeffs      `json:"coeffs"`
	Model       DashboardModel       `json:"model"`
	Performance DashboardPerformance `json:"performance"`
	History     []json.RawMessage    `json:"history"`
	Logs        []string             `json:"logs"`
	Timestamp   string               `json:"timestamp"`
}

type DashboardCoeffs struct {
	FifaTeams   int `json:"fifa_teams"`
	UefaLeagues int `json:"uefa_leagues"`
}

type DashboardModel struct {
	Exists bool    `json:"exists"`
	SizeKB float64 `json:"size_kb"`
}

type DashboardPerformance struct {
	Accuracy *float64 `json:"accuracy"`
	Matches  int      `json:"matches"`
}

// UploadRow is one entry of /api/last-uploads.
type UploadRow struct {
	ID               int64  `json:"id"`
	OriginalFilename string `json:"original_filename"`
	HomeTeam         string `json:"home_team"`
	AwayTeam         string `json:"away_team"`
	League           string `json:"league"`
	UploadTime       string `json:"upload_time"`
	Processed        bool   `json:"processed"`
}

// AnalysisRow is one entry of /api/last-analyses.
type AnalysisRow struct {
	ID                int64    `json:"id"`
	MostProbableScore string   `json:"most_probable_score"`
	RealScore         string   `json:"real_score"`
	LeagueUsed        string   `json:"league_used"`
	OCREngine         string   `json:"ocr_engine"`
	Confidence        *float64 `json:"confidence"`
	CreatedAt         string   `json:"created_at"`
}

// AdvancedUpload carries the optional hints of /api/upload-image-advanced.
type AdvancedUpload struct {
	League          string
	HomeTeam        string
	AwayTeam        string
	Bookmaker       string
	PreferGPTVision bool
}

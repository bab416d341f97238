package analysis

import "sort"

// UnifiedInfo is the team/league block of a unified analysis.
type UnifiedInfo struct {
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
	League   string `json:"league"`
}

// UnifiedRaw is the /api/unified/analyze response. It carries a ranked
// top3 but no full distribution.
type UnifiedRaw struct {
	Success             bool               `json:"success"`
	Error               string             `json:"error"`
	MatchName           string             `json:"matchName"`
	League              string             `json:"league"`
	LeagueCoeffsApplied bool               `json:"leagueCoeffsApplied"`
	SavedToCache        bool               `json:"savedToCache"`
	MostProbableScore   string             `json:"mostProbableScore"`
	Confidence          *float64           `json:"confidence"`
	Top3                []ScoreProbability `json:"top3"`
	Info                UnifiedInfo        `json:"info"`
	Timestamp           string             `json:"timestamp"`
}

// UnifiedView is the render-ready form of a unified analysis.
type UnifiedView struct {
	MatchName           string             `json:"matchName,omitempty"`
	League              string             `json:"league,omitempty"`
	LeagueCoeffsApplied bool               `json:"leagueCoeffsApplied"`
	SavedToCache        bool               `json:"savedToCache"`
	MostProbableScore   string             `json:"mostProbableScore,omitempty"`
	Confidence          *float64           `json:"confidence,omitempty"`
	ConfidenceBand      Band               `json:"confidenceBand,omitempty"`
	Top3                []ScoreProbability `json:"top3"`
	Info                UnifiedInfo        `json:"info"`
	Timestamp           string             `json:"timestamp,omitempty"`
}

// BuildUnifiedView normalizes units, re-ranks the backend top3 and applies
// the same display rules as BuildView.
func BuildUnifiedView(raw UnifiedRaw, manual string) UnifiedView {
	top := make([]ScoreProbability, len(raw.Top3))
	copy(top, raw.Top3)
	top = NewDistribution(top...).AsFractions().Entries()
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Probability > top[j].Probability
	})
	if len(top) > 3 {
		top = top[:3]
	}

	v := UnifiedView{
		MatchName:           Result{MatchName: raw.MatchName}.DisplayMatchName(manual),
		League:              raw.League,
		LeagueCoeffsApplied: raw.LeagueCoeffsApplied,
		SavedToCache:        raw.SavedToCache,
		MostProbableScore:   raw.MostProbableScore,
		Top3:                top,
		Info:                raw.Info,
		Timestamp:           raw.Timestamp,
	}
	if _, placeholder := scorePlaceholders[v.MostProbableScore]; placeholder {
		v.MostProbableScore = ""
	}
	if len(top) > 0 {
		v.MostProbableScore = top[0].Score
	}
	if raw.Confidence != nil {
		c := normalizeConfidence(*raw.Confidence)
		v.Confidence = &c
		v.ConfidenceBand = BandFor(c)
	}
	return v
}

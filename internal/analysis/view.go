package analysis

import (
	"strings"
	"time"
)

// AnalyzerTopN is the size of the analyzer's ranked grid.
const AnalyzerTopN = 10

// Provenance tells whether the backend recomputed the analysis.
type Provenance string

const (
	ProvenanceCache Provenance = "cache"
	ProvenanceFresh Provenance = "fresh"
)

// MostProbable is the headline score. Probability is nil when the score
// came from the backend without a distribution entry.
type MostProbable struct {
	Score       string   `json:"score"`
	Probability *float64 `json:"probability,omitempty"`
}

// View is the render-ready form of a Result.
type View struct {
	MatchName           string             `json:"matchName,omitempty"`
	ManualMatchName     bool               `json:"manualMatchName"`
	Bookmaker           string             `json:"bookmaker,omitempty"`
	League              string             `json:"league,omitempty"`
	LeagueCoeffsApplied bool               `json:"leagueCoeffsApplied"`
	MostProbable        *MostProbable      `json:"mostProbable,omitempty"`
	Confidence          *float64           `json:"confidence,omitempty"`
	ConfidenceBand      Band               `json:"confidenceBand,omitempty"`
	Interpretation      *Interpretation    `json:"interpretation,omitempty"`
	Top3                []ScoreProbability `json:"top3"`
	TopN                []ScoreProbability `json:"topN"`
	Probabilities       []ScoreProbability `json:"probabilities"`
	ExtractedScores     []ExtractedScore   `json:"extractedScores"`
	Provenance          Provenance         `json:"provenance"`
	CacheDisabled       bool               `json:"cacheDisabled"`
	Timestamp           *time.Time         `json:"timestamp,omitempty"`
}

// BuildView prepares r for display. manual is the user's match-name
// override, empty when none; topN sizes the ranked grid.
func BuildView(r Result, manual string, topN int) View {
	v := View{
		MatchName:           r.DisplayMatchName(manual),
		Bookmaker:           r.DisplayBookmaker(),
		League:              r.League,
		LeagueCoeffsApplied: r.LeagueCoeffsApplied,
		Confidence:          r.Confidence,
		Top3:                r.Top3,
		TopN:                r.Distribution.TopN(topN),
		Probabilities:       r.Distribution.Sorted(),
		ExtractedScores:     r.ExtractedScores,
		Provenance:          ProvenanceFresh,
		CacheDisabled:       r.CacheDisabled,
	}
	v.ManualMatchName = strings.TrimSpace(manual) != ""
	if v.Top3 == nil {
		v.Top3 = []ScoreProbability{}
	}
	if r.FromCache {
		v.Provenance = ProvenanceCache
	}
	if r.MostProbableScore != "" {
		v.MostProbable = &MostProbable{Score: r.MostProbableScore}
		if p, ok := r.Distribution.Probability(r.MostProbableScore); ok {
			v.MostProbable.Probability = &p
		}
	}
	if band, ok := r.Band(); ok {
		interp := band.Interpretation()
		v.ConfidenceBand = band
		v.Interpretation = &interp
	}
	if !r.Timestamp.IsZero() {
		ts := r.Timestamp
		v.Timestamp = &ts
	}
	return v
}

package analysis

import (
	"strings"
	"time"
)

// Backend sentinels.
const (
	UndetectedMatchName = "Match non détecté"
	UnknownBookmaker    = "Bookmaker inconnu"
	leaguePrefix        = "League -"
	ocrGarbageMarker    = "CANAI"
)

// Placeholders the backend puts in mostProbableScore when it has nothing.
var scorePlaceholders = map[string]struct{}{
	"":              {},
	"N/A":           {},
	"Aucune donnée": {},
}

// ExtractedScore is one odds line read from the slip.
type ExtractedScore struct {
	Score string  `json:"score"`
	Odds  float64 `json:"odds"`
}

// RawAnalysis is the /api/analyze response as the backend sends it. The
// provenance flag has been seen under three spellings; Normalize folds them.
type RawAnalysis struct {
	Success             *bool            `json:"success"`
	Error               string           `json:"error"`
	MatchID             string           `json:"matchId"`
	MatchName           string           `json:"matchName"`
	Bookmaker           string           `json:"bookmaker"`
	League              string           `json:"league"`
	LeagueCoeffsApplied bool             `json:"leagueCoeffsApplied"`
	FromCache           *bool            `json:"fromCache"`
	FromMemory          *bool            `json:"fromMemory"`
	FromMemorySnake     *bool            `json:"from_memory"`
	CacheDisabled       *bool            `json:"cacheDisabled"`
	MostProbableScore   string           `json:"mostProbableScore"`
	TopPrediction       string           `json:"top_prediction"`
	Probabilities       Distribution     `json:"probabilities"`
	Confidence          *float64         `json:"confidence"`
	ExtractedScores     []ExtractedScore `json:"extractedScores"`
	AnalyzedAt          string           `json:"analyzedAt"`
	Timestamp           string           `json:"timestamp"`
}

// Failed reports whether the payload itself signals failure.
func (r RawAnalysis) Failed() bool {
	if r.Success != nil && !*r.Success {
		return true
	}
	return r.Error != ""
}

// Result is a normalized analysis. Probabilities and confidence are
// fractions in [0,1].
type Result struct {
	MatchID             string             `json:"matchId,omitempty"`
	Distribution        Distribution       `json:"probabilities"`
	MostProbableScore   string             `json:"mostProbableScore,omitempty"`
	Confidence          *float64           `json:"confidence,omitempty"`
	Top3                []ScoreProbability `json:"top3"`
	MatchName           string             `json:"matchName"`
	Bookmaker           string             `json:"bookmaker"`
	League              string             `json:"league,omitempty"`
	LeagueCoeffsApplied bool               `json:"leagueCoeffsApplied"`
	FromCache           bool               `json:"fromCache"`
	CacheDisabled       bool               `json:"cacheDisabled"`
	ExtractedScores     []ExtractedScore   `json:"extractedScores"`
	Timestamp           time.Time          `json:"timestamp"`
}

// Normalize derives a Result from a raw backend payload. It does no I/O.
func Normalize(raw RawAnalysis) Result {
	dist := raw.Probabilities.AsFractions()

	res := Result{
		MatchID:             raw.MatchID,
		Distribution:        dist,
		Top3:                dist.TopN(3),
		MatchName:           raw.MatchName,
		Bookmaker:           raw.Bookmaker,
		League:              raw.League,
		LeagueCoeffsApplied: raw.LeagueCoeffsApplied,
		FromCache:           firstSet(raw.FromCache, raw.FromMemory, raw.FromMemorySnake),
		ExtractedScores:     raw.ExtractedScores,
		Timestamp:           parseTimestamp(firstNonEmpty(raw.AnalyzedAt, raw.Timestamp)),
	}
	if res.ExtractedScores == nil {
		res.ExtractedScores = []ExtractedScore{}
	}
	if raw.CacheDisabled != nil {
		res.CacheDisabled = *raw.CacheDisabled
	}

	if best, ok := dist.ArgMax(); ok {
		res.MostProbableScore = best.Score
	} else {
		backend := firstNonEmpty(raw.MostProbableScore, raw.TopPrediction)
		if _, placeholder := scorePlaceholders[backend]; !placeholder {
			res.MostProbableScore = backend
		}
	}

	if raw.Confidence != nil {
		c := normalizeConfidence(*raw.Confidence)
		res.Confidence = &c
	}
	return res
}

// Band returns the confidence band; ok is false when the backend sent no
// confidence, which is not the same as a confidence of zero.
func (r Result) Band() (Band, bool) {
	if r.Confidence == nil {
		return "", false
	}
	return BandFor(*r.Confidence), true
}

// DisplayMatchName picks the match label to show. A manual override wins;
// otherwise the detected name is shown only when it is usable.
func (r Result) DisplayMatchName(manual string) string {
	if manual = strings.TrimSpace(manual); manual != "" {
		return manual
	}
	if UsableMatchName(r.MatchName) {
		return r.MatchName
	}
	return ""
}

// DisplayBookmaker hides the unknown-bookmaker sentinel.
func (r Result) DisplayBookmaker() string {
	if r.Bookmaker == UnknownBookmaker {
		return ""
	}
	return r.Bookmaker
}

// UsableMatchName rejects the undetected sentinel, league-only labels and
// OCR garbage.
func UsableMatchName(name string) bool {
	switch {
	case name == "", name == UndetectedMatchName:
		return false
	case strings.HasPrefix(name, leaguePrefix):
		return false
	case strings.Contains(name, ocrGarbageMarker):
		return false
	default:
		return true
	}
}

func normalizeConfidence(c float64) float64 {
	if c > 1 {
		return c / 100
	}
	return c
}

func firstSet(flags ...*bool) bool {
	for _, f := range flags {
		if f != nil {
			return *f
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

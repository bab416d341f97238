package analysis

import (
	"encoding/json"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestBandBoundaries(t *testing.T) {
	cases := []struct {
		confidence float64
		want       Band
	}{
		{0.75, BandHigh},
		{0.7, BandHigh},
		{0.55, BandMedium},
		{0.4, BandMedium},
		{0.39, BandLow},
		{0, BandLow},
	}
	for _, tc := range cases {
		if got := BandFor(tc.confidence); got != tc.want {
			t.Fatalf("confidence %v: expected %s, got %s", tc.confidence, tc.want, got)
		}
	}
}

func TestMissingConfidenceHasNoBand(t *testing.T) {
	res := Normalize(RawAnalysis{})
	if _, ok := res.Band(); ok {
		t.Fatal("expected no band without confidence")
	}

	zero := Normalize(RawAnalysis{Confidence: floatPtr(0)})
	band, ok := zero.Band()
	if !ok || band != BandLow {
		t.Fatalf("confidence 0 must be a low band, got %q ok=%v", band, ok)
	}
}

func TestConfidencePercentIsConverted(t *testing.T) {
	res := Normalize(RawAnalysis{Confidence: floatPtr(72)})
	if res.Confidence == nil || *res.Confidence != 0.72 {
		t.Fatalf("expected 0.72, got %v", res.Confidence)
	}
}

func TestEmptyDistributionUsesBackendScore(t *testing.T) {
	res := Normalize(RawAnalysis{MostProbableScore: "1-0"})
	if res.MostProbableScore != "1-0" {
		t.Fatalf("expected backend score, got %q", res.MostProbableScore)
	}
	if len(res.Top3) != 0 {
		t.Fatalf("expected empty top3, got %+v", res.Top3)
	}

	placeholder := Normalize(RawAnalysis{MostProbableScore: "Aucune donnée"})
	if placeholder.MostProbableScore != "" {
		t.Fatalf("placeholder must not become a score, got %q", placeholder.MostProbableScore)
	}
}

func TestDistributionOverridesBackendScore(t *testing.T) {
	raw := RawAnalysis{
		MostProbableScore: "0-0",
		Probabilities: NewDistribution(
			ScoreProbability{Score: "0-0", Probability: 10},
			ScoreProbability{Score: "2-1", Probability: 40},
		),
	}
	res := Normalize(raw)
	if res.MostProbableScore != "2-1" {
		t.Fatalf("expected argmax 2-1, got %s", res.MostProbableScore)
	}
	if p, _ := res.Distribution.Probability("2-1"); p != 0.4 {
		t.Fatalf("expected fraction 0.4, got %v", p)
	}
}

func TestProvenanceAliases(t *testing.T) {
	if !Normalize(RawAnalysis{FromMemory: boolPtr(true)}).FromCache {
		t.Fatal("fromMemory must mark a cache hit")
	}
	if !Normalize(RawAnalysis{FromMemorySnake: boolPtr(true)}).FromCache {
		t.Fatal("from_memory must mark a cache hit")
	}
	if Normalize(RawAnalysis{FromCache: boolPtr(false), FromMemory: boolPtr(true)}).FromCache {
		t.Fatal("fromCache takes precedence over aliases")
	}
}

func TestDisplayMatchName(t *testing.T) {
	cases := []struct {
		name     string
		detected string
		manual   string
		want     string
	}{
		{"valid", "PSG - OM", "", "PSG - OM"},
		{"league label", "League - Foo", "", ""},
		{"sentinel", UndetectedMatchName, "", ""},
		{"ocr garbage", "XXCANAIXX - Lyon", "", ""},
		{"manual replaces garbage", "League - Foo", "Lens - Lille", "Lens - Lille"},
		{"manual wins", "PSG - OM", "Nice - Monaco", "Nice - Monaco"},
		{"blank manual ignored", "PSG - OM", "   ", "PSG - OM"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Result{MatchName: tc.detected}.DisplayMatchName(tc.manual)
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeDecodedPayload(t *testing.T) {
	payload := []byte(`{
		"success": true,
		"fromMemory": false,
		"matchId": "abc",
		"matchName": "Moldavie - Italie",
		"bookmaker": "Bookmaker inconnu",
		"extractedScores": [{"score": "0-2", "odds": 7.5}],
		"mostProbableScore": "0-2",
		"probabilities": {"0-2": 18.4, "0-3": 15.1, "1-2": 11.0, "0-1": 18.4},
		"confidence": 0.41,
		"analyzedAt": "2025-11-05T01:09:04.123456"
	}`)
	var raw RawAnalysis
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw.Failed() {
		t.Fatal("payload must not be a failure")
	}

	res := Normalize(raw)
	if res.MostProbableScore != "0-2" {
		t.Fatalf("expected 0-2, got %s", res.MostProbableScore)
	}
	if res.Top3[1].Score != "0-1" || res.Top3[2].Score != "0-3" {
		t.Fatalf("unexpected top3 %+v", res.Top3)
	}
	if res.DisplayBookmaker() != "" {
		t.Fatalf("unknown bookmaker must be hidden, got %q", res.DisplayBookmaker())
	}
	want := time.Date(2025, 11, 5, 1, 9, 4, 123456000, time.UTC)
	if !res.Timestamp.Equal(want) {
		t.Fatalf("expected %s, got %s", want, res.Timestamp)
	}
	band, _ := res.Band()
	if band != BandMedium {
		t.Fatalf("expected medium band, got %s", band)
	}
}

func TestRawAnalysisFailed(t *testing.T) {
	if !(RawAnalysis{Error: "Aucune cote détectée dans l'image"}).Failed() {
		t.Fatal("error field must signal failure")
	}
	if !(RawAnalysis{Success: boolPtr(false)}).Failed() {
		t.Fatal("success=false must signal failure")
	}
	if (RawAnalysis{}).Failed() {
		t.Fatal("empty payload is not a failure")
	}
}

func TestResultJSONRoundTrip(t *testing.T) {
	res := Normalize(RawAnalysis{
		Probabilities: NewDistribution(
			ScoreProbability{Score: "1-1", Probability: 0.3},
			ScoreProbability{Score: "2-0", Probability: 0.3},
		),
		Confidence: floatPtr(0.5),
	})
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.MostProbableScore != "1-1" || back.Distribution.Sorted()[0].Score != "1-1" {
		t.Fatalf("tie order lost across cache round trip: %+v", back)
	}
	if back.Confidence == nil || *back.Confidence != 0.5 {
		t.Fatalf("confidence lost: %v", back.Confidence)
	}
}

package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

var scoreLabelPattern = regexp.MustCompile(`^\d{1,2}-\d{1,2}$`)

// ValidScoreLabel reports whether s looks like "2-1".
func ValidScoreLabel(s string) bool {
	return scoreLabelPattern.MatchString(s)
}

// ScoreProbability is one entry of a distribution.
type ScoreProbability struct {
	Score       string  `json:"score"`
	Probability float64 `json:"probability"`
}

// Distribution maps score labels to probabilities and remembers the order in
// which the backend listed them. That order breaks ties when ranking.
type Distribution struct {
	entries []ScoreProbability
	index   map[string]int
}

// NewDistribution builds a distribution from entries in order. A repeated
// score keeps its first position and takes the later value.
func NewDistribution(entries ...ScoreProbability) Distribution {
	var d Distribution
	for _, e := range entries {
		d.set(e.Score, e.Probability)
	}
	return d
}

func (d *Distribution) set(score string, p float64) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[score]; ok {
		d.entries[i].Probability = p
		return
	}
	d.index[score] = len(d.entries)
	d.entries = append(d.entries, ScoreProbability{Score: score, Probability: p})
}

func (d Distribution) Len() int { return len(d.entries) }

// Entries returns a copy of the entries in backend order.
func (d Distribution) Entries() []ScoreProbability {
	out := make([]ScoreProbability, len(d.entries))
	copy(out, d.entries)
	return out
}

// Probability looks up a single score.
func (d Distribution) Probability(score string) (float64, bool) {
	i, ok := d.index[score]
	if !ok {
		return 0, false
	}
	return d.entries[i].Probability, true
}

// Sorted returns every entry by descending probability. Equal values keep
// backend order, so the result is the same for the same input.
func (d Distribution) Sorted() []ScoreProbability {
	out := d.Entries()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}

// TopN returns at most n entries of Sorted.
func (d Distribution) TopN(n int) []ScoreProbability {
	if n <= 0 {
		return []ScoreProbability{}
	}
	sorted := d.Sorted()
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// ArgMax returns the most probable entry; the first listed wins a tie.
func (d Distribution) ArgMax() (ScoreProbability, bool) {
	if len(d.entries) == 0 {
		return ScoreProbability{}, false
	}
	best := d.entries[0]
	for _, e := range d.entries[1:] {
		if e.Probability > best.Probability {
			best = e
		}
	}
	return best, true
}

// AsFractions converts a percentage distribution (any value above 1) to
// fractions in [0,1]. Fraction distributions are returned unchanged.
func (d Distribution) AsFractions() Distribution {
	percent := false
	for _, e := range d.entries {
		if e.Probability > 1 {
			percent = true
			break
		}
	}
	if !percent {
		return d
	}
	out := Distribution{}
	for _, e := range d.entries {
		out.set(e.Score, e.Probability/100)
	}
	return out
}

// UnmarshalJSON decodes a JSON object token by token to keep key order.
// null decodes to an empty distribution and null values are skipped.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	*d = Distribution{}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("probabilities: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("probabilities: unexpected key %v", keyTok)
		}
		var value *float64
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("probabilities[%s]: %w", key, err)
		}
		if value == nil {
			continue
		}
		d.set(key, *value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON writes the distribution as an object in backend order.
func (d Distribution) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Score)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Probability)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

package analysis

// Band is the coarse certainty class of a prediction.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Lower bounds, inclusive.
const (
	HighConfidenceThreshold   = 0.7
	MediumConfidenceThreshold = 0.4
)

// BandFor classifies a confidence in [0,1].
func BandFor(confidence float64) Band {
	switch {
	case confidence >= HighConfidenceThreshold:
		return BandHigh
	case confidence >= MediumConfidenceThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// Interpretation is the product copy shown next to the confidence gauge.
type Interpretation struct {
	Label    string `json:"label"`
	Headline string `json:"headline"`
	Advice   string `json:"advice"`
}

var interpretations = map[Band]Interpretation{
	BandHigh: {
		Label:    "Confiance Élevée",
		Headline: "Prédiction très fiable. Un score domine clairement, ce qui indique une forte probabilité pour ce résultat.",
		Advice:   "Vous pouvez vous fier à cette prédiction avec confiance. Le score indiqué a une forte probabilité de se réaliser.",
	},
	BandMedium: {
		Label:    "Confiance Moyenne",
		Headline: "Prédiction modérée. Plusieurs scores possibles, mais avec quelques favoris qui se dégagent.",
		Advice:   "Restez prudent. Considérez les autres scores du Top 3 et envisagez des paris combinés.",
	},
	BandLow: {
		Label:    "Confiance Faible",
		Headline: "Prédiction incertaine. Match très ouvert avec de nombreuses possibilités. Aucun favori clair ne se dégage.",
		Advice:   "Prudence maximale recommandée. Évitez les paris importants sur un seul score. Match très imprévisible.",
	},
}

// Interpretation returns the copy for b.
func (b Band) Interpretation() Interpretation {
	return interpretations[b]
}

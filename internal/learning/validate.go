package learning

import (
	"strings"

	"github.com/example/scoreslip/internal/analysis"
	"github.com/example/scoreslip/internal/apperr"
)

// OtherScore is the predicted-score literal meaning "some other score".
const OtherScore = "autre"

// Submission is a validated predicted/real pair.
type Submission struct {
	Predicted string
	Real      string
	HomeTeam  string
	AwayTeam  string
}

// Validate checks a pair before anything is sent. Scores are not trimmed;
// "2-1 " is rejected like the form does.
func Validate(predicted, real string) (Submission, error) {
	if predicted == "" || real == "" {
		return Submission{}, apperr.NewValidationError("scores", "Veuillez remplir les deux scores")
	}
	if !analysis.ValidScoreLabel(predicted) && !strings.EqualFold(predicted, OtherScore) {
		return Submission{}, apperr.NewValidationError("predicted", "Format du score prédit invalide. Utilisez le format X-Y (ex: 2-1)")
	}
	if !analysis.ValidScoreLabel(real) {
		return Submission{}, apperr.NewValidationError("real", "Format du score réel invalide. Utilisez le format X-Y (ex: 2-1)")
	}
	return Submission{Predicted: predicted, Real: real}, nil
}

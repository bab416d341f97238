// Package route names the gateway's views and the analysis profile each
// one runs with.
package route

import (
	"fmt"
	"strings"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/backend"
)

// Route is the single source of truth for the current view.
type Route string

const (
	Production Route = "production"
	Test       Route = "test"
	Analyzer   Route = "analyzer"
	Dashboard  Route = "dashboard"
)

// All lists the routes in menu order.
var All = []Route{Production, Test, Analyzer, Dashboard}

// Parse accepts a route name case-insensitively.
func Parse(s string) (Route, error) {
	r := Route(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range All {
		if r == known {
			return r, nil
		}
	}
	return "", apperr.NewValidationError("route", fmt.Sprintf("vue inconnue: %q", s))
}

func (r Route) String() string { return string(r) }

// Profile is what an analysis on a route may do.
type Profile struct {
	Analyzes           bool
	Timeout            backend.TimeoutClass
	AllowCacheToggle   bool
	AllowLeagueOptions bool
	// TopN is the ranked list length the view renders.
	TopN int
}

var profiles = map[Route]Profile{
	Production: {Analyzes: true, Timeout: backend.Interactive, TopN: 3},
	Test:       {Analyzes: true, Timeout: backend.Interactive, AllowCacheToggle: true, TopN: 3},
	Analyzer:   {Analyzes: true, Timeout: backend.Extended, AllowCacheToggle: true, AllowLeagueOptions: true, TopN: 10},
	Dashboard:  {},
}

// Profile returns r's analysis profile.
func (r Route) Profile() Profile {
	return profiles[r]
}

// Apply strips the options r does not offer. The manual match name is
// display-only and always kept. Analysis on a non-analyzing route is a
// validation error.
func (r Route) Apply(opts backend.RequestOptions) (backend.RequestOptions, error) {
	p := r.Profile()
	if !p.Analyzes {
		return backend.RequestOptions{}, apperr.NewValidationError("route", fmt.Sprintf("la vue %s ne permet pas d'analyse", r))
	}
	out := backend.RequestOptions{ManualMatchName: opts.ManualMatchName}
	if p.AllowCacheToggle {
		out.DisableCache = opts.DisableCache
	}
	if p.AllowLeagueOptions {
		out.UseLeagueCoefficients = opts.UseLeagueCoefficients
		out.League = opts.League
	}
	return out, nil
}

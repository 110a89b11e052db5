package api

import (
	"errors"
	"fmt"
	"net/http"

	"snap/config"
	"snap/registry"
)

// Pipeline stage names, in the order they see a request
const (
	StageErrorTranslation  = "error-translation"
	StageExceptionPage     = "developer-exception-page"
	StageDocumentation     = "api-documentation"
	StageTransportSecurity = "transport-security"
	StageAuthentication    = "authentication"
	StageAuthorization     = "authorization"
	StageDispatch          = "dispatch"
)

// ErrDocsUnavailable is returned when the development pipeline has no API documentation handler
var ErrDocsUnavailable = errors.New("api documentation handler is not registered")

// Stage is one named step of request processing
type Stage struct {
	Name string
	Wrap func(next http.Handler) http.Handler
}

// BuildPipeline resolves the HTTP dependencies from rt and returns the ordered
// stages for profile. The developer exception page and the API documentation
// are only present in development. The result is fixed for the process lifetime.
func BuildPipeline(rt *registry.Runtime, profile config.Profile, opts ...Option) ([]Stage, error) {
	deps, err := DependenciesFrom(rt)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pipeline dependencies: %w", err)
	}
	return NewAPI(deps, opts...).Pipeline(profile)
}

// Pipeline returns the ordered stages around this API's router
func (a *API) Pipeline(profile config.Profile) ([]Stage, error) {
	dev := profile.IsDevelopment()
	if dev && a.deps.Docs == nil {
		return nil, ErrDocsUnavailable
	}

	stages := []Stage{{Name: StageErrorTranslation, Wrap: a.translateErrors}}
	if dev {
		stages = append(stages,
			Stage{Name: StageExceptionPage, Wrap: a.exceptionPage},
			Stage{Name: StageDocumentation, Wrap: a.documentation},
		)
	}
	stages = append(stages,
		Stage{Name: StageTransportSecurity, Wrap: a.transportSecurity(profile)},
		Stage{Name: StageAuthentication, Wrap: a.authenticate},
		Stage{Name: StageAuthorization, Wrap: a.authorize},
		Stage{Name: StageDispatch, Wrap: func(http.Handler) http.Handler { return a.router }},
	)
	return stages, nil
}

// Compose chains stages so the first one is outermost
func Compose(stages []Stage) http.Handler {
	var h http.Handler = http.NotFoundHandler()
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i].Wrap(h)
	}
	return h
}

// Names lists the stage names in order
func Names(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pkgres/internal/health"
	"github.com/keithlinneman/pkgres/internal/httpmw"
	"github.com/keithlinneman/pkgres/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// APIRoutes registers the resource API on the router.
	APIRoutes func(chi.Router)

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler

	Health    health.Probe
	Readiness health.Probe

	// ManifestInfo feeds the X-Manifest-Hash response header.
	ManifestInfo httpmw.ManifestInfo

	ClientIPOpts httpmw.ClientIPOptions
}

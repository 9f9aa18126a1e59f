package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ManifestInfo provides the active manifest identity for headers
type ManifestInfo interface {
	ManifestHash() string
}

// ManifestHeaders middleware adds an X-Manifest-Hash header to all responses
// so clients can tell which package set answered them
func ManifestHeaders(info ManifestInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				if h := info.ManifestHash(); h != "" {
					// Use short hash for header (first 12 chars)
					headerHash := h
					if len(headerHash) > 12 {
						headerHash = headerHash[:12]
					}
					w.Header().Set("X-Manifest-Hash", headerHash)

					// Enrich the current trace span with manifest identity
					if span := trace.SpanFromContext(r.Context()); span != nil && span.IsRecording() {
						span.SetAttributes(attribute.String("manifest.hash", h))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

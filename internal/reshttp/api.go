// Package reshttp exposes the resource service over HTTP: package listing
// plus resource streaming, with loader errors mapped onto status codes.
package reshttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pkgres/internal/log"
	"github.com/keithlinneman/pkgres/internal/registry"
	"github.com/keithlinneman/pkgres/internal/resource"
)

// Opener is the interface the API needs from the resource service.
type Opener interface {
	Open(ctx context.Context, pkg, name string) (io.ReadCloser, error)
}

// PackageSet is the interface the API needs from the registry.
type PackageSet interface {
	List() []string
	ManifestHash() string
	Source() registry.Source
	LoadedAt() time.Time
}

// API implements the resource API endpoints
type API struct {
	svc      Opener
	packages PackageSet
	logger   log.Logger
}

// NewAPI creates a new resource API handler
func NewAPI(svc Opener, packages PackageSet, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		svc:      svc,
		packages: packages,
		logger:   logger,
	}
}

// RegisterRoutes attaches resource endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/packages", api.HandleListPackages)
	r.Get("/api/v1/packages/{package}/resources/*", api.HandleGetResource)
	r.Head("/api/v1/packages/{package}/resources/*", api.HandleGetResource)
}

// ListPackagesResponse describes the active package set.
type ListPackagesResponse struct {
	Packages     []string        `json:"packages"`
	ManifestHash string          `json:"manifest_hash,omitempty"`
	Source       registry.Source `json:"source,omitempty"`
	LoadedAt     time.Time       `json:"loaded_at,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleListPackages serves the identifiers in the active package set.
func (api *API) HandleListPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids := api.packages.List()
	if ids == nil {
		ids = []string{}
	}

	resp := ListPackagesResponse{
		Packages:     ids,
		ManifestHash: api.packages.ManifestHash(),
		Source:       api.packages.Source(),
		LoadedAt:     api.packages.LoadedAt().Truncate(time.Second),
	}

	api.logger.Debug(ctx, "served package list", "packages", len(ids))
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleGetResource streams one resource. Loader errors map to status codes:
// invalid names and module identifiers are client errors, missing packages
// and resources are 404, everything else is a 500.
func (api *API) HandleGetResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pkg := chi.URLParam(r, "package")
	name := chi.URLParam(r, "*")

	rc, err := api.svc.Open(ctx, pkg, name)
	if err != nil {
		status, msg := statusForError(err)
		if status == http.StatusInternalServerError {
			api.logger.Error(ctx, err, "resource open failed",
				"package", pkg,
				"resource", name,
			)
			msg = "internal error"
		}
		api.writeJSON(ctx, w, status, errorResponse{Error: msg})
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := io.Copy(w, rc); err != nil {
		// headers are already out, nothing to do but log
		api.logger.Warn(ctx, "resource stream interrupted",
			"package", pkg,
			"resource", name,
			"error", err,
		)
	}
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, resource.ErrInvalidPath):
		return http.StatusBadRequest, "invalid resource path"
	case errors.Is(err, resource.ErrNotAPackage):
		return http.StatusBadRequest, "not a package"
	case errors.Is(err, registry.ErrUnknownPackage):
		return http.StatusNotFound, "unknown package"
	case errors.Is(err, resource.ErrNotFound):
		return http.StatusNotFound, "resource not found"
	default:
		return http.StatusInternalServerError, ""
	}
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

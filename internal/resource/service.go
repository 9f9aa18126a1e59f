package resource

import (
	"context"
	"errors"
	"io"
	"os"
	"path"

	"github.com/keithlinneman/pkgres/internal/log"
	"github.com/keithlinneman/pkgres/internal/respath"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

type Options struct {
	// Resolver maps package identifiers to loaders. Required.
	Resolver Resolver

	// Logger receives cleanup diagnostics from materialization. Optional.
	Logger log.Logger
}

// Service is the caller-facing entry point for resource access. It holds no
// mutable state, so a single instance is safe for concurrent use.
type Service struct {
	resolver Resolver
	logger   log.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Resolver == nil {
		return nil, xerrors.New("Resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Service{resolver: opts.Resolver, logger: opts.Logger}, nil
}

// Open returns a binary stream over the named resource. The caller owns the
// returned stream and must close it. Path normalization runs before package
// resolution, so a call with both a bad path and a bad identifier fails with
// ErrInvalidPath.
func (s *Service) Open(ctx context.Context, pkg, name string) (io.ReadCloser, error) {
	clean, err := respath.Normalize(name)
	if err != nil {
		return nil, err
	}
	ld, err := s.resolveLoader(ctx, pkg)
	if err != nil {
		return nil, err
	}
	return ld.OpenResource(ctx, clean)
}

// WithPath yields a real filesystem path for the named resource to fn,
// valid only until fn returns.
//
// When the backend has a native path for the resource, fn receives it
// directly and no copy is made. Otherwise the resource bytes are copied to a
// uniquely named temporary file which is removed after fn returns - on
// success, error, or panic inside fn. The temp file being already gone at
// cleanup time is fine (fn is allowed to delete or rename it); any other
// removal failure is logged at warn level and never becomes the call's
// result.
func (s *Service) WithPath(ctx context.Context, pkg, name string, fn func(path string) error) error {
	clean, err := respath.Normalize(name)
	if err != nil {
		return err
	}
	ld, err := s.resolveLoader(ctx, pkg)
	if err != nil {
		return err
	}

	// fast path: backend owns a real file, nothing to create or clean up
	native, err := ld.ResourcePath(ctx, clean)
	if err == nil {
		return fn(native)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	// no native path; a true ErrNotFound from the read propagates as-is
	rc, err := ld.OpenResource(ctx, clean)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		s.logger.Warn(ctx, "resource stream close failed after read",
			"package", pkg, "path", clean, "error", cerr)
	}
	if err != nil {
		return xerrors.Wrapf(err, "read resource %s:%s", pkg, clean)
	}

	tmp, err := os.CreateTemp("", "pkgres-*"+path.Ext(clean))
	if err != nil {
		return xerrors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	// deferred so cleanup also runs when fn panics or the write fails
	defer s.removeTemp(ctx, tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return xerrors.Wrapf(err, "write temp file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrapf(err, "close temp file %s", tmpPath)
	}

	return fn(tmpPath)
}

func (s *Service) resolveLoader(ctx context.Context, id string) (Loader, error) {
	pe, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pe.IsPackage {
		return nil, xerrors.Newf("%w: %q is a module, not a package", ErrNotAPackage, id)
	}
	if pe.Loader == nil {
		return Unsupported{}, nil
	}
	return pe.Loader, nil
}

func (s *Service) removeTemp(ctx context.Context, p string) {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		s.logger.Warn(ctx, "failed to remove materialized temp file",
			"path", p, "error", err)
	}
}

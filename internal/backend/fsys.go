package backend

import (
	"context"
	"io"
	"io/fs"

	"github.com/keithlinneman/pkgres/internal/resource"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

// FS adapts any fs.FS (embed.FS, fstest.MapFS, extracted bundles) to the
// loader contract. Resources live only behind the fs.FS abstraction, so
// there are no native paths and ResourcePath always reports ErrNotFound.
type FS struct {
	resource.Unsupported
	fsys fs.FS
}

func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

func (f *FS) OpenResource(ctx context.Context, name string) (io.ReadCloser, error) {
	if f.fsys == nil || !fs.ValidPath(name) {
		return nil, xerrors.Newf("%w: %q", resource.ErrNotFound, name)
	}
	info, err := fs.Stat(f.fsys, name)
	if err != nil || info.IsDir() {
		return nil, xerrors.Newf("%w: %q", resource.ErrNotFound, name)
	}
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, xerrors.Newf("%w: %q", resource.ErrNotFound, name)
	}
	return file, nil
}

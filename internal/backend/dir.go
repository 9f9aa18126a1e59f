package backend

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/pkgres/internal/resource"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

// Dir serves resources from a plain directory tree rooted at an absolute
// path. It is the one backend with real filesystem paths, so materialization
// of its resources never copies bytes.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve root %q", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat root %q", abs)
	}
	if !info.IsDir() {
		return nil, xerrors.Newf("root %q is not a directory", abs)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute directory this backend serves from.
func (d *Dir) Root() string { return d.root }

func (d *Dir) OpenResource(ctx context.Context, name string) (io.ReadCloser, error) {
	p, err := d.join(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return nil, xerrors.Newf("%w: %q", resource.ErrNotFound, name)
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Newf("%w: %q", resource.ErrNotFound, name)
		}
		return nil, xerrors.Wrapf(err, "open %s", p)
	}
	return f, nil
}

func (d *Dir) ResourcePath(ctx context.Context, name string) (string, error) {
	p, err := d.join(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", xerrors.Newf("%w: %q", resource.ErrNotFound, name)
	}
	return p, nil
}

// join maps a normalized /-separated resource name onto the root. Names
// arrive normalized from the resource service, but containment is
// double-checked here so the backend stays safe standalone.
func (d *Dir) join(name string) (string, error) {
	target := filepath.Join(d.root, filepath.FromSlash(name))
	if !strings.HasPrefix(target, d.root+string(os.PathSeparator)) {
		return "", xerrors.Newf("%w: %q escapes package root", resource.ErrInvalidPath, name)
	}
	return target, nil
}

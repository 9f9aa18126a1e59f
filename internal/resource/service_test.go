package resource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeLoader serves from an in-memory map; when nativeDir is set it also
// answers ResourcePath for names that exist on disk under that directory.
type fakeLoader struct {
	files     map[string][]byte
	nativeDir string

	openCalls int
	pathCalls int
}

func (f *fakeLoader) OpenResource(ctx context.Context, name string) (io.ReadCloser, error) {
	f.openCalls++
	data, ok := f.files[name]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeLoader) ResourcePath(ctx context.Context, name string) (string, error) {
	f.pathCalls++
	if f.nativeDir == "" {
		return "", ErrNotFound
	}
	p := filepath.Join(f.nativeDir, filepath.FromSlash(name))
	if _, err := os.Stat(p); err != nil {
		return "", ErrNotFound
	}
	return p, nil
}

type fixedResolver struct {
	pkgs  map[string]*Package
	calls int
}

func (r *fixedResolver) Resolve(ctx context.Context, id string) (*Package, error) {
	r.calls++
	pe, ok := r.pkgs[id]
	if !ok {
		return nil, errors.New("import failed: " + id)
	}
	return pe, nil
}

func newTestService(t *testing.T, pkgs map[string]*Package) (*Service, *fixedResolver) {
	t.Helper()
	r := &fixedResolver{pkgs: pkgs}
	s, err := New(Options{Resolver: r})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, r
}

func TestNew_RequiresResolver(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for missing Resolver")
	}
}

func TestOpen_RoundTrip(t *testing.T) {
	want := []byte("template contents\n")
	ld := &fakeLoader{files: map[string][]byte{"templates/base.tmpl": want}}
	s, _ := newTestService(t, map[string]*Package{
		"app.assets": {Name: "app.assets", IsPackage: true, Loader: ld},
	})

	rc, err := s.Open(context.Background(), "app.assets", "templates/base.tmpl")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("contents = %q, want %q", got, want)
	}
}

func TestOpen_NormalizesBeforeLoader(t *testing.T) {
	ld := &fakeLoader{files: map[string][]byte{"b": []byte("x")}}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	// "a/../b" must reach the loader as "b"
	rc, err := s.Open(context.Background(), "p", "a/../b")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc.Close()
}

func TestOpen_NotFound(t *testing.T) {
	ld := &fakeLoader{files: map[string][]byte{}}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	_, err := s.Open(context.Background(), "p", "missing.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOpen_InvalidPathSkipsResolution(t *testing.T) {
	s, r := newTestService(t, nil)

	_, err := s.Open(context.Background(), "whatever", "../escape")
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
	if r.calls != 0 {
		t.Errorf("resolver called %d times for an invalid path, want 0", r.calls)
	}
}

func TestOpen_ResolutionFailurePropagates(t *testing.T) {
	s, _ := newTestService(t, nil)

	_, err := s.Open(context.Background(), "no.such.pkg", "data.txt")
	if err == nil || !strings.Contains(err.Error(), "import failed") {
		t.Fatalf("err = %v, want propagated resolver error", err)
	}
}

func TestOpen_NotAPackage(t *testing.T) {
	s, _ := newTestService(t, map[string]*Package{
		"app.module": {Name: "app.module", IsPackage: false},
	})

	_, err := s.Open(context.Background(), "app.module", "data.txt")
	if !errors.Is(err, ErrNotAPackage) {
		t.Fatalf("err = %v, want ErrNotAPackage", err)
	}
}

// With both a non-package identifier and an invalid path, normalization runs
// first so ErrInvalidPath wins. Both orderings are pinned here so the
// precedence stays deterministic.
func TestErrorPrecedence_InvalidPathBeatsNotAPackage(t *testing.T) {
	s, _ := newTestService(t, map[string]*Package{
		"app.module": {Name: "app.module", IsPackage: false},
	})

	_, err := s.Open(context.Background(), "app.module", "../escape")
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("bad path + module: err = %v, want ErrInvalidPath", err)
	}

	_, err = s.Open(context.Background(), "app.module", "fine.txt")
	if !errors.Is(err, ErrNotAPackage) {
		t.Fatalf("good path + module: err = %v, want ErrNotAPackage", err)
	}
}

func TestOpen_NilLoaderBehavesUnsupported(t *testing.T) {
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: nil},
	})

	_, err := s.Open(context.Background(), "p", "anything")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWithPath_NativeFastPath(t *testing.T) {
	dir := t.TempDir()
	want := []byte("native bytes")
	if err := os.WriteFile(filepath.Join(dir, "cfg.json"), want, 0o644); err != nil {
		t.Fatal(err)
	}

	ld := &fakeLoader{
		files:     map[string][]byte{"cfg.json": want},
		nativeDir: dir,
	}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	var got string
	err := s.WithPath(context.Background(), "p", "cfg.json", func(p string) error {
		got = p
		return nil
	})
	if err != nil {
		t.Fatalf("WithPath: %v", err)
	}
	if got != filepath.Join(dir, "cfg.json") {
		t.Errorf("path = %q, want native path under %q", got, dir)
	}
	if ld.openCalls != 0 {
		t.Errorf("OpenResource called %d times on the fast path, want 0", ld.openCalls)
	}
	// backend owns the native path, it must survive the scope
	if _, err := os.Stat(got); err != nil {
		t.Errorf("native path removed after scope: %v", err)
	}
}

func TestWithPath_FallbackMaterializesAndCleansUp(t *testing.T) {
	want := []byte("archived bytes")
	ld := &fakeLoader{files: map[string][]byte{"blob.bin": want}}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	var tmpPath string
	err := s.WithPath(context.Background(), "p", "blob.bin", func(p string) error {
		tmpPath = p
		got, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			t.Errorf("temp contents = %q, want %q", got, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithPath: %v", err)
	}
	if tmpPath == "" {
		t.Fatal("fn never called")
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file %q still exists after scope", tmpPath)
	}
}

func TestWithPath_CleanupOnFnError(t *testing.T) {
	ld := &fakeLoader{files: map[string][]byte{"x": []byte("data")}}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	sentinel := errors.New("caller bailed")
	var tmpPath string
	err := s.WithPath(context.Background(), "p", "x", func(p string) error {
		tmpPath = p
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want caller error", err)
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file %q survived fn error", tmpPath)
	}
}

func TestWithPath_CleanupOnFnPanic(t *testing.T) {
	ld := &fakeLoader{files: map[string][]byte{"x": []byte("data")}}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	var tmpPath string
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = s.WithPath(context.Background(), "p", "x", func(p string) error {
			tmpPath = p
			panic("mid-scope failure")
		})
	}()

	if tmpPath == "" {
		t.Fatal("fn never called")
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file %q survived panic", tmpPath)
	}
}

func TestWithPath_ToleratesCallerRemovingFile(t *testing.T) {
	ld := &fakeLoader{files: map[string][]byte{"x": []byte("data")}}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	err := s.WithPath(context.Background(), "p", "x", func(p string) error {
		return os.Remove(p)
	})
	if err != nil {
		t.Fatalf("WithPath after caller removal: %v", err)
	}
}

func TestWithPath_NotFoundCreatesNothing(t *testing.T) {
	ld := &fakeLoader{files: map[string][]byte{}}
	s, _ := newTestService(t, map[string]*Package{
		"p": {Name: "p", IsPackage: true, Loader: ld},
	})

	called := false
	err := s.WithPath(context.Background(), "p", "missing", func(p string) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if called {
		t.Error("fn called for a missing resource")
	}
}

func TestWithPath_InvalidPath(t *testing.T) {
	s, _ := newTestService(t, nil)

	err := s.WithPath(context.Background(), "p", "/abs/path", func(string) error { return nil })
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("err = %v, want ErrInvalidPath", err)
	}
}

func TestUnsupported_AlwaysNotFound(t *testing.T) {
	var u Unsupported
	if _, err := u.OpenResource(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenResource err = %v, want ErrNotFound", err)
	}
	if _, err := u.ResourcePath(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResourcePath err = %v, want ErrNotFound", err)
	}
}

package registry

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/pkgres/internal/resource"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

// ErrUnknownPackage is returned by Resolve for identifiers the active
// snapshot has no entry for.
var ErrUnknownPackage = xerrors.New("unknown package")

// Source identifies where a snapshot's package set came from.
type Source string

const (
	SourceUnknown Source = ""
	SourceStatic  Source = "static"
	SourceFile    Source = "file"
	SourceS3      Source = "s3"
)

// Meta describes the provenance of a snapshot.
type Meta struct {
	// SHA256 of the manifest document the snapshot was built from,
	// empty for purely static snapshots.
	SHA256 string

	Source     Source
	VerifiedAt time.Time
}

// Snapshot is an immutable package set. Build one and hand it to
// Registry.Set; never mutate Packages afterwards.
type Snapshot struct {
	Packages map[string]resource.Package
	Meta     Meta
	LoadedAt time.Time
}

// Registry holds the active snapshot and implements resource.Resolver
// against it.
type Registry struct {
	active atomic.Pointer[Snapshot]
}

func New() *Registry { return &Registry{} }

// Set swaps in a new snapshot. Readers in flight keep the old one.
func (r *Registry) Set(s Snapshot) {
	cp := new(Snapshot)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	r.active.Store(cp)
}

// Get retrieves the active snapshot value
func (r *Registry) Get() (*Snapshot, bool) {
	s := r.active.Load()
	return s, s != nil && s.Packages != nil
}

// Resolve implements resource.Resolver.
func (r *Registry) Resolve(ctx context.Context, id string) (*resource.Package, error) {
	s := r.active.Load()
	if s == nil {
		return nil, xerrors.Newf("%w: %q (no package set loaded)", ErrUnknownPackage, id)
	}
	pkg, ok := s.Packages[id]
	if !ok {
		return nil, xerrors.Newf("%w: %q", ErrUnknownPackage, id)
	}
	return &pkg, nil
}

// List returns the identifiers in the active snapshot, sorted.
func (r *Registry) List() []string {
	s := r.active.Load()
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Packages))
	for id := range s.Packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ManifestHash returns the hash of the active manifest, or "" if none.
func (r *Registry) ManifestHash() string {
	s := r.active.Load()
	if s == nil {
		return ""
	}
	return s.Meta.SHA256
}

// Source returns the source of the active snapshot.
func (r *Registry) Source() Source {
	s := r.active.Load()
	if s == nil {
		return SourceUnknown
	}
	return s.Meta.Source
}

// LoadedAt returns when the active snapshot was installed, or zero.
func (r *Registry) LoadedAt() time.Time {
	s := r.active.Load()
	if s == nil {
		return time.Time{}
	}
	return s.LoadedAt
}

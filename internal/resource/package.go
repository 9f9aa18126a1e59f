package resource

import "context"

// Package is the resolved view of a package identifier: whether it is a real
// package (has sub-locations) and the loader that answers resource queries
// for it.
type Package struct {
	// Name is the identifier the package was resolved under.
	Name string

	// IsPackage reports whether the entity can contain resources. Leaf
	// modules resolve with IsPackage=false and are rejected by the
	// Service with ErrNotAPackage.
	IsPackage bool

	// Loader answers resource queries for this package. A nil Loader
	// behaves like Unsupported.
	Loader Loader
}

// Resolver is the import-resolution collaborator. Resolution may trigger
// first-time loading of the package as a side effect; its failures propagate
// to callers unchanged. Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Package, error)
}

// ResolverFunc adapts a function into a Resolver, mainly for tests.
type ResolverFunc func(ctx context.Context, id string) (*Package, error)

func (f ResolverFunc) Resolve(ctx context.Context, id string) (*Package, error) {
	return f(ctx, id)
}

package resource

import (
	"context"
	"io"
)

// Loader is the capability contract every package-storage backend satisfies.
// Implementations must be stateless beyond what they need to answer the two
// queries, and are treated as read-only during resource access. Paths handed
// to a Loader are already normalized by the Service.
type Loader interface {
	// OpenResource returns a readable binary stream positioned at the
	// start of the resource, or ErrNotFound if the path does not
	// correspond to an existing resource. Ownership of the stream
	// transfers to the caller.
	OpenResource(ctx context.Context, name string) (io.ReadCloser, error)

	// ResourcePath returns a real filesystem path at which the resource's
	// bytes can be read directly. ErrNotFound here means only that the
	// backend cannot produce a native path (archived or remote bytes);
	// the resource may still exist via OpenResource.
	ResourcePath(ctx context.Context, name string) (string, error)
}

// Unsupported is the default backend behavior: every query fails with
// ErrNotFound. Embed it in backends that only support one of the two
// capabilities.
type Unsupported struct{}

func (Unsupported) OpenResource(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}

func (Unsupported) ResourcePath(ctx context.Context, name string) (string, error) {
	return "", ErrNotFound
}

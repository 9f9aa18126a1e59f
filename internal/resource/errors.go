package resource

import (
	"errors"

	"github.com/keithlinneman/pkgres/internal/respath"
)

var (
	// ErrInvalidPath covers absolute paths and paths that escape the
	// package root. Raised before any I/O.
	ErrInvalidPath = respath.ErrInvalidPath

	// ErrNotFound means the resource does not exist for the package/path
	// pair. From ResourcePath it is a recoverable signal that the backend
	// has no native path for the resource; from OpenResource it is final.
	ErrNotFound = errors.New("resource not found")

	// ErrNotAPackage means the identifier resolved to a leaf module with
	// no sub-locations. Raised before any resource I/O.
	ErrNotAPackage = errors.New("not a package")
)

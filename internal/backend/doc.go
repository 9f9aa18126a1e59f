// Package backend provides the built-in loader implementations: plain
// directory trees, fs.FS wrappers (embedded or in-memory), tar.gz resource
// bundles, and S3-backed packages.
//
// Each backend is stateless and independent; only Dir can answer native-path
// queries, the rest report ErrNotFound from ResourcePath so the resource
// service falls back to temp-file materialization.
package backend

// Package resource provides uniform, read-only access to data files bundled
// with named packages, independent of how a package is physically stored.
//
// A backend implements the two-operation Loader contract; the Service layers
// path normalization, package resolution, and temp-file materialization on
// top of it. Callers either stream resource bytes with Open or borrow a real
// filesystem path for a bounded scope with WithPath.
package resource

// Package registry maps package identifiers to their loaders. The active
// package set is held behind an atomic pointer so a manifest reload swaps
// the whole set at once while readers keep resolving against a consistent
// snapshot.
//
// Package sets come from three places: static packages wired in at startup
// (embedded seed assets, local directories), a JSON manifest fetched from S3
// and pinned by an SSM parameter, or a manifest file on disk. The Watcher
// polls SSM and hot-swaps the registry when the manifest hash changes.
package registry

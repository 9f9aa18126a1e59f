package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/pkgres/internal/backend"
	"github.com/keithlinneman/pkgres/internal/cryptoutil"
	"github.com/keithlinneman/pkgres/internal/resource"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

// maxManifestSize caps a manifest document fetched from S3 or disk.
const maxManifestSize int64 = 1 * 1024 * 1024 // 1MB

// manifestVersion is the only schema version this build understands.
const manifestVersion = 1

// Manifest is the JSON document describing a package set.
type Manifest struct {
	Version  int             `json:"version"`
	Packages []ManifestEntry `json:"packages"`
}

// ManifestEntry declares one package and the backend its resources live in.
// Entries with IsPackage=false are modules without a resource container;
// they resolve but refuse resource access.
type ManifestEntry struct {
	Name      string       `json:"name"`
	IsPackage bool         `json:"package"`
	Backend   *BackendSpec `json:"backend,omitempty"`
}

// BackendSpec selects and configures a backend for one package.
type BackendSpec struct {
	// Type is one of "dir", "bundle", "s3".
	Type string `json:"type"`

	// dir
	Root string `json:"root,omitempty"`

	// bundle: s3://{bucket}/{key}, verified against SHA256
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	SHA256 string `json:"sha256,omitempty"`

	// s3: objects under {bucket}/{prefix}/{resource}
	Prefix string `json:"prefix,omitempty"`
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, xerrors.Wrap(err, "decode manifest")
	}
	if m.Version != manifestVersion {
		return nil, xerrors.Newf("unsupported manifest version %d (want %d)", m.Version, manifestVersion)
	}

	seen := make(map[string]bool, len(m.Packages))
	for i, e := range m.Packages {
		if e.Name == "" {
			return nil, xerrors.Newf("manifest entry %d has no name", i)
		}
		if seen[e.Name] {
			return nil, xerrors.Newf("duplicate package %q in manifest", e.Name)
		}
		seen[e.Name] = true

		if !e.IsPackage {
			if e.Backend != nil {
				return nil, xerrors.Newf("package %q: module entries cannot declare a backend", e.Name)
			}
			continue
		}
		if e.Backend == nil {
			return nil, xerrors.Newf("package %q: missing backend", e.Name)
		}
		switch e.Backend.Type {
		case "dir":
			if e.Backend.Root == "" {
				return nil, xerrors.Newf("package %q: dir backend requires root", e.Name)
			}
		case "bundle":
			if e.Backend.Bucket == "" || e.Backend.Key == "" {
				return nil, xerrors.Newf("package %q: bundle backend requires bucket and key", e.Name)
			}
		case "s3":
			if e.Backend.Bucket == "" {
				return nil, xerrors.Newf("package %q: s3 backend requires bucket", e.Name)
			}
		default:
			return nil, xerrors.Newf("package %q: unknown backend type %q", e.Name, e.Backend.Type)
		}
	}
	return &m, nil
}

// BuildOptions carries the collaborators manifest construction needs.
type BuildOptions struct {
	// S3Client is required when any entry uses a bundle or s3 backend.
	S3Client backend.S3API

	// Static packages merged underneath the manifest; a manifest entry
	// with the same name wins.
	Static []resource.Package
}

// Build constructs a Snapshot from a parsed manifest. Bundle backends are
// fetched and verified here, so a snapshot that builds is fully servable.
func Build(ctx context.Context, m *Manifest, opts BuildOptions) (*Snapshot, error) {
	pkgs := make(map[string]resource.Package, len(m.Packages)+len(opts.Static))
	for _, p := range opts.Static {
		pkgs[p.Name] = p
	}

	for _, e := range m.Packages {
		pkg := resource.Package{Name: e.Name, IsPackage: e.IsPackage}
		if e.IsPackage {
			ldr, err := buildBackend(ctx, e, opts)
			if err != nil {
				return nil, err
			}
			pkg.Loader = ldr
		}
		pkgs[e.Name] = pkg
	}

	return &Snapshot{Packages: pkgs}, nil
}

func buildBackend(ctx context.Context, e ManifestEntry, opts BuildOptions) (resource.Loader, error) {
	switch e.Backend.Type {
	case "dir":
		d, err := backend.NewDir(e.Backend.Root)
		if err != nil {
			return nil, xerrors.Wrapf(err, "package %q", e.Name)
		}
		return d, nil

	case "bundle":
		if opts.S3Client == nil {
			return nil, xerrors.Newf("package %q: bundle backend requires an S3 client", e.Name)
		}
		data, err := fetchObject(ctx, opts.S3Client, e.Backend.Bucket, e.Backend.Key, maxBundleFetch)
		if err != nil {
			return nil, xerrors.Wrapf(err, "package %q: fetch bundle", e.Name)
		}
		if e.Backend.SHA256 != "" && !cryptoutil.HashEqual(cryptoutil.SHA256Hex(data), e.Backend.SHA256) {
			return nil, xerrors.Newf("package %q: bundle checksum mismatch: expected %s, got %s",
				e.Name, e.Backend.SHA256, cryptoutil.SHA256Hex(data))
		}
		b, err := backend.NewBundle(data)
		if err != nil {
			return nil, xerrors.Wrapf(err, "package %q: extract bundle", e.Name)
		}
		return b, nil

	case "s3":
		if opts.S3Client == nil {
			return nil, xerrors.Newf("package %q: s3 backend requires an S3 client", e.Name)
		}
		b, err := backend.NewS3(opts.S3Client, e.Backend.Bucket, e.Backend.Prefix)
		if err != nil {
			return nil, xerrors.Wrapf(err, "package %q", e.Name)
		}
		return b, nil

	default:
		return nil, xerrors.Newf("package %q: unknown backend type %q", e.Name, e.Backend.Type)
	}
}

// maxBundleFetch matches the backend's compressed-bundle cap.
const maxBundleFetch int64 = 50 * 1024 * 1024

func fetchObject(ctx context.Context, client backend.S3API, bucket, key string, maxSize int64) ([]byte, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	lr := io.LimitReader(out.Body, maxSize+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", bucket, key)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("s3://%s/%s exceeds max size (limit %d)", bucket, key, maxSize)
	}
	return data, nil
}

// StaticSnapshot builds a snapshot from in-process packages only, used at
// startup before any manifest has loaded.
func StaticSnapshot(pkgs []resource.Package) Snapshot {
	m := make(map[string]resource.Package, len(pkgs))
	for _, p := range pkgs {
		m[p.Name] = p
	}
	return Snapshot{
		Packages: m,
		Meta:     Meta{Source: SourceStatic, VerifiedAt: time.Now().UTC()},
	}
}

package registry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/pkgres/internal/backend"
	"github.com/keithlinneman/pkgres/internal/cryptoutil"
	"github.com/keithlinneman/pkgres/internal/log"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

// SSMAPI is the subset of the SSM client the loader uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter containing the manifest SHA256 hash
	SSMParam string

	// S3 location for manifests: s3://{bucket}/{prefix}/{hash}.json
	S3Bucket string
	S3Prefix string

	SSMClient SSMAPI
	S3Client  backend.S3API
}

// Loader fetches the current manifest pointer from SSM, downloads the
// manifest from S3, verifies it, and builds a snapshot.
type Loader struct {
	opts      LoaderOptions
	ssmClient SSMAPI
	s3Client  backend.S3API
	logger    log.Logger
	build     BuildOptions
}

// NewLoader creates a manifest Loader with the given options.
func NewLoader(opts LoaderOptions, build BuildOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.SSMClient == nil {
		return nil, xerrors.New("SSMClient is required")
	}
	if opts.S3Client == nil {
		return nil, xerrors.New("S3Client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if build.S3Client == nil {
		build.S3Client = opts.S3Client
	}

	return &Loader{
		opts:      opts,
		ssmClient: opts.SSMClient,
		s3Client:  opts.S3Client,
		logger:    opts.Logger,
		build:     build,
	}, nil
}

// FetchCurrentManifestHash gets the current manifest hash from SSM.
func (l *Loader) FetchCurrentManifestHash(ctx context.Context) (string, error) {
	out, err := l.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.TrimSpace(*out.Parameter.Value)
	if hash == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}

	return hash, nil
}

// s3Key returns the S3 object key for a given manifest hash
func (l *Loader) s3Key(hash string) string {
	if l.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s.json", l.opts.S3Prefix, hash)
	}
	return fmt.Sprintf("%s.json", hash)
}

// Load fetches the current manifest and builds a snapshot.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentManifestHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash fetches a specific manifest by hash and builds a snapshot.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	loadedAt := time.Now().UTC()
	key := l.s3Key(hash)

	l.logger.Info(ctx, "downloading package manifest",
		"bucket", l.opts.S3Bucket,
		"key", key,
		"expected_hash", hash,
	)

	data, err := fetchObject(ctx, l.s3Client, l.opts.S3Bucket, key, maxManifestSize)
	if err != nil {
		return nil, err
	}

	actualHash := cryptoutil.SHA256Hex(data)
	if !cryptoutil.HashEqual(actualHash, hash) {
		return nil, xerrors.Newf("manifest checksum mismatch: expected %s, got %s", hash, actualHash)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	snap, err := Build(ctx, m, l.build)
	if err != nil {
		return nil, err
	}

	snap.Meta = Meta{
		SHA256:     hash,
		Source:     SourceS3,
		VerifiedAt: time.Now().UTC(),
	}
	snap.LoadedAt = loadedAt

	l.logger.Info(ctx, "loaded package manifest",
		"hash", hash,
		"packages", len(snap.Packages),
	)

	return snap, nil
}

// LoadFile builds a snapshot from a manifest on disk, used for local
// development and air-gapped deploys.
func LoadFile(ctx context.Context, path string, build BuildOptions) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read manifest %s", path)
	}
	if int64(len(data)) > maxManifestSize {
		return nil, xerrors.Newf("manifest %s exceeds max size (%d bytes, limit %d)", path, len(data), maxManifestSize)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	snap, err := Build(ctx, m, build)
	if err != nil {
		return nil, err
	}
	snap.Meta = Meta{
		SHA256:     cryptoutil.SHA256Hex(data),
		Source:     SourceFile,
		VerifiedAt: time.Now().UTC(),
	}
	return snap, nil
}

// LoadIntoRegistry fetches the current manifest and swaps it into reg.
func (l *Loader) LoadIntoRegistry(ctx context.Context, reg *Registry) error {
	snap, err := l.Load(ctx)
	if err != nil {
		return err
	}
	reg.Set(*snap)
	return nil
}

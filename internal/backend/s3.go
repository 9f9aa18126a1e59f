package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/pkgres/internal/resource"
	"github.com/keithlinneman/pkgres/internal/xerrors"
)

// S3API is the subset of the S3 client the backend uses. Injected so tests
// can substitute a fake.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 serves each resource as an object under bucket/prefix. Objects stream
// straight from S3 and have no native path, so materialization always goes
// through the temp-file fallback.
type S3 struct {
	resource.Unsupported
	client S3API
	bucket string
	prefix string
}

func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, xerrors.New("client is required")
	}
	if bucket == "" {
		return nil, xerrors.New("bucket is required")
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

// key returns the S3 object key for a resource name
func (l *S3) key(name string) string {
	if l.prefix != "" {
		return fmt.Sprintf("%s/%s", l.prefix, name)
	}
	return name
}

func (l *S3) OpenResource(ctx context.Context, name string) (io.ReadCloser, error) {
	key := l.key(name)

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, xerrors.Newf("%w: %q", resource.ErrNotFound, name)
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.bucket, key)
	}
	return out.Body, nil
}

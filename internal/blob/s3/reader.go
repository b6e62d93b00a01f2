package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// Reader implements domain.BlobReader over the event archives in an
// S3-compatible bucket.
type Reader struct {
	client *s3.Client
	bucket string
	keys   *Client
}

// NewReader creates a new Reader that retrieves archives from the given
// client's bucket and prefix.
func NewReader(c *Client) *Reader {
	return &Reader{
		client: c.S3(),
		bucket: c.Bucket(),
		keys:   c,
	}
}

// Get opens the object at path. The caller closes the returned body.
// Missing objects yield domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.keys.Key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return output.Body, nil
}

// List returns every event archive under prefix, following pagination.
// Objects whose names do not carry an archive cutoff are skipped.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.ArchiveObject, error) {
	var objs []domain.ArchiveObject

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(r.keys.Key(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list prefix %s: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			path := r.keys.Path(aws.ToString(obj.Key))
			cutoff, ok := archiveCutoff(path)
			if !ok {
				continue
			}
			archive := domain.ArchiveObject{
				Path:   path,
				Size:   aws.ToInt64(obj.Size),
				Cutoff: cutoff,
			}
			if obj.LastModified != nil {
				archive.LastModified = *obj.LastModified
			}
			objs = append(objs, archive)
		}
	}

	return objs, nil
}

// Exists reports whether an object exists at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.keys.Key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", path, err)
	}
	return true, nil
}

// isNotFound matches NoSuchKey (GetObject), NotFound (HeadObject) and bare
// 404 responses from compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

var _ domain.BlobReader = (*Reader)(nil)

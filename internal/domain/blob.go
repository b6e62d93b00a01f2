package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveObject describes one stored event archive. Cutoff is the exclusive
// upper bound on the creation time of the events it holds.
type ArchiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Cutoff       time.Time `json:"cutoff"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage. List reports only the
// event archives under prefix.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ArchiveObject, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves old events from the outbox to cold storage.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}

package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ActionArchiver keeps a cold copy of every action record.
type ActionArchiver interface {
	Archive(ctx context.Context, rec ActionRecord) error
}

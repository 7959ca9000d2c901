package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSArchive writes reports to a GCS bucket under a prefix.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSArchive(client *storage.Client, bucket, prefix string) *GCSArchive {
	if client == nil {
		panic("gcs archive requires client")
	}
	if bucket == "" {
		panic("gcs archive requires bucket")
	}
	return &GCSArchive{client: client, bucket: bucket, prefix: prefix}
}

func (a *GCSArchive) Put(ctx context.Context, key string, body []byte) error {
	loc, err := ResolveObjectLocation(a.bucket, a.prefix, key)
	if err != nil {
		return err
	}

	w := a.client.Bucket(loc.Bucket).Object(loc.FullPath).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", loc.Bucket, loc.FullPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", loc.Bucket, loc.FullPath, err)
	}
	return nil
}

func (a *GCSArchive) Check(ctx context.Context) error {
	bkt := a.client.Bucket(a.bucket)
	if _, err := bkt.Attrs(ctx); err != nil {
		return fmt.Errorf("bucket attrs: %w", err)
	}

	// List at most one object to validate access to the prefix; empty is fine.
	it := bkt.Objects(ctx, &storage.Query{Prefix: a.prefix})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("list prefix: %w", err)
	}
	return nil
}

var _ Archive = (*GCSArchive)(nil)

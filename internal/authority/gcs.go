package authority

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"datafs-go/internal/datafs"
)

// GCSConfig holds configuration for a Google Cloud Storage authority.
type GCSConfig struct {
	Bucket          string
	Prefix          string // optional object name prefix
	CredentialsFile string // empty uses application default credentials
}

// GCSBucket is the subset of bucket operations the GCS authority uses.
// Errors for absent objects must match storage.ErrObjectNotExist.
type GCSBucket interface {
	// NewWriter returns a writer for the object. Closing it commits the
	// object unless ctx was cancelled first.
	NewWriter(ctx context.Context, name string) io.WriteCloser
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
	Attrs(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}

type gcsBucket struct {
	b *storage.BucketHandle
}

func (h gcsBucket) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := h.b.Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w
}

func (h gcsBucket) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return h.b.Object(name).NewReader(ctx)
}

func (h gcsBucket) Attrs(ctx context.Context, name string) error {
	_, err := h.b.Object(name).Attrs(ctx)
	return err
}

func (h gcsBucket) Delete(ctx context.Context, name string) error {
	return h.b.Object(name).Delete(ctx)
}

// GCS is an Authority on a Google Cloud Storage bucket. Objects are named
// <prefix><archive>/<version>-<checksum>.
type GCS struct {
	client *storage.Client
	bucket GCSBucket
	prefix string
}

// NewGCS creates a GCS authority from cfg.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs authority requires a bucket", datafs.ErrCredentials)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCS client: %w", datafs.ErrCredentials, err)
	}
	return &GCS{client: client, bucket: gcsBucket{b: client.Bucket(cfg.Bucket)}, prefix: cfg.Prefix}, nil
}

// NewGCSFromBucket creates a GCS authority on an existing bucket implementation.
func NewGCSFromBucket(bucket GCSBucket, prefix string) *GCS {
	return &GCS{bucket: bucket, prefix: prefix}
}

func (g *GCS) objectName(key datafs.Key) string {
	return g.prefix + key.Archive + "/" + key.Object()
}

// Store writes r to the object for key. A failed copy aborts the upload,
// so no partial object is committed.
func (g *GCS) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.bucket.NewWriter(wctx, g.objectName(key))

	if _, err := io.Copy(w, r); err != nil {
		// Cancel before Close: Close on a live writer commits what was written.
		cancel()
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s: %w", key, err)
	}
	return nil
}

// Fetch streams the object for key.
func (g *GCS) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	r, err := g.bucket.NewReader(ctx, g.objectName(key))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("blob %s: %w", key, datafs.ErrNotFound)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", key, err)
	}
	return r, nil
}

// Exists reports whether the object for key exists.
func (g *GCS) Exists(ctx context.Context, key datafs.Key) (bool, error) {
	if err := g.bucket.Attrs(ctx, g.objectName(key)); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

// Delete removes the object for key.
func (g *GCS) Delete(ctx context.Context, key datafs.Key) error {
	err := g.bucket.Delete(ctx, g.objectName(key))
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", key, err)
	}
	return nil
}

// Close closes the GCS client, if the authority owns one.
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Compile-time check that GCS implements datafs.Authority
var _ datafs.Authority = (*GCS)(nil)

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"migration-guard/internal/config"
)

// GCSObjectStore implements ObjectStore for Google Cloud Storage
type GCSObjectStore struct {
	client    *storage.Client
	projectID string
}

// NewGCSObjectStore creates a client, using the credentials file when set
func NewGCSObjectStore(ctx context.Context, cfg *config.GCSConfig) (*GCSObjectStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("GCS object storage configuration is required")
	}

	var client *storage.Client
	var err error
	if cfg.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSObjectStore{client: client, projectID: cfg.ProjectID}, nil
}

// Close releases the client
func (g *GCSObjectStore) Close() error {
	return g.client.Close()
}

func (g *GCSObjectStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var buckets []Bucket
	it := g.client.Buckets(ctx, g.projectID)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS buckets: %w", err)
		}
		buckets = append(buckets, Bucket{Name: attrs.Name, CreatedAt: attrs.Created})
	}
	return buckets, nil
}

func (g *GCSObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error) {
	dir := strings.Trim(prefix, "/")
	if dir != "" {
		dir += "/"
	}

	var entries []ObjectEntry
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: dir, Delimiter: "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, dir, err)
		}

		if attrs.Prefix != "" {
			p := strings.TrimSuffix(attrs.Prefix, "/")
			entries = append(entries, ObjectEntry{Name: path.Base(p), Path: p, IsDir: true})
			continue
		}
		if attrs.Name == dir {
			continue
		}
		entries = append(entries, ObjectEntry{
			Name:      path.Base(attrs.Name),
			Path:      attrs.Name,
			Size:      attrs.Size,
			UpdatedAt: attrs.Updated,
		})
	}
	return entries, nil
}

func (g *GCSObjectStore) DownloadObject(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	reader, err := g.client.Bucket(bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, objectPath, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, objectPath, err)
	}
	return data, nil
}

func (g *GCSObjectStore) UploadObject(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error {
	obj := g.client.Bucket(bucket).Object(objectPath)
	if !opts.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	writer := obj.NewWriter(ctx)
	if opts.ContentType != "" {
		writer.ContentType = opts.ContentType
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", bucket, objectPath, err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("gs://%s/%s: %w", bucket, objectPath, ErrObjectExists)
		}
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

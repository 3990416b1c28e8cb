package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"migration-guard/internal/config"
)

// AzureObjectStore implements ObjectStore for Azure Blob Storage. Containers
// play the role of buckets.
type AzureObjectStore struct {
	serviceURL azblob.ServiceURL
}

// NewAzureObjectStore creates a shared-key pipeline for the account
func NewAzureObjectStore(cfg *config.AzureConfig) (*AzureObjectStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("Azure object storage configuration is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credentials: %w", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure service URL: %w", err)
	}

	return &AzureObjectStore{serviceURL: azblob.NewServiceURL(*serviceURL, pipeline)}, nil
}

func (a *AzureObjectStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	var buckets []Bucket
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.serviceURL.ListContainersSegment(ctx, marker, azblob.ListContainersSegmentOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure containers: %w", err)
		}
		marker = resp.NextMarker

		for _, item := range resp.ContainerItems {
			buckets = append(buckets, Bucket{
				Name:      item.Name,
				Public:    item.Properties.PublicAccess != azblob.PublicAccessNone,
				CreatedAt: item.Properties.LastModified,
			})
		}
	}
	return buckets, nil
}

func (a *AzureObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error) {
	containerURL := a.serviceURL.NewContainerURL(bucket)

	dir := strings.Trim(prefix, "/")
	if dir != "" {
		dir += "/"
	}

	var entries []ObjectEntry
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := containerURL.ListBlobsHierarchySegment(ctx, marker, "/", azblob.ListBlobsSegmentOptions{
			Prefix: dir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure blobs in %s/%s: %w", bucket, dir, err)
		}
		marker = resp.NextMarker

		for _, p := range resp.Segment.BlobPrefixes {
			name := strings.TrimSuffix(p.Name, "/")
			entries = append(entries, ObjectEntry{Name: path.Base(name), Path: name, IsDir: true})
		}
		for _, blob := range resp.Segment.BlobItems {
			entry := ObjectEntry{
				Name:      path.Base(blob.Name),
				Path:      blob.Name,
				UpdatedAt: blob.Properties.LastModified,
			}
			if blob.Properties.ContentLength != nil {
				entry.Size = *blob.Properties.ContentLength
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (a *AzureObjectStore) DownloadObject(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	blobURL := a.serviceURL.NewContainerURL(bucket).NewBlockBlobURL(objectPath)

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s from Azure: %w", bucket, objectPath, err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s from Azure: %w", bucket, objectPath, err)
	}
	return data, nil
}

func (a *AzureObjectStore) UploadObject(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error {
	blobURL := a.serviceURL.NewContainerURL(bucket).NewBlockBlobURL(objectPath)

	uploadOpts := azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
	}
	if opts.ContentType != "" {
		uploadOpts.BlobHTTPHeaders = azblob.BlobHTTPHeaders{ContentType: opts.ContentType}
	}
	if !opts.Overwrite {
		uploadOpts.AccessConditions = azblob.BlobAccessConditions{
			ModifiedAccessConditions: azblob.ModifiedAccessConditions{IfNoneMatch: azblob.ETagAny},
		}
	}

	_, err := azblob.UploadBufferToBlockBlob(ctx, bytes.Clone(data), blobURL, uploadOpts)
	if err != nil {
		var storageErr azblob.StorageError
		if errors.As(err, &storageErr) && storageErr.Response() != nil &&
			(storageErr.Response().StatusCode == http.StatusConflict ||
				storageErr.Response().StatusCode == http.StatusPreconditionFailed) {
			return fmt.Errorf("%s/%s: %w", bucket, objectPath, ErrObjectExists)
		}
		return fmt.Errorf("failed to upload %s/%s to Azure: %w", bucket, objectPath, err)
	}
	return nil
}

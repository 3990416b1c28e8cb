package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"migration-guard/internal/config"
)

// S3ObjectStore implements ObjectStore for Amazon S3 and S3-compatible endpoints
type S3ObjectStore struct {
	client *s3.S3
}

// NewS3ObjectStore creates an S3 client from static credentials
func NewS3ObjectStore(cfg *config.S3Config) (*S3ObjectStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("S3 object storage configuration is required")
	}

	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &S3ObjectStore{client: s3.New(sess)}, nil
}

func (s *S3ObjectStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	out, err := s.client.ListBucketsWithContext(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 buckets: %w", err)
	}

	buckets := make([]Bucket, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, Bucket{
			Name:      aws.StringValue(b.Name),
			CreatedAt: aws.TimeValue(b.CreationDate),
		})
	}
	return buckets, nil
}

func (s *S3ObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error) {
	dir := strings.Trim(prefix, "/")
	if dir != "" {
		dir += "/"
	}

	var entries []ObjectEntry
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			p := strings.TrimSuffix(aws.StringValue(cp.Prefix), "/")
			entries = append(entries, ObjectEntry{Name: path.Base(p), Path: p, IsDir: true})
		}
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == dir {
				continue
			}
			entries = append(entries, ObjectEntry{
				Name:      path.Base(key),
				Path:      key,
				Size:      aws.Int64Value(obj.Size),
				UpdatedAt: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, dir, err)
	}
	return entries, nil
}

func (s *S3ObjectStore) DownloadObject(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, objectPath, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, objectPath, err)
	}
	return data, nil
}

func (s *S3ObjectStore) UploadObject(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error {
	if !opts.Overwrite {
		_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(objectPath),
		})
		if err == nil {
			return fmt.Errorf("s3://%s/%s: %w", bucket, objectPath, ErrObjectExists)
		}
		var aerr awserr.RequestFailure
		if !errors.As(err, &aerr) || aerr.StatusCode() != 404 {
			return fmt.Errorf("failed to check s3://%s/%s: %w", bucket, objectPath, err)
		}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectPath),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

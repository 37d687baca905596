// internal/storage/archive/s3.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/newthinker/dbbackup/internal/core"
)

// S3Config holds S3 connection configuration
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3API is the subset of the S3 client used by S3Storage
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Storage implements Remote for S3-compatible backends
type S3Storage struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 creates a new S3 storage client. Without static keys the SDK default
// credential chain applies (environment, shared config, instance role).
func NewS3(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO and most S3-compatible services
		}
	})

	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient wires an existing client
func NewS3WithClient(client S3API, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Storage) Name() string { return core.StoreRemote }

// Bucket returns the destination bucket
func (s *S3Storage) Bucket() string { return s.bucket }

// Key maps a basename to its object key under the prefix
func (s *S3Storage) Key(basename string) string {
	return core.RemoteKey(s.prefix, basename)
}

// Upload puts the local file under key and confirms the stored size.
func (s *S3Storage) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return core.WrapError(core.ErrUploadFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return core.WrapError(core.ErrUploadFailed, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return core.WrapError(core.ErrUploadFailed, s.opError("put", key, err))
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return core.WrapError(core.ErrUploadFailed, s.opError("head", key, err))
	}
	if got := aws.ToInt64(head.ContentLength); got != info.Size() {
		return core.WrapError(core.ErrUploadFailed,
			fmt.Errorf("s3://%s/%s holds %d bytes, expected %d", s.bucket, key, got, info.Size()))
	}

	return nil
}

// List returns every object under the prefix namespace. An empty result is
// not an error.
func (s *S3Storage) List(ctx context.Context) ([]core.ArchiveEntry, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	entries := []core.ArchiveEntry{}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, core.WrapError(core.ErrListingFailed, s.opError("list", s.prefix, err))
		}
		for _, obj := range page.Contents {
			entries = append(entries, core.ArchiveEntry{
				ID:      aws.ToString(obj.Key),
				ModTime: aws.ToTime(obj.LastModified),
				Size:    aws.ToInt64(obj.Size),
			})
		}
	}

	return entries, nil
}

// Delete removes one object by key
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return core.WrapError(core.ErrDeletionFailed, s.opError("delete", key, err))
	}
	return nil
}

func (s *S3Storage) opError(op, key string, err error) error {
	if code := ErrorCode(err); code != "" {
		return fmt.Errorf("s3 %s s3://%s/%s [%s]: %w", op, s.bucket, key, code, err)
	}
	return fmt.Errorf("s3 %s s3://%s/%s: %w", op, s.bucket, key, err)
}

// ErrorCode extracts the S3 API error code, or "" for transport errors
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

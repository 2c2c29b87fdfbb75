package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = 7 * 24 * time.Hour

// objectPutter is the subset of the minio client used for publishing
type objectPutter interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// S3Publisher copies finished renders to an S3-compatible bucket
type S3Publisher struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Publisher connects to endpoint with static credentials
func NewS3Publisher(endpoint, accessKey, secretKey, bucket string, secure bool) (*S3Publisher, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3Publisher{client: client, bucket: bucket, prefix: "interviews"}, nil
}

// Name identifies the publisher in logs
func (p *S3Publisher) Name() string { return "s3" }

// Check verifies the bucket is reachable
func (p *S3Publisher) Check(ctx context.Context) error {
	ok, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket check: %w", err)
	}
	if !ok {
		return fmt.Errorf("s3 bucket %q does not exist", p.bucket)
	}
	return nil
}

// Publish uploads the render under a dated key and returns a presigned URL
func (p *S3Publisher) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	key := objectKey(p.prefix, jobID, time.Now())
	if _, err := p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
	}); err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, presignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigned get object: %w", err)
	}
	return u.String(), nil
}

// objectKey lays renders out as prefix/2024/03/01/video_<id>.mp4
func objectKey(prefix, jobID string, t time.Time) string {
	return path.Join(prefix,
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("video_%s.mp4", jobID))
}

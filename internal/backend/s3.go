package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/attachkit/attachkit/internal/config"
)

func init() {
	Register("s3", func(ctx context.Context, cfg *config.Config) (Backend, error) {
		return NewS3(ctx, cfg)
	})
}

// S3 stores attachment bytes in an S3-compatible object store via MinIO.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
	cdn    string
	ttl    time.Duration
}

// NewS3 creates the client and makes sure the bucket exists.
func NewS3(ctx context.Context, cfg *config.Config) (*S3, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	b := &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.PathPrefix,
		cdn:    cfg.CDNDomain,
		ttl:    cfg.LocatorTTL,
	}
	exists, err := client.BucketExists(ctx, b.bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", b.bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: cfg.S3Region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", b.bucket, err)
		}
	}
	return b, nil
}

func (b *S3) object(key string) string {
	return path.Join(b.prefix, key)
}

func (b *S3) Write(ctx context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := b.client.PutObject(ctx, b.bucket, b.object(key), reader, int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return &OpError{Backend: "s3", Op: "write", Key: key, Err: err}
	}
	return nil
}

func (b *S3) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, &OpError{Backend: "s3", Op: "read", Key: key, Err: err}
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, &OpError{Backend: "s3", Op: "read", Key: key, Err: err}
	}
	return data, nil
}

// Delete removes the object. Object-store deletes are idempotent: removing
// an absent key succeeds.
func (b *S3) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, b.object(key), minio.RemoveObjectOptions{}); err != nil {
		return &OpError{Backend: "s3", Op: "delete", Key: key, Err: err}
	}
	return nil
}

// PublicLocator returns a CDN URL when a content-delivery domain is
// configured, otherwise a presigned GET URL.
func (b *S3) PublicLocator(ctx context.Context, key string) (string, error) {
	if b.cdn != "" {
		return fmt.Sprintf("https://%s/%s", b.cdn, b.object(key)), nil
	}
	u, err := b.client.PresignedGetObject(ctx, b.bucket, b.object(key), b.ttl, url.Values{})
	if err != nil {
		return "", &OpError{Backend: "s3", Op: "locator", Key: key, Err: err}
	}
	return u.String(), nil
}

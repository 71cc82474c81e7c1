package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyac-dev/hyac/pkg/log"
)

// Sentinel errors for object lookups
var (
	ErrNotExist = errors.New("object does not exist")
	ErrExist    = errors.New("object already exists")
)

// Manager wraps the object store used for per-app buckets: one private
// bucket for function data, one public bucket for static web hosting.
type Manager struct {
	client *minio.Client
}

// New connects to the object store
func New(endpoint, accessKey, secretKey string, secure bool) (*Manager, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &Manager{client: client}, nil
}

// Ping verifies the object store is reachable
func (m *Manager) Ping(ctx context.Context) error {
	_, err := m.client.ListBuckets(ctx)
	return err
}

// EnsureBucket creates the bucket if it does not exist
func (m *Manager) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// SetPublicRead applies an anonymous download policy so the reverse proxy
// can serve the bucket's objects directly.
func (m *Manager) SetPublicRead(ctx context.Context, bucket string) error {
	policy := fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"AWS": ["*"]},
      "Action": ["s3:GetObject"],
      "Resource": ["arn:aws:s3:::%s/*"]
    }
  ]
}`, bucket)
	if err := m.client.SetBucketPolicy(ctx, bucket, policy); err != nil {
		return fmt.Errorf("failed to set public policy on %s: %w", bucket, err)
	}
	return nil
}

// Put uploads an object. Size may be -1 for streaming uploads.
func (m *Manager) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Get opens an object for streaming reads. Returns ErrNotExist for missing
// keys.
func (m *Manager) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; a Stat forces the first request so missing keys
	// surface here instead of on the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, translateErr(err)
	}
	return obj, nil
}

// Stat returns object metadata, or ErrNotExist
func (m *Manager) Stat(ctx context.Context, bucket, key string) (minio.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, translateErr(err)
	}
	return info, nil
}

// List returns the keys under a prefix
func (m *Manager) List(ctx context.Context, bucket, prefix string) ([]minio.ObjectInfo, error) {
	var objects []minio.ObjectInfo
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// ListDir returns the immediate children of a prefix. Folders come back as
// entries whose key keeps its trailing slash.
func (m *Manager) ListDir(ctx context.Context, bucket, prefix string) ([]minio.ObjectInfo, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var objects []minio.ObjectInfo
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// CreateFolder materializes a folder as a zero-byte marker object
func (m *Manager) CreateFolder(ctx context.Context, bucket, name string) error {
	key := strings.Trim(name, "/")
	if key == "" {
		return fmt.Errorf("folder name is empty")
	}
	return m.Put(ctx, bucket, key+"/", strings.NewReader(""), 0, "application/octet-stream")
}

// RemoveFolder deletes the folder marker and everything under it
func (m *Manager) RemoveFolder(ctx context.Context, bucket, name string) error {
	prefix := strings.Trim(name, "/")
	if prefix == "" {
		return fmt.Errorf("folder name is empty")
	}
	objects, err := m.List(ctx, bucket, prefix+"/")
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := m.Remove(ctx, bucket, obj.Key); err != nil {
			return fmt.Errorf("failed to remove %s/%s: %w", bucket, obj.Key, err)
		}
	}
	return nil
}

// Remove deletes one object
func (m *Manager) Remove(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

// EmptyBucket deletes every object in the bucket
func (m *Manager) EmptyBucket(ctx context.Context, bucket string) error {
	objects, err := m.List(ctx, bucket, "")
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := m.Remove(ctx, bucket, obj.Key); err != nil {
			return fmt.Errorf("failed to remove %s/%s: %w", bucket, obj.Key, err)
		}
	}
	return nil
}

// RemoveBucket empties and removes the bucket. Missing buckets are not an
// error so delete cascades stay idempotent.
func (m *Manager) RemoveBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := m.EmptyBucket(ctx, bucket); err != nil {
		return err
	}
	if err := m.client.RemoveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("failed to remove bucket %s: %w", bucket, err)
	}
	log.Logger.Debug().Str("bucket", bucket).Msg("bucket removed")
	return nil
}

// PresignedGet returns a time-limited download URL
func (m *Manager) PresignedGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", translateErr(err)
	}
	return u.String(), nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" ||
		strings.Contains(err.Error(), "does not exist") {
		return ErrNotExist
	}
	return err
}

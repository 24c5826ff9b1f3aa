// Package minio implements a document backend on MinIO and other
// S3-compatible servers through minio-go.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/davidthor/bundlefix/pkg/store/backend"
)

func init() {
	backend.Register("minio", NewBackend)
}

// Backend stores documents as objects in one bucket.
type Backend struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewBackend creates a new MinIO backend.
//
// Recognised keys: endpoint and bucket (required), access_key, secret_key,
// region, prefix. An endpoint with an http:// scheme disables TLS.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	endpoint := cfg["endpoint"]
	if endpoint == "" {
		return nil, fmt.Errorf("minio backend requires 'endpoint' configuration")
	}
	bucket := cfg["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("minio backend requires 'bucket' configuration")
	}

	host, secure := splitEndpoint(endpoint)
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg["access_key"], cfg["secret_key"], ""),
		Secure: secure,
		Region: cfg["region"],
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}

	return &Backend{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg["prefix"], "/"),
	}, nil
}

func splitEndpoint(endpoint string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	}
	return endpoint, true
}

func (b *Backend) Type() string {
	return "minio"
}

// Read stats the object first: minio's GetObject is lazy and only reports a
// missing key on the first read.
func (b *Backend) Read(ctx context.Context, docPath string) (io.ReadCloser, error) {
	key := b.fullPath(docPath)

	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio read %s: %w", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("minio read %s: %w", key, err)
	}
	return obj, nil
}

func (b *Backend) Write(ctx context.Context, docPath string, data io.Reader) error {
	key := b.fullPath(docPath)

	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("minio write %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, docPath string) error {
	key := b.fullPath(docPath)

	err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("minio delete %s: %w", key, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.fullPath(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio list: %w", obj.Err)
		}
		paths = append(paths, b.relPath(obj.Key))
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, docPath string) (bool, error) {
	key := b.fullPath(docPath)

	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio stat %s: %w", key, err)
	}
	return true, nil
}

// Lock writes <path>.lock. Like the s3 backend it has no atomic create, so
// it protects against overlapping runs rather than simultaneous ones.
func (b *Backend) Lock(ctx context.Context, docPath string, info backend.LockInfo) (backend.Lock, error) {
	lockKey := b.fullPath(docPath + ".lock")

	if existing, err := b.readLock(ctx, lockKey); err == nil && !existing.Stale(time.Now()) {
		return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
	}

	info = info.Stamp(uuid.New().String(), docPath, time.Now())
	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	_, err = b.client.PutObject(ctx, b.bucket, lockKey, bytes.NewReader(lockData), int64(len(lockData)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}

	return &minioLock{backend: b, key: lockKey, info: info}, nil
}

func (b *Backend) readLock(ctx context.Context, key string) (backend.LockInfo, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return backend.LockInfo{}, err
	}
	defer obj.Close()

	var info backend.LockInfo
	if err := json.NewDecoder(obj).Decode(&info); err != nil {
		return backend.LockInfo{}, err
	}
	return info, nil
}

func (b *Backend) fullPath(docPath string) string {
	if b.prefix == "" {
		return docPath
	}
	return path.Join(b.prefix, docPath)
}

func (b *Backend) relPath(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, b.prefix+"/")
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

type minioLock struct {
	backend *Backend
	key     string
	info    backend.LockInfo
}

func (l *minioLock) ID() string {
	return l.info.ID
}

func (l *minioLock) Unlock(ctx context.Context) error {
	if err := l.backend.client.RemoveObject(ctx, l.backend.bucket, l.key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *minioLock) Info() backend.LockInfo {
	return l.info
}

var _ backend.Backend = (*Backend)(nil)

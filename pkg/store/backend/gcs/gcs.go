// Package gcs implements a Google Cloud Storage document backend.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/davidthor/bundlefix/pkg/store/backend"
)

func init() {
	backend.Register("gcs", NewBackend)
}

// Backend stores documents as objects in a GCS bucket.
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewBackend creates a new GCS backend.
//
// Recognised keys: bucket (required), prefix, credentials (file path),
// credentials_json, endpoint (emulator; disables authentication).
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	bucketName := cfg["bucket"]
	if bucketName == "" {
		return nil, fmt.Errorf("gcs backend requires 'bucket' configuration")
	}

	var opts []option.ClientOption
	if credentialsFile := cfg["credentials"]; credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if credentialsJSON := cfg["credentials_json"]; credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	if endpoint := cfg["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Backend{
		client: client,
		bucket: bucketName,
		prefix: strings.Trim(cfg["prefix"], "/"),
	}, nil
}

func (b *Backend) Type() string {
	return "gcs"
}

func (b *Backend) object(docPath string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.fullPath(docPath))
}

func (b *Backend) Read(ctx context.Context, docPath string) (io.ReadCloser, error) {
	reader, err := b.object(docPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", b.bucket, b.fullPath(docPath), err)
	}
	return reader, nil
}

func (b *Backend) Write(ctx context.Context, docPath string, data io.Reader) error {
	writer := b.object(docPath).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := io.Copy(writer, data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", b.bucket, b.fullPath(docPath), err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to write gs://%s/%s: %w", b.bucket, b.fullPath(docPath), err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, docPath string) error {
	err := b.object(docPath).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", b.bucket, b.fullPath(docPath), err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.fullPath(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s: %w", b.bucket, err)
		}
		paths = append(paths, b.relPath(attrs.Name))
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, docPath string) (bool, error) {
	_, err := b.object(docPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check gs://%s/%s: %w", b.bucket, b.fullPath(docPath), err)
	}
	return true, nil
}

// Lock creates <path>.lock with a does-not-exist precondition, so only one
// caller can win. A stale lock is deleted at its observed generation first.
func (b *Backend) Lock(ctx context.Context, docPath string, info backend.LockInfo) (backend.Lock, error) {
	obj := b.object(docPath + ".lock")

	existing, generation, err := readLock(ctx, obj)
	switch {
	case err == nil && !existing.Stale(time.Now()):
		return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
	case err == nil:
		if err := obj.If(storage.Conditions{GenerationMatch: generation}).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	case !errors.Is(err, storage.ErrObjectNotExist):
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}

	info = info.Stamp(uuid.New().String(), docPath, time.Now())
	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	writer := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(lockData); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil, &backend.LockError{Info: backend.LockInfo{Path: docPath}, Err: backend.ErrLocked}
		}
		return nil, fmt.Errorf("failed to create lock: %w", err)
	}

	return &gcsLock{object: obj, info: info}, nil
}

func readLock(ctx context.Context, obj *storage.ObjectHandle) (backend.LockInfo, int64, error) {
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return backend.LockInfo{}, 0, err
	}
	defer reader.Close()

	var info backend.LockInfo
	if err := json.NewDecoder(reader).Decode(&info); err != nil {
		return backend.LockInfo{}, 0, err
	}
	return info, reader.Attrs.Generation, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

func (b *Backend) fullPath(docPath string) string {
	if b.prefix == "" {
		return docPath
	}
	return path.Join(b.prefix, docPath)
}

func (b *Backend) relPath(name string) string {
	if b.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, b.prefix+"/")
}

// Close closes the GCS client.
func (b *Backend) Close() error {
	return b.client.Close()
}

type gcsLock struct {
	object *storage.ObjectHandle
	info   backend.LockInfo
}

func (l *gcsLock) ID() string {
	return l.info.ID
}

func (l *gcsLock) Unlock(ctx context.Context) error {
	err := l.object.Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *gcsLock) Info() backend.LockInfo {
	return l.info
}

var _ backend.Backend = (*Backend)(nil)

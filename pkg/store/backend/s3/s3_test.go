package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davidthor/bundlefix/pkg/store/backend"
)

// mockS3Server implements the handful of S3 calls the backend makes, with
// path-style addressing.
type mockS3Server struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func newMockS3Server() *mockS3Server {
	return &mockS3Server{
		objects: make(map[string][]byte),
	}
}

func (m *mockS3Server) object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *mockS3Server) store(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *mockS3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	parts := strings.SplitN(path, "/", 2)

	if len(parts) < 1 || parts[0] == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	bucket := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}

	if key == "" && r.URL.Query().Get("list-type") == "2" {
		m.handleListObjects(w, r, bucket)
		return
	}

	fullKey := bucket + "/" + key

	switch r.Method {
	case http.MethodGet:
		m.handleGet(w, fullKey)
	case http.MethodPut:
		m.handlePut(w, r, fullKey)
	case http.MethodDelete:
		m.handleDelete(w, fullKey)
	case http.MethodHead:
		m.handleHead(w, fullKey)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *mockS3Server) handleGet(w http.ResponseWriter, key string) {
	data, ok := m.objects[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code></Error>`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (m *mockS3Server) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.objects[key] = data
	w.WriteHeader(http.StatusOK)
}

func (m *mockS3Server) handleDelete(w http.ResponseWriter, key string) {
	delete(m.objects, key)
	w.WriteHeader(http.StatusNoContent)
}

func (m *mockS3Server) handleHead(w http.ResponseWriter, key string) {
	if _, ok := m.objects[key]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *mockS3Server) handleListObjects(w http.ResponseWriter, r *http.Request, bucket string) {
	prefix := r.URL.Query().Get("prefix")

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, bucket+"/") {
			objectKey := strings.TrimPrefix(key, bucket+"/")
			if prefix == "" || strings.HasPrefix(objectKey, prefix) {
				keys = append(keys, objectKey)
			}
		}
	}

	sort.Strings(keys)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)

	response := `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>` + bucket + `</Name>`
	for _, key := range keys {
		response += `<Contents><Key>` + key + `</Key></Contents>`
	}
	response += `</ListBucketResult>`
	_, _ = w.Write([]byte(response))
}

func newTestBackend(t *testing.T, extra map[string]string) (*Backend, *mockS3Server) {
	t.Helper()
	mock := newMockS3Server()
	server := httptest.NewServer(mock)
	t.Cleanup(server.Close)

	cfg := map[string]string{
		"bucket":           "docs",
		"endpoint":         server.URL,
		"access_key":       "test-key",
		"secret_key":       "test-secret",
		"force_path_style": "true",
	}
	for k, v := range extra {
		cfg[k] = v
	}
	b, err := NewBackend(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return b.(*Backend), mock
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]string
	}{
		{name: "empty config", config: map[string]string{}},
		{name: "empty bucket", config: map[string]string{"bucket": "", "region": "us-east-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBackend(tt.config)
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), "bucket") {
				t.Errorf("expected error mentioning bucket, got %q", err.Error())
			}
		})
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	b, _ := newTestBackend(t, map[string]string{"key": "/bundles/"})

	if b.Type() != "s3" {
		t.Errorf("expected type 's3', got %q", b.Type())
	}
	if b.region != "us-east-1" {
		t.Errorf("expected default region 'us-east-1', got %q", b.region)
	}
	if b.prefix != "bundles" {
		t.Errorf("expected trimmed prefix 'bundles', got %q", b.prefix)
	}
}

func TestBackend_fullPath(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		path     string
		expected string
	}{
		{name: "no prefix", path: "projects/p1/project.json", expected: "projects/p1/project.json"},
		{name: "with prefix", prefix: "prod", path: "projects/p1/project.json", expected: "prod/projects/p1/project.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Backend{prefix: tt.prefix}
			if got := b.fullPath(tt.path); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
			if got := b.relPath(b.fullPath(tt.path)); got != tt.path {
				t.Errorf("relPath did not invert fullPath: got %q", got)
			}
		})
	}
}

func TestBackend_RoundTrip(t *testing.T) {
	b, mock := newTestBackend(t, map[string]string{"key": "prod"})
	ctx := context.Background()
	doc := []byte(`{"root":"s1"}`)

	if err := b.Write(ctx, "projects/p1/revisions/1.bundle.json", bytes.NewReader(doc)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, ok := mock.object("docs/prod/projects/p1/revisions/1.bundle.json"); !ok {
		t.Fatal("object not stored under prefixed key")
	}

	r, err := b.Read(ctx, "projects/p1/revisions/1.bundle.json")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	got, _ := io.ReadAll(r)
	r.Close()
	if !bytes.Equal(got, doc) {
		t.Errorf("expected %s, got %s", doc, got)
	}

	exists, err := b.Exists(ctx, "projects/p1/revisions/1.bundle.json")
	if err != nil || !exists {
		t.Errorf("expected object to exist, got %v, %v", exists, err)
	}

	paths, err := b.List(ctx, "projects/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "projects/p1/revisions/1.bundle.json" {
		t.Errorf("unexpected list result: %v", paths)
	}

	if err := b.Delete(ctx, "projects/p1/revisions/1.bundle.json"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := b.Read(ctx, "projects/p1/revisions/1.bundle.json"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	exists, err = b.Exists(ctx, "projects/p1/revisions/1.bundle.json")
	if err != nil || exists {
		t.Errorf("expected object to be gone, got %v, %v", exists, err)
	}
}

func TestBackend_Lock(t *testing.T) {
	b, mock := newTestBackend(t, nil)
	ctx := context.Background()

	lock, err := b.Lock(ctx, "projects/p1", backend.LockInfo{Who: "ops", Operation: "migrate"})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if lock.ID() == "" || lock.Info().Path != "projects/p1" {
		t.Errorf("unexpected lock info: %+v", lock.Info())
	}
	if _, ok := mock.object("docs/projects/p1.lock"); !ok {
		t.Fatal("expected lock object to be written")
	}

	_, err = b.Lock(ctx, "projects/p1", backend.LockInfo{Who: "someone-else"})
	var lockErr *backend.LockError
	if !errors.As(err, &lockErr) || lockErr.Info.Who != "ops" {
		t.Fatalf("expected lock error naming ops, got %v", err)
	}

	if err := lock.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	lock2, err := b.Lock(ctx, "projects/p1", backend.LockInfo{Who: "someone-else"})
	if err != nil {
		t.Fatalf("expected lock after unlock, got %v", err)
	}
	_ = lock2.Unlock(ctx)
}

func TestBackend_LockTakesOverStale(t *testing.T) {
	b, mock := newTestBackend(t, nil)
	ctx := context.Background()

	mock.store("docs/projects/p1.lock", []byte(`{"id":"old","who":"crashed","created":"`+
		time.Now().Add(-3*time.Hour).Format(time.RFC3339)+`"}`))

	lock, err := b.Lock(ctx, "projects/p1", backend.LockInfo{Who: "ops"})
	if err != nil {
		t.Fatalf("expected stale lock to be replaced, got %v", err)
	}
	if lock.Info().Who != "ops" {
		t.Errorf("expected new holder, got %q", lock.Info().Who)
	}
}

func TestBackend_InterfaceCompliance(t *testing.T) {
	var _ backend.Backend = (*Backend)(nil)
}

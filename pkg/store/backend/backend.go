// Package backend defines the storage interface bundle documents are kept in,
// and a registry of named backend implementations.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a path does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned when a path is already locked by someone else.
	ErrLocked = errors.New("document is locked")
)

// Backend stores opaque blobs under slash-separated paths.
type Backend interface {
	// Type returns the registered name of the backend.
	Type() string

	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Write(ctx context.Context, path string, data io.Reader) error
	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
	// List returns every path under prefix, relative to the backend root.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)

	// Lock takes an advisory lock on path. Stale locks (see LockInfo.Stale)
	// may be taken over.
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)
}

// Lock is a held advisory lock.
type Lock interface {
	ID() string
	Unlock(ctx context.Context) error
	Info() LockInfo
}

// LockInfo describes who holds a lock and why.
type LockInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Who       string    `json:"who"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
	Expires   time.Time `json:"expires,omitempty"`
}

// LockTTL is how long a lock is honoured when it carries no expiry.
const LockTTL = time.Hour

// Stale reports whether the lock may be taken over at now.
func (i LockInfo) Stale(now time.Time) bool {
	if !i.Expires.IsZero() {
		return !now.Before(i.Expires)
	}
	return now.Sub(i.Created) >= LockTTL
}

// Stamp fills in the fields a backend sets when it grants a lock.
func (i LockInfo) Stamp(id, path string, now time.Time) LockInfo {
	i.ID = id
	i.Path = path
	i.Created = now
	i.Expires = now.Add(LockTTL)
	return i
}

// LockError is returned when a lock cannot be acquired.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	return e.Err.Error()
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Factory creates a backend from its key/value configuration.
type Factory func(config map[string]string) (Backend, error)

// Config selects and configures a backend.
type Config struct {
	Type   string            `json:"type" yaml:"type" mapstructure:"type"`
	Config map[string]string `json:"config" yaml:"config" mapstructure:"config"`
}

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend available under name. Backends call it from init.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("backend %q registered twice", name))
	}
	factories[name] = factory
}

// Create instantiates the backend named by config.Type.
func Create(config Config) (Backend, error) {
	mu.RLock()
	factory, ok := factories[config.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q (available: %v)", config.Type, Types())
	}

	cfg := config.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	return factory(cfg)
}

// Types returns the registered backend names, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

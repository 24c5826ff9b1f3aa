// Package store keeps project bundles and their revision history on a
// document backend.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davidthor/bundlefix/pkg/bundle"
	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/store/backend"
)

// ProjectState is the pointer document for a project. Revision names the
// bundle revision that is current.
type ProjectState struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Revision int       `json:"revision"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// Manager provides high-level project operations.
type Manager interface {
	// Project operations
	GetProject(ctx context.Context, id string) (*ProjectState, error)
	ListProjects(ctx context.Context) ([]string, error)
	DeleteProject(ctx context.Context, id string) error

	// Revision operations. Revision 0 means the current one.
	LoadBundle(ctx context.Context, id string, revision int) (*bundle.Bundle, *ProjectState, error)
	ListRevisions(ctx context.Context, id string) ([]int, error)

	// SaveRevision stores b as the revision after base and moves the project
	// pointer to it. base must be the project's current revision (0 for a new
	// project).
	SaveRevision(ctx context.Context, id string, b *bundle.Bundle, base int) (*ProjectState, error)

	// Locking
	Lock(ctx context.Context, scope LockScope) (backend.Lock, error)

	// Backend info
	Backend() backend.Backend
}

// LockScope defines what to lock.
type LockScope struct {
	Project   string
	Operation string
	Who       string
}

type manager struct {
	backend backend.Backend
	now     func() time.Time
}

// NewManager creates a new store manager with the given backend.
func NewManager(b backend.Backend) Manager {
	return &manager{backend: b, now: time.Now}
}

// NewManagerFromConfig creates a new store manager from backend configuration.
func NewManagerFromConfig(config backend.Config) (Manager, error) {
	b, err := backend.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return NewManager(b), nil
}

func (m *manager) Backend() backend.Backend {
	return m.backend
}

// Project operations

func (m *manager) GetProject(ctx context.Context, id string) (*ProjectState, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	state, err := readJSON[ProjectState](ctx, m.backend, projectPath(id))
	if err != nil {
		return nil, m.readError("project", id, err)
	}
	return state, nil
}

func (m *manager) ListProjects(ctx context.Context) ([]string, error) {
	paths, err := m.backend.List(ctx, "projects/")
	if err != nil {
		return nil, errors.BackendError(m.backend.Type(), "list", err)
	}

	// Path format: projects/<id>/project.json. Lock files sit at
	// projects/<id>.lock and are skipped.
	seen := make(map[string]bool)
	var ids []string
	for _, p := range paths {
		parts := splitPath(p)
		if len(parts) == 3 && parts[2] == "project.json" && !seen[parts[1]] {
			seen[parts[1]] = true
			ids = append(ids, parts[1])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *manager) DeleteProject(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	paths, err := m.backend.List(ctx, path.Join("projects", id)+"/")
	if err != nil {
		return errors.BackendError(m.backend.Type(), "list", err)
	}

	// Revisions go first so a partial delete never leaves a pointer to a
	// missing revision.
	sort.Slice(paths, func(i, j int) bool {
		return path.Base(paths[i]) != "project.json" && path.Base(paths[j]) == "project.json"
	})
	for _, p := range paths {
		if err := m.backend.Delete(ctx, p); err != nil {
			return errors.BackendError(m.backend.Type(), "delete", fmt.Errorf("%s: %w", p, err))
		}
	}
	return nil
}

// Revision operations

func (m *manager) LoadBundle(ctx context.Context, id string, revision int) (*bundle.Bundle, *ProjectState, error) {
	state, err := m.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if revision == 0 {
		revision = state.Revision
	}
	if revision < 1 || revision > state.Revision {
		return nil, nil, errors.NotFoundError("revision", fmt.Sprintf("%s@%d", id, revision))
	}

	data, err := readAll(ctx, m.backend, revisionPath(id, revision))
	if err != nil {
		return nil, nil, m.readError("revision", fmt.Sprintf("%s@%d", id, revision), err)
	}
	b, err := bundle.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return b, state, nil
}

func (m *manager) ListRevisions(ctx context.Context, id string) ([]int, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	paths, err := m.backend.List(ctx, path.Join("projects", id, "revisions")+"/")
	if err != nil {
		return nil, errors.BackendError(m.backend.Type(), "list", err)
	}

	var revisions []int
	for _, p := range paths {
		n, err := strconv.Atoi(strings.TrimSuffix(path.Base(p), ".bundle.json"))
		if err != nil || n < 1 {
			continue
		}
		revisions = append(revisions, n)
	}
	sort.Ints(revisions)
	return revisions, nil
}

func (m *manager) SaveRevision(ctx context.Context, id string, b *bundle.Bundle, base int) (*ProjectState, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	state, err := m.GetProject(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrCodeNotFound):
		state = &ProjectState{ID: id, Name: id, Created: now}
	default:
		return nil, err
	}
	if state.Revision != base {
		return nil, errors.RevisionConflict(id, base, state.Revision)
	}

	data, err := bundle.Marshal(b)
	if err != nil {
		return nil, err
	}

	next := *state
	next.Revision = base + 1
	next.Updated = now

	if err := m.backend.Write(ctx, revisionPath(id, next.Revision), bytes.NewReader(data)); err != nil {
		return nil, errors.BackendError(m.backend.Type(), "write", err)
	}
	if err := writeJSON(ctx, m.backend, projectPath(id), &next); err != nil {
		return nil, errors.BackendError(m.backend.Type(), "write", err)
	}
	return &next, nil
}

// Locking

func (m *manager) Lock(ctx context.Context, scope LockScope) (backend.Lock, error) {
	if err := validateID(scope.Project); err != nil {
		return nil, err
	}

	info := backend.LockInfo{
		Who:       scope.Who,
		Operation: scope.Operation,
	}

	lock, err := m.backend.Lock(ctx, path.Join("projects", scope.Project), info)
	if err != nil {
		var lockErr *backend.LockError
		if stderrors.As(err, &lockErr) {
			locked := errors.StateLocked(errors.LockInfo{
				ID:        lockErr.Info.ID,
				Path:      lockErr.Info.Path,
				Who:       lockErr.Info.Who,
				Operation: lockErr.Info.Operation,
				Created:   lockErr.Info.Created,
			})
			locked.Cause = err
			return nil, locked
		}
		return nil, errors.BackendError(m.backend.Type(), "lock", err)
	}
	return lock, nil
}

func (m *manager) readError(kind, name string, err error) error {
	if stderrors.Is(err, backend.ErrNotFound) {
		return errors.NotFoundError(kind, name)
	}
	return errors.BackendError(m.backend.Type(), "read", err)
}

// Path helpers

func projectPath(id string) string {
	return path.Join("projects", id, "project.json")
}

func revisionPath(id string, revision int) string {
	return path.Join("projects", id, "revisions", strconv.Itoa(revision)+".bundle.json")
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return errors.ValidationError(fmt.Sprintf("invalid project id %q", id), map[string]interface{}{
			"project": id,
		})
	}
	return nil
}

func splitPath(p string) []string {
	var parts []string
	for p != "" && p != "." && p != "/" {
		dir, file := path.Split(p)
		if file != "" {
			parts = append([]string{file}, parts...)
		}
		p = path.Clean(dir)
	}
	return parts
}

// JSON helpers

func readAll(ctx context.Context, b backend.Backend, p string) ([]byte, error) {
	reader, err := b.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readJSON[T any](ctx context.Context, b backend.Backend, p string) (*T, error) {
	reader, err := b.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var result T
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	return &result, nil
}

func writeJSON(ctx context.Context, b backend.Backend, p string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return b.Write(ctx, p, bytes.NewReader(content))
}

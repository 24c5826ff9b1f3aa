// Package migration runs named, idempotent corrective migrations over the
// sites kept in a store.
package migration

import (
	"fmt"
	"sort"
	"sync"

	"github.com/davidthor/bundlefix/pkg/logging"
	"github.com/davidthor/bundlefix/pkg/model"
)

// Document is one site handed to a migration.
type Document struct {
	ProjectID string
	Site      *model.Site
	Log       *logging.Logger
}

// Migration is a named transformation of a site. Apply must be idempotent and
// must leave the site untouched when it returns an error it did not expect to
// recover from; the runner discards the site in that case anyway.
type Migration struct {
	Name        string
	Description string
	Apply       func(doc *Document) (*Outcome, error)
}

// Outcome is what one migration did to one site.
type Outcome struct {
	Changed bool

	// MergedSettings counts variant settings folded into a survivor.
	MergedSettings int

	// Removed maps every removed variant to the one that replaced it.
	Removed map[model.ID]model.ID

	RewrittenSettings int
	RewrittenColumns  int

	Warnings []Warning
}

func (o *Outcome) add(other *Outcome) {
	if other == nil {
		return
	}
	o.Changed = o.Changed || other.Changed
	o.MergedSettings += other.MergedSettings
	o.RewrittenSettings += other.RewrittenSettings
	o.RewrittenColumns += other.RewrittenColumns
	for from, to := range other.Removed {
		if o.Removed == nil {
			o.Removed = make(map[model.ID]model.ID)
		}
		o.Removed[from] = to
	}
	o.Warnings = append(o.Warnings, other.Warnings...)
}

// Warning reports variant settings on one tpl that still share a combo key.
// It never fails a migration.
type Warning struct {
	ProjectID string   `json:"projectId" yaml:"projectId"`
	Component model.ID `json:"component" yaml:"component"`
	Tpl       model.ID `json:"tpl" yaml:"tpl"`
	ComboKey  string   `json:"comboKey" yaml:"comboKey"`
	Count     int      `json:"count" yaml:"count"`
}

func (w Warning) String() string {
	return fmt.Sprintf("project %s component %s tpl %s: %d settings share combo %q",
		w.ProjectID, w.Component, w.Tpl, w.Count, w.ComboKey)
}

// Registry holds migrations by name.
type Registry struct {
	mu         sync.RWMutex
	migrations map[string]*Migration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{migrations: make(map[string]*Migration)}
}

// DefaultRegistry holds the built-in migrations.
var DefaultRegistry = NewRegistry()

// Register adds m to the default registry.
func Register(m Migration) {
	DefaultRegistry.Register(m)
}

// Register adds m. It panics on an empty or duplicate name, or a missing
// Apply, since registration happens from init.
func (r *Registry) Register(m Migration) {
	if m.Name == "" || m.Apply == nil {
		panic("migration: Register requires a name and an Apply func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.migrations[m.Name]; exists {
		panic(fmt.Sprintf("migration: %q registered twice", m.Name))
	}
	r.migrations[m.Name] = &m
}

// Lookup returns the migration called name.
func (r *Registry) Lookup(name string) (*Migration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.migrations[name]
	return m, ok
}

// All returns every migration in name order. Names carry a numeric prefix
// so name order is application order.
func (r *Registry) All() []*Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Migration, 0, len(r.migrations))
	for _, m := range r.migrations {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Select returns the named migrations in name order, or all of them when
// names is empty.
func (r *Registry) Select(names []string) ([]*Migration, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]*Migration, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		m, ok := r.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown migration %q", name)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

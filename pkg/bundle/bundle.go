// Package bundle converts between persisted bundles and in-memory sites.
//
// A bundle is a flat address map: every addressable object is stored once
// under its address with a "__type" tag, and references are written as
// {"__ref": "<address>"}. Variant settings, rule sets and columns settings are
// owned by their tpl and stored inline.
package bundle

import (
	"encoding/json"
	"slices"

	"github.com/davidthor/bundlefix/pkg/model"
)

// Object type tags.
const (
	TypeSite         = "Site"
	TypeComponent    = "Component"
	TypeVariantGroup = "VariantGroup"
	TypeVariant      = "Variant"
	TypeMixin        = "Mixin"
)

// Bundle is the persisted form of a site.
type Bundle struct {
	Version    string                     `json:"version"`
	Root       string                     `json:"root"`
	Deps       []string                   `json:"deps"`
	Migrations []string                   `json:"migrations,omitempty"`
	Map        map[string]json.RawMessage `json:"map"`
}

// HasMigration reports whether name is recorded in the bundle metadata.
func (b *Bundle) HasMigration(name string) bool {
	return slices.Contains(b.Migrations, name)
}

// Handle carries everything from a decoded bundle that the site model does not
// represent, so that Encode can write it back.
type Handle struct {
	version    string
	deps       []string
	migrations []string

	// opaque holds entries whose type the model does not know, keyed by address.
	opaque map[string]json.RawMessage
	// siteExtra holds uninterpreted fields of the root site object.
	siteExtra model.Extra

	// remap redirects references found inside opaque entries and extras.
	remap map[model.ID]model.ID
}

// Version returns the bundle version the handle was decoded from.
func (h *Handle) Version() string {
	return h.version
}

// Migrations returns the migration names recorded in the bundle.
func (h *Handle) Migrations() []string {
	return append([]string(nil), h.migrations...)
}

// RecordMigration appends name to the bundle's migration history once.
func (h *Handle) RecordMigration(name string) bool {
	if slices.Contains(h.migrations, name) {
		return false
	}
	h.migrations = append(h.migrations, name)
	return true
}

// SetVersion sets the version written by Encode.
func (h *Handle) SetVersion(v string) {
	h.version = v
}

// Redirect makes Encode rewrite references to from inside data the model does
// not interpret, so that removing an object leaves no dangling reference there.
func (h *Handle) Redirect(from, to model.ID) {
	if h.remap == nil {
		h.remap = make(map[model.ID]model.ID)
	}
	h.remap[from] = to
	// Keep chains flat: anything that pointed at from now points at to.
	for k, v := range h.remap {
		if v == from {
			h.remap[k] = to
		}
	}
}

// NewHandle returns a handle for a site that was not decoded from a bundle.
func NewHandle(version string) *Handle {
	return &Handle{version: version, deps: []string{}}
}

type ref struct {
	Ref string `json:"__ref"`
}

func refOf(id model.ID) *ref {
	if id == "" {
		return nil
	}
	return &ref{Ref: string(id)}
}

func refsOf(ids []model.ID) []ref {
	out := make([]ref, 0, len(ids))
	for _, id := range ids {
		out = append(out, ref{Ref: string(id)})
	}
	return out
}

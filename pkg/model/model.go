// Package model defines the in-memory site graph that bundle migrations operate on.
//
// Every addressable object lives in a per-site arena keyed by ID. Objects refer to
// each other only through IDs, so the graph has no pointer cycles and a reference
// can be rewritten by swapping one ID for another.
package model

import "encoding/json"

// Extra holds serialized fields the model does not interpret. They are carried
// through a load/save cycle untouched.
type Extra map[string]json.RawMessage

// Clone returns a shallow copy of e; raw values are immutable once decoded.
func (e Extra) Clone() Extra {
	if e == nil {
		return nil
	}
	out := make(Extra, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// ID is the arena address of an object. It is the bundle address the object was
// loaded from, so two objects with the same UUID still have distinct IDs.
type ID string

// BaseVariantName is the name every component's base variant carries.
const BaseVariantName = "base"

// VariantGroupType identifies what kind of axis a variant group represents.
type VariantGroupType string

const (
	GroupTypeComponent         VariantGroupType = "component"
	GroupTypeGlobalScreen      VariantGroupType = "global-screen"
	GroupTypeGlobalUserDefined VariantGroupType = "global-user-defined"
)

// Variant is a single value along a variant axis (a breakpoint, an
// interaction state, a code component state...).
type Variant struct {
	ID   ID
	UUID string
	Name string

	// Style variants are identified by their CSS selectors and the tpl they
	// are private to, if any.
	Selectors []string
	ForTpl    ID

	// Code component variants are identified by component name and keys.
	CodeComponentName        string
	CodeComponentVariantKeys []string

	// Parent is the owning variant group, empty for ungrouped variants.
	Parent ID

	MediaQuery  string
	Description string

	Extra Extra
}

// IsBase reports whether v is a base variant.
func (v *Variant) IsBase() bool {
	return v.Parent == "" && v.Name == BaseVariantName && len(v.Selectors) == 0 && v.CodeComponentName == ""
}

// IsCodeComponentVariant reports whether v carries a code component variant
// key list. An empty list still counts.
func (v *Variant) IsCodeComponentVariant() bool {
	return v.CodeComponentVariantKeys != nil
}

// IsStyleVariant reports whether v is a selector-based style variant.
func (v *Variant) IsStyleVariant() bool {
	return len(v.Selectors) > 0
}

// VariantGroup groups mutually related variants.
type VariantGroup struct {
	ID       ID
	UUID     string
	Name     string
	Type     VariantGroupType
	Multi    bool
	Variants []ID

	Extra Extra
}

// IsGlobal reports whether the group is owned by the site rather than a component.
func (g *VariantGroup) IsGlobal() bool {
	return g.Type == GroupTypeGlobalScreen || g.Type == GroupTypeGlobalUserDefined
}

// Component owns a tpl tree and its local variants.
type Component struct {
	ID      ID
	UUID    string
	Name    string
	TplTree ID

	// Variants is every component-local variant, grouped or not, in
	// traversal order. Groups reference entries of this list.
	Variants      []ID
	VariantGroups []ID

	Extra Extra
}

// RuleSet is a bag of CSS-like properties plus an ordered list of mixins.
// Later mixins override earlier ones when flattened.
type RuleSet struct {
	Values map[string]string
	Mixins []ID
}

// Clone returns a deep copy of rs.
func (rs RuleSet) Clone() RuleSet {
	out := RuleSet{}
	if rs.Values != nil {
		out.Values = make(map[string]string, len(rs.Values))
		for k, v := range rs.Values {
			out.Values[k] = v
		}
	}
	if rs.Mixins != nil {
		out.Mixins = append([]ID(nil), rs.Mixins...)
	}
	return out
}

// Mixin is a named, reusable rule set referenced by variant settings.
type Mixin struct {
	ID   ID
	UUID string
	Name string
	RS   RuleSet

	Extra Extra
}

// RichText is the text content attached to a variant setting.
type RichText struct {
	Text string

	Extra Extra
}

// VariantSetting is the style/content payload of a tpl for one variant combo.
type VariantSetting struct {
	Variants []ID
	RS       RuleSet
	// Attrs maps attribute names to serialized expressions. They are merged
	// but never interpreted.
	Attrs    map[string]json.RawMessage
	Text     *RichText

	Extra Extra
}

// Clone returns a deep copy of vs.
func (vs *VariantSetting) Clone() *VariantSetting {
	out := &VariantSetting{
		Variants: append([]ID(nil), vs.Variants...),
		RS:       vs.RS.Clone(),
		Extra:    vs.Extra.Clone(),
	}
	if vs.Attrs != nil {
		out.Attrs = make(map[string]json.RawMessage, len(vs.Attrs))
		for k, v := range vs.Attrs {
			out.Attrs[k] = v
		}
	}
	if vs.Text != nil {
		text := *vs.Text
		text.Extra = vs.Text.Extra.Clone()
		out.Text = &text
	}
	return out
}

// ColumnsSetting binds a columns tpl to the screen variant it collapses at.
type ColumnsSetting struct {
	ScreenBreakpoint ID

	Extra Extra
}

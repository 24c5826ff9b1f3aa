package model

import (
	"fmt"

	"github.com/davidthor/bundlefix/pkg/errors"
)

// RefKind says where a variant reference lives.
type RefKind string

const (
	RefVariantSetting RefKind = "variant-setting"
	RefColumnsSetting RefKind = "columns-setting"
)

// VariantRef is one live reference to a variant.
type VariantRef struct {
	Kind      RefKind
	Component ID
	Tpl       ID
	// Setting is the index into Tpl.VSettings for variant-setting refs.
	Setting int
}

// AllTpls returns every tpl of every component, component by component, each
// tree in pre-order.
func (s *Site) AllTpls() ([]*Tpl, error) {
	var out []*Tpl
	for _, cid := range s.Components {
		tpls, err := s.ComponentTpls(cid)
		if err != nil {
			return nil, err
		}
		out = append(out, tpls...)
	}
	return out, nil
}

// VariantRefs returns every live reference to the variant id.
func (s *Site) VariantRefs(id ID) ([]VariantRef, error) {
	var refs []VariantRef
	for _, cid := range s.Components {
		tpls, err := s.ComponentTpls(cid)
		if err != nil {
			return nil, err
		}
		for _, tpl := range tpls {
			for i, vs := range tpl.VSettings {
				for _, v := range vs.Variants {
					if v == id {
						refs = append(refs, VariantRef{Kind: RefVariantSetting, Component: cid, Tpl: tpl.ID, Setting: i})
						break
					}
				}
			}
			if tpl.ColumnsSetting != nil && tpl.ColumnsSetting.ScreenBreakpoint == id {
				refs = append(refs, VariantRef{Kind: RefColumnsSetting, Component: cid, Tpl: tpl.ID, Setting: -1})
			}
		}
	}
	return refs, nil
}

// Dangling is a reference to a variant or mixin that is not in the arena, or
// a variant that is not owned by the component or site that uses it.
type Dangling struct {
	Component ID
	Tpl       ID
	Target    ID
	Reason    string
}

func (d Dangling) String() string {
	return fmt.Sprintf("component %s tpl %s: %s %s", d.Component, d.Tpl, d.Reason, d.Target)
}

// CheckReferences walks every tpl and reports references that do not resolve
// to a variant owned by the tpl's component or by the site.
func (s *Site) CheckReferences() ([]Dangling, error) {
	globals := make(map[ID]bool, len(s.GlobalVariants))
	for _, id := range s.GlobalVariants {
		globals[id] = true
	}

	var out []Dangling
	for _, cid := range s.Components {
		c := s.components[cid]
		locals := make(map[ID]bool, len(c.Variants))
		for _, id := range c.Variants {
			locals[id] = true
		}
		owned := func(id ID) bool { return locals[id] || globals[id] }

		tpls, err := s.ComponentTpls(cid)
		if err != nil {
			return nil, err
		}
		for _, tpl := range tpls {
			for _, vs := range tpl.VSettings {
				for _, v := range vs.Variants {
					if !owned(v) {
						out = append(out, Dangling{Component: cid, Tpl: tpl.ID, Target: v, Reason: "variant setting references unowned variant"})
					}
				}
				for _, m := range vs.RS.Mixins {
					if _, ok := s.mixins[m]; !ok {
						out = append(out, Dangling{Component: cid, Tpl: tpl.ID, Target: m, Reason: "rule set references missing mixin"})
					}
				}
			}
			if cs := tpl.ColumnsSetting; cs != nil && cs.ScreenBreakpoint != "" && !owned(cs.ScreenBreakpoint) {
				out = append(out, Dangling{Component: cid, Tpl: tpl.ID, Target: cs.ScreenBreakpoint, Reason: "columns setting references unowned breakpoint"})
			}
		}
	}
	return out, nil
}

// RemoveComponentVariant deletes a component-local variant from the arena,
// from the component's variant list and from its group. It refuses to remove
// a variant that is still referenced anywhere.
func (s *Site) RemoveComponentVariant(componentID, id ID) error {
	c, ok := s.components[componentID]
	if !ok {
		return errors.NotFoundError("component", string(componentID))
	}
	if !containsID(c.Variants, id) {
		return errors.InvariantViolation("variant is not owned by component", map[string]interface{}{
			"component": componentID,
			"variant":   id,
		})
	}
	if err := s.ensureUnreferenced(id); err != nil {
		return err
	}
	c.Variants = removeID(c.Variants, id)
	s.detach(id)
	return nil
}

// RemoveGlobalVariant deletes a site-owned variant. Like RemoveComponentVariant
// it refuses to leave dangling references behind.
func (s *Site) RemoveGlobalVariant(id ID) error {
	if !containsID(s.GlobalVariants, id) {
		return errors.InvariantViolation("variant is not a global variant", map[string]interface{}{
			"variant": id,
		})
	}
	if err := s.ensureUnreferenced(id); err != nil {
		return err
	}
	s.GlobalVariants = removeID(s.GlobalVariants, id)
	s.detach(id)
	return nil
}

func (s *Site) ensureUnreferenced(id ID) error {
	refs, err := s.VariantRefs(id)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return errors.InvariantViolation("variant removed while still referenced", map[string]interface{}{
			"variant":    id,
			"references": len(refs),
			"first_tpl":  refs[0].Tpl,
		})
	}
	return nil
}

func (s *Site) detach(id ID) {
	if v, ok := s.variants[id]; ok && v.Parent != "" {
		if g, ok := s.groups[v.Parent]; ok {
			g.Variants = removeID(g.Variants, id)
		}
	}
	delete(s.variants, id)
}

func containsID(ids []ID, id ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func removeID(ids []ID, id ID) []ID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

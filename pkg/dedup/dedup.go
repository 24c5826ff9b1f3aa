// Package dedup collapses structurally identical variant definitions and
// rewrites every reference to the surviving one.
package dedup

import (
	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/model"
	"github.com/davidthor/bundlefix/pkg/variants"
)

// Result describes what a dedup pass did.
type Result struct {
	// Removed maps every removed variant to the owner that replaced it.
	Removed map[model.ID]model.ID

	RewrittenSettings int
	RewrittenColumns  int
}

// Changed reports whether the pass removed anything.
func (r *Result) Changed() bool {
	return len(r.Removed) > 0
}

// Component dedups the variants local to one component. References are
// rewritten in the component's own tpl tree.
func Component(site *model.Site, componentID model.ID) (*Result, error) {
	c, ok := site.Component(componentID)
	if !ok {
		return nil, errors.NotFoundError("component", string(componentID))
	}
	tpls, err := site.ComponentTpls(componentID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvariant, "walking component tree", err)
	}
	return run(site, append([]model.ID(nil), c.Variants...), tpls, func(id model.ID) error {
		return site.RemoveComponentVariant(componentID, id)
	})
}

// Globals dedups site-owned variants. Global variants may be referenced from
// any component, so every tpl of the site is rewritten.
func Globals(site *model.Site) (*Result, error) {
	tpls, err := site.AllTpls()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvariant, "walking site tree", err)
	}
	return run(site, append([]model.ID(nil), site.GlobalVariants...), tpls, site.RemoveGlobalVariant)
}

// Duplicates groups pool by variant key. The first variant with a given key
// owns it; the result maps each owner to the later variants sharing its key,
// in pool order. Owners without duplicates are left out.
func Duplicates(site *model.Site, pool []model.ID) (map[model.ID][]model.ID, error) {
	owners := make(map[string]model.ID)
	dups := make(map[model.ID][]model.ID)
	for _, id := range pool {
		key, err := variants.KeyOf(site, id)
		if err != nil {
			return nil, err
		}
		owner, seen := owners[key]
		if !seen {
			owners[key] = id
			continue
		}
		dups[owner] = append(dups[owner], id)
	}
	return dups, nil
}

func run(site *model.Site, pool []model.ID, tpls []*model.Tpl, remove func(model.ID) error) (*Result, error) {
	res := &Result{Removed: make(map[model.ID]model.ID)}

	// 1. group by key, first member owns the group
	dups, err := Duplicates(site, pool)
	if err != nil {
		return nil, err
	}
	for owner, members := range dups {
		for _, id := range members {
			res.Removed[id] = owner
		}
	}
	var removals []model.ID
	for _, id := range pool {
		if _, ok := res.Removed[id]; ok {
			removals = append(removals, id)
		}
	}
	if len(removals) == 0 {
		return res, nil
	}

	// 2. rewrite the whole scope before removing anything
	for _, tpl := range tpls {
		for _, vs := range tpl.VSettings {
			combo, changed, err := rewriteCombo(site, vs.Variants, res.Removed)
			if err != nil {
				return nil, err
			}
			if changed {
				vs.Variants = combo
				res.RewrittenSettings++
			}
		}
		if cs := tpl.ColumnsSetting; cs != nil && cs.ScreenBreakpoint != "" {
			if owner, ok := res.Removed[cs.ScreenBreakpoint]; ok {
				cs.ScreenBreakpoint = owner
				res.RewrittenColumns++
			}
		}
	}

	// 3. remove non-owners; removal re-checks for stale references
	for _, id := range removals {
		if err := remove(id); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// rewriteCombo maps every member through owners. Members must resolve in the
// arena. A combo that ends up naming an owner twice keeps it once.
func rewriteCombo(site *model.Site, combo []model.ID, owners map[model.ID]model.ID) ([]model.ID, bool, error) {
	changed := false
	out := make([]model.ID, 0, len(combo))
	seen := make(map[model.ID]bool, len(combo))
	for _, id := range combo {
		if _, ok := site.Variant(id); !ok {
			return nil, false, errors.InvariantViolation("variant setting references unknown variant", map[string]interface{}{
				"variant": id,
			})
		}
		if owner, ok := owners[id]; ok {
			id = owner
			changed = true
		}
		if seen[id] {
			changed = true
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, changed, nil
}

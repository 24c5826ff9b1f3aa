package migration

import (
	"github.com/davidthor/bundlefix/pkg/dedup"
	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/model"
	"github.com/davidthor/bundlefix/pkg/vsettings"
)

// MergeVariantSettingsName is recorded in bundle metadata once the fix has
// been written.
const MergeVariantSettingsName = "001-merge-duplicate-variant-settings"

func init() {
	Register(Migration{
		Name:        MergeVariantSettingsName,
		Description: "merge variant settings that share a variant combo and collapse duplicate variants",
		Apply:       MergeVariantSettings,
	})
}

// MergeVariantSettings fixes every component of the site in turn: colliding
// variant settings are merged on each tpl (pre-order), then duplicate
// component variants are collapsed. Duplicate global variants are collapsed
// last, across all components. Collisions left behind by the variant pass
// are reported as warnings, not fixed.
func MergeVariantSettings(doc *Document) (*Outcome, error) {
	site := doc.Site
	out := &Outcome{}

	for _, cid := range site.Components {
		tpls, err := site.ComponentTpls(cid)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvariant, "walking component tree", err)
		}
		for _, tpl := range tpls {
			before := len(tpl.VSettings)
			changed, err := vsettings.ResolveTpl(site, tpl)
			if err != nil {
				return nil, err
			}
			if changed {
				out.Changed = true
				out.MergedSettings += before - len(tpl.VSettings)
			}
		}

		res, err := dedup.Component(site, cid)
		if err != nil {
			return nil, err
		}
		out.add(fromDedup(res))
	}

	res, err := dedup.Globals(site)
	if err != nil {
		return nil, err
	}
	out.add(fromDedup(res))

	warnings, err := residualDuplicates(site)
	if err != nil {
		return nil, err
	}
	for i := range warnings {
		warnings[i].ProjectID = doc.ProjectID
	}
	out.Warnings = warnings

	log := doc.Log.With("project_id", doc.ProjectID)
	switch {
	case len(warnings) > 0:
		log.WithFields(map[string]interface{}{
			"merged":   out.MergedSettings,
			"residual": len(warnings),
		}).Warn("duplicate variant settings remain after migration")
	case out.MergedSettings > 0:
		log.With("merged", out.MergedSettings).Info("duplicate variant settings resolved")
	}

	return out, nil
}

func fromDedup(res *dedup.Result) *Outcome {
	return &Outcome{
		Changed:           res.Changed(),
		Removed:           res.Removed,
		RewrittenSettings: res.RewrittenSettings,
		RewrittenColumns:  res.RewrittenColumns,
	}
}

// residualDuplicates scans every tpl for settings that still share a combo key.
func residualDuplicates(site *model.Site) ([]Warning, error) {
	var warnings []Warning
	for _, cid := range site.Components {
		tpls, err := site.ComponentTpls(cid)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvariant, "walking component tree", err)
		}
		for _, tpl := range tpls {
			dups, err := vsettings.FindDuplicates(site, tpl.VSettings)
			if err != nil {
				return nil, err
			}
			for _, d := range dups {
				warnings = append(warnings, Warning{
					Component: cid,
					Tpl:       tpl.ID,
					ComboKey:  d.ComboKey,
					Count:     d.Count,
				})
			}
		}
	}
	return warnings, nil
}

package vsettings

import (
	"github.com/davidthor/bundlefix/pkg/model"
	"github.com/davidthor/bundlefix/pkg/variants"
)

type group struct {
	key      string
	settings []*model.VariantSetting
}

// groupByCombo buckets settings by combo key. Groups keep the order in which
// their first member was seen; members keep document order.
func groupByCombo(site *model.Site, settings []*model.VariantSetting) ([]*group, error) {
	var groups []*group
	index := make(map[string]*group, len(settings))
	for _, vs := range settings {
		key, err := variants.ComboKey(site, vs.Variants)
		if err != nil {
			return nil, err
		}
		g, ok := index[key]
		if !ok {
			g = &group{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.settings = append(g.settings, vs)
	}
	return groups, nil
}

// ResolveDuplicates collapses settings that share a combo key into one.
//
// Settings are treated as chronological: within a group the last one survives
// and the earlier ones are merged into it, most recent first, so an older
// setting never overrides a value contributed by a newer one. The result has
// one setting per group in first-seen group order.
//
// When nothing collides the input slice is returned as is with changed=false.
// The input settings are never modified.
func ResolveDuplicates(site *model.Site, settings []*model.VariantSetting) ([]*model.VariantSetting, bool, error) {
	if len(settings) == 0 {
		return settings, false, nil
	}

	groups, err := groupByCombo(site, settings)
	if err != nil {
		return nil, false, err
	}
	if len(groups) == len(settings) {
		return settings, false, nil
	}

	out := make([]*model.VariantSetting, 0, len(groups))
	for _, g := range groups {
		if len(g.settings) == 1 {
			out = append(out, g.settings[0])
			continue
		}
		survivor := g.settings[len(g.settings)-1]
		for i := len(g.settings) - 2; i >= 0; i-- {
			survivor, _ = MergeSettings(g.settings[i], survivor)
		}
		out = append(out, survivor)
	}
	return out, true, nil
}

// Duplicate describes a combo key that more than one setting resolves to.
type Duplicate struct {
	ComboKey string
	Count    int
}

// FindDuplicates reports every combo key shared by more than one setting, in
// first-seen order.
func FindDuplicates(site *model.Site, settings []*model.VariantSetting) ([]Duplicate, error) {
	groups, err := groupByCombo(site, settings)
	if err != nil {
		return nil, err
	}
	var dups []Duplicate
	for _, g := range groups {
		if len(g.settings) > 1 {
			dups = append(dups, Duplicate{ComboKey: g.key, Count: len(g.settings)})
		}
	}
	return dups, nil
}

// ResolveTpl runs ResolveDuplicates over tpl's settings and writes the result
// back when anything was merged.
func ResolveTpl(site *model.Site, tpl *model.Tpl) (bool, error) {
	out, changed, err := ResolveDuplicates(site, tpl.VSettings)
	if err != nil {
		return false, err
	}
	if changed {
		tpl.VSettings = out
	}
	return changed, nil
}

// Package vsettings resolves variant settings that collide on the same
// variant combo.
package vsettings

import (
	"github.com/davidthor/bundlefix/pkg/model"
)

// MergeRuleSets folds an older duplicate rule set into a newer survivor and
// returns the result. Neither argument is modified.
//
//   - Values: keys the survivor lacks are copied from dup; the survivor's own
//     values always win.
//   - Mixins: dup's mixins become a prefix of the survivor's, so mixins from
//     the newer setting come later and win when flattened.
func MergeRuleSets(dup, survivor model.RuleSet) (model.RuleSet, bool) {
	out := survivor.Clone()
	changed := false

	values, filled := fillMissing(out.Values, dup.Values)
	out.Values = values
	changed = changed || filled

	if len(dup.Mixins) > 0 {
		mixins := make([]model.ID, 0, len(dup.Mixins)+len(out.Mixins))
		mixins = append(mixins, dup.Mixins...)
		mixins = append(mixins, out.Mixins...)
		out.Mixins = mixins
		changed = true
	}

	return out, changed
}

// MergeSettings folds dup into a copy of survivor. The rule set follows
// MergeRuleSets; attrs follow the same fill-missing policy as values; the
// survivor's text is kept unless it has none. The survivor's combo is kept.
func MergeSettings(dup, survivor *model.VariantSetting) (*model.VariantSetting, bool) {
	out := survivor.Clone()

	rs, changed := MergeRuleSets(dup.RS, survivor.RS)
	out.RS = rs

	attrs, filled := fillMissing(out.Attrs, dup.Attrs)
	out.Attrs = attrs
	changed = changed || filled

	if out.Text == nil && dup.Text != nil {
		text := *dup.Text
		text.Extra = dup.Text.Extra.Clone()
		out.Text = &text
		changed = true
	}

	return out, changed
}

// fillMissing copies entries of from whose keys are absent in into. It may
// allocate into when it is nil.
func fillMissing[V any](into, from map[string]V) (map[string]V, bool) {
	changed := false
	for k, v := range from {
		if _, ok := into[k]; ok {
			continue
		}
		if into == nil {
			into = make(map[string]V, len(from))
		}
		into[k] = v
		changed = true
	}
	return into, changed
}

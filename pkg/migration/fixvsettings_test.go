package migration

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/logging"
	"github.com/davidthor/bundlefix/pkg/model"
)

type siteBuilder struct {
	t      *testing.T
	site   *model.Site
	comp   model.ID
	root   model.ID
	base   model.ID
	screen model.ID
}

func newSiteBuilder(t *testing.T) *siteBuilder {
	t.Helper()
	b := &siteBuilder{t: t, site: model.NewSite("s1", "p1")}
	var err error
	b.comp, err = b.site.AddComponent(&model.Component{UUID: "card", Name: "Card"})
	require.NoError(t, err)
	b.base = b.variant(&model.Variant{UUID: "base", Name: model.BaseVariantName}, b.comp)
	b.root, err = b.site.AddTpl(&model.Tpl{UUID: "root", Kind: model.KindTag, Tag: "div"}, b.comp, "")
	require.NoError(t, err)
	b.screen, err = b.site.AddVariantGroup(&model.VariantGroup{UUID: "screen", Name: "Screen", Type: model.GroupTypeGlobalScreen}, "")
	require.NoError(t, err)
	return b
}

func (b *siteBuilder) variant(v *model.Variant, owner model.ID) model.ID {
	b.t.Helper()
	id, err := b.site.AddVariant(v, owner)
	require.NoError(b.t, err)
	return id
}

func (b *siteBuilder) mobile(name string) model.ID {
	return b.variant(&model.Variant{UUID: "mobile", Name: name, Parent: b.screen, MediaQuery: "(max-width: 640px)"}, "")
}

func (b *siteBuilder) hover() model.ID {
	return b.variant(&model.Variant{Selectors: []string{":hover"}}, b.comp)
}

func (b *siteBuilder) tpl(parent model.ID, t *model.Tpl) *model.Tpl {
	b.t.Helper()
	if t.Kind == "" {
		t.Kind = model.KindTag
	}
	_, err := b.site.AddTpl(t, b.comp, parent)
	require.NoError(b.t, err)
	return t
}

func (b *siteBuilder) rootTpl() *model.Tpl {
	t, ok := b.site.Tpl(b.root)
	require.True(b.t, ok)
	return t
}

func setting(values map[string]string, variants ...model.ID) *model.VariantSetting {
	return &model.VariantSetting{Variants: variants, RS: model.RuleSet{Values: values}}
}

func doc(site *model.Site, log *logging.Logger) *Document {
	return &Document{ProjectID: "p1", Site: site, Log: log}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestMergeVariantSettings_BreakpointScenario(t *testing.T) {
	b := newSiteBuilder(t)
	mobileA := b.mobile("Mobile")
	mobileB := b.mobile("Mobile (copy)")

	root := b.rootTpl()
	root.VSettings = []*model.VariantSetting{
		setting(map[string]string{"display": "flex"}, b.base),
		setting(map[string]string{"color": "red"}, mobileA),
		setting(map[string]string{"color": "blue", "fontWeight": "700"}, mobileB),
	}
	columns := b.tpl(b.root, &model.Tpl{UUID: "cols", Tag: "div", ColumnsSetting: &model.ColumnsSetting{ScreenBreakpoint: mobileB}})

	buf := &bytes.Buffer{}
	log, err := logging.New(logging.Options{Level: "info", Format: logging.FormatJSON, Writer: buf})
	require.NoError(t, err)

	out, err := MergeVariantSettings(doc(b.site, log))
	require.NoError(t, err)

	assert.True(t, out.Changed)
	assert.Equal(t, 1, out.MergedSettings)
	assert.Equal(t, map[model.ID]model.ID{mobileB: mobileA}, out.Removed)
	assert.Equal(t, 1, out.RewrittenSettings)
	assert.Equal(t, 1, out.RewrittenColumns)
	assert.Empty(t, out.Warnings)

	require.Len(t, root.VSettings, 2)
	merged := root.VSettings[1]
	assert.Equal(t, []model.ID{mobileA}, merged.Variants)
	if diff := cmp.Diff(map[string]string{"color": "blue", "fontWeight": "700"}, merged.RS.Values); diff != "" {
		t.Errorf("merged values mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, mobileA, columns.ColumnsSetting.ScreenBreakpoint)

	assert.Equal(t, []model.ID{mobileA}, b.site.GlobalVariants)
	group, _ := b.site.VariantGroup(b.screen)
	assert.Equal(t, []model.ID{mobileA}, group.Variants)
	_, exists := b.site.Variant(mobileB)
	assert.False(t, exists)

	dangling, err := b.site.CheckReferences()
	require.NoError(t, err)
	assert.Empty(t, dangling)

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "duplicate variant settings resolved", lines[0]["message"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "p1", lines[0]["project_id"])
}

func TestMergeVariantSettings_ThreeIdenticalVariants(t *testing.T) {
	b := newSiteBuilder(t)
	h1 := b.hover()
	h2 := b.hover()
	h3 := b.hover()

	root := b.rootTpl()
	root.VSettings = []*model.VariantSetting{
		setting(map[string]string{"display": "flex"}, b.base),
		setting(map[string]string{"color": "blue"}, h3),
	}
	child := b.tpl(b.root, &model.Tpl{UUID: "child", Tag: "span"})
	child.VSettings = []*model.VariantSetting{setting(map[string]string{"opacity": "0.5"}, h2)}

	out, err := MergeVariantSettings(doc(b.site, nil))
	require.NoError(t, err)

	assert.Equal(t, map[model.ID]model.ID{h2: h1, h3: h1}, out.Removed)
	c, _ := b.site.Component(b.comp)
	assert.Equal(t, []model.ID{b.base, h1}, c.Variants)
	assert.Equal(t, []model.ID{h1}, root.VSettings[1].Variants)
	assert.Equal(t, []model.ID{h1}, child.VSettings[0].Variants)

	// Every remaining reference lands on a variant the component owns.
	tpls, err := b.site.ComponentTpls(b.comp)
	require.NoError(t, err)
	for _, tpl := range tpls {
		for _, vs := range tpl.VSettings {
			for _, v := range vs.Variants {
				assert.Contains(t, c.Variants, v)
			}
		}
	}
}

func TestMergeVariantSettings_ResidualDuplicates(t *testing.T) {
	b := newSiteBuilder(t)
	h1 := b.hover()
	h2 := b.hover()

	// {h1} and {h1,h2} have different combo keys until h2 collapses into h1.
	root := b.rootTpl()
	root.VSettings = []*model.VariantSetting{
		setting(map[string]string{"a": "1"}, h1),
		setting(map[string]string{"b": "2"}, h1, h2),
	}

	buf := &bytes.Buffer{}
	log, err := logging.New(logging.Options{Level: "info", Format: logging.FormatJSON, Writer: buf})
	require.NoError(t, err)

	out, err := MergeVariantSettings(doc(b.site, log))
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 0, out.MergedSettings)

	require.Len(t, out.Warnings, 1)
	w := out.Warnings[0]
	assert.Equal(t, "p1", w.ProjectID)
	assert.Equal(t, b.comp, w.Component)
	assert.Equal(t, b.root, w.Tpl)
	assert.Equal(t, 2, w.Count)
	assert.Len(t, root.VSettings, 2)

	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "duplicate variant settings remain after migration", lines[0]["message"])
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "p1", lines[0]["project_id"])

	// A second pass merges what the first one left behind.
	again, err := MergeVariantSettings(doc(b.site, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, again.MergedSettings)
	assert.Empty(t, again.Warnings)
}

func TestMergeVariantSettings_NoOp(t *testing.T) {
	b := newSiteBuilder(t)
	hover := b.hover()
	mobile := b.mobile("Mobile")

	root := b.rootTpl()
	settings := []*model.VariantSetting{
		setting(map[string]string{"display": "flex"}),
		setting(map[string]string{"color": "blue"}, hover),
		setting(map[string]string{"width": "100%"}, mobile),
	}
	root.VSettings = settings
	snapshot := make([]*model.VariantSetting, len(settings))
	for i, vs := range settings {
		snapshot[i] = vs.Clone()
	}

	buf := &bytes.Buffer{}
	log, err := logging.New(logging.Options{Format: logging.FormatJSON, Writer: buf})
	require.NoError(t, err)

	out, err := MergeVariantSettings(doc(b.site, log))
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Removed)
	assert.Empty(t, out.Warnings)
	assert.Empty(t, buf.String())

	require.Len(t, root.VSettings, 3)
	for i := range settings {
		assert.Same(t, settings[i], root.VSettings[i])
	}
	if diff := cmp.Diff(snapshot, root.VSettings); diff != "" {
		t.Errorf("settings changed (-want +got):\n%s", diff)
	}
}

func TestMergeVariantSettings_Idempotent(t *testing.T) {
	b := newSiteBuilder(t)
	mobileA := b.mobile("Mobile")
	mobileB := b.mobile("Mobile")
	h1 := b.hover()
	b.hover()

	root := b.rootTpl()
	root.VSettings = []*model.VariantSetting{
		setting(map[string]string{"color": "red", "margin": "0"}, mobileA),
		setting(map[string]string{"color": "blue"}, mobileB),
		setting(map[string]string{"opacity": "1"}, h1),
	}

	_, err := MergeVariantSettings(doc(b.site, nil))
	require.NoError(t, err)
	first := make([]*model.VariantSetting, len(root.VSettings))
	for i, vs := range root.VSettings {
		first[i] = vs.Clone()
	}

	out, err := MergeVariantSettings(doc(b.site, nil))
	require.NoError(t, err)
	assert.False(t, out.Changed)
	if diff := cmp.Diff(first, root.VSettings); diff != "" {
		t.Errorf("second pass changed settings (-want +got):\n%s", diff)
	}
}

func TestMergeVariantSettings_UnknownVariant(t *testing.T) {
	b := newSiteBuilder(t)
	b.rootTpl().VSettings = []*model.VariantSetting{setting(nil, "ghost")}

	_, err := MergeVariantSettings(doc(b.site, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvariant))
}

func TestInspect(t *testing.T) {
	b := newSiteBuilder(t)
	mobileA := b.mobile("Mobile")
	mobileB := b.mobile("Mobile")

	root := b.rootTpl()
	root.VSettings = []*model.VariantSetting{
		setting(map[string]string{"color": "red"}, mobileA),
		setting(map[string]string{"color": "blue"}, mobileB),
	}
	b.tpl(b.root, &model.Tpl{UUID: "cols", Tag: "div", ColumnsSetting: &model.ColumnsSetting{ScreenBreakpoint: "gone"}})

	inspection, err := Inspect("p1", b.site)
	require.NoError(t, err)
	assert.False(t, inspection.Healthy())
	require.Len(t, inspection.DuplicateSettings, 1)
	assert.Equal(t, 2, inspection.DuplicateSettings[0].Count)
	assert.Equal(t, map[model.ID][]model.ID{mobileA: {mobileB}}, inspection.DuplicateVariants)
	require.Len(t, inspection.Dangling, 1)
	assert.Contains(t, inspection.Dangling[0], "gone")

	// Inspect never mutates.
	assert.Len(t, root.VSettings, 2)
	assert.Len(t, b.site.GlobalVariants, 2)
}

package bundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/model"
)

func loadFixture(t *testing.T) *Bundle {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "site.bundle.json"))
	require.NoError(t, err)
	b, err := Parse(data)
	require.NoError(t, err)
	return b
}

func decodeFixture(t *testing.T) (*model.Site, *Handle) {
	t.Helper()
	site, h, err := Decode(loadFixture(t), "proj-1")
	require.NoError(t, err)
	return site, h
}

func objectField(t *testing.T, b *Bundle, addr, field string) json.RawMessage {
	t.Helper()
	raw, ok := b.Map[addr]
	require.True(t, ok, "missing object %s", addr)
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &obj))
	return obj[field]
}

func TestDecode(t *testing.T) {
	site, h := decodeFixture(t)

	assert.Equal(t, model.ID("s1"), site.ID)
	assert.Equal(t, "proj-1", site.ProjectID)
	assert.Equal(t, "42", h.Version())
	assert.Equal(t, []string{"initial"}, h.Migrations())
	assert.Equal(t, []model.ID{"c1"}, site.Components)
	assert.Equal(t, []model.ID{"gv1", "gv2"}, site.GlobalVariants)

	c, ok := site.Component("c1")
	require.True(t, ok)
	assert.Equal(t, "Button", c.Name)
	assert.Equal(t, model.ID("t1"), c.TplTree)
	assert.Contains(t, c.Extra, "params")

	base, ok := site.Variant("v-base")
	require.True(t, ok)
	assert.True(t, base.IsBase())

	hover, _ := site.Variant("v-hover")
	assert.Equal(t, []string{":hover"}, hover.Selectors)
	assert.Equal(t, model.ID("t1"), hover.ForTpl)

	root, ok := site.Tpl("t1")
	require.True(t, ok)
	assert.Equal(t, model.KindTag, root.Kind)
	assert.Equal(t, []model.ID{"t2"}, root.Children)
	require.NotNil(t, root.ColumnsSetting)
	assert.Equal(t, model.ID("gv1"), root.ColumnsSetting.ScreenBreakpoint)

	require.Len(t, root.VSettings, 2)
	vs := root.VSettings[0]
	assert.Equal(t, []model.ID{"v-base"}, vs.Variants)
	assert.Equal(t, map[string]string{"display": "flex"}, vs.RS.Values)
	assert.Equal(t, []model.ID{"m1"}, vs.RS.Mixins)
	require.Len(t, vs.Attrs, 2)
	assert.JSONEq(t, `{"__type":"CustomCode","code":"\"root\"","fallback":null}`, string(vs.Attrs["id"]))
	assert.JSONEq(t, `{"__type":"CustomCode","code":"\"/x\""}`, string(vs.Attrs["href"]))
	assert.Nil(t, vs.Text)
	assert.Contains(t, vs.Extra, "dataCond")

	require.NotNil(t, root.VSettings[1].Text)
	assert.Equal(t, "hi", root.VSettings[1].Text.Text)
	assert.Contains(t, root.VSettings[1].Text.Extra, "markers")

	slot, _ := site.Tpl("t2")
	assert.Equal(t, model.KindSlot, slot.Kind)
	assert.Equal(t, "children", slot.Param)
	assert.Equal(t, model.ID("t1"), slot.Parent)
}

func TestEncode_PreservesUninterpretedData(t *testing.T) {
	site, h := decodeFixture(t)

	out, err := Encode(site, h)
	require.NoError(t, err)

	assert.Equal(t, "s1", out.Root)
	assert.Equal(t, "42", out.Version)
	assert.Len(t, out.Map, len(loadFixture(t).Map))

	assert.JSONEq(t, `{"__ref":"theme1"}`, string(objectField(t, out, "s1", "activeTheme")))
	assert.JSONEq(t, `{"__type":"Theme","name":"default","screen":{"__ref":"gv2"}}`, string(out.Map["theme1"]))
	assert.JSONEq(t, `[]`, string(objectField(t, out, "c1", "params")))

	var settings []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(objectField(t, out, "t1", "vsettings"), &settings))
	require.Len(t, settings, 2)
	assert.JSONEq(t, `{"code":"true"}`, string(settings[0]["dataCond"]))
	assert.JSONEq(t, `{"__type":"RawText","text":"hi","markers":[]}`, string(settings[1]["text"]))
}

func TestEncode_Stable(t *testing.T) {
	site, h := decodeFixture(t)
	first, err := Encode(site, h)
	require.NoError(t, err)
	firstBytes, err := Marshal(first)
	require.NoError(t, err)

	again, err := Parse(firstBytes)
	require.NoError(t, err)
	site2, h2, err := Decode(again, "proj-1")
	require.NoError(t, err)
	second, err := Encode(site2, h2)
	require.NoError(t, err)
	secondBytes, err := Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, string(firstBytes), string(secondBytes))
}

func TestEncode_RedirectsOpaqueReferences(t *testing.T) {
	site, h := decodeFixture(t)

	// gv2 is only referenced from data the model does not interpret.
	require.NoError(t, site.RemoveGlobalVariant("gv2"))
	h.Redirect("gv2", "gv1")

	out, err := Encode(site, h)
	require.NoError(t, err)
	assert.NotContains(t, out.Map, "gv2")
	assert.JSONEq(t, `{"__ref":"gv1"}`, string(objectField(t, out, "theme1", "screen")))
}

func TestEncode_ExpressionAttrs(t *testing.T) {
	site, h := decodeFixture(t)
	root, ok := site.Tpl("t1")
	require.True(t, ok)
	root.VSettings[0].Attrs["data-screen"] = json.RawMessage(`{"__type":"VariantsRef","variants":[{"__ref":"gv2"}]}`)

	require.NoError(t, site.RemoveGlobalVariant("gv2"))
	h.Redirect("gv2", "gv1")

	out, err := Encode(site, h)
	require.NoError(t, err)

	var settings []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(objectField(t, out, "t1", "vsettings"), &settings))
	var attrs map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(settings[0]["attrs"], &attrs))
	assert.JSONEq(t, `{"__type":"CustomCode","code":"\"/x\""}`, string(attrs["href"]))
	assert.JSONEq(t, `{"__type":"VariantsRef","variants":[{"__ref":"gv1"}]}`, string(attrs["data-screen"]))

	decoded, _, err := Decode(out, "proj-1")
	require.NoError(t, err)
	t1, ok := decoded.Tpl("t1")
	require.True(t, ok)
	assert.Len(t, t1.VSettings[0].Attrs, 3)
}

func TestEncode_DanglingReference(t *testing.T) {
	site, h := decodeFixture(t)
	require.NoError(t, site.RemoveGlobalVariant("gv2"))

	_, err := Encode(site, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeSerialization))
	assert.Contains(t, err.Error(), "gv2")
}

func TestEncode_CodeComponentVariantKeys(t *testing.T) {
	site := model.NewSite("root", "p")
	cid, err := site.AddComponent(&model.Component{Name: "Slider"})
	require.NoError(t, err)
	ordered, err := site.AddVariant(&model.Variant{CodeComponentName: "Slider", CodeComponentVariantKeys: []string{"pressed", "hover"}}, cid)
	require.NoError(t, err)
	empty, err := site.AddVariant(&model.Variant{CodeComponentName: "Slider", CodeComponentVariantKeys: []string{}}, cid)
	require.NoError(t, err)
	plain, err := site.AddVariant(&model.Variant{Selectors: []string{":hover"}}, cid)
	require.NoError(t, err)

	out, err := Encode(site, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `["pressed","hover"]`, string(objectField(t, out, string(ordered), "codeComponentVariantKeys")))
	assert.JSONEq(t, `[]`, string(objectField(t, out, string(empty), "codeComponentVariantKeys")))
	assert.JSONEq(t, `null`, string(objectField(t, out, string(plain), "codeComponentVariantKeys")))

	decoded, _, err := Decode(out, "p")
	require.NoError(t, err)
	v, ok := decoded.Variant(empty)
	require.True(t, ok)
	assert.True(t, v.IsCodeComponentVariant())
}

func TestEncode_FreshSite(t *testing.T) {
	site := model.NewSite("root", "p")
	cid, err := site.AddComponent(&model.Component{Name: "Card"})
	require.NoError(t, err)
	base, err := site.AddVariant(&model.Variant{Name: model.BaseVariantName}, cid)
	require.NoError(t, err)
	_, err = site.AddTpl(&model.Tpl{
		Kind:      model.KindTag,
		Tag:       "div",
		VSettings: []*model.VariantSetting{{Variants: []model.ID{base}}},
	}, cid, "")
	require.NoError(t, err)

	out, err := Encode(site, nil)
	require.NoError(t, err)
	assert.Len(t, out.Map, 4)
	assert.Equal(t, []string{}, out.Deps)

	decoded, _, err := Decode(out, "p")
	require.NoError(t, err)
	c, ok := decoded.Component(cid)
	require.True(t, ok)
	assert.Equal(t, "Card", c.Name)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		bundle string
		errMsg string
	}{
		{
			name:   "root is not a site",
			bundle: `{"root":"x","map":{"x":{"__type":"Mixin","uuid":"u","name":"m"}}}`,
			errMsg: "expected Site",
		},
		{
			name:   "missing reference target",
			bundle: `{"root":"s","map":{"s":{"__type":"Site","components":[{"__ref":"nope"}]}}}`,
			errMsg: "missing object nope",
		},
		{
			name: "reference to wrong type",
			bundle: `{"root":"s","map":{
				"s":{"__type":"Site","mixins":[{"__ref":"v"}]},
				"v":{"__type":"Variant","uuid":"u","name":"n"}}}`,
			errMsg: `of type "Variant"`,
		},
		{
			name:   "malformed field",
			bundle: `{"root":"s","map":{"s":{"__type":"Site","components":"oops"}}}`,
			errMsg: `field "components"`,
		},
		{
			name: "empty reference",
			bundle: `{"root":"s","map":{
				"s":{"__type":"Site","components":[{"__ref":"c"}]},
				"c":{"__type":"Component","uuid":"u","name":"n","tplTree":{"__ref":""}}}}`,
			errMsg: "empty reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Parse([]byte(tt.bundle))
			require.NoError(t, err)
			_, _, err = Decode(b, "p")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeSerialization))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"map":{}}`))
	assert.ErrorContains(t, err, "no root")

	_, err = Parse([]byte(`{"root":"s"}`))
	assert.ErrorContains(t, err, "no object map")
}

func TestHandle_RecordMigration(t *testing.T) {
	h := NewHandle("1")
	assert.True(t, h.RecordMigration("fix"))
	assert.False(t, h.RecordMigration("fix"))
	assert.Equal(t, []string{"fix"}, h.Migrations())

	b := &Bundle{Migrations: h.Migrations()}
	assert.True(t, b.HasMigration("fix"))
	assert.False(t, b.HasMigration("other"))
}

func TestHandle_RedirectChains(t *testing.T) {
	h := NewHandle("1")
	h.Redirect("a", "b")
	h.Redirect("b", "c")
	assert.Equal(t, model.ID("c"), h.remap["a"])
	assert.Equal(t, model.ID("c"), h.remap["b"])
}

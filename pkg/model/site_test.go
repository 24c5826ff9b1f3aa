package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/bundlefix/pkg/errors"
)

// buildSite creates a component whose tree is
//
//	root (tag)
//	├── a (tag)
//	│   └── a1 (component instance)
//	└── slot (slot)
//	    └── s1 (tag)
func buildSite(t *testing.T) (*Site, ID) {
	t.Helper()
	s := NewSite("site", "p1")
	comp, err := s.AddComponent(&Component{ID: "c1", UUID: "c", Name: "Card"})
	require.NoError(t, err)

	add := func(tpl *Tpl, parent ID) {
		_, err := s.AddTpl(tpl, comp, parent)
		require.NoError(t, err)
	}
	add(&Tpl{ID: "root", Kind: KindTag, Tag: "div"}, "")
	add(&Tpl{ID: "a", Kind: KindTag, Tag: "section"}, "root")
	add(&Tpl{ID: "a1", Kind: KindComponent, Component: comp}, "a")
	add(&Tpl{ID: "slot", Kind: KindSlot, Param: "children"}, "root")
	add(&Tpl{ID: "s1", Kind: KindTag, Tag: "span"}, "slot")
	return s, comp
}

func ids(tpls []*Tpl) []ID {
	out := make([]ID, len(tpls))
	for i, t := range tpls {
		out[i] = t.ID
	}
	return out
}

func TestFlattenTpls_PreOrder(t *testing.T) {
	s, comp := buildSite(t)

	tpls, err := s.ComponentTpls(comp)
	require.NoError(t, err)
	assert.Equal(t, []ID{"root", "a", "a1", "slot", "s1"}, ids(tpls))

	sub, err := s.FlattenTpls("slot")
	require.NoError(t, err)
	assert.Equal(t, []ID{"slot", "s1"}, ids(sub))

	none, err := s.FlattenTpls("")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFlattenTpls_Errors(t *testing.T) {
	s, _ := buildSite(t)

	root, _ := s.Tpl("root")
	root.Children = append(root.Children, "missing")
	_, err := s.FlattenTpls("root")
	assert.ErrorContains(t, err, "missing")

	root.Children = []ID{"a", "a"}
	_, err = s.FlattenTpls("root")
	assert.ErrorContains(t, err, "visited twice")
}

func TestAddTpl_Validation(t *testing.T) {
	s, comp := buildSite(t)

	_, err := s.AddTpl(&Tpl{Kind: "TplBogus"}, comp, "root")
	assert.ErrorContains(t, err, "unknown tpl kind")

	_, err = s.AddTpl(&Tpl{Kind: KindTag}, comp, "a1")
	assert.ErrorContains(t, err, "cannot own children")

	_, err = s.AddTpl(&Tpl{ID: "root", Kind: KindTag}, comp, "a")
	assert.ErrorContains(t, err, "already in use")
}

func TestNewID(t *testing.T) {
	s := NewSite("n1", "p1")
	_, err := s.AddMixin(&Mixin{ID: "n2"})
	require.NoError(t, err)

	id := s.NewID()
	assert.Equal(t, ID("n3"), id)

	m := &Mixin{Name: "Brand"}
	got, err := s.AddMixin(m)
	require.NoError(t, err)
	assert.Equal(t, got, m.ID)
	assert.Equal(t, []ID{"n2", got}, s.Mixins)
}

func TestPut(t *testing.T) {
	s := NewSite("site", "p1")
	require.NoError(t, s.PutVariant(&Variant{ID: "v1"}))
	assert.ErrorContains(t, s.PutVariant(&Variant{ID: "v1"}), "already in use")
	assert.ErrorContains(t, s.PutMixin(&Mixin{}), "no address")
	assert.ErrorContains(t, s.PutTpl(&Tpl{ID: "t", Kind: "Nope"}), "unknown tpl kind")

	// Put does not wire objects into any list.
	assert.Empty(t, s.GlobalVariants)
	_, ok := s.Variant("v1")
	assert.True(t, ok)
}

func TestAddresses(t *testing.T) {
	s, _ := buildSite(t)
	_, err := s.AddVariant(&Variant{ID: "b"}, "")
	require.NoError(t, err)

	assert.Equal(t, []ID{"a", "a1", "b", "c1", "root", "s1", "slot"}, s.Addresses())
}

func TestVariantRefs(t *testing.T) {
	s, comp := buildSite(t)
	hover, err := s.AddVariant(&Variant{ID: "hover", Selectors: []string{":hover"}}, comp)
	require.NoError(t, err)

	root, _ := s.Tpl("root")
	root.VSettings = []*VariantSetting{{}, {Variants: []ID{hover, hover}}}
	root.ColumnsSetting = &ColumnsSetting{ScreenBreakpoint: hover}
	s1, _ := s.Tpl("s1")
	s1.VSettings = []*VariantSetting{{Variants: []ID{hover}}}

	refs, err := s.VariantRefs(hover)
	require.NoError(t, err)
	assert.Equal(t, []VariantRef{
		{Kind: RefVariantSetting, Component: comp, Tpl: "root", Setting: 1},
		{Kind: RefColumnsSetting, Component: comp, Tpl: "root", Setting: -1},
		{Kind: RefVariantSetting, Component: comp, Tpl: "s1", Setting: 0},
	}, refs)
}

func TestRemoveComponentVariant(t *testing.T) {
	s, comp := buildSite(t)
	group, err := s.AddVariantGroup(&VariantGroup{ID: "g", Type: GroupTypeComponent}, comp)
	require.NoError(t, err)
	v, err := s.AddVariant(&Variant{ID: "v", Parent: group}, comp)
	require.NoError(t, err)

	root, _ := s.Tpl("root")
	root.VSettings = []*VariantSetting{{Variants: []ID{v}}}

	err = s.RemoveComponentVariant(comp, v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvariant))
	_, ok := s.Variant(v)
	assert.True(t, ok, "failed removal must leave the variant in place")

	root.VSettings = nil
	require.NoError(t, s.RemoveComponentVariant(comp, v))

	c, _ := s.Component(comp)
	assert.Empty(t, c.Variants)
	g, _ := s.VariantGroup(group)
	assert.Empty(t, g.Variants)
	_, ok = s.Variant(v)
	assert.False(t, ok)

	err = s.RemoveComponentVariant(comp, v)
	assert.True(t, errors.Is(err, errors.ErrCodeInvariant))
	err = s.RemoveComponentVariant("nope", v)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestRemoveGlobalVariant(t *testing.T) {
	s, comp := buildSite(t)
	local, err := s.AddVariant(&Variant{ID: "local"}, comp)
	require.NoError(t, err)
	global, err := s.AddVariant(&Variant{ID: "global"}, "")
	require.NoError(t, err)

	s1, _ := s.Tpl("s1")
	s1.ColumnsSetting = &ColumnsSetting{ScreenBreakpoint: global}

	assert.True(t, errors.Is(s.RemoveGlobalVariant(local), errors.ErrCodeInvariant))
	assert.True(t, errors.Is(s.RemoveGlobalVariant(global), errors.ErrCodeInvariant))

	s1.ColumnsSetting = nil
	require.NoError(t, s.RemoveGlobalVariant(global))
	assert.Empty(t, s.GlobalVariants)
}

func TestCheckReferences(t *testing.T) {
	s, comp := buildSite(t)
	owned, err := s.AddVariant(&Variant{ID: "owned"}, comp)
	require.NoError(t, err)
	global, err := s.AddVariant(&Variant{ID: "global"}, "")
	require.NoError(t, err)
	other, err := s.AddComponent(&Component{ID: "c2"})
	require.NoError(t, err)
	foreign, err := s.AddVariant(&Variant{ID: "foreign"}, other)
	require.NoError(t, err)

	root, _ := s.Tpl("root")
	root.VSettings = []*VariantSetting{
		{Variants: []ID{owned, global}},
		{Variants: []ID{foreign}, RS: RuleSet{Mixins: []ID{"no-mixin"}}},
	}
	root.ColumnsSetting = &ColumnsSetting{ScreenBreakpoint: "gone"}

	dangling, err := s.CheckReferences()
	require.NoError(t, err)
	require.Len(t, dangling, 3)
	assert.Equal(t, foreign, dangling[0].Target)
	assert.Equal(t, ID("no-mixin"), dangling[1].Target)
	assert.Equal(t, ID("gone"), dangling[2].Target)
	assert.Contains(t, dangling[2].String(), "tpl root")
}

func TestVariantKinds(t *testing.T) {
	assert.True(t, (&Variant{Name: BaseVariantName}).IsBase())
	assert.False(t, (&Variant{Name: BaseVariantName, Parent: "g"}).IsBase())
	assert.False(t, (&Variant{Name: BaseVariantName, Selectors: []string{":hover"}}).IsBase())
	assert.True(t, (&Variant{CodeComponentName: "X", CodeComponentVariantKeys: []string{"k"}}).IsCodeComponentVariant())
	assert.False(t, (&Variant{CodeComponentName: "X"}).IsCodeComponentVariant())
	assert.True(t, (&Variant{CodeComponentVariantKeys: []string{"k"}}).IsCodeComponentVariant())
	assert.True(t, (&Variant{CodeComponentName: "X", CodeComponentVariantKeys: []string{}}).IsCodeComponentVariant())
	assert.True(t, (&Variant{Selectors: []string{":hover"}}).IsStyleVariant())
	assert.True(t, (&VariantGroup{Type: GroupTypeGlobalUserDefined}).IsGlobal())
	assert.False(t, (&VariantGroup{Type: GroupTypeComponent}).IsGlobal())
}

func TestVariantSettingClone(t *testing.T) {
	vs := &VariantSetting{
		Variants: []ID{"a"},
		RS:       RuleSet{Values: map[string]string{"k": "v"}, Mixins: []ID{"m"}},
		Attrs:    map[string]json.RawMessage{"id": json.RawMessage(`"x"`)},
		Text:     &RichText{Text: "hi"},
	}
	c := vs.Clone()
	c.Variants[0] = "b"
	c.RS.Values["k"] = "changed"
	c.RS.Mixins[0] = "n"
	c.Attrs["id"] = json.RawMessage(`"y"`)
	c.Text.Text = "bye"

	assert.Equal(t, []ID{"a"}, vs.Variants)
	assert.Equal(t, "v", vs.RS.Values["k"])
	assert.Equal(t, []ID{"m"}, vs.RS.Mixins)
	assert.Equal(t, json.RawMessage(`"x"`), vs.Attrs["id"])
	assert.Equal(t, "hi", vs.Text.Text)
}

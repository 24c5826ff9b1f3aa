package bundle

import (
	"encoding/json"
	"fmt"

	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/model"
)

// Parse decodes raw bundle bytes.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.SerializationError("decode", err)
	}
	if b.Root == "" {
		return nil, errors.SerializationError("decode", fmt.Errorf("bundle has no root"))
	}
	if b.Map == nil {
		return nil, errors.SerializationError("decode", fmt.Errorf("bundle has no object map"))
	}
	return &b, nil
}

// Decode builds a site from b. The returned handle must be passed back to
// Encode to write the site out again without losing data the model ignores.
func Decode(b *Bundle, projectID string) (*model.Site, *Handle, error) {
	d := &decoder{
		bundle: b,
		types:  make(map[string]string, len(b.Map)),
		handle: &Handle{
			version:    b.Version,
			deps:       append([]string{}, b.Deps...),
			migrations: append([]string(nil), b.Migrations...),
			opaque:     make(map[string]json.RawMessage),
		},
	}
	site, err := d.decode(projectID)
	if err != nil {
		return nil, nil, errors.SerializationError("decode", err)
	}
	return site, d.handle, nil
}

type decoder struct {
	bundle *Bundle
	types  map[string]string
	handle *Handle
	site   *model.Site
}

func (d *decoder) decode(projectID string) (*model.Site, error) {
	for addr, raw := range d.bundle.Map {
		var head struct {
			Type string `json:"__type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("object %s: %w", addr, err)
		}
		d.types[addr] = head.Type
	}
	if d.types[d.bundle.Root] != TypeSite {
		return nil, fmt.Errorf("root %s is %q, expected %s", d.bundle.Root, d.types[d.bundle.Root], TypeSite)
	}

	d.site = model.NewSite(model.ID(d.bundle.Root), projectID)
	for addr, raw := range d.bundle.Map {
		if err := d.decodeObject(addr, raw); err != nil {
			return nil, fmt.Errorf("object %s: %w", addr, err)
		}
	}
	if err := d.checkRefs(); err != nil {
		return nil, err
	}
	return d.site, nil
}

func (d *decoder) decodeObject(addr string, raw json.RawMessage) error {
	f, err := newFields(raw)
	if err != nil {
		return err
	}
	id := model.ID(addr)
	typ := f.str("__type")

	switch typ {
	case TypeSite:
		if addr != d.bundle.Root {
			return fmt.Errorf("second site object")
		}
		d.site.Components = f.refs("components")
		d.site.GlobalVariantGroups = f.refs("globalVariantGroups")
		d.site.GlobalVariants = f.refs("globalVariants")
		d.site.Mixins = f.refs("mixins")
		d.handle.siteExtra = f.rest()
		return f.err

	case TypeComponent:
		c := &model.Component{
			ID:            id,
			UUID:          f.str("uuid"),
			Name:          f.str("name"),
			TplTree:       f.ref("tplTree"),
			Variants:      f.refs("variants"),
			VariantGroups: f.refs("variantGroups"),
		}
		c.Extra = f.rest()
		if f.err != nil {
			return f.err
		}
		return d.site.PutComponent(c)

	case TypeVariantGroup:
		g := &model.VariantGroup{
			ID:       id,
			UUID:     f.str("uuid"),
			Name:     f.str("name"),
			Type:     model.VariantGroupType(f.str("type")),
			Multi:    f.boolean("multi"),
			Variants: f.refs("variants"),
		}
		g.Extra = f.rest()
		if f.err != nil {
			return f.err
		}
		return d.site.PutVariantGroup(g)

	case TypeVariant:
		v := &model.Variant{
			ID:                       id,
			UUID:                     f.str("uuid"),
			Name:                     f.str("name"),
			Selectors:                f.strs("selectors"),
			ForTpl:                   f.ref("forTpl"),
			CodeComponentName:        f.str("codeComponentName"),
			CodeComponentVariantKeys: f.strs("codeComponentVariantKeys"),
			Parent:                   f.ref("parent"),
			MediaQuery:               f.str("mediaQuery"),
			Description:              f.str("description"),
		}
		v.Extra = f.rest()
		if f.err != nil {
			return f.err
		}
		return d.site.PutVariant(v)

	case TypeMixin:
		m := &model.Mixin{
			ID:   id,
			UUID: f.str("uuid"),
			Name: f.str("name"),
			RS:   f.ruleSet("rs"),
		}
		m.Extra = f.rest()
		if f.err != nil {
			return f.err
		}
		return d.site.PutMixin(m)

	case string(model.KindTag), string(model.KindComponent), string(model.KindSlot):
		t := &model.Tpl{
			ID:        id,
			UUID:      f.str("uuid"),
			Kind:      model.TplKind(typ),
			Parent:    f.ref("parent"),
			VSettings: f.settings("vsettings"),
		}
		switch t.Kind {
		case model.KindTag:
			t.Tag = f.str("tag")
			t.Name = f.str("name")
			t.Children = f.refs("children")
			t.ColumnsSetting = f.columns("columnsSetting")
		case model.KindComponent:
			t.Name = f.str("name")
			t.Component = f.ref("component")
		case model.KindSlot:
			t.Param = f.str("param")
			t.DefaultContents = f.refs("defaultContents")
		}
		t.Extra = f.rest()
		if f.err != nil {
			return f.err
		}
		return d.site.PutTpl(t)

	default:
		d.handle.opaque[addr] = raw
		return nil
	}
}

// checkRefs verifies that every reference the model follows lands on an
// object of the expected type.
func (d *decoder) checkRefs() error {
	s := d.site
	want := func(owner string, id model.ID, typ ...string) error {
		if id == "" {
			return nil
		}
		got := d.types[string(id)]
		for _, t := range typ {
			if got == t {
				return nil
			}
		}
		if got == "" {
			return fmt.Errorf("%s references missing object %s", owner, id)
		}
		return fmt.Errorf("%s references %s of type %q, expected %v", owner, id, got, typ)
	}
	tplTypes := []string{string(model.KindTag), string(model.KindComponent), string(model.KindSlot)}

	check := func(owner string, ids []model.ID, typ ...string) error {
		for _, id := range ids {
			if err := want(owner, id, typ...); err != nil {
				return err
			}
		}
		return nil
	}

	if err := check("site", s.Components, TypeComponent); err != nil {
		return err
	}
	if err := check("site", s.GlobalVariantGroups, TypeVariantGroup); err != nil {
		return err
	}
	if err := check("site", s.GlobalVariants, TypeVariant); err != nil {
		return err
	}
	if err := check("site", s.Mixins, TypeMixin); err != nil {
		return err
	}

	for addr, typ := range d.types {
		id := model.ID(addr)
		owner := typ + " " + addr
		var err error
		switch typ {
		case TypeComponent:
			c, _ := s.Component(id)
			if err = want(owner, c.TplTree, tplTypes...); err == nil {
				if err = check(owner, c.Variants, TypeVariant); err == nil {
					err = check(owner, c.VariantGroups, TypeVariantGroup)
				}
			}
		case TypeVariantGroup:
			g, _ := s.VariantGroup(id)
			err = check(owner, g.Variants, TypeVariant)
		case TypeVariant:
			v, _ := s.Variant(id)
			if err = want(owner, v.Parent, TypeVariantGroup); err == nil {
				err = want(owner, v.ForTpl, tplTypes...)
			}
		case TypeMixin:
			m, _ := s.Mixin(id)
			err = check(owner, m.RS.Mixins, TypeMixin)
		case string(model.KindTag), string(model.KindComponent), string(model.KindSlot):
			t, _ := s.Tpl(id)
			err = d.checkTpl(owner, t, want, check, tplTypes)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) checkTpl(
	owner string,
	t *model.Tpl,
	want func(string, model.ID, ...string) error,
	check func(string, []model.ID, ...string) error,
	tplTypes []string,
) error {
	if err := want(owner, t.Parent, tplTypes...); err != nil {
		return err
	}
	if err := check(owner, t.Children, tplTypes...); err != nil {
		return err
	}
	if err := check(owner, t.DefaultContents, tplTypes...); err != nil {
		return err
	}
	if err := want(owner, t.Component, TypeComponent); err != nil {
		return err
	}
	for _, vs := range t.VSettings {
		if err := check(owner, vs.Variants, TypeVariant); err != nil {
			return err
		}
		if err := check(owner, vs.RS.Mixins, TypeMixin); err != nil {
			return err
		}
	}
	if t.ColumnsSetting != nil {
		return want(owner, t.ColumnsSetting.ScreenBreakpoint, TypeVariant)
	}
	return nil
}

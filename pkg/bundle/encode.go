package bundle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/model"
)

// Encode serializes site into a bundle. Objects the model does not know are
// taken from h and written back under their original address. The result is
// checked for dangling references before it is returned.
func Encode(site *model.Site, h *Handle) (*Bundle, error) {
	if h == nil {
		h = NewHandle("")
	}
	b, err := encode(site, h)
	if err != nil {
		return nil, errors.SerializationError("encode", err)
	}
	return b, nil
}

// Marshal encodes b as JSON.
func Marshal(b *Bundle) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, errors.SerializationError("encode", err)
	}
	return data, nil
}

func encode(site *model.Site, h *Handle) (*Bundle, error) {
	e := &encoder{site: site, remap: h.remap, out: make(map[string]json.RawMessage)}

	root, err := e.object(TypeSite, h.siteExtra, map[string]interface{}{
		"components":          refsOf(site.Components),
		"globalVariantGroups": refsOf(site.GlobalVariantGroups),
		"globalVariants":      refsOf(site.GlobalVariants),
		"mixins":              refsOf(site.Mixins),
	})
	if err != nil {
		return nil, fmt.Errorf("site: %w", err)
	}
	e.out[string(site.ID)] = root

	for _, id := range site.Addresses() {
		raw, err := e.encodeObject(id)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", id, err)
		}
		e.out[string(id)] = raw
	}

	opaque := make([]string, 0, len(h.opaque))
	for addr := range h.opaque {
		opaque = append(opaque, addr)
	}
	sort.Strings(opaque)
	for _, addr := range opaque {
		if _, taken := e.out[addr]; taken {
			return nil, fmt.Errorf("address %s is used by both a model object and an opaque entry", addr)
		}
		raw, err := e.redirect(h.opaque[addr])
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", addr, err)
		}
		e.out[addr] = raw
	}

	if err := checkDangling(e.out); err != nil {
		return nil, err
	}

	deps := h.deps
	if deps == nil {
		deps = []string{}
	}
	return &Bundle{
		Version:    h.version,
		Root:       string(site.ID),
		Deps:       append([]string{}, deps...),
		Migrations: append([]string(nil), h.migrations...),
		Map:        e.out,
	}, nil
}

type encoder struct {
	site  *model.Site
	remap map[model.ID]model.ID
	out   map[string]json.RawMessage
}

func (e *encoder) encodeObject(id model.ID) (json.RawMessage, error) {
	if c, ok := e.site.Component(id); ok {
		return e.object(TypeComponent, c.Extra, map[string]interface{}{
			"uuid":          c.UUID,
			"name":          c.Name,
			"tplTree":       refOf(c.TplTree),
			"variants":      refsOf(c.Variants),
			"variantGroups": refsOf(c.VariantGroups),
		})
	}
	if g, ok := e.site.VariantGroup(id); ok {
		return e.object(TypeVariantGroup, g.Extra, map[string]interface{}{
			"uuid":     g.UUID,
			"name":     g.Name,
			"type":     string(g.Type),
			"multi":    g.Multi,
			"variants": refsOf(g.Variants),
		})
	}
	if v, ok := e.site.Variant(id); ok {
		return e.object(TypeVariant, v.Extra, map[string]interface{}{
			"uuid":                     v.UUID,
			"name":                     v.Name,
			"selectors":                nilIfEmpty(v.Selectors),
			"forTpl":                   refOf(v.ForTpl),
			"codeComponentName":        nilIfBlank(v.CodeComponentName),
			"codeComponentVariantKeys": nilIfNil(v.CodeComponentVariantKeys),
			"parent":                   refOf(v.Parent),
			"mediaQuery":               nilIfBlank(v.MediaQuery),
			"description":              nilIfBlank(v.Description),
		})
	}
	if m, ok := e.site.Mixin(id); ok {
		return e.object(TypeMixin, m.Extra, map[string]interface{}{
			"uuid": m.UUID,
			"name": m.Name,
			"rs":   ruleSetJSON(m.RS),
		})
	}
	if t, ok := e.site.Tpl(id); ok {
		return e.tpl(t)
	}
	return nil, fmt.Errorf("address not in arena")
}

func (e *encoder) tpl(t *model.Tpl) (json.RawMessage, error) {
	vsettings := make([]interface{}, 0, len(t.VSettings))
	for i, vs := range t.VSettings {
		raw, err := e.setting(vs)
		if err != nil {
			return nil, fmt.Errorf("vsettings[%d]: %w", i, err)
		}
		vsettings = append(vsettings, raw)
	}

	known := map[string]interface{}{
		"uuid":      t.UUID,
		"parent":    refOf(t.Parent),
		"vsettings": vsettings,
	}
	switch t.Kind {
	case model.KindTag:
		known["tag"] = t.Tag
		known["name"] = nilIfBlank(t.Name)
		known["children"] = refsOf(t.Children)
		if cs := t.ColumnsSetting; cs != nil {
			raw, err := e.object("ColumnsSetting", cs.Extra, map[string]interface{}{
				"screenBreakpoint": refOf(cs.ScreenBreakpoint),
			})
			if err != nil {
				return nil, fmt.Errorf("columnsSetting: %w", err)
			}
			known["columnsSetting"] = raw
		} else {
			known["columnsSetting"] = nil
		}
	case model.KindComponent:
		known["name"] = nilIfBlank(t.Name)
		known["component"] = refOf(t.Component)
	case model.KindSlot:
		known["param"] = t.Param
		known["defaultContents"] = refsOf(t.DefaultContents)
	default:
		return nil, fmt.Errorf("unknown tpl kind %q", t.Kind)
	}
	return e.object(string(t.Kind), t.Extra, known)
}

func (e *encoder) setting(vs *model.VariantSetting) (json.RawMessage, error) {
	var text interface{}
	if vs.Text != nil {
		raw, err := e.object("RawText", vs.Text.Extra, map[string]interface{}{"text": vs.Text.Text})
		if err != nil {
			return nil, fmt.Errorf("text: %w", err)
		}
		text = raw
	}
	attrs := make(map[string]json.RawMessage, len(vs.Attrs))
	for k, raw := range vs.Attrs {
		redirected, err := e.redirect(raw)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", k, err)
		}
		attrs[k] = redirected
	}
	return e.object("VariantSetting", vs.Extra, map[string]interface{}{
		"variants": refsOf(vs.Variants),
		"rs":       ruleSetJSON(vs.RS),
		"attrs":    attrs,
		"text":     text,
	})
}

// object merges known fields over redirected extras and tags the result.
func (e *encoder) object(typ string, extra model.Extra, known map[string]interface{}) (json.RawMessage, error) {
	obj := make(map[string]interface{}, len(extra)+len(known)+1)
	for k, raw := range extra {
		redirected, err := e.redirect(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = redirected
	}
	for k, v := range known {
		obj[k] = v
	}
	obj["__type"] = typ
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// redirect rewrites references inside raw according to the handle's remap.
// raw is returned as is when nothing in it changes.
func (e *encoder) redirect(raw json.RawMessage) (json.RawMessage, error) {
	if len(e.remap) == 0 {
		return raw, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	out, changed := rewriteRefs(v, e.remap)
	if !changed {
		return raw, nil
	}
	return json.Marshal(out)
}

func ruleSetJSON(rs model.RuleSet) map[string]interface{} {
	values := rs.Values
	if values == nil {
		values = map[string]string{}
	}
	return map[string]interface{}{
		"__type": "RuleSet",
		"values": values,
		"mixins": refsOf(rs.Mixins),
	}
}

func nilIfBlank(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nilIfNil(s []string) interface{} {
	if s == nil {
		return nil
	}
	return s
}

func nilIfEmpty(s []string) interface{} {
	if len(s) == 0 {
		return nil
	}
	return s
}

package bundle

import (
	"encoding/json"
	"fmt"

	"github.com/davidthor/bundlefix/pkg/model"
)

// fields reads known keys out of a JSON object one by one. Every accessor
// consumes its key, so rest returns exactly the keys nobody asked for. The
// first failure sticks in err and later reads become no-ops.
type fields struct {
	m   map[string]json.RawMessage
	err error
}

func newFields(raw json.RawMessage) (*fields, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected object, got null")
	}
	return &fields{m: m}, nil
}

func (f *fields) take(key string, into interface{}) bool {
	raw, ok := f.m[key]
	delete(f.m, key)
	if f.err != nil || !ok || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, into); err != nil {
		f.err = fmt.Errorf("field %q: %w", key, err)
		return false
	}
	return true
}

func (f *fields) str(key string) string {
	var s string
	f.take(key, &s)
	return s
}

func (f *fields) boolean(key string) bool {
	var b bool
	f.take(key, &b)
	return b
}

func (f *fields) strs(key string) []string {
	var s []string
	f.take(key, &s)
	return s
}

func (f *fields) strMap(key string) map[string]string {
	var m map[string]string
	f.take(key, &m)
	return m
}

func (f *fields) rawMap(key string) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	f.take(key, &m)
	return m
}

func (f *fields) ref(key string) model.ID {
	var r ref
	if !f.take(key, &r) {
		return ""
	}
	if r.Ref == "" {
		f.err = fmt.Errorf("field %q: empty reference", key)
	}
	return model.ID(r.Ref)
}

func (f *fields) refs(key string) []model.ID {
	var rs []ref
	if !f.take(key, &rs) {
		return nil
	}
	out := make([]model.ID, 0, len(rs))
	for _, r := range rs {
		if r.Ref == "" {
			f.err = fmt.Errorf("field %q: empty reference", key)
			return nil
		}
		out = append(out, model.ID(r.Ref))
	}
	return out
}

// sub returns a nested object reader, or nil when the key is absent.
func (f *fields) sub(key string) *fields {
	var raw json.RawMessage
	if !f.take(key, &raw) {
		return nil
	}
	sub, err := newFields(raw)
	if err != nil {
		f.err = fmt.Errorf("field %q: %w", key, err)
		return nil
	}
	return sub
}

// adopt pulls a nested reader's error into f.
func (f *fields) adopt(sub *fields, key string) {
	if f.err == nil && sub != nil && sub.err != nil {
		f.err = fmt.Errorf("field %q: %w", key, sub.err)
	}
}

func (f *fields) ruleSet(key string) model.RuleSet {
	sub := f.sub(key)
	if sub == nil {
		return model.RuleSet{}
	}
	rs := model.RuleSet{
		Values: sub.strMap("values"),
		Mixins: sub.refs("mixins"),
	}
	f.adopt(sub, key)
	return rs
}

func (f *fields) columns(key string) *model.ColumnsSetting {
	sub := f.sub(key)
	if sub == nil {
		return nil
	}
	cs := &model.ColumnsSetting{ScreenBreakpoint: sub.ref("screenBreakpoint")}
	cs.Extra = sub.rest()
	f.adopt(sub, key)
	return cs
}

func (f *fields) settings(key string) []*model.VariantSetting {
	var raws []json.RawMessage
	if !f.take(key, &raws) {
		return nil
	}
	out := make([]*model.VariantSetting, 0, len(raws))
	for i, raw := range raws {
		sub, err := newFields(raw)
		if err != nil {
			f.err = fmt.Errorf("field %q[%d]: %w", key, i, err)
			return nil
		}
		vs := &model.VariantSetting{
			Variants: sub.refs("variants"),
			RS:       sub.ruleSet("rs"),
			Attrs:    sub.rawMap("attrs"),
		}
		if text := sub.sub("text"); text != nil {
			vs.Text = &model.RichText{Text: text.str("text")}
			vs.Text.Extra = text.rest()
			sub.adopt(text, "text")
		}
		vs.Extra = sub.rest()
		if sub.err != nil {
			f.err = fmt.Errorf("field %q[%d]: %w", key, i, sub.err)
			return nil
		}
		out = append(out, vs)
	}
	return out
}

// rest returns every key not consumed yet, minus the type tag.
func (f *fields) rest() model.Extra {
	delete(f.m, "__type")
	if len(f.m) == 0 {
		return nil
	}
	out := make(model.Extra, len(f.m))
	for k, v := range f.m {
		out[k] = v
	}
	return out
}

package model

import "fmt"

// TplKind is the closed set of tpl node kinds.
type TplKind string

const (
	KindTag       TplKind = "TplTag"
	KindComponent TplKind = "TplComponent"
	KindSlot      TplKind = "TplSlot"
)

// Valid reports whether k is one of the known kinds.
func (k TplKind) Valid() bool {
	switch k {
	case KindTag, KindComponent, KindSlot:
		return true
	}
	return false
}

// Tpl is a node of a component's template tree.
type Tpl struct {
	ID     ID
	UUID   string
	Kind   TplKind
	Parent ID

	VSettings []*VariantSetting

	// TplTag
	Tag            string
	Name           string
	Children       []ID
	ColumnsSetting *ColumnsSetting

	// TplComponent
	Component ID

	// TplSlot
	Param           string
	DefaultContents []ID

	Extra Extra
}

// ChildIDs returns the direct children of t in document order.
func (t *Tpl) ChildIDs() []ID {
	switch t.Kind {
	case KindTag:
		return t.Children
	case KindSlot:
		return t.DefaultContents
	case KindComponent:
		// Slot args are not modelled; instances own no children here.
		return nil
	}
	panic(fmt.Sprintf("unknown tpl kind %q", t.Kind))
}

// FlattenTpls returns the tpl tree rooted at root in pre-order.
func (s *Site) FlattenTpls(root ID) ([]*Tpl, error) {
	var out []*Tpl
	seen := make(map[ID]bool)

	var walk func(id ID) error
	walk = func(id ID) error {
		if seen[id] {
			return fmt.Errorf("tpl %s visited twice", id)
		}
		seen[id] = true

		tpl, ok := s.tpls[id]
		if !ok {
			return fmt.Errorf("tpl %s not found", id)
		}
		out = append(out, tpl)
		for _, child := range tpl.ChildIDs() {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	if root == "" {
		return nil, nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// ComponentTpls returns every tpl of a component in pre-order.
func (s *Site) ComponentTpls(componentID ID) ([]*Tpl, error) {
	c, ok := s.components[componentID]
	if !ok {
		return nil, fmt.Errorf("component %s not found", componentID)
	}
	return s.FlattenTpls(c.TplTree)
}

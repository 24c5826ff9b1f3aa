package model

import (
	"fmt"
	"sort"
	"strconv"
)

// Site is a design document: the top-level unit of persistence.
type Site struct {
	ID        ID
	ProjectID string

	Components          []ID
	GlobalVariantGroups []ID
	// GlobalVariants is every site-owned variant in traversal order.
	GlobalVariants []ID
	Mixins         []ID

	components map[ID]*Component
	groups     map[ID]*VariantGroup
	variants   map[ID]*Variant
	tpls       map[ID]*Tpl
	mixins     map[ID]*Mixin

	nextID int
}

// NewSite creates an empty site with the given arena address.
func NewSite(id ID, projectID string) *Site {
	return &Site{
		ID:         id,
		ProjectID:  projectID,
		components: make(map[ID]*Component),
		groups:     make(map[ID]*VariantGroup),
		variants:   make(map[ID]*Variant),
		tpls:       make(map[ID]*Tpl),
		mixins:     make(map[ID]*Mixin),
	}
}

// NewID allocates an arena address not used by any object in the site.
func (s *Site) NewID() ID {
	for {
		s.nextID++
		id := ID("n" + strconv.Itoa(s.nextID))
		if !s.has(id) {
			return id
		}
	}
}

func (s *Site) has(id ID) bool {
	if id == s.ID {
		return true
	}
	if _, ok := s.components[id]; ok {
		return true
	}
	if _, ok := s.groups[id]; ok {
		return true
	}
	if _, ok := s.variants[id]; ok {
		return true
	}
	if _, ok := s.tpls[id]; ok {
		return true
	}
	_, ok := s.mixins[id]
	return ok
}

func (s *Site) claim(id ID) (ID, error) {
	if id == "" {
		return s.NewID(), nil
	}
	if s.has(id) {
		return "", fmt.Errorf("address %s already in use", id)
	}
	return id, nil
}

// Arena getters

func (s *Site) Component(id ID) (*Component, bool) {
	c, ok := s.components[id]
	return c, ok
}

func (s *Site) VariantGroup(id ID) (*VariantGroup, bool) {
	g, ok := s.groups[id]
	return g, ok
}

func (s *Site) Variant(id ID) (*Variant, bool) {
	v, ok := s.variants[id]
	return v, ok
}

func (s *Site) Tpl(id ID) (*Tpl, bool) {
	t, ok := s.tpls[id]
	return t, ok
}

func (s *Site) Mixin(id ID) (*Mixin, bool) {
	m, ok := s.mixins[id]
	return m, ok
}

// Arena registration. Each Add* assigns an ID when the object has none.

// AddComponent registers c and appends it to the site's component list.
func (s *Site) AddComponent(c *Component) (ID, error) {
	id, err := s.claim(c.ID)
	if err != nil {
		return "", err
	}
	c.ID = id
	s.components[id] = c
	s.Components = append(s.Components, id)
	return id, nil
}

// AddVariantGroup registers g. Global groups are appended to the site's
// group list; component groups are appended to owner's list.
func (s *Site) AddVariantGroup(g *VariantGroup, owner ID) (ID, error) {
	id, err := s.claim(g.ID)
	if err != nil {
		return "", err
	}
	g.ID = id
	s.groups[id] = g
	if owner == "" {
		s.GlobalVariantGroups = append(s.GlobalVariantGroups, id)
		return id, nil
	}
	c, ok := s.components[owner]
	if !ok {
		return "", fmt.Errorf("component %s not found", owner)
	}
	c.VariantGroups = append(c.VariantGroups, id)
	return id, nil
}

// AddVariant registers v. An empty owner makes it a global variant; otherwise
// it is appended to the owner component's variant list. When v has a parent
// group it is also appended to that group.
func (s *Site) AddVariant(v *Variant, owner ID) (ID, error) {
	id, err := s.claim(v.ID)
	if err != nil {
		return "", err
	}
	v.ID = id
	s.variants[id] = v
	if owner == "" {
		s.GlobalVariants = append(s.GlobalVariants, id)
	} else {
		c, ok := s.components[owner]
		if !ok {
			return "", fmt.Errorf("component %s not found", owner)
		}
		c.Variants = append(c.Variants, id)
	}
	if v.Parent != "" {
		g, ok := s.groups[v.Parent]
		if !ok {
			return "", fmt.Errorf("variant group %s not found", v.Parent)
		}
		g.Variants = append(g.Variants, id)
	}
	return id, nil
}

// AddTpl registers t under parent. A tpl with no parent becomes the tree root
// of the given component.
func (s *Site) AddTpl(t *Tpl, component, parent ID) (ID, error) {
	if !t.Kind.Valid() {
		return "", fmt.Errorf("unknown tpl kind %q", t.Kind)
	}
	var (
		owner *Component
		p     *Tpl
	)
	if parent == "" {
		c, ok := s.components[component]
		if !ok {
			return "", fmt.Errorf("component %s not found", component)
		}
		owner = c
	} else {
		pt, ok := s.tpls[parent]
		if !ok {
			return "", fmt.Errorf("tpl %s not found", parent)
		}
		if pt.Kind == KindComponent {
			return "", fmt.Errorf("tpl %s is a component instance and cannot own children", parent)
		}
		p = pt
	}

	id, err := s.claim(t.ID)
	if err != nil {
		return "", err
	}
	t.ID = id
	t.Parent = parent
	s.tpls[id] = t

	if owner != nil {
		owner.TplTree = id
		return id, nil
	}
	switch p.Kind {
	case KindTag:
		p.Children = append(p.Children, id)
	case KindSlot:
		p.DefaultContents = append(p.DefaultContents, id)
	}
	return id, nil
}

// AddMixin registers m with the site.
func (s *Site) AddMixin(m *Mixin) (ID, error) {
	id, err := s.claim(m.ID)
	if err != nil {
		return "", err
	}
	m.ID = id
	s.mixins[id] = m
	s.Mixins = append(s.Mixins, id)
	return id, nil
}

// Put* register objects whose list fields and links are already populated,
// without appending them anywhere. The bundle decoder uses them because it
// sees objects before their owners are wired.

func (s *Site) PutComponent(c *Component) error {
	if err := s.put(c.ID); err != nil {
		return err
	}
	s.components[c.ID] = c
	return nil
}

func (s *Site) PutVariantGroup(g *VariantGroup) error {
	if err := s.put(g.ID); err != nil {
		return err
	}
	s.groups[g.ID] = g
	return nil
}

func (s *Site) PutVariant(v *Variant) error {
	if err := s.put(v.ID); err != nil {
		return err
	}
	s.variants[v.ID] = v
	return nil
}

func (s *Site) PutTpl(t *Tpl) error {
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown tpl kind %q", t.Kind)
	}
	if err := s.put(t.ID); err != nil {
		return err
	}
	s.tpls[t.ID] = t
	return nil
}

func (s *Site) PutMixin(m *Mixin) error {
	if err := s.put(m.ID); err != nil {
		return err
	}
	s.mixins[m.ID] = m
	return nil
}

func (s *Site) put(id ID) error {
	if id == "" {
		return fmt.Errorf("object has no address")
	}
	if s.has(id) {
		return fmt.Errorf("address %s already in use", id)
	}
	return nil
}

// Addresses returns the address of every object in the arena, sorted.
func (s *Site) Addresses() []ID {
	out := make([]ID, 0, len(s.components)+len(s.groups)+len(s.variants)+len(s.tpls)+len(s.mixins))
	for id := range s.components {
		out = append(out, id)
	}
	for id := range s.groups {
		out = append(out, id)
	}
	for id := range s.variants {
		out = append(out, id)
	}
	for id := range s.tpls {
		out = append(out, id)
	}
	for id := range s.mixins {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

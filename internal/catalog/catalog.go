// Package catalog maps critical attributes to the questionnaire sections that
// own them. A Catalog is immutable once built and is injected wherever it is
// needed, so tests can substitute their own tables.
package catalog

import (
	"github.com/rotisserie/eris"
)

// MaxAttributesPerSection bounds how many questions a single generation call
// may ever target.
const MaxAttributesPerSection = 15

// Section is a named, ordered group of attributes.
type Section struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Attributes  []string `json:"attributes" yaml:"attributes"`
}

// Catalog is an indexed, validated list of sections.
type Catalog struct {
	sections []Section
	byID     map[string]int
	owner    map[string]string
}

// New validates sections and builds a Catalog. Every attribute must belong to
// exactly one section.
func New(sections []Section) (*Catalog, error) {
	if len(sections) == 0 {
		return nil, eris.New("catalog: no sections defined")
	}

	c := &Catalog{
		sections: make([]Section, len(sections)),
		byID:     make(map[string]int, len(sections)),
		owner:    make(map[string]string),
	}

	for i, s := range sections {
		if s.ID == "" {
			return nil, eris.Errorf("catalog: section %d has no id", i)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, eris.Errorf("catalog: duplicate section id %q", s.ID)
		}
		if len(s.Attributes) == 0 {
			return nil, eris.Errorf("catalog: section %q owns no attributes", s.ID)
		}
		if len(s.Attributes) > MaxAttributesPerSection {
			return nil, eris.Errorf("catalog: section %q owns %d attributes, limit is %d",
				s.ID, len(s.Attributes), MaxAttributesPerSection)
		}
		for _, attr := range s.Attributes {
			if attr == "" {
				return nil, eris.Errorf("catalog: section %q has an empty attribute name", s.ID)
			}
			if other, taken := c.owner[attr]; taken {
				return nil, eris.Errorf("catalog: attribute %q belongs to both %q and %q", attr, other, s.ID)
			}
			c.owner[attr] = s.ID
		}

		cp := s
		cp.Attributes = append([]string(nil), s.Attributes...)
		c.sections[i] = cp
		c.byID[s.ID] = i
	}

	return c, nil
}

// SectionFor returns the section owning attr.
func (c *Catalog) SectionFor(attr string) (string, bool) {
	id, ok := c.owner[attr]
	return id, ok
}

// AttributesOf returns the ordered attributes of a section, or nil if the
// section is unknown.
func (c *Catalog) AttributesOf(sectionID string) []string {
	i, ok := c.byID[sectionID]
	if !ok {
		return nil
	}
	return append([]string(nil), c.sections[i].Attributes...)
}

// Section returns the section with the given id.
func (c *Catalog) Section(id string) (Section, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Section{}, false
	}
	s := c.sections[i]
	s.Attributes = append([]string(nil), s.Attributes...)
	return s, true
}

// IDs returns section ids in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.sections))
	for i, s := range c.sections {
		ids[i] = s.ID
	}
	return ids
}

// Largest returns the section owning the most attributes and that count.
// Ties go to the earlier section.
func (c *Catalog) Largest() (string, int) {
	var id string
	n := 0
	for _, s := range c.sections {
		if len(s.Attributes) > n {
			id, n = s.ID, len(s.Attributes)
		}
	}
	return id, n
}

// Len returns the number of sections.
func (c *Catalog) Len() int {
	return len(c.sections)
}

// Partition splits attrs into per-section lists, each ordered by the
// section's own attribute order. Attributes no section owns are returned
// separately.
func (c *Catalog) Partition(attrs []string) (bySection map[string][]string, unknown []string) {
	wanted := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if _, ok := c.owner[a]; !ok {
			unknown = append(unknown, a)
			continue
		}
		wanted[a] = true
	}

	bySection = make(map[string][]string)
	for _, s := range c.sections {
		for _, a := range s.Attributes {
			if wanted[a] {
				bySection[s.ID] = append(bySection[s.ID], a)
			}
		}
	}
	return bySection, unknown
}

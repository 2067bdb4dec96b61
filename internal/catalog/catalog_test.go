package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_EverySectionResolvesItsAttributes(t *testing.T) {
	c := Default()

	if c.Len() != 6 {
		t.Fatalf("expected 6 sections, got %d", c.Len())
	}
	for _, id := range c.IDs() {
		for _, attr := range c.AttributesOf(id) {
			got, ok := c.SectionFor(attr)
			if !ok {
				t.Errorf("attribute %q has no section", attr)
				continue
			}
			if got != id {
				t.Errorf("attribute %q: expected section %q, got %q", attr, id, got)
			}
		}
	}
}

func TestSectionFor_KnownAttributes(t *testing.T) {
	c := Default()

	cases := map[string]string{
		"os_version":           SectionInfrastructure,
		"backup_frequency":     SectionResilience,
		"business_criticality": SectionBusiness,
		"pii_present":          SectionCompliance,
	}
	for attr, want := range cases {
		got, ok := c.SectionFor(attr)
		if !ok || got != want {
			t.Errorf("SectionFor(%q) = %q, %v; want %q", attr, got, ok, want)
		}
	}
}

func TestSectionFor_Unknown(t *testing.T) {
	c := Default()
	if _, ok := c.SectionFor("favourite_colour"); ok {
		t.Error("expected unknown attribute to have no section")
	}
}

func TestAttributesOf_UnknownSection(t *testing.T) {
	if attrs := Default().AttributesOf("nope"); attrs != nil {
		t.Errorf("expected nil, got %v", attrs)
	}
}

func TestAttributesOf_ReturnsCopy(t *testing.T) {
	c := Default()
	attrs := c.AttributesOf(SectionInfrastructure)
	attrs[0] = "mutated"

	if c.AttributesOf(SectionInfrastructure)[0] != "operating_system" {
		t.Error("catalog was mutated through AttributesOf result")
	}
}

func TestNew_RejectsOverlap(t *testing.T) {
	_, err := New([]Section{
		{ID: "a", Attributes: []string{"x", "y"}},
		{ID: "b", Attributes: []string{"y"}},
	})
	if err == nil || !strings.Contains(err.Error(), `"y"`) {
		t.Fatalf("expected overlap error naming y, got %v", err)
	}
}

func TestNew_RejectsBadSections(t *testing.T) {
	tooMany := make([]string, MaxAttributesPerSection+1)
	for i := range tooMany {
		tooMany[i] = "attr_" + string(rune('a'+i))
	}

	cases := []struct {
		name     string
		sections []Section
	}{
		{"empty", nil},
		{"missing id", []Section{{Attributes: []string{"x"}}}},
		{"duplicate id", []Section{{ID: "a", Attributes: []string{"x"}}, {ID: "a", Attributes: []string{"y"}}}},
		{"no attributes", []Section{{ID: "a"}}},
		{"blank attribute", []Section{{ID: "a", Attributes: []string{""}}}},
		{"over cap", []Section{{ID: "a", Attributes: tooMany}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.sections); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPartition_OrdersByCatalogAndReportsUnknown(t *testing.T) {
	c := Default()

	by, unknown := c.Partition([]string{"backup_frequency", "os_version", "bogus", "operating_system"})

	infra := by[SectionInfrastructure]
	if len(infra) != 2 || infra[0] != "operating_system" || infra[1] != "os_version" {
		t.Errorf("unexpected infrastructure partition: %v", infra)
	}
	if len(by[SectionResilience]) != 1 {
		t.Errorf("unexpected resilience partition: %v", by[SectionResilience])
	}
	if _, ok := by[SectionCompliance]; ok {
		t.Error("expected no compliance entry")
	}
	if len(unknown) != 1 || unknown[0] != "bogus" {
		t.Errorf("unexpected unknown list: %v", unknown)
	}
}

func TestParse_YAML(t *testing.T) {
	doc := []byte(`
sections:
  - id: infra
    title: Infra
    attributes: [os_version, cpu_cores]
  - id: ops
    title: Operations
    description: Run book details
    attributes: [backup_frequency]
`)
	c, err := Parse(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids := c.IDs(); len(ids) != 2 || ids[0] != "infra" || ids[1] != "ops" {
		t.Errorf("unexpected ids: %v", ids)
	}
	s, ok := c.Section("ops")
	if !ok || s.Description != "Run book details" {
		t.Errorf("unexpected section: %+v", s)
	}
}

func TestLoad_FileAndDefault(t *testing.T) {
	def, err := Load("")
	if err != nil || def.Len() != Default().Len() {
		t.Fatalf("expected default catalog, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("sections:\n  - id: only\n    attributes: [a]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 section, got %d", c.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLargest(t *testing.T) {
	cat, err := New([]Section{
		{ID: "one", Attributes: []string{"a", "b"}},
		{ID: "two", Attributes: []string{"c", "d", "e"}},
		{ID: "three", Attributes: []string{"f", "g", "h"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if id, n := cat.Largest(); id != "two" || n != 3 {
		t.Errorf("Largest() = %q, %d; want \"two\", 3", id, n)
	}
}

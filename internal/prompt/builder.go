// Package prompt builds bounded generation requests: one asset, one section,
// only that section's missing attributes.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/collection-cli/internal/catalog"
	"github.com/sells-group/collection-cli/internal/model"
)

// Output budget per targeted question plus a fixed envelope allowance.
const (
	tokensPerQuestion = 320
	tokensEnvelope    = 256
)

// Request is a single bounded generation request.
type Request struct {
	AssetID      string   `json:"asset_id"`
	SectionID    string   `json:"section_id"`
	Attributes   []string `json:"attributes"`
	System       string   `json:"system"`
	User         string   `json:"user"`
	MaxQuestions int      `json:"max_questions"`
	MaxTokens    int64    `json:"max_tokens"`
}

// Key identifies the (asset, section) pair the request targets.
func (r Request) Key() string {
	return r.AssetID + ":" + r.SectionID
}

// Builder renders requests against a catalog.
type Builder struct {
	catalog      *catalog.Catalog
	maxQuestions int
	tokenCeiling int64
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxQuestions caps the questions a single request may ask for.
func WithMaxQuestions(n int) Option {
	return func(b *Builder) {
		if n > 0 && n <= catalog.MaxAttributesPerSection {
			b.maxQuestions = n
		}
	}
}

// WithTokenCeiling sets the hard output token ceiling of the reasoning engine.
func WithTokenCeiling(n int64) Option {
	return func(b *Builder) {
		if n > 0 {
			b.tokenCeiling = n
		}
	}
}

// NewBuilder creates a Builder over cat.
func NewBuilder(cat *catalog.Catalog, opts ...Option) *Builder {
	b := &Builder{
		catalog:      cat,
		maxQuestions: catalog.MaxAttributesPerSection,
		tokenCeiling: 4096,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxQuestions returns the per-request question cap.
func (b *Builder) MaxQuestions() int {
	return b.maxQuestions
}

// CheckCatalog fails when some section owns more attributes than the
// per-request cap, since a pair with every attribute missing could never be
// built.
func (b *Builder) CheckCatalog() error {
	id, n := b.catalog.Largest()
	if n > b.maxQuestions {
		return eris.Errorf("prompt: section %q owns %d attributes, per-request cap is %d", id, n, b.maxQuestions)
	}
	return nil
}

// Build renders the request for asset's gaps in sectionID. gaps must already
// be restricted to the section; callers skip empty gap lists entirely.
func (b *Builder) Build(asset model.Asset, sectionID string, gaps []string, tenant model.TenantContext) (Request, error) {
	section, ok := b.catalog.Section(sectionID)
	if !ok {
		return Request{}, eris.Errorf("prompt: unknown section %q", sectionID)
	}
	if len(gaps) == 0 {
		return Request{}, eris.Errorf("prompt: no gaps for asset %s in section %s", asset.ID, sectionID)
	}
	for _, g := range gaps {
		if owner, ok := b.catalog.SectionFor(g); !ok || owner != sectionID {
			return Request{}, eris.Errorf("prompt: attribute %q is not owned by section %s", g, sectionID)
		}
	}
	if len(gaps) > b.maxQuestions {
		return Request{}, eris.Errorf("prompt: %d gaps exceed the per-request cap of %d", len(gaps), b.maxQuestions)
	}

	maxTokens := int64(len(gaps)*tokensPerQuestion + tokensEnvelope)
	if maxTokens > b.tokenCeiling {
		maxTokens = b.tokenCeiling
	}

	return Request{
		AssetID:      asset.ID,
		SectionID:    sectionID,
		Attributes:   append([]string(nil), gaps...),
		System:       systemPrompt,
		User:         renderUser(asset, section, gaps, tenant, len(gaps)),
		MaxQuestions: len(gaps),
		MaxTokens:    maxTokens,
	}, nil
}

const systemPrompt = `You are a cloud migration consultant preparing a data collection questionnaire for IT asset owners.

Rules:
- Ask exactly one question per listed attribute and nothing else
- Use the attribute name verbatim as "field_id"
- Only ask about the section you are given; omit every other section
- Tailor option lists to what is already known about the asset (for example, offer only operating system versions that exist for the detected platform)
- Prefer select, multiselect, radio, or boolean inputs when the answer space is enumerable
- Return ONLY valid JSON, no prose and no markdown fences`

func renderUser(asset model.Asset, section catalog.Section, gaps []string, tenant model.TenantContext, limit int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Section: %s (%s)\n", section.Title, section.ID)
	if section.Description != "" {
		fmt.Fprintf(&sb, "Section scope: %s\n", section.Description)
	}

	sb.WriteString("\n--- Asset ---\n")
	fmt.Fprintf(&sb, "ID: %s\nName: %s\nType: %s\n", asset.ID, asset.Name, asset.Type)

	if len(asset.CurrentFields) > 0 {
		sb.WriteString("\n--- Known Fields ---\n")
		keys := make([]string, 0, len(asset.CurrentFields))
		for k := range asset.CurrentFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := json.Marshal(asset.CurrentFields[k])
			fmt.Fprintf(&sb, "- %s: %s\n", k, string(v))
		}
	}

	if !tenant.IsZero() {
		sb.WriteString("\n--- Engagement Context ---\n")
		if tenant.ClientAccountID != "" {
			fmt.Fprintf(&sb, "Client account: %s\n", tenant.ClientAccountID)
		}
		if tenant.EngagementID != "" {
			fmt.Fprintf(&sb, "Engagement: %s\n", tenant.EngagementID)
		}
		if tenant.Notes != "" {
			fmt.Fprintf(&sb, "Notes: %s\n", tenant.Notes)
		}
	}

	sb.WriteString("\n--- Missing Attributes ---\n")
	for _, g := range gaps {
		fmt.Fprintf(&sb, "- %s\n", g)
	}

	fmt.Fprintf(&sb, `
Generate at most %d questions. Respond with ONLY valid JSON in this format:
{
  "section_id": "%s",
  "questions": [
    {
      "field_id": "<attribute name>",
      "text": "<question shown to the asset owner>",
      "input_type": "text|textarea|select|multiselect|radio|checkbox|number|date|boolean",
      "options": [{"value": "<value>", "label": "<label>"}],
      "required": true,
      "asset_specific_options": <true when options were tailored to this asset>
    }
  ]
}`, limit, section.ID)

	return sb.String()
}

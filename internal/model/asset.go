package model

// Asset is an IT asset (server, application, database) selected for
// migration. Assets are owned by the upstream asset store and only read here.
type Asset struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	CurrentFields map[string]any `json:"current_fields,omitempty"`
}

// Gap marks a critical attribute whose value is missing on an asset.
type Gap struct {
	AssetID   string `json:"asset_id"`
	Attribute string `json:"attribute"`
}

// TenantContext is the client/engagement context handed to the reasoning
// engine verbatim. The core never interprets it.
type TenantContext struct {
	ClientAccountID string `json:"client_account_id,omitempty"`
	EngagementID    string `json:"engagement_id,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// IsZero reports whether no tenant context was supplied.
func (t TenantContext) IsZero() bool {
	return t.ClientAccountID == "" && t.EngagementID == "" && t.Notes == ""
}

// GapsByAsset groups gaps by asset id, preserving input order of attributes
// and dropping exact duplicates.
func GapsByAsset(gaps []Gap) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[Gap]bool, len(gaps))
	for _, g := range gaps {
		if g.AssetID == "" || g.Attribute == "" || seen[g] {
			continue
		}
		seen[g] = true
		out[g.AssetID] = append(out[g.AssetID], g.Attribute)
	}
	return out
}

package pipeline

import (
	"github.com/sells-group/collection-cli/internal/catalog"
	"github.com/sells-group/collection-cli/internal/model"
)

// Pair is one unit of generation work: the gaps of one asset that fall in
// one section.
type Pair struct {
	AssetID    string
	SectionID  string
	Attributes []string
}

// Plan is the ordered work list of a run plus what was left out of it.
type Plan struct {
	Pairs []Pair
	// Unselected holds gaps for assets the flow did not select.
	Unselected []model.Gap
	// Unknown holds gaps whose attribute no section owns.
	Unknown []model.Gap
}

// BuildPlan orders pairs by asset selection order, then catalog section
// order. Sections with no gaps for an asset produce no pair.
func BuildPlan(flow *model.Flow, cat *catalog.Catalog) Plan {
	var plan Plan
	byAsset := model.GapsByAsset(flow.Gaps)

	selected := make(map[string]bool, len(flow.AssetIDs))
	for _, id := range flow.AssetIDs {
		selected[id] = true
	}
	for _, g := range flow.Gaps {
		if !selected[g.AssetID] {
			plan.Unselected = append(plan.Unselected, g)
		}
	}

	sectionIDs := cat.IDs()
	for _, assetID := range flow.AssetIDs {
		attrs := byAsset[assetID]
		if len(attrs) == 0 {
			continue
		}
		bySection, unknown := cat.Partition(attrs)
		for _, attr := range unknown {
			plan.Unknown = append(plan.Unknown, model.Gap{AssetID: assetID, Attribute: attr})
		}
		for _, sectionID := range sectionIDs {
			if gaps := bySection[sectionID]; len(gaps) > 0 {
				plan.Pairs = append(plan.Pairs, Pair{AssetID: assetID, SectionID: sectionID, Attributes: gaps})
			}
		}
	}
	return plan
}

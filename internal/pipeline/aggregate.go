package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/cache"
	"github.com/sells-group/collection-cli/internal/model"
)

// Aggregate is the union of cached questions for a flow, grouped by section.
// Within a section, questions keep the order of the pairs they came from.
type Aggregate struct {
	BySection map[string][]model.Question
	Pages     int
	Misses    int
}

// Total returns the number of questions across all sections.
func (a *Aggregate) Total() int {
	n := 0
	for _, qs := range a.BySection {
		n += len(qs)
	}
	return n
}

// AggregatePages reads the cached page of every pair. A missing, expired or
// unreadable entry contributes nothing. With a nil pairs list, every live
// page of the flow is read instead.
func AggregatePages(ctx context.Context, pc cache.PageCache, flowID string, pairs []Pair) *Aggregate {
	agg := &Aggregate{BySection: make(map[string][]model.Question)}
	log := zap.L().With(zap.String("flow_id", flowID))

	if pairs == nil {
		entries, err := pc.ScanAll(ctx, flowID)
		if err != nil {
			log.Warn("pipeline: scan cached pages", zap.Error(err))
			return agg
		}
		for _, e := range entries {
			agg.add(e.SectionID, e.Page)
		}
		return agg
	}

	for _, p := range pairs {
		page, found, err := pc.Get(ctx, flowID, p.AssetID, p.SectionID)
		if err != nil {
			log.Warn("pipeline: read cached page",
				zap.String("asset_id", p.AssetID),
				zap.String("section_id", p.SectionID),
				zap.Error(err),
			)
		}
		if err != nil || !found {
			agg.Misses++
			continue
		}
		agg.add(p.SectionID, page)
	}
	return agg
}

func (a *Aggregate) add(sectionID string, page *model.SectionPage) {
	if page == nil {
		a.Misses++
		return
	}
	a.Pages++
	for _, q := range page.Questions {
		q.SectionID = sectionID
		a.BySection[sectionID] = append(a.BySection[sectionID], q)
	}
}

package pipeline

import (
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/catalog"
	"github.com/sells-group/collection-cli/internal/model"
)

type dedupKey struct {
	section string
	field   string
}

// Dedupe collapses questions that share (section, field) into one. The first
// occurrence is kept as-is, options included; later occurrences only add
// their asset ids and bump the applies-to count. Sections follow catalog
// order and sections without questions are left out.
func Dedupe(flowID string, cat *catalog.Catalog, agg *Aggregate) *model.Questionnaire {
	q := &model.Questionnaire{FlowID: flowID, Sections: []model.QuestionnaireSection{}}

	for sectionID := range agg.BySection {
		if _, ok := cat.Section(sectionID); !ok {
			zap.L().Warn("pipeline: dropping questions for unknown section",
				zap.String("flow_id", flowID),
				zap.String("section_id", sectionID),
				zap.Int("questions", len(agg.BySection[sectionID])),
			)
		}
	}

	for _, sectionID := range cat.IDs() {
		questions := agg.BySection[sectionID]
		if len(questions) == 0 {
			continue
		}
		q.Summary.OriginalCount += len(questions)

		index := make(map[dedupKey]int, len(questions))
		var kept []model.Question
		for _, question := range questions {
			key := dedupKey{section: sectionID, field: question.FieldID}
			if i, ok := index[key]; ok {
				merge(&kept[i], question)
				continue
			}
			index[key] = len(kept)
			kept = append(kept, cloneQuestion(question))
		}

		sec, _ := cat.Section(sectionID)
		q.Sections = append(q.Sections, model.QuestionnaireSection{
			ID:          sec.ID,
			Title:       sec.Title,
			Description: sec.Description,
			Questions:   kept,
		})
		q.Summary.DeduplicatedCount += len(kept)
	}

	q.Summary.DuplicatesRemoved = q.Summary.OriginalCount - q.Summary.DeduplicatedCount
	return q
}

func merge(into *model.Question, dup model.Question) {
	for _, id := range dup.Metadata.AssetIDs {
		if !containsString(into.Metadata.AssetIDs, id) {
			into.Metadata.AssetIDs = append(into.Metadata.AssetIDs, id)
		}
	}
	into.Metadata.AppliesToCount++
}

func cloneQuestion(q model.Question) model.Question {
	q.Options = append([]model.Option(nil), q.Options...)
	ids := make([]string, 0, len(q.Metadata.AssetIDs))
	for _, id := range q.Metadata.AssetIDs {
		if !containsString(ids, id) {
			ids = append(ids, id)
		}
	}
	q.Metadata.AssetIDs = ids
	if q.Metadata.AppliesToCount < 1 {
		q.Metadata.AppliesToCount = 1
	}
	return q
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package model

// QuestionnaireSection is one section of the final questionnaire.
type QuestionnaireSection struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// DedupSummary counts questions before and after deduplication.
type DedupSummary struct {
	OriginalCount     int `json:"original_count"`
	DeduplicatedCount int `json:"deduplicated_count"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// Questionnaire is the deduplicated, section-organized result of a flow run.
// It carries no timestamps so that identical inputs serialize identically.
type Questionnaire struct {
	FlowID   string                 `json:"flow_id"`
	Sections []QuestionnaireSection `json:"sections"`
	Summary  DedupSummary           `json:"summary"`
}

// QuestionCount returns the total number of questions across sections.
func (q *Questionnaire) QuestionCount() int {
	n := 0
	for _, s := range q.Sections {
		n += len(s.Questions)
	}
	return n
}

// Section returns the section with the given id, or nil.
func (q *Questionnaire) Section(id string) *QuestionnaireSection {
	for i := range q.Sections {
		if q.Sections[i].ID == id {
			return &q.Sections[i]
		}
	}
	return nil
}

package model

// InputType tags how a question is answered in the collection form.
type InputType string

const (
	InputText        InputType = "text"
	InputTextarea    InputType = "textarea"
	InputSelect      InputType = "select"
	InputMultiSelect InputType = "multiselect"
	InputRadio       InputType = "radio"
	InputCheckbox    InputType = "checkbox"
	InputNumber      InputType = "number"
	InputDate        InputType = "date"
	InputBoolean     InputType = "boolean"
)

// RequiresOptions reports whether questions of this type must carry options.
func (t InputType) RequiresOptions() bool {
	switch t {
	case InputSelect, InputMultiSelect, InputRadio, InputCheckbox:
		return true
	default:
		return false
	}
}

// Option is a single selectable answer.
type Option struct {
	Value string `json:"value" validate:"required"`
	Label string `json:"label" validate:"required"`
}

// QuestionMetadata records which assets a question applies to.
type QuestionMetadata struct {
	AssetIDs             []string `json:"asset_ids"`
	AssetSpecificOptions bool     `json:"asset_specific_options"`
	AppliesToCount       int      `json:"applies_to_count,omitempty"`
}

// Question is one generated collection question.
type Question struct {
	FieldID   string           `json:"field_id" validate:"required,max=128"`
	Text      string           `json:"text" validate:"required,max=1000"`
	InputType InputType        `json:"input_type" validate:"required,oneof=text textarea select multiselect radio checkbox number date boolean"`
	Options   []Option         `json:"options,omitempty" validate:"omitempty,max=50,dive"`
	Required  bool             `json:"required"`
	SectionID string           `json:"section_id"`
	Metadata  QuestionMetadata `json:"metadata"`
}

// SectionPage is the generated question list for one asset in one section.
type SectionPage struct {
	SectionID string     `json:"section_id"`
	AssetID   string     `json:"asset_id"`
	Questions []Question `json:"questions"`
}

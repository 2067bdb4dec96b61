package generate

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/prompt"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Limits bounds what a response may contain.
type Limits struct {
	MaxBytes     int
	MaxQuestions int
}

// SectionOwner resolves which section owns an attribute.
type SectionOwner func(attr string) (string, bool)

type wirePage struct {
	SectionID string         `json:"section_id"`
	Questions []wireQuestion `json:"questions"`
}

type wireQuestion struct {
	FieldID              string          `json:"field_id" validate:"required,max=128"`
	Text                 string          `json:"text" validate:"required,max=1000"`
	InputType            model.InputType `json:"input_type" validate:"required,oneof=text textarea select multiselect radio checkbox number date boolean"`
	Options              []model.Option  `json:"options" validate:"omitempty,max=50,dive"`
	Required             bool            `json:"required"`
	AssetSpecificOptions bool            `json:"asset_specific_options"`
}

// ParsePage validates raw engine output against the question schema and
// returns the page for req. Questions are stamped with the requested section
// and asset; a question whose field belongs to another section is dropped.
func ParsePage(text string, req prompt.Request, limits Limits, owner SectionOwner) (*model.SectionPage, *Failure) {
	if limits.MaxBytes > 0 && len(text) > limits.MaxBytes {
		return nil, &Failure{Kind: FailureOversized, Err: eris.Errorf("response is %d bytes, limit %d", len(text), limits.MaxBytes)}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &Failure{Kind: FailureEmpty, Err: eris.New("empty response")}
	}

	var wp wirePage
	if err := json.Unmarshal([]byte(cleanJSON(text)), &wp); err != nil {
		return nil, &Failure{Kind: FailureMalformed, Err: eris.Wrap(err, "decode response")}
	}
	if wp.SectionID != "" && wp.SectionID != req.SectionID {
		return nil, &Failure{Kind: FailureMalformed, Err: eris.Errorf("response for section %q, requested %q", wp.SectionID, req.SectionID)}
	}
	if len(wp.Questions) == 0 {
		return nil, &Failure{Kind: FailureEmpty, Err: eris.New("response has no questions")}
	}

	maxQ := limits.MaxQuestions
	if req.MaxQuestions > 0 && (maxQ <= 0 || req.MaxQuestions < maxQ) {
		maxQ = req.MaxQuestions
	}
	if maxQ > 0 && len(wp.Questions) > maxQ {
		return nil, &Failure{Kind: FailureOversized, Err: eris.Errorf("response has %d questions, limit %d", len(wp.Questions), maxQ)}
	}

	page := &model.SectionPage{SectionID: req.SectionID, AssetID: req.AssetID}
	seen := make(map[string]bool, len(wp.Questions))
	for i, wq := range wp.Questions {
		if err := validate.Struct(wq); err != nil {
			return nil, &Failure{Kind: FailureMalformed, Err: eris.Wrapf(err, "question %d", i)}
		}
		if wq.InputType.RequiresOptions() && len(wq.Options) == 0 {
			return nil, &Failure{Kind: FailureMalformed, Err: eris.Errorf("question %d (%s) is %s without options", i, wq.FieldID, wq.InputType)}
		}
		if owner != nil {
			if sec, ok := owner(wq.FieldID); ok && sec != req.SectionID {
				continue
			}
		}
		if seen[wq.FieldID] {
			continue
		}
		seen[wq.FieldID] = true

		page.Questions = append(page.Questions, model.Question{
			FieldID:   wq.FieldID,
			Text:      wq.Text,
			InputType: wq.InputType,
			Options:   wq.Options,
			Required:  wq.Required,
			SectionID: req.SectionID,
			Metadata: model.QuestionMetadata{
				AssetIDs:             []string{req.AssetID},
				AssetSpecificOptions: wq.AssetSpecificOptions && len(wq.Options) > 0,
				AppliesToCount:       1,
			},
		})
	}

	if len(page.Questions) == 0 {
		return nil, &Failure{Kind: FailureEmpty, Err: eris.New("no questions remain for the requested section")}
	}
	return page, nil
}

// cleanJSON extracts a JSON object from text that may be wrapped in
// markdown fences or prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

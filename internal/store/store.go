// Package store persists assets, flows and finished questionnaires.
package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/collection-cli/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = eris.New("not found")
	// ErrConflict is returned when a flow is not in the expected status.
	ErrConflict = eris.New("status conflict")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// FlowFilter specifies criteria for listing flows.
type FlowFilter struct {
	Status model.FlowStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// AssetStore is the read side the pipeline uses plus the import path.
type AssetStore interface {
	// GetAssets returns the assets that exist among ids, in the order of ids.
	// Unknown ids are omitted, not reported as errors.
	GetAssets(ctx context.Context, ids []string) ([]model.Asset, error)
	UpsertAssets(ctx context.Context, assets []model.Asset) (int, error)
}

// FlowStore is the flow status surface.
type FlowStore interface {
	CreateFlow(ctx context.Context, flow *model.Flow) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	ListFlows(ctx context.Context, filter FlowFilter) ([]model.Flow, error)
	// TransitionFlow moves a flow from one status to another, failing with
	// ErrConflict when the flow is no longer in from. reason is stored for
	// failed flows and cleared otherwise.
	TransitionFlow(ctx context.Context, id string, from, to model.FlowStatus, reason string) error
	SaveReport(ctx context.Context, id string, report *model.RunReport) error
}

// QuestionnaireSink receives finished questionnaires. Every save appends a
// new version; earlier versions are never modified.
type QuestionnaireSink interface {
	SaveQuestionnaire(ctx context.Context, q *model.Questionnaire) (int, error)
	GetQuestionnaire(ctx context.Context, flowID string) (*model.Questionnaire, error)
}

// Store combines every persistence concern of the collection pipeline.
type Store interface {
	AssetStore
	FlowStore
	QuestionnaireSink

	Migrate(ctx context.Context) error
	Close() error
}

func validateFlow(flow *model.Flow) error {
	if len(flow.AssetIDs) == 0 {
		return eris.New("flow has no selected assets")
	}
	seen := make(map[string]bool, len(flow.AssetIDs))
	for _, id := range flow.AssetIDs {
		if id == "" {
			return eris.New("flow has an empty asset id")
		}
		if seen[id] {
			return eris.Errorf("asset %s selected twice", id)
		}
		seen[id] = true
	}
	return nil
}

func orderAssets(ids []string, byID map[string]model.Asset) []model.Asset {
	out := make([]model.Asset, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, a)
	}
	return out
}

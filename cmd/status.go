package main

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/store"
)

var statusFlowID string

// flowStatusView is what status prints: the flow, plus the questionnaire
// once the flow is ready.
type flowStatusView struct {
	*model.Flow
	Questionnaire *model.Questionnaire `json:"questionnaire,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show flow status, failure reason, run report and questionnaire",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		view, err := loadStatus(ctx, st, statusFlowID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

func loadStatus(ctx context.Context, st store.Store, flowID string) (*flowStatusView, error) {
	flow, err := st.GetFlow(ctx, flowID)
	if err != nil {
		return nil, eris.Wrapf(err, "get flow %s", flowID)
	}
	view := &flowStatusView{Flow: flow}
	if flow.Status == model.FlowStatusReady {
		q, err := st.GetQuestionnaire(ctx, flowID)
		if err != nil && !store.IsNotFound(err) {
			return nil, eris.Wrapf(err, "get questionnaire %s", flowID)
		}
		view.Questionnaire = q
	}
	return view, nil
}

func init() {
	statusCmd.Flags().StringVar(&statusFlowID, "flow", "", "flow id (required)")
	_ = statusCmd.MarkFlagRequired("flow")
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/store"
)

var (
	flowFile   string
	flowStatus string
	flowLimit  int
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Manage collection flows",
}

// flowInput is the on-disk shape of a flow definition.
type flowInput struct {
	AssetIDs []string            `json:"asset_ids"`
	Gaps     []model.Gap         `json:"gaps"`
	Tenant   model.TenantContext `json:"tenant"`
}

var flowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pending flow from a JSON definition",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		var in flowInput
		if err := readJSONFile(flowFile, &in); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		flow := &model.Flow{AssetIDs: in.AssetIDs, Gaps: in.Gaps, Tenant: in.Tenant}
		if err := st.CreateFlow(ctx, flow); err != nil {
			return eris.Wrap(err, "create flow")
		}

		zap.L().Info("flow created",
			zap.String("flow_id", flow.ID),
			zap.Int("assets", len(flow.AssetIDs)),
			zap.Int("gaps", len(flow.Gaps)),
		)
		fmt.Fprintln(cmd.OutOrStdout(), flow.ID)
		return nil
	},
}

var flowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flows, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}
		status := model.FlowStatus(flowStatus)
		if status != "" && !status.Valid() {
			return eris.Errorf("unknown status %q", flowStatus)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		flows, err := st.ListFlows(ctx, store.FlowFilter{Status: status, Limit: flowLimit})
		if err != nil {
			return eris.Wrap(err, "list flows")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for i := range flows {
			if err := enc.Encode(&flows[i]); err != nil {
				return eris.Wrap(err, "write flow")
			}
		}
		return nil
	},
}

func init() {
	flowCreateCmd.Flags().StringVar(&flowFile, "file", "", "path to flow JSON file (required)")
	_ = flowCreateCmd.MarkFlagRequired("file")
	flowListCmd.Flags().StringVar(&flowStatus, "status", "", "only flows in this status")
	flowListCmd.Flags().IntVar(&flowLimit, "limit", 50, "maximum flows to list")

	flowCmd.AddCommand(flowCreateCmd, flowListCmd)
	rootCmd.AddCommand(flowCmd)
}

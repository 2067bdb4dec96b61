package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	generateFlowID string
	generateOut    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the questionnaire for a flow",
	Long:  "Runs generation for every (asset, section) pair with gaps, aggregates the cached pages and stores the deduplicated questionnaire. SIGINT/SIGTERM cancel the run; in-flight pairs are allowed to finish.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		q, err := env.Orchestrator.Run(ctx, generateFlowID)
		if err != nil {
			return eris.Wrapf(err, "generate flow %s", generateFlowID)
		}

		out := cmd.OutOrStdout()
		if generateOut != "" {
			f, err := os.Create(generateOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", generateOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(q); err != nil {
			return eris.Wrap(err, "write questionnaire")
		}

		zap.L().Info("generation complete",
			zap.String("flow_id", generateFlowID),
			zap.Int("sections", len(q.Sections)),
			zap.Int("questions", q.Summary.DeduplicatedCount),
			zap.Int("duplicates_removed", q.Summary.DuplicatesRemoved),
		)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateFlowID, "flow", "", "flow id (required)")
	generateCmd.Flags().StringVar(&generateOut, "out", "", "write the questionnaire here instead of stdout")
	_ = generateCmd.MarkFlagRequired("flow")
	rootCmd.AddCommand(generateCmd)
}

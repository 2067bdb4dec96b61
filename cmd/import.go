package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/model"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import assets from a JSON file into the asset store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		var assets []model.Asset
		if err := readJSONFile(importFile, &assets); err != nil {
			return err
		}
		for i, a := range assets {
			if a.ID == "" {
				return eris.Errorf("import: asset at index %d has no id", i)
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertAssets(ctx, assets)
		if err != nil {
			return eris.Wrap(err, "import assets")
		}

		zap.L().Info("import complete",
			zap.Int("upserted", n),
			zap.String("file", importFile),
		)
		return nil
	},
}

// readJSONFile decodes the JSON document at path into v.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "parse %s", path)
	}
	return nil
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to assets JSON file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

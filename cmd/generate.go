package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/censusify/internal/model"
	"github.com/sells-group/censusify/internal/pipeline"
	"github.com/sells-group/censusify/internal/store"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Fetch, match and report every configured geography level",
	Long:  "Fetches census counts, block group polygons and target geographies, apportions counts onto every level and writes the reports to output.dir.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyGenerateFlags(cmd)
		if err := cfg.Validate("generate"); err != nil {
			return err
		}

		var st store.Store
		if noStore, _ := cmd.Flags().GetBool("no-store"); !noStore {
			s, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		p, err := pipeline.New(cfg, st, pipeline.NewSources(cfg))
		if err != nil {
			return err
		}

		relationship, _ := cmd.Flags().GetString("relationship")
		levels, _ := cmd.Flags().GetStringSlice("level")
		out, err := p.Run(ctx, pipeline.Options{
			Relationship: relationship,
			Levels:       levels,
			Persist:      st != nil,
			Write:        true,
		})
		if err != nil {
			return err
		}

		zap.L().Info("generate complete", zap.String("run_id", out.RunID))
		formatRunResult(os.Stdout, out.RunID, out.Result)
		return nil
	},
}

// applyGenerateFlags copies flag overrides into cfg.
func applyGenerateFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("out") {
		cfg.Output.Dir, _ = cmd.Flags().GetString("out")
	}
	if cmd.Flags().Changed("format") {
		cfg.Output.Formats, _ = cmd.Flags().GetStringSlice("format")
	}
	if cmd.Flags().Changed("csv") {
		cfg.Census.CSVPath, _ = cmd.Flags().GetString("csv")
	}
	if cmd.Flags().Changed("taxonomy") {
		cfg.Match.Taxonomy, _ = cmd.Flags().GetString("taxonomy")
		cfg.Match.TaxonomyFile = ""
	}
	if cmd.Flags().Changed("skip-invalid") {
		cfg.Match.SkipInvalid, _ = cmd.Flags().GetBool("skip-invalid")
	}
}

// formatRunResult writes a per-level summary of a run to w.
func formatRunResult(out io.Writer, runID string, res model.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if runID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", runID)
	}
	_, _ = fmt.Fprintf(w, "Block groups:\t%d\n", res.BlockGroups)
	if res.Invalid > 0 {
		_, _ = fmt.Fprintf(w, "Invalid (skipped):\t%d\n", res.Invalid)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "LEVEL\tMATCHED\tSKIPPED")
	_, _ = fmt.Fprintln(w, "-----\t-------\t-------")
	for _, l := range res.Levels {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", l.Level, l.Matched, len(l.Skipped))
	}
	if len(res.Outputs) > 0 {
		_, _ = fmt.Fprintln(w)
		for _, f := range res.Outputs {
			_, _ = fmt.Fprintf(w, "wrote\t%s\n", f)
		}
	}
	_ = w.Flush()
}

func init() {
	generateCmd.Flags().String("relationship", "", "pct_overlap or centroid_is_within (default from config)")
	generateCmd.Flags().StringSlice("level", nil, "limit to these levels and their ancestors")
	generateCmd.Flags().String("out", "", "output directory (default from config)")
	generateCmd.Flags().StringSlice("format", nil, "report formats: csv, json, xlsx")
	generateCmd.Flags().String("csv", "", "read the census table from a local CSV")
	generateCmd.Flags().String("taxonomy", "", "built-in taxonomy: police or census")
	generateCmd.Flags().Bool("skip-invalid", false, "skip block groups whose counts fail validation")
	generateCmd.Flags().Bool("no-store", false, "do not record the run in the store")
	rootCmd.AddCommand(generateCmd)
}

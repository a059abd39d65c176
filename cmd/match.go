package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/censusify/internal/pipeline"
	"github.com/sells-group/censusify/internal/report"
)

var matchCmd = &cobra.Command{
	Use:   "match <level>",
	Short: "Match one geography level and print it as a table",
	Long:  "Runs the pipeline for a single level (plus the levels its parent lineage needs) without writing reports or recording a run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("csv") {
			cfg.Census.CSVPath, _ = cmd.Flags().GetString("csv")
		}
		if err := cfg.Validate("match"); err != nil {
			return err
		}

		p, err := pipeline.New(cfg, nil, pipeline.NewSources(cfg))
		if err != nil {
			return err
		}
		relationship, _ := cmd.Flags().GetString("relationship")
		out, err := p.Run(ctx, pipeline.Options{Relationship: relationship, Levels: []string{args[0]}})
		if err != nil {
			return err
		}

		level, ok := findLevel(out.Report, args[0])
		if !ok {
			return eris.Errorf("match: level %s produced no results", args[0])
		}
		report.WriteTable(os.Stdout, level, out.Report.Taxonomy)
		return nil
	},
}

func findLevel(rep *report.Report, name string) (report.Level, bool) {
	for _, l := range rep.Levels {
		if l.Name == name {
			return l, true
		}
	}
	return report.Level{}, false
}

func init() {
	matchCmd.Flags().String("relationship", "", "pct_overlap or centroid_is_within (default from config)")
	matchCmd.Flags().String("csv", "", "read the census table from a local CSV")
	rootCmd.AddCommand(matchCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/censusify/internal/config"
	"github.com/sells-group/censusify/internal/demographics"
	"github.com/sells-group/censusify/internal/model"
	"github.com/sells-group/censusify/internal/report"
	"github.com/sells-group/censusify/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect generate run history",
	Long:  "Commands for listing, viewing, and summarizing generate runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generate runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs geographies --

var runsGeographiesCmd = &cobra.Command{
	Use:   "geographies <run-id> <level>",
	Short: "Print the stored results of one level",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs geographies")
		}
		rows, err := st.ListGeographies(ctx, run.ID, args[1])
		if err != nil {
			return eris.Wrap(err, "runs geographies")
		}
		if len(rows) == 0 {
			fmt.Fprintf(os.Stderr, "No %s results in run %s.\n", args[1], truncateID(run.ID))
			return nil
		}

		level := report.Level{Name: args[1], Parents: parentLevels(rows, cfg.Geographies), Rows: rows}
		report.WriteTable(os.Stdout, level, storedTaxonomy(run.Params.Taxonomy, rows))
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs, since, time.Now()))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, fetching, matching, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h); 0 for all")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsGeographiesCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// storedTaxonomy returns the named built-in, or one whose categories are the
// stored count keys when the run used a taxonomy file.
func storedTaxonomy(name string, rows []model.GeographyResult) *demographics.Taxonomy {
	if tax, err := demographics.Builtin(name); err == nil {
		return tax
	}
	tax := &demographics.Taxonomy{Name: name}
	for _, k := range sortedCountKeys(rows) {
		tax.Categories = append(tax.Categories, demographics.Category{Name: k})
	}
	return tax
}

func sortedCountKeys(rows []model.GeographyResult) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		for k := range r.Counts {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parentLevels lists the ancestor levels present on the rows in configured
// order, outermost first. Levels no longer configured sort last by name.
func parentLevels(rows []model.GeographyResult, geos []config.GeographyConfig) []string {
	present := make(map[string]bool)
	for _, r := range rows {
		for lvl := range r.Parents {
			present[lvl] = true
		}
	}
	var levels []string
	for _, g := range geos {
		if present[g.Name] {
			levels = append(levels, g.Name)
			delete(present, g.Name)
		}
	}
	rest := make([]string, 0, len(present))
	for lvl := range present {
		rest = append(rest, lvl)
	}
	sort.Strings(rest)
	return append(levels, rest...)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total       int
	Complete    int
	Failed      int
	Other       int
	BlockGroups int
	AvgDurSecs  float64
}

// computeRunStats aggregates runs created within since of now. since 0
// counts every run.
func computeRunStats(runs []model.Run, since time.Duration, now time.Time) runStats {
	var s runStats
	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		if since > 0 && r.CreatedAt.Before(now.Add(-since)) {
			continue
		}
		s.Total++
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
			if r.Result != nil {
				s.BlockGroups += r.Result.BlockGroups
			}
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Other++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tRELATIONSHIP\tTAXONOMY\tAREA\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------------\t--------\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		area := fmt.Sprintf("%d %s/%s", r.Params.Year, r.Params.StateFIPS, r.Params.CountyFIPS)

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.Params.Relationship,
			r.Params.Taxonomy,
			area,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Other:\t%d\n", s.Other)
	_, _ = fmt.Fprintf(w, "Block groups matched:\t%d\n", s.BlockGroups)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

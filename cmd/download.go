package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/censusify/internal/pipeline"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Pre-fetch the census table and TIGER shapefile",
	Long:  "Caches the census API response in the store and, when block_groups.source is tiger, downloads and extracts the state block group shapefile.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("download"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := pipeline.New(cfg, st, pipeline.NewSources(cfg))
		if err != nil {
			return err
		}
		res, err := p.Download(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "census: %d block groups cached as %s\n", res.CensusRows, res.CacheKey)
		if res.Shapefile != "" {
			fmt.Fprintf(os.Stdout, "tiger: %s\n", res.Shapefile)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

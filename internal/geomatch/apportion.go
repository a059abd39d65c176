package geomatch

import (
	"math"

	"github.com/sells-group/censusify/internal/demographics"
)

// Result is the apportioned demographic breakdown of one geography.
// Category counts are rounded independently, so their sum may differ from
// Total by up to the number of categories.
type Result struct {
	Counts      map[string]int64   `json:"demographics_count"`
	Percents    map[string]float64 `json:"demographics_percent,omitempty"`
	Total       int64              `json:"total"`
	BlockGroups int                `json:"block_groups"`
}

// Apportion multiplies each weighted block group's counts by its weight and
// sums them. Sums are rounded half to even. Every weighted GEOID must be in
// table.
func Apportion(weights Weights, table *demographics.Table) (*Result, error) {
	ids := weights.GEOIDs()
	rows := make([]*demographics.BlockGroup, len(ids))
	for i, id := range ids {
		bg, ok := table.Get(id)
		if !ok {
			return nil, &MissingReferenceError{GEOID: id}
		}
		rows[i] = bg
	}

	names := table.Taxonomy().Names()
	sums := make([]float64, len(names))
	var total float64
	for i, bg := range rows {
		w := weights[ids[i]]
		for j, n := range names {
			sums[j] += float64(bg.Counts[n]) * w
		}
		total += float64(bg.Total) * w
	}

	counts := make(map[string]int64, len(names))
	for j, n := range names {
		counts[n] = int64(math.RoundToEven(sums[j]))
	}
	return &Result{
		Counts:      counts,
		Percents:    demographics.Percents(counts),
		Total:       int64(math.RoundToEven(total)),
		BlockGroups: len(ids),
	}, nil
}

// WholeRegion sums every block group in table without weighting.
func WholeRegion(table *demographics.Table) *Result {
	names := table.Taxonomy().Names()
	counts := make(map[string]int64, len(names))
	for _, n := range names {
		counts[n] = 0
	}
	var total int64
	for _, id := range table.GEOIDs() {
		bg, _ := table.Get(id)
		for _, n := range names {
			counts[n] += bg.Counts[n]
		}
		total += bg.Total
	}
	return &Result{
		Counts:      counts,
		Percents:    demographics.Percents(counts),
		Total:       total,
		BlockGroups: table.Len(),
	}
}

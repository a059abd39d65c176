package report

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/censusify/internal/demographics"
)

// WriteCSV writes one level as a flat CSV: key, parent keys, category counts,
// total, block group count and <category>_pct columns. Percents are empty
// for zero-population rows.
func WriteCSV(w io.Writer, level Level, tax *demographics.Taxonomy) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(level, tax)); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, row := range level.Rows {
		cells := flatten(level, row, tax)
		rec := make([]string, len(cells))
		for i, c := range cells {
			rec[i] = c.String()
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "report: write csv row %s", row.Key)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

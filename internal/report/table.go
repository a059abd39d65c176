package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sells-group/censusify/internal/demographics"
)

// WriteTable renders one level as a terminal table of counts with each
// category's percent alongside.
func WriteTable(w io.Writer, level Level, tax *demographics.Taxonomy) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title.String(level.Name))

	hdr := table.Row{title.String(level.Name)}
	for _, p := range level.Parents {
		hdr = append(hdr, title.String(p))
	}
	for _, c := range tax.Categories {
		hdr = append(hdr, Label(c))
	}
	hdr = append(hdr, "Total")
	t.AppendHeader(hdr)

	var configs []table.ColumnConfig
	for i := 1 + len(level.Parents); i < len(hdr); i++ {
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
	}
	t.SetColumnConfigs(configs)

	var total int64
	for _, row := range level.Rows {
		r := table.Row{row.Key}
		for _, p := range level.Parents {
			r = append(r, row.Parents[p])
		}
		for _, c := range tax.Categories {
			r = append(r, countWithPercent(row.Counts[c.Name], row.Percents, c.Name))
		}
		r = append(r, row.Total)
		t.AppendRow(r)
		total += row.Total
	}

	footer := table.Row{fmt.Sprintf("%d rows", len(level.Rows))}
	for range level.Parents {
		footer = append(footer, "")
	}
	for range tax.Categories {
		footer = append(footer, "")
	}
	t.AppendFooter(append(footer, total))
	t.Render()
}

func countWithPercent(n int64, percents map[string]float64, name string) string {
	if percents == nil {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d (%.1f%%)", n, percents[name])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

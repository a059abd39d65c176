// Package report writes apportioned demographics as CSV, nested JSON, XLSX
// workbooks and terminal tables.
package report

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/censusify/internal/demographics"
	"github.com/sells-group/censusify/internal/geomatch"
	"github.com/sells-group/censusify/internal/model"
)

// Format is an output format name.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
	FormatTable Format = "table"
)

// ParseFormats validates format names, dropping duplicates.
func ParseFormats(names []string) ([]Format, error) {
	seen := make(map[Format]bool, len(names))
	var out []Format
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case FormatCSV, FormatJSON, FormatXLSX, FormatTable:
		default:
			return nil, eris.Errorf("report: unknown format %q", n)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// CustomRegion is the key of the whole-region aggregate under by_custom.
const CustomRegion = "citywide"

// Level is the results of one geography level, sorted by key.
type Level struct {
	Name string
	// Parents are ancestor level names, outermost first.
	Parents []string
	Rows    []model.GeographyResult
}

// Report is everything one run writes.
type Report struct {
	Relationship string
	Taxonomy     *demographics.Taxonomy
	Custom       map[string]*geomatch.Result
	Levels       []Level
}

var title = cases.Title(language.English)

// Label returns a category's display label, title-casing its name when no
// label is configured.
func Label(c demographics.Category) string {
	if c.Label != "" {
		return c.Label
	}
	return title.String(strings.ReplaceAll(c.Name, "_", " "))
}

// PercentColumn is the CSV column holding a category's percent.
func PercentColumn(category string) string {
	return category + "_pct"
}

// header returns the flat column layout shared by CSV and XLSX.
func header(level Level, tax *demographics.Taxonomy) []string {
	names := tax.Names()
	cols := make([]string, 0, 1+len(level.Parents)+2*len(names)+2)
	cols = append(cols, level.Name)
	cols = append(cols, level.Parents...)
	cols = append(cols, names...)
	cols = append(cols, demographics.TotalKey, "block_groups")
	for _, n := range names {
		cols = append(cols, PercentColumn(n))
	}
	return cols
}

// cell is one typed value of a flat row.
type cell struct {
	str  string
	num  int64
	pct  float64
	kind byte // 's', 'i' or 'f'; zero means empty
}

func (c cell) String() string {
	switch c.kind {
	case 's':
		return c.str
	case 'i':
		return strconv.FormatInt(c.num, 10)
	case 'f':
		return strconv.FormatFloat(c.pct, 'f', -1, 64)
	default:
		return ""
	}
}

func flatten(level Level, row model.GeographyResult, tax *demographics.Taxonomy) []cell {
	names := tax.Names()
	out := make([]cell, 0, 1+len(level.Parents)+2*len(names)+2)
	out = append(out, cell{kind: 's', str: row.Key})
	for _, p := range level.Parents {
		out = append(out, cell{kind: 's', str: row.Parents[p]})
	}
	for _, n := range names {
		out = append(out, cell{kind: 'i', num: row.Counts[n]})
	}
	out = append(out, cell{kind: 'i', num: row.Total}, cell{kind: 'i', num: int64(row.BlockGroups)})
	for _, n := range names {
		if row.Percents == nil {
			out = append(out, cell{})
			continue
		}
		out = append(out, cell{kind: 'f', pct: row.Percents[n]})
	}
	return out
}

// WriteAll writes rep into dir in every requested format and returns the
// files written. FormatTable is terminal output and is skipped here.
func WriteAll(dir string, formats []Format, rep *Report) ([]string, error) {
	log := zap.L().With(zap.String("component", "report"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "report: create output dir")
	}

	var written []string
	for _, f := range formats {
		switch f {
		case FormatCSV:
			for _, level := range rep.Levels {
				path := filepath.Join(dir, level.Name+"__"+rep.Relationship+".csv")
				if err := writeFile(path, func(w *os.File) error { return WriteCSV(w, level, rep.Taxonomy) }); err != nil {
					return written, err
				}
				written = append(written, path)
			}
		case FormatJSON:
			path := filepath.Join(dir, "demographics__"+rep.Relationship+".json")
			if err := writeFile(path, func(w *os.File) error { return WriteJSON(w, rep) }); err != nil {
				return written, err
			}
			written = append(written, path)
		case FormatXLSX:
			path := filepath.Join(dir, "demographics__"+rep.Relationship+".xlsx")
			if err := WriteXLSX(path, rep); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}
	log.Info("reports written", zap.Int("files", len(written)), zap.String("dir", dir))
	return written, nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}

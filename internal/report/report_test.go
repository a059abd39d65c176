package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/censusify/internal/demographics"
	"github.com/sells-group/censusify/internal/geomatch"
	"github.com/sells-group/censusify/internal/model"
)

func testTaxonomy() *demographics.Taxonomy {
	return &demographics.Taxonomy{
		Name:  "test",
		Total: "T",
		Categories: []demographics.Category{
			{Name: "asian", Plus: []string{"A"}},
			{Name: "white_latino", Label: "White - Latino", Plus: []string{"W"}},
		},
	}
}

func testReport() *Report {
	return &Report{
		Relationship: "pct_overlap",
		Taxonomy:     testTaxonomy(),
		Custom: map[string]*geomatch.Result{
			CustomRegion: {
				Counts:   map[string]int64{"asian": 30, "white_latino": 70},
				Percents: map[string]float64{"asian": 30, "white_latino": 70},
				Total:    100,
			},
		},
		Levels: []Level{
			{
				Name:    "district",
				Parents: []string{"division"},
				Rows: []model.GeographyResult{
					{
						Key:         "01",
						Parents:     map[string]string{"division": "NE"},
						Counts:      map[string]int64{"asian": 30, "white_latino": 70},
						Percents:    map[string]float64{"asian": 30, "white_latino": 70},
						Total:       100,
						BlockGroups: 4,
					},
					{
						Key:     "02",
						Parents: map[string]string{"division": "SW"},
						Counts:  map[string]int64{"asian": 0, "white_latino": 0},
					},
				},
			},
		},
	}
}

func TestParseFormats(t *testing.T) {
	f, err := ParseFormats([]string{"CSV", "json", "csv", " xlsx "})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatCSV, FormatJSON, FormatXLSX}, f)

	_, err = ParseFormats([]string{"parquet"})
	assert.ErrorContains(t, err, "unknown format")
}

func TestLabel(t *testing.T) {
	tax := testTaxonomy()
	assert.Equal(t, "Asian", Label(tax.Categories[0]))
	assert.Equal(t, "White - Latino", Label(tax.Categories[1]))
	assert.Equal(t, "Black Non Latino", Label(demographics.Category{Name: "black_non_latino"}))
}

func TestWriteCSV(t *testing.T) {
	rep := testReport()
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rep.Levels[0], rep.Taxonomy))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t,
		[]string{"district", "division", "asian", "white_latino", "total", "block_groups", "asian_pct", "white_latino_pct"},
		recs[0])
	assert.Equal(t, []string{"01", "NE", "30", "70", "100", "4", "30", "70"}, recs[1])
	assert.Equal(t, []string{"02", "SW", "0", "0", "0", "0", "", ""}, recs[2])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, testReport()))

	var doc map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	require.Contains(t, doc, "by_custom")
	require.Contains(t, doc, "by_district")

	citywide := doc["by_custom"][CustomRegion]
	assert.Equal(t, float64(30), citywide["demographics_count"].(map[string]any)["asian"])

	d1 := doc["by_district"]["01"]
	assert.Equal(t, "01", d1["district"])
	assert.Equal(t, "NE", d1["division"])
	assert.Equal(t, float64(70), d1["demographics_percent"].(map[string]any)["white_latino"])

	d2 := doc["by_district"]["02"]
	assert.Empty(t, d2["demographics_percent"])
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteXLSX(path, testReport()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Equal(t, "custom", f.Sheets[0].Name)

	district := f.Sheet["district"]
	require.NotNil(t, district)
	require.Len(t, district.Rows, 3)
	assert.Equal(t, "district", district.Rows[0].Cells[0].String())
	assert.Equal(t, "30", district.Rows[1].Cells[2].String())
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "psa", sheetName("psa"))
	assert.Len(t, sheetName("a_geography_level_with_a_very_long_name"), maxSheetName)
}

func TestWriteTable(t *testing.T) {
	rep := testReport()
	var buf bytes.Buffer
	WriteTable(&buf, rep.Levels[0], rep.Taxonomy)

	out := buf.String()
	assert.Contains(t, out, "White - Latino")
	assert.Contains(t, out, "30 (30.0%)")
	assert.Contains(t, out, "2 rows")
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	files, err := WriteAll(dir, []Format{FormatCSV, FormatJSON, FormatXLSX, FormatTable}, testReport())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "district__pct_overlap.csv"),
		filepath.Join(dir, "demographics__pct_overlap.json"),
		filepath.Join(dir, "demographics__pct_overlap.xlsx"),
	}, files)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/censusify/internal/demographics"
)

// maxSheetName is Excel's sheet name limit.
const maxSheetName = 31

// WriteXLSX saves a workbook with one sheet per level and a sheet for the
// custom regions.
func WriteXLSX(path string, rep *Report) error {
	f := xlsx.NewFile()

	if len(rep.Custom) > 0 {
		if err := addCustomSheet(f, rep); err != nil {
			return err
		}
	}
	for _, level := range rep.Levels {
		sheet, err := f.AddSheet(sheetName(level.Name))
		if err != nil {
			return eris.Wrapf(err, "report: add sheet %s", level.Name)
		}
		addStringRow(sheet, header(level, rep.Taxonomy))
		for _, row := range level.Rows {
			r := sheet.AddRow()
			for _, c := range flatten(level, row, rep.Taxonomy) {
				setCell(r.AddCell(), c)
			}
		}
	}

	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func addCustomSheet(f *xlsx.File, rep *Report) error {
	sheet, err := f.AddSheet("custom")
	if err != nil {
		return eris.Wrap(err, "report: add sheet custom")
	}
	names := rep.Taxonomy.Names()
	cols := append([]string{"region"}, names...)
	cols = append(cols, demographics.TotalKey)
	addStringRow(sheet, cols)

	for _, region := range sortedKeys(rep.Custom) {
		res := rep.Custom[region]
		r := sheet.AddRow()
		r.AddCell().SetString(region)
		for _, n := range names {
			r.AddCell().SetInt64(res.Counts[n])
		}
		r.AddCell().SetInt64(res.Total)
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, values []string) {
	r := sheet.AddRow()
	for _, v := range values {
		r.AddCell().SetString(v)
	}
}

func setCell(c *xlsx.Cell, v cell) {
	switch v.kind {
	case 's':
		c.SetString(v.str)
	case 'i':
		c.SetInt64(v.num)
	case 'f':
		c.SetFloat(v.pct)
	default:
		c.SetString("")
	}
}

func sheetName(name string) string {
	if len(name) > maxSheetName {
		return name[:maxSheetName]
	}
	return name
}

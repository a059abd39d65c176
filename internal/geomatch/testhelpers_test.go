package geomatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/censusify/internal/demographics"
)

// rect returns a counter-clockwise rectangle ring without closing vertex.
func rect(minX, minY, maxX, maxY float64) [][]float64 {
	return [][]float64{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}}
}

func twoCategory() *demographics.Taxonomy {
	return &demographics.Taxonomy{
		Name:  "ab",
		Total: "T",
		Categories: []demographics.Category{
			{Name: "A", Plus: []string{"A"}},
			{Name: "B", Plus: []string{"B"}},
		},
	}
}

func mustBlockGroup(t *testing.T, geoid string, a, b int64) *demographics.BlockGroup {
	t.Helper()
	bg, err := demographics.NewBlockGroup(geoid, "", map[string]int64{"A": a, "B": b}, a+b)
	require.NoError(t, err)
	return bg
}

func mustTable(t *testing.T, groups ...*demographics.BlockGroup) *demographics.Table {
	t.Helper()
	tbl, err := demographics.NewTable(twoCategory(), groups)
	require.NoError(t, err)
	return tbl
}

func mustShape(t *testing.T, geoid string, ring [][]float64) Shape {
	t.Helper()
	s, err := NewShape(geoid, ring, nil)
	require.NoError(t, err)
	return s
}

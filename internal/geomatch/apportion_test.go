package geomatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApportionTiledTargetsMatchRawCounts(t *testing.T) {
	tbl := mustTable(t,
		mustBlockGroup(t, "420000000001", 70, 30),
		mustBlockGroup(t, "420000000002", 5, 15),
	)
	shapes := []Shape{
		mustShape(t, "420000000001", rect(0, 0, 1, 1)),
		mustShape(t, "420000000002", rect(1, 0, 2, 1)),
	}

	for i, ring := range [][][]float64{rect(0, 0, 1, 1), rect(1, 0, 2, 1)} {
		target, err := NewPolygon("t", ring)
		require.NoError(t, err)
		w, err := ComputeWeights(target, shapes, AreaOverlap)
		require.NoError(t, err)
		require.Len(t, w, 1)

		res, err := Apportion(w, tbl)
		require.NoError(t, err)

		bg, _ := tbl.Get(shapes[i].GEOID)
		assert.Equal(t, bg.Counts, res.Counts)
		assert.Equal(t, bg.Total, res.Total)
		assert.Equal(t, 1, res.BlockGroups)
	}
}

func TestApportionSplitBlockGroup(t *testing.T) {
	tbl := mustTable(t, mustBlockGroup(t, "420000000001", 600, 400))
	shapes := []Shape{mustShape(t, "420000000001", rect(0, 0, 2, 1))}

	for _, ring := range [][][]float64{rect(0, 0, 1, 1), rect(1, 0, 2, 1)} {
		target, err := NewPolygon("t", ring)
		require.NoError(t, err)
		w, err := ComputeWeights(target, shapes, AreaOverlap)
		require.NoError(t, err)

		res, err := Apportion(w, tbl)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"A": 300, "B": 200}, res.Counts)
		assert.InDelta(t, 60.0, res.Percents["A"], 1e-9)
		assert.InDelta(t, 40.0, res.Percents["B"], 1e-9)
	}
}

func TestApportionMissingReference(t *testing.T) {
	tbl := mustTable(t,
		mustBlockGroup(t, "420000000001", 1, 1),
		mustBlockGroup(t, "420000000002", 1, 1),
		mustBlockGroup(t, "420000000003", 1, 1),
	)

	_, err := Apportion(Weights{"420000000001": 1, "999999999999": 1}, tbl)
	var missing *MissingReferenceError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "999999999999", missing.GEOID)
}

func TestApportionRoundsHalfToEven(t *testing.T) {
	tbl := mustTable(t,
		mustBlockGroup(t, "420000000001", 5, 7),
	)

	res, err := Apportion(Weights{"420000000001": 0.5}, tbl)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Counts["A"]) // 2.5
	assert.Equal(t, int64(4), res.Counts["B"]) // 3.5
	assert.Equal(t, int64(6), res.Total)
}

func TestApportionSumWithinRoundingBound(t *testing.T) {
	tbl := mustTable(t,
		mustBlockGroup(t, "420000000001", 333, 667),
		mustBlockGroup(t, "420000000002", 101, 99),
		mustBlockGroup(t, "420000000003", 7, 0),
	)
	w := Weights{"420000000001": 0.37, "420000000002": 0.91, "420000000003": 0.5}

	res, err := Apportion(w, tbl)
	require.NoError(t, err)

	expected := 1000*0.37 + 200*0.91 + 7*0.5
	var sum int64
	for _, v := range res.Counts {
		sum += v
	}
	assert.InDelta(t, expected, float64(sum), 2)
	assert.Equal(t, 3, res.BlockGroups)

	var pct float64
	for _, v := range res.Percents {
		pct += v
	}
	assert.InDelta(t, 100.0, pct, 1e-9)
}

func TestApportionIsDeterministic(t *testing.T) {
	tbl := mustTable(t,
		mustBlockGroup(t, "420000000001", 333, 667),
		mustBlockGroup(t, "420000000002", 101, 99),
	)
	w := Weights{"420000000002": 0.123456789, "420000000001": 0.987654321}

	first, err := Apportion(w, tbl)
	require.NoError(t, err)
	for range 10 {
		again, err := Apportion(w, tbl)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestApportionZeroPopulation(t *testing.T) {
	tbl := mustTable(t, mustBlockGroup(t, "420000000001", 0, 0))

	res, err := Apportion(Weights{"420000000001": 1}, tbl)
	require.NoError(t, err)
	assert.Nil(t, res.Percents)
	assert.Equal(t, map[string]int64{"A": 0, "B": 0}, res.Counts)

	res, err = Apportion(Weights{}, tbl)
	require.NoError(t, err)
	assert.Nil(t, res.Percents)
	assert.Equal(t, 0, res.BlockGroups)
}

func TestWholeRegion(t *testing.T) {
	tbl := mustTable(t,
		mustBlockGroup(t, "420000000001", 10, 30),
		mustBlockGroup(t, "420000000002", 40, 20),
	)

	res := WholeRegion(tbl)
	assert.Equal(t, map[string]int64{"A": 50, "B": 50}, res.Counts)
	assert.Equal(t, int64(100), res.Total)
	assert.Equal(t, 2, res.BlockGroups)
	assert.InDelta(t, 50.0, res.Percents["A"], 1e-9)
}

package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/censusify/internal/arcgis"
	"github.com/sells-group/censusify/internal/census"
	"github.com/sells-group/censusify/internal/tiger"
)

// --- FeatureSource Mock ---

type mockFeatureSource struct {
	mock.Mock
}

func (m *mockFeatureSource) Query(ctx context.Context, q arcgis.Query) ([]arcgis.Feature, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]arcgis.Feature), args.Error(1)
}

// onURL matches a query by its layer URL.
func onURL(url string) any {
	return mock.MatchedBy(func(q arcgis.Query) bool { return q.URL == url })
}

// --- CensusSource Mock ---

type mockCensusSource struct {
	mock.Mock
}

func (m *mockCensusSource) FetchRaw(ctx context.Context, q census.Query) ([]byte, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// --- TigerSource Mock ---

type mockTigerSource struct {
	mock.Mock
}

func (m *mockTigerSource) LoadBlockGroups(ctx context.Context, year int, stateFIPS, countyFIPS string) ([]tiger.BlockGroupFeature, error) {
	args := m.Called(ctx, year, stateFIPS, countyFIPS)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tiger.BlockGroupFeature), args.Error(1)
}

func (m *mockTigerSource) Download(ctx context.Context, year int, stateFIPS string) (string, error) {
	args := m.Called(ctx, year, stateFIPS)
	return args.String(0), args.Error(1)
}

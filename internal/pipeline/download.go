package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/censusify/internal/census"
	"github.com/sells-group/censusify/internal/config"
)

// DownloadResult lists what Download fetched.
type DownloadResult struct {
	CensusRows int
	CacheKey   string
	Shapefile  string
}

// Download pre-fetches the census table into the payload cache and, for the
// TIGER block-group source, the state shapefile archive into the temp dir.
// Later runs read both without touching the network.
func (p *Pipeline) Download(ctx context.Context) (*DownloadResult, error) {
	if p.store == nil {
		return nil, eris.New("pipeline: download needs a store for the payload cache")
	}
	res := &DownloadResult{}
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		q := p.CensusQuery()
		data, err := p.sources.Census.FetchRaw(gCtx, q)
		if err != nil {
			return err
		}
		rows, err := census.ParseResponse(data)
		if err != nil {
			return err
		}
		res.CacheKey = CacheKey(q)
		res.CensusRows = len(rows)
		p.cacheCensus(gCtx, res.CacheKey, data)
		return nil
	})

	if p.cfg.BlockGroups.Source == config.SourceTIGER {
		g.Go(func() error {
			path, err := p.sources.Tiger.Download(gCtx, p.cfg.Census.Year, p.cfg.Census.StateFIPS)
			if err != nil {
				return eris.Wrap(err, "pipeline: download TIGER archive")
			}
			res.Shapefile = path
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if n, err := p.store.DeleteExpiredPayloads(ctx); err != nil {
		p.log.Warn("pipeline: cache cleanup failed", zap.Error(err))
	} else if n > 0 {
		p.log.Info("pipeline: expired cache entries removed", zap.Int64("removed", n))
	}

	p.log.Info("pipeline: download complete",
		zap.Int("census_rows", res.CensusRows),
		zap.String("shapefile", res.Shapefile),
	)
	return res, nil
}

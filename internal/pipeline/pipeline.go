// Package pipeline runs a generate: it fetches census tables, block-group
// polygons and target geographies, matches every configured level and
// persists and reports the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/censusify/internal/arcgis"
	"github.com/sells-group/censusify/internal/census"
	"github.com/sells-group/censusify/internal/config"
	"github.com/sells-group/censusify/internal/demographics"
	"github.com/sells-group/censusify/internal/geomatch"
	"github.com/sells-group/censusify/internal/model"
	"github.com/sells-group/censusify/internal/report"
	"github.com/sells-group/censusify/internal/store"
	"github.com/sells-group/censusify/internal/tiger"
)

// Pipeline orchestrates one generate run.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	sources  *Sources
	taxonomy *demographics.Taxonomy
	log      *zap.Logger
}

// New creates a Pipeline. st may be nil to skip persistence.
func New(cfg *config.Config, st store.Store, sources *Sources) (*Pipeline, error) {
	tax, err := LoadTaxonomy(cfg.Match)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		sources:  sources,
		taxonomy: tax,
		log:      zap.L().With(zap.String("component", "pipeline")),
	}, nil
}

// LoadTaxonomy returns the taxonomy file when set, else the named built-in.
func LoadTaxonomy(cfg config.MatchConfig) (*demographics.Taxonomy, error) {
	if cfg.TaxonomyFile != "" {
		return demographics.LoadTaxonomy(cfg.TaxonomyFile)
	}
	return demographics.Builtin(cfg.Taxonomy)
}

// Taxonomy returns the taxonomy the pipeline derives categories with.
func (p *Pipeline) Taxonomy() *demographics.Taxonomy { return p.taxonomy }

// Options narrows a run.
type Options struct {
	// Relationship overrides match.relationship when set.
	Relationship string
	// Levels limits matching to these levels plus their ancestors.
	Levels []string
	// Persist writes the run and its results to the store.
	Persist bool
	// Write writes report files to output.dir.
	Write bool
}

// Outcome is what a run produced.
type Outcome struct {
	RunID  string
	Report *report.Report
	Result model.RunResult
}

// inputs are the fully materialized upstream data of a run.
type inputs struct {
	rows        []demographics.RawRow
	blockGroups []tiger.BlockGroupFeature
	features    [][]arcgis.Feature // parallel to the levels being matched
}

// Run executes fetch, match, persist and report.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Outcome, error) {
	relName := opts.Relationship
	if relName == "" {
		relName = p.cfg.Match.Relationship
	}
	rel, err := geomatch.ParseRelationship(relName)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: relationship")
	}
	levels, err := selectLevels(p.cfg.Geographies, opts.Levels)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	persist := opts.Persist && p.store != nil
	if persist {
		names := make([]string, len(levels))
		for i, l := range levels {
			names[i] = l.Name
		}
		run, err := p.store.CreateRun(ctx, model.RunParams{
			Year:         p.cfg.Census.Year,
			Dataset:      p.cfg.Census.Dataset,
			StateFIPS:    p.cfg.Census.StateFIPS,
			CountyFIPS:   p.cfg.Census.CountyFIPS,
			Relationship: string(rel),
			Taxonomy:     p.taxonomy.Name,
			Levels:       names,
		})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		out.RunID = run.ID
	}
	log := p.log.With(zap.String("run_id", out.RunID), zap.String("relationship", string(rel)))

	setStatus := func(status model.RunStatus) {
		if !persist {
			return
		}
		if err := p.store.UpdateRunStatus(ctx, out.RunID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}
	fail := func(err error) (*Outcome, error) {
		if persist {
			if ferr := p.store.FailRun(ctx, out.RunID, err.Error()); ferr != nil {
				log.Warn("pipeline: failed to record failure", zap.Error(ferr))
			}
		}
		return out, err
	}

	setStatus(model.RunStatusFetching)
	start := time.Now()
	in, err := p.fetch(ctx, levels)
	if err != nil {
		return fail(err)
	}
	log.Info("pipeline: fetch complete",
		zap.Int("census_rows", len(in.rows)),
		zap.Int("block_groups", len(in.blockGroups)),
		zap.Duration("elapsed", time.Since(start)),
	)

	setStatus(model.RunStatusMatching)
	table, invalid, err := p.buildTable(in.rows)
	if err != nil {
		return fail(err)
	}
	shapes := p.buildShapes(in.blockGroups, invalid)

	rep, summaries, err := p.matchLevels(ctx, levels, in.features, shapes, table, rel)
	if err != nil {
		return fail(err)
	}
	out.Report = rep
	out.Result = model.RunResult{BlockGroups: table.Len(), Invalid: len(invalid), Levels: summaries}

	if persist {
		if err := p.saveResults(ctx, out.RunID, rep); err != nil {
			return fail(err)
		}
	}

	if opts.Write {
		formats, err := report.ParseFormats(p.cfg.Output.Formats)
		if err != nil {
			return fail(err)
		}
		files, err := report.WriteAll(p.cfg.Output.Dir, formats, rep)
		if err != nil {
			return fail(err)
		}
		out.Result.Outputs = files
	}

	if persist {
		if err := p.store.CompleteRun(ctx, out.RunID, &out.Result); err != nil {
			return out, eris.Wrap(err, "pipeline: complete run")
		}
	}
	log.Info("pipeline: run complete", zap.Int("levels", len(levels)), zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// selectLevels returns the configured levels named in want together with
// their ancestors, in configuration order. An empty want selects all.
func selectLevels(all []config.GeographyConfig, want []string) ([]config.GeographyConfig, error) {
	if len(want) == 0 {
		return all, nil
	}
	byName := make(map[string]config.GeographyConfig, len(all))
	for _, g := range all {
		byName[g.Name] = g
	}
	keep := make(map[string]bool)
	for _, name := range want {
		g, ok := byName[name]
		if !ok {
			return nil, eris.Errorf("pipeline: unknown geography level %q", name)
		}
		for {
			keep[g.Name] = true
			if g.Parent == nil {
				break
			}
			if g, ok = byName[g.Parent.Level]; !ok {
				break
			}
		}
	}
	var out []config.GeographyConfig
	for _, g := range all {
		if keep[g.Name] {
			out = append(out, g)
		}
	}
	return out, nil
}

// fetch downloads every source concurrently and materializes them.
func (p *Pipeline) fetch(ctx context.Context, levels []config.GeographyConfig) (*inputs, error) {
	in := &inputs{features: make([][]arcgis.Feature, len(levels))}
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := p.censusRows(gCtx)
		in.rows = rows
		return err
	})

	g.Go(func() error {
		bgs, err := p.blockGroups(gCtx)
		in.blockGroups = bgs
		return err
	})

	for i, lvl := range levels {
		g.Go(func() error {
			feats, err := p.sources.Features.Query(gCtx, arcgis.Query{URL: lvl.URL, Where: lvl.Where, OrderBy: lvl.KeyField})
			if err != nil {
				return eris.Wrapf(err, "pipeline: fetch %s geographies", lvl.Name)
			}
			in.features[i] = feats
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// CensusQuery is the query for the configured area and taxonomy.
func (p *Pipeline) CensusQuery() census.Query {
	return census.Query{
		Year:      p.cfg.Census.Year,
		Dataset:   p.cfg.Census.Dataset,
		State:     p.cfg.Census.StateFIPS,
		County:    p.cfg.Census.CountyFIPS,
		Variables: p.taxonomy.Variables(),
		Key:       p.cfg.Census.APIKey,
	}
}

// CacheKey identifies a census payload in the store, excluding the API key.
func CacheKey(q census.Query) string {
	return fmt.Sprintf("census:%d:%s:%s:%s:%v", q.Year, q.Dataset, q.State, q.County, q.Variables)
}

func (p *Pipeline) censusRows(ctx context.Context) ([]demographics.RawRow, error) {
	if path := p.cfg.Census.CSVPath; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: open census csv %s", path)
		}
		defer func() { _ = f.Close() }()
		return census.ReadCSV(ctx, f)
	}

	q := p.CensusQuery()
	key := CacheKey(q)
	if p.store != nil {
		data, err := p.store.GetCachedPayload(ctx, key)
		if err != nil {
			p.log.Warn("pipeline: census cache lookup failed", zap.Error(err))
		}
		if data != nil {
			p.log.Debug("pipeline: census table from cache", zap.String("key", key))
			return census.ParseResponse(data)
		}
	}

	data, err := p.sources.Census.FetchRaw(ctx, q)
	if err != nil {
		return nil, err
	}
	rows, err := census.ParseResponse(data)
	if err != nil {
		return nil, err
	}
	p.cacheCensus(ctx, key, data)
	return rows, nil
}

func (p *Pipeline) cacheCensus(ctx context.Context, key string, data []byte) {
	if p.store == nil || p.cfg.Census.CacheTTLHours <= 0 {
		return
	}
	ttl := time.Duration(p.cfg.Census.CacheTTLHours) * time.Hour
	if err := p.store.SetCachedPayload(ctx, key, data, ttl); err != nil {
		p.log.Warn("pipeline: census cache write failed", zap.Error(err))
	}
}

func (p *Pipeline) blockGroups(ctx context.Context) ([]tiger.BlockGroupFeature, error) {
	bg := p.cfg.BlockGroups
	if bg.Source == config.SourceTIGER {
		feats, err := p.sources.Tiger.LoadBlockGroups(ctx, p.cfg.Census.Year, p.cfg.Census.StateFIPS, p.cfg.Census.CountyFIPS)
		return feats, eris.Wrap(err, "pipeline: load TIGER block groups")
	}

	where := bg.Where
	if where == "" {
		where = fmt.Sprintf("STATE='%s' AND COUNTY='%s'", p.cfg.Census.StateFIPS, p.cfg.Census.CountyFIPS)
	}
	feats, err := p.sources.Features.Query(ctx, arcgis.Query{
		URL:       bg.URL,
		Where:     where,
		OutFields: []string{bg.KeyField, "CENTLAT", "CENTLON"},
		OrderBy:   bg.KeyField,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch block groups")
	}
	out := make([]tiger.BlockGroupFeature, 0, len(feats))
	for _, f := range feats {
		geoid, err := geomatch.KeyOf(f.Attributes, bg.KeyField, demographics.GEOIDLength)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: block group key")
		}
		out = append(out, tiger.BlockGroupFeature{GEOID: geoid, Centroid: centroidOf(f.Attributes), Ring: f.Ring()})
	}
	return out, nil
}

// buildTable derives categories for every census row. Rows failing
// validation abort unless match.skip_invalid is set, in which case their
// GEOIDs are returned so their polygons can be left out too.
func (p *Pipeline) buildTable(rows []demographics.RawRow) (*demographics.Table, map[string]bool, error) {
	groups := make([]*demographics.BlockGroup, 0, len(rows))
	invalid := make(map[string]bool)
	for _, row := range rows {
		bg, err := p.taxonomy.Derive(row)
		if err != nil {
			var verr *demographics.ValidationError
			if p.cfg.Match.SkipInvalid && errors.As(err, &verr) {
				invalid[verr.GEOID] = true
				p.log.Warn("pipeline: skipping invalid block group", zap.String("geoid", verr.GEOID), zap.Error(err))
				continue
			}
			return nil, nil, eris.Wrap(err, "pipeline: derive demographics")
		}
		groups = append(groups, bg)
	}
	table, err := demographics.NewTable(p.taxonomy, groups)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: build table")
	}
	return table, invalid, nil
}

// buildShapes converts block-group polygons. Unmeasurable polygons are
// dropped with a warning.
func (p *Pipeline) buildShapes(feats []tiger.BlockGroupFeature, exclude map[string]bool) []geomatch.Shape {
	shapes := make([]geomatch.Shape, 0, len(feats))
	for _, f := range feats {
		if exclude[f.GEOID] {
			continue
		}
		s, err := geomatch.NewShape(f.GEOID, f.Ring, f.Centroid)
		if err != nil {
			p.log.Warn("pipeline: skipping block group geometry", zap.String("geoid", f.GEOID), zap.Error(err))
			continue
		}
		shapes = append(shapes, s)
	}
	return shapes
}

// matchLevels matches levels in order so that each level's parent lineage
// is resolved before its children.
func (p *Pipeline) matchLevels(
	ctx context.Context,
	levels []config.GeographyConfig,
	features [][]arcgis.Feature,
	shapes []geomatch.Shape,
	table *demographics.Table,
	rel geomatch.Relationship,
) (*report.Report, []model.LevelSummary, error) {
	matcher := geomatch.NewMatcher(
		geomatch.WithConcurrency(p.cfg.Match.Concurrency),
		geomatch.WithLogger(p.log),
	)

	rep := &report.Report{
		Relationship: string(rel),
		Taxonomy:     p.taxonomy,
		Custom:       map[string]*geomatch.Result{report.CustomRegion: geomatch.WholeRegion(table)},
	}
	lineages := make(map[string]geomatch.Lineage, len(levels))
	ancestors := make(map[string][]string, len(levels))
	var summaries []model.LevelSummary

	for i, lvl := range levels {
		targets, err := toTargets(lvl, features[i])
		if err != nil {
			return nil, nil, err
		}
		set, err := matcher.MatchAll(ctx, shapes, targets, table, rel)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "pipeline: match %s", lvl.Name)
		}

		var lineage geomatch.Lineage
		if lvl.Parent != nil {
			lineage, err = geomatch.ResolveLineage(set, *lvl.Parent, lineages[lvl.Parent.Level])
			if err != nil {
				return nil, nil, eris.Wrapf(err, "pipeline: lineage of %s", lvl.Name)
			}
			ancestors[lvl.Name] = append(append([]string{}, ancestors[lvl.Parent.Level]...), lvl.Parent.Level)
		}
		lineages[lvl.Name] = lineage

		level, err := toLevel(lvl.Name, ancestors[lvl.Name], set, targets, lineage)
		if err != nil {
			return nil, nil, err
		}
		rep.Levels = append(rep.Levels, level)

		summary := model.LevelSummary{Level: lvl.Name, Matched: len(set.Matches)}
		if len(set.Skipped) > 0 {
			summary.Skipped = make(map[string]string, len(set.Skipped))
			for k, e := range set.Skipped {
				summary.Skipped[k] = e.Error()
			}
		}
		summaries = append(summaries, summary)
		p.log.Info("pipeline: level matched",
			zap.String("level", lvl.Name),
			zap.Int("matched", summary.Matched),
			zap.Int("skipped", len(set.Skipped)),
		)
	}
	return rep, summaries, nil
}

func toTargets(lvl config.GeographyConfig, feats []arcgis.Feature) ([]geomatch.Target, error) {
	targets := make([]geomatch.Target, 0, len(feats))
	for _, f := range feats {
		key, err := geomatch.KeyOf(f.Attributes, lvl.KeyField, lvl.KeyWidth)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s key", lvl.Name)
		}
		targets = append(targets, geomatch.Target{Key: key, Attributes: f.Attributes, Ring: f.Ring()})
	}
	return targets, nil
}

func toLevel(name string, parents []string, set *geomatch.MatchSet, targets []geomatch.Target, lineage geomatch.Lineage) (report.Level, error) {
	rings := make(map[string][][]float64, len(targets))
	for _, t := range targets {
		rings[t.Key] = t.Ring
	}

	level := report.Level{Name: name, Parents: parents}
	for _, m := range set.Matches {
		geom, err := tiger.EncodeRing(rings[m.Key])
		if err != nil {
			return level, eris.Wrapf(err, "pipeline: encode %s %s", name, m.Key)
		}
		level.Rows = append(level.Rows, model.GeographyResult{
			Level:       name,
			Key:         m.Key,
			Parents:     lineage[m.Key],
			Counts:      m.Result.Counts,
			Percents:    m.Result.Percents,
			Total:       m.Result.Total,
			BlockGroups: m.Result.BlockGroups,
			Geometry:    geom,
		})
	}
	sort.Slice(level.Rows, func(i, j int) bool { return level.Rows[i].Key < level.Rows[j].Key })
	return level, nil
}

func (p *Pipeline) saveResults(ctx context.Context, runID string, rep *report.Report) error {
	var rows []model.GeographyResult
	for name, res := range rep.Custom {
		rows = append(rows, model.GeographyResult{
			Level:       model.CitywideLevel,
			Key:         name,
			Counts:      res.Counts,
			Percents:    res.Percents,
			Total:       res.Total,
			BlockGroups: res.BlockGroups,
		})
	}
	for _, lvl := range rep.Levels {
		rows = append(rows, lvl.Rows...)
	}
	n, err := p.store.SaveGeographies(ctx, runID, rows)
	if err != nil {
		return eris.Wrap(err, "pipeline: save results")
	}
	p.log.Debug("pipeline: results saved", zap.Int64("rows", n))
	return nil
}

package geomatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/censusify/internal/demographics"
)

// Target is a geography to compute demographics for.
type Target struct {
	Key        string
	Attributes map[string]any
	Ring       [][]float64
}

// Match is the outcome for one target.
type Match struct {
	Key        string
	Attributes map[string]any
	Weights    Weights
	Result     *Result
}

// MatchSet holds the matches of one geography level, in target order.
// Targets whose geometry could not be measured are listed in Skipped.
type MatchSet struct {
	Relationship Relationship
	Matches      []*Match
	Skipped      map[string]error
}

// Get returns the match for key.
func (s *MatchSet) Get(key string) (*Match, bool) {
	for _, m := range s.Matches {
		if m.Key == key {
			return m, true
		}
	}
	return nil, false
}

// Results returns the results keyed by target key.
func (s *MatchSet) Results() map[string]*Result {
	out := make(map[string]*Result, len(s.Matches))
	for _, m := range s.Matches {
		out[m.Key] = m.Result
	}
	return out
}

// Matcher computes demographics for a set of targets.
type Matcher struct {
	concurrency int
	log         *zap.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithConcurrency sets how many targets are measured in parallel. Values
// below 2 run serially.
func WithConcurrency(n int) Option {
	return func(m *Matcher) { m.concurrency = n }
}

// WithLogger sets the matcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Matcher) { m.log = l }
}

// NewMatcher creates a Matcher.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{concurrency: 1}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = zap.L().With(zap.String("component", "geomatch"))
	}
	return m
}

// MatchAll computes weights and apportioned demographics for every target.
// A target with degenerate geometry is skipped and reported; a weighted
// block group missing from table aborts the whole call.
func (m *Matcher) MatchAll(ctx context.Context, shapes []Shape, targets []Target, table *demographics.Table, rel Relationship) (*MatchSet, error) {
	if len(shapes) == 0 {
		return nil, eris.New("geomatch: no block group shapes")
	}
	if _, err := ParseRelationship(string(rel)); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if seen[t.Key] {
			return nil, eris.Errorf("geomatch: duplicate target key %q", t.Key)
		}
		seen[t.Key] = true
	}

	matches := make([]*Match, len(targets))
	errs := make([]error, len(targets))

	if m.concurrency < 2 {
		for i, t := range targets {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "geomatch: match all")
			}
			matches[i], errs[i] = matchOne(shapes, t, table, rel)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.concurrency)
		for i, t := range targets {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				matches[i], errs[i] = matchOne(shapes, t, table, rel)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrap(err, "geomatch: match all")
		}
	}

	set := &MatchSet{Relationship: rel, Skipped: make(map[string]error)}
	for i, err := range errs {
		key := targets[i].Key
		if err == nil {
			set.Matches = append(set.Matches, matches[i])
			continue
		}
		var missing *MissingReferenceError
		if errors.As(err, &missing) {
			missing.Target = key
			return nil, missing
		}
		var degenerate *DegenerateGeometryError
		if errors.As(err, &degenerate) {
			m.log.Warn("skipping target", zap.String("target", key), zap.Error(err))
			set.Skipped[key] = err
			continue
		}
		return nil, eris.Wrapf(err, "geomatch: target %s", key)
	}

	m.log.Debug("matched targets",
		zap.String("relationship", string(rel)),
		zap.Int("matched", len(set.Matches)),
		zap.Int("skipped", len(set.Skipped)),
	)
	return set, nil
}

// matchOne measures one target. Panics from geometry code are reported as
// degenerate geometry for that target only.
func matchOne(shapes []Shape, t Target, table *demographics.Table, rel Relationship) (match *Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			match, err = nil, &DegenerateGeometryError{ID: t.Key, Reason: fmt.Sprint(r)}
		}
	}()

	poly, err := NewPolygon(t.Key, t.Ring)
	if err != nil {
		return nil, err
	}
	weights, err := ComputeWeights(poly, shapes, rel)
	if err != nil {
		return nil, err
	}
	res, err := Apportion(weights, table)
	if err != nil {
		return nil, err
	}
	return &Match{Key: t.Key, Attributes: t.Attributes, Weights: weights, Result: res}, nil
}

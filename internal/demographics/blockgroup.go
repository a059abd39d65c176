package demographics

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// GEOID component widths: state, county, tract, block group.
const (
	stateWidth      = 2
	countyWidth     = 3
	tractWidth      = 6
	blockGroupWidth = 1

	// GEOIDLength is the length of a block group GEOID.
	GEOIDLength = stateWidth + countyWidth + tractWidth + blockGroupWidth
)

// ValidationError reports a block group whose category counts do not sum to
// its total, or that derived a negative count.
type ValidationError struct {
	GEOID    string
	Total    int64
	Sum      int64
	Category string // set when a single category is invalid
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("demographics: block group %s: category %s: %s", e.GEOID, e.Category, e.Detail)
	}
	return fmt.Sprintf("demographics: block group %s: categories sum to %d, total is %d", e.GEOID, e.Sum, e.Total)
}

// RawRow is one block group as returned by the statistical source: its
// identifier parts, a display name and raw variable values.
type RawRow struct {
	Name       string
	State      string
	County     string
	Tract      string
	BlockGroup string
	Values     map[string]int64
}

// GEOID returns the row's zero-padded 12-digit identifier.
func (r RawRow) GEOID() (string, error) {
	return FormatGEOID(r.State, r.County, r.Tract, r.BlockGroup)
}

// FormatGEOID concatenates zero-padded state, county, tract and block group
// codes.
func FormatGEOID(state, county, tract, blockGroup string) (string, error) {
	var b strings.Builder
	b.Grow(GEOIDLength)
	parts := []struct {
		name  string
		value string
		width int
	}{
		{"state", state, stateWidth},
		{"county", county, countyWidth},
		{"tract", tract, tractWidth},
		{"block group", blockGroup, blockGroupWidth},
	}
	for _, p := range parts {
		v := strings.TrimSpace(p.value)
		if v == "" || len(v) > p.width || !isDigits(v) {
			return "", eris.Errorf("demographics: invalid %s code %q", p.name, p.value)
		}
		b.WriteString(strings.Repeat("0", p.width-len(v)))
		b.WriteString(v)
	}
	return b.String(), nil
}

// ValidGEOID reports whether s is a 12-digit block group identifier.
func ValidGEOID(s string) bool {
	return len(s) == GEOIDLength && isDigits(s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BlockGroup is an immutable census block group with validated counts.
type BlockGroup struct {
	GEOID  string
	Name   string
	Counts map[string]int64
	Total  int64
}

// NewBlockGroup validates counts against total. Every count must be
// non-negative and the counts must sum to total exactly.
func NewBlockGroup(geoid, name string, counts map[string]int64, total int64) (*BlockGroup, error) {
	if !ValidGEOID(geoid) {
		return nil, eris.Errorf("demographics: invalid GEOID %q", geoid)
	}
	var sum int64
	c := make(map[string]int64, len(counts))
	for k, v := range counts {
		if k == TotalKey {
			return nil, &ValidationError{GEOID: geoid, Total: total, Category: k, Detail: "reserved name"}
		}
		if v < 0 {
			return nil, &ValidationError{GEOID: geoid, Total: total, Category: k, Detail: fmt.Sprintf("negative count %d", v)}
		}
		c[k] = v
		sum += v
	}
	if sum != total {
		return nil, &ValidationError{GEOID: geoid, Total: total, Sum: sum}
	}
	return &BlockGroup{GEOID: geoid, Name: name, Counts: c, Total: total}, nil
}

// Derive builds a validated block group from a raw row.
func (t *Taxonomy) Derive(row RawRow) (*BlockGroup, error) {
	geoid, err := row.GEOID()
	if err != nil {
		return nil, err
	}
	total, ok := row.Values[t.Total]
	if !ok {
		return nil, eris.Errorf("demographics: block group %s: missing variable %s", geoid, t.Total)
	}
	counts := make(map[string]int64, len(t.Categories))
	for _, c := range t.Categories {
		n, err := c.derive(row.Values)
		if err != nil {
			return nil, eris.Wrapf(err, "demographics: block group %s", geoid)
		}
		counts[c.Name] = n
	}
	return NewBlockGroup(geoid, row.Name, counts, total)
}

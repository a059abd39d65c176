package demographics

import (
	"sort"

	"github.com/rotisserie/eris"
)

// Table is a GEOID-keyed set of block groups sharing one taxonomy.
type Table struct {
	taxonomy *Taxonomy
	rows     map[string]*BlockGroup
	geoids   []string
}

// NewTable indexes block groups by GEOID. Every block group must carry exactly
// the taxonomy's categories and GEOIDs must be unique.
func NewTable(t *Taxonomy, groups []*BlockGroup) (*Table, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	names := t.Names()
	tbl := &Table{
		taxonomy: t,
		rows:     make(map[string]*BlockGroup, len(groups)),
		geoids:   make([]string, 0, len(groups)),
	}
	for _, bg := range groups {
		if _, dup := tbl.rows[bg.GEOID]; dup {
			return nil, eris.Errorf("demographics: duplicate block group %s", bg.GEOID)
		}
		if len(bg.Counts) != len(names) {
			return nil, eris.Errorf("demographics: block group %s has %d categories, taxonomy %q has %d",
				bg.GEOID, len(bg.Counts), t.Name, len(names))
		}
		for _, n := range names {
			if _, ok := bg.Counts[n]; !ok {
				return nil, eris.Errorf("demographics: block group %s missing category %s", bg.GEOID, n)
			}
		}
		tbl.rows[bg.GEOID] = bg
		tbl.geoids = append(tbl.geoids, bg.GEOID)
	}
	sort.Strings(tbl.geoids)
	return tbl, nil
}

// Taxonomy returns the table's taxonomy.
func (t *Table) Taxonomy() *Taxonomy { return t.taxonomy }

// Len returns the number of block groups.
func (t *Table) Len() int { return len(t.geoids) }

// Get looks up a block group.
func (t *Table) Get(geoid string) (*BlockGroup, bool) {
	bg, ok := t.rows[geoid]
	return bg, ok
}

// GEOIDs returns all identifiers in ascending order.
func (t *Table) GEOIDs() []string {
	out := make([]string, len(t.geoids))
	copy(out, t.geoids)
	return out
}

// Percents returns each count as a percentage of the sum of counts. It
// returns nil when the counts sum to zero.
func Percents(counts map[string]int64) map[string]float64 {
	var sum int64
	for _, v := range counts {
		sum += v
	}
	if sum == 0 {
		return nil
	}
	out := make(map[string]float64, len(counts))
	for k, v := range counts {
		out[k] = float64(v) / float64(sum) * 100
	}
	return out
}

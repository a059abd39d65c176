// Package demographics holds the validated demographic data model: taxonomies
// that derive category counts from raw census variables, block-group records
// whose category counts sum to their total, and the GEOID-keyed table the
// apportionment engine reads from.
package demographics

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// TotalKey is the reserved name of the total population column.
const TotalKey = "total"

// Category derives one demographic count as sum(Plus) - sum(Minus) over raw
// census variables.
type Category struct {
	Name  string   `yaml:"name" json:"name"`
	Label string   `yaml:"label" json:"label,omitempty"`
	Plus  []string `yaml:"plus" json:"plus"`
	Minus []string `yaml:"minus,omitempty" json:"minus,omitempty"`
}

// Taxonomy is an ordered set of categories plus the variable holding the
// total population. Category counts of a valid block group sum to the total.
type Taxonomy struct {
	Name       string     `yaml:"name" json:"name"`
	Total      string     `yaml:"total" json:"total"`
	Categories []Category `yaml:"categories" json:"categories"`
}

// Police is the taxonomy used for police geographies. Latino counts are split
// out of the white and black race totals.
func Police() *Taxonomy {
	return &Taxonomy{
		Name:  "police",
		Total: "P1_001N",
		Categories: []Category{
			{Name: "american_indian", Plus: []string{"P1_005N"}},
			{Name: "asian", Plus: []string{"P1_006N", "P1_007N"}},
			{Name: "unknown", Plus: []string{"P1_008N", "P1_009N"}},
			{Name: "white_non_latino", Plus: []string{"P2_005N"}},
			{Name: "white_latino", Plus: []string{"P1_003N"}, Minus: []string{"P2_005N"}},
			{Name: "black_non_latino", Plus: []string{"P2_006N"}},
			{Name: "black_latino", Plus: []string{"P1_004N"}, Minus: []string{"P2_006N"}},
		},
	}
}

// Census is the taxonomy that mirrors the Hispanic or Latino by race table.
func Census() *Taxonomy {
	return &Taxonomy{
		Name:  "census",
		Total: "P1_001N",
		Categories: []Category{
			{Name: "american_indian", Plus: []string{"P2_007N"}},
			{Name: "asian", Plus: []string{"P2_008N", "P2_009N"}},
			{Name: "unknown", Plus: []string{"P2_010N", "P2_011N"}},
			{Name: "white", Plus: []string{"P2_005N"}},
			{Name: "black_or_african_american", Plus: []string{"P2_006N"}},
			{Name: "hispanic_or_latino", Plus: []string{"P2_002N"}},
		},
	}
}

// Builtin returns a built-in taxonomy by name.
func Builtin(name string) (*Taxonomy, error) {
	switch name {
	case "police":
		return Police(), nil
	case "census":
		return Census(), nil
	default:
		return nil, eris.Errorf("demographics: unknown taxonomy %q", name)
	}
}

// LoadTaxonomy reads a taxonomy definition from a YAML file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "demographics: read taxonomy %s", path)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy parses and validates a YAML taxonomy definition.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "demographics: parse taxonomy")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks that the taxonomy is usable.
func (t *Taxonomy) Validate() error {
	if t.Total == "" {
		return eris.Errorf("demographics: taxonomy %q has no total variable", t.Name)
	}
	if len(t.Categories) == 0 {
		return eris.Errorf("demographics: taxonomy %q has no categories", t.Name)
	}
	seen := make(map[string]bool, len(t.Categories))
	for _, c := range t.Categories {
		switch {
		case c.Name == "":
			return eris.Errorf("demographics: taxonomy %q has an unnamed category", t.Name)
		case c.Name == TotalKey:
			return eris.Errorf("demographics: taxonomy %q: category name %q is reserved", t.Name, TotalKey)
		case seen[c.Name]:
			return eris.Errorf("demographics: taxonomy %q: duplicate category %q", t.Name, c.Name)
		case len(c.Plus) == 0:
			return eris.Errorf("demographics: taxonomy %q: category %q has no variables", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Names returns the category names in taxonomy order.
func (t *Taxonomy) Names() []string {
	names := make([]string, len(t.Categories))
	for i, c := range t.Categories {
		names[i] = c.Name
	}
	return names
}

// Variables returns the sorted, de-duplicated raw variables the taxonomy
// reads, including the total.
func (t *Taxonomy) Variables() []string {
	set := map[string]struct{}{t.Total: {}}
	for _, c := range t.Categories {
		for _, v := range c.Plus {
			set[v] = struct{}{}
		}
		for _, v := range c.Minus {
			set[v] = struct{}{}
		}
	}
	vars := make([]string, 0, len(set))
	for v := range set {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// derive evaluates a category against raw values. Missing variables are an
// error rather than zero.
func (c Category) derive(values map[string]int64) (int64, error) {
	var n int64
	for _, v := range c.Plus {
		x, ok := values[v]
		if !ok {
			return 0, eris.Errorf("missing variable %s", v)
		}
		n += x
	}
	for _, v := range c.Minus {
		x, ok := values[v]
		if !ok {
			return 0, eris.Errorf("missing variable %s", v)
		}
		n -= x
	}
	return n, nil
}

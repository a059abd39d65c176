package geomatch

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// KeyOf formats an attribute value as a geography key. Whole numbers and
// digit strings are zero-padded to width; width 0 leaves them as is.
func KeyOf(attrs map[string]any, field string, width int) (string, error) {
	v, ok := attrs[field]
	if !ok || v == nil {
		return "", eris.Errorf("geomatch: attribute %s missing", field)
	}

	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case float64:
		if x != math.Trunc(x) {
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		}
		s = strconv.FormatInt(int64(x), 10)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		s = fmt.Sprint(x)
	}
	if s == "" {
		return "", eris.Errorf("geomatch: attribute %s empty", field)
	}
	if width > len(s) && isDigits(s) {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParentLookup builds a child key → parent key map from one level's feature
// attributes.
func ParentLookup(attrSets []map[string]any, childField, parentField string, childWidth, parentWidth int) (map[string]string, error) {
	out := make(map[string]string, len(attrSets))
	for _, attrs := range attrSets {
		child, err := KeyOf(attrs, childField, childWidth)
		if err != nil {
			return nil, err
		}
		parent, err := KeyOf(attrs, parentField, parentWidth)
		if err != nil {
			return nil, eris.Wrapf(err, "geomatch: parent of %s", child)
		}
		if prev, ok := out[child]; ok && prev != parent {
			return nil, eris.Errorf("geomatch: %s has parents %s and %s", child, prev, parent)
		}
		out[child] = parent
	}
	return out, nil
}

// ParentRule derives a key's parent in another level, either from a key
// prefix or from a field on the child's attributes.
type ParentRule struct {
	Level     string `yaml:"level" mapstructure:"level"`
	PrefixLen int    `yaml:"prefix_len" mapstructure:"prefix_len"`
	Field     string `yaml:"field" mapstructure:"field"`
	Width     int    `yaml:"width" mapstructure:"width"`
}

// Resolve returns the parent key of key.
func (r ParentRule) Resolve(key string, attrs map[string]any) (string, error) {
	switch {
	case r.PrefixLen > 0:
		if len(key) < r.PrefixLen {
			return "", eris.Errorf("geomatch: key %q shorter than prefix %d", key, r.PrefixLen)
		}
		return key[:r.PrefixLen], nil
	case r.Field != "":
		return KeyOf(attrs, r.Field, r.Width)
	default:
		return "", eris.Errorf("geomatch: parent rule for %s has no prefix or field", r.Level)
	}
}

// Lineage maps each key of a level to its ancestor keys by level name.
type Lineage map[string]map[string]string

// ResolveLineage attaches ancestors to every match in set. parent holds the
// lineage already resolved for the rule's level; ancestors of the parent are
// inherited.
func ResolveLineage(set *MatchSet, rule ParentRule, parent Lineage) (Lineage, error) {
	out := make(Lineage, len(set.Matches))
	for _, m := range set.Matches {
		key, err := rule.Resolve(m.Key, m.Attributes)
		if err != nil {
			return nil, eris.Wrapf(err, "geomatch: parent of %s", m.Key)
		}
		anc := map[string]string{rule.Level: key}
		for lvl, k := range parent[key] {
			anc[lvl] = k
		}
		out[m.Key] = anc
	}
	return out, nil
}

package report

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// jsonEntry is one geography under by_<level>.
type jsonEntry map[string]any

// Document builds the nested demographics document:
//
//	{"by_custom": {"citywide": {...}}, "by_<level>": {"<key>": {...}}}
//
// Each level entry carries its own key and its ancestors' keys next to the
// counts and percents.
func Document(rep *Report) map[string]any {
	doc := make(map[string]any, len(rep.Levels)+1)

	custom := make(map[string]jsonEntry, len(rep.Custom))
	for name, res := range rep.Custom {
		e := jsonEntry{"demographics_count": res.Counts, "total": res.Total}
		if res.Percents != nil {
			e["demographics_percent"] = res.Percents
		} else {
			e["demographics_percent"] = map[string]float64{}
		}
		custom[name] = e
	}
	doc["by_custom"] = custom

	for _, level := range rep.Levels {
		entries := make(map[string]jsonEntry, len(level.Rows))
		for _, row := range level.Rows {
			e := jsonEntry{
				level.Name:           row.Key,
				"demographics_count": row.Counts,
				"total":              row.Total,
				"block_groups":       row.BlockGroups,
			}
			if row.Percents != nil {
				e["demographics_percent"] = row.Percents
			} else {
				e["demographics_percent"] = map[string]float64{}
			}
			for _, p := range level.Parents {
				e[p] = row.Parents[p]
			}
			entries[row.Key] = e
		}
		doc["by_"+level.Name] = entries
	}
	return doc
}

// WriteJSON writes the nested document with two-space indentation.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(Document(rep)), "report: encode json")
}

package decision

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/amishk599/idlewatch/internal/model"
)

// BuildSearchText flattens a record into the blob the keyword engine matches
// against: the item title first, then every string and number leaf of the
// item and seller trees. Object keys are visited in sorted order so the blob
// is deterministic.
func BuildSearchText(rec model.Record) string {
	var parts []string
	if t := strings.TrimSpace(rec.Item.Title); t != "" {
		parts = append(parts, t)
	}
	parts = appendLeaves(parts, rec.Item)
	parts = appendLeaves(parts, rec.Seller)
	return strings.Join(parts, " ")
}

func appendLeaves(parts []string, v any) []string {
	raw, err := json.Marshal(v)
	if err != nil {
		return parts
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return parts
	}
	return walk(parts, tree)
}

func walk(parts []string, node any) []string {
	switch n := node.(type) {
	case string:
		if s := strings.TrimSpace(n); s != "" {
			parts = append(parts, s)
		}
	case json.Number:
		parts = append(parts, n.String())
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = walk(parts, n[k])
		}
	case []any:
		for _, child := range n {
			parts = walk(parts, child)
		}
	}
	return parts
}

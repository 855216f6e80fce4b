package storage

import (
	"context"
	"strings"

	"livesync/pkg/model"
)

// LookupPath resolves a dotted field path inside a document.
func LookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	if doc == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, p := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case model.Document:
		return m, true
	}
	return nil, false
}

// IsInclusion reports whether a projection keeps only the listed fields.
// The identity field decides the mode only when it is the sole entry.
func IsInclusion(sel map[string]int) bool {
	for k, v := range sel {
		if k != model.FieldID && v != 0 {
			return true
		}
	}
	v, ok := sel[model.FieldID]
	return ok && v != 0 && len(sel) == 1
}

// ApplySelect returns a shallow copy of doc reduced by a projection.
// In inclusion mode the identity is kept unless excluded explicitly.
func ApplySelect(doc model.Document, sel map[string]int) model.Document {
	if len(sel) == 0 {
		return doc.Clone()
	}
	if IsInclusion(sel) {
		out := make(model.Document, len(sel))
		for k, v := range sel {
			if v == 0 {
				continue
			}
			if val, ok := doc[k]; ok {
				out[k] = val
			}
		}
		if idv, ok := sel[model.FieldID]; !ok || idv != 0 {
			if id, ok := doc[model.FieldID]; ok {
				out[model.FieldID] = id
			}
		}
		return out
	}
	out := doc.Clone()
	for k, v := range sel {
		if v == 0 {
			delete(out, k)
		}
	}
	return out
}

// Populate replaces reference fields (an id or a list of ids) with the referenced
// documents. Documents are copied before modification.
func Populate(ctx context.Context, b Backend, docs []model.Document, specs []PopulateSpec) ([]model.Document, error) {
	if len(specs) == 0 || len(docs) == 0 {
		return docs, nil
	}
	out := make([]model.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}

	for _, spec := range specs {
		var ids []string
		seen := make(map[string]bool)
		for _, d := range out {
			for _, id := range referenceIDs(d[spec.Path]) {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}

		refs, err := b.Find(ctx, Query{Collection: spec.Collection, IDs: ids, Select: spec.Select})
		if err != nil {
			return nil, err
		}
		byID := make(map[string]model.Document, len(refs))
		for _, r := range refs {
			byID[r.GetID()] = r
		}

		for _, d := range out {
			switch v := d[spec.Path].(type) {
			case string:
				if r, ok := byID[v]; ok {
					d[spec.Path] = r
				}
			case []interface{}, []string:
				var expanded []interface{}
				for _, id := range referenceIDs(v) {
					if r, ok := byID[id]; ok {
						expanded = append(expanded, r)
					}
				}
				d[spec.Path] = expanded
			}
		}
	}
	return out, nil
}

func referenceIDs(v interface{}) []string {
	switch ref := v.(type) {
	case string:
		return []string{ref}
	case []string:
		return ref
	case []interface{}:
		ids := make([]string, 0, len(ref))
		for _, item := range ref {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	}
	return nil
}

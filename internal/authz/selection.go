package authz

import (
	"fmt"
	"sort"
	"strings"

	"livesync/internal/schema"
	"livesync/internal/storage"
	"livesync/pkg/model"
)

// Selection is a canonical projection: field -> 1 (include) or 0 (exclude).
type Selection map[string]int

// ParseSelection accepts the string form ("name -secret"), a map with numeric
// or boolean values, or nil.
func ParseSelection(v interface{}) (Selection, error) {
	sel := Selection{}
	switch val := v.(type) {
	case nil:
		return sel, nil
	case string:
		for _, tok := range strings.Fields(val) {
			if strings.HasPrefix(tok, "-") {
				sel[strings.TrimPrefix(tok, "-")] = 0
				continue
			}
			sel[strings.TrimPrefix(tok, "+")] = 1
		}
	case Selection:
		for k, n := range val {
			sel[k] = flag(n != 0)
		}
	case map[string]int:
		for k, n := range val {
			sel[k] = flag(n != 0)
		}
	case map[string]interface{}:
		for k, raw := range val {
			on, err := truthy(raw)
			if err != nil {
				return nil, model.Validationf("select %q: %v", k, err)
			}
			sel[k] = flag(on)
		}
	default:
		return nil, model.Validationf("select must be a string or an object, got %T", v)
	}

	if err := sel.validate(); err != nil {
		return nil, err
	}
	return sel, nil
}

func flag(on bool) int {
	if on {
		return 1
	}
	return 0
}

func truthy(v interface{}) (bool, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case int:
		return n != 0, nil
	case int64:
		return n != 0, nil
	case float64:
		return n != 0, nil
	}
	return false, fmt.Errorf("unsupported value %v", v)
}

// validate rejects projections mixing inclusion and exclusion. The identity
// field may be excluded from an inclusion.
func (s Selection) validate() error {
	var incl, excl bool
	for k, v := range s {
		if k == "" {
			return model.Validationf("empty field in select")
		}
		if k == model.FieldID {
			continue
		}
		if v == 0 {
			excl = true
		} else {
			incl = true
		}
	}
	if incl && excl {
		return model.Validationf("select cannot mix inclusion and exclusion")
	}
	return nil
}

// Inclusion reports whether the selection lists the fields to keep.
func (s Selection) Inclusion() bool {
	return storage.IsInclusion(s)
}

// Clone returns a copy; nil stays nil.
func (s Selection) Clone() Selection {
	if s == nil {
		return nil
	}
	out := make(Selection, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String renders the canonical string form, sorted by field.
func (s Selection) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if s[k] == 0 {
			keys[i] = "-" + k
		}
	}
	return strings.Join(keys, " ")
}

// deniedFields lists the fields hidden from a caller. The identity is always
// visible.
func deniedFields(policy schema.Policy, op schema.Operation, level int) []string {
	denied := policy.Denied(op, level)
	out := denied[:0]
	for _, f := range denied {
		if f != model.FieldID {
			out = append(out, f)
		}
	}
	return out
}

// NarrowSelection forces out every field the caller may not access for op.
// A client exclusion is never weakened. For an inclusion, denied fields are
// dropped from the kept set; if nothing else remains only the identity is kept.
func NarrowSelection(sel Selection, policy schema.Policy, level int, op schema.Operation) Selection {
	out := sel.Clone()
	if out == nil {
		out = Selection{}
	}
	denied := deniedFields(policy, op, level)
	if len(denied) == 0 {
		return out
	}

	if !out.Inclusion() {
		for _, f := range denied {
			out[f] = 0
		}
		return out
	}

	for _, f := range denied {
		for k := range out {
			if k == f || strings.HasPrefix(k, f+".") {
				delete(out, k)
			}
		}
	}
	if !out.Inclusion() {
		return Selection{model.FieldID: 1}
	}
	return out
}

// StripFields returns a shallow copy of doc without the top-level fields the
// caller may not access for op.
func StripFields(doc model.Document, policy schema.Policy, op schema.Operation, level int) model.Document {
	if doc == nil {
		return nil
	}
	out := doc.Clone()
	for _, f := range deniedFields(policy, op, level) {
		delete(out, f)
	}
	return out
}

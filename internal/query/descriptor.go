package query

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"livesync/internal/authz"
	"livesync/internal/storage"
	"livesync/pkg/model"
)

// Descriptor is a client-supplied query against one collection.
type Descriptor struct {
	Filters model.Filters `json:"filters,omitempty"`
	// Where is shorthand for equality filters.
	Where map[string]interface{} `json:"where,omitempty"`
	// Select is a projection string ("a -b") or object.
	Select interface{} `json:"select,omitempty"`
	// Sort lists fields, a leading '-' sorts descending. A space separated
	// string is accepted too.
	Sort     interface{}            `json:"sort,omitempty"`
	Skip     int                    `json:"skip,omitempty"`
	Limit    int                    `json:"limit,omitempty"`
	Count    bool                   `json:"count,omitempty"`
	Populate []storage.PopulateSpec `json:"populate,omitempty"`
	FindOne  bool                   `json:"findOne,omitempty"`
}

// Normalized is the canonical form of a Descriptor. Two descriptors asking for
// the same thing normalize to equal values.
type Normalized struct {
	Filters  model.Filters          `json:"filters"`
	Select   authz.Selection        `json:"select"`
	OrderBy  []model.Order          `json:"orderBy"`
	Skip     int                    `json:"skip"`
	Limit    int                    `json:"limit"`
	Populate []storage.PopulateSpec `json:"populate"`
	FindOne  bool                   `json:"findOne"`
	// Count is an observer option and does not take part in the fingerprint.
	Count bool `json:"-"`
}

// Normalize validates d and returns its canonical form.
func (d Descriptor) Normalize() (Normalized, error) {
	n := Normalized{
		Skip:    d.Skip,
		Limit:   d.Limit,
		Count:   d.Count,
		FindOne: d.FindOne,
	}

	if d.Skip < 0 {
		return n, model.Validationf("skip must not be negative")
	}
	if d.Limit < 0 {
		return n, model.Validationf("limit must not be negative")
	}

	orders, err := ParseSort(d.Sort)
	if err != nil {
		return n, err
	}
	if len(orders) > 0 && d.Count {
		return n, model.Validationf("sort cannot be combined with count")
	}
	n.OrderBy = orders

	if d.FindOne {
		if d.Count {
			return n, model.Validationf("findOne cannot be combined with count")
		}
		n.Limit = 1
	}

	sel, err := authz.ParseSelection(d.Select)
	if err != nil {
		return n, err
	}
	n.Select = sel

	filters := make(model.Filters, 0, len(d.Filters)+len(d.Where))
	for _, f := range d.Filters {
		if !f.Validate() {
			return n, model.Validationf("invalid filter %q %q", f.Field, f.Op)
		}
		filters = append(filters, f)
	}
	for field, v := range d.Where {
		if field == "" {
			return n, model.Validationf("empty field in where")
		}
		filters = append(filters, model.Filter{Field: field, Op: model.OpEq, Value: v})
	}
	sort.SliceStable(filters, func(i, j int) bool {
		if filters[i].Field != filters[j].Field {
			return filters[i].Field < filters[j].Field
		}
		return filters[i].Op < filters[j].Op
	})
	n.Filters = filters

	for _, p := range d.Populate {
		if p.Path == "" || p.Collection == "" {
			return n, model.Validationf("populate needs a path and a collection")
		}
	}
	n.Populate = d.Populate

	return n, nil
}

// ParseSort accepts nil, "a -b", or a list of field names.
func ParseSort(v interface{}) ([]model.Order, error) {
	var fields []string
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		fields = strings.Fields(s)
	case []string:
		fields = s
	case []interface{}:
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, model.Validationf("sort entries must be strings, got %T", item)
			}
			fields = append(fields, str)
		}
	default:
		return nil, model.Validationf("sort must be a string or a list of strings, got %T", v)
	}

	orders := make([]model.Order, 0, len(fields))
	for _, f := range fields {
		dir := model.Asc
		if strings.HasPrefix(f, "-") {
			dir = model.Desc
			f = f[1:]
		} else {
			f = strings.TrimPrefix(f, "+")
		}
		if f == "" {
			return nil, model.Validationf("empty field in sort")
		}
		orders = append(orders, model.Order{Field: f, Direction: dir})
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return orders, nil
}

// Fingerprint is the canonical serialization live views are deduplicated by.
func (n Normalized) Fingerprint(collection string) string {
	// Select shadows the embedded map with its canonical string form.
	data, err := json.Marshal(struct {
		Collection string `json:"collection"`
		Normalized
		Select string `json:"select,omitempty"`
	}{collection, n, n.Select.String()})
	if err != nil {
		// Filter values come from decoded JSON or Go literals.
		return fmt.Sprintf("%s:%#v", collection, n)
	}
	return string(data)
}

// Digest is a short hash of a fingerprint for logs.
func Digest(fingerprint string) string {
	sum := blake3.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:8])
}

// StorageQuery is the projected query sent to the store.
func (n Normalized) StorageQuery(collection string) storage.Query {
	var sel map[string]int
	if len(n.Select) > 0 {
		sel = map[string]int(n.Select.Clone())
	}
	return storage.Query{
		Collection: collection,
		Filters:    n.Filters,
		Select:     sel,
		OrderBy:    n.OrderBy,
		Skip:       n.Skip,
		Limit:      n.Limit,
		Populate:   n.Populate,
	}
}

// MatchQuery re-tests membership of one document: same filter, no projection,
// no window.
func (n Normalized) MatchQuery(collection, id string) storage.Query {
	return storage.Query{
		Collection: collection,
		Filters:    n.Filters,
		IDs:        []string{id},
	}
}

// BackfillQuery fetches the document that moved into the last slot of the
// window after a removal.
func (n Normalized) BackfillQuery(collection string) storage.Query {
	q := n.StorageQuery(collection)
	q.Skip = n.Skip + n.Limit - 1
	q.Limit = 1
	return q
}

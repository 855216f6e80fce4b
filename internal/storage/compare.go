package storage

import (
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"livesync/pkg/model"
)

// Type brackets in the order MongoDB sorts mixed values. Missing fields sort
// together with null.
const (
	rankNull = iota + 1
	rankNumber
	rankString
	rankObject
	rankArray
	rankBinary
	rankBool
	rankDate
	rankOther
)

func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return rankNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber
	case string:
		return rankString
	case map[string]interface{}, model.Document:
		return rankObject
	case []interface{}:
		return rankArray
	case []byte:
		return rankBinary
	case bool:
		return rankBool
	case time.Time:
		return rankDate
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rankArray
	case reflect.Map:
		return rankObject
	}
	return rankOther
}

// CompareValues orders two field values the way the store does: first by type
// bracket, then numerically, lexically or temporally within the bracket.
// Returns -1, 0 or 1.
func CompareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}

	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		return compareNumbers(a, b)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankDate:
		return a.(time.Time).Compare(b.(time.Time))
	case rankBinary:
		return strings.Compare(string(a.([]byte)), string(b.([]byte)))
	case rankArray:
		return compareArrays(toSlice(a), toSlice(b))
	case rankObject:
		ma, _ := asMap(a)
		mb, _ := asMap(b)
		return compareObjects(ma, mb)
	}
	return 0
}

// CompareDocuments compares two documents lexicographically over a sort spec.
func CompareDocuments(a, b model.Document, orders []model.Order) int {
	for _, o := range orders {
		av, _ := LookupPath(a, o.Field)
		bv, _ := LookupPath(b, o.Field)
		c := CompareValues(av, bv)
		if o.Descending() {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// SortDocuments sorts in place; equal elements keep their relative order.
func SortDocuments(docs []model.Document, orders []model.Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return CompareDocuments(docs[i], docs[j], orders) < 0
	})
}

func compareNumbers(a, b interface{}) int {
	ai, aIsInt := toInt64(a)
	bi, bIsInt := toInt64(b)
	if aIsInt && bIsInt {
		return cmpInt(ai, bi)
	}
	af, bf := toFloat64(a), toFloat64(b)
	switch {
	case math.IsNaN(af) && math.IsNaN(bf):
		return 0
	case math.IsNaN(af):
		return -1
	case math.IsNaN(bf):
		return 1
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	}
	i, _ := toInt64(v)
	return float64(i)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toSlice(v interface{}) []interface{} {
	if s, ok := v.([]interface{}); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func compareArrays(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

func compareObjects(a, b map[string]interface{}) int {
	ak := sortedKeys(a)
	bk := sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := CompareValues(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(ak)), int64(len(bk)))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

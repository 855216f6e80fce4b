package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"livesync/pkg/model"
)

func TestCompareValues(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b interface{}
		want int
	}{
		{"null equal", nil, nil, 0},
		{"null before number", nil, 1, -1},
		{"number before string", 100, "a", -1},
		{"string before object", "z", map[string]interface{}{}, -1},
		{"object before array", map[string]interface{}{"a": 1}, []interface{}{}, -1},
		{"array before bool", []interface{}{1}, false, -1},
		{"bool before date", true, now, -1},
		{"int vs float", 2, 2.5, -1},
		{"float vs int equal", 3.0, int64(3), 0},
		{"large ints", int64(9007199254740993), int64(9007199254740992), 1},
		{"strings", "apple", "banana", -1},
		{"bools", true, false, 1},
		{"dates", now, now.Add(time.Second), -1},
		{"arrays", []interface{}{1, 2}, []interface{}{1, 3}, -1},
		{"array prefix", []interface{}{1}, []interface{}{1, 0}, -1},
		{"string slice", []string{"b"}, []interface{}{"a"}, 1},
		{"objects", map[string]interface{}{"a": 1}, model.Document{"a": 2}, -1},
		{"object keys", map[string]interface{}{"b": 1}, map[string]interface{}{"a": 5}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareValues(tt.a, tt.b))
			assert.Equal(t, -tt.want, CompareValues(tt.b, tt.a))
		})
	}
}

func TestCompareDocuments(t *testing.T) {
	orders := []model.Order{
		{Field: "team", Direction: model.Asc},
		{Field: "stats.health", Direction: model.Desc},
	}
	a := model.Document{"team": "blue", "stats": map[string]interface{}{"health": 10}}
	b := model.Document{"team": "blue", "stats": map[string]interface{}{"health": 20}}
	c := model.Document{"team": "red", "stats": map[string]interface{}{"health": 99}}
	missing := model.Document{"stats": map[string]interface{}{"health": 1}}

	assert.Equal(t, 1, CompareDocuments(a, b, orders))
	assert.Equal(t, -1, CompareDocuments(b, c, orders))
	assert.Equal(t, -1, CompareDocuments(missing, a, orders))
	assert.Equal(t, 0, CompareDocuments(a, a, orders))
	assert.Equal(t, 0, CompareDocuments(a, c, nil))
}

func TestSortDocuments_Stable(t *testing.T) {
	docs := []model.Document{
		{"id": "a", "n": 2},
		{"id": "b", "n": 1},
		{"id": "c", "n": 2},
		{"id": "d", "n": 1},
	}
	SortDocuments(docs, []model.Order{{Field: "n", Direction: model.Asc}})

	var got []string
	for _, d := range docs {
		got = append(got, d.GetID())
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
}

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/internal/authz"
	"livesync/internal/storage"
	"livesync/pkg/model"
)

func TestParseSort(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want []model.Order
	}{
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"string", "-health name", []model.Order{{Field: "health", Direction: model.Desc}, {Field: "name", Direction: model.Asc}}},
		{"list", []interface{}{"score"}, []model.Order{{Field: "score", Direction: model.Asc}}},
		{"strings", []string{"+a", "-b"}, []model.Order{{Field: "a", Direction: model.Asc}, {Field: "b", Direction: model.Desc}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSort(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSort_Invalid(t *testing.T) {
	for name, in := range map[string]interface{}{
		"non string entry": []interface{}{"a", 1},
		"number":           5,
		"empty field":      "-",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSort(in)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestDescriptor_NormalizeErrors(t *testing.T) {
	tests := map[string]Descriptor{
		"sort with count":   {Sort: "a", Count: true},
		"negative skip":     {Skip: -1},
		"negative limit":    {Limit: -2},
		"bad select":        {Select: "a -b"},
		"bad filter":        {Filters: model.Filters{{Field: "a", Op: "~"}}},
		"empty where field": {Where: map[string]interface{}{"": 1}},
		"findOne count":     {FindOne: true, Count: true},
		"bad populate":      {Populate: []storage.PopulateSpec{{Path: "a"}}},
	}
	for name, d := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := d.Normalize()
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestDescriptor_Normalize(t *testing.T) {
	d := Descriptor{
		Filters: model.Filters{{Field: "score", Op: model.OpGt, Value: 3}},
		Where:   map[string]interface{}{"status": "active"},
		Select:  "name score",
		Sort:    []interface{}{"-score"},
		Skip:    2,
		Limit:   5,
	}
	n, err := d.Normalize()
	require.NoError(t, err)

	assert.Equal(t, model.Filters{
		{Field: "score", Op: model.OpGt, Value: 3},
		{Field: "status", Op: model.OpEq, Value: "active"},
	}, n.Filters)
	assert.Equal(t, authz.Selection{"name": 1, "score": 1}, n.Select)
	assert.Equal(t, []model.Order{{Field: "score", Direction: model.Desc}}, n.OrderBy)

	one, err := Descriptor{FindOne: true, Limit: 10}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 1, one.Limit)
}

func TestFingerprint(t *testing.T) {
	a, err := Descriptor{
		Where:  map[string]interface{}{"b": 2, "a": 1},
		Select: map[string]interface{}{"x": 1, "y": true},
		Sort:   "-a",
		Limit:  3,
	}.Normalize()
	require.NoError(t, err)

	b, err := Descriptor{
		Filters: model.Filters{{Field: "a", Op: model.OpEq, Value: 1}},
		Where:   map[string]interface{}{"b": 2},
		Select:  "y x",
		Sort:    []string{"-a"},
		Limit:   3,
	}.Normalize()
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint("heroes"), b.Fingerprint("heroes"))
	assert.NotEqual(t, a.Fingerprint("heroes"), a.Fingerprint("villains"))

	// Count is an observer option.
	c := a
	c.Count = true
	assert.Equal(t, a.Fingerprint("heroes"), c.Fingerprint("heroes"))

	d := a
	d.Limit = 4
	assert.NotEqual(t, a.Fingerprint("heroes"), d.Fingerprint("heroes"))

	e, err := Descriptor{Select: "-y -x", Sort: "-a", Limit: 3}.Normalize()
	require.NoError(t, err)
	f, err := Descriptor{Select: map[string]interface{}{"x": 0, "y": false}, Sort: "-a", Limit: 3}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, e.Fingerprint("heroes"), f.Fingerprint("heroes"))
	assert.Contains(t, e.Fingerprint("heroes"), `"select":"-x -y"`)
	assert.NotEqual(t, a.Fingerprint("heroes"), e.Fingerprint("heroes"))

	assert.Len(t, Digest(a.Fingerprint("heroes")), 16)
	assert.Equal(t, Digest("x"), Digest("x"))
}

func TestNormalized_Queries(t *testing.T) {
	n, err := Descriptor{
		Where:  map[string]interface{}{"team": "red"},
		Select: "-secret",
		Sort:   "-health",
		Skip:   1,
		Limit:  2,
	}.Normalize()
	require.NoError(t, err)

	sq := n.StorageQuery("heroes")
	assert.Equal(t, "heroes", sq.Collection)
	assert.Equal(t, map[string]int{"secret": 0}, sq.Select)
	assert.Equal(t, 1, sq.Skip)
	assert.Equal(t, 2, sq.Limit)

	mq := n.MatchQuery("heroes", "h1")
	assert.Equal(t, []string{"h1"}, mq.IDs)
	assert.Nil(t, mq.Select)
	assert.Zero(t, mq.Limit)
	assert.Equal(t, n.Filters, mq.Filters)

	bq := n.BackfillQuery("heroes")
	assert.Equal(t, 2, bq.Skip)
	assert.Equal(t, 1, bq.Limit)
	assert.Equal(t, n.OrderBy, bq.OrderBy)
}

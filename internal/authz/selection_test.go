package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/internal/schema"
	"livesync/pkg/model"
)

var testPolicy = schema.Policy{
	"secret": {schema.Read: 20, schema.Update: 30},
	"notes":  {schema.Read: 5},
	"name":   {schema.Update: 50},
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Selection
	}{
		{"nil", nil, Selection{}},
		{"string inclusion", "name score", Selection{"name": 1, "score": 1}},
		{"string exclusion", "-secret -notes", Selection{"secret": 0, "notes": 0}},
		{"string id exclusion", "name -id", Selection{"name": 1, "id": 0}},
		{"map numbers", map[string]interface{}{"a": 1.0, "b": true}, Selection{"a": 1, "b": 1}},
		{"map ints", map[string]int{"a": 0}, Selection{"a": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelection(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSelection_Invalid(t *testing.T) {
	for name, in := range map[string]interface{}{
		"mixed":      "a -b",
		"bad value":  map[string]interface{}{"a": "yes"},
		"bad type":   42,
		"empty name": "-",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSelection(in)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestNarrowSelection(t *testing.T) {
	tests := []struct {
		name  string
		sel   Selection
		level int
		want  Selection
	}{
		{"empty low level", nil, 0, Selection{"secret": 0, "notes": 0}},
		{"empty high level", Selection{}, 30, Selection{}},
		{"exclusion kept", Selection{"notes": 0}, 10, Selection{"notes": 0, "secret": 0}},
		{"inclusion drops denied", Selection{"name": 1, "secret": 1}, 10, Selection{"name": 1}},
		{"inclusion drops nested", Selection{"name": 1, "secret.key": 1}, 10, Selection{"name": 1}},
		{"inclusion emptied", Selection{"secret": 1}, 10, Selection{"id": 1}},
		{"inclusion allowed", Selection{"secret": 1}, 20, Selection{"secret": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NarrowSelection(tt.sel, testPolicy, tt.level, schema.Read)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNarrowSelection_Deterministic(t *testing.T) {
	sel := Selection{"-x": 0}
	a := NarrowSelection(sel, testPolicy, 0, schema.Read)
	b := NarrowSelection(sel, testPolicy, 0, schema.Read)
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, Selection{"-x": 0}, sel)
}

func TestNarrowSelection_IdentityNeverDenied(t *testing.T) {
	policy := schema.Policy{"id": {schema.Read: 100}}
	assert.Equal(t, Selection{}, NarrowSelection(nil, policy, 0, schema.Read))
}

func TestStripFields(t *testing.T) {
	doc := model.Document{"id": "1", "name": "kim", "secret": "s", "notes": "n"}

	low := StripFields(doc, testPolicy, schema.Read, 10)
	assert.Equal(t, model.Document{"id": "1", "name": "kim", "notes": "n"}, low)

	high := StripFields(doc, testPolicy, schema.Read, 30)
	assert.Equal(t, doc, high)

	patch := StripFields(model.Document{"name": "x", "secret": "y"}, testPolicy, schema.Update, 40)
	assert.Equal(t, model.Document{"secret": "y"}, patch)

	assert.Len(t, doc, 4)
	assert.Nil(t, StripFields(nil, testPolicy, schema.Read, 0))
}

func TestSelection_String(t *testing.T) {
	tests := []struct {
		sel  Selection
		want string
	}{
		{nil, ""},
		{Selection{"a": 1, "b": 0}, "a -b"},
		{Selection{"c": 0, "a": 0, "b": 0}, "-a -b -c"},
		{Selection{"name": 1, "age": 1}, "age name"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.sel.String())
	}
}

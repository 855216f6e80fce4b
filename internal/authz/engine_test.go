package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/internal/identity"
	"livesync/internal/schema"
	"livesync/pkg/model"
)

const rulesSchema = `
collections:
  heroes:
    permissions:
      update: 20
    rules:
      delete: "auth.level >= 100 || doc['owner'] == auth.id"
      create: "op == 'create' && auth.id != ''"
  plain:
    permissions:
      update: 5
`

func newTestEngine(t *testing.T) (*Engine, *schema.Schema) {
	t.Helper()
	s, err := schema.Parse([]byte(rulesSchema))
	require.NoError(t, err)
	e, err := NewEngine(s)
	require.NoError(t, err)
	return e, s
}

func TestEngine_Rules(t *testing.T) {
	e, s := newTestEngine(t)
	heroes, _ := s.Collection("heroes")
	doc := model.Document{"id": "h1", "owner": "u1"}

	assert.True(t, e.Allowed(identity.Identity{ID: "u1"}, schema.Delete, heroes, doc))
	assert.True(t, e.Allowed(identity.Identity{ID: "x", Level: 100}, schema.Delete, heroes, doc))
	assert.False(t, e.Allowed(identity.Identity{ID: "x", Level: 99}, schema.Delete, heroes, doc))

	assert.True(t, e.Allowed(identity.Identity{ID: "x"}, schema.Create, heroes, nil))
	assert.False(t, e.Allowed(identity.Identity{}, schema.Create, heroes, nil))

	// No rule: default policy.
	assert.False(t, e.Allowed(identity.Identity{ID: "x", Level: 10}, schema.Update, heroes, doc))
	assert.True(t, e.Allowed(identity.Identity{ID: "u1"}, schema.Update, heroes, model.Document{"id": "u1"}))
}

func TestEngine_RuleErrorDenies(t *testing.T) {
	e, s := newTestEngine(t)
	heroes, _ := s.Collection("heroes")

	// doc has no owner key and the caller is below 100.
	assert.False(t, e.Allowed(identity.Identity{ID: "x"}, schema.Delete, heroes, model.Document{"id": "h1"}))
}

func TestEngine_Authorize(t *testing.T) {
	e, s := newTestEngine(t)
	plain, _ := s.Collection("plain")

	err := e.Authorize(identity.Identity{ID: "x"}, schema.Update, plain, model.Document{"id": "d"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "plain/d")

	assert.NoError(t, e.Authorize(identity.Identity{ID: "x", Level: 5}, schema.Update, plain, model.Document{"id": "d"}))
}

func TestNewEngine_InvalidRule(t *testing.T) {
	s, err := schema.Parse([]byte("collections:\n  a:\n    rules:\n      read: \"auth.level >\"\n"))
	require.NoError(t, err)
	_, err = NewEngine(s)
	assert.ErrorIs(t, err, model.ErrValidation)
}

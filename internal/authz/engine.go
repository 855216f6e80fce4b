// Package authz decides who may read and write which documents and fields.
package authz

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"livesync/internal/identity"
	"livesync/internal/schema"
	"livesync/pkg/model"
)

// Engine applies per-collection rule overrides, written as CEL expressions over
// auth, doc and op, and falls back to CheckPermission where a collection has
// no rule for an operation.
type Engine struct {
	schema   *schema.Schema
	programs map[string]map[schema.Operation]cel.Program
}

func NewEngine(s *schema.Schema) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("auth", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("op", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	e := &Engine{
		schema:   s,
		programs: make(map[string]map[schema.Operation]cel.Program),
	}
	for name, coll := range s.Collections {
		for op, expr := range coll.Rules {
			ast, issues := env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				return nil, model.Validationf("collection %s: rule %s: %v", name, op, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("CEL program creation error: %w", err)
			}
			if e.programs[name] == nil {
				e.programs[name] = make(map[schema.Operation]cel.Program)
			}
			e.programs[name][op] = prg
		}
	}
	return e, nil
}

// Allowed reports whether caller may perform op. doc is the current document
// for read/update/delete and the incoming one for create; it may be nil.
func (e *Engine) Allowed(caller identity.Identity, op schema.Operation, coll *schema.Collection, doc model.Document) bool {
	prg, ok := e.programs[coll.Name][op]
	if !ok {
		return CheckPermission(caller, op, doc, coll)
	}

	input := map[string]interface{}{
		"auth": map[string]interface{}{"id": caller.ID, "level": caller.Level},
		"doc":  map[string]interface{}(doc),
		"op":   string(op),
	}
	if doc == nil {
		input["doc"] = map[string]interface{}{}
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		slog.Warn("[Warn][Authz] Rule evaluation failed", "collection", coll.Name, "op", op, "error", err)
		return false
	}
	allowed, _ := out.Value().(bool)
	return allowed
}

// Authorize is Allowed returning ErrPermissionDenied on refusal.
func (e *Engine) Authorize(caller identity.Identity, op schema.Operation, coll *schema.Collection, doc model.Document) error {
	if e.Allowed(caller, op, coll, doc) {
		return nil
	}
	if doc != nil && op != schema.Create {
		return model.PermissionDeniedf("%s on %s/%s", op, coll.Name, doc.GetID())
	}
	return model.PermissionDeniedf("%s on %s", op, coll.Name)
}

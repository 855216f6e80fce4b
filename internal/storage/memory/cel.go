package memory

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"livesync/pkg/model"
)

// matcher compiles filter sets into CEL programs and caches them by expression.
type matcher struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newMatcher() (*matcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &matcher{env: env, programs: make(map[string]cel.Program)}, nil
}

func (m *matcher) compile(filters model.Filters) (cel.Program, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	expr, err := filtersToExpression(filters)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	prg, ok := m.programs[expr]
	m.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err = m.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}

	m.mu.Lock()
	m.programs[expr] = prg
	m.mu.Unlock()
	return prg, nil
}

// matches evaluates prg against doc. A nil program matches everything and an
// evaluation error (missing key, type mismatch) counts as no match.
func matches(prg cel.Program, doc model.Document) bool {
	if prg == nil {
		return true
	}
	out, _, err := prg.Eval(map[string]interface{}{"doc": map[string]interface{}(doc)})
	if err != nil {
		return false
	}
	val, ok := out.Value().(bool)
	return ok && val
}

func filtersToExpression(filters model.Filters) (string, error) {
	exprs := make([]string, 0, len(filters))
	for _, f := range filters {
		e, err := filterToExpression(f)
		if err != nil {
			return "", err
		}
		exprs = append(exprs, "("+e+")")
	}
	return strings.Join(exprs, " && "), nil
}

func filterToExpression(f model.Filter) (string, error) {
	if !f.Validate() {
		return "", model.Validationf("invalid filter on %q", f.Field)
	}
	valStr, err := formatValue(f.Value)
	if err != nil {
		return "", err
	}

	parts := strings.Split(f.Field, ".")
	field := fieldAccess(parts)

	switch f.Op {
	case model.OpEq, model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		return fmt.Sprintf("%s %s %s", field, f.Op, valStr), nil
	case model.OpNe:
		// A missing field never equals anything.
		var guards []string
		for i := range parts {
			guards = append(guards, fmt.Sprintf("!(%s in %s)", strconv.Quote(parts[i]), fieldAccess(parts[:i])))
		}
		guards = append(guards, fmt.Sprintf("%s != %s", field, valStr))
		return strings.Join(guards, " || "), nil
	case model.OpIn:
		switch f.Value.(type) {
		case []interface{}, []string:
		default:
			return "", model.Validationf("operator in needs a list for %q", f.Field)
		}
		return fmt.Sprintf("%s in %s", field, valStr), nil
	case model.OpContains:
		return fmt.Sprintf("%s in %s", valStr, field), nil
	}
	return "", fmt.Errorf("unsupported operator: %s", f.Op)
}

func fieldAccess(parts []string) string {
	field := "doc"
	for _, p := range parts {
		field += "[" + strconv.Quote(p) + "]"
	}
	return field
}

func formatValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return strconv.Quote(val), nil
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", val), nil
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%du", val), nil
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	case bool:
		return strconv.FormatBool(val), nil
	case time.Time:
		return fmt.Sprintf("timestamp(%s)", strconv.Quote(val.UTC().Format(time.RFC3339Nano))), nil
	case []interface{}:
		items := make([]string, 0, len(val))
		for _, item := range val {
			s, err := formatValue(item)
			if err != nil {
				return "", err
			}
			items = append(items, s)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	case []string:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, strconv.Quote(item))
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	}
	return "", model.Validationf("unsupported filter value type: %T", v)
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", model.Validationf("unsupported filter value: %v", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s, nil
}

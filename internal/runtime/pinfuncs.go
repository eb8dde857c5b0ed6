package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/risor-io/risor/object"

	"github.com/jward/pinpoint/internal/pin"
	"github.com/jward/pinpoint/internal/store"
)

// pinCollector gathers the pins a convention script adds for one file.
type pinCollector struct {
	mu       sync.Mutex
	filename string
	pins     []*pin.Pin
}

func (c *pinCollector) add(p *pin.Pin) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins = append(c.pins, p)
	return len(c.pins) - 1
}

// makeAddPinFn creates the "add_pin" bridge. Risor scripts cannot construct
// Go struct pointers, so add_pin accepts a map of primitive values and
// builds the pin on the Go side.
//
// add_pin({kind, name, namespace, scope, visibility, return_type, docstring,
// parameters, superclass, signature, start_line, start_col, end_line,
// end_col}) → int
//
// kind defaults to "method". Namespace and method paths are derived from
// namespace, name and scope.
func makeAddPinFn(c *pinCollector) *object.Builtin {
	return object.NewBuiltin("add_pin", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("add_pin", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("add_pin: %v", err)
		}
		p, err := pinFromMap(c.filename, m)
		if err != nil {
			return object.Errorf("add_pin: %v", err)
		}
		return object.NewInt(int64(c.add(p)))
	})
}

func pinFromMap(filename string, m map[string]object.Object) (*pin.Pin, error) {
	name := getString(m, "name")
	if name == "" {
		return nil, errors.New("name is required")
	}
	kind, ok := pin.ParseKind(getStringDefault(m, "kind", "method"))
	if !ok || kind == pin.Virtual {
		return nil, errors.Newf("unsupported kind %q", getString(m, "kind"))
	}

	p := &pin.Pin{
		Kind:       kind,
		Name:       name,
		Namespace:  getString(m, "namespace"),
		ReturnType: getString(m, "return_type"),
		Scope:      pin.ParseScope(getString(m, "scope")),
		Visibility: pin.ParseVisibility(getString(m, "visibility")),
		Docstring:  pin.ParseDocstring(getString(m, "docstring")),
		Superclass: getString(m, "superclass"),
		Signature:  getString(m, "signature"),
		Parameters: getStrings(m, "parameters"),
		Location: pin.Location{
			Filename:  filename,
			StartLine: getInt(m, "start_line"),
			StartCol:  getInt(m, "start_col"),
			EndLine:   getInt(m, "end_line"),
			EndCol:    getInt(m, "end_col"),
		},
	}
	if p.Location.EndLine < p.Location.StartLine {
		p.Location.EndLine, p.Location.EndCol = p.Location.StartLine, p.Location.StartCol
	}

	switch kind {
	case pin.Namespace:
		p.Path = pin.JoinNamespace(p.Namespace, name)
		if p.ReturnType == "" {
			p.ReturnType = pin.NamespaceType(p.Path, getBool(m, "module"))
		}
	case pin.Method:
		p.Path = pin.MethodPath(p.Namespace, name, p.Scope)
		if p.ReturnType == "" {
			p.ReturnType = p.Docstring.ReturnType()
		}
	case pin.LocalVariable, pin.InstanceVariable, pin.ClassVariable, pin.GlobalVariable:
		if p.ReturnType == "" {
			p.ReturnType = p.Docstring.VariableType()
		}
	case pin.Block, pin.BlockParameter, pin.Virtual:
	}
	return p, nil
}

// makeSearchPinsFn creates the "search_pins" bridge over the stored
// workspace pins.
//
// search_pins(query[, limit]) → []map
func makeSearchPinsFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("search_pins", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("search_pins: expected 1 or 2 arguments, got %d", len(args))
		}
		query, err := toString(args[0])
		if err != nil {
			return object.Errorf("search_pins: %v", err)
		}
		limit := 0
		if len(args) == 2 {
			n, err := toInt64(args[1])
			if err != nil {
				return object.Errorf("search_pins: %v", err)
			}
			limit = int(n)
		}

		found, err := s.SearchPins(query, limit)
		if err != nil {
			return object.Errorf("search_pins: %v", err)
		}
		results := make([]object.Object, 0, len(found))
		for _, r := range found {
			results = append(results, object.NewMap(map[string]object.Object{
				"file": object.NewString(r.FilePath),
				"kind": object.NewString(r.Kind),
				"name": object.NewString(r.Name),
				"path": object.NewString(r.Path),
				"line": object.NewInt(int64(r.Line)),
				"col":  object.NewInt(int64(r.Col)),
			}))
		}
		return object.NewList(results)
	})
}

// makeDBQueryFn creates a db_query bridge that executes read-only SQL.
// Returns a list of maps (column name → value).
func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sqlStr)), "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		queryArgs := make([]any, 0, len(args)-1)
		for _, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.Int:
				queryArgs = append(queryArgs, v.Value())
			case *object.Float:
				queryArgs = append(queryArgs, v.Value())
			case *object.String:
				queryArgs = append(queryArgs, v.Value())
			case *object.Bool:
				queryArgs = append(queryArgs, v.Value())
			case *object.NilType:
				queryArgs = append(queryArgs, nil)
			default:
				queryArgs = append(queryArgs, arg.Inspect())
			}
		}

		rows, err := s.DB().QueryContext(ctx, sqlStr, queryArgs...)
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return object.Errorf("db_query: columns: %v", err)
		}

		results := []object.Object{}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		return object.NewList(results)
	})
}

// sqlValueToObject converts a database value to a Risor object.
func sqlValueToObject(v any) object.Object {
	switch val := v.(type) {
	case nil:
		return object.Nil
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}

// --- Map extraction helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, errors.Newf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	if s, ok := m[key].(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringDefault(m map[string]object.Object, key, def string) string {
	if v := getString(m, key); v != "" {
		return v
	}
	return def
}

func getStrings(m map[string]object.Object, key string) []string {
	l, ok := m[key].(*object.List)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range l.Value() {
		if s, ok := item.(*object.String); ok {
			out = append(out, s.Value())
		}
	}
	return out
}

func getInt(m map[string]object.Object, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	n, err := toInt64(v)
	if err != nil {
		return 0
	}
	return int(n)
}

func getBool(m map[string]object.Object, key string) bool {
	if b, ok := m[key].(*object.Bool); ok {
		return b.Value()
	}
	return false
}

func toInt64(obj object.Object) (int64, error) {
	switch v := obj.(type) {
	case *object.Int:
		return v.Value(), nil
	case *object.Float:
		return int64(v.Value()), nil
	}
	return 0, errors.Newf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", errors.Newf("expected string, got %s", obj.Type())
}

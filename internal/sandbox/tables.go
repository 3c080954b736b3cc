// Package sandbox serves an in-memory GigBase GraphQL endpoint that
// answers the same queries and mutations as the hosted Hasura schema.
// It backs the loader's tests and the `sandbox` command.
package sandbox

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type columnType int

const (
	textColumn columnType = iota
	uuidColumn
	dateColumn
	boolColumn
	intColumn
)

type column struct {
	name     string
	typ      columnType
	required bool

	// references names the table whose key this column must match
	references string
}

type table struct {
	name    string
	key     string
	columns []column

	// unique lists column sets that may not repeat across rows
	unique [][]string
}

func (t *table) column(name string) (column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

// Layout returns the tables of a schema variant ("simple" or "tagged")
func Layout(variant string) ([]*table, error) {
	var keyOf func(table string) string
	switch variant {
	case "simple":
		keyOf = func(string) string { return "id" }
	case "tagged":
		keyOf = func(name string) string {
			if name == "user_band" {
				return "id"
			}
			return name + "_id"
		}
	default:
		return nil, fmt.Errorf("unknown schema variant %q", variant)
	}

	tables := []*table{
		{
			name: "user",
			columns: []column{
				{name: "email", typ: textColumn, required: true},
				{name: "password", typ: textColumn},
			},
			unique: [][]string{{"email"}},
		},
		{
			name: "band",
			columns: []column{
				{name: "name", typ: textColumn, required: true},
				{name: "editableByOthers", typ: boolColumn},
				{name: "viewableByOthers", typ: boolColumn},
			},
			unique: [][]string{{"name"}},
		},
		{
			name: "user_band",
			columns: []column{
				{name: "user", typ: uuidColumn, required: true, references: "user"},
				{name: "band", typ: uuidColumn, required: true, references: "band"},
			},
			unique: [][]string{{"user", "band"}},
		},
		{
			name: "gig",
			columns: []column{
				{name: "date", typ: dateColumn, required: true},
				{name: "venue", typ: textColumn},
				{name: "recorded", typ: boolColumn},
				{name: "band", typ: uuidColumn, required: true, references: "band"},
			},
		},
		{
			name: "song",
			columns: []column{
				{name: "title", typ: textColumn, required: true},
				{name: "prehistory", typ: intColumn},
			},
			unique: [][]string{{"title"}},
		},
	}

	perf := &table{
		name: "performance",
		columns: []column{
			{name: "gig", typ: uuidColumn, required: true, references: "gig"},
			{name: "song", typ: uuidColumn, required: true, references: "song"},
		},
	}
	if variant == "simple" {
		perf.columns = append(perf.columns,
			column{name: "drumkit", typ: textColumn},
			column{name: "key", typ: textColumn},
		)
	}
	tables = append(tables, perf)

	if variant == "tagged" {
		tables = append(tables,
			&table{
				name: "tagclass",
				columns: []column{
					{name: "name", typ: textColumn, required: true},
					{name: "valueType", typ: textColumn, required: true},
				},
				unique: [][]string{{"name"}},
			},
			&table{
				name: "tag",
				columns: []column{
					{name: "performance", typ: uuidColumn, required: true, references: "performance"},
					{name: "tagclass", typ: uuidColumn, required: true, references: "tagclass"},
					{name: "value", typ: textColumn},
				},
			},
		)
	}

	for _, t := range tables {
		t.key = keyOf(t.name)
	}
	return tables, nil
}

// ConstraintError is an insert rejected by a table constraint
type ConstraintError struct {
	Code    string
	Message string
}

func (e *ConstraintError) Error() string { return e.Message }

// Extensions is rendered into the GraphQL error entry
func (e *ConstraintError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.Code}
}

// store holds every table's rows in insertion order
type store struct {
	mu     sync.Mutex
	tables map[string]*table
	rows   map[string][]map[string]interface{}
}

func newStore(tables []*table) *store {
	s := &store{
		tables: make(map[string]*table, len(tables)),
		rows:   make(map[string][]map[string]interface{}, len(tables)),
	}
	for _, t := range tables {
		s.tables[t.name] = t
	}
	return s
}

func (s *store) selectRows(name string, where map[string]interface{}) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]interface{}
	for _, row := range s.rows[name] {
		if matches(row, where) {
			out = append(out, copyRow(row))
		}
	}
	return out
}

// insert validates and stores all objects, or none of them
func (s *store) insert(name string, objects []map[string]interface{}) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tables[name]
	pending := make([]map[string]interface{}, 0, len(objects))
	for _, obj := range objects {
		row := map[string]interface{}{t.key: uuid.NewString()}
		for _, c := range t.columns {
			v, ok := obj[c.name]
			if !ok || v == nil {
				if c.required {
					return nil, &ConstraintError{
						Code:    "constraint-violation",
						Message: fmt.Sprintf("Not-NULL violation. null value in column %q violates not-null constraint", c.name),
					}
				}
				continue
			}
			if c.references != "" && !s.hasKey(c.references, v) {
				return nil, &ConstraintError{
					Code:    "constraint-violation",
					Message: fmt.Sprintf("Foreign key violation. insert on table %q violates foreign key constraint %s_%s_fkey", name, name, c.name),
				}
			}
			row[c.name] = v
		}

		for _, cols := range t.unique {
			if s.duplicates(name, cols, row, pending) {
				return nil, &ConstraintError{
					Code:    "constraint-violation",
					Message: fmt.Sprintf("Uniqueness violation. duplicate key value violates unique constraint %s_%s_key", name, cols[0]),
				}
			}
		}
		pending = append(pending, row)
	}

	s.rows[name] = append(s.rows[name], pending...)

	out := make([]map[string]interface{}, len(pending))
	for i, row := range pending {
		out[i] = copyRow(row)
	}
	return out, nil
}

func (s *store) hasKey(name string, id interface{}) bool {
	key := s.tables[name].key
	for _, row := range s.rows[name] {
		if equal(row[key], id) {
			return true
		}
	}
	return false
}

func (s *store) duplicates(name string, cols []string, row map[string]interface{}, pending []map[string]interface{}) bool {
	same := func(other map[string]interface{}) bool {
		for _, c := range cols {
			if !equal(other[c], row[c]) {
				return false
			}
		}
		return true
	}
	for _, other := range s.rows[name] {
		if same(other) {
			return true
		}
	}
	for _, other := range pending {
		if same(other) {
			return true
		}
	}
	return false
}

func (s *store) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[name])
}

func (s *store) dump(name string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]interface{}, len(s.rows[name]))
	for i, row := range s.rows[name] {
		out[i] = copyRow(row)
	}
	return out
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string][]map[string]interface{}, len(s.tables))
}

// matches evaluates a Hasura bool_exp supporting _and and _eq
func matches(row map[string]interface{}, where map[string]interface{}) bool {
	for field, cond := range where {
		if field == "_and" {
			subs, _ := cond.([]interface{})
			for _, sub := range subs {
				m, _ := sub.(map[string]interface{})
				if !matches(row, m) {
					return false
				}
			}
			continue
		}

		ops, _ := cond.(map[string]interface{})
		if want, ok := ops["_eq"]; ok && !equal(row[field], want) {
			return false
		}
	}
	return true
}

func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func copyRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

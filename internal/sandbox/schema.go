package sandbox

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

var uuidScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "uuid",
	Description: "A UUID in canonical text form",
	Serialize: func(value interface{}) interface{} {
		return fmt.Sprint(value)
	},
	ParseValue: func(value interface{}) interface{} {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		return parseUUID(s)
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		sv, ok := valueAST.(*ast.StringValue)
		if !ok {
			return nil
		}
		return parseUUID(sv.Value)
	},
})

var dateScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "date",
	Description: "A calendar date or timestamp string",
	Serialize: func(value interface{}) interface{} {
		return fmt.Sprint(value)
	},
	ParseValue: func(value interface{}) interface{} {
		s, ok := value.(string)
		if !ok || s == "" {
			return nil
		}
		return s
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		sv, ok := valueAST.(*ast.StringValue)
		if !ok || sv.Value == "" {
			return nil
		}
		return sv.Value
	},
})

func parseUUID(s string) interface{} {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return id.String()
}

func outputType(t columnType) graphql.Output {
	switch t {
	case uuidColumn:
		return uuidScalar
	case dateColumn:
		return dateScalar
	case boolColumn:
		return graphql.Boolean
	case intColumn:
		return graphql.Int
	default:
		return graphql.String
	}
}

func inputType(t columnType) graphql.Input {
	return outputType(t).(graphql.Input)
}

// comparisons holds one <type>_comparison_exp per column type
type comparisons map[columnType]*graphql.InputObject

func newComparisons() comparisons {
	c := make(comparisons)
	for _, t := range []columnType{textColumn, uuidColumn, dateColumn, boolColumn, intColumn} {
		in := inputType(t)
		c[t] = graphql.NewInputObject(graphql.InputObjectConfig{
			Name: in.Name() + "_comparison_exp",
			Fields: graphql.InputObjectConfigFieldMap{
				"_eq": &graphql.InputObjectFieldConfig{Type: in},
			},
		})
	}
	return c
}

// buildSchema generates query and mutation roots shaped like Hasura's:
// <table>(where: <table>_bool_exp) and insert_<table>(objects: [...]).
func buildSchema(tables []*table, st *store) (graphql.Schema, error) {
	cmp := newComparisons()
	queries := graphql.Fields{}
	mutations := graphql.Fields{}

	for _, t := range tables {
		t := t

		objFields := graphql.Fields{
			t.key: &graphql.Field{Type: graphql.NewNonNull(uuidScalar)},
		}
		insertFields := graphql.InputObjectConfigFieldMap{}
		for _, c := range t.columns {
			objFields[c.name] = &graphql.Field{Type: outputType(c.typ)}
			insertFields[c.name] = &graphql.InputObjectFieldConfig{Type: inputType(c.typ)}
		}

		obj := graphql.NewObject(graphql.ObjectConfig{Name: t.name, Fields: objFields})

		var boolExp *graphql.InputObject
		boolExp = graphql.NewInputObject(graphql.InputObjectConfig{
			Name: t.name + "_bool_exp",
			Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
				fields := graphql.InputObjectConfigFieldMap{
					"_and": &graphql.InputObjectFieldConfig{Type: graphql.NewList(graphql.NewNonNull(boolExp))},
					t.key:  &graphql.InputObjectFieldConfig{Type: cmp[uuidColumn]},
				}
				for _, c := range t.columns {
					fields[c.name] = &graphql.InputObjectFieldConfig{Type: cmp[c.typ]}
				}
				return fields
			}),
		})

		insertInput := graphql.NewInputObject(graphql.InputObjectConfig{
			Name:   t.name + "_insert_input",
			Fields: insertFields,
		})

		response := graphql.NewObject(graphql.ObjectConfig{
			Name: t.name + "_mutation_response",
			Fields: graphql.Fields{
				"affected_rows": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
				"returning":     &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(obj)))},
			},
		})

		queries[t.name] = &graphql.Field{
			Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(obj))),
			Args: graphql.FieldConfigArgument{
				"where": &graphql.ArgumentConfig{Type: boolExp},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				where, _ := p.Args["where"].(map[string]interface{})
				rows := st.selectRows(t.name, where)
				if rows == nil {
					rows = []map[string]interface{}{}
				}
				return rows, nil
			},
		}

		mutations["insert_"+t.name] = &graphql.Field{
			Type: response,
			Args: graphql.FieldConfigArgument{
				"objects": &graphql.ArgumentConfig{
					Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(insertInput))),
				},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				raw, _ := p.Args["objects"].([]interface{})
				objects := make([]map[string]interface{}, 0, len(raw))
				for _, o := range raw {
					m, _ := o.(map[string]interface{})
					objects = append(objects, m)
				}

				rows, err := st.insert(t.name, objects)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"affected_rows": len(rows),
					"returning":     rows,
				}, nil
			},
		}
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    graphql.NewObject(graphql.ObjectConfig{Name: "query_root", Fields: queries}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{Name: "mutation_root", Fields: mutations}),
	})
}

package graphql

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Document is a parsed single-operation GraphQL document
type Document struct {
	// Name is the operation name, empty for anonymous operations
	Name string

	// Operation is "query" or "mutation"
	Operation string

	// Text is the original document sent over the wire
	Text string
}

// Parse checks the syntax of a GraphQL document and extracts its operation.
// Documents must contain exactly one operation.
func Parse(text string) (*Document, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL document: %w", err)
	}

	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("GraphQL document must contain exactly one operation, found %d", len(doc.Operations))
	}

	op := doc.Operations[0]
	return &Document{
		Name:      op.Name,
		Operation: string(op.Operation),
		Text:      text,
	}, nil
}

// MustParse is like Parse but panics on error. Use it for documents that
// are compiled into the binary.
func MustParse(text string) *Document {
	doc, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return doc
}

// Label returns a name for logs and metrics
func (d *Document) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return "anonymous_" + d.Operation
}

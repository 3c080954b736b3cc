package graphql

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantName  string
		wantOp    string
		wantLabel string
		wantErr   bool
	}{
		{
			name:      "named mutation",
			text:      `mutation insert_song($title: String!) { insert_song(objects: [{title: $title}]) { returning { id } } }`,
			wantName:  "insert_song",
			wantOp:    "mutation",
			wantLabel: "insert_song",
		},
		{
			name:      "anonymous query",
			text:      `query { band(where: {name: {_eq: "Leadbone"}}) { id } }`,
			wantOp:    "query",
			wantLabel: "anonymous_query",
		},
		{
			name:    "syntax error",
			text:    `query { band(where: {name: {_eq: "Leadbone"}} { id } }`,
			wantErr: true,
		},
		{
			name:    "two operations",
			text:    `query a { x } query b { y }`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if doc.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", doc.Name, tt.wantName)
			}
			if doc.Operation != tt.wantOp {
				t.Errorf("Operation = %q, want %q", doc.Operation, tt.wantOp)
			}
			if doc.Label() != tt.wantLabel {
				t.Errorf("Label() = %q, want %q", doc.Label(), tt.wantLabel)
			}
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse should panic on invalid documents")
		}
	}()
	MustParse(`mutation {`)
}

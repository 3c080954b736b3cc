// Package schema adapts the loader's find-or-create operations to one of
// the GigBase GraphQL schema variants.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/model"
	"github.com/franz/gigbase-loader/internal/util"
)

// Variant names a schema variant
type Variant string

const (
	// Simple stores drum kit and key as columns of performance
	Simple Variant = "simple"

	// Tagged stores drum kit and key as tag rows of a tag class
	Tagged Variant = "tagged"
)

// Variants lists the supported variants
var Variants = []Variant{Simple, Tagged}

// ParseVariant validates a variant name
func ParseVariant(name string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Variants {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: schema variant %q (want simple or tagged)", util.ErrUnsupported, name)
}

// Doer sends one GraphQL document and returns the "data" object
type Doer interface {
	Do(ctx context.Context, doc *graphql.Document, vars map[string]interface{}) (json.RawMessage, error)
}

// Ref identifies a resolved record and whether this call created it
type Ref struct {
	ID      string
	Created bool
}

// Written holds the ids created for one performance
type Written struct {
	PerformanceID string
	TagIDs        []string
}

// Session carries the identifiers resolved during setup into every
// per-row operation.
type Session struct {
	UserID       string
	BandID       string
	MembershipID string
	Venue        string

	// TagClasses maps tag class name to id (tagged variant only)
	TagClasses map[string]string
}

// TagClass returns the id of a tag class resolved during setup
func (s *Session) TagClass(name string) (string, error) {
	id, ok := s.TagClasses[name]
	if !ok {
		return "", fmt.Errorf("tag class %q was not resolved during setup", name)
	}
	return id, nil
}

// Adapter exposes the loader's operations for one schema variant.
// Ensure*/ResolveOrCreate* are find-or-create by natural key;
// WritePerformance always inserts.
type Adapter interface {
	Variant() Variant

	EnsureUser(ctx context.Context, email, password string) (Ref, error)
	EnsureBand(ctx context.Context, band model.Band) (Ref, error)
	EnsureMembership(ctx context.Context, userID, bandID string) (Ref, error)

	// TagClassNames lists the tag classes to resolve during setup
	TagClassNames() []string
	EnsureTagClass(ctx context.Context, name string) (Ref, error)

	ResolveOrCreateGig(ctx context.Context, s *Session, gig model.Gig) (Ref, error)
	ResolveOrCreateSong(ctx context.Context, song model.Song) (Ref, error)
	WritePerformance(ctx context.Context, s *Session, p model.Performance) (Written, error)
}

// New returns the adapter for variant
func New(variant Variant, client Doer) (Adapter, error) {
	switch variant {
	case Simple:
		return NewSimple(client), nil
	case Tagged:
		return NewTagged(client), nil
	default:
		return nil, fmt.Errorf("%w: schema variant %q", util.ErrUnsupported, variant)
	}
}

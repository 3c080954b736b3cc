package schema

import (
	"context"
	"fmt"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/model"
)

var simpleKeys = keys{
	User:        "id",
	Band:        "id",
	Membership:  "id",
	Gig:         "id",
	Song:        "id",
	Performance: "id",
}

var simpleInsertPerformance = graphql.MustParse(`
	mutation insert_performance($gig: uuid!, $song: uuid!, $drumkit: String!, $key: String!) {
		insert_performance(objects: [{gig: $gig, song: $song, drumkit: $drumkit, key: $key}]) {
			returning {
				id
			}
		}
	}`)

// SimpleAdapter writes drum kit and key as columns of performance
type SimpleAdapter struct {
	hasura
}

// NewSimple returns the adapter for the simple variant
func NewSimple(client Doer) *SimpleAdapter {
	return &SimpleAdapter{hasura{client: client, keys: simpleKeys, docs: buildDocuments(simpleKeys)}}
}

func (a *SimpleAdapter) Variant() Variant { return Simple }

// TagClassNames is empty: the simple variant has no tag classes
func (a *SimpleAdapter) TagClassNames() []string { return nil }

func (a *SimpleAdapter) EnsureTagClass(ctx context.Context, name string) (Ref, error) {
	return Ref{}, fmt.Errorf("simple schema has no tag class %q", name)
}

// WritePerformance inserts one performance row. It never checks for an
// existing performance of the same gig and song.
func (a *SimpleAdapter) WritePerformance(ctx context.Context, s *Session, p model.Performance) (Written, error) {
	id, err := a.insert(ctx, simpleInsertPerformance, map[string]interface{}{
		"gig":     p.GigID,
		"song":    p.SongID,
		"drumkit": p.DrumKit,
		"key":     p.Key,
	}, "performance", a.keys.Performance)
	if err != nil {
		return Written{}, err
	}
	return Written{PerformanceID: id}, nil
}

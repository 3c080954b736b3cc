package schema

import (
	"context"
	"fmt"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/model"
)

// Tables in the tagged variant key on <table>_id, except user_band
var taggedKeys = keys{
	User:        "user_id",
	Band:        "band_id",
	Membership:  "id",
	Gig:         "gig_id",
	Song:        "song_id",
	Performance: "performance_id",
	TagClass:    "tagclass_id",
	Tag:         "tag_id",
}

var (
	taggedFindTagClass = graphql.MustParse(`
		query tagclass($name: String!) {
			tagclass(where: {name: {_eq: $name}}) {
				tagclass_id
			}
		}`)

	taggedInsertTagClass = graphql.MustParse(`
		mutation insert_tagclass($name: String!, $valueType: String!) {
			insert_tagclass(objects: [{name: $name, valueType: $valueType}]) {
				returning {
					tagclass_id
				}
			}
		}`)

	taggedInsertPerformance = graphql.MustParse(`
		mutation insert_performance($gig: uuid!, $song: uuid!) {
			insert_performance(objects: [{gig: $gig, song: $song}]) {
				returning {
					performance_id
				}
			}
		}`)

	taggedInsertTag = graphql.MustParse(`
		mutation insert_tag($perf: uuid!, $tagClass: uuid!, $value: String!) {
			insert_tag(objects: [{performance: $perf, tagclass: $tagClass, value: $value}]) {
				returning {
					tag_id
				}
			}
		}`)
)

// TaggedAdapter writes drum kit and key as tag rows attached to the
// performance
type TaggedAdapter struct {
	hasura
}

// NewTagged returns the adapter for the tagged variant
func NewTagged(client Doer) *TaggedAdapter {
	return &TaggedAdapter{hasura{client: client, keys: taggedKeys, docs: buildDocuments(taggedKeys)}}
}

func (a *TaggedAdapter) Variant() Variant { return Tagged }

func (a *TaggedAdapter) TagClassNames() []string {
	return append([]string(nil), model.TagClasses...)
}

func (a *TaggedAdapter) EnsureTagClass(ctx context.Context, name string) (Ref, error) {
	return findOrCreate(
		func() (string, error) {
			return a.find(ctx, taggedFindTagClass, map[string]interface{}{"name": name}, "tagclass", a.keys.TagClass)
		},
		func() (string, error) {
			return a.insert(ctx, taggedInsertTagClass, map[string]interface{}{
				"name":      name,
				"valueType": model.TagValueType,
			}, "tagclass", a.keys.TagClass)
		},
	)
}

// WritePerformance inserts the performance, then one tag per tag class in
// model.TagClasses order. Nothing is deduplicated.
func (a *TaggedAdapter) WritePerformance(ctx context.Context, s *Session, p model.Performance) (Written, error) {
	if s == nil {
		return Written{}, fmt.Errorf("tagged performance needs a session")
	}

	// Resolve every class before writing so a missing one leaves no
	// orphaned performance behind.
	classIDs := make([]string, len(model.TagClasses))
	for i, name := range model.TagClasses {
		id, err := s.TagClass(name)
		if err != nil {
			return Written{}, graphql.Wrap(graphql.InvalidInput, taggedInsertTag.Label(), err)
		}
		classIDs[i] = id
	}

	perfID, err := a.insert(ctx, taggedInsertPerformance, map[string]interface{}{
		"gig":  p.GigID,
		"song": p.SongID,
	}, "performance", a.keys.Performance)
	if err != nil {
		return Written{}, err
	}

	w := Written{PerformanceID: perfID}
	attrs := p.Attributes()
	for i, name := range model.TagClasses {
		tagID, err := a.insert(ctx, taggedInsertTag, map[string]interface{}{
			"perf":     perfID,
			"tagClass": classIDs[i],
			"value":    attrs[name],
		}, "tag", a.keys.Tag)
		if err != nil {
			return w, err
		}
		w.TagIDs = append(w.TagIDs, tagID)
	}

	return w, nil
}

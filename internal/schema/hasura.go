package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/model"
	"github.com/franz/gigbase-loader/internal/util"
)

// keys names the primary-key field of each table in a variant
type keys struct {
	User        string
	Band        string
	Membership  string
	Gig         string
	Song        string
	Performance string
	TagClass    string
	Tag         string
}

// documents are the operations shared by every Hasura variant
type documents struct {
	findUser         *graphql.Document
	insertUser       *graphql.Document
	findBand         *graphql.Document
	insertBand       *graphql.Document
	findMembership   *graphql.Document
	insertMembership *graphql.Document
	findGig          *graphql.Document
	insertGig        *graphql.Document
	findSong         *graphql.Document
	insertSong       *graphql.Document
}

func buildDocuments(k keys) documents {
	return documents{
		findUser: graphql.MustParse(fmt.Sprintf(`
			query user($email: String!) {
				user(where: {email: {_eq: $email}}) {
					%s
				}
			}`, k.User)),
		insertUser: graphql.MustParse(fmt.Sprintf(`
			mutation insert_user($email: String!, $password: String!) {
				insert_user(objects: [{email: $email, password: $password}]) {
					returning {
						%s
					}
				}
			}`, k.User)),
		findBand: graphql.MustParse(fmt.Sprintf(`
			query band($name: String!) {
				band(where: {name: {_eq: $name}}) {
					%s
				}
			}`, k.Band)),
		insertBand: graphql.MustParse(fmt.Sprintf(`
			mutation insert_band($name: String!, $editableByOthers: Boolean!, $viewableByOthers: Boolean!) {
				insert_band(objects: [{
					name: $name,
					editableByOthers: $editableByOthers,
					viewableByOthers: $viewableByOthers
				}]) {
					returning {
						%s
					}
				}
			}`, k.Band)),
		findMembership: graphql.MustParse(fmt.Sprintf(`
			query user_band($user: uuid!, $band: uuid!) {
				user_band(where: {_and: [{user: {_eq: $user}}, {band: {_eq: $band}}]}) {
					%s
				}
			}`, k.Membership)),
		insertMembership: graphql.MustParse(fmt.Sprintf(`
			mutation insert_user_band($user: uuid!, $band: uuid!) {
				insert_user_band(objects: [{user: $user, band: $band}]) {
					returning {
						%s
					}
				}
			}`, k.Membership)),
		findGig: graphql.MustParse(fmt.Sprintf(`
			query gig($date: date!) {
				gig(where: {date: {_eq: $date}}) {
					%s
				}
			}`, k.Gig)),
		insertGig: graphql.MustParse(fmt.Sprintf(`
			mutation insert_gig($date: date!, $venue: String!, $recorded: Boolean!, $band: uuid!) {
				insert_gig(objects: [{date: $date, venue: $venue, recorded: $recorded, band: $band}]) {
					returning {
						%s
					}
				}
			}`, k.Gig)),
		findSong: graphql.MustParse(fmt.Sprintf(`
			query song($title: String!) {
				song(where: {title: {_eq: $title}}) {
					%s
				}
			}`, k.Song)),
		insertSong: graphql.MustParse(fmt.Sprintf(`
			mutation insert_song($title: String!, $prehistory: Int!) {
				insert_song(objects: [{title: $title, prehistory: $prehistory}]) {
					returning {
						%s
					}
				}
			}`, k.Song)),
	}
}

// hasura implements the operations both variants share
type hasura struct {
	client Doer
	keys   keys
	docs   documents
}

func (h *hasura) EnsureUser(ctx context.Context, email, password string) (Ref, error) {
	vars := map[string]interface{}{"email": email}
	return findOrCreate(
		func() (string, error) {
			return h.find(ctx, h.docs.findUser, vars, "user", h.keys.User)
		},
		func() (string, error) {
			return h.insert(ctx, h.docs.insertUser, map[string]interface{}{
				"email":    email,
				"password": password,
			}, "user", h.keys.User)
		},
	)
}

func (h *hasura) EnsureBand(ctx context.Context, band model.Band) (Ref, error) {
	return findOrCreate(
		func() (string, error) {
			return h.find(ctx, h.docs.findBand, map[string]interface{}{"name": band.Name}, "band", h.keys.Band)
		},
		func() (string, error) {
			return h.insert(ctx, h.docs.insertBand, map[string]interface{}{
				"name":             band.Name,
				"editableByOthers": band.EditableByOthers,
				"viewableByOthers": band.ViewableByOthers,
			}, "band", h.keys.Band)
		},
	)
}

func (h *hasura) EnsureMembership(ctx context.Context, userID, bandID string) (Ref, error) {
	vars := map[string]interface{}{"user": userID, "band": bandID}
	return findOrCreate(
		func() (string, error) {
			return h.find(ctx, h.docs.findMembership, vars, "user_band", h.keys.Membership)
		},
		func() (string, error) {
			return h.insert(ctx, h.docs.insertMembership, vars, "user_band", h.keys.Membership)
		},
	)
}

func (h *hasura) ResolveOrCreateGig(ctx context.Context, s *Session, gig model.Gig) (Ref, error) {
	if s == nil || s.BandID == "" {
		return Ref{}, graphql.Errorf(graphql.InvalidInput, h.docs.insertGig.Label(), "band was not resolved during setup")
	}

	return findOrCreate(
		func() (string, error) {
			return h.find(ctx, h.docs.findGig, map[string]interface{}{"date": gig.Date}, "gig", h.keys.Gig)
		},
		func() (string, error) {
			return h.insert(ctx, h.docs.insertGig, map[string]interface{}{
				"date":     gig.Date,
				"venue":    gig.Venue,
				"recorded": gig.Recorded,
				"band":     s.BandID,
			}, "gig", h.keys.Gig)
		},
	)
}

func (h *hasura) ResolveOrCreateSong(ctx context.Context, song model.Song) (Ref, error) {
	return findOrCreate(
		func() (string, error) {
			return h.find(ctx, h.docs.findSong, map[string]interface{}{"title": song.Title}, "song", h.keys.Song)
		},
		func() (string, error) {
			return h.insert(ctx, h.docs.insertSong, map[string]interface{}{
				"title":      song.Title,
				"prehistory": song.Prehistory,
			}, "song", h.keys.Song)
		},
	)
}

// find runs a lookup whose data is {table: [{idField: ...}]}. An empty
// result is a NotFound error.
func (h *hasura) find(ctx context.Context, doc *graphql.Document, vars map[string]interface{}, table, idField string) (string, error) {
	data, err := h.client.Do(ctx, doc, vars)
	if err != nil {
		return "", err
	}

	var out map[string]*[]map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", graphql.Wrap(graphql.MalformedResponse, doc.Label(), err)
	}

	rows := out[table]
	if rows == nil {
		return "", graphql.Errorf(graphql.MalformedResponse, doc.Label(), "response is missing %q", table)
	}
	if len(*rows) == 0 {
		return "", &graphql.Error{Kind: graphql.NotFound, Op: doc.Label()}
	}
	if len(*rows) > 1 {
		util.WarnLog("%s matched %d rows, using the first", doc.Label(), len(*rows))
	}

	return idOf((*rows)[0], idField, doc.Label())
}

// insert runs a mutation whose data is
// {insert_table: {returning: [{idField: ...}]}}.
func (h *hasura) insert(ctx context.Context, doc *graphql.Document, vars map[string]interface{}, table, idField string) (string, error) {
	data, err := h.client.Do(ctx, doc, vars)
	if err != nil {
		return "", err
	}

	var out map[string]*struct {
		Returning *[]map[string]interface{} `json:"returning"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", graphql.Wrap(graphql.MalformedResponse, doc.Label(), err)
	}

	field := "insert_" + table
	res := out[field]
	if res == nil || res.Returning == nil {
		return "", graphql.Errorf(graphql.MalformedResponse, doc.Label(), "response is missing %s.returning", field)
	}
	if len(*res.Returning) == 0 {
		return "", graphql.Errorf(graphql.MalformedResponse, doc.Label(), "%s returned no rows", field)
	}

	return idOf((*res.Returning)[0], idField, doc.Label())
}

func idOf(row map[string]interface{}, field, op string) (string, error) {
	switch v := row[field].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", graphql.Errorf(graphql.MalformedResponse, op, "row has no usable %q", field)
}

// findOrCreate returns the found id, or creates the record when the lookup
// reports NotFound. Any other lookup error is returned as is.
func findOrCreate(find, create func() (string, error)) (Ref, error) {
	id, err := find()
	if err == nil {
		return Ref{ID: id}, nil
	}
	if !graphql.IsNotFound(err) {
		return Ref{}, err
	}

	id, err = create()
	if err != nil {
		return Ref{}, err
	}
	return Ref{ID: id, Created: true}, nil
}

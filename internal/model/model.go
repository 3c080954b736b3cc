// Package model holds the GigBase entities as the loader sees them and the
// pure conversions from raw spreadsheet values.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Defaults matching the band's own GigBase deployment
const (
	DefaultAdminEmail    = "neon@leadbone.com"
	DefaultAdminPassword = "changeme"
	DefaultBandName      = "Leadbone"
	DefaultVenue         = "Leadbone Studios"

	// GigTime is the wall-clock time every imported gig is pinned to
	GigTime = "19:00:00"

	// GigOffset is the fixed UTC offset of imported gig timestamps
	GigOffset = "-08:00"
)

// Tag class names used by the tagged schema variant
const (
	TagClassDrumKit = "DrumKit"
	TagClassKey     = "Key"

	// TagValueType is the value type of every tag class the loader creates
	TagValueType = "TEXT"
)

// TagClasses lists the tag classes resolved during setup, in creation order
var TagClasses = []string{TagClassDrumKit, TagClassKey}

// Identity is the fixed administrative user and band a run operates as
type Identity struct {
	AdminEmail    string
	AdminPassword string
	Band          Band
	Venue         string
}

// DefaultIdentity returns the identity used when nothing is configured
func DefaultIdentity() Identity {
	return Identity{
		AdminEmail:    DefaultAdminEmail,
		AdminPassword: DefaultAdminPassword,
		Band: Band{
			Name:             DefaultBandName,
			EditableByOthers: false,
			ViewableByOthers: true,
		},
		Venue: DefaultVenue,
	}
}

// Band is a band keyed by name. Visibility flags are only set at creation.
type Band struct {
	Name             string
	EditableByOthers bool
	ViewableByOthers bool
}

// Gig is an event keyed by its normalized date
type Gig struct {
	Date     string
	Venue    string
	Recorded bool
}

// Song is keyed by title. Prehistory is only written when the song is created.
type Song struct {
	Title      string
	Prehistory int
}

// Performance links a gig and a song with its auxiliary attributes
type Performance struct {
	GigID   string
	SongID  string
	DrumKit string
	Key     string
}

// Attributes returns the performance attributes keyed by tag class name
func (p Performance) Attributes() map[string]string {
	return map[string]string{
		TagClassDrumKit: p.DrumKit,
		TagClassKey:     p.Key,
	}
}

// NormalizeDate converts a YYYYMMDD string into the gig timestamp,
// e.g. "20161102" -> "2016-11-02T19:00:00-08:00".
func NormalizeDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 8 {
		return "", fmt.Errorf("date %q: expected 8 digits (YYYYMMDD)", raw)
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("date %q: expected 8 digits (YYYYMMDD)", raw)
		}
	}

	yr, mo, dy := raw[0:4], raw[4:6], raw[6:8]
	return fmt.Sprintf("%s-%s-%sT%s%s", yr, mo, dy, GigTime, GigOffset), nil
}

// Prehistory derives a song's prehistory from its recordings count.
// An empty count and counts of 0 or 1 all yield 0.
func Prehistory(recordings string) (int, error) {
	recordings = strings.TrimSpace(recordings)
	if recordings == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(recordings)
	if err != nil {
		return 0, fmt.Errorf("recordings %q: not an integer", recordings)
	}
	if n <= 1 {
		return 0, nil
	}
	return n - 1, nil
}

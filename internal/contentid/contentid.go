// Package contentid derives the stable identifier that joins a logical piece
// of content across every shard it may live in.
package contentid

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"reelhub/pkg/models"
)

var (
	ErrEmptyName   = errors.New("content name is required")
	ErrUnknownType = errors.New("content type must be movie, series or anime")
)

// Descriptor is the logical identity of a title or an episode. Season and
// Episode are ignored for movies and default to 1 otherwise.
type Descriptor struct {
	Type    models.ContentType
	Name    string
	Season  int
	Episode int
}

// Key is the normalised string that gets hashed.
func (d Descriptor) Key() string {
	base := string(d.Type) + ":" + d.Name
	if d.Type.Episodic() {
		base += fmt.Sprintf(":S%d:E%d", orOne(d.Season), orOne(d.Episode))
	}
	return strings.TrimSpace(strings.ToLower(base))
}

// Generate returns the 32 character hex identifier for d. It never fails;
// use Validate first where an empty name must not be accepted.
func Generate(d Descriptor) string {
	sum := md5.Sum([]byte(d.Key()))
	return hex.EncodeToString(sum[:])
}

// Validate reports descriptors whose identifiers would not be unique.
func Validate(d Descriptor) error {
	switch d.Type {
	case models.Movie, models.Series, models.Anime:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, d.Type)
	}
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// FromFields builds a descriptor from a stored record. The name falls back to
// the title field and season/episode accept numbers or numeric strings.
func FromFields(t models.ContentType, f models.Fields) Descriptor {
	name := f.String(models.FieldName)
	if name == "" {
		name = f.String(models.FieldTitle)
	}
	d := Descriptor{Type: t, Name: name}
	if s, ok := f.Int(models.FieldSeason); ok {
		d.Season = s
	}
	if e, ok := f.Int(models.FieldEpisode); ok {
		d.Episode = e
	}
	return d
}

// ForFields is Generate(FromFields(t, f)).
func ForFields(t models.ContentType, f models.Fields) string {
	return Generate(FromFields(t, f))
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

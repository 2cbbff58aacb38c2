// Package history keeps per-user watch history. A user's history lives in a
// shard named after them; entries are copied from the catalog the first time
// the user views a piece of content and only their playback position changes
// afterwards.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"reelhub/internal/catalog"
	"reelhub/internal/contentid"
	"reelhub/internal/recordstore"
	"reelhub/internal/shard"
	"reelhub/pkg/models"
)

// MaxScriptLength is the longest synopsis copied into a history record.
const MaxScriptLength = 1000

var (
	// ErrNoHistory means the user has no history shard yet.
	ErrNoHistory = fmt.Errorf("no history found: %w", recordstore.ErrNotFound)
	// ErrContentNotFound means no catalog holds the requested content id.
	ErrContentNotFound = fmt.Errorf("content not found: %w", recordstore.ErrNotFound)
	// ErrInvalidProgress rejects a negative playback position.
	ErrInvalidProgress = errors.New("leaving must be >= 0")
)

// Publisher receives history change notifications.
type Publisher interface {
	Publish(models.HistoryEvent)
}

// View is a history record, with the season tree attached for episodic
// content.
type View struct {
	Record  models.Record
	Type    models.ContentType
	Seasons []models.Season
	Created bool
}

// Flatten returns the record fields plus id, and seasons when present.
func (v View) Flatten() map[string]any {
	out := v.Record.Flatten()
	if v.Type.Episodic() && v.Seasons != nil {
		out["seasons"] = v.Seasons
	}
	return out
}

type Materializer struct {
	store    recordstore.Store
	selector *shard.Selector
	catalog  *catalog.Aggregator
	domain   models.Domain
	logger   *logrus.Logger
	events   Publisher
	now      func() time.Time
}

func NewMaterializer(store recordstore.Store, sel *shard.Selector, agg *catalog.Aggregator, d models.Domain, logger *logrus.Logger) *Materializer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Materializer{
		store:    store,
		selector: sel,
		catalog:  agg,
		domain:   d,
		logger:   logger,
		now:      time.Now,
	}
}

// SetPublisher wires change notifications. nil disables them.
func (m *Materializer) SetPublisher(p Publisher) {
	m.events = p
}

// List returns every record in the user's history shard.
func (m *Materializer) List(ctx context.Context, username string) ([]models.Record, error) {
	c, err := m.userShard(ctx, username)
	if err != nil {
		return nil, err
	}
	records, err := m.store.ListRecords(ctx, m.domain, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list history of %s: %w", username, err)
	}
	return records, nil
}

// Get returns the user's history record for contentID, copying it from the
// catalog on first view, with the season tree attached for series and anime.
func (m *Materializer) Get(ctx context.Context, username, contentID string) (View, error) {
	v, err := m.Materialize(ctx, username, contentID)
	if err != nil {
		return View{}, err
	}
	if !v.Type.Episodic() {
		return v, nil
	}

	name := v.Record.Fields.String(models.FieldName)
	seasons, err := m.catalog.Seasons(ctx, v.Type, name)
	if err != nil {
		return View{}, fmt.Errorf("seasons of %q: %w", name, err)
	}
	v.Seasons = seasons
	return v, nil
}

// Materialize makes sure the user's history holds a record for contentID
// and returns it. Repeated calls do not write again.
func (m *Materializer) Materialize(ctx context.Context, username, contentID string) (View, error) {
	c, err := m.userShard(ctx, username)
	if err != nil {
		return View{}, err
	}

	records, err := m.store.ListRecords(ctx, m.domain, c.ID)
	if err != nil {
		return View{}, fmt.Errorf("read history of %s: %w", username, err)
	}
	if rec, ok := findBy(records, models.FieldContentID, contentID); ok {
		return viewOf(rec, false), nil
	}

	item, err := m.catalog.FetchAnyByID(ctx, contentID)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) && !errors.Is(err, recordstore.ErrPartialFetch) {
			return View{}, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
		}
		return View{}, err
	}

	fields := m.copyFields(item, contentID)
	outcome, _, err := Upsert(ctx, m.store, m.domain, c.ID, models.FieldContentID, contentID, fields)
	if err != nil {
		return View{}, err
	}
	m.logger.WithFields(logrus.Fields{
		"username":  username,
		"contentid": contentID,
		"type":      item.Type,
		"outcome":   outcome.String(),
	}).Info("materialized history record")

	// re-read so the caller sees what the store actually persisted
	records, err = m.store.ListRecords(ctx, m.domain, c.ID)
	if err != nil {
		return View{}, fmt.Errorf("re-read history of %s: %w", username, err)
	}
	rec, ok := findBy(records, models.FieldContentID, contentID)
	if !ok {
		return View{}, fmt.Errorf("history record %s missing after write: %w", contentID, recordstore.ErrUpstreamUnavailable)
	}

	m.publish("history.create", username, contentID, 0)
	return viewOf(rec, true), nil
}

// Record adds an entry built from a client payload, deriving its content id
// from type, name, season and episode. The user's history shard is created
// when missing. Existing entries only take the payload's playback position.
func (m *Materializer) Record(ctx context.Context, username string, payload models.Fields) (Outcome, string, error) {
	t, ok := models.ParseContentType(payload.String(models.FieldType))
	if !ok {
		return Unchanged, "", fmt.Errorf("%w: %q", contentid.ErrUnknownType, payload.String(models.FieldType))
	}
	desc := contentid.FromFields(t, payload)
	if err := contentid.Validate(desc); err != nil {
		return Unchanged, "", err
	}
	id := contentid.Generate(desc)

	fields := m.entryFields(t, desc, payload, id)

	var outcome Outcome
	err := m.selector.WithWriteShard(ctx, m.domain, shard.HistoryPolicy(), username, func(h shard.Handle) error {
		var err error
		outcome, _, err = Upsert(ctx, m.store, m.domain, h.Collection.ID, models.FieldContentID, id, fields)
		return err
	})
	if err != nil {
		return Unchanged, "", err
	}

	leaving, _ := fields.Int(models.FieldLeaving)
	switch outcome {
	case Created:
		m.publish("history.create", username, id, leaving)
	case Patched:
		m.publish("history.update", username, id, leaving)
	}
	return outcome, id, nil
}

// UpdateProgress stores the playback position for contentID, materializing
// the entry first when the user has not viewed it yet.
func (m *Materializer) UpdateProgress(ctx context.Context, username, contentID string, leaving int) (View, error) {
	if leaving < 0 {
		return View{}, ErrInvalidProgress
	}
	v, err := m.Materialize(ctx, username, contentID)
	if err != nil {
		return View{}, err
	}

	c, err := m.userShard(ctx, username)
	if err != nil {
		return View{}, err
	}
	_, rec, err := Upsert(ctx, m.store, m.domain, c.ID, models.FieldContentID, contentID, models.Fields{
		models.FieldLeaving:     leaving,
		models.FieldLastWatched: m.timestamp(),
	})
	if err != nil {
		return View{}, err
	}

	m.publish("history.update", username, contentID, leaving)
	v.Record = rec
	return v, nil
}

func (m *Materializer) userShard(ctx context.Context, username string) (models.Collection, error) {
	if strings.TrimSpace(username) == "" {
		return models.Collection{}, fmt.Errorf("%w: empty username", ErrNoHistory)
	}
	c, err := m.selector.FindByName(ctx, m.domain, username)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			return models.Collection{}, fmt.Errorf("%w: %s", ErrNoHistory, username)
		}
		return models.Collection{}, err
	}
	return c, nil
}

// copyFields turns a catalog record into a new history record.
func (m *Materializer) copyFields(item catalog.Item, contentID string) models.Fields {
	src := item.Record.Fields
	fields := src.Clone()
	delete(fields, "id")

	if fields.String(models.FieldImageURL) == "" {
		if alt := src.String(models.FieldImageURLAlt); alt != "" {
			fields[models.FieldImageURL] = alt
		}
	}
	if item.Type.Episodic() {
		fields[models.FieldSeason] = catalog.SeasonNumber(src)
		fields[models.FieldEpisode] = catalog.EpisodeNumber(src)
		fields[models.FieldEpisodeName] = catalog.ResolveEpisodeName(src)
		fields[models.FieldEpisodeImageURL] = catalog.ResolveEpisodeImage(src)
	}
	fields[models.FieldContentID] = contentID
	fields[models.FieldType] = string(item.Type)
	fields[models.FieldLastWatched] = m.timestamp()
	fields[models.FieldLeaving] = 0

	return m.fit(fields)
}

// entryFields builds a history record from a client payload.
func (m *Materializer) entryFields(t models.ContentType, desc contentid.Descriptor, payload models.Fields, id string) models.Fields {
	fields := models.Fields{}
	for _, k := range []string{
		models.FieldCategory, models.FieldTotalSeason, models.FieldQuality,
		models.FieldLanguages, models.FieldEpisodeName, models.FieldEpisodeImageURL,
	} {
		if v, ok := payload[k]; ok && v != nil {
			fields[k] = v
		}
	}
	for _, k := range models.PlaybackFields() {
		if v, ok := payload[k]; ok && v != nil {
			fields[k] = v
		}
	}

	fields[models.FieldName] = desc.Name
	if img := catalog.Resolve(payload, models.FieldImageURL, models.FieldImageURLAlt); img != "" {
		fields[models.FieldImageURL] = img
	}
	if s := payload.String(models.FieldScript); s != "" {
		fields[models.FieldScript] = s
	}
	if t.Episodic() {
		fields[models.FieldSeason] = catalog.SeasonNumber(payload)
		fields[models.FieldEpisode] = catalog.EpisodeNumber(payload)
	}
	fields[models.FieldType] = string(t)
	fields[models.FieldContentID] = id

	leaving, ok := payload.Int(models.FieldLeaving)
	if !ok || leaving < 0 {
		leaving = 0
	}
	fields[models.FieldLeaving] = leaving

	if lw := payload.String(models.FieldLastWatched); lw != "" {
		fields[models.FieldLastWatched] = lw
	} else {
		fields[models.FieldLastWatched] = m.timestamp()
	}

	return m.fit(fields)
}

// fit truncates the synopsis, drops fields the history schema lacks and
// coerces values to the schema's column types.
func (m *Materializer) fit(fields models.Fields) models.Fields {
	if s := fields.String(models.FieldScript); utf8.RuneCountInString(s) > MaxScriptLength {
		fields[models.FieldScript] = string([]rune(s)[:MaxScriptLength])
	}

	out, dropped := recordstore.HistorySchema.Sanitize(fields)
	if len(dropped) > 0 {
		sort.Strings(dropped)
		m.logger.WithField("fields", dropped).Warn("dropped catalog fields unknown to history schema")
	}

	for _, col := range recordstore.HistorySchema {
		v, ok := out[col.Name]
		if !ok || v == nil {
			continue
		}
		if col.Type == "number" {
			if n, ok := out.Int(col.Name); ok {
				out[col.Name] = n
			} else {
				delete(out, col.Name)
			}
			continue
		}
		if _, isString := v.(string); !isString {
			out[col.Name] = out.String(col.Name)
		}
	}
	return out
}

func (m *Materializer) timestamp() string {
	return m.now().UTC().Format(time.RFC3339)
}

func (m *Materializer) publish(kind, username, contentID string, leaving int) {
	if m.events == nil {
		return
	}
	m.events.Publish(models.HistoryEvent{
		Type:      kind,
		Username:  username,
		ContentID: contentID,
		Leaving:   leaving,
		At:        m.timestamp(),
	})
}

func viewOf(rec models.Record, created bool) View {
	t, _ := models.ParseContentType(rec.Fields.String(models.FieldType))
	return View{Record: rec, Type: t, Created: created}
}

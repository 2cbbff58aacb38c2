package recordstore

import (
	"context"
	"fmt"
	"sync"

	"reelhub/pkg/models"
)

// MemStore is an in-process Store. It follows the remote store's rules
// (unique collection names per workspace, schema-checked writes on
// provisioned collections) and is used by tests and local demos.
type MemStore struct {
	mu         sync.Mutex
	seq        int
	workspaces map[string][]*memCollection
	byID       map[string]*memCollection
	listErrs   map[string]error
	createErrs map[string]error
	calls      map[string]int
}

type memCollection struct {
	id      string
	name    string
	schema  Schema
	records []models.Record
}

func NewMemStore() *MemStore {
	return &MemStore{
		workspaces: make(map[string][]*memCollection),
		byID:       make(map[string]*memCollection),
		listErrs:   make(map[string]error),
		createErrs: make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (m *MemStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%06d", prefix, m.seq)
}

// Seed adds a schema-less collection holding the given records and returns
// its id.
func (m *MemStore) Seed(d models.Domain, name string, records ...models.Fields) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &memCollection{id: m.nextID("app"), name: name}
	for _, f := range records {
		c.records = append(c.records, models.Record{ID: m.nextID("rec"), Fields: f.Clone()})
	}
	m.workspaces[d.WorkspaceID] = append(m.workspaces[d.WorkspaceID], c)
	m.byID[c.id] = c
	return c.id
}

// FailListRecords makes every ListRecords call on the collection return err.
func (m *MemStore) FailListRecords(collectionID string, err error) {
	m.mu.Lock()
	m.listErrs[collectionID] = err
	m.mu.Unlock()
}

// FailCreateCollection makes CreateCollection for the given name return err.
// A nil err clears the failure.
func (m *MemStore) FailCreateCollection(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.createErrs, name)
		return
	}
	m.createErrs[name] = err
}

// Calls returns how many times the named operation ran ("list collections",
// "list records", "create record", "patch record", "create collection").
func (m *MemStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Collections returns the collection names of a workspace in creation order.
func (m *MemStore) Collections(d models.Domain) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, c := range m.workspaces[d.WorkspaceID] {
		names = append(names, c.name)
	}
	return names
}

func (m *MemStore) ListCollections(_ context.Context, d models.Domain) ([]models.Collection, error) {
	const op = "list collections"
	if err := checkDomain(op, d); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++

	out := make([]models.Collection, 0, len(m.workspaces[d.WorkspaceID]))
	for _, c := range m.workspaces[d.WorkspaceID] {
		out = append(out, models.Collection{ID: c.id, Name: c.name})
	}
	return out, nil
}

func (m *MemStore) ListRecords(_ context.Context, d models.Domain, collectionID string) ([]models.Record, error) {
	const op = "list records"
	if err := checkDomain(op, d); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++

	if err, ok := m.listErrs[collectionID]; ok {
		return nil, err
	}
	c, ok := m.byID[collectionID]
	if !ok {
		return nil, newError(ErrNotFound, op, 404, "collection "+collectionID, nil)
	}
	out := make([]models.Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, models.Record{ID: r.ID, CreatedTime: r.CreatedTime, Fields: r.Fields.Clone()})
	}
	return out, nil
}

func (m *MemStore) CreateRecord(_ context.Context, d models.Domain, collectionID string, fields models.Fields) (models.Record, error) {
	const op = "create record"
	if err := checkDomain(op, d); err != nil {
		return models.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++

	c, ok := m.byID[collectionID]
	if !ok {
		return models.Record{}, newError(ErrNotFound, op, 404, "collection "+collectionID, nil)
	}
	if err := c.check(op, fields); err != nil {
		return models.Record{}, err
	}
	rec := models.Record{ID: m.nextID("rec"), Fields: fields.Clone()}
	c.records = append(c.records, rec)
	return models.Record{ID: rec.ID, Fields: rec.Fields.Clone()}, nil
}

func (m *MemStore) PatchRecord(_ context.Context, d models.Domain, collectionID, recordID string, fields models.Fields) (models.Record, error) {
	const op = "patch record"
	if err := checkDomain(op, d); err != nil {
		return models.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++

	c, ok := m.byID[collectionID]
	if !ok {
		return models.Record{}, newError(ErrNotFound, op, 404, "collection "+collectionID, nil)
	}
	if err := c.check(op, fields); err != nil {
		return models.Record{}, err
	}
	for i := range c.records {
		if c.records[i].ID != recordID {
			continue
		}
		for k, v := range fields {
			c.records[i].Fields[k] = v
		}
		return models.Record{ID: recordID, Fields: c.records[i].Fields.Clone()}, nil
	}
	return models.Record{}, newError(ErrNotFound, op, 404, "record "+recordID, nil)
}

func (m *MemStore) CreateCollection(_ context.Context, d models.Domain, name string, schema Schema) (models.Collection, error) {
	const op = "create collection"
	if err := checkDomain(op, d); err != nil {
		return models.Collection{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++

	if err, ok := m.createErrs[name]; ok {
		return models.Collection{}, err
	}
	for _, c := range m.workspaces[d.WorkspaceID] {
		if c.name == name {
			return models.Collection{}, newError(ErrUpstreamRejected, op, 409, "collection name "+name+" already taken", nil)
		}
	}
	c := &memCollection{id: m.nextID("app"), name: name, schema: schema}
	m.workspaces[d.WorkspaceID] = append(m.workspaces[d.WorkspaceID], c)
	m.byID[c.id] = c
	return models.Collection{ID: c.id, Name: c.name}, nil
}

func (c *memCollection) check(op string, fields models.Fields) error {
	return checkSchema(op, c.schema, fields)
}

// Package shard picks the physical collection a write should land in.
//
// Capacity-keyed domains (accounts) fill shards in listing order and grow by
// provisioning a new shard once every existing one is full. Identity-keyed
// domains (history) map one shard to one name, created on first use.
//
// Selection is read-then-write with no distributed lock. Two processes may
// both provision a new shard or both pick the same nearly-full shard; the
// store's per-write atomicity bounds the damage to mild over-provisioning.
// Within one process, WithWriteShard serialises selection and the caller's
// write per domain when the Selector is built with serialize=true.
package shard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

// DefaultCapacity is the record cap the store enforces per collection.
const DefaultCapacity = 1000

type Kind int

const (
	// ByCapacity selects the first shard with spare room.
	ByCapacity Kind = iota
	// ByName selects the shard named exactly like the requested name.
	ByName
)

// Policy describes how a domain's shards are chosen and provisioned.
type Policy struct {
	Kind     Kind
	Prefix   string // ByCapacity: only shards whose name contains Prefix, and new shard names
	Capacity int
	Schema   recordstore.Schema

	// Visit, when set on a ByCapacity policy, is called with every listed
	// shard and its records before selection completes. Returning an error
	// aborts selection; the error is returned unchanged.
	Visit func(models.Collection, []models.Record) error
}

// AccountPolicy returns the capacity policy for account shards.
func AccountPolicy(capacity int) Policy {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return Policy{Kind: ByCapacity, Prefix: "account", Capacity: capacity, Schema: recordstore.AccountSchema}
}

// CatalogPolicy returns the capacity policy used when loading catalog
// records. Every shard in the workspace is a candidate.
func CatalogPolicy(capacity int) Policy {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return Policy{Kind: ByCapacity, Capacity: capacity, Schema: recordstore.CatalogSchema}
}

// HistoryPolicy returns the identity policy for per-user history shards.
func HistoryPolicy() Policy {
	return Policy{Kind: ByName, Schema: recordstore.HistorySchema}
}

// Handle is the selected shard.
type Handle struct {
	Collection models.Collection
	Created    bool
	// Records holds the shard contents read during selection. It is nil when
	// the shard was found by name or freshly created.
	Records []models.Record
}

type Selector struct {
	store     recordstore.Store
	logger    *logrus.Logger
	serialize bool
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSelector(store recordstore.Store, logger *logrus.Logger, serialize bool) *Selector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Selector{
		store:     store,
		logger:    logger,
		serialize: serialize,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// FindByName returns the shard named exactly name, or recordstore.ErrNotFound.
func (s *Selector) FindByName(ctx context.Context, d models.Domain, name string) (models.Collection, error) {
	cols, err := s.store.ListCollections(ctx, d)
	if err != nil {
		return models.Collection{}, fmt.Errorf("find shard %q: %w", name, err)
	}
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return models.Collection{}, fmt.Errorf("shard %q in domain %s: %w", name, d.Name, recordstore.ErrNotFound)
}

// SelectOrCreateWriteShard returns a shard the next write may go to,
// provisioning one when needed. desiredName is required for ByName policies
// and ignored otherwise.
func (s *Selector) SelectOrCreateWriteShard(ctx context.Context, d models.Domain, p Policy, desiredName string) (Handle, error) {
	switch p.Kind {
	case ByName:
		return s.selectByName(ctx, d, p, desiredName)
	default:
		return s.selectByCapacity(ctx, d, p)
	}
}

// WithWriteShard selects a shard and runs write against it. When the
// selector serialises, no other WithWriteShard call for the same domain runs
// in this process until write returns.
func (s *Selector) WithWriteShard(ctx context.Context, d models.Domain, p Policy, desiredName string, write func(Handle) error) error {
	if s.serialize {
		unlock := s.lock(d)
		defer unlock()
	}
	h, err := s.SelectOrCreateWriteShard(ctx, d, p, desiredName)
	if err != nil {
		return err
	}
	return write(h)
}

func (s *Selector) lock(d models.Domain) func() {
	key := string(d.Name) + "/" + d.WorkspaceID
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Selector) selectByName(ctx context.Context, d models.Domain, p Policy, name string) (Handle, error) {
	if strings.TrimSpace(name) == "" {
		return Handle{}, fmt.Errorf("select shard in %s: shard name required", d.Name)
	}

	c, err := s.FindByName(ctx, d, name)
	if err == nil {
		return Handle{Collection: c}, nil
	}
	if !isNotFound(err) {
		return Handle{}, err
	}

	created, err := s.store.CreateCollection(ctx, d, name, p.Schema)
	if err != nil {
		return Handle{}, fmt.Errorf("provision shard %q: %w", name, err)
	}
	s.logger.WithFields(logrus.Fields{
		"domain": d.Name,
		"shard":  created.Name,
	}).Info("provisioned named shard")
	return Handle{Collection: created, Created: true}, nil
}

func (s *Selector) selectByCapacity(ctx context.Context, d models.Domain, p Policy) (Handle, error) {
	capacity := p.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	cols, err := s.store.ListCollections(ctx, d)
	if err != nil {
		return Handle{}, fmt.Errorf("select shard in %s: %w", d.Name, err)
	}

	var (
		picked Handle
		found  bool
	)
	for _, c := range cols {
		if p.Prefix != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(p.Prefix)) {
			continue
		}
		// without a visitor there is nothing left to learn once a shard qualifies
		if found && p.Visit == nil {
			break
		}

		records, err := s.store.ListRecords(ctx, d, c.ID)
		if err != nil {
			return Handle{}, fmt.Errorf("select shard in %s: shard %s: %w", d.Name, c.Name, err)
		}
		if p.Visit != nil {
			if err := p.Visit(c, records); err != nil {
				return Handle{}, err
			}
		}
		if !found && len(records) < capacity {
			picked = Handle{Collection: c, Records: records}
			found = true
		}
	}
	if found {
		s.logger.WithFields(logrus.Fields{
			"domain":  d.Name,
			"shard":   picked.Collection.Name,
			"records": len(picked.Records),
		}).Debug("selected shard with spare capacity")
		return picked, nil
	}

	name := s.newShardName(p.Prefix)
	created, err := s.store.CreateCollection(ctx, d, name, p.Schema)
	if err != nil {
		return Handle{}, fmt.Errorf("provision shard %q: %w", name, err)
	}
	s.logger.WithFields(logrus.Fields{
		"domain":   d.Name,
		"shard":    created.Name,
		"capacity": capacity,
	}).Info("all shards full, provisioned a new one")
	return Handle{Collection: created, Created: true, Records: []models.Record{}}, nil
}

func (s *Selector) newShardName(prefix string) string {
	if prefix == "" {
		prefix = "shard"
	}
	return fmt.Sprintf("%s-%d-%s", prefix, s.now().UnixMilli(), uuid.NewString()[:8])
}

func isNotFound(err error) bool {
	return errors.Is(err, recordstore.ErrNotFound)
}

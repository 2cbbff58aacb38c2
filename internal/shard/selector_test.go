package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelhub/internal/recordstore"
	"reelhub/pkg/models"
)

var (
	accounts = models.Domain{Name: models.DomainAccount, APIKey: "k", WorkspaceID: "wspAccount"}
	history  = models.Domain{Name: models.DomainHistory, APIKey: "k", WorkspaceID: "wspHistory"}
)

func users(n int) []models.Fields {
	out := make([]models.Fields, n)
	for i := range out {
		out[i] = models.Fields{"username": fmt.Sprintf("user%d", i), "password": "x"}
	}
	return out
}

func TestSelectFirstShardWithCapacity(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(accounts, "account-1", users(3)...)
	second := store.Seed(accounts, "account-2", users(1)...)
	store.Seed(accounts, "account-3")

	sel := NewSelector(store, nil, false)
	h, err := sel.SelectOrCreateWriteShard(context.Background(), accounts, AccountPolicy(3), "")
	require.NoError(t, err)
	assert.Equal(t, second, h.Collection.ID)
	assert.False(t, h.Created)
	assert.Len(t, h.Records, 1)
	// stops scanning once a shard qualifies
	assert.Equal(t, 2, store.Calls("list records"))
}

func TestSelectNeverReturnsFullShard(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(accounts, "account-1", users(2)...)
	store.Seed(accounts, "account-2", users(2)...)

	sel := NewSelector(store, nil, false)
	h, err := sel.SelectOrCreateWriteShard(context.Background(), accounts, AccountPolicy(2), "")
	require.NoError(t, err)
	assert.True(t, h.Created)
	assert.Contains(t, h.Collection.Name, "account-")
	assert.Len(t, store.Collections(accounts), 3)
}

func TestSelectIgnoresShardsWithoutPrefix(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(accounts, "scratch")
	acct := store.Seed(accounts, "Account-main")

	sel := NewSelector(store, nil, false)
	h, err := sel.SelectOrCreateWriteShard(context.Background(), accounts, AccountPolicy(10), "")
	require.NoError(t, err)
	assert.Equal(t, acct, h.Collection.ID)
}

func TestVisitSeesEveryShard(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(accounts, "account-1", users(1)...)
	store.Seed(accounts, "account-2", models.Fields{"username": "alice"})

	var seen []string
	taken := errors.New("taken")
	p := AccountPolicy(10)
	p.Visit = func(c models.Collection, recs []models.Record) error {
		seen = append(seen, c.Name)
		for _, r := range recs {
			if r.Fields.String("username") == "alice" {
				return taken
			}
		}
		return nil
	}

	sel := NewSelector(store, nil, false)
	_, err := sel.SelectOrCreateWriteShard(context.Background(), accounts, p, "")
	assert.ErrorIs(t, err, taken)
	assert.Equal(t, []string{"account-1", "account-2"}, seen)
}

func TestSelectByNameCreatesOnce(t *testing.T) {
	store := recordstore.NewMemStore()
	sel := NewSelector(store, nil, false)
	ctx := context.Background()

	h1, err := sel.SelectOrCreateWriteShard(ctx, history, HistoryPolicy(), "alice")
	require.NoError(t, err)
	assert.True(t, h1.Created)
	assert.Equal(t, "alice", h1.Collection.Name)

	h2, err := sel.SelectOrCreateWriteShard(ctx, history, HistoryPolicy(), "alice")
	require.NoError(t, err)
	assert.False(t, h2.Created)
	assert.Equal(t, h1.Collection.ID, h2.Collection.ID)

	// names are case-sensitive
	h3, err := sel.SelectOrCreateWriteShard(ctx, history, HistoryPolicy(), "Alice")
	require.NoError(t, err)
	assert.NotEqual(t, h1.Collection.ID, h3.Collection.ID)
}

func TestSelectByNameRequiresName(t *testing.T) {
	sel := NewSelector(recordstore.NewMemStore(), nil, false)
	_, err := sel.SelectOrCreateWriteShard(context.Background(), history, HistoryPolicy(), " ")
	assert.Error(t, err)
}

func TestProvisionFailurePropagates(t *testing.T) {
	store := recordstore.NewMemStore()
	rejected := &recordstore.Error{Kind: recordstore.ErrUpstreamRejected, Op: "create collection", Status: 409}
	store.FailCreateCollection("bob", rejected)

	sel := NewSelector(store, nil, false)
	_, err := sel.SelectOrCreateWriteShard(context.Background(), history, HistoryPolicy(), "bob")
	assert.ErrorIs(t, err, recordstore.ErrUpstreamRejected)
}

func TestFindByNameNotFound(t *testing.T) {
	sel := NewSelector(recordstore.NewMemStore(), nil, false)
	_, err := sel.FindByName(context.Background(), history, "ghost")
	assert.ErrorIs(t, err, recordstore.ErrNotFound)
}

func TestWithWriteShardSerialisesWithinProcess(t *testing.T) {
	store := recordstore.NewMemStore()
	store.Seed(accounts, "account-1")
	sel := NewSelector(store, nil, true)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- sel.WithWriteShard(ctx, accounts, AccountPolicy(3), "", func(h Handle) error {
				_, err := store.CreateRecord(ctx, accounts, h.Collection.ID, models.Fields{"username": fmt.Sprintf("u%d", i)})
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// 8 writes at capacity 3 need exactly 3 shards when serialised
	assert.Len(t, store.Collections(accounts), 3)
	cols, err := store.ListCollections(ctx, accounts)
	require.NoError(t, err)
	for _, c := range cols {
		recs, err := store.ListRecords(ctx, accounts, c.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(recs), 3)
	}
}

func TestCatalogPolicyProvisionsWithSchema(t *testing.T) {
	var created int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"bases":[]}`)
			return
		}
		atomic.AddInt32(&created, 1)
		var body struct {
			Tables []struct {
				Fields recordstore.Schema `json:"fields"`
			} `json:"tables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Tables, 1)
		assert.NotEmpty(t, body.Tables[0].Fields)
		assert.True(t, body.Tables[0].Fields.Has(models.FieldContentID))
		assert.True(t, body.Tables[0].Fields.Has(models.FieldName))
		_, _ = io.WriteString(w, `{"id":"appMovies"}`)
	}))
	defer srv.Close()

	client := recordstore.NewClientWithConfig(&recordstore.ClientConfig{
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		RetryDelay: time.Millisecond,
	})
	movies := models.Domain{Name: models.DomainMovies, APIKey: "k", WorkspaceID: "wspMovies"}

	h, err := NewSelector(client, nil, false).SelectOrCreateWriteShard(context.Background(), movies, CatalogPolicy(0), "")
	require.NoError(t, err)
	assert.True(t, h.Created)
	assert.Equal(t, "appMovies", h.Collection.ID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&created))
}

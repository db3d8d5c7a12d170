package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/smmpanel/internal/model"
	"github.com/mmeshcher/smmpanel/internal/provider"
	"github.com/mmeshcher/smmpanel/internal/repository"
)

type memRepo struct {
	mu        sync.Mutex
	services  map[string]model.Service
	nextID    int64
	reads     int
	// afterRead вызывается после снятия снимка, до возврата результата.
	afterRead func()
}

func newMemRepo() *memRepo {
	return &memRepo{services: map[string]model.Service{}}
}

func (r *memRepo) UpsertService(ctx context.Context, s *model.Service) (repository.UpsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.services[s.ExternalID]
	if !ok {
		r.nextID++
		c := *s
		c.ID = r.nextID
		r.services[s.ExternalID] = c
		return repository.UpsertInserted, nil
	}
	c := *s
	c.ID = cur.ID
	if cur.Name == c.Name && cur.Description == c.Description && cur.Category == c.Category &&
		cur.Platform == c.Platform && cur.Provider == c.Provider && cur.PricePer1000.Equal(c.PricePer1000) &&
		cur.MinQuantity == c.MinQuantity && cur.MaxQuantity == c.MaxQuantity && cur.IsActive == c.IsActive {
		return repository.UpsertUnchanged, nil
	}
	r.services[s.ExternalID] = c
	return repository.UpsertUpdated, nil
}

func (r *memRepo) GetActiveServices(ctx context.Context) ([]model.Service, error) {
	r.mu.Lock()
	r.reads++
	var res []model.Service
	for _, s := range r.services {
		if s.IsActive {
			res = append(res, s)
		}
	}
	hook := r.afterRead
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return res, nil
}

func (r *memRepo) SetServiceActive(ctx context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.services {
		if s.ID == id {
			s.IsActive = active
			r.services[k] = s
			return nil
		}
	}
	return repository.ErrNotFound
}

type stubGateway struct {
	services []provider.RemoteService
	err      error
}

func (g *stubGateway) ListServices(ctx context.Context) ([]provider.RemoteService, error) {
	return g.services, g.err
}

type mapCache struct {
	data    map[string][]byte
	failGet bool
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.failGet {
		return nil, false, errors.New("connection refused")
	}
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func remoteFixture() []provider.RemoteService {
	return []provider.RemoteService{
		{Service: "101", Name: "Instagram Followers", Type: "Default", Rate: "0.90", Min: "100", Max: "10000", Category: "Instagram", Provider: "A"},
		{Service: "102", Name: "TikTok Views", Rate: "0.05", Min: "50", Max: "1000000", Provider: "A"},
		{Service: "103", Name: "Broken rate", Rate: "0", Min: "10", Max: "100", Provider: "A"},
		{Service: "104", Name: "Broken range", Rate: "1.00", Min: "500", Max: "100", Provider: "B"},
		{Service: "101", Name: "Same id elsewhere", Rate: "0.50", Min: "10", Max: "100", Provider: "B"},
	}
}

func TestSync_MapsAndSkips(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, &stubGateway{services: remoteFixture()}, nil, 0, nil)

	res, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 5, Upserted: 2, Inserted: 2, Skipped: 3}, res)

	followers := repo.services["101"]
	assert.Equal(t, "Instagram Followers", followers.Description)
	assert.Equal(t, "Instagram", followers.Category)
	assert.Equal(t, "Default", followers.Platform)
	assert.Equal(t, "A", followers.Provider)
	assert.Equal(t, "0.9", followers.PricePer1000.String())
	assert.True(t, followers.IsActive)

	views := repo.services["102"]
	assert.Equal(t, "other", views.Category)
	assert.Equal(t, "instagram", views.Platform)
}

func TestSync_Idempotent(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, &stubGateway{services: remoteFixture()}, nil, 0, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	before := len(repo.services)

	res, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, len(repo.services))
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.Updated)
	assert.Equal(t, 2, res.Upserted)
}

func TestSync_UpdatesChangedRate(t *testing.T) {
	repo := newMemRepo()
	gw := &stubGateway{services: remoteFixture()}
	c := New(repo, gw, nil, 0, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	gw.services[0].Rate = "1.10"
	res, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "1.1", repo.services["101"].PricePer1000.String())
}

func TestSync_GatewayError(t *testing.T) {
	c := New(newMemRepo(), &stubGateway{err: provider.ErrNoProviderAvailable}, nil, 0, nil)

	_, err := c.Sync(context.Background())
	require.ErrorIs(t, err, provider.ErrNoProviderAvailable)
}

func TestListActive_ReadThroughCache(t *testing.T) {
	repo := newMemRepo()
	cache := &mapCache{data: map[string][]byte{}}
	c := New(repo, &stubGateway{services: remoteFixture()}, cache, time.Minute, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	first, err := c.ListActive(context.Background())
	require.NoError(t, err)
	second, err := c.ListActive(context.Background())
	require.NoError(t, err)

	assert.Len(t, first, 2)
	assert.Len(t, second, 2)
	assert.Equal(t, 1, repo.reads)

	require.NoError(t, c.SetActive(context.Background(), repo.services["102"].ID, false))
	third, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, third, 1)
	assert.Equal(t, 2, repo.reads)
}

func TestListActive_InvalidationDuringReadNotCached(t *testing.T) {
	repo := newMemRepo()
	cache := &mapCache{data: map[string][]byte{}}
	c := New(repo, &stubGateway{services: remoteFixture()}, cache, time.Minute, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	disabled := repo.services["102"].ID
	repo.afterRead = func() {
		repo.afterRead = nil
		require.NoError(t, c.SetActive(context.Background(), disabled, false))
	}

	stale, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, stale, 2)
	_, cached := cache.data[activeKey]
	assert.False(t, cached)

	fresh, err := c.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "101", fresh[0].ExternalID)
	assert.Equal(t, 2, repo.reads)

	_, cached = cache.data[activeKey]
	assert.True(t, cached)
}

func TestListActive_CacheFailureFallsThrough(t *testing.T) {
	repo := newMemRepo()
	cache := &mapCache{data: map[string][]byte{}, failGet: true}
	c := New(repo, &stubGateway{services: remoteFixture()}, cache, time.Minute, nil)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	services, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, services, 2)
}

func TestSetActive_UnknownService(t *testing.T) {
	c := New(newMemRepo(), &stubGateway{}, nil, 0, nil)
	require.ErrorIs(t, c.SetActive(context.Background(), 42, false), repository.ErrNotFound)
}

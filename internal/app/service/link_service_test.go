package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shortloop/shortloop/internal/app/model"
	"github.com/shortloop/shortloop/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory LinkRepository. RecordClick mirrors the store
// contract: the increment and the event append happen under one lock, so
// concurrent clicks never lose updates.
type memRepo struct {
	mu     sync.Mutex
	links  map[string]*model.Link
	events map[string][]model.ClickEvent
}

func newMemRepo() *memRepo {
	return &memRepo{
		links:  make(map[string]*model.Link),
		events: make(map[string][]model.ClickEvent),
	}
}

func (m *memRepo) Create(_ context.Context, link *model.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[link.ShortID]; ok {
		return repository.ErrShortIDTaken
	}
	cp := *link
	cp.CreatedAt = time.Now()
	m.links[link.ShortID] = &cp
	return nil
}

func (m *memRepo) GetByShortID(_ context.Context, shortID string) (*model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[shortID]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	cp := *link
	return &cp, nil
}

func (m *memRepo) GetByOriginalURL(_ context.Context, originalURL string) (*model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.links {
		if link.OriginalURL == originalURL {
			cp := *link
			return &cp, nil
		}
	}
	return nil, repository.ErrLinkNotFound
}

func (m *memRepo) GetByURLAndOptions(_ context.Context, originalURL string, analyticsEnabled bool, expiresAt *time.Time, passwordProtected bool) (*model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.links {
		if link.OriginalURL != originalURL ||
			link.AnalyticsEnabled != analyticsEnabled ||
			link.PasswordProtected != passwordProtected {
			continue
		}
		if (link.ExpiresAt == nil) != (expiresAt == nil) {
			continue
		}
		if expiresAt != nil && !link.ExpiresAt.Equal(*expiresAt) {
			continue
		}
		cp := *link
		return &cp, nil
	}
	return nil, repository.ErrLinkNotFound
}

func (m *memRepo) RecordClick(_ context.Context, shortID string, event *model.ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[shortID]
	if !ok {
		return repository.ErrLinkNotFound
	}
	link.ClickCount++
	if event != nil {
		m.events[shortID] = append(m.events[shortID], *event)
	}
	return nil
}

func (m *memRepo) ListEvents(_ context.Context, shortID string) ([]model.ClickEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ClickEvent(nil), m.events[shortID]...), nil
}

func (m *memRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, link := range m.links {
		if link.ExpiresAt != nil && !now.Before(*link.ExpiresAt) {
			delete(m.links, id)
			delete(m.events, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memRepo) NextExpiry(_ context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *time.Time
	for _, link := range m.links {
		if link.ExpiresAt == nil {
			continue
		}
		if next == nil || link.ExpiresAt.Before(*next) {
			t := *link.ExpiresAt
			next = &t
		}
	}
	return next, nil
}

func (m *memRepo) AllShortIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	return ids, nil
}

// seqGenerator hands out a fixed sequence of identifiers.
type seqGenerator struct {
	mu  sync.Mutex
	ids []string
}

func (g *seqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[0]
	if len(g.ids) > 1 {
		g.ids = g.ids[1:]
	}
	return id
}

func newService(repo repository.LinkRepository) LinkService {
	return NewLinkService(LinkServiceDeps{Repo: repo})
}

func client() ClientContext {
	return ClientContext{
		IP:        "203.0.113.9",
		Referrer:  "https://ref.example",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36",
	}
}

func TestCreate_NormalizesScheme(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)

	link, err := svc.Create(context.Background(), CreateLinkInput{
		OriginalURL:     "example.com",
		EnableAnalytics: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", link.OriginalURL)
	assert.Len(t, link.ShortID, 5)
	assert.True(t, link.IsActive)
	assert.Zero(t, link.ClickCount)
}

func TestCreate_FtpSchemePreserved(t *testing.T) {
	svc := newService(newMemRepo())

	// ftp is a valid scheme under the syntax check; it must not be
	// mangled into "http://ftp://...".
	link, err := svc.Create(context.Background(), CreateLinkInput{
		OriginalURL:     "ftp://files.example/pub",
		EnableAnalytics: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ftp://files.example/pub", link.OriginalURL)
}

func TestCreate_Validation(t *testing.T) {
	svc := newService(newMemRepo())

	_, err := svc.Create(context.Background(), CreateLinkInput{OriginalURL: ""})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), CreateLinkInput{OriginalURL: "http://bad url.com"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreate_IdempotentPerOptionSet(t *testing.T) {
	svc := newService(newMemRepo())
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true})
	require.NoError(t, err)

	second, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true})
	require.NoError(t, err)
	assert.Equal(t, first.ShortID, second.ShortID)

	// Different options break the dedup tuple.
	third, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: false})
	require.NoError(t, err)
	assert.NotEqual(t, first.ShortID, third.ShortID)

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	fourth, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true, ExpiresAt: &expires})
	require.NoError(t, err)
	assert.NotEqual(t, first.ShortID, fourth.ShortID)
}

func TestCreate_PasswordPresenceIsTheDedupKey(t *testing.T) {
	svc := newService(newMemRepo())
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true, Password: "one"})
	require.NoError(t, err)

	// Same tuple, different password value: collapses to the first record.
	second, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true, Password: "two"})
	require.NoError(t, err)
	assert.Equal(t, first.ShortID, second.ShortID)
}

func TestCreate_RetriesOnceOnCollision(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Create(context.Background(), &model.Link{ShortID: "taken", OriginalURL: "http://other.com", IsActive: true}))

	svc := NewLinkService(LinkServiceDeps{
		Repo: repo,
		IDs:  &seqGenerator{ids: []string{"taken", "fresh"}},
	})

	link, err := svc.Create(context.Background(), CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true})
	require.NoError(t, err)
	assert.Equal(t, "fresh", link.ShortID)
}

func TestCreate_SecondCollisionIsConflict(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Create(context.Background(), &model.Link{ShortID: "taken", OriginalURL: "http://other.com", IsActive: true}))

	svc := NewLinkService(LinkServiceDeps{
		Repo: repo,
		IDs:  &seqGenerator{ids: []string{"taken"}},
	})

	_, err := svc.Create(context.Background(), CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestResolve_RoundTrip(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "example.com", EnableAnalytics: true})
	require.NoError(t, err)

	res, err := svc.Resolve(ctx, link.ShortID, client())
	require.NoError(t, err)
	assert.False(t, res.RequiresPassword)
	assert.Equal(t, "http://example.com", res.Target)

	stored, err := repo.GetByShortID(ctx, link.ShortID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ClickCount)

	events, err := repo.ListEvents(ctx, link.ShortID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.113.9", events[0].IP)
	assert.Equal(t, "https://ref.example", events[0].Referrer)
	assert.Equal(t, "Windows / Chrome", events[0].UserAgent)
}

func TestResolve_NotFound(t *testing.T) {
	svc := newService(newMemRepo())
	_, err := svc.Resolve(context.Background(), "nope1", client())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_Inactive(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Create(context.Background(), &model.Link{
		ShortID:     "dead1",
		OriginalURL: "http://a.com",
		IsActive:    false,
	}))
	svc := newService(repo)

	_, err := svc.Resolve(context.Background(), "dead1", client())
	assert.ErrorIs(t, err, ErrGone)

	stored, _ := repo.GetByShortID(context.Background(), "dead1")
	assert.Zero(t, stored.ClickCount, "inactive link must not record clicks")
}

func TestResolve_ExpiredBeforeReaperFires(t *testing.T) {
	repo := newMemRepo()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, repo.Create(context.Background(), &model.Link{
		ShortID:     "late1",
		OriginalURL: "http://a.com",
		IsActive:    true,
		ExpiresAt:   &past,
	}))
	svc := newService(repo)

	// The record still physically exists; resolution must treat it gone.
	_, err := svc.Resolve(context.Background(), "late1", client())
	assert.ErrorIs(t, err, ErrGone)

	stored, _ := repo.GetByShortID(context.Background(), "late1")
	assert.Zero(t, stored.ClickCount)
}

func TestResolve_ExpiredProtectedLinkDoesNotRevealProtection(t *testing.T) {
	repo := newMemRepo()
	past := time.Now().Add(-time.Minute)
	hash := "$2a$10$notachance"
	require.NoError(t, repo.Create(context.Background(), &model.Link{
		ShortID:           "gone2",
		OriginalURL:       "http://a.com",
		IsActive:          true,
		ExpiresAt:         &past,
		PasswordProtected: true,
		PasswordHash:      &hash,
	}))
	svc := newService(repo)

	res, err := svc.Resolve(context.Background(), "gone2", client())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrGone)
}

func TestPasswordFlow(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateLinkInput{
		OriginalURL:     "https://secret.example",
		EnableAnalytics: true,
		Password:        "hunter2",
	})
	require.NoError(t, err)
	assert.True(t, link.PasswordProtected)
	require.NotNil(t, link.PasswordHash)
	assert.NotContains(t, *link.PasswordHash, "hunter2")

	// Step one: resolve reports the gate, records nothing.
	res, err := svc.Resolve(ctx, link.ShortID, client())
	require.NoError(t, err)
	assert.True(t, res.RequiresPassword)
	assert.Empty(t, res.Target)

	stored, _ := repo.GetByShortID(ctx, link.ShortID)
	assert.Zero(t, stored.ClickCount)

	// Wrong password: no side effects.
	_, err = svc.Unlock(ctx, link.ShortID, "wrong", client())
	assert.ErrorIs(t, err, ErrAuth)
	stored, _ = repo.GetByShortID(ctx, link.ShortID)
	assert.Zero(t, stored.ClickCount)

	// Correct password: redirect plus exactly one event.
	unlocked, err := svc.Unlock(ctx, link.ShortID, "hunter2", client())
	require.NoError(t, err)
	assert.Equal(t, "https://secret.example", unlocked.Target)

	stored, _ = repo.GetByShortID(ctx, link.ShortID)
	assert.Equal(t, int64(1), stored.ClickCount)
	events, _ := repo.ListEvents(ctx, link.ShortID)
	assert.Len(t, events, 1)
}

func TestUnlock_UnprotectedLinkRejected(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true})
	require.NoError(t, err)

	_, err = svc.Unlock(ctx, link.ShortID, "anything", client())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestResolve_AnalyticsDisabled(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: false})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Resolve(ctx, link.ShortID, client())
		require.NoError(t, err)
	}

	stored, _ := repo.GetByShortID(ctx, link.ShortID)
	assert.Equal(t, int64(3), stored.ClickCount, "counter still moves without analytics")
	events, _ := repo.ListEvents(ctx, link.ShortID)
	assert.Empty(t, events, "no events without analytics")
}

func TestResolve_ConcurrentClicksAllLand(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://hot.example", EnableAnalytics: true})
	require.NoError(t, err)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Resolve(ctx, link.ShortID, client())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, _ := repo.GetByShortID(ctx, link.ShortID)
	assert.Equal(t, int64(n), stored.ClickCount)
	events, _ := repo.ListEvents(ctx, link.ShortID)
	assert.Len(t, events, n)
}

func TestRecordClick_UsesGeoHint(t *testing.T) {
	repo := newMemRepo()
	svc := newService(repo)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateLinkInput{OriginalURL: "https://a.com", EnableAnalytics: true})
	require.NoError(t, err)

	hinted := client()
	hinted.GeoHint = Geo{Country: "DE", City: "Berlin"}
	_, err = svc.Resolve(ctx, link.ShortID, hinted)
	require.NoError(t, err)

	events, _ := repo.ListEvents(ctx, link.ShortID)
	require.Len(t, events, 1)
	assert.Equal(t, "DE", events[0].Country)
	assert.Equal(t, "Berlin", events[0].City)
}

package sync

import (
	"context"
	"io"
	"log"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
)

var testNow = time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(conns *stubConnectionStore, acts *stubActivityStore, audits *stubAuditStore, adapter provider.Adapter, locks Locker) *Orchestrator {
	if locks == nil {
		locks = NewMemoryLocker()
	}
	return NewOrchestrator(conns, acts, audits, provider.NewRegistry(adapter), locks,
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time { return testNow }))
}

func activeConnection() *domain.Connection {
	return &domain.Connection{
		ID:             "conn-1",
		TenantID:       "tenant-1",
		UserID:         "user-1",
		Provider:       domain.ProviderStrava,
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: testNow.Add(time.Hour),
		Active:         true,
	}
}

func rawActivities(ids ...string) []provider.RawActivity {
	out := make([]provider.RawActivity, 0, len(ids))
	for _, id := range ids {
		out = append(out, provider.RawActivity{
			ExternalID:     id,
			Type:           "Run",
			StartedAt:      testNow.Add(-2 * time.Hour),
			DurationSec:    1800,
			DistanceMeters: 5000,
		})
	}
	return out
}

func TestSyncProviderImportsNewActivities(t *testing.T) {
	conns := &stubConnectionStore{active: activeConnection()}
	acts := &stubActivityStore{}
	audits := &stubAuditStore{}
	adapter := &stubAdapter{page: &provider.Page{Activities: rawActivities("a", "b", "c")}}

	o := newTestOrchestrator(conns, acts, audits, adapter, nil)
	summary, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.NoError(t, err)
	require.Equal(t, 3, summary.SyncedCount)
	require.Equal(t, 0, summary.SkippedCount)
	require.NotEmpty(t, summary.AuditID)

	require.Len(t, acts.inserted, 3)
	require.Len(t, audits.entries, 1)
	require.Equal(t, domain.SyncStatusCompleted, audits.entries[0].Status)
	require.Equal(t, 3, audits.entries[0].SyncedCount)
	require.Equal(t, "conn-1", conns.touchedID)
}

func TestSyncProviderSecondRunSkipsEverything(t *testing.T) {
	conns := &stubConnectionStore{active: activeConnection()}
	acts := &stubActivityStore{}
	audits := &stubAuditStore{}
	adapter := &stubAdapter{page: &provider.Page{Activities: rawActivities("a", "b", "c")}}

	o := newTestOrchestrator(conns, acts, audits, adapter, nil)

	first, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.NoError(t, err)
	require.Equal(t, 3, first.SyncedCount)

	second, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, second.SyncedCount)
	require.Equal(t, 3, second.SkippedCount)
	require.Len(t, acts.inserted, 3)
}

func TestSyncProviderNoConnectionFailsFastWithoutAudit(t *testing.T) {
	conns := &stubConnectionStore{}
	audits := &stubAuditStore{}
	adapter := &stubAdapter{page: &provider.Page{}}

	o := newTestOrchestrator(conns, &stubActivityStore{}, audits, adapter, nil)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.ErrorIs(t, err, domain.ErrNoActiveConnection)
	require.Empty(t, audits.entries)
	require.False(t, adapter.fetchCalled)
}

func TestSyncProviderUnknownProvider(t *testing.T) {
	adapter := &stubAdapter{}
	o := newTestOrchestrator(&stubConnectionStore{}, &stubActivityStore{}, &stubAuditStore{}, adapter, nil)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderGarmin, Options{})
	require.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestSyncProviderConcurrentTriggerRejected(t *testing.T) {
	conns := &stubConnectionStore{active: activeConnection()}
	audits := &stubAuditStore{}
	adapter := &stubAdapter{page: &provider.Page{}}

	locks := NewMemoryLocker()
	_, acquired, err := locks.Acquire(context.Background(), lockKey("tenant-1", "user-1", domain.ProviderStrava))
	require.NoError(t, err)
	require.True(t, acquired)

	o := newTestOrchestrator(conns, &stubActivityStore{}, audits, adapter, locks)
	_, err = o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.ErrorIs(t, err, domain.ErrSyncInFlight)
	require.Empty(t, audits.entries)
}

func TestSyncProviderRateLimitFailsAuditKeepsConnection(t *testing.T) {
	conns := &stubConnectionStore{active: activeConnection()}
	audits := &stubAuditStore{}
	adapter := &stubAdapter{fetchErr: &provider.RateLimitedError{Provider: domain.ProviderStrava, RetryAfter: 30 * time.Second}}

	o := newTestOrchestrator(conns, &stubActivityStore{}, audits, adapter, nil)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})

	var rateLimited *provider.RateLimitedError
	require.ErrorAs(t, err, &rateLimited)

	require.Len(t, audits.entries, 1)
	require.Equal(t, domain.SyncStatusFailed, audits.entries[0].Status)
	require.NotNil(t, audits.entries[0].ErrorDetail)
	require.False(t, conns.deactivated)
}

func TestSyncProviderRefreshFailureDeactivatesConnection(t *testing.T) {
	conn := activeConnection()
	conn.TokenExpiresAt = testNow.Add(-time.Minute)
	conns := &stubConnectionStore{active: conn}
	audits := &stubAuditStore{}
	adapter := &stubAdapter{refreshErr: &provider.TokenRefreshError{Provider: domain.ProviderStrava, StatusCode: 400, Body: "invalid_grant"}}

	o := newTestOrchestrator(conns, &stubActivityStore{}, audits, adapter, nil)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})

	var refreshErr *provider.TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.True(t, conns.deactivated)
	require.Len(t, audits.entries, 1)
	require.Equal(t, domain.SyncStatusFailed, audits.entries[0].Status)
	require.False(t, adapter.fetchCalled)
}

func TestSyncProviderRefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	conn := activeConnection()
	conn.TokenExpiresAt = testNow.Add(-time.Minute)
	conns := &stubConnectionStore{active: conn}
	adapter := &stubAdapter{
		grant: &provider.TokenGrant{AccessToken: "fresh-access", ExpiresAt: testNow.Add(6 * time.Hour)},
		page:  &provider.Page{},
	}

	o := newTestOrchestrator(conns, &stubActivityStore{}, &stubAuditStore{}, adapter, nil)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.NoError(t, err)
	require.Equal(t, "fresh-access", conns.updatedAccess)
	require.Equal(t, "refresh-token", conns.updatedRefresh)
	require.Equal(t, "fresh-access", adapter.fetchToken)
}

func TestSyncProviderForceRefreshesValidToken(t *testing.T) {
	conns := &stubConnectionStore{active: activeConnection()}
	adapter := &stubAdapter{
		grant: &provider.TokenGrant{AccessToken: "forced-access", RefreshToken: "forced-refresh", ExpiresAt: testNow.Add(6 * time.Hour)},
		page:  &provider.Page{},
	}

	o := newTestOrchestrator(conns, &stubActivityStore{}, &stubAuditStore{}, adapter, nil)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{Force: true})
	require.NoError(t, err)
	require.Equal(t, "forced-access", conns.updatedAccess)
	require.Equal(t, "forced-refresh", conns.updatedRefresh)
}

func TestSyncProviderContinuesPastBadRecord(t *testing.T) {
	conns := &stubConnectionStore{active: activeConnection()}
	acts := &stubActivityStore{failExternalIDs: map[string]struct{}{"b": {}}}
	audits := &stubAuditStore{}
	adapter := &stubAdapter{page: &provider.Page{Activities: rawActivities("a", "b", "c")}}

	o := newTestOrchestrator(conns, acts, audits, adapter, nil)
	summary, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.SyncedCount)
	require.Equal(t, 1, summary.SkippedCount)
	require.Equal(t, domain.SyncStatusCompleted, audits.entries[0].Status)
}

func TestSyncProviderCompanionNotePropagates(t *testing.T) {
	conn := activeConnection()
	conn.Provider = domain.ProviderAppleHealth
	conns := &stubConnectionStore{active: conn}
	adapter := &stubAdapter{
		provider: domain.ProviderAppleHealth,
		page:     &provider.Page{Note: "activities arrive via the companion app"},
	}

	o := newTestOrchestrator(conns, &stubActivityStore{}, &stubAuditStore{}, adapter, nil)
	summary, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderAppleHealth, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, summary.SyncedCount)
	require.Equal(t, "activities arrive via the companion app", summary.Note)
}

func TestSyncProviderReadsConnectionUnderLock(t *testing.T) {
	conn := activeConnection()
	conn.TokenExpiresAt = testNow.Add(-time.Minute)
	conns := &stubConnectionStore{active: conn}
	adapter := &stubAdapter{
		acceptRefresh: "rotated-refresh",
		grant:         &provider.TokenGrant{AccessToken: "rotated-access", RefreshToken: "rotated-refresh", ExpiresAt: testNow.Add(6 * time.Hour)},
		page:          &provider.Page{},
	}

	// A concurrent run finishes its token rotation in the window before the
	// lock is granted. The run must refresh with the rotated token it reads
	// under the lock, not a pre-lock snapshot.
	locks := &rotatingLocker{inner: NewMemoryLocker(), conns: conns}

	o := newTestOrchestrator(conns, &stubActivityStore{}, &stubAuditStore{}, adapter, locks)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.NoError(t, err)
	require.False(t, conns.deactivated)
	require.Equal(t, "rotated-access", conns.updatedAccess)
}

func TestSyncProviderPassesSinceFromLastSynced(t *testing.T) {
	lastSynced := testNow.Add(-24 * time.Hour)
	conn := activeConnection()
	conn.LastSyncedAt = &lastSynced
	conns := &stubConnectionStore{active: conn}
	adapter := &stubAdapter{page: &provider.Page{}}

	o := newTestOrchestrator(conns, &stubActivityStore{}, &stubAuditStore{}, adapter, nil)
	_, err := o.SyncProvider(context.Background(), "tenant-1", "user-1", domain.ProviderStrava, Options{})
	require.NoError(t, err)
	require.Equal(t, lastSynced, adapter.fetchSince)
}

// --- stubs ---

// rotatingLocker rewrites the stored tokens while the lock is being taken,
// the way a concurrent run that just completed a refresh would.
type rotatingLocker struct {
	inner Locker
	conns *stubConnectionStore
}

func (l *rotatingLocker) Acquire(ctx context.Context, key string) (func(), bool, error) {
	l.conns.active.AccessToken = "stale-access"
	l.conns.active.RefreshToken = "rotated-refresh"
	return l.inner.Acquire(ctx, key)
}

type stubAdapter struct {
	provider domain.Provider
	page     *provider.Page
	fetchErr error
	grant    *provider.TokenGrant
	// acceptRefresh makes RefreshToken reject any other refresh token, the
	// way providers treat a rotated-away token.
	acceptRefresh string
	refreshErr    error
	fetchCalled   bool
	fetchToken    string
	fetchSince    time.Time
}

func (a *stubAdapter) Provider() domain.Provider {
	if a.provider == "" {
		return domain.ProviderStrava
	}
	return a.provider
}

func (a *stubAdapter) AuthorizationURL(state, redirectURI string) string {
	return "https://example.com/oauth/authorize?state=" + state
}

func (a *stubAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*provider.TokenGrant, error) {
	return a.grant, nil
}

func (a *stubAdapter) RefreshToken(ctx context.Context, conn *domain.Connection) (*provider.TokenGrant, error) {
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	if a.acceptRefresh != "" && conn.RefreshToken != a.acceptRefresh {
		return nil, &provider.TokenRefreshError{Provider: conn.Provider, StatusCode: 400, Body: "invalid_grant"}
	}
	return a.grant, nil
}

func (a *stubAdapter) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*provider.Page, error) {
	a.fetchCalled = true
	a.fetchToken = accessToken
	a.fetchSince = since
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return a.page, nil
}

type stubConnectionStore struct {
	mu             stdsync.Mutex
	active         *domain.Connection
	deactivated    bool
	touchedID      string
	updatedAccess  string
	updatedRefresh string
}

func (s *stubConnectionStore) FindActive(ctx context.Context, tenantID, userID string, p domain.Provider) (*domain.Connection, error) {
	if s.active == nil || s.deactivated {
		return nil, nil
	}
	copied := *s.active
	return &copied, nil
}

func (s *stubConnectionStore) Upsert(ctx context.Context, conn domain.Connection) (*domain.Connection, error) {
	s.active = &conn
	s.deactivated = false
	return &conn, nil
}

func (s *stubConnectionStore) UpdateTokens(ctx context.Context, connectionID, accessToken, refreshToken string, expiresAt time.Time) error {
	s.updatedAccess = accessToken
	s.updatedRefresh = refreshToken
	return nil
}

func (s *stubConnectionStore) Deactivate(ctx context.Context, tenantID, userID string, p domain.Provider) error {
	s.deactivated = true
	return nil
}

func (s *stubConnectionStore) TouchLastSynced(ctx context.Context, connectionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchedID = connectionID
	return nil
}

func (s *stubConnectionStore) ListActive(ctx context.Context) ([]domain.Connection, error) {
	if s.active == nil || s.deactivated {
		return nil, nil
	}
	return []domain.Connection{*s.active}, nil
}

func (s *stubConnectionStore) ListForUser(ctx context.Context, tenantID, userID string) ([]domain.Connection, error) {
	if s.active == nil {
		return nil, nil
	}
	return []domain.Connection{*s.active}, nil
}

type stubActivityStore struct {
	mu              stdsync.Mutex
	inserted        []domain.Activity
	failExternalIDs map[string]struct{}
}

func (s *stubActivityStore) Exists(ctx context.Context, tenantID, userID string, p domain.Provider, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.inserted {
		if a.ExternalID == externalID && a.Provider == p && a.TenantID == tenantID && a.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubActivityStore) Insert(ctx context.Context, activity domain.Activity) error {
	if _, fail := s.failExternalIDs[activity.ExternalID]; fail {
		return context.DeadlineExceeded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, activity)
	return nil
}

type stubAuditStore struct {
	mu      stdsync.Mutex
	entries []domain.SyncAudit
	nextID  int
}

func (s *stubAuditStore) Open(ctx context.Context, tenantID, userID string, p domain.Provider, startedAt time.Time) (*domain.SyncAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	audit := domain.SyncAudit{
		ID:        "audit-" + strconv.Itoa(s.nextID),
		TenantID:  tenantID,
		UserID:    userID,
		Provider:  p,
		Status:    domain.SyncStatusRunning,
		StartedAt: startedAt,
	}
	s.entries = append(s.entries, audit)
	return &audit, nil
}

func (s *stubAuditStore) Close(ctx context.Context, auditID string, status domain.SyncStatus, syncedCount, skippedCount int, errorDetail *string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID != auditID {
			continue
		}
		if s.entries[i].Status != domain.SyncStatusRunning {
			return domain.ErrAuditClosed
		}
		s.entries[i].Status = status
		s.entries[i].SyncedCount = syncedCount
		s.entries[i].SkippedCount = skippedCount
		s.entries[i].ErrorDetail = errorDetail
		s.entries[i].CompletedAt = &completedAt
		return nil
	}
	return domain.ErrAuditClosed
}

func (s *stubAuditStore) ListForUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.SyncAudit, error) {
	out := make([]domain.SyncAudit, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *stubAuditStore) CloseStale(ctx context.Context, cutoff time.Time, detail string) (int, error) {
	closed := 0
	for i := range s.entries {
		if s.entries[i].Status == domain.SyncStatusRunning && s.entries[i].StartedAt.Before(cutoff) {
			s.entries[i].Status = domain.SyncStatusFailed
			s.entries[i].ErrorDetail = &detail
			closed++
		}
	}
	return closed, nil
}

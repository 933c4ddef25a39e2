package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/integrations/internal/auth"
	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
	syncengine "example.com/integrations/internal/sync"
)

func newTestHandler(conns *fakeConnectionStore, acts *fakeActivityStore, audits *fakeAuditStore, adapter provider.Adapter, locks syncengine.Locker) (*Handler, *StateSigner) {
	if locks == nil {
		locks = syncengine.NewMemoryLocker()
	}
	registry := provider.NewRegistry(adapter)
	quiet := log.New(io.Discard, "", 0)
	orchestrator := syncengine.NewOrchestrator(conns, acts, audits, registry, locks, syncengine.WithLogger(quiet))
	connect := syncengine.NewConnectService(conns, audits, registry, orchestrator, "https://app.example.com/v1/integrations", quiet)
	signer := NewStateSigner("test-state-secret", "i5e.identity")
	return NewHandler(orchestrator, connect, signer), signer
}

func authedRequest(method, target string, body io.Reader, scopes ...string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "user-1",
		TenantID:  "tenant-1",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestListConnectionsReportsEveryProvider(t *testing.T) {
	lastSynced := time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)
	conns := &fakeConnectionStore{active: &domain.Connection{
		ID:           "conn-1",
		TenantID:     "tenant-1",
		UserID:       "user-1",
		Provider:     domain.ProviderStrava,
		Active:       true,
		LastSyncedAt: &lastSynced,
	}}
	handler, _ := newTestHandler(conns, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{}, nil)

	rr := httptest.NewRecorder()
	handler.listConnections(rr, authedRequest(http.MethodGet, "/v1/integrations", nil, auth.ScopeIntegrationsRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListConnectionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != len(domain.Providers) {
		t.Fatalf("expected %d items got %d", len(domain.Providers), len(resp.Items))
	}
	connected := 0
	for _, item := range resp.Items {
		if item.Connected {
			connected++
			if item.Provider != "strava" {
				t.Fatalf("unexpected connected provider %s", item.Provider)
			}
			if item.LastSyncedAt == nil || !item.LastSyncedAt.Equal(lastSynced) {
				t.Fatalf("unexpected last_synced_at %v", item.LastSyncedAt)
			}
		}
	}
	if connected != 1 {
		t.Fatalf("expected exactly one connected provider got %d", connected)
	}
}

func TestListConnectionsRequiresScope(t *testing.T) {
	handler, _ := newTestHandler(&fakeConnectionStore{}, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{}, nil)

	rr := httptest.NewRecorder()
	handler.listConnections(rr, authedRequest(http.MethodGet, "/v1/integrations", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestTriggerSyncSuccess(t *testing.T) {
	conns := &fakeConnectionStore{active: connectedStrava()}
	acts := &fakeActivityStore{}
	adapter := &fakeAdapter{page: &provider.Page{Activities: []provider.RawActivity{
		{ExternalID: "101", Type: "Run", StartedAt: time.Now().UTC().Add(-time.Hour), DurationSec: 1800, DistanceMeters: 5000},
		{ExternalID: "102", Type: "Ride", StartedAt: time.Now().UTC().Add(-2 * time.Hour), DurationSec: 3600, DistanceMeters: 20000},
	}}}
	handler, _ := newTestHandler(conns, acts, &fakeAuditStore{}, adapter, nil)

	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, authedRequest(http.MethodPost, "/v1/integrations/strava/sync", nil, auth.ScopeIntegrationsWrite))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp SyncResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SyncedCount != 2 || resp.SkippedCount != 0 {
		t.Fatalf("unexpected counts %d/%d", resp.SyncedCount, resp.SkippedCount)
	}
	if resp.AuditID == "" {
		t.Fatalf("expected audit id")
	}
}

func TestTriggerSyncNotConnected(t *testing.T) {
	handler, _ := newTestHandler(&fakeConnectionStore{}, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{}, nil)

	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, authedRequest(http.MethodPost, "/v1/integrations/strava/sync", nil, auth.ScopeIntegrationsWrite))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "not_connected") {
		t.Fatalf("expected not_connected error, got %s", rr.Body.String())
	}
}

func TestTriggerSyncInFlightConflict(t *testing.T) {
	locks := syncengine.NewMemoryLocker()
	if _, acquired, err := locks.Acquire(context.Background(), "sync:tenant-1:user-1:strava"); err != nil || !acquired {
		t.Fatalf("failed to pre-acquire lock: %v", err)
	}

	handler, _ := newTestHandler(&fakeConnectionStore{active: connectedStrava()}, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{page: &provider.Page{}}, locks)

	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, authedRequest(http.MethodPost, "/v1/integrations/strava/sync", nil, auth.ScopeIntegrationsWrite))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTriggerSyncRateLimited(t *testing.T) {
	adapter := &fakeAdapter{fetchErr: &provider.RateLimitedError{Provider: domain.ProviderStrava, RetryAfter: 90 * time.Second}}
	handler, _ := newTestHandler(&fakeConnectionStore{active: connectedStrava()}, &fakeActivityStore{}, &fakeAuditStore{}, adapter, nil)

	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, authedRequest(http.MethodPost, "/v1/integrations/strava/sync", nil, auth.ScopeIntegrationsWrite))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Retry-After") != "90" {
		t.Fatalf("expected Retry-After 90 got %q", rr.Header().Get("Retry-After"))
	}
}

func TestTriggerSyncUnknownProvider(t *testing.T) {
	handler, _ := newTestHandler(&fakeConnectionStore{}, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{}, nil)

	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, authedRequest(http.MethodPost, "/v1/integrations/fitbit/sync", nil, auth.ScopeIntegrationsWrite))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "unknown_provider") {
		t.Fatalf("expected unknown_provider error, got %s", rr.Body.String())
	}
}

func TestBeginAuthorizationReturnsConsentURL(t *testing.T) {
	handler, _ := newTestHandler(&fakeConnectionStore{}, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{}, nil)

	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, authedRequest(http.MethodGet, "/v1/integrations/strava/connect", nil, auth.ScopeIntegrationsWrite))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp AuthorizationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(resp.AuthorizationURL, "https://auth.example.com/authorize?state=") {
		t.Fatalf("unexpected consent URL %s", resp.AuthorizationURL)
	}
}

func TestCallbackRejectsForeignState(t *testing.T) {
	handler, _ := newTestHandler(&fakeConnectionStore{}, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/integrations/strava/callback?code=abc&state=tampered", nil)
	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "state_mismatch") {
		t.Fatalf("expected state_mismatch error, got %s", rr.Body.String())
	}
}

func TestCallbackCompletesConnection(t *testing.T) {
	conns := &fakeConnectionStore{}
	adapter := &fakeAdapter{
		grant: &provider.TokenGrant{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: time.Now().Add(6 * time.Hour)},
		page:  &provider.Page{},
	}
	handler, signer := newTestHandler(conns, &fakeActivityStore{}, &fakeAuditStore{}, adapter, nil)

	state, err := signer.Mint("tenant-1", "user-1", domain.ProviderStrava)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/integrations/strava/callback?code=abc&state="+state, nil)
	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp CallbackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Connected {
		t.Fatalf("expected connected true")
	}
	if conns.active == nil || conns.active.AccessToken != "access" {
		t.Fatalf("connection was not stored")
	}
}

func TestDisconnectDeactivates(t *testing.T) {
	conns := &fakeConnectionStore{active: connectedStrava()}
	handler, _ := newTestHandler(conns, &fakeActivityStore{}, &fakeAuditStore{}, &fakeAdapter{}, nil)

	rr := httptest.NewRecorder()
	handler.integrationByProvider(rr, authedRequest(http.MethodDelete, "/v1/integrations/strava", nil, auth.ScopeIntegrationsWrite))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if !conns.deactivated {
		t.Fatalf("expected connection deactivated")
	}
}

func TestHistoryReturnsRecentEntries(t *testing.T) {
	completedAt := time.Date(2026, time.April, 1, 9, 30, 0, 0, time.UTC)
	audits := &fakeAuditStore{entries: []domain.SyncAudit{{
		ID:          "audit-1",
		TenantID:    "tenant-1",
		UserID:      "user-1",
		Provider:    domain.ProviderStrava,
		Status:      domain.SyncStatusCompleted,
		StartedAt:   completedAt.Add(-time.Minute),
		CompletedAt: &completedAt,
		SyncedCount: 4,
	}}}
	handler, _ := newTestHandler(&fakeConnectionStore{}, &fakeActivityStore{}, audits, &fakeAdapter{}, nil)

	rr := httptest.NewRecorder()
	handler.listHistory(rr, authedRequest(http.MethodGet, "/v1/integrations/history?limit=10", nil, auth.ScopeIntegrationsRead))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ListHistoryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 entry got %d", len(resp.Items))
	}
	if resp.Items[0].Status != "completed" || resp.Items[0].SyncedCount != 4 {
		t.Fatalf("unexpected entry %+v", resp.Items[0])
	}
}

func connectedStrava() *domain.Connection {
	return &domain.Connection{
		ID:             "conn-1",
		TenantID:       "tenant-1",
		UserID:         "user-1",
		Provider:       domain.ProviderStrava,
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
		Active:         true,
	}
}

// --- fakes ---

type fakeAdapter struct {
	grant    *provider.TokenGrant
	page     *provider.Page
	fetchErr error
}

func (a *fakeAdapter) Provider() domain.Provider { return domain.ProviderStrava }

func (a *fakeAdapter) AuthorizationURL(state, redirectURI string) string {
	return "https://auth.example.com/authorize?state=" + state
}

func (a *fakeAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*provider.TokenGrant, error) {
	return a.grant, nil
}

func (a *fakeAdapter) RefreshToken(ctx context.Context, conn *domain.Connection) (*provider.TokenGrant, error) {
	return a.grant, nil
}

func (a *fakeAdapter) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*provider.Page, error) {
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	if a.page == nil {
		return &provider.Page{}, nil
	}
	return a.page, nil
}

type fakeConnectionStore struct {
	active      *domain.Connection
	deactivated bool
}

func (s *fakeConnectionStore) FindActive(ctx context.Context, tenantID, userID string, p domain.Provider) (*domain.Connection, error) {
	if s.active == nil || s.deactivated || s.active.Provider != p {
		return nil, nil
	}
	copied := *s.active
	return &copied, nil
}

func (s *fakeConnectionStore) Upsert(ctx context.Context, conn domain.Connection) (*domain.Connection, error) {
	conn.ID = "conn-1"
	s.active = &conn
	s.deactivated = false
	return &conn, nil
}

func (s *fakeConnectionStore) UpdateTokens(ctx context.Context, connectionID, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (s *fakeConnectionStore) Deactivate(ctx context.Context, tenantID, userID string, p domain.Provider) error {
	s.deactivated = true
	return nil
}

func (s *fakeConnectionStore) TouchLastSynced(ctx context.Context, connectionID string, at time.Time) error {
	return nil
}

func (s *fakeConnectionStore) ListActive(ctx context.Context) ([]domain.Connection, error) {
	if s.active == nil || s.deactivated {
		return nil, nil
	}
	return []domain.Connection{*s.active}, nil
}

func (s *fakeConnectionStore) ListForUser(ctx context.Context, tenantID, userID string) ([]domain.Connection, error) {
	if s.active == nil {
		return nil, nil
	}
	return []domain.Connection{*s.active}, nil
}

type fakeActivityStore struct {
	inserted []domain.Activity
}

func (s *fakeActivityStore) Exists(ctx context.Context, tenantID, userID string, p domain.Provider, externalID string) (bool, error) {
	for _, a := range s.inserted {
		if a.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeActivityStore) Insert(ctx context.Context, activity domain.Activity) error {
	s.inserted = append(s.inserted, activity)
	return nil
}

type fakeAuditStore struct {
	entries []domain.SyncAudit
	nextID  int
}

func (s *fakeAuditStore) Open(ctx context.Context, tenantID, userID string, p domain.Provider, startedAt time.Time) (*domain.SyncAudit, error) {
	s.nextID++
	audit := domain.SyncAudit{
		ID:        "audit-new",
		TenantID:  tenantID,
		UserID:    userID,
		Provider:  p,
		Status:    domain.SyncStatusRunning,
		StartedAt: startedAt,
	}
	s.entries = append(s.entries, audit)
	return &audit, nil
}

func (s *fakeAuditStore) Close(ctx context.Context, auditID string, status domain.SyncStatus, syncedCount, skippedCount int, errorDetail *string, completedAt time.Time) error {
	for i := range s.entries {
		if s.entries[i].ID == auditID {
			s.entries[i].Status = status
			s.entries[i].SyncedCount = syncedCount
			s.entries[i].SkippedCount = skippedCount
			s.entries[i].ErrorDetail = errorDetail
			s.entries[i].CompletedAt = &completedAt
			return nil
		}
	}
	return domain.ErrAuditClosed
}

func (s *fakeAuditStore) ListForUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.SyncAudit, error) {
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]domain.SyncAudit, limit)
	copy(out, s.entries[:limit])
	return out, nil
}

func (s *fakeAuditStore) CloseStale(ctx context.Context, cutoff time.Time, detail string) (int, error) {
	return 0, nil
}

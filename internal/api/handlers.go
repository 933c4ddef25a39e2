// Package api exposes HTTP handlers for the integration service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/integrations/internal/auth"
	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
	syncengine "example.com/integrations/internal/sync"
)

// Handler coordinates HTTP requests with the sync engine.
type Handler struct {
	orchestrator *syncengine.Orchestrator
	connect      *syncengine.ConnectService
	state        *StateSigner
}

// NewHandler builds a Handler.
func NewHandler(orchestrator *syncengine.Orchestrator, connect *syncengine.ConnectService, state *StateSigner) *Handler {
	return &Handler{orchestrator: orchestrator, connect: connect, state: state}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/integrations", h.listConnections)
	mux.HandleFunc("/v1/integrations/history", h.listHistory)
	mux.HandleFunc("/v1/integrations/", h.integrationByProvider)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// integrationByProvider routes /v1/integrations/{provider}[/action].
func (h *Handler) integrationByProvider(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/integrations/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing provider")
		return
	}

	p, err := domain.ParseProvider(parts[0])
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		h.disconnect(w, r, p)
	case action == "connect" && r.Method == http.MethodGet:
		h.beginAuthorization(w, r, p)
	case action == "callback" && r.Method == http.MethodGet:
		h.oauthCallback(w, r, p)
	case action == "sync" && r.Method == http.MethodPost:
		h.triggerSync(w, r, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) beginAuthorization(w http.ResponseWriter, r *http.Request, p domain.Provider) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	state, err := h.state.Mint(claims.TenantID, claims.Subject, p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	consentURL, err := h.connect.BeginAuthorization(p, state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AuthorizationResponse{Provider: string(p), AuthorizationURL: consentURL})
}

// oauthCallback lands the provider redirect. It is unauthenticated at the
// transport level; the signed state parameter identifies the user.
func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request, p domain.Provider) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing code or state parameter")
		return
	}

	tenantID, userID, err := h.state.Verify(state, p)
	if err != nil {
		writeError(w, http.StatusForbidden, "state_mismatch", "authorization state is invalid or expired")
		return
	}

	result, err := h.connect.CompleteAuthorization(r.Context(), tenantID, userID, p, code)
	if err != nil {
		var exchangeErr *provider.OAuthExchangeError
		if errors.As(err, &exchangeErr) {
			writeError(w, http.StatusBadGateway, "oauth_exchange_failed", "the provider rejected the authorization code")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := CallbackResponse{
		Provider:    string(p),
		Connected:   true,
		SyncedCount: result.SyncedCount,
	}
	if result.SyncError != nil {
		resp.SyncError = result.SyncError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request, p domain.Provider) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	var req SyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	summary, err := h.orchestrator.SyncProvider(r.Context(), claims.TenantID, claims.Subject, p, syncengine.Options{Force: req.Force})
	if err != nil {
		writeSyncError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		Provider:     string(p),
		SyncedCount:  summary.SyncedCount,
		SkippedCount: summary.SkippedCount,
		AuditID:      summary.AuditID,
		Note:         summary.Note,
	})
}

// writeSyncError maps the sync error taxonomy onto responses that let the
// client distinguish "not connected", "transient, connection fine", and
// "authorization expired, reconnect".
func writeSyncError(w http.ResponseWriter, err error) {
	var (
		rateLimited *provider.RateLimitedError
		refreshErr  *provider.TokenRefreshError
		fetchErr    *provider.FetchError
	)
	switch {
	case errors.Is(err, domain.ErrNoActiveConnection):
		writeError(w, http.StatusNotFound, "not_connected", "no active connection for this provider")
	case errors.Is(err, domain.ErrSyncInFlight):
		writeError(w, http.StatusConflict, "sync_in_flight", "a sync for this provider is already running")
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "the provider is rate limiting requests; try again later")
	case errors.As(err, &refreshErr):
		writeError(w, http.StatusConflict, "reauthorization_required", "your authorization has expired; please reconnect the provider")
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, "provider_unavailable", "the provider could not be reached; your connection is fine")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request, p domain.Provider) {
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	if err := h.connect.Disconnect(r.Context(), claims.TenantID, claims.Subject, p); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DisconnectResponse{Provider: string(p), Connected: false})
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsRead, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	statuses, err := h.connect.ListConnections(r.Context(), claims.TenantID, claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ConnectionView, 0, len(statuses))
	for _, status := range statuses {
		items = append(items, ConnectionView{
			Provider:     string(status.Provider),
			Connected:    status.Connected,
			LastSyncedAt: status.LastSyncedAt,
		})
	}
	writeJSON(w, http.StatusOK, ListConnectionsResponse{Items: items})
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeIntegrationsRead, auth.ScopeIntegrationsWrite)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	audits, err := h.connect.History(r.Context(), claims.TenantID, claims.Subject, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]SyncAuditView, 0, len(audits))
	for _, audit := range audits {
		items = append(items, toAuditView(audit))
	}
	writeJSON(w, http.StatusOK, ListHistoryResponse{Items: items})
}

// requireScope extracts claims and enforces that at least one of the
// scopes is present.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// AuthorizationResponse carries the provider consent URL.
type AuthorizationResponse struct {
	Provider         string `json:"provider"`
	AuthorizationURL string `json:"authorization_url"`
}

// CallbackResponse reports a completed authorization plus the immediate
// first sync.
type CallbackResponse struct {
	Provider    string `json:"provider"`
	Connected   bool   `json:"connected"`
	SyncedCount int    `json:"synced_count"`
	SyncError   string `json:"sync_error,omitempty"`
}

// SyncRequest is the payload for POST /v1/integrations/{provider}/sync.
type SyncRequest struct {
	Force bool `json:"force"`
}

// SyncResponse reports a completed manual sync run.
type SyncResponse struct {
	Provider     string `json:"provider"`
	SyncedCount  int    `json:"synced_count"`
	SkippedCount int    `json:"skipped_count"`
	AuditID      string `json:"audit_id"`
	Note         string `json:"note,omitempty"`
}

// DisconnectResponse confirms a disconnect.
type DisconnectResponse struct {
	Provider  string `json:"provider"`
	Connected bool   `json:"connected"`
}

// ConnectionView is the per-provider entry of the connection listing.
type ConnectionView struct {
	Provider     string     `json:"provider"`
	Connected    bool       `json:"connected"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// ListConnectionsResponse packages the connection listing.
type ListConnectionsResponse struct {
	Items []ConnectionView `json:"items"`
}

// SyncAuditView exposes one sync attempt.
type SyncAuditView struct {
	AuditID      string     `json:"audit_id"`
	Provider     string     `json:"provider"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	SyncedCount  int        `json:"synced_count"`
	SkippedCount int        `json:"skipped_count"`
	ErrorDetail  *string    `json:"error_detail,omitempty"`
}

// ListHistoryResponse packages the sync history listing.
type ListHistoryResponse struct {
	Items []SyncAuditView `json:"items"`
}

func toAuditView(audit domain.SyncAudit) SyncAuditView {
	return SyncAuditView{
		AuditID:      audit.ID,
		Provider:     string(audit.Provider),
		Status:       string(audit.Status),
		StartedAt:    audit.StartedAt,
		CompletedAt:  audit.CompletedAt,
		SyncedCount:  audit.SyncedCount,
		SkippedCount: audit.SkippedCount,
		ErrorDetail:  audit.ErrorDetail,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

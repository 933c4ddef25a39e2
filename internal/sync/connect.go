package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
)

// ConnectService manages the connection lifecycle around the orchestrator:
// starting an authorization, completing the callback, disconnecting, and
// the read-side listings.
type ConnectService struct {
	connections domain.ConnectionStore
	audits      domain.AuditStore
	registry    *provider.Registry
	orch        *Orchestrator
	redirectURI string
	logger      *log.Logger
}

// NewConnectService constructs a ConnectService. redirectURI is the
// callback base; the provider name is appended per request.
func NewConnectService(connections domain.ConnectionStore, audits domain.AuditStore, registry *provider.Registry, orch *Orchestrator, redirectURI string, logger *log.Logger) *ConnectService {
	if logger == nil {
		logger = log.New(log.Writer(), "[connect] ", log.LstdFlags)
	}
	return &ConnectService{
		connections: connections,
		audits:      audits,
		registry:    registry,
		orch:        orch,
		redirectURI: redirectURI,
		logger:      logger,
	}
}

// RedirectURI returns the provider-specific callback URI.
func (s *ConnectService) RedirectURI(p domain.Provider) string {
	return fmt.Sprintf("%s/%s/callback", s.redirectURI, p)
}

// BeginAuthorization returns the provider consent URL for the user.
func (s *ConnectService) BeginAuthorization(p domain.Provider, state string) (string, error) {
	adapter, err := s.registry.Adapter(p)
	if err != nil {
		return "", err
	}
	return adapter.AuthorizationURL(state, s.RedirectURI(p)), nil
}

// CallbackResult reports the outcome of a completed authorization.
type CallbackResult struct {
	Connection  *domain.Connection
	SyncedCount int
	SyncError   error
}

// CompleteAuthorization exchanges the code, upserts the connection, and
// runs one immediate sync so the user sees data without waiting for the
// next scheduled sweep. A failure of that first sync does not undo the
// connection; it is reported alongside the result.
func (s *ConnectService) CompleteAuthorization(ctx context.Context, tenantID, userID string, p domain.Provider, code string) (*CallbackResult, error) {
	adapter, err := s.registry.Adapter(p)
	if err != nil {
		return nil, err
	}

	grant, err := adapter.ExchangeCode(ctx, code, s.RedirectURI(p))
	if err != nil {
		return nil, err
	}

	conn, err := s.connections.Upsert(ctx, domain.Connection{
		TenantID:          tenantID,
		UserID:            userID,
		Provider:          p,
		AccessToken:       grant.AccessToken,
		RefreshToken:      grant.RefreshToken,
		TokenExpiresAt:    grant.ExpiresAt,
		ProviderAccountID: grant.ProviderAccountID,
		Active:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("store connection: %w", err)
	}

	result := &CallbackResult{Connection: conn}
	summary, syncErr := s.orch.SyncProvider(ctx, tenantID, userID, p, Options{})
	if syncErr != nil {
		if !errors.Is(syncErr, domain.ErrSyncInFlight) {
			s.logger.Printf("initial sync after connect failed (user=%s provider=%s): %v", userID, p, syncErr)
			result.SyncError = syncErr
		}
		return result, nil
	}
	result.SyncedCount = summary.SyncedCount
	return result, nil
}

// Disconnect marks the connection inactive; idempotent.
func (s *ConnectService) Disconnect(ctx context.Context, tenantID, userID string, p domain.Provider) error {
	return s.connections.Deactivate(ctx, tenantID, userID, p)
}

// ConnectionStatus is the per-provider entry of the connection listing.
type ConnectionStatus struct {
	Provider     domain.Provider
	Connected    bool
	LastSyncedAt *time.Time
}

// ListConnections reports, for every supported provider, whether an active
// connection exists and when it last synced.
func (s *ConnectService) ListConnections(ctx context.Context, tenantID, userID string) ([]ConnectionStatus, error) {
	conns, err := s.connections.ListForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[domain.Provider]domain.Connection, len(conns))
	for _, conn := range conns {
		byProvider[conn.Provider] = conn
	}

	out := make([]ConnectionStatus, 0, len(domain.Providers))
	for _, p := range domain.Providers {
		status := ConnectionStatus{Provider: p}
		if conn, ok := byProvider[p]; ok && conn.Active {
			status.Connected = true
			status.LastSyncedAt = conn.LastSyncedAt
		}
		out = append(out, status)
	}
	return out, nil
}

// History returns recent sync audit entries, most recent first.
func (s *ConnectService) History(ctx context.Context, tenantID, userID string, limit int) ([]domain.SyncAudit, error) {
	return s.audits.ListForUser(ctx, tenantID, userID, limit)
}

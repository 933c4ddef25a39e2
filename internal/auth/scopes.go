package auth

// Known OAuth scopes used by the backend services.
const (
	ScopeIntegrationsWrite = "integrations:write"
	ScopeIntegrationsRead  = "integrations:read"
)

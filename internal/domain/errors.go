package domain

import "errors"

var (
	// ErrUnknownProvider is returned when a provider name is not one of the
	// supported platforms.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNoActiveConnection indicates there is nothing to sync for the pair.
	ErrNoActiveConnection = errors.New("no active connection for provider")
	// ErrSyncInFlight is returned when a sync run is already holding the
	// per-(user, provider) lock.
	ErrSyncInFlight = errors.New("sync already in flight for provider")
	// ErrDuplicateActivity is returned by stores when the dedup key already
	// exists at insert time.
	ErrDuplicateActivity = errors.New("activity already imported")
	// ErrAuditClosed is returned when a terminal audit entry is updated again.
	ErrAuditClosed = errors.New("sync audit entry already closed")
)

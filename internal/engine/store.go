package engine

import "context"

// Store persists fix sessions and their audit trails. Sessions are never
// deleted. Implementations must return ErrSessionNotFound (possibly wrapped)
// for unknown IDs.
type Store interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, s *FixSession) error

	// UpdateSession overwrites the stored session state, including attempts,
	// validation records and findings.
	UpdateSession(ctx context.Context, s *FixSession) error

	// GetSession loads a session with its audit trail.
	GetSession(ctx context.Context, id string) (*FixSession, error)

	// ListSessions returns all sessions ordered by creation time descending.
	ListSessions(ctx context.Context) ([]*FixSession, error)

	// AppendAudit persists one audit entry for a session.
	AppendAudit(ctx context.Context, sessionID string, e AuditEntry) error

	// ListAudit returns a session's audit entries ordered by sequence.
	ListAudit(ctx context.Context, sessionID string) ([]AuditEntry, error)

	// Close releases store resources.
	Close() error
}

package repository

import (
	maildomain "jobtrail-backend/internal/mail/domain"
)

// MessageRepository defines persistence for mirrored mailbox messages.
type MessageRepository interface {
	// Upsert inserts or updates a message keyed by (user_id, provider_id).
	// Redelivery of the same change is a no-op beyond overwriting with
	// identical data.
	Upsert(msg *maildomain.Message) error
	// UpdateLabels updates only the label set of an existing message.
	UpdateLabels(userID, providerID, labels string) error
	FindByProviderID(userID, providerID string) (*maildomain.Message, error)
	FindByProviderIDs(userID string, providerIDs []string) ([]*maildomain.Message, error)
	FindUnprocessed(userID string, limit int) ([]*maildomain.Message, error)
	FindByThread(userID, threadID string) ([]*maildomain.Message, error)
	// List pages the mirror newest-first.
	List(userID string, limit, offset int) ([]*maildomain.Message, int64, error)
	// ListRecent returns up to limit newest messages for in-memory search.
	ListRecent(userID string, limit int) ([]*maildomain.Message, error)
	Save(msg *maildomain.Message) error
	// MarkThreadJobRelated forces is_job_related/confidence on every message
	// of a thread. Manual correction path.
	MarkThreadJobRelated(userID, threadID string, confidence float64) error
}

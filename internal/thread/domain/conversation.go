package domain

import "time"

// Conversation is the derived, recomputed view of one mailbox thread:
// message bookkeeping, response-required state, and the optional link to a
// job application record.
type Conversation struct {
	UserID           string  `json:"user_id" gorm:"primaryKey"`
	ThreadID         string  `json:"thread_id" gorm:"primaryKey"`
	MessageCount     int     `json:"message_count"`
	LinkedJobID      *string `json:"linked_job_id,omitempty" gorm:"index"`
	RequiresResponse bool    `json:"requires_response" gorm:"index"`
	// RespondedAt records the last manual "response sent" mark; a newer
	// inbound message supersedes it.
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	Company         string     `json:"company,omitempty"`
	Role            string     `json:"role,omitempty"`
	Stage           string     `json:"stage,omitempty"`
	AnalysisSummary string     `json:"analysis_summary,omitempty"`
	LastAnalyzedAt  *time.Time `json:"last_analyzed_at,omitempty"`
	LastMessageAt   time.Time  `json:"last_message_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

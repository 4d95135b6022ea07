package domain

import "time"

// Processing status values for a mirrored message.
const (
	StatusUnprocessed = "unprocessed"
	StatusClassified  = "classified"
	StatusError       = "error"
)

// Message is the local mirror of a provider mailbox message. Created and
// updated by the history syncer, mutated by the classification queue.
type Message struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"user_id" gorm:"not null;uniqueIndex:idx_msg_provider_unique"`
	ProviderID string    `json:"provider_id" gorm:"not null;uniqueIndex:idx_msg_provider_unique"`
	ThreadID   string    `json:"thread_id" gorm:"index"`
	Sender     string    `json:"sender"`
	Recipients string    `json:"recipients"` // comma-joined addresses
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Snippet    string    `json:"snippet"`
	Labels     string    `json:"labels"` // comma-joined Gmail label IDs
	Outbound   bool      `json:"outbound"`
	ReceivedAt time.Time `json:"received_at"`

	ProcessingStatus string `json:"processing_status" gorm:"index;default:unprocessed"`
	ProcessingError  string `json:"processing_error,omitempty"`

	// Classification result, empty until classified. Overwritten as a
	// whole on reprocessing.
	IsJobRelated *bool      `json:"is_job_related,omitempty"`
	Confidence   float64    `json:"confidence"`
	EmailType    string     `json:"email_type,omitempty"`
	Company      string     `json:"company,omitempty"`
	Role         string     `json:"role,omitempty"`
	ClassifiedAt *time.Time `json:"classified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Classification is the structured result written back onto a Message.
type Classification struct {
	IsJobRelated bool      `json:"is_job_related"`
	Confidence   float64   `json:"confidence"`
	EmailType    string    `json:"email_type"`
	Company      string    `json:"company"`
	Role         string    `json:"role"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// ApplyClassification overwrites the stored result and marks the message
// classified.
func (m *Message) ApplyClassification(c Classification) {
	related := c.IsJobRelated
	m.IsJobRelated = &related
	m.Confidence = c.Confidence
	m.EmailType = c.EmailType
	m.Company = c.Company
	m.Role = c.Role
	at := c.ClassifiedAt
	m.ClassifiedAt = &at
	m.ProcessingStatus = StatusClassified
	m.ProcessingError = ""
}

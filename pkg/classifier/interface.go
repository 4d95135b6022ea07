package classifier

import (
	"context"
	"errors"
)

// Result is the structured classification for a single email.
type Result struct {
	IsJobRelated bool    `json:"is_job_related"`
	Confidence   float64 `json:"confidence"`
	EmailType    string  `json:"email_type"`
	Company      string  `json:"company"`
	Role         string  `json:"role"`
}

// ThreadAnalysis is the aggregated view of a whole conversation.
type ThreadAnalysis struct {
	Summary          string `json:"summary"`
	Stage            string `json:"stage"`
	RequiresResponse bool   `json:"requires_response"`
}

// ErrModelUnavailable marks provider-side failures worth retrying.
var ErrModelUnavailable = errors.New("classification model unavailable")

// EmailClassifier is the boundary to the external AI classification
// service. Implement this interface to add new providers.
type EmailClassifier interface {
	ClassifyEmail(ctx context.Context, sender, subject, snippet string) (*Result, error)
	AnalyzeThread(ctx context.Context, conversationText string) (*ThreadAnalysis, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
	ProviderAuto   ProviderType = "auto"
)

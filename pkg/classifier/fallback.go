package classifier

import (
	"context"
	"errors"
	"log"
)

// FallbackClassifier routes to a primary provider and falls back to a
// secondary one on availability errors (connection failures, 5xx, quota).
// Permanent errors are surfaced without a fallback attempt.
type FallbackClassifier struct {
	primary   EmailClassifier
	secondary EmailClassifier
}

func NewFallbackClassifier(primary, secondary EmailClassifier) *FallbackClassifier {
	return &FallbackClassifier{
		primary:   primary,
		secondary: secondary,
	}
}

func (f *FallbackClassifier) ClassifyEmail(ctx context.Context, sender, subject, snippet string) (*Result, error) {
	result, err := f.primary.ClassifyEmail(ctx, sender, subject, snippet)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrModelUnavailable) {
		return nil, err
	}

	log.Printf("[Classifier] Primary provider unavailable (%v), trying fallback", err)
	return f.secondary.ClassifyEmail(ctx, sender, subject, snippet)
}

func (f *FallbackClassifier) AnalyzeThread(ctx context.Context, conversationText string) (*ThreadAnalysis, error) {
	analysis, err := f.primary.AnalyzeThread(ctx, conversationText)
	if err == nil {
		return analysis, nil
	}
	if !errors.Is(err, ErrModelUnavailable) {
		return nil, err
	}

	log.Printf("[Classifier] Primary provider unavailable (%v), trying fallback", err)
	return f.secondary.AnalyzeThread(ctx, conversationText)
}

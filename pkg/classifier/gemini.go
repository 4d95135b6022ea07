package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent"

type GeminiClassifier struct {
	ApiKey string
}

func NewGeminiClassifier(apiKey string) *GeminiClassifier {
	return &GeminiClassifier{ApiKey: apiKey}
}

const classifyPrompt = `You are an assistant that triages a job seeker's inbox.
Decide whether the email below is part of a job search (application
confirmations, recruiter outreach, interview scheduling, offers, rejections)
and extract the company and role when present.

Respond with ONLY a JSON object, no prose, in this exact shape:
{"is_job_related": bool, "confidence": number between 0 and 1,
 "email_type": one of "application_confirmation"|"recruiter_outreach"|"interview"|"offer"|"rejection"|"followup"|"other",
 "company": string or "", "role": string or ""}

FROM: %s
SUBJECT: %s
BODY:
%s`

func (g *GeminiClassifier) ClassifyEmail(ctx context.Context, sender, subject, snippet string) (*Result, error) {
	prompt := fmt.Sprintf(classifyPrompt, sender, subject, snippet)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &result); err != nil {
		return nil, fmt.Errorf("gemini returned unparseable classification: %w", err)
	}
	return &result, nil
}

const threadPrompt = `You are an assistant that tracks a job seeker's email
conversations. Summarize the conversation below and identify which stage of
the application process it has reached.

Respond with ONLY a JSON object, no prose, in this exact shape:
{"summary": string (max 2 sentences),
 "stage": one of "applied"|"screening"|"interviewing"|"offer"|"rejected"|"unknown",
 "requires_response": bool (true when the other party asked something the
 job seeker has not answered yet)}

CONVERSATION (oldest first):
%s`

func (g *GeminiClassifier) AnalyzeThread(ctx context.Context, conversationText string) (*ThreadAnalysis, error) {
	prompt := fmt.Sprintf(threadPrompt, conversationText)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var analysis ThreadAnalysis
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &analysis); err != nil {
		return nil, fmt.Errorf("gemini returned unparseable analysis: %w", err)
	}
	return &analysis, nil
}

func (g *GeminiClassifier) generate(ctx context.Context, prompt string) (string, error) {
	url := geminiEndpoint + "?key=" + g.ApiKey

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: Gemini API status %d", ErrModelUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("Gemini API error: %s", string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}

	// Parse text from response
	if c, ok := result["candidates"].([]interface{}); ok && len(c) > 0 {
		if cand, ok := c[0].(map[string]interface{}); ok {
			if content, ok := cand["content"].(map[string]interface{}); ok {
				if parts, ok := content["parts"].([]interface{}); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]interface{}); ok {
						if text, ok := part["text"].(string); ok {
							return text, nil
						}
					}
				}
			}
		}
	}
	return "", fmt.Errorf("no candidates returned")
}

// stripCodeFence removes a ```json ... ``` wrapper models sometimes add
// despite the JSON-only instruction.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

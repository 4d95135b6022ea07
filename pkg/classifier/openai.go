package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(apiKey, model string) *OpenAIClassifier {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClassifier{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (o *OpenAIClassifier) ClassifyEmail(ctx context.Context, sender, subject, snippet string) (*Result, error) {
	prompt := fmt.Sprintf(classifyPrompt, sender, subject, snippet)

	text, err := o.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &result); err != nil {
		return nil, fmt.Errorf("openai returned unparseable classification: %w", err)
	}
	return &result, nil
}

func (o *OpenAIClassifier) AnalyzeThread(ctx context.Context, conversationText string) (*ThreadAnalysis, error) {
	prompt := fmt.Sprintf(threadPrompt, conversationText)

	text, err := o.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var analysis ThreadAnalysis
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &analysis); err != nil {
		return nil, fmt.Errorf("openai returned unparseable analysis: %w", err)
	}
	return &analysis, nil
}

func (o *OpenAIClassifier) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

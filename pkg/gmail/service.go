package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	maildomain "jobtrail-backend/internal/mail/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = maildomain.TokenUpdateFunc

type Service struct {
	clientID     string
	clientSecret string
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[WARN] [Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// getGmailService creates a Gmail service with the user's access token
func (s *Service) getGmailService(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	tokenSource := config.TokenSource(ctx, token)

	// Wrap token source to detect refreshes
	wrappedSource := &notifyTokenSource{
		src:      tokenSource,
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return srv, nil
}

// Watch registers push notifications for the user's mailbox and returns the
// provider's baseline history position and expiration.
func (s *Service) Watch(ctx context.Context, accessToken, refreshToken, topicName string, onTokenRefresh TokenUpdateFunc) (*maildomain.WatchResult, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	// Stop any existing watch first to avoid the "Only one user push
	// notification client allowed" error. Failure here is fine: there may
	// simply be no watch to stop.
	_ = srv.Users.Stop("me").Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}

	resp, err := srv.Users.Watch("me", req).Do()
	if err != nil {
		log.Printf("[Gmail] Watch API error: %v", err)
		return nil, classifyError(err)
	}

	log.Printf("[Gmail] Watch started. Expiration: %d, HistoryId: %d", resp.Expiration, resp.HistoryId)

	return &maildomain.WatchResult{
		HistoryID: resp.HistoryId,
		ExpiresAt: time.UnixMilli(resp.Expiration),
	}, nil
}

// StopWatch stops push notifications for the user's mailbox
func (s *Service) StopWatch(ctx context.Context, accessToken, refreshToken string, onTokenRefresh TokenUpdateFunc) error {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return err
	}

	if err := srv.Users.Stop("me").Do(); err != nil {
		return classifyError(err)
	}
	return nil
}

// ListHistory fetches mailbox changes since the given history position, in
// provider-reported order across all pages.
func (s *Service) ListHistory(ctx context.Context, accessToken, refreshToken string, sinceHistoryID uint64, onTokenRefresh TokenUpdateFunc) (*maildomain.HistoryPage, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	page := &maildomain.HistoryPage{HistoryID: sinceHistoryID}
	pageToken := ""

	for {
		call := srv.Users.History.List("me").
			StartHistoryId(sinceHistoryID).
			HistoryTypes("messageAdded", "labelAdded", "labelRemoved")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := doWithRetry(ctx, func() (*gmail.ListHistoryResponse, error) { return call.Do() })
		if err != nil {
			return nil, classifyError(err)
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				page.Changes = append(page.Changes, maildomain.HistoryChange{
					ProviderID:   added.Message.Id,
					MessageAdded: true,
					LabelIDs:     added.Message.LabelIds,
				})
			}
			for _, labeled := range h.LabelsAdded {
				page.Changes = append(page.Changes, maildomain.HistoryChange{
					ProviderID: labeled.Message.Id,
					LabelIDs:   labeled.Message.LabelIds,
				})
			}
			for _, unlabeled := range h.LabelsRemoved {
				page.Changes = append(page.Changes, maildomain.HistoryChange{
					ProviderID: unlabeled.Message.Id,
					LabelIDs:   unlabeled.Message.LabelIds,
				})
			}
		}

		if resp.HistoryId > page.HistoryID {
			page.HistoryID = resp.HistoryId
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return page, nil
}

// ListRecentMessages returns the IDs of messages received within the
// lookback window, oldest first, plus the mailbox's current history position.
// Used as the bounded fallback when the saved cursor is stale.
func (s *Service) ListRecentMessages(ctx context.Context, accessToken, refreshToken string, lookbackDays int, onTokenRefresh TokenUpdateFunc) ([]string, uint64, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, 0, err
	}

	profile, err := doWithRetry(ctx, func() (*gmail.Profile, error) { return srv.Users.GetProfile("me").Do() })
	if err != nil {
		return nil, 0, classifyError(err)
	}

	query := fmt.Sprintf("newer_than:%dd", lookbackDays)
	ids := make([]string, 0)
	pageToken := ""

	for {
		call := srv.Users.Messages.List("me").Q(query).MaxResults(500)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := doWithRetry(ctx, func() (*gmail.ListMessagesResponse, error) { return call.Do() })
		if err != nil {
			return nil, 0, classifyError(err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	// Gmail lists newest first; reverse so callers apply oldest first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	return ids, profile.HistoryId, nil
}

// GetMessage retrieves full message detail and converts it to the local
// message shape. Classification fields are left empty.
func (s *Service) GetMessage(ctx context.Context, accessToken, refreshToken, providerID string, onTokenRefresh TokenUpdateFunc) (*maildomain.Message, error) {
	srv, err := s.getGmailService(ctx, accessToken, refreshToken, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	msg, err := doWithRetry(ctx, func() (*gmail.Message, error) {
		return srv.Users.Messages.Get("me", providerID).Format("full").Do()
	})
	if err != nil {
		// A message referenced by history may be gone already (user
		// deleted it). Report absence, not a stale cursor.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, classifyError(err)
	}

	return convertGmailMessage(msg), nil
}

// Helper functions

func convertGmailMessage(msg *gmail.Message) *maildomain.Message {
	body, isHTML := getEmailBody(msg.Payload)

	snippet := msg.Snippet
	if snippet == "" {
		snippet = body
		if isHTML {
			re := regexp.MustCompile(`<[^>]*>`)
			snippet = re.ReplaceAllString(snippet, " ")
		}
		snippet = strings.Join(strings.Fields(snippet), " ")
	}
	if len(snippet) > 400 {
		snippet = snippet[:400]
	}

	return &maildomain.Message{
		ProviderID: msg.Id,
		ThreadID:   msg.ThreadId,
		Sender:     getHeader(msg.Payload.Headers, "From"),
		Recipients: getHeader(msg.Payload.Headers, "To"),
		Subject:    getHeader(msg.Payload.Headers, "Subject"),
		Body:       body,
		Snippet:    snippet,
		Labels:     strings.Join(msg.LabelIds, ","),
		Outbound:   hasLabel(msg.LabelIds, "SENT"),
		ReceivedAt: time.Unix(msg.InternalDate/1000, 0),
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func getEmailBody(payload *gmail.MessagePart) (string, bool) {
	// If the payload itself is the body
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody string
	var plainBody string

	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.MimeType == "text/html" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						htmlBody = string(data)
					}
				}
			} else if part.MimeType == "text/plain" {
				if part.Body != nil && part.Body.Data != "" {
					data, err := base64.URLEncoding.DecodeString(part.Body.Data)
					if err == nil {
						plainBody = string(data)
					}
				}
			}

			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}

	findBody(payload.Parts)

	if plainBody != "" {
		return plainBody, false
	}
	return htmlBody, true
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}

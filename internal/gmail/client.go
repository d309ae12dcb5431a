package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	googleTokenURL = "https://oauth2.googleapis.com/token"
	userID         = "me"
	listPageSize   = 100
)

// metadataHeaders are the only headers requested per message.
var metadataHeaders = []string{"Subject", "From", "To", "Date"}

// Message is the metadata view of a mailbox message handed to the sink.
type Message struct {
	ID           string
	ThreadID     string
	Snippet      string
	Labels       []string
	Subject      string
	From         string
	To           string
	Date         time.Time
	InternalDate time.Time
}

type TokenRefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Client wraps the Gmail API calls the executor needs.
type Client struct {
	clientID     string
	clientSecret string
	tokenURL     string
	opts         []option.ClientOption
}

// NewClient builds a client for the given OAuth app. opts are appended to
// every Gmail service, which lets tests point it at a fake endpoint.
func NewClient(clientID, clientSecret string, opts ...option.ClientOption) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     googleTokenURL,
		opts:         opts,
	}
}

// WithTokenURL overrides the OAuth token endpoint.
func (c *Client) WithTokenURL(u string) *Client {
	c.tokenURL = u
	return c
}

func (c *Client) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}, c.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// HistoryID returns the mailbox's current history id.
func (c *Client) HistoryID(ctx context.Context, svc *gmail.Service) (uint64, error) {
	profile, err := svc.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile.HistoryId, nil
}

// ListMessageIDs pages through messages matching query, newest first, up to limit ids.
func (c *Client) ListMessageIDs(ctx context.Context, svc *gmail.Service, query string, limit int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < limit {
		pageSize := listPageSize
		if remaining := limit - len(ids); remaining < pageSize {
			pageSize = remaining
		}

		call := svc.Users.Messages.List(userID).Q(query).MaxResults(int64(pageSize)).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		slog.Debug("listed message ids", "count", len(resp.Messages), "has_more", resp.NextPageToken != "")

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// HistorySince returns ids of messages added after startHistoryID and the
// history id to resume from next time. History records are taken whole; when
// limit stops the walk early the resume id is the last record taken, so the
// rest is picked up by the next run. A single record larger than limit is
// still taken whole so the cursor always moves.
func (c *Client) HistorySince(ctx context.Context, svc *gmail.Service, startHistoryID uint64, labelID string, limit int) ([]string, uint64, error) {
	seen := make(map[string]struct{})
	var ids []string
	resume := startHistoryID
	pageToken := ""
	for {
		call := svc.Users.History.List(userID).
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if labelID != "" {
			call = call.LabelId(labelID)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list history: %w", err)
		}

		for _, h := range resp.History {
			var added []string
			for _, m := range h.MessagesAdded {
				if m.Message == nil {
					continue
				}
				if _, ok := seen[m.Message.Id]; ok {
					continue
				}
				added = append(added, m.Message.Id)
			}
			if len(ids) > 0 && len(ids)+len(added) > limit {
				slog.Debug("history walk truncated", "resume_history_id", resume, "ids", len(ids))
				return ids, resume, nil
			}
			for _, id := range added {
				seen[id] = struct{}{}
			}
			ids = append(ids, added...)
			if h.Id > resume {
				resume = h.Id
			}
		}

		if resp.NextPageToken == "" {
			if resp.HistoryId > resume {
				resume = resp.HistoryId
			}
			return ids, resume, nil
		}
		if len(ids) >= limit {
			return ids, resume, nil
		}
		pageToken = resp.NextPageToken
	}
}

// FetchMessage fetches one message's metadata.
func (c *Client) FetchMessage(ctx context.Context, svc *gmail.Service, messageID string) (*Message, error) {
	msg, err := svc.Users.Messages.Get(userID, messageID).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return parseMessage(msg), nil
}

func parseMessage(msg *gmail.Message) *Message {
	out := &Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}
	// Internal date is milliseconds since epoch
	if msg.InternalDate > 0 {
		out.InternalDate = time.UnixMilli(msg.InternalDate)
	}
	if msg.Payload == nil {
		return out
	}
	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			out.Subject = header.Value
		case "From":
			out.From = header.Value
		case "To":
			out.To = header.Value
		case "Date":
			parsedDate, err := parseEmailDate(header.Value)
			if err != nil {
				slog.Debug("failed to parse message date", "message_id", msg.Id, "value", header.Value, "error", err)
			} else {
				out.Date = parsedDate
			}
		}
	}
	return out
}

// RefreshAccessToken refreshes the OAuth2 access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.tokenURL,
		},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &TokenRefreshResult{
		AccessToken:  newToken.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    newToken.Expiry,
	}
	// Google may rotate the refresh token
	if newToken.RefreshToken != "" {
		result.RefreshToken = newToken.RefreshToken
	}
	return result, nil
}

// BuildQuery turns folder and date filters into a Gmail search query.
// Without folders the inbox is synced, spam excluded.
func BuildQuery(folders []string, since *time.Time) string {
	var parts []string
	switch len(folders) {
	case 0:
		parts = append(parts, "in:inbox")
	case 1:
		parts = append(parts, "in:"+quoteLabel(folders[0]))
	default:
		in := make([]string, 0, len(folders))
		for _, f := range folders {
			in = append(in, "in:"+quoteLabel(f))
		}
		parts = append(parts, "{"+strings.Join(in, " ")+"}")
	}
	parts = append(parts, "-in:spam")
	if since != nil {
		parts = append(parts, "after:"+since.UTC().Format("2006/01/02"))
	}
	return strings.Join(parts, " ")
}

func quoteLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.ReplaceAll(label, " ", "-")
}

// parseEmailDate parses various email date formats
func parseEmailDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	dateStr = strings.TrimSpace(dateStr)

	// Gmail sometimes appends the zone name after the numeric offset, e.g. "(UTC)"
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

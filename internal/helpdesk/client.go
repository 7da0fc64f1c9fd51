package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CreateConversationRequest is the input of the conversation creation call.
type CreateConversationRequest struct {
	AccountID int64
	InboxID   int64
	ContactID int64
	SourceID  string
}

//go:generate mockgen -destination=mocks/mock_helpdesk.go -package=mocks . ConversationCreator,ContactUpserter

// ConversationCreator creates conversations through the helpdesk.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, req CreateConversationRequest) (int64, error)
}

// Client talks to the helpdesk REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type createConversationBody struct {
	SourceID  string `json:"source_id"`
	InboxID   int64  `json:"inbox_id"`
	ContactID int64  `json:"contact_id"`
}

type conversationResponse struct {
	ID int64 `json:"id"`
}

// CreateConversation posts to /api/v1/accounts/{account}/conversations and
// returns the new conversation id.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (int64, error) {
	b, err := json.Marshal(createConversationBody{
		SourceID:  req.SourceID,
		InboxID:   req.InboxID,
		ContactID: req.ContactID,
	})
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/api/v1/accounts/%d/conversations", c.baseURL, req.AccountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, errors.Wrap(err, "helpdesk.CreateConversation.Request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api_access_token", c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, errors.Wrap(err, "helpdesk.CreateConversation.Do")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, errors.Errorf("helpdesk api error: %s body=%s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, "helpdesk.CreateConversation.Decode")
	}
	if out.ID == 0 {
		return 0, errors.New("helpdesk api returned no conversation id")
	}
	return out.ID, nil
}

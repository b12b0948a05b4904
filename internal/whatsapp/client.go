package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Sender is the channel surface the dispatcher depends on. Client is the
// production implementation; tests substitute fakes.
type Sender interface {
	SendTemplate(ctx context.Context, to string, tmpl TemplateMessage) (string, error)
	SendText(ctx context.Context, to, body string) (string, error)
}

// Client talks to a WhatsApp Business Cloud-style HTTP gateway
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	stubMode   bool
}

// NewClient creates a new channel client with the given configuration
func NewClient(baseURL, token string, stubMode bool) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stubMode:   stubMode,
	}
}

// SendTemplate sends a pre-approved template message to a single recipient
// and returns the channel message ID.
func (c *Client) SendTemplate(ctx context.Context, to string, tmpl TemplateMessage) (string, error) {
	return c.send(ctx, sendRequest{To: to, Type: "template", Template: &tmpl})
}

// SendText sends a free-form text message to a single recipient and
// returns the channel message ID.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, sendRequest{To: to, Type: "text", Text: body})
}

func (c *Client) send(ctx context.Context, reqBody sendRequest) (string, error) {
	if !ValidPhone(reqBody.To) {
		return "", &SendError{Permanent: true, Message: fmt.Sprintf("invalid recipient %q", reqBody.To)}
	}

	if c.stubMode {
		// Development mode: pretend the gateway accepted the message.
		return "stub-" + uuid.New().String(), nil
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &SendError{Permanent: true, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", &SendError{Permanent: true, Message: err.Error()}
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	// Lets the gateway drop duplicates if a retry races a slow success.
	req.Header.Set("X-Idempotency-Key", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures are transient by definition
		return "", &SendError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", classifyStatus(resp.StatusCode, string(body))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &SendError{Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return out.MessageID, nil
}

// classifyStatus maps gateway status codes onto the transient/permanent
// taxonomy: 4xx is a validation-class rejection, everything else is worth
// retrying. 429 is the one 4xx the gateway uses for throttling.
func classifyStatus(status int, body string) *SendError {
	permanent := status >= 400 && status < 500 && status != http.StatusTooManyRequests
	return &SendError{StatusCode: status, Permanent: permanent, Message: body}
}

// ABOUTME: REST client for the OpenHands conversation API.
// ABOUTME: Creates conversations, checks liveness, and lists capability options.

package openhands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ConversationRequest is the configuration bundle for creating a conversation.
type ConversationRequest struct {
	Model       string `json:"model"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	Agent       string `json:"agent"`
	GitHubToken string `json:"github_token,omitempty"`
}

// Conversation is the backend's view of one conversation.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status,omitempty"`
}

// Client communicates with the OpenHands HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ConversationURL returns the backend web URL for a conversation.
func (c *Client) ConversationURL(conversationID string) string {
	return c.baseURL + "/conversations/" + conversationID
}

// WebSocketURL returns the streaming endpoint for a conversation.
func (c *Client) WebSocketURL(conversationID string) string {
	wsBase := strings.Replace(c.baseURL, "https://", "wss://", 1)
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)
	return wsBase + "/ws/" + conversationID
}

// CreateConversation creates a backend conversation and returns its ID.
func (c *Client) CreateConversation(ctx context.Context, req ConversationRequest) (string, error) {
	var resp struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", req, &resp); err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	if resp.ConversationID == "" {
		return "", fmt.Errorf("creating conversation: backend returned no conversation_id")
	}
	return resp.ConversationID, nil
}

// GetConversation fetches the detail record for one conversation.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID, nil, &conv); err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

// ListConversations fetches all conversations known to the backend.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// Health reports whether the backend is reachable and alive. Failures are
// reported as false rather than errors; liveness is best-effort.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Models lists the model identifiers the backend offers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var models []string
	if err := c.doJSON(ctx, http.MethodGet, "/api/options/models", nil, &models); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return models, nil
}

// Agents lists the agent types the backend offers.
func (c *Client) Agents(ctx context.Context) ([]string, error) {
	var agents []string
	if err := c.doJSON(ctx, http.MethodGet, "/api/options/agents", nil, &agents); err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return agents, nil
}

// doJSON performs one JSON request/response round trip.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse extracts an error message from a non-2xx response.
func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("backend error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		if apiErr.Detail != "" {
			return fmt.Errorf("backend error (%d): %s", resp.StatusCode, apiErr.Detail)
		}
	}
	return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(body))
}

// Package assistant is the typed client for the assistant API's user,
// conversation, message, and run operations.
//
// The API is the relay's only durable state: looking up a conversation key
// after a prior create returns the handle created then, which is what gives
// the stateless relay persistent context.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client calls the assistant API. Safe for concurrent use; all calls share
// one rate limiter so webhook bursts do not overrun the remote side.
type Client struct {
	baseURL    string
	apiKey     string
	runTimeout time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates an assistant client. runTimeout bounds a single
// generation run; requestsPerSecond throttles all outbound calls.
func NewClient(log *slog.Logger, baseURL, apiKey string, runTimeout time.Duration, requestsPerSecond int) *Client {
	if log == nil {
		log = slog.Default()
	}
	if runTimeout <= 0 {
		runTimeout = 120 * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		runTimeout: runTimeout,
		httpClient: &http.Client{Timeout: runTimeout + 10*time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		logger:     log.With(slog.String("client", "assistant")),
	}
}

// FindUser looks up the remote identity registered under key. Returns
// ErrNotFound when the key has never been seen by the assistant API.
func (c *Client) FindUser(ctx context.Context, key string) (ConversationHandle, error) {
	endpoint := c.baseURL + "/v1/users/lookup?external_id=" + url.QueryEscape(key)
	var parsed lookupResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &parsed); err != nil {
		return ConversationHandle{}, err
	}
	return ConversationHandle{UserID: parsed.ID, ConversationID: parsed.ConversationID}, nil
}

// CreateUser registers a new remote identity under key.
func (c *Client) CreateUser(ctx context.Context, key, displayName string) (UserHandle, error) {
	var parsed UserHandle
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/users", createUserRequest{
		ExternalID:  key,
		DisplayName: displayName,
	}, &parsed)
	if err != nil {
		return UserHandle{}, err
	}
	return parsed, nil
}

// CreateConversation initializes a conversation bound to the given user.
func (c *Client) CreateConversation(ctx context.Context, userID string) (string, error) {
	var parsed createConversationResponse
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/conversations", createConversationRequest{
		UserID: userID,
	}, &parsed)
	if err != nil {
		return "", err
	}
	return parsed.ID, nil
}

// EnsureConversation resolves the handle for key, creating the user and its
// conversation on first occurrence. The upsert is keyed entirely by the
// remote API's own lookup; nothing is cached locally.
func (c *Client) EnsureConversation(ctx context.Context, key, displayName string) (ConversationHandle, error) {
	handle, err := c.FindUser(ctx, key)
	if err == nil {
		if handle.ConversationID == "" {
			// User survived an earlier aborted pipeline; finish the upsert.
			conversationID, err := c.CreateConversation(ctx, handle.UserID)
			if err != nil {
				return ConversationHandle{}, fmt.Errorf("create conversation: %w", err)
			}
			handle.ConversationID = conversationID
		}
		return handle, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ConversationHandle{}, fmt.Errorf("lookup user: %w", err)
	}

	user, err := c.CreateUser(ctx, key, displayName)
	if err != nil {
		return ConversationHandle{}, fmt.Errorf("create user: %w", err)
	}
	conversationID, err := c.CreateConversation(ctx, user.ID)
	if err != nil {
		return ConversationHandle{}, fmt.Errorf("create conversation: %w", err)
	}
	return ConversationHandle{UserID: user.ID, ConversationID: conversationID}, nil
}

// AppendMessage attaches a message to the conversation.
func (c *Client) AppendMessage(ctx context.Context, conversationID, text, senderName string) error {
	endpoint := fmt.Sprintf("%s/v1/conversations/%s/messages", c.baseURL, url.PathEscape(conversationID))
	return c.doJSON(ctx, http.MethodPost, endpoint, appendMessageRequest{
		Text:       text,
		SenderName: senderName,
	}, nil)
}

// ExecuteRun triggers generation on the conversation and blocks until a
// reply is available or the run timeout elapses.
func (c *Client) ExecuteRun(ctx context.Context, conversationID string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/conversations/%s/runs", c.baseURL, url.PathEscape(conversationID))
	var parsed runResponse
	if err := c.doJSON(runCtx, http.MethodPost, endpoint, struct{}{}, &parsed); err != nil {
		return "", err
	}
	return parsed.Reply, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("assistant api error",
			slog.String("url", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(respBody), 300)),
		)
		return fmt.Errorf("assistant api: status %d: %s", resp.StatusCode, strings.TrimSpace(truncate(string(respBody), 300)))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse assistant response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package gchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// replyFallback lets a threaded reply land as a new thread when the original
// thread is gone, instead of failing the delivery outright.
const replyFallback = "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"

// ReplyClient posts generated replies back to Chat spaces and threads.
// Authentication uses the injected token source on every call; the client
// holds no other state and is safe for concurrent use.
type ReplyClient struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewReplyClient creates a reply client for the Chat API at baseURL.
func NewReplyClient(log *slog.Logger, baseURL string, tokens oauth2.TokenSource, timeout time.Duration) *ReplyClient {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ReplyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("client", "gchat")),
	}
}

type chatMessage struct {
	Text   string  `json:"text"`
	Thread *Thread `json:"thread,omitempty"`
}

// PostReply posts text to the target space. When the target carries a
// thread the message is attached to it; otherwise it starts a top-level
// message in the space.
func (c *ReplyClient) PostReply(ctx context.Context, target ReplyTarget, text string) error {
	space := strings.TrimSpace(target.Space)
	if space == "" {
		return fmt.Errorf("gchat: reply target has no space")
	}

	payload := chatMessage{Text: text}
	endpoint := fmt.Sprintf("%s/v1/%s/messages", c.baseURL, space)
	if target.Thread != "" {
		payload.Thread = &Thread{Name: target.Thread}
		endpoint += "?messageReplyOption=" + url.QueryEscape(replyFallback)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("gchat: fetch token: %w", err)
		}
		token.SetAuthHeader(req)
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
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("post reply failed",
			slog.String("space", space),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(respBody), 300)),
		)
		return fmt.Errorf("gchat: post reply: status %d", resp.StatusCode)
	}

	c.logger.Info("reply posted", slog.String("space", space), slog.Bool("threaded", target.Thread != ""))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package waha is a client for the WAHA WhatsApp HTTP gateway.
package waha

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/logger"
	"github.com/edgard/leadpilot/internal/phone"
)

const maxErrorBody = 512

// Client talks to one WAHA session. Requests are paced by a token bucket and
// idempotent calls are retried with exponential backoff.
type Client struct {
	baseURL  string
	apiKey   string
	session  string
	region   string
	http     *http.Client
	limiter  *rate.Limiter
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// NewClient creates a gateway client. region is used to canonicalize bare phone numbers.
func NewClient(cfg config.GatewayConfig, region string, log *slog.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	session := cfg.Session
	if session == "" {
		session = "default"
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		session:  session,
		region:   region,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		attempts: cfg.MaxRetries + 1,
		delay:    cfg.RetryDelay,
		logger:   log.With("component", "waha"),
	}
}

// chatID accepts either a gateway chat id or a phone number.
func (c *Client) chatID(target string) string {
	if strings.Contains(target, "@") {
		return target
	}
	return phone.ChatID(phone.Normalize(target, c.region))
}

// SendText posts a text message. It is never retried: a retry after a timeout
// could deliver the message twice.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	chatID = c.chatID(chatID)
	if strings.TrimSpace(text) == "" {
		return errors.New("waha: refusing to send an empty message")
	}
	err := c.do(ctx, http.MethodPost, "/api/sendText", nil,
		sendTextRequest{Session: c.session, ChatID: chatID, Text: text}, nil)
	if err != nil {
		c.logger.WarnContext(ctx, "sendText failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("send text to %s: %w", chatID, err)
	}
	c.logger.InfoContext(ctx, "Message sent", "chat_id", chatID, "preview", logger.Preview(text))
	return nil
}

// GetMessages returns up to limit recent messages of a chat, oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	chatID = c.chatID(chatID)
	q := url.Values{}
	q.Set("session", c.session)
	q.Set("chatId", chatID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("downloadMedia", "false")

	var msgs []Message
	err := c.retry(ctx, "get messages", func() error {
		msgs = nil
		return c.do(ctx, http.MethodGet, "/api/messages", q, nil, &msgs)
	})
	if err != nil {
		return nil, fmt.Errorf("get messages of %s: %w", chatID, err)
	}
	sortOldestFirst(msgs)
	return msgs, nil
}

// GetChats returns the chat overview. Engines differ in where they serve it,
// so the session-scoped path is tried after the global one 404s.
func (c *Client) GetChats(ctx context.Context, limit int) ([]Chat, error) {
	global := url.Values{}
	global.Set("session", c.session)
	global.Set("limit", strconv.Itoa(limit))
	scoped := url.Values{}
	scoped.Set("limit", strconv.Itoa(limit))

	var chats []Chat
	err := c.retry(ctx, "get chats", func() error {
		chats = nil
		err := c.do(ctx, http.MethodGet, "/api/chats", global, nil, &chats)
		if isStatus(err, http.StatusNotFound) {
			chats = nil
			return c.do(ctx, http.MethodGet, "/api/"+url.PathEscape(c.session)+"/chats", scoped, nil, &chats)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get chats: %w", err)
	}
	return chats, nil
}

// MarkSeen marks a chat as read.
func (c *Client) MarkSeen(ctx context.Context, chatID string) error {
	return c.postChat(ctx, "mark seen", chatID, "/api/sendSeen", "/api/seen")
}

// StartTyping shows the typing indicator.
func (c *Client) StartTyping(ctx context.Context, chatID string) error {
	return c.postChat(ctx, "start typing", chatID, "/api/startTyping")
}

// StopTyping hides the typing indicator.
func (c *Client) StopTyping(ctx context.Context, chatID string) error {
	return c.postChat(ctx, "stop typing", chatID, "/api/stopTyping")
}

// ArchiveChat archives a chat on the phone.
func (c *Client) ArchiveChat(ctx context.Context, chatID string) error {
	chatID = c.chatID(chatID)
	scoped := "/api/" + url.PathEscape(c.session) + "/chats/" + url.PathEscape(chatID) + "/archive"
	return c.postChat(ctx, "archive chat", chatID, scoped, "/api/archiveChat")
}

// IsAvailable reports whether the session is working, starting it when it is stopped.
func (c *Client) IsAvailable(ctx context.Context) bool {
	var s Session
	path := "/api/sessions/" + url.PathEscape(c.session)
	err := c.retry(ctx, "session status", func() error {
		return c.do(ctx, http.MethodGet, path, nil, nil, &s)
	})
	if err != nil && !isStatus(err, http.StatusNotFound) {
		c.logger.WarnContext(ctx, "Gateway session check failed", "session", c.session, "error", err)
		return false
	}
	switch strings.ToUpper(s.Status) {
	case "WORKING":
		return true
	case "STARTING", "SCAN_QR_CODE":
		c.logger.WarnContext(ctx, "Gateway session not ready", "session", c.session, "status", s.Status)
		return false
	}

	c.logger.InfoContext(ctx, "Starting gateway session", "session", c.session, "status", s.Status)
	err = c.retry(ctx, "start session", func() error {
		return c.do(ctx, http.MethodPost, path+"/start", nil, struct{}{}, nil)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Gateway session start failed", "session", c.session, "error", err)
		return false
	}
	return true
}

// postChat posts {session, chatId} to the first path that exists.
func (c *Client) postChat(ctx context.Context, op, chatID string, paths ...string) error {
	chatID = c.chatID(chatID)
	body := chatRequest{Session: c.session, ChatID: chatID}
	err := c.retry(ctx, op, func() error {
		var err error
		for _, p := range paths {
			err = c.do(ctx, http.MethodPost, p, nil, body, nil)
			if !isStatus(err, http.StatusNotFound) {
				return err
			}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, chatID, err)
	}
	return nil
}

// retry runs fn with exponential backoff. Client errors other than 429 are not retried.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		func() error {
			err := fn()
			if err != nil && !retryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.DebugContext(ctx, "Retrying gateway call", "op", op, "attempt", n+1, "error", err)
		}),
	)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

func isStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// do performs one paced request and decodes a JSON response into out when given.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("waha request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func sortOldestFirst(msgs []Message) {
	// WAHA serves newest first; reverse so equal timestamps keep arrival order
	if len(msgs) > 1 && msgs[0].Timestamp > msgs[len(msgs)-1].Timestamp {
		slices.Reverse(msgs)
	}
	slices.SortStableFunc(msgs, func(a, b Message) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
}

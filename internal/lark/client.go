// Package lark is a small client for the Lark Open API: tenant token
// exchange, listing chat messages, sending text and uploading files.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/franz/fpvscan/internal/util"
)

const (
	// DefaultBaseURL is the Lark Open API root
	DefaultBaseURL = "https://open.larksuite.com/open-apis"

	// DefaultRate is the request rate shared by all calls of one client
	DefaultRate  = rate.Limit(5)
	DefaultBurst = 5

	// tokenSkew refreshes the tenant token this long before it expires
	tokenSkew = 5 * time.Minute
)

// token invalidation codes returned by the API
const (
	codeTokenInvalid = 99991663
	codeTokenExpired = 99991661
	codeTokenMissing = 99991668
)

// Config holds client configuration
type Config struct {
	BaseURL    string
	AppID      string
	AppSecret  string
	HTTPClient *http.Client
	Rate       rate.Limit
	Burst      int
	Retry      *util.RetryConfig // nil uses util.RemoteRetryConfig
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client handles Lark API requests with rate limiting and a cached tenant
// token
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *util.RetryConfig
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a new Lark client
func New(cfg Config) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		httpClient: cfg.HTTPClient,
		logger:     util.OrNop(cfg.Logger),
		now:        cfg.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.now == nil {
		c.now = time.Now
	}

	limit, burst := cfg.Rate, cfg.Burst
	if limit <= 0 {
		limit = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	c.limiter = rate.NewLimiter(limit, burst)

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = util.RemoteRetryConfig()
	}
	rc := *retryCfg
	rc.Retryable = IsTransient
	if rc.Logger == nil {
		rc.Logger = c.logger
	}
	c.retry = &rc

	return c
}

// APIError is a non-zero code in a Lark response envelope
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark API error %d (http %d): %s", e.Code, e.Status, e.Msg)
}

func (e *APIError) tokenRejected() bool {
	switch e.Code {
	case codeTokenInvalid, codeTokenExpired, codeTokenMissing:
		return true
	}
	return false
}

// IsTransient reports whether a Lark call is worth retrying: network
// errors, HTTP 429 and 5xx, and rejected tenant tokens
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500 || apiErr.tokenRejected()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return util.IsRetryableError(err)
}

// Message is one chat message as returned by the list endpoint
type Message struct {
	MessageID  string `json:"message_id"`
	MsgType    string `json:"msg_type"`
	CreateTime string `json:"create_time"`
	ChatID     string `json:"chat_id"`
	Body       struct {
		Content string `json:"content"`
	} `json:"body"`
}

// Text decodes the text of a text message
func (m Message) Text() (string, error) {
	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(m.Body.Content), &content); err != nil {
		return "", fmt.Errorf("failed to decode message %s: %w", m.MessageID, err)
	}
	return content.Text, nil
}

// TenantToken returns a cached tenant access token, exchanging the app
// credentials when the cache is empty or about to expire
func (c *Client) TenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenSkew)) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{"app_id": c.appID, "app_secret": c.appSecret})
	if err != nil {
		return "", err
	}

	var resp struct {
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	status, raw, err := c.send(ctx, http.MethodPost, "/auth/v3/tenant_access_token/internal", nil, body, "application/json; charset=utf-8", "")
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		if status != http.StatusOK {
			return "", &APIError{Status: status, Code: -1, Msg: truncate(string(raw), 200)}
		}
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.Code != 0 || resp.Token == "" {
		return "", &APIError{Status: status, Code: resp.Code, Msg: resp.Msg}
	}

	c.token = resp.Token
	c.tokenExpiry = c.now().Add(time.Duration(resp.Expire) * time.Second)
	c.logger.Debug("tenant token refreshed", "expires_in", resp.Expire)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// ListRecent returns up to pageSize of the newest messages in a chat,
// newest first
func (c *Client) ListRecent(ctx context.Context, chatID string, pageSize int) ([]Message, error) {
	q := url.Values{}
	q.Set("container_id_type", "chat")
	q.Set("container_id", chatID)
	q.Set("sort_type", "ByCreateTimeDesc")
	q.Set("page_size", fmt.Sprint(pageSize))

	var data struct {
		Items []Message `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, "/im/v1/messages", q, nil, "", &data); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return data.Items, nil
}

// SendText posts a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	if err := c.createMessage(ctx, chatID, "text", string(content)); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// SendFile uploads a file and posts it to a chat
func (c *Client) SendFile(ctx context.Context, chatID, path string) error {
	key, err := c.UploadFile(ctx, path)
	if err != nil {
		return err
	}
	content, err := json.Marshal(map[string]string{"file_key": key})
	if err != nil {
		return err
	}
	if err := c.createMessage(ctx, chatID, "file", string(content)); err != nil {
		return fmt.Errorf("failed to send file: %w", err)
	}
	c.logger.Info("file sent", "path", path, "chat", chatID)
	return nil
}

// UploadFile uploads path as a stream file and returns its file key
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := filepath.Base(path)
	if err := mw.WriteField("file_type", "stream"); err != nil {
		return "", err
	}
	if err := mw.WriteField("file_name", name); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		FileKey string `json:"file_key"`
	}
	if err := c.call(ctx, http.MethodPost, "/im/v1/files", nil, buf.Bytes(), mw.FormDataContentType(), &out); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if out.FileKey == "" {
		return "", fmt.Errorf("upload of %s returned no file key", name)
	}
	return out.FileKey, nil
}

func (c *Client) createMessage(ctx context.Context, chatID, msgType, content string) error {
	body, err := json.Marshal(map[string]string{
		"receive_id": chatID,
		"msg_type":   msgType,
		"content":    content,
	})
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("receive_id_type", "chat_id")
	return c.call(ctx, http.MethodPost, "/im/v1/messages", q, body, "application/json; charset=utf-8", nil)
}

// call performs an authenticated request through the retry wrapper and
// decodes the envelope's data into out
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body []byte, contentType string, out any) error {
	return util.Retry(ctx, c.retry, func(ctx context.Context) error {
		token, err := c.TenantToken(ctx)
		if err != nil {
			return err
		}

		status, raw, err := c.send(ctx, method, path, q, body, contentType, token)
		if err != nil {
			return err
		}

		var env struct {
			Code int             `json:"code"`
			Msg  string          `json:"msg"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			if status != http.StatusOK {
				return &APIError{Status: status, Code: -1, Msg: truncate(string(raw), 200)}
			}
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if env.Code != 0 || status != http.StatusOK {
			apiErr := &APIError{Status: status, Code: env.Code, Msg: env.Msg}
			if apiErr.tokenRejected() {
				c.dropToken()
			}
			return apiErr
		}
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
		return nil
	}, "lark "+path)
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body []byte, contentType, token string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("lark request", "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

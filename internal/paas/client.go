// Package paas forwards audit entries and divergence alerts to the
// platform log sink. Every call is best effort.
package paas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// refreshBefore is how long before expiry a session is renewed.
const refreshBefore = 2 * time.Minute

var errNotConfigured = errors.New("paas sink is not configured")

// StatusError is a non-2xx answer from the sink.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("paas %s: http %d: %s", e.Path, e.Status, e.Body)
}

type Client struct {
	BaseURL string
	APIKey  string
	// Agent names this service in the sink.
	Agent string
	HTTP  *http.Client

	mu      sync.Mutex
	session session
}

type session struct {
	token   string
	expires time.Time
}

func (s session) fresh(now time.Time) bool {
	if s.token == "" {
		return false
	}
	return s.expires.IsZero() || s.expires.Sub(now) > refreshBefore
}

type LogEntry struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key"`
	Metadata   map[string]any `json:"metadata"`
}

// Login exchanges the API key for a session token.
func (c *Client) Login(ctx context.Context) error {
	if c.endpoint("") == "" || strings.TrimSpace(c.APIKey) == "" {
		return errNotConfigured
	}
	raw, err := c.post(ctx, "/api/v1/auth/login", "", map[string]string{"api_key": strings.TrimSpace(c.APIKey)})
	if err != nil {
		return err
	}
	res := gjson.ParseBytes(raw)
	tok := strings.TrimSpace(res.Get("token").String())
	if tok == "" {
		return errors.New("paas login: response carries no token")
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(res.Get("expires_at").String()))

	c.mu.Lock()
	c.session = session{token: tok, expires: exp}
	c.mu.Unlock()
	return nil
}

// CreateLog posts one entry. A rejected session is renewed once.
func (c *Client) CreateLog(ctx context.Context, entry LogEntry) error {
	if entry.Agent == "" {
		entry.Agent = c.agent()
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	tok, err := c.token(ctx, false)
	if err != nil {
		return err
	}
	_, err = c.post(ctx, "/api/v1/logs", tok, entry)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		if tok, err = c.token(ctx, true); err != nil {
			return err
		}
		_, err = c.post(ctx, "/api/v1/logs", tok, entry)
	}
	return err
}

func (c *Client) token(ctx context.Context, renew bool) (string, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if !renew && s.fresh(time.Now()) {
		return s.token, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.token, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return ""
	}
	return base + path
}

func (c *Client) agent() string {
	if a := strings.TrimSpace(c.Agent); a != "" {
		return a
	}
	return "auctionhouse"
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

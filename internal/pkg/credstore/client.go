// Package credstore talks to the external credential registry shared by
// every instance of this service. The registry is the slow, fallible source
// of truth for which secrets are currently accepted by the VPN endpoints;
// it has no transactional relationship with the local ledger, so callers
// pair it with compensation logic rather than assuming consistency.
package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opalvpn/opald/internal/pkg/env"
)

var (
	// ErrAlreadyExists means the secret is already registered.
	ErrAlreadyExists = errors.New("credstore: secret already exists")
	// ErrUnavailable wraps transport failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("credstore: registry unavailable")
)

// Store is the interface the lifecycle engine consumes. Remove is
// idempotent: removing an absent secret is success.
type Store interface {
	Exists(ctx context.Context, secret string) (bool, error)
	Add(ctx context.Context, secret string) error
	Remove(ctx context.Context, secret string) error
}

// Client is the HTTP implementation of Store.
type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a client from CREDSTORE_BASE_URL / CREDSTORE_TOKEN.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(env.GetEnv("CREDSTORE_BASE_URL", "http://127.0.0.1:8088"), "/"),
		Token:   strings.TrimSpace(env.GetEnv("CREDSTORE_TOKEN", "")),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Exists checks whether the secret is registered.
func (c *Client) Exists(ctx context.Context, secret string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/passwords/"+url.PathEscape(secret), nil)
	if err != nil {
		return false, err
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, c.unexpected("exists", resp)
	}
}

// Add registers the secret.
func (c *Client) Add(ctx context.Context, secret string) error {
	body, err := json.Marshal(map[string]string{"password": secret})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/passwords", body)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	default:
		return c.unexpected("add", resp)
	}
}

// Remove unregisters the secret. An absent secret is not an error.
func (c *Client) Remove(ctx context.Context, secret string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/passwords/"+url.PathEscape(secret), nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.unexpected("remove", resp)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient, never a success.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func (c *Client) unexpected(op string, resp *http.Response) error {
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, op, resp.StatusCode)
	}
	return fmt.Errorf("credstore: %s returned %d", op, resp.StatusCode)
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

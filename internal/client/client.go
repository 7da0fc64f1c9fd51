// Package client calls the daemon's HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wppimport/internal/importer"
	"github.com/matheus3301/wppimport/internal/ledger"
)

// Import kinds accepted by Import.
const (
	KindContacts = "contacts"
	KindMessages = "messages"
)

// Error is a non-2xx daemon response.
type Error struct {
	StatusCode int
	Message    string
	// Count is the number of rows committed before an import failed.
	Count int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to one daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the daemon listening on addr ("host:port" or a
// full URL).
func New(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// Instances lists staged counts and import phase per tenant.
func (c *Client) Instances(ctx context.Context) ([]importer.InstanceStatus, error) {
	var out []importer.InstanceStatus
	err := c.do(ctx, http.MethodGet, "/instances", &out)
	return out, err
}

// Import runs a contact or message import and returns the affected rows.
func (c *Client) Import(ctx context.Context, tenant, kind string) (int64, error) {
	if kind != KindContacts && kind != KindMessages {
		return 0, fmt.Errorf("unknown import kind %q", kind)
	}
	var out struct {
		Count int64 `json:"count"`
	}
	err := c.do(ctx, http.MethodPost, "/instances/"+url.PathEscape(tenant)+"/import/"+kind, &out)
	return out.Count, err
}

// Clear drops everything staged for tenant.
func (c *Client) Clear(ctx context.Context, tenant string) error {
	return c.do(ctx, http.MethodDelete, "/instances/"+url.PathEscape(tenant)+"/staging", nil)
}

// Runs lists the newest import runs of tenant.
func (c *Client) Runs(ctx context.Context, tenant string, limit int) ([]ledger.Run, error) {
	var out []ledger.Run
	path := "/instances/" + url.PathEscape(tenant) + "/runs?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Count int64  `json:"count"`
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Count = payload.Error, payload.Count
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

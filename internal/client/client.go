// Package client talks to a rowwatch server's JSON API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rowwatch/rowwatch/internal/dashboard"
)

// ErrMissingRows is returned by Rows when the body has no rows field.
var ErrMissingRows = dashboard.ErrMissingRows

const maxResponseBodySize = 32 << 20 // 32 MB

// Settings mirrors the server's dashboard configuration.
type Settings struct {
	RefreshMillis int64  `json:"refresh_ms"`
	DefaultLimit  int    `json:"default_limit"`
	DBPath        string `json:"db_path"`
}

// Client is an API client. Requests carry no timeout unless the http.Client
// passed to New sets one.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for the server at baseURL. hc may be nil.
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, http: hc}, nil
}

// Tables returns the table names the server detected.
func (c *Client) Tables(ctx context.Context) ([]string, error) {
	var body struct {
		Tables []string `json:"tables"`
	}
	if err := c.get(ctx, c.endpoint("/api/tables", nil), &body); err != nil {
		return nil, fmt.Errorf("fetching tables: %w", err)
	}
	if body.Tables == nil {
		return []string{}, nil
	}
	return body.Tables, nil
}

// Rows returns rows of table. q.Limit is sent as given; q.Query is omitted when empty.
func (c *Client) Rows(ctx context.Context, table string, q dashboard.RowQuery) ([]dashboard.Row, error) {
	params := url.Values{}
	params.Set("limit", q.Limit)
	if q.Query != "" {
		params.Set("q", q.Query)
	}

	var body struct {
		Rows *[]dashboard.Row `json:"rows"`
	}
	if err := c.get(ctx, c.endpoint("/api/rows/"+url.PathEscape(table), params), &body); err != nil {
		return nil, fmt.Errorf("fetching rows of %s: %w", table, err)
	}
	if body.Rows == nil {
		return nil, fmt.Errorf("fetching rows of %s: %w", table, ErrMissingRows)
	}
	return *body.Rows, nil
}

// Settings returns the server's dashboard settings.
func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	if err := c.get(ctx, c.endpoint("/api/settings", nil), &s); err != nil {
		return Settings{}, fmt.Errorf("fetching settings: %w", err)
	}
	return s, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	s := c.base.String() + path
	if len(params) > 0 {
		s += "?" + params.Encode()
	}
	return s
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) get(ctx context.Context, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseBodySize)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(body).Decode(&e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"stackstatus/internal/models"
)

const (
	healthPath = "/health"
	statusPath = "/api/status"
	helloPath  = "/api/hello"
	docsPath   = "/docs"
	redocPath  = "/redoc"
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http %d %s", e.Path, e.Code, http.StatusText(e.Code))
}

// ProbeResult describes an answered reachability probe.
type ProbeResult struct {
	StatusCode int
	Latency    time.Duration
}

// Client talks to the demo backend. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for baseURL. A zero timeout leaves requests bounded only by their context.
func New(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

// BaseURL returns the normalised backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Links returns the documentation references. They are rendered, never fetched.
func (c *Client) Links() models.Links {
	return models.Links{
		Docs:  c.baseURL + docsPath,
		Redoc: c.baseURL + redocPath,
	}
}

// Probe issues the lightweight reachability request. The body is ignored.
func (c *Client) Probe(ctx context.Context) (ProbeResult, error) {
	start := time.Now()
	resp, err := c.get(ctx, healthPath)
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	res := ProbeResult{StatusCode: resp.StatusCode, Latency: time.Since(start)}
	if !success(resp.StatusCode) {
		return res, &StatusError{Path: healthPath, Code: resp.StatusCode}
	}
	return res, nil
}

// FetchStatus reads the extended status document.
func (c *Client) FetchStatus(ctx context.Context) (models.StatusPayload, error) {
	var payload models.StatusPayload
	if err := c.getJSON(ctx, statusPath, &payload); err != nil {
		return models.StatusPayload{}, err
	}
	return payload, nil
}

// Hello performs the demonstration call and returns its message.
func (c *Client) Hello(ctx context.Context) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, helloPath, &body); err != nil {
		return "", err
	}
	return body.Message, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return &StatusError{Path: path, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func success(code int) bool {
	return code >= 200 && code < 300
}

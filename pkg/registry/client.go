package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public registry API.
	DefaultBaseURL = "https://sketchpacks-api.herokuapp.com"
	// DefaultCatalogPath is the endpoint listing every published plugin.
	DefaultCatalogPath = "/v1/plugins/catalog"
	// DefaultTimeout bounds one catalog request.
	DefaultTimeout = 30 * time.Second

	maxCatalogBytes = 64 << 20
)

// Client reads the catalog document from the registry.
type Client struct {
	baseURL     string
	catalogPath string
	userAgent   string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCatalogPath overrides DefaultCatalogPath.
func WithCatalogPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.catalogPath = path
		}
	}
}

// WithUserAgent sets the User-Agent header sent to the registry.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a registry client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		catalogPath: DefaultCatalogPath,
		userAgent:   "plugin-catalog",
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CatalogURL returns the absolute URL of the catalog endpoint.
func (c *Client) CatalogURL() string {
	return c.baseURL + "/" + strings.TrimLeft(c.catalogPath, "/")
}

// FetchCatalog issues a single GET for the catalog document and decodes it.
// Null entries in the array are returned as nil pointers; the caller decides
// what to do with them.
func (c *Client) FetchCatalog(ctx context.Context) ([]*Descriptor, error) {
	url := c.CatalogURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Info("fetching plugin catalog", "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting catalog from %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var descriptors []*Descriptor
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCatalogBytes)).Decode(&descriptors); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	c.logger.Debug("fetched plugin catalog", "entries", len(descriptors))
	return descriptors, nil
}

// StatusError is returned when the registry answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("registry returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Package alma is a small client for the Alma bibs API item endpoints.
package alma

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"enumchron/internal/usage"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the North America API gateway.
const DefaultBaseURL = "https://api-na.hosted.exlibrisgroup.com"

// RemainingHeader carries the daily API quota left for the key.
const RemainingHeader = "X-Exl-Api-Remaining"

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Interval   time.Duration // minimum spacing between requests, 0 for none
	MaxRetries int           // total attempts for transport errors and 5xx responses
	UserAgent  string

	// Backoff overrides the delay between retries. Nil uses pester's
	// exponential backoff.
	Backoff pester.BackoffStrategy
	Logger  *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIKey:     apiKey,
		Timeout:    30 * time.Second,
		Interval:   100 * time.Millisecond,
		MaxRetries: 3,
		UserAgent:  "enumchron",
	}
}

// Client fetches and updates item records.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *pester.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewClient creates a client. 429 responses are never retried: Alma uses
// them for both the per-second and the daily threshold.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("alma: API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrapf(err, "alma: invalid base URL %q", cfg.BaseURL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := pester.NewExtendedClient(&http.Client{Timeout: cfg.Timeout})
	hc.Backoff = pester.ExponentialBackoff
	if cfg.Backoff != nil {
		hc.Backoff = cfg.Backoff
	}
	if cfg.MaxRetries > 0 {
		hc.MaxRetries = cfg.MaxRetries
	}
	hc.SetRetryOnHTTP429(false)
	hc.LogHook = func(e pester.ErrEntry) {
		logger.Debug("alma request attempt failed",
			zap.String("method", e.Verb),
			zap.String("url", redact(e.URL)),
			zap.Int("attempt", e.Attempt),
			zap.Error(e.Err))
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		http:      hc,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}, nil
}

// GetItem retrieves one item record.
func (c *Client) GetItem(ctx context.Context, ref ItemRef) (*Item, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get item %s", ref.ItemPID)
	}
	return ParseItem(body)
}

// UpdateItem replaces the item record with item's document and returns the
// record as stored by Alma.
func (c *Client) UpdateItem(ctx context.Context, ref ItemRef, item *Item) (*Item, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if item == nil || len(item.Raw()) == 0 {
		return nil, errors.Errorf("update item %s: empty document", ref.ItemPID)
	}
	body, err := c.do(ctx, http.MethodPut, ref, item.Raw())
	if err != nil {
		return nil, errors.Wrapf(err, "update item %s", ref.ItemPID)
	}
	return ParseItem(body)
}

func (c *Client) itemURL(ref ItemRef) string {
	q := url.Values{}
	q.Set("apikey", c.apiKey)
	return fmt.Sprintf("%s/almaws/v1/bibs/%s/holdings/%s/items/%s?%s",
		c.baseURL,
		url.PathEscape(ref.MMSID),
		url.PathEscape(ref.HoldingID),
		url.PathEscape(ref.ItemPID),
		q.Encode())
}

func (c *Client) do(ctx context.Context, method string, ref ItemRef, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.itemURL(ref), reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/xml")
	if payload != nil {
		req.Header.Set("Content-Type", "application/xml")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	tracker := usage.FromContext(ctx)
	resp, err := c.http.Do(req)
	if err != nil {
		if tracker != nil {
			tracker.Track(ctx, method, 0, -1)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if tracker != nil {
		tracker.Track(ctx, method, resp.StatusCode, remainingQuota(resp.Header))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(resp.StatusCode, body)
		c.logger.Debug("alma error response",
			zap.String("method", method),
			zap.String("item", ref.ItemPID),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
			zap.String("tracking_id", apiErr.TrackingID))
		return nil, apiErr
	}
	return body, nil
}

func remainingQuota(h http.Header) int {
	v := strings.TrimSpace(h.Get(RemainingHeader))
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// redact hides the API key in a logged URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("apikey") {
		q.Set("apikey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitalsync/internal/circuitbreaker"
	"github.com/vitalsync/internal/config"
	"github.com/vitalsync/internal/logging"
)

// Client is the HTTP implementation of DataSyncProvider.
// Each data category is fetched with a separate request, so one user sync
// costs len(categories) upstream calls plus retries.
type Client struct {
	baseURL    string
	categories []string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates an upstream API client from configuration
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		categories: cfg.Categories,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("wearable-api")),
	}
}

type categoryResponse struct {
	Data []json.RawMessage `json:"data"`
}

// SyncUser fetches every configured category for the lookback window.
// Quota headers from the last response win; a fault on any category aborts
// the sync with the calls already made reflected in the returned error path.
func (c *Client) SyncUser(ctx context.Context, accessToken string, lookback time.Duration) (*SyncResult, error) {
	result := &SyncResult{
		RecordsByCategory: make(map[string]int, len(c.categories)),
	}

	to := time.Now().UTC()
	from := to.Add(-lookback)

	for _, category := range c.categories {
		count, snapshot, err := c.fetchCategory(ctx, accessToken, category, from, to)
		result.APICalls++
		if snapshot != nil {
			mergeSnapshot(&result.RateLimit, snapshot)
		}
		if err != nil {
			return result, err
		}
		result.RecordsByCategory[category] = count
	}

	return result, nil
}

func (c *Client) fetchCategory(ctx context.Context, accessToken, category string, from, to time.Time) (int, *RateLimitSnapshot, error) {
	endpoint := fmt.Sprintf("%s/users/me/%s", c.baseURL, category)

	reqURL := endpoint + "?" + url.Values{
		"from": []string{from.Format(time.RFC3339)},
		"to":   []string{to.Format(time.RFC3339)},
	}.Encode()

	var count int
	var snapshot *RateLimitSnapshot

	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isTimeout(err) {
				return &TimeoutError{Endpoint: endpoint}
			}
			return &ConnectionError{Endpoint: endpoint, Err: err}
		}
		defer resp.Body.Close()

		snapshot = parseRateLimitHeaders(resp.Header)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ConnectionError{Endpoint: endpoint, Err: err}
		}

		if fault := classifyStatus(resp.StatusCode, endpoint, resp.Header, body); fault != nil {
			return fault
		}

		var parsed categoryResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return &TransformError{Endpoint: endpoint, Err: err}
		}

		count = len(parsed.Data)
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		logging.WithFields(map[string]interface{}{
			"endpoint": endpoint,
			"category": category,
		}).Warn("Upstream circuit open, treating as unavailable")
		return 0, snapshot, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	return count, snapshot, err
}

// classifyStatus maps an upstream HTTP status to a typed fault, nil for 2xx
func classifyStatus(status int, endpoint string, header http.Header, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{
			Endpoint:   endpoint,
			StatusCode: status,
			Message:    truncateBody(body),
		}
	case status == http.StatusTooManyRequests:
		retryAfter := 15 * time.Minute
		if header.Get("Retry-After") != "" {
			if seconds, err := strconv.Atoi(header.Get("Retry-After")); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{Endpoint: endpoint, RetryAfter: retryAfter}
	default:
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: status,
			Body:       truncateBody(body),
		}
	}
}

// parseRateLimitHeaders reads the dual-window quota headers.
// Missing headers leave the corresponding field nil.
func parseRateLimitHeaders(header http.Header) *RateLimitSnapshot {
	snapshot := &RateLimitSnapshot{
		Remaining15m: parseIntHeader(header, "X-RateLimit-Remaining"),
		Limit15m:     parseIntHeader(header, "X-RateLimit-Limit"),
		Remaining24h: parseIntHeader(header, "X-RateLimit-Remaining-24h"),
		Limit24h:     parseIntHeader(header, "X-RateLimit-Limit-24h"),
	}
	if snapshot.Remaining15m == nil && snapshot.Limit15m == nil &&
		snapshot.Remaining24h == nil && snapshot.Limit24h == nil {
		return nil
	}
	return snapshot
}

func parseIntHeader(header http.Header, key string) *int {
	raw := header.Get(key)
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &value
}

func mergeSnapshot(dst *RateLimitSnapshot, src *RateLimitSnapshot) {
	if src.Remaining15m != nil {
		dst.Remaining15m = src.Remaining15m
	}
	if src.Remaining24h != nil {
		dst.Remaining24h = src.Remaining24h
	}
	if src.Limit15m != nil {
		dst.Limit15m = src.Limit15m
	}
	if src.Limit24h != nil {
		dst.Limit24h = src.Limit24h
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen])
	}
	return string(body)
}

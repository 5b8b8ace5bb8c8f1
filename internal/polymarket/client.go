// Package polymarket provides a client for the Polymarket Gamma API.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rewired-gh/polyterminal/internal/models"
)

// Client fetches the current universe of events from the Gamma API.
type Client struct {
	gammaAPIURL string
	httpClient  *http.Client
	pageSize    int
	maxRetries  int
	retryDelay  time.Duration
}

// ClientConfig tunes pagination and retry behavior.
type ClientConfig struct {
	PageSize   int
	MaxRetries int
	RetryDelay time.Duration
}

// Event represents an event record from the Gamma API. An event groups one
// or more markets and carries the volume context shared by all of them.
type Event struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Slug       string   `json:"slug"`
	Active     bool     `json:"active"`
	Closed     bool     `json:"closed"`
	Volume     float64  `json:"volume"`
	Volume24hr float64  `json:"volume24hr"`
	Liquidity  float64  `json:"liquidity"`
	Markets    []Market `json:"markets"`
}

// Market represents a market nested inside a Gamma event. OutcomePrices is
// kept raw: the API delivers it as a string-encoded JSON array of decimal
// strings, and malformed payloads must not abort the surrounding fetch.
type Market struct {
	ID            string          `json:"id"`
	Question      string          `json:"question"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	Volume        float64         `json:"volume"`
	Liquidity     float64         `json:"liquidity"`
}

// FetchError reports a whole-fetch abort after a page exhausted its retries.
type FetchError struct {
	Offset int
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch aborted at offset %d: %v", e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrMalformedPrices marks a market whose price payload could not be parsed.
var ErrMalformedPrices = errors.New("malformed outcome prices")

// NewClient creates a new Gamma API client.
func NewClient(gammaAPIURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Client{
		gammaAPIURL: gammaAPIURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pageSize:   cfg.PageSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// FetchAllEvents retrieves the complete set of open events, walking
// limit/offset pages until a short or empty page. Any page exhausting its
// retry budget aborts the whole fetch: the diff engine must never see a
// partial universe of markets, or disappeared markets get flagged
// spuriously.
func (c *Client) FetchAllEvents(ctx context.Context) ([]Event, error) {
	var out []Event
	offset := 0
	for {
		batch, err := c.fetchPage(ctx, offset)
		if err != nil {
			return nil, &FetchError{Offset: offset, Err: err}
		}
		out = append(out, batch...)
		if len(batch) < c.pageSize {
			return out, nil
		}
		offset += c.pageSize
	}
}

// fetchPage requests one page, retrying transient failures with a constant
// backoff up to the configured budget.
func (c *Client) fetchPage(ctx context.Context, offset int) ([]Event, error) {
	u, err := url.Parse(c.gammaAPIURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("archived", "false")
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	urlStr := u.String()

	var batch []Event
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		batch = nil
		if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
			return fmt.Errorf("failed to decode events: %w", err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("failed after %d retries: %w", c.maxRetries, err)
	}
	return batch, nil
}

// ParsePrices decodes a raw outcome-prices payload into yes/no percentages
// on a 0-100 scale, two-decimal precision. The API encodes prices as a JSON
// string containing a JSON array of decimal strings ("[\"0.75\", \"0.25\"]");
// a bare array of strings or numbers is accepted too. Anything else yields
// ErrMalformedPrices.
func ParsePrices(raw json.RawMessage) (yes, no float64, err error) {
	if len(raw) == 0 {
		return 0, 0, ErrMalformedPrices
	}
	data := []byte(raw)

	// Unwrap the string-encoded form first.
	var encoded string
	if json.Unmarshal(data, &encoded) == nil {
		data = []byte(encoded)
	}

	var prices [2]float64
	var strs []string
	if json.Unmarshal(data, &strs) == nil {
		if len(strs) < 2 {
			return 0, 0, ErrMalformedPrices
		}
		for i := 0; i < 2; i++ {
			v, err := strconv.ParseFloat(strs[i], 64)
			if err != nil {
				return 0, 0, ErrMalformedPrices
			}
			prices[i] = v
		}
	} else {
		var nums []float64
		if json.Unmarshal(data, &nums) != nil || len(nums) < 2 {
			return 0, 0, ErrMalformedPrices
		}
		prices[0], prices[1] = nums[0], nums[1]
	}

	return models.Round2(prices[0]*100), models.Round2(prices[1]*100), nil
}

// EventURL builds the canonical viewer URL for an event, using the API slug
// when present and a slug derived from the title otherwise. The tid query
// parameter is the referral tag consumers rely on.
func EventURL(ev Event) string {
	slug := ev.Slug
	if slug == "" {
		slug = Slugify(ev.Title)
	}
	return fmt.Sprintf("https://polymarket.com/event/%s?tid=%s", slug, ev.ID)
}

// Slugify lowercases a title and collapses every non-alphanumeric run into
// a single hyphen.
func Slugify(s string) string {
	out := make([]rune, 0, len(s))
	pendingHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if pendingHyphen && len(out) > 0 {
				out = append(out, '-')
			}
			pendingHyphen = false
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			if pendingHyphen && len(out) > 0 {
				out = append(out, '-')
			}
			pendingHyphen = false
			out = append(out, r-'A'+'a')
		default:
			pendingHyphen = true
		}
	}
	return string(out)
}

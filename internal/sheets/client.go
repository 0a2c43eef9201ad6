// Package sheets pulls the external spreadsheet that business staff edit
// by hand. It is the engine's only view of the source of truth.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/ignite/crm-sync/internal/pkg/httpretry"
)

const (
	BaseURL        = "https://sheets.googleapis.com/v4"
	DefaultTimeout = 30 * time.Second

	readScope = "https://www.googleapis.com/auth/spreadsheets.readonly"
)

// QuotaError signals the source API rejected the pull for rate/quota
// reasons. The sync pass retries with backoff and, on exhaustion, is
// marked partially failed; already-applied rows stay applied.
type QuotaError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("source quota exceeded (status %d)", e.StatusCode)
}

// Client reads value ranges from the spreadsheet API.
type Client struct {
	httpClient httpretry.HTTPDoer
	baseURL    string
}

// NewClient builds a client authenticated with a service-account key.
// An empty key falls back to unauthenticated access, which works for
// sheets shared as public-readable and keeps local development simple.
func NewClient(ctx context.Context, credentialsJSON []byte, maxRetries int, backoffBase time.Duration) (*Client, error) {
	base := &http.Client{Timeout: DefaultTimeout}
	if len(credentialsJSON) > 0 {
		conf, err := google.JWTConfigFromJSON(credentialsJSON, readScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account credentials: %w", err)
		}
		base = conf.Client(ctx)
		base.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpretry.NewRetryClient(base, maxRetries, backoffBase),
		baseURL:    BaseURL,
	}, nil
}

// valueRange mirrors the API's values.get response. Cells arrive as
// heterogeneous JSON scalars depending on the sheet's cell formats.
type valueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension"`
	Values         [][]any `json:"values"`
}

// FetchRows pulls one full value range and splits it into the header row
// and the data rows. All cells come back as raw strings; typing them is
// the value normalizer's job.
func (c *Client) FetchRows(ctx context.Context, sheetID, rangeSpec string) (headers []string, rows [][]string, err error) {
	u := fmt.Sprintf("%s/spreadsheets/%s/values/%s?majorDimension=ROWS&valueRenderOption=UNFORMATTED_VALUE",
		c.baseURL, url.PathEscape(sheetID), url.PathEscape(rangeSpec))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s!%s: %w", sheetID, rangeSpec, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, nil, &QuotaError{StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("fetch %s!%s: status %d: %s", sheetID, rangeSpec, resp.StatusCode, body)
	}

	var vr valueRange
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, nil, fmt.Errorf("decode value range: %w", err)
	}
	if len(vr.Values) == 0 {
		return nil, nil, fmt.Errorf("empty value range %s!%s", sheetID, rangeSpec)
	}

	headers = stringifyRow(vr.Values[0])
	rows = make([][]string, 0, len(vr.Values)-1)
	for _, raw := range vr.Values[1:] {
		rows = append(rows, stringifyRow(raw))
	}
	return headers, rows, nil
}

// stringifyRow flattens heterogeneous JSON cells to strings. Numbers keep
// their full precision (a bare serial day count must survive untouched).
func stringifyRow(cells []any) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		switch v := c.(type) {
		case string:
			out[i] = v
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[i] = strconv.FormatBool(v)
		case nil:
			out[i] = ""
		default:
			out[i] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

func retryAfter(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

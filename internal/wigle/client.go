// Package wigle is a client for the WiGLE network-search API. It paginates
// bounding-box searches, paces requests through a shared rate limiter, and
// keeps a shared view of the account's remaining request quota.
package wigle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flockfinder/flockfinder/internal/model"
	"github.com/flockfinder/flockfinder/internal/resilience"
)

const (
	// DefaultBaseURL is the production WiGLE API host.
	DefaultBaseURL = "https://api.wigle.net"

	searchPath = "/api/v2/network/search"
	statsPath  = "/api/v2/stats/user"
	sitePath   = "/api/v2/stats/site"

	// pageSize is the maximum results WiGLE returns per search request.
	pageSize = 100

	requestTimeout = 30 * time.Second
)

// ClientConfig carries the client's credentials and tuning.
type ClientConfig struct {
	// BaseURL overrides the API host; empty selects production.
	BaseURL string
	// Token is the base64-encoded username:token pair for Basic auth.
	Token string
	// RequestsPerSecond paces outgoing requests across all units.
	RequestsPerSecond float64
	// SinceDate restricts results to networks seen on or after this
	// date, formatted YYYYMMDD. Empty means no restriction.
	SinceDate string
}

// Client queries the WiGLE network-search API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	sinceDate  string
	limiter    *rate.Limiter
	budget     *Budget
	logger     *zap.Logger
}

// NewClient creates a WiGLE client sharing one limiter and budget across
// all callers.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		sinceDate:  cfg.SinceDate,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		budget:     NewBudget(),
		logger:     zap.L().With(zap.String("component", "wigle")),
	}
}

// Budget exposes the shared quota tracker, mainly for status reporting.
func (c *Client) Budget() *Budget { return c.budget }

type searchResponse struct {
	Success     bool            `json:"success"`
	TotalCount  int             `json:"totalResults"`
	SearchAfter string          `json:"searchAfter"`
	Results     []networkRecord `json:"results"`
	Message     string          `json:"message"`
}

type networkRecord struct {
	NetID      string  `json:"netid"`
	SSID       string  `json:"ssid"`
	TriLat     float64 `json:"trilat"`
	TriLong    float64 `json:"trilong"`
	FirstTime  string  `json:"firsttime"`
	LastUpdt   string  `json:"lastupdt"`
	Channel    int     `json:"channel"`
	Encryption string  `json:"encryption"`
	Type       string  `json:"type"`
}

// SearchResult is one unit's fully-paginated observations plus the count of
// malformed records dropped while decoding.
type SearchResult struct {
	Observations []model.Observation
	Malformed    int
}

// SearchBBox pulls every page of observations matching the SSID pattern
// inside the bounding box. Pages are fetched in cursor order until the API
// reports no further page. An empty pattern searches by location alone.
func (c *Client) SearchBBox(ctx context.Context, box model.BBox, ssidPattern string) (*SearchResult, error) {
	result := &SearchResult{}
	cursor := ""

	for {
		page, err := c.searchPage(ctx, box, ssidPattern, cursor)
		if err != nil {
			return nil, err
		}

		for _, rec := range page.Results {
			obs, ok := decodeObservation(rec)
			if !ok {
				result.Malformed++
				continue
			}
			result.Observations = append(result.Observations, obs)
		}

		if page.SearchAfter == "" || len(page.Results) < pageSize {
			return result, nil
		}
		cursor = page.SearchAfter
	}
}

func (c *Client) searchPage(ctx context.Context, box model.BBox, ssidPattern, cursor string) (*searchResponse, error) {
	params := url.Values{
		"latrange1":  {strconv.FormatFloat(box.MinLat, 'f', -1, 64)},
		"latrange2":  {strconv.FormatFloat(box.MaxLat, 'f', -1, 64)},
		"longrange1": {strconv.FormatFloat(box.MinLon, 'f', -1, 64)},
		"longrange2": {strconv.FormatFloat(box.MaxLon, 'f', -1, 64)},
		"onlymine":   {"false"},
		"freenet":    {"false"},
		"paynet":     {"false"},
		"results":    {strconv.Itoa(pageSize)},
	}
	if ssidPattern != "" {
		params.Set("ssidlike", ssidPattern)
	}
	if c.sinceDate != "" {
		params.Set("lastupdt", c.sinceDate)
	}
	if cursor != "" {
		params.Set("searchAfter", cursor)
	}

	body, err := c.get(ctx, searchPath, params)
	if err != nil {
		return nil, err
	}

	var page searchResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, eris.Wrap(err, "wigle: decode search response")
	}
	if !page.Success {
		return nil, eris.Errorf("wigle: search rejected: %s", page.Message)
	}
	return &page, nil
}

// QuotaStatus reports the account's query statistics from the stats
// endpoint.
type QuotaStatus struct {
	DailyQueries   int `json:"daily_queries"`
	MonthlyQueries int `json:"monthly_queries"`
}

// Quota fetches the account's current usage statistics.
func (c *Client) Quota(ctx context.Context) (*QuotaStatus, error) {
	body, err := c.get(ctx, statsPath, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Success    bool `json:"success"`
		Statistics struct {
			PrevDay   int `json:"eventPrevCalendarDay"`
			PrevMonth int `json:"eventPrevMonth"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "wigle: decode stats response")
	}
	if !parsed.Success {
		return nil, eris.New("wigle: stats request rejected")
	}
	return &QuotaStatus{
		DailyQueries:   parsed.Statistics.PrevDay,
		MonthlyQueries: parsed.Statistics.PrevMonth,
	}, nil
}

// CheckAuth verifies the credentials against a cheap endpoint.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, err := c.get(ctx, sitePath, nil)
	return eris.Wrap(err, "wigle: auth check")
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.budget.Acquire(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "wigle: limiter wait")
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "wigle: build request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Basic "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "wigle: request"), 0)
	}
	defer resp.Body.Close()

	c.updateBudget(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "wigle: read response"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, resilience.NewRateLimitError(eris.New("wigle: rate limited"), retryAfter)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, eris.New("wigle: unauthorized (check API token)")
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(eris.Errorf("wigle: http %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("wigle: http %d", resp.StatusCode)
	}
	return body, nil
}

// updateBudget feeds the shared tracker from the quota headers the API
// attaches to every response.
func (c *Client) updateBudget(h http.Header) {
	remainingHdr := h.Get("X-RateLimit-Remaining")
	if remainingHdr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingHdr)
	if err != nil {
		return
	}

	var resetAt time.Time
	if resetHdr := h.Get("X-RateLimit-Reset"); resetHdr != "" {
		if epoch, err := strconv.ParseInt(resetHdr, 10, 64); err == nil {
			resetAt = time.Unix(epoch, 0)
		}
	}
	c.budget.Update(remaining, resetAt)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// MapURL returns the WiGLE map page for a BSSID.
func MapURL(bssid string) string {
	return fmt.Sprintf("https://wigle.net/search?netid=%s", url.QueryEscape(bssid))
}

// wigleTimeLayouts covers the timestamp shapes the API has been seen to
// return for firsttime/lastupdt.
var wigleTimeLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseWigleTime(s string) time.Time {
	for _, layout := range wigleTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// decodeObservation converts one API record into the domain shape. Records
// without a BSSID or with out-of-range coordinates are malformed and
// reported as dropped rather than silently skipped.
func decodeObservation(rec networkRecord) (model.Observation, bool) {
	if rec.NetID == "" {
		return model.Observation{}, false
	}
	if rec.TriLat < -90 || rec.TriLat > 90 || rec.TriLong < -180 || rec.TriLong > 180 {
		return model.Observation{}, false
	}

	raw := map[string]any{
		"type": rec.Type,
	}
	if rec.Channel != 0 {
		raw["channel"] = rec.Channel
	}
	if rec.Encryption != "" {
		raw["encryption"] = rec.Encryption
	}

	return model.Observation{
		BSSID:     rec.NetID,
		SSID:      rec.SSID,
		Latitude:  rec.TriLat,
		Longitude: rec.TriLong,
		FirstSeen: parseWigleTime(rec.FirstTime),
		LastSeen:  parseWigleTime(rec.LastUpdt),
		Raw:       raw,
	}, true
}

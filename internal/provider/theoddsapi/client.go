// Package theoddsapi adapts The Odds API v4 to odds.Provider.
package theoddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/odds"
)

const (
	Name           = "the_odds_api"
	defaultBaseURL = "https://api.the-odds-api.com/v4"
)

// ErrSportNotFound is returned for a sport key the API does not know.
var ErrSportNotFound = errors.New("sport key not found")

type Client struct {
	apiKey     string
	baseURL    string
	regions    []string
	bookmakers []string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time

	mu        sync.RWMutex
	remaining *int
}

// New builds a Client from cfg. A zero request rate leaves requests
// unthrottled.
func New(cfg config.OddsAPIConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	regions := cfg.Regions
	if len(regions) == 0 {
		regions = []string{"eu", "uk", "us", "au"}
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		regions:    regions,
		bookmakers: cfg.Bookmakers,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		now:        time.Now,
	}
}

func (c *Client) Name() string { return Name }

// RemainingRequests returns the last x-requests-remaining value seen.
func (c *Client) RemainingRequests() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.remaining == nil {
		return 0, false
	}
	return *c.remaining, true
}

// Fetch queries every sport key mapped to sport concurrently. A key that
// fails is logged and skipped; Fetch only fails when every key failed.
func (c *Client) Fetch(ctx context.Context, sport odds.Sport, markets []odds.Market) (*odds.Batch, error) {
	keys := SportKeys(sport)
	if len(keys) == 0 {
		return nil, fmt.Errorf("no sport keys for %s", sport)
	}

	results := make([][]odds.Event, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			evs, err := c.fetchKey(ctx, key, sport, markets)
			switch {
			case errors.Is(err, ErrSportNotFound):
				// Out-of-season keys disappear; skipping one is not a failure.
				slog.Warn("sport key not found", "source", Name, "sport_key", key)
				err = nil
			case err != nil:
				slog.Error("odds fetch failed", "source", Name, "sport_key", key, "error", err)
			default:
				slog.Info("odds fetched", "source", Name, "sport_key", key, "event_count", len(evs))
			}
			results[i], errs[i] = evs, err
			return nil
		})
	}
	_ = g.Wait()

	batch := &odds.Batch{Source: Name, FetchedAt: c.now().UTC()}
	failed := 0
	for i := range keys {
		if errs[i] != nil {
			failed++
			continue
		}
		batch.Events = append(batch.Events, results[i]...)
	}
	if rem, ok := c.RemainingRequests(); ok {
		batch.RemainingRequests = &rem
	}
	if failed == len(keys) {
		return nil, fmt.Errorf("fetching %s: all %d sport keys failed: %w", sport, failed, errors.Join(errs...))
	}
	return batch, nil
}

func (c *Client) fetchKey(ctx context.Context, key string, sport odds.Sport, markets []odds.Market) ([]odds.Event, error) {
	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("regions", strings.Join(c.regions, ","))
	params.Set("markets", joinMarkets(markets))
	params.Set("oddsFormat", "decimal")
	if len(c.bookmakers) > 0 {
		params.Set("bookmakers", strings.Join(c.bookmakers, ","))
	}

	var raw []json.RawMessage
	if err := c.get(ctx, "/sports/"+url.PathEscape(key)+"/odds", params, &raw); err != nil {
		return nil, err
	}
	return parseEvents(raw, sport), nil
}

// SportInfo is one entry of the /sports listing.
type SportInfo struct {
	Key          string `json:"key"`
	Group        string `json:"group"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Active       bool   `json:"active"`
	HasOutrights bool   `json:"has_outrights"`
}

// Sports lists the sport keys the API currently offers.
func (c *Client) Sports(ctx context.Context) ([]SportInfo, error) {
	params := url.Values{}
	params.Set("apiKey", c.apiKey)

	var out []SportInfo
	if err := c.get(ctx, "/sports", params, &out); err != nil {
		return nil, fmt.Errorf("listing sports: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.trackRemaining(resp.Header)

	if resp.StatusCode == http.StatusNotFound {
		return ErrSportNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("requesting %s: unexpected status %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) trackRemaining(h http.Header) {
	v := h.Get("x-requests-remaining")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		// The API reports fractional usage on some plans.
		f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if ferr != nil {
			return
		}
		n = int(f)
	}
	c.mu.Lock()
	c.remaining = &n
	c.mu.Unlock()
}

func joinMarkets(markets []odds.Market) string {
	if len(markets) == 0 {
		return string(odds.H2H)
	}
	parts := make([]string, len(markets))
	for i, m := range markets {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

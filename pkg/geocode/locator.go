package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atx-organizing/district-cli/internal/resilience"
)

// Locator geocodes through a municipal ArcGIS findAddressCandidates
// endpoint. The endpoint is not a published API: requests are paced hard,
// candidates come back as JSONP, and the server expects the cookies a
// browser would have picked up, so the first call warms up a session
// against the city site.
type Locator struct {
	endpoint   string
	warmupURL  string
	httpClient *http.Client
	limiter    *rate.Limiter

	warmupMu sync.Mutex
	warmedUp bool
}

// LocatorOption configures the Locator.
type LocatorOption func(*Locator)

// WithLocatorHTTPClient sets a custom HTTP client (tests).
func WithLocatorHTTPClient(hc *http.Client) LocatorOption {
	return func(l *Locator) {
		l.httpClient = hc
	}
}

// WithLocatorRateLimit sets the requests-per-second pace.
func WithLocatorRateLimit(rps float64) LocatorOption {
	return func(l *Locator) {
		l.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithLocatorWarmup sets the page fetched once to establish session cookies.
// Empty disables the warm-up.
func WithLocatorWarmup(u string) LocatorOption {
	return func(l *Locator) {
		l.warmupURL = u
	}
}

// NewLocator creates a Locator for the given findAddressCandidates endpoint.
func NewLocator(endpoint string, opts ...LocatorOption) *Locator {
	jar, _ := cookiejar.New(nil)
	l := &Locator{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
		limiter:    rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Provider.
func (l *Locator) Name() string { return "locator" }

// Available implements Provider.
func (l *Locator) Available() bool { return l.endpoint != "" }

// locatorResponse is the JSON payload inside the JSONP wrapper.
type locatorResponse struct {
	Candidates []struct {
		Address  string `json:"address"`
		Location struct {
			X float64 `json:"x"` // longitude (outSR=4326)
			Y float64 `json:"y"` // latitude
		} `json:"location"`
		Score json.Number `json:"score"`
	} `json:"candidates"`
}

// Geocode implements Provider.
func (l *Locator) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	oneLine := formatOneLine(addr)
	if oneLine == "" {
		return &Result{Matched: false, Source: "locator"}, nil
	}

	if err := l.ensureWarm(ctx); err != nil {
		return nil, err
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: locator rate limit")
	}

	params := url.Values{
		"SingleLine":   {oneLine},
		"outFields":    {""},
		"maxLocations": {"1"},
		"outSR":        {"4326"},
		"searchExtent": {""},
		"f":            {"pjson"},
		"callback":     {"callback"},
		"js":           {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: locator build request")
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: locator request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: locator returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: locator read body")
	}

	payload, err := unwrapJSONP(string(body))
	if err != nil {
		return nil, err
	}

	var locResp locatorResponse
	if err := json.Unmarshal([]byte(payload), &locResp); err != nil {
		return nil, eris.Wrap(err, "geocode: locator parse response")
	}

	if len(locResp.Candidates) == 0 {
		return &Result{Matched: false, Source: "locator"}, nil
	}

	c := locResp.Candidates[0]
	score := 0
	if f, err := c.Score.Float64(); err == nil {
		score = int(f)
	}

	return &Result{
		Latitude:       c.Location.Y,
		Longitude:      c.Location.X,
		MatchedAddress: c.Address,
		Score:          score,
		Quality:        scoreToQuality(score),
		Source:         "locator",
		Matched:        true,
	}, nil
}

// ensureWarm runs the warm-up on the first successful attempt. A failed
// warm-up is not latched: the next Geocode call tries again, so a transient
// outage or a cancelled first caller does not disable the locator for the
// rest of the process.
func (l *Locator) ensureWarm(ctx context.Context) error {
	l.warmupMu.Lock()
	defer l.warmupMu.Unlock()

	if l.warmedUp || l.warmupURL == "" {
		return nil
	}
	if err := l.warmup(ctx); err != nil {
		return err
	}
	l.warmedUp = true
	return nil
}

// warmup fetches the city landing page so the session carries the cookies
// the GIS endpoints expect.
func (l *Locator) warmup(ctx context.Context) error {
	if l.warmupURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.warmupURL, nil)
	if err != nil {
		return eris.Wrap(err, "geocode: locator warmup build request")
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "geocode: locator warmup")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

// unwrapJSONP extracts the JSON payload from a "callback(...);" wrapper.
// Plain JSON responses pass through unchanged.
func unwrapJSONP(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	if !strings.HasPrefix(trimmed, "callback(") {
		zap.L().Warn("geocode: unexpected JSONP callback name",
			zap.String("prefix", head(trimmed, 16)),
		)
	}

	open := strings.Index(trimmed, "(")
	close_ := strings.LastIndex(trimmed, ")")
	if open < 0 || close_ <= open {
		return "", eris.Errorf("geocode: malformed JSONP response %q", head(trimmed, 32))
	}
	return trimmed[open+1 : close_], nil
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

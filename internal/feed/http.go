package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/cache"
	"github.com/ppiankov/surety/internal/common"
	"github.com/ppiankov/surety/internal/model"
	"github.com/ppiankov/surety/internal/worker"
)

const (
	feedMaxRetries = 3
	feedMaxBytes   = 1 << 16
)

// ErrBadAnswer is returned when the feed answers with something that is not a status code
var ErrBadAnswer = common.Register(common.KindValidation, "bad_feed_answer", "feed answer is not a valid status")

// feedSleepFunc waits between retries (injectable for tests). It returns early with ctx's error.
var feedSleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPFeed asks an external flight-status service, e.g.
// GET {url}?airline=A&flight=F&timestamp=T answering {"status_code": 20}.
// Answers are cached per flight so every oracle reports the same code.
type HTTPFeed struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	cache      cache.Cache
	ttl        time.Duration
	limiter    *worker.Limiter
}

// NewHTTPFeed creates a feed client. cache and limiter may be nil.
func NewHTTPFeed(baseURL string, timeout time.Duration, c cache.Cache, ttl time.Duration, limiter *worker.Limiter) *HTTPFeed {
	return &HTTPFeed{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		baseURL:   baseURL,
		userAgent: "surety-oracle/1",
		cache:     c,
		ttl:       ttl,
		limiter:   limiter,
	}
}

type feedAnswer struct {
	StatusCode *int   `json:"status_code"`
	Status     string `json:"status"`
}

// Status returns the feed's answer for the flight
func (f *HTTPFeed) Status(ctx context.Context, req model.StatusRequested, _ string) (model.StatusCode, error) {
	key := cache.Key("feed", f.baseURL, req.Airline, req.Flight, strconv.FormatInt(req.Timestamp, 10))
	if f.cache != nil {
		if b, ok := f.cache.Get(key); ok && len(b) == 1 {
			return model.StatusCode(b[0]), nil
		}
	}

	code, err := f.fetchWithRetry(ctx, req)
	if err != nil {
		return 0, err
	}

	if f.cache != nil {
		_ = f.cache.Set(key, []byte{byte(code)}, f.ttl)
	}
	return code, nil
}

func (f *HTTPFeed) fetchWithRetry(ctx context.Context, req model.StatusRequested) (model.StatusCode, error) {
	var lastErr error
	for attempt := 0; attempt < feedMaxRetries; attempt++ {
		code, retry, err := f.fetch(ctx, req)
		if err == nil {
			return code, nil
		}
		if common.KindOf(err) == common.KindValidation {
			return 0, errors.Wrapf(err, "feed %s", req.Flight)
		}
		lastErr = err
		if !retry || attempt == feedMaxRetries-1 {
			break
		}
		if err := feedSleepFunc(ctx, time.Duration(1<<uint(attempt))*time.Second); err != nil {
			lastErr = err
			break
		}
	}
	return 0, errors.Wrapf(common.WithCause(common.ErrTransport, lastErr), "feed %s", req.Flight)
}

// fetch performs one request and reports whether a failure is transient
func (f *HTTPFeed) fetch(ctx context.Context, req model.StatusRequested) (model.StatusCode, bool, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return 0, false, errors.Wrap(err, "parse feed url")
	}
	q := u.Query()
	q.Set("airline", req.Airline)
	q.Set("flight", req.Flight)
	q.Set("timestamp", strconv.FormatInt(req.Timestamp, 10))
	u.RawQuery = q.Encode()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, u.Host); err != nil {
			return 0, false, err
		}
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, false, errors.Wrap(err, "create request")
	}
	hreq.Header.Set("User-Agent", f.userAgent)
	hreq.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(hreq)
	if err != nil {
		return 0, isRetryableNetworkError(err), errors.Wrap(err, "fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return 0, retry, errors.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, feedMaxBytes))
	if err != nil {
		return 0, true, errors.Wrap(err, "read body")
	}

	var ans feedAnswer
	if err := json.Unmarshal(body, &ans); err != nil {
		return 0, false, common.WithCause(ErrBadAnswer, err)
	}
	code, err := ans.code()
	if err != nil {
		return 0, false, common.WithCause(ErrBadAnswer, err)
	}
	return code, false, nil
}

func (a feedAnswer) code() (model.StatusCode, error) {
	if a.StatusCode != nil {
		return model.ParseStatusCode(strconv.Itoa(*a.StatusCode))
	}
	if a.Status != "" {
		return model.ParseStatusCode(a.Status)
	}
	return 0, errors.New("feed answer has no status")
}

// isRetryableNetworkError checks for transient network failures
func isRetryableNetworkError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset")
}

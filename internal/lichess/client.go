package lichess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/bards-gambit/internal/annotate"
	"github.com/park285/bards-gambit/internal/chess"
	"github.com/park285/bards-gambit/internal/domain"
	"github.com/valyala/fasthttp"
)

const DefaultBaseURL = "https://lichess.org"

var ErrRateLimited = errors.New("lichess rate limit")

// CloudEval is the subset of the cloud-eval response used for scoring.
type CloudEval struct {
	FEN    string `json:"fen"`
	Depth  int    `json:"depth"`
	KNodes int    `json:"knodes"`
	PVs    []struct {
		Moves string `json:"moves"`
		CP    *int   `json:"cp,omitempty"`
		Mate  *int   `json:"mate,omitempty"`
	} `json:"pvs"`
}

// Evaluation reads the principal variation. Scores are already from White's perspective.
func (e CloudEval) Evaluation() domain.Evaluation {
	if len(e.PVs) == 0 || e.PVs[0].CP == nil {
		return domain.Unavailable()
	}
	return domain.Centipawns(*e.PVs[0].CP)
}

// Client queries the lichess cloud evaluation database. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire implements annotate.EvaluatorSource; the client is shared between games.
func (c *Client) Acquire(context.Context) (annotate.Evaluator, func(), error) {
	return c, func() {}, nil
}

// Evaluate returns the cloud evaluation of fen. Positions missing from the cloud database
// are unavailable, not errors.
func (c *Client) Evaluate(ctx context.Context, fen string) (domain.Evaluation, error) {
	ev, err := c.evaluate(ctx, fen)
	chess.ObserveEval("lichess", ev, err)
	return ev, err
}

func (c *Client) evaluate(ctx context.Context, fen string) (domain.Evaluation, error) {
	q := url.Values{}
	q.Set("fen", strings.TrimSpace(fen))
	q.Set("multiPv", "1")

	var out CloudEval
	status, err := c.getJSON(ctx, "/api/cloud-eval?"+q.Encode(), &out)
	if err != nil {
		return domain.Unavailable(), err
	}
	if status == fasthttp.StatusNotFound {
		return domain.Unavailable(), nil
	}
	return out.Evaluation(), nil
}

// getJSON returns 404 as a status rather than an error so callers can treat it as "no data".
func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return 0, lastErr
			}
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return 0, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == fasthttp.StatusNotFound:
			return status, nil
		case status == fasthttp.StatusTooManyRequests:
			return status, ErrRateLimited
		case status < 200 || status >= 300:
			lastErr = fmt.Errorf("lichess api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return status, lastErr
			}
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return status, lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return status, fmt.Errorf("decode response: %w", err)
			}
		}
		return status, nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return 0, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	userAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodySize = 8 << 20
)

// fetcher is the HTTP side shared by the judge adapters: every request is
// throttled by a limiter and bounded by a timeout.
type fetcher struct {
	platform  string
	base      *url.URL
	client    *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	pageDelay time.Duration
	jitter    time.Duration
	workers   int
	maxPages  int
	// cookies, when set, is attached to every request.
	cookies func() []*http.Cookie
}

func newFetcher(platform string, cfg config.Judge) *fetcher {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		zap.S().Fatalf("invalid base url for %s: %v", platform, err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	limit := rate.Inf
	if cfg.DetailDelay > 0 {
		limit = rate.Every(cfg.DetailDelay)
	}
	return &fetcher{
		platform:  platform,
		base:      base,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(limit, 1),
		timeout:   cfg.Timeout,
		pageDelay: cfg.PageDelay,
		jitter:    cfg.DetailDelay / 2,
		workers:   workers,
		maxPages:  cfg.MaxPages,
	}
}

// pause sleeps d plus a random jitter, returning early when ctx is done.
func (f *fetcher) pause(ctx context.Context, d time.Duration) error {
	if f.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(f.jitter)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *fetcher) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, f.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if f.cookies != nil {
		for _, c := range f.cookies() {
			req.AddCookie(c)
		}
	}
	return req, nil
}

// send performs req and returns the response together with its body.
func (f *fetcher) send(req *http.Request) (*http.Response, []byte, error) {
	if err := f.limiter.Wait(req.Context()); err != nil {
		return nil, nil, err
	}
	if f.timeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), f.timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}
	zap.S().Debugf("%s: %s %s", f.platform, req.Method, req.URL)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %s: %v: %w", f.platform, req.URL.Path, err, util.ErrUpstream)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read %s: %v: %w", f.platform, req.URL.Path, err, util.ErrUpstream)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, fmt.Errorf("%s: %s returned %d: %w", f.platform, req.URL.Path, resp.StatusCode, util.ErrUpstream)
	}
	return resp, body, nil
}

// document GETs path and parses the response as HTML.
func (f *fetcher) document(ctx context.Context, path string) (*goquery.Document, *http.Response, error) {
	req, err := f.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, body, err := f.send(req)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: parse %s: %v: %w", f.platform, path, err, util.ErrUpstream)
	}
	return doc, resp, nil
}

// listedSubmission is a row of a judge's submission list that matched a target.
type listedSubmission struct {
	id      string
	problem string
	at      time.Time
	target  Target
}

// collect applies the window and target filters to one page of newest-first
// rows. It reports stop once a row older than the window is seen.
func collect(rows []listedSubmission, window Window, targets map[string]Target, seen map[string]bool, out []listedSubmission) ([]listedSubmission, bool) {
	for _, row := range rows {
		if seen[row.id] {
			continue
		}
		seen[row.id] = true
		if window.Before(row.at) {
			return out, true
		}
		if window.After(row.at) {
			continue
		}
		target, ok := targets[row.problem]
		if !ok {
			continue
		}
		row.target = target
		out = append(out, row)
	}
	return out, false
}

// fetchDetails loads the detail page of every listed submission on a bounded
// pool. Submissions whose page cannot be fetched or parsed are dropped, but if
// ctx ends before the pool drains the whole crawl fails.
func (f *fetcher) fetchDetails(ctx context.Context, listed []listedSubmission, detailPath func(id string) string, parse func(*goquery.Document) ([]float64, error)) ([]RawSubmission, error) {
	results := make([]*RawSubmission, len(listed))
	var g errgroup.Group
	g.SetLimit(f.workers)
	for i, item := range listed {
		g.Go(func() error {
			if err := f.pause(ctx, 0); err != nil {
				return nil
			}
			doc, _, err := f.document(ctx, detailPath(item.id))
			if err != nil {
				zap.S().Warnf("%s: dropping submission %s: %v", f.platform, item.id, err)
				return nil
			}
			scores, err := parse(doc)
			if err != nil {
				zap.S().Warnf("%s: dropping submission %s: %v", f.platform, item.id, err)
				return nil
			}
			results[i] = &RawSubmission{
				ProblemIndex:  item.target.Index,
				ProblemName:   item.target.Name,
				Platform:      f.platform,
				SubmissionID:  item.id,
				SubmittedAt:   item.at.UTC(),
				SubtaskScores: scores,
				TotalScore:    sum(scores),
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, f.interrupted(err)
	}

	subs := make([]RawSubmission, 0, len(listed))
	for _, r := range results {
		if r != nil {
			subs = append(subs, *r)
		}
	}
	return subs, nil
}

// interrupted reports a crawl cut short by its context as a judge failure.
func (f *fetcher) interrupted(err error) error {
	return fmt.Errorf("%s: crawl interrupted: %w", f.platform, errors.Join(err, util.ErrUpstream))
}

// parseFloat reads a score such as "37.5" or "37.5 / 100".
func parseFloat(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "/"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return strconv.ParseFloat(text, 64)
}

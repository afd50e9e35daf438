package judge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
)

const (
	qojSessionCookie = "UOJSESSID"
	qojSessionKey    = "judge:qoj.ac:session"
	qojSessionTTL    = 7 * 24 * time.Hour
	qojTimeLayout    = "2006-01-02 15:04:05"
	// a page index far past the end makes the pager render the last page
	qojSentinelPage = 10000000
)

var (
	qojProblemRe    = regexp.MustCompile(`/problem/(\d+)`)
	qojTokenRe      = regexp.MustCompile(`_token\s*:\s*"([^"]+)"`)
	qojServerTimeRe = regexp.MustCompile(`Server Time:\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
	qojScoreRe      = regexp.MustCompile(`(?i)score:\s*([0-9.]+)`)
)

// QOJ crawls qoj.ac. Submission lists require a logged in session; the
// session cookie is kept in the KV store so restarts and other processes reuse it.
type QOJ struct {
	f        *fetcher
	store    kv.Store
	username string
	password string
	now      func() time.Time

	mu      sync.RWMutex
	session string
	refresh sync.Mutex
}

func NewQOJ(cfg config.Judge, store kv.Store) *QOJ {
	c := &QOJ{
		f:        newFetcher(PlatformQOJ, cfg),
		store:    store,
		username: cfg.Username,
		password: cfg.Password,
		now:      time.Now,
	}
	c.f.cookies = c.sessionCookies
	return c
}

func (c *QOJ) Platform() string { return PlatformQOJ }

func (c *QOJ) ProblemID(link string) (string, bool) {
	if !strings.Contains(link, "qoj.ac") {
		return "", false
	}
	m := qojProblemRe.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (c *QOJ) sessionCookies() []*http.Cookie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == "" {
		return nil
	}
	return []*http.Cookie{{Name: qojSessionCookie, Value: c.session}}
}

func (c *QOJ) setSession(session string) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

func (c *QOJ) loadSession(ctx context.Context) {
	c.mu.RLock()
	have := c.session != ""
	c.mu.RUnlock()
	if have || c.store == nil {
		return
	}
	session, err := c.store.Get(ctx, qojSessionKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			zap.S().Warnf("qoj.ac: cannot load session: %v", err)
		}
		return
	}
	// a login may have finished while the store was read
	c.mu.Lock()
	if c.session == "" {
		c.session = session
	}
	c.mu.Unlock()
}

// login performs the credentialed login and stores the new session. The
// shared session changes only once the login has succeeded.
func (c *QOJ) login(ctx context.Context) error {
	if c.username == "" || c.password == "" {
		return fmt.Errorf("qoj.ac: no judge account configured: %w", util.ErrForbidden)
	}

	req, err := c.loginRequest(ctx, http.MethodGet, "", nil)
	if err != nil {
		return err
	}
	resp, body, err := c.f.send(req)
	if err != nil {
		return err
	}
	m := qojTokenRe.FindSubmatch(body)
	if m == nil {
		return fmt.Errorf("qoj.ac: login form token not found: %w", util.ErrUpstream)
	}
	pending := cookieValue(resp.Cookies(), qojSessionCookie)

	digest := md5.Sum([]byte(c.password))
	form := url.Values{}
	form.Set("_token", string(m[1]))
	form.Set("login", "")
	form.Set("username", c.username)
	form.Set("password", hex.EncodeToString(digest[:]))
	req, err = c.loginRequest(ctx, http.MethodPost, pending, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	resp, body, err = c.f.send(req)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) != "ok" {
		return fmt.Errorf("qoj.ac: login rejected: %w", util.ErrInvalidCredentials)
	}
	if renewed := cookieValue(resp.Cookies(), qojSessionCookie); renewed != "" {
		pending = renewed
	}
	if pending == "" {
		return fmt.Errorf("qoj.ac: login returned no session cookie: %w", util.ErrUpstream)
	}
	c.setSession(pending)
	if c.store != nil {
		if err := c.store.Set(ctx, qojSessionKey, pending, qojSessionTTL); err != nil {
			zap.S().Warnf("qoj.ac: cannot persist session: %v", err)
		}
	}
	zap.S().Infof("qoj.ac: logged in as %s", c.username)
	return nil
}

// loginRequest builds a /login request carrying only the session being
// established, never the shared one.
func (c *QOJ) loginRequest(ctx context.Context, method, session string, body io.Reader) (*http.Request, error) {
	req, err := c.f.newRequest(ctx, method, "/login", body)
	if err != nil {
		return nil, err
	}
	req.Header.Del("Cookie")
	if session != "" {
		req.AddCookie(&http.Cookie{Name: qojSessionCookie, Value: session})
	}
	return req, nil
}

func (c *QOJ) currentSession() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *QOJ) listPath(username string, page int) string {
	q := url.Values{}
	q.Set("submitter", username)
	q.Set("page", strconv.Itoa(page))
	return "/submissions?" + q.Encode()
}

// firstLook loads an out of range submissions page, which tells whether the session
// is alive and how many pages there are. A dead session is refreshed once.
func (c *QOJ) firstLook(ctx context.Context, username string) (*goquery.Document, error) {
	c.loadSession(ctx)
	refreshed := false
	if c.currentSession() == "" {
		if err := c.relogin(ctx, ""); err != nil {
			return nil, err
		}
		refreshed = true
	}
	for {
		used := c.currentSession()
		doc, _, err := c.f.document(ctx, c.listPath(username, qojSentinelPage))
		if err != nil {
			return nil, err
		}
		if loggedIn(doc) {
			return doc, nil
		}
		if refreshed {
			return nil, fmt.Errorf("qoj.ac: session rejected after login: %w", util.ErrInvalidCredentials)
		}
		zap.S().Infof("qoj.ac: session expired, logging in again")
		if err := c.relogin(ctx, used); err != nil {
			return nil, err
		}
		refreshed = true
	}
}

// relogin replaces the stale session. When another caller has already
// swapped it out while this one waited, the fresh session is kept.
func (c *QOJ) relogin(ctx context.Context, stale string) error {
	c.refresh.Lock()
	defer c.refresh.Unlock()
	if current := c.currentSession(); current != "" && current != stale {
		return nil
	}
	return c.login(ctx)
}

func loggedIn(doc *goquery.Document) bool {
	if doc.Find(`a.nav-link[href="//qoj.ac/login"], a.nav-link[href="/login"]`).Length() > 0 {
		return false
	}
	return doc.Find("span.uoj-username").Length() > 0 || doc.Find(`a[href*="logout"]`).Length() > 0
}

func maxPage(doc *goquery.Document) int {
	if n, err := strconv.Atoi(strings.TrimSpace(doc.Find("li.page-item.active a.page-link").First().Text())); err == nil && n > 0 {
		return n
	}
	last := 1
	doc.Find("li.page-item a.page-link").Each(func(_ int, a *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil && n > last {
			last = n
		}
	})
	return last
}

// serverOffset infers the judge's UTC offset from the "Server Time" footer,
// rounded to a quarter hour.
func serverOffset(doc *goquery.Document, now time.Time) (time.Duration, bool) {
	m := qojServerTimeRe.FindStringSubmatch(doc.Text())
	if m == nil {
		return 0, false
	}
	local, err := time.Parse(qojTimeLayout, m[1])
	if err != nil {
		return 0, false
	}
	return local.Sub(now.UTC()).Round(15 * time.Minute), true
}

func (c *QOJ) FetchSubmissions(ctx context.Context, window Window, targets map[string]Target, username string) ([]RawSubmission, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	first, err := c.firstLook(ctx, username)
	if err != nil {
		return nil, err
	}
	pages := maxPage(first)
	if c.f.maxPages > 0 && pages > c.f.maxPages {
		pages = c.f.maxPages
	}
	offset, ok := serverOffset(first, c.now())
	if !ok {
		zap.S().Warnf("qoj.ac: server time not found, assuming UTC")
	}

	var listed []listedSubmission
	seen := make(map[string]bool)
	for page := 1; page <= pages; page++ {
		if err := c.f.pause(ctx, c.f.pageDelay); err != nil {
			return nil, c.f.interrupted(err)
		}
		doc, _, err := c.f.document(ctx, c.listPath(username, page))
		if err != nil {
			return nil, err
		}
		if !loggedIn(doc) {
			return nil, fmt.Errorf("qoj.ac: logged out while crawling: %w", util.ErrInvalidCredentials)
		}
		rows := c.parseRows(doc, offset)
		zap.S().Debugf("qoj.ac: %s page %d/%d has %d rows", username, page, pages, len(rows))
		var stop bool
		listed, stop = collect(rows, window, targets, seen, listed)
		if stop || len(rows) == 0 {
			break
		}
	}

	return c.f.fetchDetails(ctx, listed, func(id string) string { return "/submission/" + id }, c.parseDetail)
}

func (c *QOJ) parseRows(doc *goquery.Document, offset time.Duration) []listedSubmission {
	var rows []listedSubmission
	doc.Find("table tbody tr").Each(func(_ int, tr *goquery.Selection) {
		subHref, ok := tr.Find(`td a[href^="/submission/"]`).First().Attr("href")
		if !ok {
			return
		}
		probHref, ok := tr.Find(`td a[href*="/problem/"]`).First().Attr("href")
		if !ok {
			return
		}
		m := qojProblemRe.FindStringSubmatch(probHref)
		if m == nil {
			return
		}
		text := strings.TrimSpace(tr.Find("small").First().Text())
		local, err := time.Parse(qojTimeLayout, text)
		if err != nil {
			zap.S().Debugf("qoj.ac: bad timestamp %q: %v", text, err)
			return
		}
		rows = append(rows, listedSubmission{
			id:      strings.TrimPrefix(subHref, "/submission/"),
			problem: m[1],
			at:      local.Add(-offset).UTC(),
		})
	})
	return rows
}

func (c *QOJ) parseDetail(doc *goquery.Document) ([]float64, error) {
	var scores []float64
	doc.Find("div.card-header").Each(func(_ int, header *goquery.Selection) {
		title := strings.TrimSpace(header.Find("h3.card-title").First().Text())
		if !strings.HasPrefix(title, "Subtask") {
			return
		}
		m := qojScoreRe.FindStringSubmatch(header.Text())
		if m == nil {
			return
		}
		if score, err := strconv.ParseFloat(m[1], 64); err == nil {
			scores = append(scores, score)
		}
	})
	if len(scores) > 0 {
		return scores, nil
	}

	if raw, ok := doc.Find("a.uoj-score[data-score]").First().Attr("data-score"); ok {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("score %q: %v", raw, err)
		}
		return []float64{score}, nil
	}
	return nil, errors.New("no score on page")
}

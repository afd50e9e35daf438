package judge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alicebob/miniredis/v2"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/util"
	"github.com/redis/go-redis/v9"
)

const qojServerZone = 8 * time.Hour

type qojRow struct {
	id      string
	problem string
	at      time.Time
}

// fakeQOJ emulates the parts of qoj.ac the crawler touches. The server clock runs at UTC+8.
type fakeQOJ struct {
	mu         sync.Mutex
	now        time.Time
	password   string
	session    string
	acceptAny  bool
	logins     int
	pages      [][]qojRow
	details    map[string]string
	listedPage []int
}

func (f *fakeQOJ) authorized(r *http.Request) bool {
	ck, err := r.Cookie(qojSessionCookie)
	if err != nil {
		return false
	}
	return f.acceptAny || ck.Value == f.session
}

func (f *fakeQOJ) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/login" && r.Method == http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: qojSessionCookie, Value: "pending"})
		fmt.Fprint(w, `<html><script>$.post('/login', {_token : "tok-123", login : ''});</script></html>`)
	case r.URL.Path == "/login" && r.Method == http.MethodPost:
		r.ParseForm()
		digest := md5.Sum([]byte(f.password))
		if r.Form.Get("_token") != "tok-123" || r.Form.Get("username") != "bot" || r.Form.Get("password") != hex.EncodeToString(digest[:]) {
			fmt.Fprint(w, "failed")
			return
		}
		f.logins++
		f.session = "live-" + strconv.Itoa(f.logins)
		http.SetCookie(w, &http.Cookie{Name: qojSessionCookie, Value: f.session})
		fmt.Fprint(w, "ok")
	case r.URL.Path == "/submissions":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		fmt.Fprint(w, f.listPage(page, f.authorized(r)))
	case strings.HasPrefix(r.URL.Path, "/submission/"):
		body, ok := f.details[strings.TrimPrefix(r.URL.Path, "/submission/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeQOJ) listPage(page int, authorized bool) string {
	var b strings.Builder
	b.WriteString(`<html><body><nav>`)
	if authorized {
		b.WriteString(`<span class="uoj-username">bot</span><a class="nav-link" href="//qoj.ac/logout">Logout</a>`)
	} else {
		b.WriteString(`<a class="nav-link" href="//qoj.ac/login">Login</a>`)
	}
	b.WriteString(`</nav>`)
	if authorized && page >= 1 && page <= len(f.pages) {
		f.listedPage = append(f.listedPage, page)
		b.WriteString(`<table class="table"><thead><tr><th>ID</th></tr></thead><tbody>`)
		for _, r := range f.pages[page-1] {
			fmt.Fprintf(&b, `<tr><td><a href="/submission/%s">#%s</a></td><td><a href="/contest/1/problem/%s">P</a></td>`+
				`<td><a class="uoj-score" data-score="0">0</a></td><td><small>%s</small></td></tr>`,
				r.id, r.id, r.problem, r.at.Add(qojServerZone).Format(qojTimeLayout))
		}
		b.WriteString(`</tbody></table>`)
	}
	last := len(f.pages)
	b.WriteString(`<ul class="pagination">`)
	for i := 1; i <= last; i++ {
		class := "page-item"
		if page > last && i == last {
			class += " active"
		}
		fmt.Fprintf(&b, `<li class="%s"><a class="page-link" href="?page=%d">%d</a></li>`, class, i, i)
	}
	b.WriteString(`</ul>`)
	fmt.Fprintf(&b, `<footer><p>Server Time: %s</p></footer></body></html>`, f.now.Add(qojServerZone).Format(qojTimeLayout))
	return b.String()
}

func qojSubtaskPage(scores ...float64) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	for i, s := range scores {
		fmt.Fprintf(&b, `<div class="card"><div class="card-header"><h3 class="card-title">Subtask #%d</h3><span>score: %g</span></div></div>`, i+1, s)
	}
	b.WriteString(`<div class="card"><div class="card-header"><h3 class="card-title">Details</h3><span>score: 999</span></div></div>`)
	b.WriteString(`</body></html>`)
	return b.String()
}

func newQOJStore(t *testing.T) kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return kv.NewRedis(client)
}

func newTestQOJ(t *testing.T, fake *fakeQOJ, store kv.Store) *QOJ {
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg := testJudgeConfig(srv.URL)
	cfg.Username = "bot"
	cfg.Password = "secret"
	c := NewQOJ(cfg, store)
	c.now = func() time.Time { return fake.now }
	return c
}

func TestQOJFetchSubmissions(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-3 * time.Hour)
	fake := &fakeQOJ{
		now:      now,
		password: "secret",
		pages: [][]qojRow{
			{
				{"905", "101", now.Add(-10 * time.Minute)},
				{"904", "999", now.Add(-time.Hour)},
				{"903", "102", now.Add(-2 * time.Hour)},
			},
			{
				{"902", "101", start.Add(-5 * time.Minute)},
				{"901", "101", start.Add(-time.Hour)},
			},
			{
				{"900", "101", start.Add(-48 * time.Hour)},
			},
		},
		details: map[string]string{
			"905": qojSubtaskPage(10, 20),
			"903": `<html><body><a class="uoj-score" data-score="45">45</a></body></html>`,
			"902": qojSubtaskPage(100),
		},
	}
	store := newQOJStore(t)
	c := newTestQOJ(t, fake, store)

	targets := map[string]Target{"101": {Index: 1, Name: "A"}, "102": {Index: 2, Name: "B"}}
	subs, err := c.FetchSubmissions(context.Background(), Window{Start: start, End: now}, targets, "alice")
	if err != nil {
		t.Fatalf("FetchSubmissions: %v", err)
	}
	subs = byID(subs)
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %+v", subs)
	}
	if subs[0].SubmissionID != "903" || subs[0].TotalScore != 45 || len(subs[0].SubtaskScores) != 1 {
		t.Fatalf("bad fallback score: %+v", subs[0])
	}
	if subs[1].SubmissionID != "905" || subs[1].TotalScore != 30 || len(subs[1].SubtaskScores) != 2 {
		t.Fatalf("bad subtask scores: %+v", subs[1])
	}
	if !subs[1].SubmittedAt.Equal(now.Add(-10 * time.Minute)) {
		t.Fatalf("server time not converted to UTC: %v", subs[1].SubmittedAt)
	}
	if fmt.Sprint(fake.listedPage) != "[1 2]" {
		t.Fatalf("expected pages 1 and 2 to be crawled, got %v", fake.listedPage)
	}
	saved, err := store.Get(context.Background(), qojSessionKey)
	if err != nil || saved != "live-1" {
		t.Fatalf("session not persisted: %q, %v", saved, err)
	}
}

func TestQOJRefreshesStaleSession(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	fake := &fakeQOJ{
		now:      now,
		password: "secret",
		pages:    [][]qojRow{{{"1", "101", now.Add(-time.Minute)}}},
		details:  map[string]string{"1": qojSubtaskPage(7)},
	}
	store := newQOJStore(t)
	if err := store.Set(context.Background(), qojSessionKey, "stale", 0); err != nil {
		t.Fatal(err)
	}
	c := newTestQOJ(t, fake, store)

	subs, err := c.FetchSubmissions(context.Background(), Window{Start: now.Add(-time.Hour), End: now}, map[string]Target{"101": {Index: 1}}, "alice")
	if err != nil {
		t.Fatalf("FetchSubmissions: %v", err)
	}
	if len(subs) != 1 || subs[0].TotalScore != 7 {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
	if fake.logins != 1 {
		t.Fatalf("expected exactly one login, got %d", fake.logins)
	}

	// the refreshed session is reused without logging in again
	if _, err := c.FetchSubmissions(context.Background(), Window{Start: now.Add(-time.Hour), End: now}, map[string]Target{"101": {Index: 1}}, "alice"); err != nil {
		t.Fatal(err)
	}
	if fake.logins != 1 {
		t.Fatalf("session not reused, %d logins", fake.logins)
	}
}

func TestQOJConcurrentRefresh(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	fake := &fakeQOJ{
		now:      now,
		password: "secret",
		pages: [][]qojRow{{
			{"12", "101", now.Add(-time.Minute)},
			{"11", "101", now.Add(-2 * time.Minute)},
		}},
		details: map[string]string{"12": qojSubtaskPage(40), "11": qojSubtaskPage(25)},
	}
	store := newQOJStore(t)
	if err := store.Set(context.Background(), qojSessionKey, "stale", 0); err != nil {
		t.Fatal(err)
	}
	c := newTestQOJ(t, fake, store)

	window := Window{Start: now.Add(-time.Hour), End: now}
	results := make([][]RawSubmission, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.FetchSubmissions(context.Background(), window, map[string]Target{"101": {Index: 1}}, "alice")
		}()
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("crawl %d: %v", i, errs[i])
		}
		if len(results[i]) != 2 {
			t.Fatalf("crawl %d returned %+v", i, results[i])
		}
	}
	if fake.logins != 1 {
		t.Fatalf("expected exactly one login, got %d", fake.logins)
	}
	if got := c.currentSession(); got != "live-1" {
		t.Fatalf("session = %q, expected live-1", got)
	}
}

func TestQOJInvalidCredentials(t *testing.T) {
	now := time.Now().UTC()
	t.Run("wrong password", func(t *testing.T) {
		fake := &fakeQOJ{now: now, password: "other"}
		c := newTestQOJ(t, fake, newQOJStore(t))
		_, err := c.FetchSubmissions(context.Background(), Window{}, map[string]Target{"1": {Index: 1}}, "alice")
		if !errors.Is(err, util.ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
	})
	t.Run("session never accepted", func(t *testing.T) {
		fake := &fakeQOJ{now: now, password: "secret"}
		c := newTestQOJ(t, fake, newQOJStore(t))
		c.f.cookies = func() []*http.Cookie { return []*http.Cookie{{Name: qojSessionCookie, Value: "forged"}} }
		_, err := c.FetchSubmissions(context.Background(), Window{}, map[string]Target{"1": {Index: 1}}, "alice")
		if !errors.Is(err, util.ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
		if fake.logins != 1 {
			t.Fatalf("expected one refresh attempt, got %d", fake.logins)
		}
	})
	t.Run("no account", func(t *testing.T) {
		fake := &fakeQOJ{now: now}
		srv := httptest.NewServer(fake)
		defer srv.Close()
		c := NewQOJ(testJudgeConfig(srv.URL), nil)
		_, err := c.FetchSubmissions(context.Background(), Window{}, map[string]Target{"1": {Index: 1}}, "alice")
		if !errors.Is(err, util.ErrForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	})
}

func TestServerOffset(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		footer string
		want   time.Duration
		ok     bool
	}{
		{"Server Time: 2025-01-01 20:00:00", 8 * time.Hour, true},
		{"Server Time: 2025-01-01 20:06:40", 8 * time.Hour, true},
		{"Server Time: 2025-01-01 17:29:00", 5*time.Hour + 30*time.Minute, true},
		{"Server Time: 2025-01-01 07:01:00", -5 * time.Hour, true},
		{"no clock here", 0, false},
	}
	for _, tt := range tests {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>" + tt.footer + "</p></body></html>"))
		if err != nil {
			t.Fatal(err)
		}
		got, ok := serverOffset(doc, now)
		if got != tt.want || ok != tt.ok {
			t.Errorf("serverOffset(%q) = %v, %v; expected %v, %v", tt.footer, got, ok, tt.want, tt.ok)
		}
	}
}

func TestQOJProblemID(t *testing.T) {
	c := NewQOJ(testJudgeConfig("https://qoj.ac"), nil)
	tests := []struct {
		link string
		id   string
		ok   bool
	}{
		{"https://qoj.ac/problem/8371", "8371", true},
		{"https://qoj.ac/contest/1442/problem/7800", "7800", true},
		{"https://oj.uz/problem/view/NOI12_modsum", "", false},
	}
	for _, tt := range tests {
		id, ok := c.ProblemID(tt.link)
		if id != tt.id || ok != tt.ok {
			t.Errorf("ProblemID(%q) = %q, %v; expected %q, %v", tt.link, id, ok, tt.id, tt.ok)
		}
	}
}

package user

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/practice"
	"github.com/olytrack/olytrack/internal/pubsub"
	"github.com/olytrack/olytrack/internal/virtual"
	"gorm.io/gorm"
)

type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type testServer struct {
	t      *testing.T
	r      *gin.Engine
	db     *gorm.DB
	broker *pubsub.Broker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.OpenMemory("api_" + t.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	contests := []models.Contest{
		{Name: "IOI 2024", Stage: "Day 1", Source: "IOI", Year: 2024, DurationMinutes: 300},
		{Name: "APIO 2024", Source: "APIO", Year: 2024, DurationMinutes: 300},
	}
	if err := db.Create(&contests).Error; err != nil {
		t.Fatal(err)
	}
	problem := models.Problem{Name: "Nile", Source: "IOI", Year: 2024, Number: 1,
		Links: []models.ProblemLink{{Platform: judge.PlatformOJUZ, URL: "https://oj.uz/problem/view/IOI24_nile"}}}
	if err := db.Create(&problem).Error; err != nil {
		t.Fatal(err)
	}
	cp := models.ContestProblem{ContestName: "IOI 2024", ContestStage: "Day 1", ProblemIndex: 1, ProblemSource: "IOI", ProblemYear: 2024, ProblemNumber: 1}
	if err := db.Create(&cp).Error; err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Auth.JWT = config.JWT{Secret: "secret", ExpireHours: 1}
	cfg.Auth.Local.Enabled = true
	sync := config.Sync{Timeout: time.Second, LockTTL: time.Minute}

	store := kv.NewDatabase(db)
	judges := judge.NewRegistry(config.Judges{}, store)
	broker := pubsub.NewBroker()
	r := NewUserRouter(cfg, db, Services{
		Virtual:  virtual.NewService(db, judges, store, broker, sync),
		Practice: practice.NewService(db, judges, store, sync),
		Judges:   judges,
		Broker:   broker,
	})
	return &testServer{t: t, r: r, db: db, broker: broker}
}

func (s *testServer) do(method, path, token string, body interface{}) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: invalid body %q", method, path, w.Body)
	}
	return w.Code, env
}

func (s *testServer) login(username string) string {
	s.t.Helper()
	creds := gin.H{"username": username, "password": "password123"}
	if code, env := s.do(http.MethodPost, "/api/v1/auth/local/register", "", creds); code != http.StatusCreated {
		s.t.Fatalf("register: %d %s", code, env.Message)
	}
	code, env := s.do(http.MethodPost, "/api/v1/auth/local/login", "", creds)
	if code != http.StatusOK {
		s.t.Fatalf("login: %d %s", code, env.Message)
	}
	var data struct {
		Token string `json:"token"`
	}
	json.Unmarshal(env.Data, &data)
	return data.Token
}

func TestLocalAuth(t *testing.T) {
	s := newTestServer(t)
	s.login("alice")

	tests := []struct {
		name string
		path string
		body gin.H
		want int
	}{
		{"duplicate register", "/api/v1/auth/local/register", gin.H{"username": "alice", "password": "password123"}, http.StatusConflict},
		{"short password", "/api/v1/auth/local/register", gin.H{"username": "bob", "password": "123"}, http.StatusBadRequest},
		{"bad username", "/api/v1/auth/local/register", gin.H{"username": "a b", "password": "password123"}, http.StatusBadRequest},
		{"unknown platform", "/api/v1/auth/local/register", gin.H{"username": "bob", "password": "password123", "platforms": gin.H{"codeforces": "bob"}}, http.StatusBadRequest},
		{"wrong password", "/api/v1/auth/local/login", gin.H{"username": "alice", "password": "nope-nope"}, http.StatusUnauthorized},
		{"unknown user", "/api/v1/auth/local/login", gin.H{"username": "carol", "password": "password123"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, env := s.do(http.MethodPost, tt.path, "", tt.body); code != tt.want || env.Code != -1 {
				t.Fatalf("got %d (%s), expected %d", code, env.Message, tt.want)
			}
		})
	}
}

func TestRegisterLinksPlatforms(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{"username": "dora", "password": "password123", "platforms": gin.H{"oj.uz": " dora_oj ", "qoj.ac": "dora_q"}}
	code, env := s.do(http.MethodPost, "/api/v1/auth/local/register", "", body)
	if code != http.StatusCreated {
		t.Fatalf("register: %d %s", code, env.Message)
	}
	var session struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	json.Unmarshal(env.Data, &session)
	if session.Token == "" || session.Username != "dora" {
		t.Fatalf("register should sign in: %s", env.Data)
	}

	code, env = s.do(http.MethodGet, "/api/v1/settings/platforms", session.Token, nil)
	if code != http.StatusOK {
		t.Fatal(code)
	}
	var data struct {
		Usernames map[string]string `json:"usernames"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Usernames["oj.uz"] != "dora_oj" || data.Usernames["qoj.ac"] != "dora_q" {
		t.Fatalf("platforms not linked at registration: %v", data.Usernames)
	}

	// a failed registration leaves nothing behind
	if code, _ := s.do(http.MethodPost, "/api/v1/auth/local/register", "", gin.H{"username": "dora", "password": "password123"}); code != http.StatusConflict {
		t.Fatalf("duplicate: %d", code)
	}
	var users int64
	s.db.Model(&models.User{}).Count(&users)
	if users != 1 {
		t.Fatalf("expected one user, got %d", users)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	for _, token := range []string{"", "garbage"} {
		if code, _ := s.do(http.MethodGet, "/api/v1/virtual", token, nil); code != http.StatusUnauthorized {
			t.Fatalf("token %q: got %d", token, code)
		}
	}
	if code, _ := s.do(http.MethodGet, "/api/v1/contests", "", nil); code != http.StatusOK {
		t.Fatalf("contests should be public, got %d", code)
	}
}

func TestContests(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodGet, "/api/v1/contests", "", nil)
	if code != http.StatusOK {
		t.Fatal(code)
	}
	var list []struct {
		Name  string  `json:"name"`
		Stage *string `json:"stage"`
		Slug  string  `json:"slug"`
	}
	json.Unmarshal(env.Data, &list)
	if len(list) != 2 {
		t.Fatalf("unexpected contests %s", env.Data)
	}

	code, env = s.do(http.MethodGet, "/api/v1/contests/ioi-2024-day-1", "", nil)
	if code != http.StatusOK || !strings.Contains(string(env.Data), `"name":"Nile"`) {
		t.Fatalf("contest detail: %d %s", code, env.Data)
	}
	if code, _ := s.do(http.MethodGet, "/api/v1/contests/nope", "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown slug: %d", code)
	}
}

func TestVirtualContestFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.login("alice")

	start := gin.H{"contest_name": "APIO 2024", "contest_stage": nil}
	if code, env := s.do(http.MethodPost, "/api/v1/virtual/start", token, start); code != http.StatusOK {
		t.Fatalf("start: %d %s", code, env.Message)
	}
	if code, _ := s.do(http.MethodPost, "/api/v1/virtual/start", token, start); code != http.StatusConflict {
		t.Fatalf("second start: %d", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/v1/virtual/submit", token, gin.H{"scores": []float64{10}}); code != http.StatusNotFound {
		t.Fatalf("submit before end: %d", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/v1/virtual/confirm", token, nil); code != http.StatusNotFound {
		t.Fatalf("confirm before end: %d", code)
	}

	code, env := s.do(http.MethodPost, "/api/v1/virtual/end", token, nil)
	if code != http.StatusOK {
		t.Fatalf("end: %d %s", code, env.Message)
	}
	if code, env := s.do(http.MethodPost, "/api/v1/virtual/end", token, nil); code != http.StatusOK || !strings.Contains(string(env.Data), `"already_ended":true`) {
		t.Fatalf("second end: %d %s", code, env.Data)
	}

	code, env = s.do(http.MethodPost, "/api/v1/virtual/submit", token, gin.H{"scores": []float64{100, 37.5, 0}})
	if code != http.StatusOK {
		t.Fatalf("submit: %d %s", code, env.Message)
	}

	code, env = s.do(http.MethodGet, "/api/v1/virtual", token, nil)
	if code != http.StatusOK {
		t.Fatal(code)
	}
	var overview struct {
		Active    *json.RawMessage `json:"active_contest"`
		Recent    []struct {
			Total float64 `json:"total_score"`
			Stage *string `json:"contest_stage"`
			Slug  string  `json:"slug"`
		} `json:"recent"`
		Completed []string `json:"completed_contests"`
	}
	if err := json.Unmarshal(env.Data, &overview); err != nil {
		t.Fatal(err)
	}
	if overview.Active != nil || len(overview.Recent) != 1 || overview.Recent[0].Total != 137.5 || overview.Recent[0].Stage != nil {
		t.Fatalf("unexpected overview %s", env.Data)
	}
	if len(overview.Completed) != 1 || overview.Completed[0] != "APIO 2024|" {
		t.Fatalf("completed keys %v", overview.Completed)
	}

	if code, _ := s.do(http.MethodGet, "/api/v1/virtual/history/"+overview.Recent[0].Slug, token, nil); code != http.StatusOK {
		t.Fatalf("detail: %d", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/v1/virtual/start", token, start); code != http.StatusConflict {
		t.Fatalf("restarting a completed contest: %d", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/v1/virtual/start", token, gin.H{"contest_name": "IOI 2024"}); code != http.StatusNotFound {
		t.Fatalf("stage-less lookup of a staged contest: %d", code)
	}
}

func TestPlatformSettings(t *testing.T) {
	s := newTestServer(t)
	token := s.login("alice")

	if code, _ := s.do(http.MethodPut, "/api/v1/settings/platforms", token, gin.H{"codeforces": "x"}); code != http.StatusBadRequest {
		t.Fatalf("unknown platform: %d", code)
	}
	code, env := s.do(http.MethodPut, "/api/v1/settings/platforms", token, gin.H{"oj.uz": " alice ", "qoj.ac": "alice_q"})
	if code != http.StatusOK {
		t.Fatalf("update: %d %s", code, env.Message)
	}
	s.do(http.MethodPut, "/api/v1/settings/platforms", token, gin.H{"qoj.ac": ""})

	code, env = s.do(http.MethodGet, "/api/v1/settings/platforms", token, nil)
	if code != http.StatusOK {
		t.Fatal(code)
	}
	var data struct {
		Usernames map[string]string `json:"usernames"`
	}
	json.Unmarshal(env.Data, &data)
	if len(data.Usernames) != 1 || data.Usernames["oj.uz"] != "alice" {
		t.Fatalf("usernames = %v", data.Usernames)
	}

	// no judge is enabled in the test server
	if code, _ := s.do(http.MethodPost, "/api/v1/practice/sync/oj.uz", token, nil); code != http.StatusNotFound {
		t.Fatalf("practice sync on a disabled judge: %d", code)
	}
	if code, env := s.do(http.MethodGet, "/api/v1/problems/statuses", token, nil); code != http.StatusOK || string(env.Data) != "[]" {
		t.Fatalf("statuses: %d %s", code, env.Data)
	}
}

func TestProblemChecklist(t *testing.T) {
	s := newTestServer(t)
	token := s.login("alice")

	if code, _ := s.do(http.MethodGet, "/api/v1/problems", token, nil); code != http.StatusBadRequest {
		t.Fatalf("listing without sources: %d", code)
	}
	status := gin.H{"problem_name": "Nile", "source": "IOI", "year": 2024, "status": 1, "score": 64}
	if code, env := s.do(http.MethodPut, "/api/v1/problems/status", token, status); code != http.StatusOK {
		t.Fatalf("set status: %d %s", code, env.Message)
	}
	unknown := gin.H{"problem_name": "Nope", "source": "IOI", "year": 2024, "status": 2}
	if code, _ := s.do(http.MethodPut, "/api/v1/problems/status", token, unknown); code != http.StatusNotFound {
		t.Fatalf("status of an unknown problem: %d", code)
	}

	code, env := s.do(http.MethodGet, "/api/v1/problems?sources=IOI,APIO", token, nil)
	if code != http.StatusOK {
		t.Fatalf("list: %d %s", code, env.Message)
	}
	var checklist map[string]map[string][]struct {
		Name   string  `json:"name"`
		Status int     `json:"status"`
		Score  float64 `json:"score"`
	}
	if err := json.Unmarshal(env.Data, &checklist); err != nil {
		t.Fatal(err)
	}
	nile := checklist["IOI"]["2024"]
	if len(nile) != 1 || nile[0].Name != "Nile" || nile[0].Status != 1 || nile[0].Score != 64 {
		t.Fatalf("unexpected checklist %s", env.Data)
	}

	other := s.login("bob")
	_, env = s.do(http.MethodGet, "/api/v1/problems?sources=IOI", other, nil)
	if !strings.Contains(string(env.Data), `"status":0`) {
		t.Fatalf("statuses leaked across users: %s", env.Data)
	}
}

func TestProblemNotes(t *testing.T) {
	s := newTestServer(t)
	token := s.login("alice")
	query := "/api/v1/problems/note?problem_name=Nile&source=IOI&year=2024"

	code, env := s.do(http.MethodGet, query, token, nil)
	if code != http.StatusOK || string(env.Data) != `{"note":""}` {
		t.Fatalf("empty note: %d %s", code, env.Data)
	}
	for _, note := range []string{"first idea", "sort edges, then dsu"} {
		body := gin.H{"problem_name": "Nile", "source": "IOI", "year": 2024, "note": note}
		if code, env := s.do(http.MethodPut, "/api/v1/problems/note", token, body); code != http.StatusOK {
			t.Fatalf("save: %d %s", code, env.Message)
		}
	}
	if _, env := s.do(http.MethodGet, query, token, nil); string(env.Data) != `{"note":"sort edges, then dsu"}` {
		t.Fatalf("note not replaced: %s", env.Data)
	}
	if code, _ := s.do(http.MethodGet, "/api/v1/problems/note?problem_name=Nile", token, nil); code != http.StatusBadRequest {
		t.Fatalf("missing fields: %d", code)
	}
	if code, _ := s.do(http.MethodPut, "/api/v1/problems/note", "", gin.H{"note": "x"}); code != http.StatusUnauthorized {
		t.Fatalf("notes require a token: %d", code)
	}
}

func TestSyncWebsocket(t *testing.T) {
	s := newTestServer(t)
	token := s.login("alice")
	_, env := s.do(http.MethodGet, "/api/v1/user/profile", token, nil)
	var profile struct {
		ID string `json:"id"`
	}
	json.Unmarshal(env.Data, &profile)

	srv := httptest.NewServer(s.r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/virtual"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token accepted")
	}

	s.broker.Publish(pubsub.SyncTopic(profile.ID), pubsub.FormatMessage(pubsub.StreamSyncStarted, pubsub.SyncEvent{Contest: "IOI 2024 Day 1"}))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(msg), pubsub.StreamSyncStarted) {
		t.Fatalf("unexpected message %s", msg)
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"LnSPoll/cache"
	"LnSPoll/core/auth"
	"LnSPoll/core/catalogue"
	"LnSPoll/core/questions"
	"LnSPoll/core/survey"
	"LnSPoll/storage"

	"github.com/gorilla/websocket"
)

const adminPassword = "hunter2"

type testEnv struct {
	handler http.Handler
	store   storage.Store
	feed    *FeedHub
	root    string
}

func writeAudio(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(root, filepath.FromSlash(n))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("ID3-fake-audio-"+n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestEnv(t *testing.T, files ...string) *testEnv {
	t.Helper()
	root := t.TempDir()
	writeAudio(t, root, files...)

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "responses.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	sessions := cache.NewMemorySessionStore(time.Hour)
	provider := catalogue.NewFSProvider(root)
	feed := NewFeedHub()
	go feed.Run()
	t.Cleanup(feed.Stop)

	svc := survey.NewService(survey.Options{
		Catalogue:     provider,
		Questions:     questions.Default(),
		Sessions:      sessions,
		Store:         store,
		GeneralQuota:  4,
		LanguageQuota: 2,
	})
	h := NewAPIHandler(Deps{
		Survey:    svc,
		Store:     store,
		Sessions:  sessions,
		Catalogue: provider,
		Audio:     NewFSAudio(provider),
		Auth:      auth.NewAuthenticator("test-secret", "", adminPassword, time.Hour),
		Feed:      feed,
	})
	return &testEnv{handler: NewRouter(h), store: store, feed: feed, root: root}
}

func defaultFiles() []string {
	return []string{
		"news_clip_1.mp3", "news_clip_2.mp3", "news_real_1.mp3", "news_real_2.mp3",
		"tamil/news_clip_9.mp3",
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func answer() survey.ClipAnswer {
	return survey.ClipAnswer{
		Ratings:   map[string]int{"naturalness": 4, "trustworthiness": 2},
		Ranking:   []string{"tone", "stress", "inflection", "intonation", "rate_of_speech"},
		FollowUps: map[string]string{"tone_detail": "Warm"},
	}
}

func intake() map[string]interface{} {
	return map[string]interface{}{"age": 30, "motherTongue": "Tamil", "gender": "female"}
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/admin/login", LoginRequest{Password: adminPassword}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	decode(t, rec, &out)
	return out.Token
}

func (e *testEnv) completeSurvey(t *testing.T) SessionView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/survey/start", intake(), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	var view SessionView
	decode(t, rec, &view)

	for id := 1; id <= view.Total; id++ {
		rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/survey/%s/clips/%d", view.SessionID, id), answer(), "")
		if rec.Code != http.StatusOK {
			t.Fatalf("clip %d status = %d: %s", id, rec.Code, rec.Body.String())
		}
	}
	rec = e.do(t, http.MethodPost, "/api/survey/"+view.SessionID+"/finish", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("finish status = %d: %s", rec.Code, rec.Body.String())
	}
	return view
}

func TestSurveyFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)

	rec := env.do(t, http.MethodGet, "/api/survey/questions", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "naturalness") {
		t.Fatalf("questions = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/survey/start", intake(), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	var view SessionView
	decode(t, rec, &view)
	if view.Total != 5 || view.NextClipID != 1 || len(view.Clips) != 5 {
		t.Fatalf("unexpected session view %+v", view)
	}
	if last := view.Clips[4]; last.AudioURL != "/audio/tamil/news_clip_9.mp3" {
		t.Errorf("last clip url = %s", last.AudioURL)
	}

	rec = env.do(t, http.MethodPost, "/api/survey/"+view.SessionID+"/clips/2", answer(), "")
	if rec.Code != http.StatusConflict {
		t.Errorf("out of order status = %d, want 409", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/survey/"+view.SessionID+"/finish", nil, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("early finish status = %d, want 409", rec.Code)
	}

	bad := answer()
	bad.Ratings["naturalness"] = 9
	rec = env.do(t, http.MethodPost, "/api/survey/"+view.SessionID+"/clips/1", bad, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid rating status = %d, want 400", rec.Code)
	}

	for id := 1; id <= view.Total; id++ {
		rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/survey/%s/clips/%d", view.SessionID, id), answer(), "")
		if rec.Code != http.StatusOK {
			t.Fatalf("clip %d status = %d: %s", id, rec.Code, rec.Body.String())
		}
	}

	rec = env.do(t, http.MethodGet, "/api/survey/"+view.SessionID, nil, "")
	var resumed SessionView
	decode(t, rec, &resumed)
	if resumed.Stage != "review" || resumed.Answered != 5 || resumed.NextClipID != 0 {
		t.Errorf("resumed view %+v", resumed)
	}

	rec = env.do(t, http.MethodPost, "/api/survey/"+view.SessionID+"/finish", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("finish status = %d: %s", rec.Code, rec.Body.String())
	}
	if n, _ := env.store.Count(context.Background()); n != 1 {
		t.Errorf("stored responses = %d, want 1", n)
	}

	rec = env.do(t, http.MethodGet, "/api/survey/"+view.SessionID, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("finished session status = %d, want 404", rec.Code)
	}
}

func TestStartSurveyErrors(t *testing.T) {
	tests := []struct {
		name   string
		files  []string
		body   interface{}
		status int
	}{
		{"too young", defaultFiles(), map[string]interface{}{"age": 9, "motherTongue": "English"}, http.StatusBadRequest},
		{"missing mother tongue", defaultFiles(), map[string]interface{}{"age": 30}, http.StatusBadRequest},
		{"unknown field", defaultFiles(), map[string]interface{}{"age": 30, "motherTongue": "English", "shoeSize": 9}, http.StatusBadRequest},
		{"empty catalogue", nil, intake(), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.files...)
			rec := env.do(t, http.MethodPost, "/api/survey/start", tt.body, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			var body errorBody
			decode(t, rec, &body)
			if body.Error != http.StatusText(tt.status) || body.Message == "" {
				t.Errorf("error body = %+v", body)
			}
		})
	}
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	rec := env.do(t, http.MethodPost, "/api/survey/nope/clips/1", answer(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/survey/nope/clips/zero", answer(), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad clip id status = %d, want 400", rec.Code)
	}
}

func TestAudioHandler(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	if err := os.WriteFile(filepath.Join(env.root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/audio/tamil/news_clip_9.mp3", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %s", ct)
	}
	if rec.Body.String() != "ID3-fake-audio-tamil/news_clip_9.mp3" {
		t.Errorf("body = %q", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/audio/news_clip_1.mp3", nil)
	req.Header.Set("Range", "bytes=0-2")
	ranged := httptest.NewRecorder()
	env.handler.ServeHTTP(ranged, req)
	if ranged.Code != http.StatusPartialContent || ranged.Body.String() != "ID3" {
		t.Errorf("range = %d %q", ranged.Code, ranged.Body.String())
	}

	for _, p := range []string{"/audio/missing.mp3", "/audio/notes.txt", "/audio/tamil/missing.wav"} {
		if rec := env.do(t, http.MethodGet, p, nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", p, rec.Code)
		}
	}
}

func TestAudioContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"a.mp3", "audio/mpeg"},
		{"a.WAV", "audio/wav"},
		{"a.ogg", "audio/ogg"},
		{"a.m4a", "audio/mp4"},
		{"a.flac", "audio/flac"},
		{"a.aac", "audio/aac"},
		{"tamil/a.webm", "audio/webm"},
		{"a.bin", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audioContentType(tt.name); got != tt.want {
				t.Errorf("audioContentType(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestAdminRequiresToken(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)

	rec := env.do(t, http.MethodPost, "/api/admin/login", LoginRequest{Password: "wrong"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", rec.Code)
	}

	for _, path := range []string{"/api/admin/summary", "/api/admin/export", "/api/admin/catalogue"} {
		if rec := env.do(t, http.MethodGet, path, nil, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d", path, rec.Code)
		}
		if rec := env.do(t, http.MethodGet, path, nil, "garbage"); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad token = %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/summary", nil)
	req.Header.Set("Authorization", "Token abc")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer scheme = %d", rr.Code)
	}
}

func TestAdminDashboard(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	env.completeSurvey(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/admin/summary", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d: %s", rec.Code, rec.Body.String())
	}
	var summary struct {
		Summary struct {
			Total      int     `json:"total"`
			AverageAge float64 `json:"averageAge"`
		} `json:"summary"`
		ActiveSessions int    `json:"activeSessions"`
		Backend        string `json:"backend"`
	}
	decode(t, rec, &summary)
	if summary.Summary.Total != 1 || summary.Summary.AverageAge != 30 || summary.Backend != "file" {
		t.Errorf("summary = %+v", summary)
	}

	rec = env.do(t, http.MethodGet, "/api/admin/summary?from=2001-01-01&to=2001-01-02", nil, token)
	decode(t, rec, &summary)
	if summary.Summary.Total != 0 {
		t.Errorf("date filter kept %d responses", summary.Summary.Total)
	}
	if rec := env.do(t, http.MethodGet, "/api/admin/summary?from=last-week", nil, token); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/admin/rankings", nil, token)
	var ranks []struct {
		Feature     string  `json:"feature"`
		AverageRank float64 `json:"averageRank"`
	}
	decode(t, rec, &ranks)
	if len(ranks) != 5 || ranks[0].Feature != "tone" || ranks[0].AverageRank != 1 {
		t.Errorf("rankings = %+v", ranks)
	}

	for _, path := range []string{"/api/admin/clips", "/api/admin/followups", "/api/admin/catalogue"} {
		if rec := env.do(t, http.MethodGet, path, nil, token); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestAdminExport(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	env.completeSurvey(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/admin/export?format=csv", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 || rows[0][0] != "participant_id" {
		t.Errorf("expected header + 5 rows, got %d", len(rows))
	}

	rec = env.do(t, http.MethodGet, "/api/admin/export?format=json", nil, token)
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("json Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec := env.do(t, http.MethodGet, "/api/admin/export?format=xlsx", nil, token); rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported format status = %d", rec.Code)
	}
}

func TestClearResponses(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	env.completeSurvey(t)
	token := env.login(t)

	if rec := env.do(t, http.MethodDelete, "/api/admin/responses", nil, token); rec.Code != http.StatusBadRequest {
		t.Errorf("unconfirmed clear status = %d", rec.Code)
	}
	if n, _ := env.store.Count(context.Background()); n != 1 {
		t.Fatalf("unconfirmed clear removed data")
	}

	rec := env.do(t, http.MethodDelete, "/api/admin/responses?confirm=true", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]int
	decode(t, rec, &out)
	if out["deleted"] != 1 {
		t.Errorf("deleted = %d", out["deleted"])
	}
	if n, _ := env.store.Count(context.Background()); n != 0 {
		t.Errorf("responses left = %d", n)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	req := httptest.NewRequest(http.MethodOptions, "/api/survey/start", nil)
	req.Header.Set("Origin", "https://survey.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	var body map[string]interface{}
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, body)
	}
}

func TestFeedDeliversEvents(t *testing.T) {
	env := newTestEnv(t, defaultFiles()...)
	token := env.login(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/admin/feed"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("feed accepted a connection without a token")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.feed.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.completeSurvey(t)
	env.feed.Publish(EventCatalogueChanged, map[string]int{"files": 5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []FeedEventType
	for len(got) < 1 {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			var ev FeedEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				t.Fatalf("bad event %q: %v", line, err)
			}
			got = append(got, ev.Type)
		}
	}
	if got[0] != EventCatalogueChanged {
		t.Errorf("first event = %s", got[0])
	}

	if err := conn.WriteJSON(FeedEvent{Type: EventPing}); err != nil {
		t.Fatal(err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if !bytes.Contains(msg, []byte(`"pong"`)) {
		t.Errorf("expected pong, got %s", msg)
	}
}

func TestCatalogueWatcher(t *testing.T) {
	root := t.TempDir()
	changed := make(chan struct{}, 4)
	w := NewCatalogueWatcher(root, func() { changed <- struct{}{} })
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// 等待监听器就绪
	time.Sleep(100 * time.Millisecond)
	writeAudio(t, root, "news_clip_1.mp3")

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported after adding a file")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

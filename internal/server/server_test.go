package server

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedbarn/internal/fetch"
	"feedbarn/internal/model"
	"feedbarn/internal/refresh"
	"feedbarn/internal/repo"
	"feedbarn/internal/store"
)

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Alpha</title>
  <link>https://alpha.example.com</link>
  <item>
    <title>Item A</title>
    <guid>a</guid>
    <pubDate>Sun, 01 Jan 2023 00:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Item B</title>
    <guid>b</guid>
    <pubDate>Thu, 01 Jun 2023 00:00:00 GMT</pubDate>
  </item>
</channel></rss>`

type routeTransport struct {
	bodies map[string]string
}

func (rt *routeTransport) Do(req *http.Request) (*http.Response, error) {
	body, ok := rt.bodies[req.URL.String()]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}, nil
}

func newTestServer(t *testing.T) (*Server, *repo.Repo) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	r := repo.New(s)
	f := fetch.New(&routeTransport{bodies: map[string]string{
		"https://alpha.example.com/rss": feedXML,
	}})
	f.SetBackoff(time.Millisecond)
	pipeline := refresh.NewPipeline(r, f, 2)
	return New(r, pipeline, "reader", "secret"), r
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.SetBasicAuth("reader", "secret")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/entries", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated request got %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/entries", nil)
	req.SetBasicAuth("reader", "wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password got %d, want 401", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/authentication", "")
	if rec.Code != http.StatusOK {
		t.Errorf("auth check got %d, want 200", rec.Code)
	}
}

func TestSubscribeFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/subscriptions", `{"feed_url":"https://alpha.example.com/rss"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe got %d: %s", rec.Code, rec.Body.String())
	}
	var sub model.Subscription
	decodeBody(t, rec, &sub)
	if sub.Title != "Alpha" {
		t.Errorf("subscription title = %q, want Alpha", sub.Title)
	}

	// Entries are available immediately, newest first.
	rec = doRequest(t, srv, http.MethodGet, "/entries?page=1&per_page=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get entries got %d", rec.Code)
	}
	var entries []model.Entry
	decodeBody(t, rec, &entries)
	var titles []string
	for _, e := range entries {
		titles = append(titles, *e.Title)
	}
	if diff := cmp.Diff([]string{"Item B", "Item A"}, titles); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	rec = doRequest(t, srv, http.MethodGet, "/unread_entries", "")
	var unread []model.EntryID
	decodeBody(t, rec, &unread)
	if len(unread) != 2 {
		t.Errorf("got %d unread ids, want 2", len(unread))
	}
}

func TestSubscribeUnreachableFeed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/subscriptions", `{"feed_url":"https://dead.example.com/rss"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("unreachable feed got %d, want 502", rec.Code)
	}
}

func TestSubscribeMissingURL(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/subscriptions", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing feed_url got %d, want 400", rec.Code)
	}
}

func TestDeleteSubscription(t *testing.T) {
	srv, r := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/subscriptions", `{"feed_url":"https://alpha.example.com/rss"}`)

	subs, err := r.GetSubscriptions()
	if err != nil || len(subs) != 1 {
		t.Fatalf("expected one subscription, got %v (%v)", subs, err)
	}

	rec := doRequest(t, srv, http.MethodDelete, "/subscriptions/"+strconv.FormatUint(uint64(subs[0].FeedID), 10), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/subscriptions/notanid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id got %d, want 400", rec.Code)
	}
}

func TestUnreadMutation(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/subscriptions", `{"feed_url":"https://alpha.example.com/rss"}`)

	rec := doRequest(t, srv, http.MethodGet, "/unread_entries", "")
	var unread []model.EntryID
	decodeBody(t, rec, &unread)
	if len(unread) != 2 {
		t.Fatalf("got %d unread ids, want 2", len(unread))
	}

	body, _ := json.Marshal(map[string][]model.EntryID{"unread_entries": unread})
	rec = doRequest(t, srv, http.MethodDelete, "/unread_entries", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete unread got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/unread_entries", "")
	var after []model.EntryID
	decodeBody(t, rec, &after)
	if len(after) != 0 {
		t.Errorf("unread ids remain after delete: %v", after)
	}
}

func TestStarredEntries(t *testing.T) {
	srv, r := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/subscriptions", `{"feed_url":"https://alpha.example.com/rss"}`)

	entries, err := r.GetEntries(1, 10, nil)
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}

	body, _ := json.Marshal(map[string][]model.EntryID{"starred_entries": {entries[0].ID}})
	rec := doRequest(t, srv, http.MethodPost, "/starred_entries", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("post starred got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/entries?starred=true", "")
	var starred []model.Entry
	decodeBody(t, rec, &starred)
	if len(starred) != 1 || *starred[0].Title != "Item B" {
		t.Errorf("starred entries = %v", starred)
	}
}

func TestEntriesBadParams(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/entries?page=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad page got %d, want 400", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/entries?per_page=xyz", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad per_page got %d, want 400", rec.Code)
	}
}

func TestEntriesTagFilter(t *testing.T) {
	srv, r := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/subscriptions", `{"feed_url":"https://alpha.example.com/rss"}`)

	subs, _ := r.GetSubscriptions()
	body, _ := json.Marshal(map[string]any{"feed_id": subs[0].FeedID, "name": "tech"})
	rec := doRequest(t, srv, http.MethodPost, "/taggings", string(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("add tagging got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/entries?tags=tech", "")
	var entries []model.Entry
	decodeBody(t, rec, &entries)
	if len(entries) != 2 {
		t.Errorf("tagged feed returned %d entries, want 2", len(entries))
	}

	rec = doRequest(t, srv, http.MethodGet, "/entries?tags=sports", "")
	decodeBody(t, rec, &entries)
	if len(entries) != 0 {
		t.Errorf("unmatched tag returned %d entries", len(entries))
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route got %d, want 404", rec.Code)
	}
}

func TestOPMLImportExport(t *testing.T) {
	srv, _ := newTestServer(t)

	opmlDoc := `<?xml version="1.0"?>
<opml version="2.0"><head/><body>
  <outline text="tech">
    <outline text="Alpha" type="rss" xmlUrl="https://alpha.example.com/rss"/>
  </outline>
  <outline text="Dead" type="rss" xmlUrl="https://dead.example.com/rss"/>
</body></opml>`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("opml", "subs.opml")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte(opmlDoc))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/imports/opml", &buf)
	req.SetBasicAuth("reader", "secret")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import got %d: %s", rec.Code, rec.Body.String())
	}

	var result map[string]int
	decodeBody(t, rec, &result)
	if result["imported"] != 1 || result["total"] != 2 {
		t.Errorf("import result = %v, want imported 1 of 2", result)
	}

	rec = doRequest(t, srv, http.MethodGet, "/exports/opml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export got %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "https://alpha.example.com/rss") || !strings.Contains(out, `text="tech"`) {
		t.Errorf("export missing imported feed or tag:\n%s", out)
	}
}

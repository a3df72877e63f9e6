package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/metrics"
	"github.com/starford/tiwaz/internal/needservice"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/testutil"
)

const apiDoc = "# Requirements\n\n```need\ntype: req\nid: REQ_1\ntitle: Login\nstatus: open\n---\nUsers log in with a password.\n```\n\n```need\ntype: spec\nid: SPEC_1\ntitle: Login form\nlinks: REQ_1\n```\n\n```need\ntype: test\nid: TEST_1\ntitle: Login test\nlinks: SPEC_1\n```\n"

type envOptions struct {
	token   string
	events  http.Handler
	noBuild bool
}

// testEnv builds a source tree, a service and a router. An empty token means
// auth is disabled.
func testEnv(t *testing.T, o envOptions) (*needservice.Service, http.Handler) {
	t.Helper()
	_, fs := testutil.TestSource(t, map[string]string{"reqs.md": apiDoc})
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := needservice.New(registry.NewDefault(), build.Inputs{Loader: build.Loader{Provider: fs}},
		needservice.WithIndex(db), needservice.WithLogger(logger))
	if !o.noBuild {
		if err := svc.Rebuild(context.Background()); err != nil {
			t.Fatalf("Rebuild: %v", err)
		}
	}
	router := NewRouter(svc, RouterOptions{
		AuthEnabled: o.token != "",
		Token:       o.token,
		Events:      o.events,
		Metrics:     metrics.New().Handler(),
	})
	return svc, router
}

func get(t *testing.T, router http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, w.Body.String())
	}
}

func TestListNeeds(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/needs")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp NeedListResponse
	decode(t, w, &resp)
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}

	w = get(t, router, "/needs?filter="+url.QueryEscape("type == 'spec'"))
	decode(t, w, &resp)
	if resp.Total != 1 || resp.Needs[0]["id"] != "SPEC_1" {
		t.Errorf("filtered = %+v", resp)
	}
}

func TestListNeeds_InvalidFilter(t *testing.T) {
	_, router := testEnv(t, envOptions{})
	w := get(t, router, "/needs?filter="+url.QueryEscape("type =="))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid filter = %d, want 400", w.Code)
	}
}

func TestGetNeed(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/needs/REQ_1")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var rec map[string]any
	decode(t, w, &rec)
	if rec["title"] != "Login" {
		t.Errorf("title = %v, want Login", rec["title"])
	}

	if w := get(t, router, "/needs/NOPE"); w.Code != http.StatusNotFound {
		t.Errorf("missing need = %d, want 404", w.Code)
	}
}

func TestTree(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/needs/REQ_1/tree?direction=incoming&depth=1")
	if w.Code != http.StatusOK {
		t.Fatalf("tree status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp TreeResponse
	decode(t, w, &resp)
	if len(resp.Needs) != 2 || resp.Needs[1].ID != "SPEC_1" {
		t.Errorf("tree = %+v", resp.Needs)
	}

	if w := get(t, router, "/needs/REQ_1/tree?direction=sideways"); w.Code != http.StatusBadRequest {
		t.Errorf("bad direction = %d, want 400", w.Code)
	}
	if w := get(t, router, "/needs/REQ_1/tree?depth=-1"); w.Code != http.StatusBadRequest {
		t.Errorf("bad depth = %d, want 400", w.Code)
	}
}

func TestBacklinks(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/needs/SPEC_1/backlinks?category=links")
	if w.Code != http.StatusOK {
		t.Fatalf("backlinks status = %d", w.Code)
	}
	var resp BacklinksResponse
	decode(t, w, &resp)
	if len(resp.Backlinks) != 1 || resp.Backlinks[0] != "TEST_1" {
		t.Errorf("backlinks = %v, want [TEST_1]", resp.Backlinks)
	}
}

func TestNeedsJSON_ETag(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/needs.json")
	if w.Code != http.StatusOK {
		t.Fatalf("needs.json status = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	if !strings.Contains(w.Body.String(), `"REQ_1"`) {
		t.Errorf("body missing REQ_1")
	}

	w = get(t, router, "/needs.json", "If-None-Match", etag)
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional get = %d, want 304", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/search?q=password")
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp SearchResponse
	decode(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].ID != "REQ_1" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, envOptions{})
	if w := get(t, router, "/search"); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestGraphEndpoint(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/graph")
	if w.Code != http.StatusOK {
		t.Fatalf("graph status = %d", w.Code)
	}
	var resp GraphResponse
	decode(t, w, &resp)
	if len(resp.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(resp.Nodes))
	}
	if len(resp.Links) != 2 {
		t.Errorf("links = %d, want 2", len(resp.Links))
	}
}

func TestSelectEndpoint(t *testing.T) {
	_, router := testEnv(t, envOptions{})

	w := get(t, router, "/select?q="+url.QueryEscape("$.versions.*.needs.*.id"))
	if w.Code != http.StatusOK {
		t.Fatalf("select status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SelectResponse
	decode(t, w, &resp)
	if len(resp.Values) != 3 {
		t.Errorf("values = %v, want 3 ids", resp.Values)
	}
	if w := get(t, router, "/select?q="+url.QueryEscape("$[")); w.Code != http.StatusBadRequest {
		t.Errorf("bad selector = %d, want 400", w.Code)
	}
}

func TestBuildEndpoints(t *testing.T) {
	_, router := testEnv(t, envOptions{noBuild: true})

	if w := get(t, router, "/build"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("info before build = %d, want 503", w.Code)
	}
	if w := get(t, router, "/needs/REQ_1"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("get before build = %d, want 503", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/build", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild = %d, body = %s", w.Code, w.Body.String())
	}
	var info BuildInfo
	decode(t, w, &info)
	if info.Needs != 3 || info.ID == "" {
		t.Errorf("info = %+v", info)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := testEnv(t, envOptions{})
	if w := get(t, router, "/metrics"); w.Code != http.StatusOK {
		t.Errorf("metrics = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, envOptions{token: "secret123"})
	if w := get(t, router, "/needs", "Authorization", "Bearer secret123"); w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, envOptions{token: "secret123"})
	if w := get(t, router, "/needs"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, envOptions{token: "secret123"})
	if w := get(t, router, "/needs", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, envOptions{})
	if w := get(t, router, "/needs"); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	_, router := testEnv(t, envOptions{token: "secret123"})
	if w := get(t, router, "/needs?"+TokenQueryParam+"=secret123"); w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}
	w := get(t, router, "/needs?"+TokenQueryParam+"=nope")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong query token = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry WWW-Authenticate")
	}
}

func TestErrorBody(t *testing.T) {
	_, router := testEnv(t, envOptions{})
	w := get(t, router, "/needs/NOPE")
	var body errResponse
	decode(t, w, &body)
	if body.Status != http.StatusNotFound || body.Error == "" {
		t.Errorf("error body = %+v", body)
	}
}

// SSE endpoint auth tests.

// sseStub writes headers and blocks until the request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnv(t, envOptions{token: "secret", events: sseStub})
	if w := get(t, router, "/events"); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnv(t, envOptions{token: "tok", events: sseStub})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

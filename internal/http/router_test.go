package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-todo-backend/internal/config"
	"github.com/tbourn/go-todo-backend/internal/domain"
	"github.com/tbourn/go-todo-backend/internal/http/handlers"
	"github.com/tbourn/go-todo-backend/internal/http/middleware"
	"github.com/tbourn/go-todo-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO); one database per test ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:router_"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:  "/",
		RateRPS:      1000,
		RateBurst:    100,
		MaxBodyBytes: 1 << 20,
		CORS:         config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:     config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:         config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, cfg)
	return r, db
}

func serve(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	// /health works
	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://anywhere.test"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404 with error envelope
	w = serve(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("GET /nope body = %s", w.Body.String())
	}

	// NoMethod → 405 (POST /health)
	w = serve(r, http.MethodPost, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://frontend.test"}}
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://frontend.test"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://frontend.test" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// Preflight for a create with an Idempotency-Key is permitted.
	w = serve(r, http.MethodOptions, "/items", "", map[string]string{
		"Origin":                         "http://frontend.test",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Content-Type, Idempotency-Key",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}

	// Unlisted origins are refused.
	w = serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.test"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign origin expected 403, got %d", w.Code)
	}
}

func Test_corsConfig(t *testing.T) {
	if c := corsConfig(nil); !c.AllowAllOrigins {
		t.Fatal("empty origins should allow all")
	}
	if c := corsConfig([]string{"http://a", "*"}); !c.AllowAllOrigins {
		t.Fatal("wildcard should allow all")
	}
	c := corsConfig([]string{"http://a"})
	if c.AllowAllOrigins || len(c.AllowOrigins) != 1 || c.AllowCredentials {
		t.Fatalf("allowlist config wrong: %+v", c)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

// Smoke test that a request traverses the otel + request id + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"X-Forwarded-Proto": "https"})
	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Fatalf("expected HSTS on forwarded https")
	}
}

func TestRegisterRoutes_BasePathMountsItems(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v1"
	r, _ := newTestRouter(t, cfg)

	if w := serve(r, http.MethodGet, "/api/v1/items", "", nil); w.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/items = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/items", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /items outside base path = %d", w.Code)
	}
}

func TestRegisterRoutes_ItemScenarios(t *testing.T) {
	r, db := newTestRouter(t, testConfig())

	// Create on an empty list gets id 1.
	w := serve(r, http.MethodPost, "/items", `{"text":"buy milk"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /items = %d body=%s", w.Code, w.Body.String())
	}
	var created domain.Item
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != 1 || created.Text != "buy milk" {
		t.Fatalf("created = %+v", created)
	}

	for _, text := range []string{"walk dog", "pay rent"} {
		if w := serve(r, http.MethodPost, "/items", `{"text":"`+text+`"}`, nil); w.Code != http.StatusCreated {
			t.Fatalf("POST %q = %d", text, w.Code)
		}
	}

	// Unknown id.
	if w := serve(r, http.MethodGet, "/items/99", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /items/99 = %d", w.Code)
	}

	// Body id disagrees with path id.
	w = serve(r, http.MethodPut, "/items/2", `{"id":3,"text":"x"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("PUT mismatch = %d", w.Code)
	}
	if got, _ := repo.GetItem(context.Background(), db, 2); got == nil || got.Text != "walk dog" {
		t.Fatalf("item 2 changed after rejected update: %+v", got)
	}

	// Matching update is accepted.
	w = serve(r, http.MethodPut, "/items/2", `{"id":2,"text":"walk cat"}`, nil)
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"walk cat"`) {
		t.Fatalf("PUT /items/2 = %d %s", w.Code, w.Body.String())
	}

	// Delete twice.
	if w := serve(r, http.MethodDelete, "/items/1", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("first DELETE = %d", w.Code)
	}
	if w := serve(r, http.MethodDelete, "/items/1", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second DELETE = %d", w.Code)
	}

	// List reflects the mutations and carries an ETag.
	w = serve(r, http.MethodGet, "/items", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /items = %d", w.Code)
	}
	var list domain.ItemList
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Len() != 2 || list.Items[0].ID != 2 || list.Items[1].ID != 3 {
		t.Fatalf("list = %+v", list)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag on list")
	}
	if w := serve(r, http.MethodGet, "/items", "", map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("conditional GET = %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotentCreateReplays(t *testing.T) {
	r, db := newTestRouter(t, testConfig())
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "create-1"}

	w1 := serve(r, http.MethodPost, "/items", `{"text":"once"}`, hdr)
	if w1.Code != http.StatusCreated || w1.Header().Get("Idempotent-Replay") != "" {
		t.Fatalf("first create = %d replay=%q", w1.Code, w1.Header().Get("Idempotent-Replay"))
	}
	w2 := serve(r, http.MethodPost, "/items", `{"text":"once"}`, hdr)
	if w2.Code != http.StatusCreated || w2.Header().Get("Idempotent-Replay") != "true" {
		t.Fatalf("replay = %d replay=%q", w2.Code, w2.Header().Get("Idempotent-Replay"))
	}
	if !bytes.Equal(w1.Body.Bytes(), w2.Body.Bytes()) {
		t.Fatalf("replay body differs: %s vs %s", w1.Body.String(), w2.Body.String())
	}

	var n int64
	if err := db.Model(&domain.Item{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one item, got %d", n)
	}

}

func TestRegisterRoutes_IdempotencyLookupFailureIs500(t *testing.T) {
	r, db := newTestRouter(t, testConfig())

	// Force queries to fail by closing the underlying connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	w := serve(r, http.MethodPost, "/items", `{"text":"x"}`, map[string]string{middleware.HeaderIdempotencyKey: "force-error"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "closed") {
		t.Fatalf("cause leaked: %s", w.Body.String())
	}
}

func TestRegisterRoutes_IdempotentCreateAfterDeleteIsFresh(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "k-1"}

	if w := serve(r, http.MethodPost, "/items", `{"text":"a"}`, hdr); w.Code != http.StatusCreated {
		t.Fatalf("first POST = %d", w.Code)
	}
	if w := serve(r, http.MethodDelete, "/items/1", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", w.Code)
	}

	w := serve(r, http.MethodPost, "/items", `{"text":"a"}`, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST with the same key after delete = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotent-Replay") != "" {
		t.Fatalf("fresh create must not be flagged as a replay")
	}
	var it domain.Item
	if err := json.Unmarshal(w.Body.Bytes(), &it); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if it.ID != 2 || it.Text != "a" {
		t.Fatalf("item = %+v", it)
	}
}

func TestRegisterRoutes_IdempotencyKeyOnlyAppliesToCreate(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v1"
	r, _ := newTestRouter(t, cfg)
	bad := map[string]string{middleware.HeaderIdempotencyKey: "bad key!"}

	if w := serve(r, http.MethodPost, "/api/v1/items", `{"text":"a"}`, nil); w.Code != http.StatusCreated {
		t.Fatalf("seed POST = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/items", "", bad); w.Code != http.StatusOK {
		t.Fatalf("GET with bad key = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/items/1", "", bad); w.Code != http.StatusOK {
		t.Fatalf("GET one with bad key = %d", w.Code)
	}
	if w := serve(r, http.MethodPut, "/api/v1/items/1", `{"id":1,"text":"b"}`, bad); w.Code != http.StatusAccepted {
		t.Fatalf("PUT with bad key = %d", w.Code)
	}
	if w := serve(r, http.MethodDelete, "/api/v1/items/1", "", bad); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE with bad key = %d", w.Code)
	}

	w := serve(r, http.MethodPost, "/api/v1/items", `{"text":"a"}`, bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST with bad key = %d", w.Code)
	}
	var er handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if er.Code != handlers.ErrCodeBadRequest || er.RequestID == "" {
		t.Fatalf("envelope = %+v", er)
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	cfg := testConfig()
	cfg.GzipEnabled = true
	r, _ := newTestRouter(t, cfg)

	if w := serve(r, http.MethodPost, "/items", `{"text":"compress me"}`, nil); w.Code != http.StatusCreated {
		t.Fatalf("POST = %d", w.Code)
	}
	w := serve(r, http.MethodGet, "/items", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers=%v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if !strings.Contains(string(body), "compress me") {
		t.Fatalf("decompressed body = %s", body)
	}
}

func TestRegisterRoutes_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodPost, "/items", `{"text":"`+strings.Repeat("a", 64)+`"}`, nil)
	if w.Code != http.StatusBadRequest && w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body = %d", w.Code)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/items") {
		t.Fatalf("swagger doc = %d", w.Code)
	}
}

func Test_repoShims_Proxy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	items := itemRepoShim{}
	idem := idemRepoShim{}

	it, err := items.CreateItem(ctx, db, "t1")
	if err != nil || it.ID == 0 {
		t.Fatalf("CreateItem: %+v %v", it, err)
	}
	if _, err := items.UpdateItemText(ctx, db, it.ID, "t1-renamed"); err != nil {
		t.Fatalf("UpdateItemText: %v", err)
	}
	got, err := items.GetItem(ctx, db, it.ID)
	if err != nil || got.Text != "t1-renamed" {
		t.Fatalf("GetItem: %+v %v", got, err)
	}
	all, err := items.ListItems(ctx, db)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListItems: %d %v", len(all), err)
	}
	n, maxTS, err := items.ItemsStats(ctx, db)
	if err != nil || n != 1 || maxTS == nil {
		t.Fatalf("ItemsStats: %d %v %v", n, maxTS, err)
	}

	if _, err := idem.CreateIdempotency(ctx, db, "k1", it.ID, http.StatusCreated, time.Hour); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	rec, err := idem.GetIdempotency(ctx, db, "k1", time.Now().UTC())
	if err != nil || rec.ItemID != it.ID {
		t.Fatalf("GetIdempotency: %+v %v", rec, err)
	}

	if err := items.DeleteItem(ctx, db, it.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := items.GetItem(ctx, db, it.ID); err == nil {
		t.Fatal("expected not found after delete")
	}
}

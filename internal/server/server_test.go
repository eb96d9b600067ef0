package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"bookbazaar/internal/app"
	"bookbazaar/pkg/storage"
	"bookbazaar/pkg/store"
)

type testEnv struct {
	srv *httptest.Server
}

func newTestEnv(t *testing.T, redisAddr string) *testEnv {
	t.Helper()
	images, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	core, err := app.New(app.Config{
		Store:       store.NewMemoryStore(),
		TokenSecret: "test-secret",
		TokenTTL:    time.Hour,
		BcryptCost:  4,
		Images:      images,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{
		App:                     core,
		Images:                  images,
		RedisAddr:               redisAddr,
		LoginRateLimitPerMinute: 2,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) register(t *testing.T, name, email, role string) (string, string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "pw123456",
		"role":     role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %v", email, resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	user, _ := body["user"].(map[string]any)
	id, _ := user["id"].(string)
	if token == "" || id == "" {
		t.Fatalf("register response missing token or user id: %v", body)
	}
	return token, id
}

func (e *testEnv) createListing(t *testing.T, token, title string, price float64) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/books/upload", token, map[string]any{
		"title":     title,
		"author":    "Test Press",
		"category":  "textbooks",
		"condition": "good",
		"price":     price,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: status %d, body %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create response missing id: %v", body)
	}
	return id
}

func TestHealthAndWelcome(t *testing.T) {
	env := newTestEnv(t, "")
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: status %d, body %v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodGet, "/", "", nil)
	if resp.StatusCode != http.StatusOK || body["message"] == "" {
		t.Fatalf("welcome: status %d, body %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodGet, "/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path: status %d, want 404", resp.StatusCode)
	}
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	env := newTestEnv(t, "")
	env.register(t, "Ada", "ada@example.com", "")

	resp, body := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "No Email", "password": "pw123456",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing fields: status %d, body %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Dup", "email": "ada@example.com", "password": "pw123456",
	})
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "email already registered" {
		t.Fatalf("duplicate email: status %d, body %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Bad", "email": "bad@example.com", "password": "pw123456", "role": "superadmin",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid role: status %d, want 400", resp.StatusCode)
	}
}

func TestLoginOutcomes(t *testing.T) {
	env := newTestEnv(t, "")
	env.register(t, "Bob", "bob@example.com", "")

	resp, _ := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "bob@example.com", "password": "pw123456",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d, want 200", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "bob@example.com", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d, want 401", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "bob@example.com", "password": "pw123456", "role": "admin",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("role mismatch: status %d, body %v", resp.StatusCode, body)
	}
}

func TestListingLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	ownerToken, ownerID := env.register(t, "Owner", "owner@example.com", "")
	strangerToken, _ := env.register(t, "Stranger", "stranger@example.com", "")
	adminToken, _ := env.register(t, "Admin", "admin@example.com", "admin")

	id := env.createListing(t, ownerToken, "Algebra I", 15)

	resp, body := env.do(t, http.MethodGet, "/books/"+id, "", nil)
	if resp.StatusCode != http.StatusOK || body["title"] != "Algebra I" {
		t.Fatalf("get listing: status %d, body %v", resp.StatusCode, body)
	}
	if body["sellerId"] != ownerID {
		t.Fatalf("sellerId = %v, want %s", body["sellerId"], ownerID)
	}

	// Update without a token is unauthorized.
	resp, _ = env.do(t, http.MethodPut, "/books/"+id, "", map[string]any{"title": "X"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous update: status %d, want 401", resp.StatusCode)
	}

	// A stranger is forbidden; the record stays intact.
	resp, _ = env.do(t, http.MethodPut, "/books/"+id, strangerToken, map[string]any{"title": "Hijacked"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger update: status %d, want 403", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/books/"+id, strangerToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger delete: status %d, want 403", resp.StatusCode)
	}

	// Empty strings in an update are skipped, an explicit zero price lands.
	resp, body = env.do(t, http.MethodPut, "/books/"+id, ownerToken, map[string]any{
		"title": "", "price": 0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner update: status %d, body %v", resp.StatusCode, body)
	}
	if body["title"] != "Algebra I" || body["price"] != float64(0) {
		t.Fatalf("update semantics: title=%v price=%v", body["title"], body["price"])
	}

	// Admin may delete regardless of ownership.
	resp, body = env.do(t, http.MethodDelete, "/books/"+id, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete: status %d, want 200", resp.StatusCode)
	}
	if body["message"] != "Book deleted successfully" {
		t.Fatalf("delete confirmation = %v", body["message"])
	}
	resp, _ = env.do(t, http.MethodGet, "/books/"+id, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted get: status %d, want 404", resp.StatusCode)
	}
}

func TestSearchFilters(t *testing.T) {
	env := newTestEnv(t, "")
	token, _ := env.register(t, "Seller", "seller@example.com", "")
	env.createListing(t, token, "Intro to Go", 12)
	env.createListing(t, token, "Advanced Calculus", 45)
	env.createListing(t, token, "Rare Atlas", 150)

	resp, body := env.do(t, http.MethodGet, "/books?priceRange=20-50", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: status %d", resp.StatusCode)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("priceRange=20-50 results = %d, want 1", len(items))
	}
	title := items[0].(map[string]any)["title"]
	if title != "Advanced Calculus" {
		t.Fatalf("priceRange=20-50 returned %v, want Advanced Calculus", title)
	}

	resp, body = env.do(t, http.MethodGet, "/books?priceRange=100%2B", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: status %d", resp.StatusCode)
	}
	items, _ = body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("priceRange=100+ results = %d, want 1", len(items))
	}

	resp, body = env.do(t, http.MethodGet, "/books?search=atlas", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: status %d", resp.StatusCode)
	}
	items, _ = body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("search=atlas results = %d, want 1", len(items))
	}

	resp, _ = env.do(t, http.MethodGet, "/books?limit=banana", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: status %d, want 400", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, "/books?limit=2", "", nil)
	items, _ = body["items"].([]any)
	if resp.StatusCode != http.StatusOK || len(items) != 2 {
		t.Fatalf("limit=2 results = %d (status %d), want 2", len(items), resp.StatusCode)
	}
}

func TestMultipartUploadAndImageServing(t *testing.T) {
	env := newTestEnv(t, "")
	token, _ := env.register(t, "Seller", "img@example.com", "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"title": "Atlas", "author": "Maps Inc", "category": "reference",
		"condition": "fair", "price": "120",
	} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	part, err := mw.CreateFormFile("image", "cover.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("png-bytes")); err != nil {
		t.Fatalf("write image: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/books/upload", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: status %d, body %v", resp.StatusCode, body)
	}
	ref, _ := body["image"].(string)
	if !strings.HasPrefix(ref, "/uploads/") {
		t.Fatalf("image ref = %q, want /uploads/ prefix", ref)
	}

	imgResp, err := http.Get(env.srv.URL + ref)
	if err != nil {
		t.Fatalf("fetch image: %v", err)
	}
	defer imgResp.Body.Close()
	data, _ := io.ReadAll(imgResp.Body)
	if imgResp.StatusCode != http.StatusOK || string(data) != "png-bytes" {
		t.Fatalf("image fetch: status %d, body %q", imgResp.StatusCode, data)
	}

	missing, err := http.Get(env.srv.URL + "/uploads/not-there.png")
	if err != nil {
		t.Fatalf("fetch missing image: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing image: status %d, want 404", missing.StatusCode)
	}
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	env := newTestEnv(t, "")
	token, _ := env.register(t, "Seller", "ext@example.com", "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"title": "T", "author": "A", "category": "c", "condition": "new", "price": "5",
	} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	part, err := mw.CreateFormFile("image", "payload.exe")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(part, "MZ")
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/books/upload", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("exe upload: status %d, want 400", resp.StatusCode)
	}
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t, mr.Addr())
	env.register(t, "Limited", "limited@example.com", "")

	creds := map[string]string{"email": "limited@example.com", "password": "wrong"}
	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/auth/login", "", creds)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d, want 401", i, resp.StatusCode)
		}
	}
	resp, _ := env.do(t, http.MethodPost, "/auth/login", "", creds)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third attempt: status %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q, want 60", resp.Header.Get("Retry-After"))
	}
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bookbazaar/internal/app"
	"bookbazaar/internal/ratelimit"
	"bookbazaar/internal/util"
	"bookbazaar/pkg/domain"
	"bookbazaar/pkg/storage"
	"bookbazaar/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Images                     storage.ImageStore
	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	MaxUploadBytes             int64
	AllowedExtensions          []string
	AllowedOrigins             []string
	TrustedProxies             *util.TrustedProxies
}

// Server exposes the marketplace HTTP endpoints.
type Server struct {
	app               *app.App
	images            storage.ImageStore
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	allowedOrigins    []string
	trustedProxies    *util.TrustedProxies
	registerLimiter   *ratelimit.FixedWindowLimiter
	loginLimiter      *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	var registerLimiter, loginLimiter *ratelimit.FixedWindowLimiter
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rateWindow := time.Minute
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "bookbazaar:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		registerLimiter, err = newLimiter("register", registerLimit)
		if err != nil {
			return nil, err
		}
		loginLimiter, err = newLimiter("login", loginLimit)
		if err != nil {
			return nil, err
		}
	} else {
		slog.Warn("redis addr not configured, auth rate limiting disabled")
	}
	s := &Server{
		app:               cfg.App,
		images:            cfg.Images,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		allowedOrigins:    cfg.AllowedOrigins,
		trustedProxies:    cfg.TrustedProxies,
		registerLimiter:   registerLimiter,
		loginLimiter:      loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog("bookbazaar", s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithCORS(handler, s.allowedOrigins)
	return util.WithSecurityHeaders(handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)

	// listings
	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/books/", s.handleBookByID)
	s.mux.Handle("/books/upload", s.authenticated(s.handleUpload))

	// stored images
	s.mux.HandleFunc("/uploads/", s.handleUploadedFile)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Book Bazaar API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.authorize(w, r)
		if !ok {
			return
		}
		next(w, r, identity)
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "auth.token.verify", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return domain.Identity{}, false
	}
	identity, err := s.app.VerifyToken(token)
	if err != nil {
		s.audit(r, "auth.token.verify", "fail", "reason", err.Error())
		s.writeAppError(w, err)
		return domain.Identity{}, false
	}
	return identity, true
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "auth.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}
	identity, token, err := s.app.Register(req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", identity.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: identity})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	identity, token, err := s.app.Login(req.Email, req.Password, req.Role)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", identity.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: identity})
}

// listing handlers
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	filters := store.Filters{
		Search:     strings.TrimSpace(q.Get("search")),
		Category:   strings.TrimSpace(q.Get("category")),
		Condition:  strings.TrimSpace(q.Get("condition")),
		PriceRange: strings.TrimSpace(q.Get("priceRange")),
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	listings, err := s.app.Search(filters, limit)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": listings,
		"count": len(listings),
	})
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/books/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetByID(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPut:
		identity, ok := s.authorize(w, r)
		if !ok {
			return
		}
		s.handleUpdateBook(w, r, identity, id)
	case http.MethodDelete:
		identity, ok := s.authorize(w, r)
		if !ok {
			return
		}
		if err := s.app.Delete(identity, id); err != nil {
			s.audit(r, "listing.delete", "fail", "user_id", identity.ID, "listing_id", id, "reason", err.Error())
			s.writeAppError(w, err)
			return
		}
		s.audit(r, "listing.delete", "success", "user_id", identity.ID, "listing_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Book deleted successfully"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, identity domain.Identity, id string) {
	fields, image, errMsg := s.listingInput(w, r, false)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	doc, err := s.app.Update(identity, id, fields, image)
	if err != nil {
		s.audit(r, "listing.update", "fail", "user_id", identity.ID, "listing_id", id, "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "listing.update", "success", "user_id", identity.ID, "listing_id", id)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	fields, image, errMsg := s.listingInput(w, r, true)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	doc, err := s.app.Create(identity, fields, image)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "listing.create", "success", "user_id", identity.ID)
	writeJSON(w, http.StatusCreated, doc)
}

// listingInput decodes listing fields from a multipart form (with an
// optional image part) or a plain JSON body. A non-empty return message
// is a client error.
func (s *Server) listingInput(w http.ResponseWriter, r *http.Request, create bool) (app.ListingFields, *app.ImageUpload, string) {
	var fields app.ListingFields
	var image *app.ImageUpload

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if s.maxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return fields, nil, "invalid form data"
		}
		fields = app.ListingFields{
			Title:       strings.TrimSpace(r.FormValue("title")),
			Author:      strings.TrimSpace(r.FormValue("author")),
			Category:    strings.TrimSpace(r.FormValue("category")),
			Condition:   strings.TrimSpace(r.FormValue("condition")),
			Description: strings.TrimSpace(r.FormValue("description")),
			ISBN:        strings.TrimSpace(r.FormValue("isbn")),
			Status:      strings.TrimSpace(r.FormValue("status")),
		}
		if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
			price, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fields, nil, "price must be a number"
			}
			fields.Price = &price
		}
		file, header, err := r.FormFile("image")
		if err == nil {
			if !s.isExtensionAllowed(header.Filename) {
				file.Close()
				return fields, nil, "unsupported image type"
			}
			image = &app.ImageUpload{Filename: header.Filename, Reader: file, Size: header.Size}
		} else if !errors.Is(err, http.ErrMissingFile) {
			return fields, nil, "invalid image part"
		}
	} else {
		var req listingRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			return fields, nil, "invalid JSON body"
		}
		fields = app.ListingFields{
			Title:       strings.TrimSpace(req.Title),
			Author:      strings.TrimSpace(req.Author),
			Category:    strings.TrimSpace(req.Category),
			Condition:   strings.TrimSpace(req.Condition),
			Description: strings.TrimSpace(req.Description),
			ISBN:        strings.TrimSpace(req.ISBN),
			Status:      strings.TrimSpace(req.Status),
			Price:       req.Price,
		}
	}

	if create {
		if fields.Title == "" || fields.Author == "" || fields.Category == "" || fields.Condition == "" {
			return fields, nil, "title, author, category and condition are required"
		}
		if fields.Price == nil {
			return fields, nil, "price is required"
		}
	}
	return fields, image, ""
}

// stored image delivery
func (s *Server) handleUploadedFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}
	if presigner, ok := s.images.(storage.URLPresigner); ok {
		url, err := presigner.PresignGet(r.Context(), name, 15*time.Minute)
		if err != nil {
			slog.Warn("presign upload url failed", "name", name, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	rc, err := s.images.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		slog.Warn("open stored image failed", "name", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer rc.Close()
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("stream stored image failed", "name", name, "err", err)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type authResponse struct {
	Token string          `json:"token"`
	User  domain.Identity `json:"user"`
}

type listingRequest struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Category    string   `json:"category"`
	Condition   string   `json:"condition"`
	Description string   `json:"description"`
	ISBN        string   `json:"isbn"`
	Status      string   `json:"status"`
	Price       *float64 `json:"price"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application sentinels onto HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrDuplicateEmail), errors.Is(err, app.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrTokenExpired),
		errors.Is(err, app.ErrTokenInvalid),
		errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrRoleMismatch), errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 10 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".jpg", ".jpeg", ".png", ".webp"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

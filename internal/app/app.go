package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookbazaar/internal/util"
	"bookbazaar/pkg/auth"
	"bookbazaar/pkg/domain"
	"bookbazaar/pkg/mq"
	"bookbazaar/pkg/storage"
	"bookbazaar/pkg/store"
)

const defaultSearchLimit = 50

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	TokenSecret string
	TokenTTL    time.Duration
	BcryptCost  int
	Images      storage.ImageStore
	Events      *mq.Publisher
}

// App wires the credential and listing stores together with the auth and
// listing services.
type App struct {
	store  store.Store
	hasher auth.Hasher
	tokens *auth.TokenManager
	images storage.ImageStore
	events *mq.Publisher
}

// New constructs the application with database storage and token handling.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	tokens, err := auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}
	if cfg.Images == nil {
		return nil, fmt.Errorf("image store required")
	}
	return &App{
		store:  dataStore,
		hasher: auth.NewHasher(cfg.BcryptCost),
		tokens: tokens,
		images: cfg.Images,
		events: cfg.Events,
	}, nil
}

// --- auth service ---

// Register creates a user and returns a signed token plus the public view.
// The role defaults to user when unspecified.
func (a *App) Register(name, email, password, role string) (domain.Identity, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	parsedRole, ok := domain.ParseRole(strings.TrimSpace(role))
	if !ok {
		return domain.Identity{}, "", ErrInvalidRole
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.Identity{}, "", ErrDuplicateEmail
	}
	passwordHash, err := a.hasher.Hash(password)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         parsedRole,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.Identity{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user.PublicView(), token, nil
}

// Login validates credentials and issues a fresh token. The stored role
// must match the requested one (defaulting to user).
func (a *App) Login(email, password, role string) (domain.Identity, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.Identity{}, "", ErrInvalidCredentials
	}
	if !a.hasher.Check(password, user.PasswordHash) {
		return domain.Identity{}, "", ErrInvalidCredentials
	}
	requested := strings.TrimSpace(role)
	if requested == "" {
		requested = string(domain.RoleUser)
	}
	if string(user.Role) != requested {
		return domain.Identity{}, "", ErrRoleMismatch
	}
	token, err := a.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user.PublicView(), token, nil
}

// VerifyToken validates signature and expiry, then resolves the embedded
// subject against the credential store.
func (a *App) VerifyToken(token string) (domain.Identity, error) {
	userID, _, err := a.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return domain.Identity{}, ErrTokenExpired
		}
		return domain.Identity{}, ErrTokenInvalid
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.Identity{}, ErrUserNotFound
	}
	return user.PublicView(), nil
}

// RequireAdmin passes the identity through unchanged when it carries the
// admin role.
func (a *App) RequireAdmin(identity domain.Identity) (domain.Identity, error) {
	if !identity.IsAdmin() {
		return domain.Identity{}, ErrForbidden
	}
	return identity, nil
}

// --- listing service ---

// ListingFields carries caller-supplied listing attributes. Empty strings
// mean "not provided"; Price is a pointer so an explicit zero survives.
type ListingFields struct {
	Title       string
	Author      string
	Category    string
	Condition   string
	Description string
	ISBN        string
	Status      string
	Price       *float64
}

// ImageUpload is an optional image attached to create/update.
type ImageUpload struct {
	Filename string
	Reader   io.Reader
	Size     int64
}

// Search returns up to limit listings matching the filters, each passed
// through schema normalization. The limit defaults to 50.
func (a *App) Search(filters store.Filters, limit int) ([]domain.Listing, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	docs, err := a.store.ListListings(filters, limit)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	out := make([]domain.Listing, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.NormalizeListing(doc))
	}
	return out, nil
}

// GetByID returns the normalized listing. Malformed identifiers are
// treated identically to absent ones.
func (a *App) GetByID(id string) (domain.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	doc, ok, err := a.store.GetListing(id)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return domain.NormalizeListing(doc), nil
}

// Create persists a new canonical-schema listing owned by the caller.
func (a *App) Create(identity domain.Identity, fields ListingFields, image *ImageUpload) (domain.Listing, error) {
	doc := domain.Listing{
		domain.FieldTitle:       fields.Title,
		domain.FieldAuthor:      fields.Author,
		domain.FieldCategory:    fields.Category,
		domain.FieldCondition:   fields.Condition,
		domain.FieldSellerID:    identity.ID,
		domain.FieldSellerEmail: identity.Email,
		domain.FieldSellerName:  identity.Name,
		domain.FieldStatus:      domain.StatusActive,
		domain.FieldCreatedAt:   time.Now().UTC(),
	}
	if fields.Price != nil {
		doc[domain.FieldPrice] = *fields.Price
	} else {
		doc[domain.FieldPrice] = float64(0)
	}
	if fields.Description != "" {
		doc[domain.FieldDescription] = fields.Description
	}
	if fields.ISBN != "" {
		doc[domain.FieldISBN] = fields.ISBN
	}
	if image != nil {
		ref, err := a.saveImage(image)
		if err != nil {
			return nil, err
		}
		doc[domain.FieldImage] = ref
	}
	id := util.NewID()
	if err := a.store.SaveListing(id, doc); err != nil {
		return nil, fmt.Errorf("save listing: %w", err)
	}
	doc[domain.FieldID] = id
	a.publish(mq.KeyListingCreated, map[string]any{"id": id, "sellerId": identity.ID})
	return domain.NormalizeListing(doc), nil
}

// Update applies the provided fields to an existing listing. Fields
// supplied as empty strings are skipped, mirroring the legacy truthiness
// behavior of the surface this replaces.
func (a *App) Update(identity domain.Identity, id string, fields ListingFields, image *ImageUpload) (domain.Listing, error) {
	doc, err := a.getOwned(identity, id)
	if err != nil {
		return nil, err
	}
	applyString := func(field, value string) {
		if value != "" {
			doc[field] = value
		}
	}
	applyString(domain.FieldTitle, fields.Title)
	applyString(domain.FieldAuthor, fields.Author)
	applyString(domain.FieldCategory, fields.Category)
	applyString(domain.FieldCondition, fields.Condition)
	applyString(domain.FieldDescription, fields.Description)
	applyString(domain.FieldStatus, fields.Status)
	if fields.Price != nil {
		doc[domain.FieldPrice] = *fields.Price
	}
	if image != nil {
		ref, err := a.saveImage(image)
		if err != nil {
			return nil, err
		}
		doc[domain.FieldImage] = ref
	}
	if err := a.store.SaveListing(id, doc); err != nil {
		return nil, fmt.Errorf("save listing: %w", err)
	}
	a.publish(mq.KeyListingUpdated, map[string]any{"id": id, "updatedBy": identity.ID})
	return domain.NormalizeListing(doc), nil
}

// Delete removes a listing under the same authorization rule as Update.
func (a *App) Delete(identity domain.Identity, id string) error {
	if _, err := a.getOwned(identity, id); err != nil {
		return err
	}
	if err := a.store.DeleteListing(id); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	a.publish(mq.KeyListingDeleted, map[string]any{"id": id, "deletedBy": identity.ID})
	return nil
}

// getOwned loads a listing and enforces the shared authorization
// predicate: existence is checked before ownership, so absent ids report
// NotFound even to strangers.
func (a *App) getOwned(identity domain.Identity, id string) (domain.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	doc, ok, err := a.store.GetListing(id)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if !canModify(identity, doc) {
		return nil, ErrForbidden
	}
	return doc, nil
}

// canModify is the single ownership/role predicate shared by update and
// delete.
func canModify(identity domain.Identity, doc domain.Listing) bool {
	if identity.IsAdmin() {
		return true
	}
	return domain.StringValue(doc, domain.FieldSellerID) == identity.ID
}

func (a *App) saveImage(image *ImageUpload) (string, error) {
	ext := strings.ToLower(filepath.Ext(image.Filename))
	storedName := uuid.NewString() + ext
	contentType := mime.TypeByExtension(ext)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.images.Save(ctx, storedName, image.Reader, image.Size, contentType); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return "/uploads/" + storedName, nil
}

func (a *App) publish(key string, payload map[string]any) {
	if a.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.events.PublishJSON(ctx, key, payload); err != nil {
		slog.Warn("publish listing event failed", "key", key, "err", err)
	}
}

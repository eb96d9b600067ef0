package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookbazaar/internal/util"
	"bookbazaar/pkg/domain"
)

const migrateLockID int64 = 84518451

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ListingModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "password_hash", "role"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveListing stores or replaces a listing document under the given id.
func (s *GormStore) SaveListing(id string, doc domain.Listing) error {
	model, err := listingToModel(id, doc)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seller_id", "document"}),
	}).Create(&model).Error
}

// InsertListings writes a batch of documents, assigning ids.
func (s *GormStore) InsertListings(docs []domain.Listing) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	models := make([]ListingModel, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := util.NewID()
		model, err := listingToModel(id, doc)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
		ids = append(ids, id)
	}
	if err := s.db.CreateInBatches(&models, 200).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListListings returns up to limit documents matching the filters, in
// insertion order. Filters apply to canonical fields only; legacy-shaped
// documents match no filtered query, which mirrors how the collection has
// always behaved.
func (s *GormStore) ListListings(filters Filters, limit int) ([]domain.Listing, error) {
	tx := s.db.Model(&ListingModel{}).Order("created_at ASC")
	if search := strings.TrimSpace(filters.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		tx = tx.Where(
			"document->>'title' ILIKE ? OR document->>'author' ILIKE ?",
			pattern, pattern,
		)
	}
	if filters.Category != "" {
		tx = tx.Where("document->>'category' = ?", filters.Category)
	}
	if filters.Condition != "" {
		tx = tx.Where("document->>'condition' = ?", filters.Condition)
	}
	if min, max, ok := filters.PriceBounds(); ok {
		tx = tx.Where("(document->>'price')::numeric >= ?", min)
		if max >= 0 {
			tx = tx.Where("(document->>'price')::numeric <= ?", max)
		}
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []ListingModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Listing, 0, len(models))
	for _, m := range models {
		doc, err := listingFromModel(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetListing retrieves one document by id.
func (s *GormStore) GetListing(id string) (domain.Listing, bool, error) {
	var model ListingModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	doc, err := listingFromModel(model)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// DeleteListing removes a document.
func (s *GormStore) DeleteListing(id string) error {
	return s.db.Delete(&ListingModel{}, "id = ?", id).Error
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func listingToModel(id string, doc domain.Listing) (ListingModel, error) {
	stored := make(domain.Listing, len(doc))
	for k, v := range doc {
		stored[k] = v
	}
	stored[domain.FieldID] = id
	raw, err := json.Marshal(stored)
	if err != nil {
		return ListingModel{}, fmt.Errorf("encode listing: %w", err)
	}
	createdAt := time.Now().UTC()
	if ts, ok := stored[domain.FieldCreatedAt].(time.Time); ok {
		createdAt = ts
	}
	return ListingModel{
		ID:        id,
		SellerID:  domain.StringValue(stored, domain.FieldSellerID),
		Document:  raw,
		CreatedAt: createdAt,
	}, nil
}

func listingFromModel(m ListingModel) (domain.Listing, error) {
	var doc domain.Listing
	if err := json.Unmarshal(m.Document, &doc); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", m.ID, err)
	}
	doc[domain.FieldID] = m.ID
	return doc, nil
}

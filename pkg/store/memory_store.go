package store

import (
	"strings"
	"sync"

	"bookbazaar/internal/util"
	"bookbazaar/pkg/domain"
)

// MemoryStore keeps users and listings in-process. It backs tests and
// mirrors the GormStore filter semantics, including insertion order.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	email    map[string]string // email -> user ID
	listings map[string]domain.Listing
	order    []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		listings: make(map[string]domain.Listing),
	}
}

// SaveUser registers or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveListing stores or replaces a listing document and tracks insertion order.
func (m *MemoryStore) SaveListing(id string, doc domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listings[id]; !exists {
		m.order = append(m.order, id)
	}
	m.listings[id] = cloneWithID(id, doc)
	return nil
}

// InsertListings writes a batch of documents, assigning ids.
func (m *MemoryStore) InsertListings(docs []domain.Listing) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := util.NewID()
		m.listings[id] = cloneWithID(id, doc)
		m.order = append(m.order, id)
		ids = append(ids, id)
	}
	return ids, nil
}

// ListListings returns up to limit documents matching the filters in
// insertion order.
func (m *MemoryStore) ListListings(filters Filters, limit int) ([]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Listing, 0, len(m.order))
	for _, id := range m.order {
		doc, ok := m.listings[id]
		if !ok || !matches(doc, filters) {
			continue
		}
		res = append(res, cloneWithID(id, doc))
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

// GetListing retrieves one document by id.
func (m *MemoryStore) GetListing(id string) (domain.Listing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	return cloneWithID(id, doc), true, nil
}

// DeleteListing removes a document.
func (m *MemoryStore) DeleteListing(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

// matches applies the same constraints the GormStore compiles to JSONB SQL:
// canonical fields only.
func matches(doc domain.Listing, f Filters) bool {
	if f.IsZero() {
		return true
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		title := domain.StringValue(doc, domain.FieldTitle)
		author := domain.StringValue(doc, domain.FieldAuthor)
		needle := strings.ToLower(search)
		if !strings.Contains(strings.ToLower(title), needle) &&
			!strings.Contains(strings.ToLower(author), needle) {
			return false
		}
	}
	if f.Category != "" && domain.StringValue(doc, domain.FieldCategory) != f.Category {
		return false
	}
	if f.Condition != "" && domain.StringValue(doc, domain.FieldCondition) != f.Condition {
		return false
	}
	if min, max, ok := f.PriceBounds(); ok {
		price, ok := domain.NumericValue(doc[domain.FieldPrice])
		if !ok {
			return false
		}
		if price < min {
			return false
		}
		if max >= 0 && price > max {
			return false
		}
	}
	return true
}

func cloneWithID(id string, doc domain.Listing) domain.Listing {
	out := make(domain.Listing, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[domain.FieldID] = id
	return out
}

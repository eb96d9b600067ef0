package store

import "bookbazaar/pkg/domain"

// Store defines persistence operations for users and listings.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// listings
	SaveListing(id string, doc domain.Listing) error
	InsertListings(docs []domain.Listing) ([]string, error)
	ListListings(filters Filters, limit int) ([]domain.Listing, error)
	GetListing(id string) (domain.Listing, bool, error)
	DeleteListing(id string) error
}

// Filters is the recognized search configuration for listing queries.
// Absent or unrecognized options impose no constraint.
type Filters struct {
	Search     string
	Category   string
	Condition  string
	PriceRange string
}

// PriceBounds maps the recognized price-range buckets to inclusive numeric
// bounds. A negative max means the range is open above. ok is false for
// absent or unrecognized buckets.
func (f Filters) PriceBounds() (min, max float64, ok bool) {
	switch f.PriceRange {
	case "0-20":
		return 0, 20, true
	case "20-50":
		return 20, 50, true
	case "50-100":
		return 50, 100, true
	case "100+":
		return 100, -1, true
	default:
		return 0, 0, false
	}
}

// IsZero reports whether no filter option is set.
func (f Filters) IsZero() bool {
	return f.Search == "" && f.Category == "" && f.Condition == "" && f.PriceRange == ""
}

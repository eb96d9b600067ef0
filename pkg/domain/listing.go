package domain

import (
	"strconv"
	"strings"
)

// Listings are stored as schema-flexible JSON documents. Two field naming
// conventions coexist in the collection: the canonical one (title, author,
// price, image) and a legacy one inherited from earlier imports
// ("Book Name", "Publisher", "Price", images as a list). Services operate
// on the canonical shape only; NormalizeListing bridges the gap at the
// storage boundary.
type Listing = map[string]any

// Canonical listing field names.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldPrice       = "price"
	FieldCategory    = "category"
	FieldCondition   = "condition"
	FieldDescription = "description"
	FieldISBN        = "isbn"
	FieldImage       = "image"
	FieldSellerID    = "sellerId"
	FieldSellerEmail = "sellerEmail"
	FieldSellerName  = "sellerName"
	FieldStatus      = "status"
	FieldCreatedAt   = "createdAt"
)

// Legacy listing field names.
const (
	LegacyTitle  = "Book Name"
	LegacyAuthor = "Publisher"
	LegacyPrice  = "Price"
	LegacyImages = "images"
)

// NormalizeListing maps a stored document in either schema onto the
// canonical view. Each rule applies independently and only when the
// canonical field is absent, so the function is idempotent and a no-op on
// already-canonical documents. The input document is left untouched.
func NormalizeListing(doc Listing) Listing {
	out := make(Listing, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	if _, ok := out[FieldTitle]; !ok {
		if v, ok := out[LegacyTitle]; ok {
			out[FieldTitle] = v
		} else {
			out[FieldTitle] = "Untitled"
		}
	}
	if _, ok := out[FieldAuthor]; !ok {
		if v, ok := out[LegacyAuthor]; ok {
			out[FieldAuthor] = v
		} else {
			out[FieldAuthor] = "Unknown"
		}
	}
	if _, ok := out[FieldPrice]; !ok {
		if v, ok := out[LegacyPrice]; ok {
			out[FieldPrice] = v
		} else {
			out[FieldPrice] = float64(0)
		}
	}
	if _, ok := out[FieldImage]; !ok {
		if first, ok := firstImage(out[LegacyImages]); ok {
			out[FieldImage] = first
		}
	}
	return out
}

func firstImage(value any) (any, bool) {
	switch list := value.(type) {
	case []any:
		if len(list) > 0 {
			return list[0], true
		}
	case []string:
		if len(list) > 0 {
			return list[0], true
		}
	}
	return nil, false
}

// StringValue returns the document field as a string when present.
func StringValue(doc Listing, field string) string {
	if v, ok := doc[field].(string); ok {
		return v
	}
	return ""
}

// NumericValue coerces a document value to a float64. Stored documents mix
// JSON numbers, integers from imports, and the occasional numeric string.
func NumericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

package auth

import "golang.org/x/crypto/bcrypt"

// Hasher derives one-way password hashes with a configurable bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher builds a hasher. Costs outside bcrypt's supported range fall
// back to the library default.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{cost: cost}
}

// Hash returns the salted bcrypt hash of password.
func (h Hasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Check validates password against a stored hash. bcrypt performs a
// constant-structure comparison internally.
func (h Hasher) Check(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

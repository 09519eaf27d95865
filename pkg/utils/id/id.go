// Package id generates identifiers for points and sessions.
//
//	pointID := id.NewUUID()   // e.g., "550e8400-e29b-41d4-a716-446655440000"
//	session := id.NewULID()   // e.g., "01ARZ3NDEKTSV4RRFFQ69G5FAV"
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator defines the interface for ID generators.
type Generator interface {
	// Generate creates a new unique ID.
	Generate() string
}

// Type represents the type of ID generator.
type Type string

const (
	// TypeUUID represents UUID v4 generator.
	TypeUUID Type = "uuid"

	// TypeULID represents ULID generator.
	TypeULID Type = "ulid"
)

// UUIDGenerator generates random UUID v4 strings.
type UUIDGenerator struct{}

// Generate implements Generator.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// ULIDGenerator generates monotonic ULIDs. It is safe for concurrent use.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDGenerator creates a ULID generator seeded from crypto/rand.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Generate implements Generator.
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var defaultULID = NewULIDGenerator()

// NewUUID generates a new UUID v4 string.
func NewUUID() string {
	return UUIDGenerator{}.Generate()
}

// NewULID generates a new ULID string.
func NewULID() string {
	return defaultULID.Generate()
}

// NewSessionID generates a lower-case ULID, usable in collection names.
func NewSessionID() string {
	return strings.ToLower(NewULID())
}

// New generates a new ID using the specified generator type.
func New(t Type) string {
	if t == TypeULID {
		return NewULID()
	}
	return NewUUID()
}

// ValidUUID reports whether s parses as a UUID.
func ValidUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return ErrInvalidUUID
	}
	return nil
}

// ValidULID reports whether s parses as a ULID.
func ValidULID(s string) error {
	if _, err := ulid.ParseStrict(strings.ToUpper(s)); err != nil {
		return ErrInvalidULID
	}
	return nil
}

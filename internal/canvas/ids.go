package canvas

import "github.com/google/uuid"

// IDGenerator produces candidate element ids.
// The Store rejects candidates it has already seen and asks again.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 element ids.
//
// Sortable ids keep creation order visible in logs and storage dumps.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

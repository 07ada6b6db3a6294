package event

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDPrefix marks event identifiers in logs and APIs.
const IDPrefix = "evt_"

// NewID generates a prefixed ULID event identifier. ULIDs are time-ordered,
// so identifiers from one process sort in creation order, which gives the
// index a stable tie-break for events sharing a timestamp.
func NewID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return IDPrefix + id.String(), nil
}

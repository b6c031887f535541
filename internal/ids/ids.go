package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random uuid, used for connection identities.
func New() string {
	return uuid.NewString()
}

// Short returns a 10-char id for candidates and flash notices. Unique within a
// pool with overwhelming probability, which is all those ids need.
func Short() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

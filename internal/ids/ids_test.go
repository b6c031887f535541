package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	seen := map[string]bool{}
	for range 1000 {
		id := Short()
		assert.Len(t, id, 10)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

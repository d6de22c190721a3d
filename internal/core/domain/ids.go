package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu     sync.Mutex
	idSource = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexicographically sortable, time-ordered unique id.
// A single monotonic entropy source is shared across the process so ids
// generated within the same millisecond still sort in call order.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idSource).String()
}

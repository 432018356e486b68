package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewConnID returns a ULID naming one websocket connection in logs.
// Sorting by conn_id sorts by accept time.
func NewConnID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

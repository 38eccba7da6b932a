package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID generates a new ULID string
func NewULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewID returns an opaque prefixed identifier such as "merch_4f1a..." or
// "agent_09cc...". 12 random bytes keeps collisions out of reach while the
// id stays short enough for support tickets.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("id entropy: %w", err))
	}
	return prefix + "_" + hex.EncodeToString(buf)
}

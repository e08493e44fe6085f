package kit

import (
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs. They sort by
// creation time, which keeps run and result rows in insertion order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id from gen ("run_", "res_", "req_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// NewID returns a fresh UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IDTime recovers the creation time embedded in a UUIDv7 id, with or
// without a prefix. ok is false for anything that is not a v7 UUID.
func IDTime(id string) (t time.Time, ok bool) {
	if len(id) > 36 {
		id = id[len(id)-36:]
	}
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 7 {
		return time.Time{}, false
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), true
}

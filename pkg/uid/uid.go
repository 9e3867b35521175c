// Package uid generates the random identifiers used for request ids, session
// tokens and device surrogates.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Compact returns a random UUID as 32 lowercase hex digits without dashes.
func Compact() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")
}

// Base36 returns n uppercase base-36 characters drawn from fresh random UUIDs.
func Base36(n int) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	var b strings.Builder
	b.Grow(n)
	for b.Len() < n {
		u := uuid.New()
		for _, c := range u[:] {
			if b.Len() == n {
				break
			}
			// 252 is the largest multiple of 36 below 256; rejecting above it keeps the draw uniform
			if c >= 252 {
				continue
			}
			b.WriteByte(alphabet[int(c)%36])
		}
	}
	return b.String()
}

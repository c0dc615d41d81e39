package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const suffixLength = 10

// NewJobUUID returns the external identifier of a backup job: a random
// version 4 UUID in canonical lowercase form.
func NewJobUUID() string {
	return uuid.NewString()
}

// NewName appends a random 10 character [a-z0-9] suffix to prefix. Two
// jobs started in the same second get distinct backup directories.
func NewName(prefix string) string {
	b := make([]byte, suffixLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return prefix + string(b)
}

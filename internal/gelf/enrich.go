package gelf

import "github.com/google/uuid"

// NewKey returns a random 128-bit correlation key in canonical UUID form.
func NewKey() string {
	return uuid.NewString()
}

// Enrich tags msg with a fresh correlation key and the address it came
// from, and returns the key.
func Enrich(msg Message, source string) string {
	key := NewKey()
	msg[KeyField] = key
	msg[SourceField] = source
	return key
}

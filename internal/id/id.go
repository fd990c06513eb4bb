package id

import "github.com/google/uuid"

// New returns a random batch identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an identifier returned by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

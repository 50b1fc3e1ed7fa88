// Package id generates sortable unique identifiers for datastore rows.
// Identifiers are ULIDs with monotonic entropy, so ids minted in sequence
// sort in mint order.
package id

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mutex   sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewStringFromTime mints an identifier carrying the given timestamp.
func NewStringFromTime(t time.Time) (string, error) {
	mutex.Lock()
	defer mutex.Unlock()

	id, err := ulid.New(uint64(t.UnixMilli()), entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// NewString mints an identifier for the current time.
func NewString() (string, error) {
	return NewStringFromTime(time.Now())
}

// IsValid reports whether s is a well-formed identifier.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Timestamp extracts the mint time carried by an identifier.
func Timestamp(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}

	return ulid.Time(id.Time()), nil
}

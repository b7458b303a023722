package sync

import "time"

// Resolution is the outcome of last-write-wins conflict resolution.
type Resolution int

const (
	// ExistingWins keeps the record already on the server.
	ExistingWins Resolution = iota
	// IncomingWins replaces the server record with the submitted one.
	IncomingWins
)

// Resolve decides whether an incoming reading supersedes the existing
// one sharing its idempotency key. Only a strictly later observation
// timestamp wins; ties keep the existing record. No field-level merge
// is attempted.
func Resolve(incoming, existing time.Time) Resolution {
	if incoming.After(existing) {
		return IncomingWins
	}
	return ExistingWins
}

package session

import (
	"time"

	"github.com/jmcleod/sealedsession/storage"
)

// Record is the server side state of one user's session.
type Record struct {
	// Verifier is the session secret encrypted under the master key.
	Verifier        string
	ExpiresEnabled  bool
	ExpiresAtMillis int64
}

// ExpiresAt returns the expiry instant, or the zero time when the record
// never expires.
func (r Record) ExpiresAt() time.Time {
	if !r.ExpiresEnabled {
		return time.Time{}
	}
	return time.UnixMilli(r.ExpiresAtMillis)
}

// expired reports whether the record has expired at nowMillis. A record is
// still valid during the millisecond it expires in.
func (r Record) expired(nowMillis int64) bool {
	return r.ExpiresEnabled && nowMillis > r.ExpiresAtMillis
}

func (r Record) row(userID string) storage.Row {
	return storage.Row{
		UserID:          userID,
		Verifier:        r.Verifier,
		ExpiresEnabled:  r.ExpiresEnabled,
		ExpiresAtMillis: r.ExpiresAtMillis,
	}
}

func recordFromRow(row storage.Row) Record {
	r := Record{
		Verifier:        row.Verifier,
		ExpiresEnabled:  row.ExpiresEnabled,
		ExpiresAtMillis: row.ExpiresAtMillis,
	}
	if !r.ExpiresEnabled {
		r.ExpiresAtMillis = 0
	}
	return r
}

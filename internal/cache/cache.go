// Package cache is a content-addressed, TTL-bounded store of prior
// request/response pairs. Keys are digests of endpoint plus canonicalized
// parameters, so parameter order never changes the key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Params are request query parameters that identify a response.
type Params map[string]string

// Entry is one persisted response.
type Entry struct {
	Key      string
	Endpoint string
	StoredAt time.Time
	Payload  json.RawMessage
}

// entryJSON is the persisted form of an Entry. The payload is held as a
// string so Lookup returns the stored bytes unchanged.
type entryJSON struct {
	Key      string    `json:"key"`
	Endpoint string    `json:"endpoint"`
	StoredAt time.Time `json:"stored_at"`
	Payload  string    `json:"payload"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		Key:      e.Key,
		Endpoint: e.Endpoint,
		StoredAt: e.StoredAt,
		Payload:  string(e.Payload),
	})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var v entryJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*e = Entry{
		Key:      v.Key,
		Endpoint: v.Endpoint,
		StoredAt: v.StoredAt,
		Payload:  json.RawMessage(v.Payload),
	}
	return nil
}

// Store is the cache contract shared by every backend.
//
// Lookup never fails: missing, expired or unreadable entries are all a miss.
// Store overwrites; errors are for logging only, caching is best effort.
// Evict removes entries older than olderThan, or everything when it is nil.
type Store interface {
	Lookup(ctx context.Context, endpoint string, params Params) (json.RawMessage, bool)
	Store(ctx context.Context, endpoint string, params Params, payload json.RawMessage) error
	Evict(ctx context.Context, olderThan *time.Duration) (int, error)
}

// Key derives the deterministic cache key for endpoint and params.
func Key(endpoint string, params Params) string {
	sum := sha256.Sum256([]byte(endpoint + ":" + canonical(params)))
	return hex.EncodeToString(sum[:])
}

// canonical serializes params with sorted keys. encoding/json sorts map keys.
func canonical(params Params) string {
	if len(params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(map[string]string(params))
	if err != nil {
		return "{}"
	}
	return string(b)
}

// expired reports whether an entry stored at storedAt is older than ttl at now.
func expired(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) > ttl
}

// Disabled is a Store that never hits and never persists.
type Disabled struct{}

func (Disabled) Lookup(context.Context, string, Params) (json.RawMessage, bool) {
	return nil, false
}

func (Disabled) Store(context.Context, string, Params, json.RawMessage) error {
	return nil
}

func (Disabled) Evict(context.Context, *time.Duration) (int, error) {
	return 0, nil
}

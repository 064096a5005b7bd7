package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the envelope version written by this build. Entries with
// any other version are rejected as invalid and refetched.
const SchemaVersion = 1

// Envelope is the on-disk (and in-Redis) representation of a cache entry.
type Envelope struct {
	// Version is the schema version of Payload.
	Version int `json:"version"`

	// Kind is the key prefix the payload was written under.
	Kind Prefix `json:"kind"`

	// WrittenAt is when the entry was written.
	WrittenAt time.Time `json:"written_at"`

	// Payload is the serialized collection.
	Payload json.RawMessage `json:"payload"`
}

// encodeEnvelope wraps v in a versioned envelope.
func encodeEnvelope(key Key, v any, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		Version:   SchemaVersion,
		Kind:      key.Prefix,
		WrittenAt: now.UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// decodeEnvelope parses data and decodes its payload into dst.
func decodeEnvelope(key Key, data []byte, dst any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if env.Version != SchemaVersion {
		return Envelope{}, fmt.Errorf("%w: schema version %d, want %d", ErrInvalidEntry, env.Version, SchemaVersion)
	}
	if env.Kind != key.Prefix {
		return Envelope{}, fmt.Errorf("%w: kind %q, want %q", ErrInvalidEntry, env.Kind, key.Prefix)
	}
	if len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty payload", ErrInvalidEntry)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return env, nil
}

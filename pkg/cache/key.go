package cache

import (
	"crypto/sha1" // #nosec G505 -- fingerprint only, not a security boundary
	"encoding/hex"
)

// Prefix names the kind of collection stored under a key.
type Prefix string

const (
	// PrefixMessages stores the MessageRef listing for a query.
	PrefixMessages Prefix = "messages"

	// PrefixMetadata stores the MessageMetadata collection for a query.
	PrefixMetadata Prefix = "metadata"
)

// fingerprintLen is the number of hex characters kept from the query hash.
const fingerprintLen = 10

// Key identifies one cached collection.
type Key struct {
	// Prefix is the collection kind.
	Prefix Prefix

	// Fingerprint namespaces the entry per query. Empty for the default key.
	Fingerprint string
}

// KeyFor returns the key for prefix and query. An empty query maps to the
// default key without fingerprint.
func KeyFor(prefix Prefix, query string) Key {
	return Key{Prefix: prefix, Fingerprint: Fingerprint(query)}
}

// Fingerprint returns the first 10 hex characters of the SHA-1 of query, or
// "" for an empty query.
func Fingerprint(query string) string {
	if query == "" {
		return ""
	}
	sum := sha1.Sum([]byte(query)) // #nosec G401
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// String generates the key name.
// Format: <prefix>[_<fingerprint>]
//
// Example:
//
//	metadata_3f1c9a0b7d
func (k Key) String() string {
	if k.Fingerprint == "" {
		return string(k.Prefix)
	}
	return string(k.Prefix) + "_" + k.Fingerprint
}

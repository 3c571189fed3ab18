package table

import (
	"strings"
	"sync"
)

// Collator maps a string to the byte sequence that determines its sort
// position; comparing the results with bytes.Compare must match the
// collation's intended order.
type Collator func(string) []byte

// BinaryCollation is the default collation named in spec §3:
// byte-lexicographic, i.e. the identity mapping.
func BinaryCollation(s string) []byte { return []byte(s) }

// NoCaseCollation folds to lowercase before comparing, for case-insensitive
// string columns.
func NoCaseCollation(s string) []byte { return []byte(strings.ToLower(s)) }

// collationRegistry is the "named collation registry" spec §3 calls for:
// schemas reference a collation by name, resolved here.
type collationRegistry struct {
	mu   sync.RWMutex
	byID map[string]Collator
}

var registry = &collationRegistry{
	byID: map[string]Collator{
		"binary": BinaryCollation,
		"nocase": NoCaseCollation,
	},
}

// RegisterCollation adds or replaces a named collation.
func RegisterCollation(name string, c Collator) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.byID[name] = c
}

// LookupCollation resolves a collation name, defaulting to "binary" for the
// empty string. Returns false if the name is unknown.
func LookupCollation(name string) (Collator, bool) {
	if name == "" {
		return BinaryCollation, true
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	c, ok := registry.byID[name]
	return c, ok
}

// Package symbols turns raw ELF symbol names into display names.
package symbols

import (
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// Cache memoizes demangled names. It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	names map[string]string
	hits  int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{names: make(map[string]string)}
}

// Demangle returns the demangled form of name, or name itself when it is
// not a mangled C++ or Rust symbol.
func (c *Cache) Demangle(name string) string {
	c.mu.RLock()
	if d, ok := c.names[name]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return d
	}
	c.mu.RUnlock()

	d := demangle.Filter(name, demangle.NoClones)

	c.mu.Lock()
	c.names[name] = d
	c.mu.Unlock()
	return d
}

// Stats returns the number of cached names and the number of lookups served
// from the cache.
func (c *Cache) Stats() (entries, hits int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names), c.hits
}

// Display returns the demangled name if it differs from name, or "" so
// callers can keep a single field empty for plain C symbols.
func (c *Cache) Display(name string) string {
	d := c.Demangle(name)
	if d == name {
		return ""
	}
	return d
}

// Short trims a demangled C++ name to the function name without its
// parameter list, which keeps listings narrow.
func Short(display string) string {
	depth := 0
	for i, r := range display {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case '(':
			if depth == 0 && i > 0 {
				return strings.TrimSpace(display[:i])
			}
		}
	}
	return display
}

package silaerr

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps defined execution error identifiers to the local errors a client
// should see for them. Feature clients register their command's declared errors.
type Catalog struct {
	mu    sync.RWMutex
	kinds map[string]error
}

func NewCatalog() *Catalog {
	return &Catalog{kinds: make(map[string]error)}
}

// Register binds identifier to kind. Re-registering the same pair is a no-op;
// binding an identifier to a different kind is a programming error and panics.
func (c *Catalog) Register(identifier string, kind error) {
	if identifier == "" || kind == nil {
		panic("silaerr: Catalog.Register needs an identifier and a kind")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.kinds[identifier]; ok && prev != kind {
		panic(fmt.Sprintf("silaerr: identifier %q already registered", identifier))
	}
	c.kinds[identifier] = kind
}

// Merge registers every entry of other into c.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	for id, kind := range other.kinds {
		c.Register(id, kind)
	}
}

// Lookup returns the kind bound to identifier.
func (c *Catalog) Lookup(identifier string) (error, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kind, ok := c.kinds[identifier]
	return kind, ok
}

// Identifiers lists the registered identifiers in sorted order.
func (c *Catalog) Identifiers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.kinds))
	for id := range c.kinds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns a copy of e whose Cause is the registered kind, so errors.Is
// against the kind works on the client. Unknown identifiers return e unchanged.
func (c *Catalog) Resolve(e *DefinedExecutionError) *DefinedExecutionError {
	if e == nil {
		return nil
	}
	kind, ok := c.Lookup(e.Identifier)
	if !ok {
		return e
	}
	cp := *e
	cp.Cause = kind
	return &cp
}

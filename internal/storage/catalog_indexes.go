package storage

import (
	"fmt"
	"strings"
	"time"
)

// CatalogIndex holds the definition of a secondary index created with
// CREATE INDEX. The planner consults these entries when choosing an access
// path; the physical index structure is built by the engine on demand.
type CatalogIndex struct {
	Schema    string
	Name      string
	Table     string
	Columns   []string
	Unique    bool
	CreatedAt time.Time
}

// RegisterIndex adds an index definition. Index names are unique per schema;
// registering an existing name fails unless the definition is identical.
func (c *CatalogManager) RegisterIndex(idx *CatalogIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx.Name == "" {
		return fmt.Errorf("index name cannot be empty")
	}
	key := idx.Schema + "." + strings.ToLower(idx.Name)
	if _, exists := c.indexes[key]; exists {
		return fmt.Errorf("index %s already exists", idx.Name)
	}
	if idx.CreatedAt.IsZero() {
		idx.CreatedAt = time.Now()
	}
	c.indexes[key] = idx
	return nil
}

// GetIndex returns the index named name in schema, or nil.
func (c *CatalogManager) GetIndex(schema, name string) *CatalogIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexes[schema+"."+strings.ToLower(name)]
}

// DeleteIndex removes an index definition. Unknown names are an error so
// DROP INDEX without IF EXISTS can report them.
func (c *CatalogManager) DeleteIndex(schema, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := schema + "." + strings.ToLower(name)
	if _, exists := c.indexes[key]; !exists {
		return fmt.Errorf("no such index: %s", name)
	}
	delete(c.indexes, key)
	return nil
}

// GetIndexes returns all registered index definitions.
func (c *CatalogManager) GetIndexes() []*CatalogIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*CatalogIndex, 0, len(c.indexes))
	for _, idx := range c.indexes {
		out = append(out, idx)
	}
	return out
}

// GetIndexesForTable returns the indexes defined on schema.table.
func (c *CatalogManager) GetIndexesForTable(schema, table string) []*CatalogIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*CatalogIndex
	for _, idx := range c.indexes {
		if idx.Schema == schema && strings.EqualFold(idx.Table, table) {
			out = append(out, idx)
		}
	}
	return out
}

// DeleteIndexesForTable removes every index on schema.table (DROP TABLE).
func (c *CatalogManager) DeleteIndexesForTable(schema, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, idx := range c.indexes {
		if idx.Schema == schema && strings.EqualFold(idx.Table, table) {
			delete(c.indexes, key)
		}
	}
}

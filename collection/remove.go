// remove(oid), spec.md §4.C: "Load old doc to compute index keys;
// delete from record file; remove each index entry."
package collection

import (
	"github.com/jpl-au/docket/doc"
	"github.com/jpl-au/docket/oid"
)

// Remove deletes the document stored under id and all of its index
// entries. Removing an id with no document is a no-op.
func (c *Collection) Remove(id oid.OID) error {
	old, ok, err := c.Load(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := c.docs.Delete(id.Bytes()); err != nil {
		return err
	}

	c.mu.RLock()
	paths := make([]string, 0, len(c.indexes))
	for p := range c.indexes {
		paths = append(paths, p)
	}
	c.mu.RUnlock()

	for _, path := range paths {
		oldVals := doc.Values(old, path)
		c.reindexPath(path, id, oldVals, nil)
	}
	return nil
}

// setindex(path, flags), spec.md §4.C: "flags may combine DROP,
// DROPALL, REBUILD, OPTIMIZE with any of {LEX, ILEX, NUM, ARR}. Updates
// the descriptor in metadata, then scans the collection to populate or
// drop the physical index. REBUILD is idempotent. Creating an index for
// a path that already has one for a different type adds to the
// type-mask without touching the existing physical index."
package collection

import (
	"github.com/jpl-au/docket/doc"
	"github.com/jpl-au/docket/index"
	"github.com/jpl-au/docket/meta"
	"github.com/jpl-au/docket/oid"
)

func keyToOID(key []byte) oid.OID { return oid.FromBytes(key) }

// SetIndexFlag selects one SetIndex action: create, drop, drop-all or
// rebuild. The values are exclusive, not combinable bits, and there is no
// optimize action.
type SetIndexFlag int

const (
	FlagCreate SetIndexFlag = iota
	FlagDrop
	FlagDropAll
	FlagRebuild
)

func maskBit(t index.Type) meta.IndexMask {
	switch t {
	case index.Lex:
		return meta.MaskLex
	case index.ILex:
		return meta.MaskILex
	case index.Num:
		return meta.MaskNum
	case index.Arr:
		return meta.MaskArr
	}
	return 0
}

// SetIndex adds, drops, or rebuilds the physical index of type t at
// path. DROPALL removes every physical type registered for path.
func (c *Collection) SetIndex(path string, t index.Type, flag SetIndexFlag) error {
	switch flag {
	case FlagDrop:
		return c.dropIndex(path, t)
	case FlagDropAll:
		c.mu.RLock()
		types := make([]index.Type, 0, len(c.indexes[path]))
		for existing := range c.indexes[path] {
			types = append(types, existing)
		}
		c.mu.RUnlock()
		for _, existing := range types {
			if err := c.dropIndex(path, existing); err != nil {
				return err
			}
		}
		return nil
	case FlagRebuild:
		if err := c.dropIndex(path, t); err != nil {
			return err
		}
		return c.createIndex(path, t)
	default: // FlagCreate
		c.mu.RLock()
		_, exists := c.indexes[path][t]
		c.mu.RUnlock()
		if exists {
			return nil // REBUILD-free create is idempotent
		}
		return c.createIndex(path, t)
	}
}

func (c *Collection) createIndex(path string, t index.Type) error {
	idx, err := c.openIndex(path, t)
	if err != nil {
		return err
	}

	cur := c.docs.NewCursor()
	defer cur.Close()
	for {
		key, val, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		id := keyToOID(key)
		vals := doc.Values(val[bodyRegion], path)
		for _, k := range c.encodeKeys(t, vals) {
			idx.Put(k, id)
		}
	}
	if err := idx.Flush(); err != nil {
		return err
	}
	return c.saveIndexDescriptor(path, t, true)
}

func (c *Collection) dropIndex(path string, t index.Type) error {
	c.mu.Lock()
	byType, ok := c.indexes[path]
	var idx interface{ Drop() error }
	if ok {
		if i, ok := byType[t]; ok {
			idx = i
			delete(byType, t)
		}
	}
	c.mu.Unlock()
	if idx != nil {
		if err := idx.Drop(); err != nil {
			return err
		}
	}
	return c.saveIndexDescriptor(path, t, false)
}

func (c *Collection) saveIndexDescriptor(path string, t index.Type, present bool) error {
	if c.catalog == nil {
		return nil
	}
	cm, ok, err := c.catalog.Get(c.name)
	if err != nil {
		return err
	}
	if !ok {
		cm = meta.CollectionMeta{Name: c.name, Indexes: make(map[string]meta.IndexDescriptor)}
	}
	desc := cm.Indexes[path]
	desc.Path = path
	if present {
		desc.Mask |= maskBit(t)
	} else {
		desc.Mask &^= maskBit(t)
	}
	if desc.Mask == 0 {
		delete(cm.Indexes, path)
	} else {
		cm.Indexes[path] = desc
	}
	return c.catalog.Put(cm)
}

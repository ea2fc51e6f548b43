// Package collection implements component C of SPEC_FULL.md: one
// document heap (a record.File keyed by oid) plus a set of secondary
// indexes, kept consistent on every write per spec.md §4.C.
//
// Grounded on the teacher's lazy-open-on-first-access pattern (folio's
// db.go Open), generalized from "open the one data file" to "open the
// document file eagerly, open each index file lazily on first reference".
package collection

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jpl-au/docket/doc"
	"github.com/jpl-au/docket/index"
	"github.com/jpl-au/docket/meta"
	"github.com/jpl-au/docket/oid"
	"github.com/jpl-au/docket/record"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const bodyRegion = "$"

// FoldFunc case-folds a string for ILEX keys.
type FoldFunc func(string) string

// Collection wraps one document heap and its secondary indexes.
type Collection struct {
	name string
	dir  string
	docs *record.File

	catalog *meta.Catalog
	fold    FoldFunc

	mu      sync.RWMutex
	indexes map[string]map[index.Type]*index.Index // path -> type -> index
}

// Open opens (creating if absent) the document heap for name under dir,
// and eagerly opens every physical index the catalog already lists for
// this collection (lazy beyond that: new setIndex calls open on demand).
func Open(dir, name string, cfg record.Config, catalog *meta.Catalog, fold FoldFunc) (*Collection, error) {
	docPath := filepath.Join(dir, name+".rec")
	f, err := record.Open(docPath, cfg)
	if err != nil {
		return nil, err
	}
	c := &Collection{
		name:    name,
		dir:     dir,
		docs:    f,
		catalog: catalog,
		fold:    fold,
		indexes: make(map[string]map[index.Type]*index.Index),
	}

	if catalog != nil {
		cm, ok, err := catalog.Get(name)
		if err != nil {
			f.Close()
			return nil, err
		}
		if ok {
			for path, desc := range cm.Indexes {
				for _, t := range maskTypes(desc.Mask) {
					if _, err := c.openIndex(path, t); err != nil {
						f.Close()
						return nil, err
					}
				}
			}
		}
	}
	return c, nil
}

func maskTypes(m meta.IndexMask) []index.Type {
	var out []index.Type
	if m.Has(meta.MaskLex) {
		out = append(out, index.Lex)
	}
	if m.Has(meta.MaskILex) {
		out = append(out, index.ILex)
	}
	if m.Has(meta.MaskNum) {
		out = append(out, index.Num)
	}
	if m.Has(meta.MaskArr) {
		out = append(out, index.Arr)
	}
	return out
}

func (c *Collection) indexFilePath(path string, t index.Type) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s.idx.%s.%s", c.name, t, path))
}

func (c *Collection) openIndex(path string, t index.Type) (*index.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byType, ok := c.indexes[path]
	if !ok {
		byType = make(map[index.Type]*index.Index)
		c.indexes[path] = byType
	}
	if idx, ok := byType[t]; ok {
		return idx, nil
	}
	idx, err := index.Open(c.indexFilePath(path, t), t)
	if err != nil {
		return nil, err
	}
	byType[t] = idx
	return idx, nil
}

// Indexes returns the physical indexes (if any) registered for path,
// used by the query selector (§4.F).
func (c *Collection) Indexes(path string) map[index.Type]*index.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[index.Type]*index.Index, len(c.indexes[path]))
	for t, idx := range c.indexes[path] {
		out[t] = idx
	}
	return out
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Count returns the number of live documents.
func (c *Collection) Count() int64 { return c.docs.Count() }

// Sync flushes the document heap and every open index to disk.
func (c *Collection) Sync() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, byType := range c.indexes {
		for _, idx := range byType {
			if err := idx.Flush(); err != nil {
				return err
			}
		}
	}
	return c.docs.Sync()
}

// Close releases the document heap; open index files have no persistent
// handle beyond their backing path, so nothing further to release there.
func (c *Collection) Close() error {
	if err := c.Sync(); err != nil {
		return err
	}
	return c.docs.Close()
}

// Load retrieves the document stored under id.
func (c *Collection) Load(id oid.OID) (bson.Raw, bool, error) {
	val, err := c.docs.Get(id.Bytes())
	if err == record.ErrNoRecord {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bson.Raw(val[bodyRegion]), true, nil
}

// idPath is the dotted field name carrying the document's oid.
const idPath = "_id"

func extractOID(d bson.Raw) (oid.OID, bool) {
	v, ok := doc.Lookup(d, idPath)
	if !ok || v.Type != bson.TypeObjectID {
		return oid.Zero, false
	}
	return oid.OID(v.ObjectID()), true
}

func withOID(d bson.Raw, id oid.OID) (bson.Raw, error) {
	elems, err := d.Elements()
	if err != nil {
		return nil, err
	}
	out := bson.D{{Key: idPath, Value: primitive.ObjectID(id)}}
	for _, e := range elems {
		if e.Key() == idPath {
			continue
		}
		out = append(out, bson.E{Key: e.Key(), Value: e.Value()})
	}
	return bson.Marshal(out)
}

// save(doc, merge?), spec.md §4.C: "Extract or synthesize oid. If
// merging and an existing doc is present, combine by replacing top-level
// fields of the old with those of the new and keeping the rest. Put into
// the record file. For every index descriptor in metadata, recompute the
// pre-image index keys ... and post-image index keys ..., and apply the
// difference to each backing index file."
package collection

import (
	"github.com/jpl-au/docket/doc"
	"github.com/jpl-au/docket/index"
	"github.com/jpl-au/docket/oid"
	"github.com/jpl-au/docket/record"
	"go.mongodb.org/mongo-driver/bson"
)

// Save creates or replaces d, returning the oid it was stored under.
// When merge is true and a document with the same oid already exists,
// the two are combined at the top level (new fields win).
func (c *Collection) Save(d bson.Raw, merge bool) (oid.OID, error) {
	id, hasID := extractOID(d)
	if !hasID {
		id = oid.New()
		var err error
		d, err = withOID(d, id)
		if err != nil {
			return oid.Zero, err
		}
	}

	var oldDoc bson.Raw
	var hadOld bool
	if existing, ok, err := c.Load(id); err != nil {
		return oid.Zero, err
	} else if ok {
		oldDoc = existing
		hadOld = true
		if merge {
			merged, err := doc.Merge(existing, d)
			if err != nil {
				return oid.Zero, err
			}
			d = merged
		}
	}

	if err := c.docs.Put(id.Bytes(), record.Value{bodyRegion: []byte(d)}, record.Overwrite, nil); err != nil {
		return oid.Zero, err
	}

	c.mu.RLock()
	paths := make([]string, 0, len(c.indexes))
	for p := range c.indexes {
		paths = append(paths, p)
	}
	c.mu.RUnlock()

	for _, path := range paths {
		var oldVals []bson.RawValue
		if hadOld {
			oldVals = doc.Values(oldDoc, path)
		}
		newVals := doc.Values(d, path)
		c.reindexPath(path, id, oldVals, newVals)
	}

	return id, nil
}

// reindexPath applies the difference between a document's old and new
// values at path to every physical index registered for that path.
func (c *Collection) reindexPath(path string, id oid.OID, oldVals, newVals []bson.RawValue) {
	c.mu.RLock()
	byType := make(map[index.Type]*index.Index, len(c.indexes[path]))
	for t, idx := range c.indexes[path] {
		byType[t] = idx
	}
	c.mu.RUnlock()

	for t, idx := range byType {
		oldKeys := c.encodeKeys(t, oldVals)
		newKeys := c.encodeKeys(t, newVals)
		removeDiff(idx, id, oldKeys, newKeys)
		addDiff(idx, id, oldKeys, newKeys)
	}
}

// encodeKeys renders a document's values at a path into the on-disk key
// form a physical index of type t expects.
func (c *Collection) encodeKeys(t index.Type, vals []bson.RawValue) [][]byte {
	var keys [][]byte
	switch t {
	case index.Lex:
		for _, v := range vals {
			if s, ok := doc.AsString(v); ok {
				keys = append(keys, index.EncodeLex(s))
			}
		}
	case index.ILex:
		for _, v := range vals {
			if s, ok := doc.AsString(v); ok {
				keys = append(keys, index.EncodeILex(s, c.fold))
			}
		}
	case index.Num:
		for _, v := range vals {
			if f, ok := doc.AsFloat64(v); ok {
				keys = append(keys, index.EncodeNum(f))
			}
		}
	case index.Arr:
		var tokens []string
		for _, v := range vals {
			elems := []bson.RawValue{v}
			if v.Type == bson.TypeArray {
				elems, _ = v.Array().Values()
			}
			for _, e := range elems {
				if s, ok := doc.AsString(e); ok {
					tokens = append(tokens, s)
				}
			}
		}
		for _, tok := range index.Tokenize(tokens) {
			keys = append(keys, []byte(tok))
		}
	}
	return keys
}

// removeDiff drops id from every old key not present in the new set.
func removeDiff(idx *index.Index, id oid.OID, oldKeys, newKeys [][]byte) {
	keep := keySet(newKeys)
	for _, k := range oldKeys {
		if _, ok := keep[string(k)]; !ok {
			idx.Remove(k, id)
		}
	}
}

// addDiff adds id under every new key not present in the old set.
func addDiff(idx *index.Index, id oid.OID, oldKeys, newKeys [][]byte) {
	had := keySet(oldKeys)
	for _, k := range newKeys {
		if _, ok := had[string(k)]; !ok {
			idx.Put(k, id)
		}
	}
}

func keySet(keys [][]byte) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[string(k)] = struct{}{}
	}
	return set
}

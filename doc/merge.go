// Document merging for save(doc, merge?), spec.md §4.C: "If merging and
// an existing doc is present, combine by replacing top-level fields of
// the old with those of the new and keeping the rest."
package doc

import "go.mongodb.org/mongo-driver/bson"

// Merge combines oldDoc and newDoc at the top level only: every field in
// newDoc overwrites (or adds) the same field in oldDoc; fields present
// only in oldDoc are kept unchanged.
func Merge(oldDoc, newDoc bson.Raw) (bson.Raw, error) {
	oldElems, err := oldDoc.Elements()
	if err != nil {
		return nil, err
	}
	newElems, err := newDoc.Elements()
	if err != nil {
		return nil, err
	}

	overwritten := make(map[string]bool, len(newElems))
	for _, e := range newElems {
		overwritten[e.Key()] = true
	}

	var d bson.D
	for _, e := range oldElems {
		if overwritten[e.Key()] {
			continue
		}
		d = append(d, bson.E{Key: e.Key(), Value: e.Value()})
	}
	for _, e := range newElems {
		d = append(d, bson.E{Key: e.Key(), Value: e.Value()})
	}
	return bson.Marshal(d)
}

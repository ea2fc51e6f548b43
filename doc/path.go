// Package doc implements dotted-path lookup, iteration and mutation over
// bson.Raw documents, per spec.md §3 "Each field has a dotted path (e.g.
// a.b.2.c); numeric path components select by array index."
//
// Grounded on go.mongodb.org/mongo-driver/bson (the self-describing
// document format the whole pack's Mongo-shaped repos use) rather than a
// hand-rolled tagged-field decoder: spec.md §1 explicitly calls the doc
// format "existing third-party library; the core consumes an
// iterator/builder API and field-path lookup".
package doc

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Split breaks a dotted path into its components.
func Split(path string) []string {
	return strings.Split(path, ".")
}

// Lookup returns the single value at path, or ok=false if any component
// is missing. Numeric components index into arrays (spec.md §3).
func Lookup(d bson.Raw, path string) (bson.RawValue, bool) {
	root := bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: d}
	return lookupSegments(root, Split(path))
}

func lookupSegments(v bson.RawValue, segs []string) (bson.RawValue, bool) {
	for _, seg := range segs {
		switch v.Type {
		case bson.TypeEmbeddedDocument:
			elems, err := v.Document().Elements()
			if err != nil {
				return bson.RawValue{}, false
			}
			found := false
			for _, e := range elems {
				if e.Key() == seg {
					v = e.Value()
					found = true
					break
				}
			}
			if !found {
				return bson.RawValue{}, false
			}
		case bson.TypeArray:
			n, err := strconv.Atoi(seg)
			if err != nil {
				return bson.RawValue{}, false
			}
			vals, err := v.Array().Values()
			if err != nil || n < 0 || n >= len(vals) {
				return bson.RawValue{}, false
			}
			v = vals[n]
		default:
			return bson.RawValue{}, false
		}
	}
	return v, true
}

// Values returns every leaf value reachable at path, flattening through
// arrays encountered along the way: if an intermediate path component
// lands on an array (rather than being itself a numeric index into one),
// the remaining path is resolved against every element. Used for ARR
// index population and for $elemMatch-free array-field predicates.
func Values(d bson.Raw, path string) []bson.RawValue {
	root := bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: d}
	return valuesSegments(root, Split(path))
}

func valuesSegments(v bson.RawValue, segs []string) []bson.RawValue {
	if len(segs) == 0 {
		return []bson.RawValue{v}
	}
	seg := segs[0]
	rest := segs[1:]

	switch v.Type {
	case bson.TypeEmbeddedDocument:
		elems, err := v.Document().Elements()
		if err != nil {
			return nil
		}
		for _, e := range elems {
			if e.Key() == seg {
				return valuesSegments(e.Value(), rest)
			}
		}
		return nil
	case bson.TypeArray:
		if n, err := strconv.Atoi(seg); err == nil {
			vals, err := v.Array().Values()
			if err != nil || n < 0 || n >= len(vals) {
				return nil
			}
			return valuesSegments(vals[n], rest)
		}
		// Non-numeric segment against an array: broadcast across elements.
		vals, err := v.Array().Values()
		if err != nil {
			return nil
		}
		var out []bson.RawValue
		for _, elem := range vals {
			out = append(out, valuesSegments(elem, segs)...)
		}
		return out
	default:
		return nil
	}
}

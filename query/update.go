// Update-action application, spec.md §4.G: "$set replaces the field.
// $inc adds a numeric delta, creating the field if absent. $addToSet(All)
// ensures array membership ... $pull(All) removes matching array
// elements ... $dropall:true deletes the record."
package query

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/jpl-au/docket/doc"
)

// applyUpdates applies every update-action predicate to d, returning the
// rewritten document, whether the record should be dropped instead, and
// whether anything changed.
func applyUpdates(preds []Predicate, d bson.Raw) (bson.Raw, bool, bool) {
	fields := rawFields(d)
	changed := false

	for _, p := range preds {
		switch {
		case p.Flags.has(FlagDropAll):
			return nil, true, false
		case p.Flags.has(FlagSet):
			fields[p.Path] = p.UpdateValue
			changed = true
		case p.Flags.has(FlagInc):
			cur, ok := fields[p.Path]
			var base float64
			if ok {
				base, _ = doc.AsFloat64(cur)
			}
			delta, _ := doc.AsFloat64(p.UpdateValue)
			fields[p.Path] = float64RawValue(base + delta)
			changed = true
		case p.Flags.has(FlagAddToSet):
			fields[p.Path] = addToSet(fields[p.Path], p.UpdateValue)
			changed = true
		case p.Flags.has(FlagPull):
			fields[p.Path] = pullFrom(fields[p.Path], p.UpdateValue)
			changed = true
		}
	}

	if !changed {
		return d, false, false
	}
	out, err := rebuildDoc(d, fields)
	if err != nil {
		return d, false, false
	}
	return out, false, true
}

// rawFields captures the top-level field values an update action may
// touch, keyed by top-level field name. Update targets are matched
// against these names only: a dotted target such as "a.b" does not reach
// into "a" and is written as a top-level field literally named "a.b".
func rawFields(d bson.Raw) map[string]interface{} {
	out := make(map[string]interface{})
	elems, err := d.Elements()
	if err != nil {
		return out
	}
	for _, e := range elems {
		out[e.Key()] = e.Value()
	}
	return out
}

func rebuildDoc(d bson.Raw, fields map[string]interface{}) (bson.Raw, error) {
	elems, err := d.Elements()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(elems))
	out := bson.D{}
	for _, e := range elems {
		seen[e.Key()] = true
		if v, ok := fields[e.Key()]; ok {
			out = append(out, bson.E{Key: e.Key(), Value: v})
		} else {
			out = append(out, bson.E{Key: e.Key(), Value: e.Value()})
		}
	}
	for k, v := range fields {
		if !seen[k] {
			out = append(out, bson.E{Key: k, Value: v})
		}
	}
	return bson.Marshal(out)
}

func float64RawValue(f float64) interface{} {
	return f
}

// addToSet ensures v is present in the array stored at cur, creating the
// array if cur is absent, per spec.md's $addToSet semantics.
func addToSet(cur interface{}, v bson.RawValue) interface{} {
	vals := toRawValueSlice(cur)
	for _, existing := range vals {
		if rawKey(existing) == rawKey(v) {
			return vals
		}
	}
	return append(vals, v)
}

// pullFrom removes every array element equal to v.
func pullFrom(cur interface{}, v bson.RawValue) interface{} {
	vals := toRawValueSlice(cur)
	out := vals[:0]
	for _, existing := range vals {
		if rawKey(existing) != rawKey(v) {
			out = append(out, existing)
		}
	}
	return out
}

func toRawValueSlice(cur interface{}) []bson.RawValue {
	switch t := cur.(type) {
	case bson.RawValue:
		if t.Type == bson.TypeArray {
			vals, err := t.Array().Values()
			if err == nil {
				return vals
			}
		}
		return nil
	case []bson.RawValue:
		return t
	default:
		return nil
	}
}

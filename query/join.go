// $do.$join cross-collection rehydration, spec.md §4.H: "For the named
// field(s), treat the value as an oid (or array of oids/strings) and
// replace it with the loaded doc(s) from the target collection. Missing
// references are left as-is."
package query

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/jpl-au/docket/oid"
)

func applyJoins(preds []Predicate, d bson.Raw, resolver Resolver) bson.Raw {
	var joins []Predicate
	for _, p := range preds {
		if p.Flags.has(FlagDoJoin) {
			joins = append(joins, p)
		}
	}
	if len(joins) == 0 || resolver == nil {
		return d
	}

	fields := rawFields(d)
	changed := false
	for _, p := range joins {
		raw, ok := fields[p.Path].(bson.RawValue)
		if !ok {
			continue
		}
		target, ok := resolver.Collection(p.JoinTarget)
		if !ok {
			continue
		}
		if resolved, did := resolveJoinValue(raw, target); did {
			fields[p.Path] = resolved
			changed = true
		}
	}
	if !changed {
		return d
	}
	out, err := rebuildDoc(d, fields)
	if err != nil {
		return d
	}
	return out
}

type joinResolver interface {
	Load(id oid.OID) (bson.Raw, bool, error)
}

func resolveJoinValue(v bson.RawValue, target joinResolver) (interface{}, bool) {
	if v.Type == bson.TypeArray {
		vals, err := v.Array().Values()
		if err != nil {
			return nil, false
		}
		var out []interface{}
		any := false
		for _, elem := range vals {
			if loaded, ok := resolveOneRef(elem, target); ok {
				out = append(out, loaded)
				any = true
			} else {
				out = append(out, elem)
			}
		}
		return out, any
	}
	return resolveOneRef(v, target)
}

func resolveOneRef(v bson.RawValue, target joinResolver) (interface{}, bool) {
	var id oid.OID
	switch v.Type {
	case bson.TypeObjectID:
		id = oid.OID(v.ObjectID())
	case bson.TypeString:
		s, _ := v.StringValueOK()
		parsed, err := oid.Parse(s)
		if err != nil {
			return nil, false
		}
		id = parsed
	default:
		return nil, false
	}
	doc, ok, err := target.Load(id)
	if err != nil || !ok {
		return nil, false
	}
	return doc, true
}

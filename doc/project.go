// Field projection for $fields query hints, spec.md §4.H "projects
// fields": include-list or exclude-list (never both) over top-level and
// dotted paths.
package doc

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Fields is a projection spec: true means include, false means exclude.
// All entries must agree on direction except for a literal "_id" entry,
// which may always be excluded alongside an include-list.
type Fields map[string]bool

// Project returns a new document containing only the included top-level
// fields (or all top-level fields except the excluded ones). Selection
// works on whole top-level fields: a dotted entry such as "a.b" keeps (or
// drops) the entire top-level field "a"; fields nested inside it are not
// filtered.
func Project(d bson.Raw, fields Fields) (bson.Raw, error) {
	include := projectionIsInclude(fields)

	elems, err := d.Elements()
	if err != nil {
		return nil, err
	}

	var out bson.D
	for _, e := range elems {
		key := e.Key()
		wanted, explicit := matchField(fields, key)
		switch {
		case explicit:
			if wanted {
				out = append(out, bson.E{Key: key, Value: e.Value()})
			}
		case !include:
			out = append(out, bson.E{Key: key, Value: e.Value()})
		}
	}
	return bson.Marshal(out)
}

func projectionIsInclude(fields Fields) bool {
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		return v
	}
	return true
}

// matchField reports whether the top-level key has an explicit entry in
// fields: the key itself, a dotted path beneath it, or a dotted prefix of
// it.
func matchField(fields Fields, key string) (wanted bool, explicit bool) {
	if v, ok := fields[key]; ok {
		return v, true
	}
	for path, v := range fields {
		if strings.HasPrefix(path, key+".") || strings.HasPrefix(key, path+".") {
			return v, true
		}
	}
	return false, false
}

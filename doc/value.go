// Scalar conversions between bson.RawValue and the plain Go types the
// index and query packages compare against, per spec.md §3's type list
// (string, 32/64-bit int, double, bool, date, oid, null, doc, array, regex).
package doc

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AsFloat64 reports the numeric value of v for NUM-index and numeric-op
// comparisons, widening ints and dates as needed.
func AsFloat64(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		return float64(v.Int32()), true
	case bson.TypeInt64:
		return float64(v.Int64()), true
	case bson.TypeDouble:
		return v.Double(), true
	case bson.TypeDateTime:
		return float64(v.DateTime()), true
	case bson.TypeBoolean:
		if v.Boolean() {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsString reports the string value of v for LEX/ILEX comparisons.
// ObjectIDs render as their 24-char hex form, matching oid.String.
func AsString(v bson.RawValue) (string, bool) {
	switch v.Type {
	case bson.TypeString:
		return v.StringValue(), true
	case bson.TypeObjectID:
		oid := v.ObjectID()
		return primitive.ObjectID(oid).Hex(), true
	default:
		return "", false
	}
}

// IsNullish reports whether v is BSON null or undefined, spec.md §3's
// "null/undefined" type.
func IsNullish(v bson.RawValue) bool {
	return v.Type == bson.TypeNull || v.Type == bson.TypeUndefined
}

// StringValues flattens a slice of RawValues into their string forms
// (via AsString), skipping values with no string representation.
func StringValues(vals []bson.RawValue) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := AsString(v); ok {
			out = append(out, s)
		}
	}
	return out
}

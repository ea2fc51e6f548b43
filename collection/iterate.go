// Whole-collection iteration, used by full scans (no driver index) and
// by setindex's rebuild pass.
package collection

import (
	"github.com/jpl-au/docket/oid"
	"github.com/jpl-au/docket/record"
	"go.mongodb.org/mongo-driver/bson"
)

// Cursor walks every live document in a collection in on-disk order.
type Cursor struct {
	rc *record.Cursor
}

// NewCursor opens a whole-collection iterator.
func (c *Collection) NewCursor() *Cursor {
	return &Cursor{rc: c.docs.NewCursor()}
}

func (cur *Cursor) Close() { cur.rc.Close() }

// Next returns the next (oid, document) pair, or ok=false at end.
func (cur *Cursor) Next() (oid.OID, bson.Raw, bool, error) {
	key, val, ok, err := cur.rc.Next()
	if err != nil || !ok {
		return oid.Zero, nil, false, err
	}
	return oid.FromBytes(key), bson.Raw(val[bodyRegion]), true, nil
}

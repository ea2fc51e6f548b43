// Package oid wraps the 12-byte object identifier used to key every
// document in the store. The identifier embeds a creation timestamp with
// one-second resolution and a random/counter tail, exactly like a MongoDB
// ObjectID, so we build
// it directly on go.mongodb.org/mongo-driver's primitive.ObjectID rather
// than hand-rolling a second copy of the same bit layout.
package oid

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalid is returned by Parse when the input is not a 24-char hex oid.
var ErrInvalid = errors.New("oid: invalid object id string")

// OID is a 12-byte document identifier.
type OID [12]byte

// New synthesizes a fresh oid with an embedded timestamp in whole seconds.
func New() OID {
	return OID(primitive.NewObjectID())
}

// Zero is the all-zero oid, used as a sentinel for "no id".
var Zero OID

// IsZero reports whether id is the zero value.
func (id OID) IsZero() bool {
	return id == Zero
}

// String renders the oid as 24 lowercase hex characters.
func (id OID) String() string {
	return primitive.ObjectID(id).Hex()
}

// Parse decodes a 24-char hex string into an OID.
func Parse(s string) (OID, error) {
	p, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return Zero, ErrInvalid
	}
	return OID(p), nil
}

// IsValid reports whether s parses as a well-formed oid string, mirroring
// EJDB's ejdbisvalidoidstr boundary check.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Bytes returns the raw 12-byte key used to address the record file.
func (id OID) Bytes() []byte {
	return id[:]
}

// FromBytes reinterprets a 12-byte slice as an OID. It does not check the
// length: a shorter b leaves the trailing bytes zero and a longer b is
// truncated to 12 bytes; callers own validating record-file key lengths.
func FromBytes(b []byte) OID {
	var id OID
	copy(id[:], b)
	return id
}

// Timestamp returns the embedded creation time in Unix milliseconds. The
// embedded value has one-second resolution, so the result is always a
// whole number of seconds.
func (id OID) Timestamp() int64 {
	return primitive.ObjectID(id).Timestamp().UnixMilli()
}

// Compare orders two oids byte-wise, matching record-file key ordering.
func Compare(a, b OID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

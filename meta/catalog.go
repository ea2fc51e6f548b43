// Package meta implements component D of SPEC_FULL.md: a record file
// storing one record per collection, keyed by collection name, with BSON
// regions "opts" (tuning) and "i<path>" (one per index descriptor), per
// spec.md §3 "Metadata collection (D)".
package meta

import (
	"github.com/jpl-au/docket/record"
	"go.mongodb.org/mongo-driver/bson"
)

// Opts is the "opts" region: per-collection tuning.
type Opts struct {
	Large           bool `bson:"large"`
	Compressed      bool `bson:"compressed"`
	ExpectedRecords int64 `bson:"expectedRecords"`
	CachedRecords   int64 `bson:"cachedRecords"`
}

// IndexMask is the subset of {LEX, ILEX, NUM, ARR} carried by one path.
type IndexMask byte

const (
	MaskLex IndexMask = 1 << iota
	MaskILex
	MaskNum
	MaskArr
)

func (m IndexMask) Has(bit IndexMask) bool { return m&bit != 0 }

// IndexDescriptor is one "i<path>" region: the type-mask plus the
// selectivity statistics spec.md §3 lists ("avg record length, hit
// ratio").
type IndexDescriptor struct {
	Path       string    `bson:"path"`
	Mask       IndexMask `bson:"mask"`
	AvgLen     float64   `bson:"avgLen"`
	HitRatio   float64   `bson:"hitRatio"`
}

// CollectionMeta is the decoded form of one metadata record.
type CollectionMeta struct {
	Name    string
	Opts    Opts
	Indexes map[string]IndexDescriptor // keyed by path
}

// Catalog is the metadata database, spec.md §4.D: "On open of the
// database, enumerate metadata keys and open each named collection."
type Catalog struct {
	f *record.File
}

// Open opens (or creates) the metadata record file at path.
func Open(path string, cfg record.Config) (*Catalog, error) {
	cfg.Options &^= record.OptLarge // metadata never needs the LARGE bucket-entry option
	f, err := record.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	return &Catalog{f: f}, nil
}

func (c *Catalog) Close() error { return c.f.Close() }
func (c *Catalog) Sync() error  { return c.f.Sync() }

// Get loads one collection's metadata, ok=false if the collection has no
// catalog entry yet.
func (c *Catalog) Get(name string) (CollectionMeta, bool, error) {
	val, err := c.f.Get([]byte(name))
	if err == record.ErrNoRecord {
		return CollectionMeta{}, false, nil
	}
	if err != nil {
		return CollectionMeta{}, false, err
	}
	return decodeMeta(name, val), true, nil
}

// Put writes (creating or overwriting) one collection's metadata.
func (c *Catalog) Put(m CollectionMeta) error {
	return c.f.Put([]byte(m.Name), encodeMeta(m), record.Overwrite, nil)
}

// Remove drops a collection's catalog entry (not its backing files).
func (c *Catalog) Remove(name string) error {
	err := c.f.Delete([]byte(name))
	if err == record.ErrNoRecord {
		return nil
	}
	return err
}

// List enumerates every collection name with a catalog entry, per
// spec.md §4.D "On open of the database, enumerate metadata keys".
func (c *Catalog) List() ([]string, error) {
	cur := c.f.NewCursor()
	defer cur.Close()
	var names []string
	for {
		key, _, ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		names = append(names, string(key))
	}
	return names, nil
}

func encodeMeta(m CollectionMeta) record.Value {
	v := make(record.Value, 1+len(m.Indexes))
	if optsBytes, err := bson.Marshal(m.Opts); err == nil {
		v["opts"] = optsBytes
	}
	for path, desc := range m.Indexes {
		if descBytes, err := bson.Marshal(desc); err == nil {
			v["i"+path] = descBytes
		}
	}
	return v
}

func decodeMeta(name string, v record.Value) CollectionMeta {
	m := CollectionMeta{Name: name, Indexes: make(map[string]IndexDescriptor)}
	if raw, ok := v["opts"]; ok {
		bson.Unmarshal(raw, &m.Opts)
	}
	for region, raw := range v {
		if region == "opts" || len(region) < 2 || region[0] != 'i' {
			continue
		}
		var desc IndexDescriptor
		if err := bson.Unmarshal(raw, &desc); err == nil {
			m.Indexes[desc.Path] = desc
		}
	}
	return m
}

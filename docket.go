package docket

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/jpl-au/docket/collection"
	"github.com/jpl-au/docket/fold"
	"github.com/jpl-au/docket/index"
	"github.com/jpl-au/docket/meta"
	"github.com/jpl-au/docket/query"
	"github.com/jpl-au/docket/record"
	"go.mongodb.org/mongo-driver/bson"
)

// Database is the top-level handle spec.md §1 describes: "one directory
// on disk holding a metadata collection plus zero or more named
// collections, opened once per process, closed explicitly."
//
// Grounded on the teacher's db.go top-level type: one struct guarding a
// directory of files behind a single RWMutex, collections opened lazily
// and cached by name.
type Database struct {
	mu      sync.RWMutex
	dir     string
	cfg     record.Config
	catalog *meta.Catalog
	colls   map[string]*collection.Collection
	fold    collection.FoldFunc
	regex   RegexEngine
	closed  bool
}

var collNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Open opens (creating if ModeCreate is set, per spec.md §6) the
// database directory at dir, loading the metadata catalog and every
// collection it names.
func Open(dir string, cfg Config) (*Database, error) {
	cfg.defaults()

	if cfg.Mode&ModeCreate != 0 {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, newErr(CodeMkdir, err)
		}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, newErr(CodeNoFile, err)
	}

	rcfg := record.Config{
		AlignmentPower: cfg.AlignmentPower,
		FreePoolPower:  cfg.FreePoolPower,
		BucketPower:    cfg.BucketPower,
		Options:        record.Option(cfg.Options),
		ReadBuffer:     cfg.ReadBuffer,
		MaxRecordSize:  cfg.MaxRecordSize,
		SyncWrites:     cfg.SyncWrites,
		MmapThreshold:  cfg.MmapThreshold,
		SyncOnCommit:   cfg.Mode&ModeSyncOnCommit != 0,
		ReadOnly:       cfg.Mode&ModeWriter == 0,
		Create:         cfg.Mode&ModeCreate != 0,
		NoLock:         cfg.Mode&ModeNoLock != 0,
		LockNonblock:   cfg.Mode&ModeLockNonblock != 0,
	}
	if cfg.Logger != nil {
		logger := cfg.Logger
		rcfg.OnFatal = func(msg string) { logger.Error().Str("component", "record").Msg(msg) }
	}
	if cfg.Codec != nil {
		rcfg.Codec = cfg.Codec
	}

	catalog, err := meta.Open(filepath.Join(dir, "catalog.meta"), rcfg)
	if err != nil {
		return nil, newOpenErr(CodeOpen, err)
	}

	foldFn := cfg.Fold
	if foldFn == nil {
		foldFn = fold.Fold
	}

	db := &Database{
		dir:     dir,
		cfg:     rcfg,
		catalog: catalog,
		colls:   make(map[string]*collection.Collection),
		fold:    foldFn,
		regex:   cfg.Regex,
	}

	names, err := catalog.List()
	if err != nil {
		catalog.Close()
		return nil, newErr(CodeOpen, err)
	}
	for _, name := range names {
		if _, err := db.openCollection(name); err != nil {
			db.Close()
			return nil, err
		}
	}

	if cfg.Logger != nil {
		cfg.Logger.Info().Str("dir", dir).Int("collections", len(names)).Msg("docket opened")
	}
	return db, nil
}

func (db *Database) openCollection(name string) (*collection.Collection, error) {
	c, err := collection.Open(db.dir, name, db.cfg, db.catalog, db.fold)
	if err != nil {
		return nil, newOpenErr(CodeOpen, err)
	}
	db.colls[name] = c
	return c, nil
}

// EnsureCollection opens name, creating its catalog entry and backing
// document heap if it does not already exist, per spec.md §4.C.
func (db *Database) EnsureCollection(name string) (*collection.Collection, error) {
	if !collNamePattern.MatchString(name) {
		return nil, ErrInvalidName
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if c, ok := db.colls[name]; ok {
		return c, nil
	}

	if _, ok, err := db.catalog.Get(name); err != nil {
		return nil, newErr(CodeMetaInvalid, err)
	} else if !ok {
		if err := db.catalog.Put(meta.CollectionMeta{Name: name, Indexes: map[string]meta.IndexDescriptor{}}); err != nil {
			return nil, newErr(CodeWrite, err)
		}
	}
	return db.openCollection(name)
}

// Collection returns an already-open collection by name, satisfying
// query.Resolver for $do.$join cross-collection rehydration.
func (db *Database) Collection(name string) (*collection.Collection, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.colls[name]
	return c, ok
}

// Collections lists every collection name currently open.
func (db *Database) Collections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.colls))
	for name := range db.colls {
		names = append(names, name)
	}
	return names
}

// DropCollection removes a collection's document heap, every index
// file it owns, and its catalog entry.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.colls[name]
	if !ok {
		return ErrNotFound
	}
	if err := c.Close(); err != nil {
		return newErr(CodeClose, err)
	}
	delete(db.colls, name)
	if err := db.catalog.Remove(name); err != nil {
		return newErr(CodeWrite, err)
	}

	prefix := name + ".rec"
	_ = os.Remove(filepath.Join(db.dir, prefix))
	matches, _ := filepath.Glob(filepath.Join(db.dir, name+".idx.*"))
	for _, m := range matches {
		os.Remove(m)
	}
	return nil
}

// Sync flushes the catalog and every open collection to disk.
func (db *Database) Sync() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, c := range db.colls {
		if err := c.Sync(); err != nil {
			return newErr(CodeSync, err)
		}
	}
	return db.catalog.Sync()
}

// Close syncs and releases every open collection plus the catalog.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var firstErr error
	for _, c := range db.colls {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// IsOpen reports whether Close has not yet been called.
func (db *Database) IsOpen() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return !db.closed
}

// Meta is the whole-database introspection snapshot spec.md §1
// supplements from EJDB's ejdbmeta: file path, every collection's
// record count, and its index descriptors.
type Meta struct {
	Path        string
	Collections []CollectionMeta
}

// CollectionMeta summarizes one open collection for Meta.
type CollectionMeta struct {
	Name    string
	Records int64
	Indexes []IndexMeta
}

// IndexMeta summarizes one index descriptor for Meta.
type IndexMeta struct {
	Path string
	Type string
}

// Meta reports a point-in-time snapshot of the whole database, mirroring
// EJDB's ejdbmeta(jb) diagnostic call.
func (db *Database) Meta() (Meta, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	m := Meta{Path: db.dir}
	for name, c := range db.colls {
		cm, _, err := db.catalog.Get(name)
		if err != nil {
			return Meta{}, newErr(CodeMetaInvalid, err)
		}
		entry := CollectionMeta{Name: name, Records: c.Count()}
		for path, desc := range cm.Indexes {
			for _, t := range maskTypeNames(desc.Mask) {
				entry.Indexes = append(entry.Indexes, IndexMeta{Path: path, Type: t})
			}
		}
		m.Collections = append(m.Collections, entry)
	}
	return m, nil
}

func maskTypeNames(mask meta.IndexMask) []string {
	var out []string
	if mask.Has(meta.MaskLex) {
		out = append(out, index.Lex.String())
	}
	if mask.Has(meta.MaskILex) {
		out = append(out, index.ILex.String())
	}
	if mask.Has(meta.MaskNum) {
		out = append(out, index.Num.String())
	}
	if mask.Has(meta.MaskArr) {
		out = append(out, index.Arr.String())
	}
	return out
}

// Find compiles q (plus optional hints and OR-branches) and runs it
// against the named collection, per spec.md §4.G's data flow.
func (db *Database) Find(collName string, q bson.Raw, hints bson.Raw, orBranches ...bson.Raw) ([]query.Result, int64, error) {
	c, err := db.EnsureCollection(collName)
	if err != nil {
		return nil, 0, err
	}
	plan, err := query.Compile(q, hints, orBranches...)
	if err != nil {
		return nil, 0, newErr(CodeInvalidQueryControl, err)
	}
	if db.regex != nil {
		plan.Regex = regexEngineAdapter{db.regex}
	}
	query.SelectDriver(plan, c)
	return query.Execute(plan, c, db)
}

// regexEngineAdapter bridges docket.RegexEngine to query.RegexEngine:
// the two interfaces are structurally identical but distinct named
// types, so Compile's return value needs re-wrapping at the seam.
type regexEngineAdapter struct{ engine RegexEngine }

func (a regexEngineAdapter) Compile(pattern string, icase bool) (query.CompiledRegex, error) {
	return a.engine.Compile(pattern, icase)
}

// FindOne runs Find and returns only the first matched row, ok=false if
// nothing matched.
func (db *Database) FindOne(collName string, q bson.Raw) (bson.Raw, bool, error) {
	hints, _ := bson.Marshal(bson.D{{Key: "$max", Value: 1}})
	res, _, err := db.Find(collName, q, hints)
	if err != nil || len(res) == 0 {
		return nil, false, err
	}
	return res[0].Doc, true, nil
}

// Save stores d into the named collection, per spec.md §4.C.
func (db *Database) Save(collName string, d bson.Raw, merge bool) (string, error) {
	c, err := db.EnsureCollection(collName)
	if err != nil {
		return "", err
	}
	id, err := c.Save(d, merge)
	if err != nil {
		return "", newErr(CodeWrite, err)
	}
	return id.String(), nil
}


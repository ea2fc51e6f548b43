// Predicate and plan types produced by the compiler, per spec.md §4.E
// "Each predicate is (path, op, operand, flags)."
package query

import "go.mongodb.org/mongo-driver/bson"

// Op identifies a predicate's comparison family.
type Op int

const (
	OpTrue Op = iota // always-true marker used by update-only/orderby-only predicates
	OpExists
	OpEqString
	OpStartsWith
	OpEndsWith
	OpContains
	OpStrAnd
	OpStrOr
	OpStrOrEq
	OpStrOrStarts
	OpRegex
	OpNumEq
	OpNumGt
	OpNumGe
	OpNumLt
	OpNumLe
	OpNumBt
	OpNumOrEq
	OpEqAny // exact type+byte equality, for non-string/non-numeric scalars
)

// Flag is the predicate bit-set spec.md §4.E lists: "NEGATE, ICASE,
// STARTS-WITH, EXCLUDED... and update-action bits."
type Flag int

const (
	FlagNegate Flag = 1 << iota
	FlagICase
	FlagStartsWith
	FlagExcluded
	FlagSet
	FlagInc
	FlagAddToSet
	FlagPull
	FlagUpsert
	FlagAll
	FlagDoJoin
	FlagDropAll
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// Predicate is one compiled leaf of the query tree.
type Predicate struct {
	Path      string
	Op        Op
	Flags     Flag
	Operand   bson.RawValue   // scalar operand (EQ, GT, starts-with prefix, ...)
	Hi        bson.RawValue   // NUM-BT upper bound
	List      []bson.RawValue // $in/$nin/one-of operand list
	ListSet   map[string]struct{}
	GroupID   int // $elemMatch group, 0 means ungrouped
	GroupPath string

	// Update payload, set when Flags carries an update-action bit.
	UpdateValue bson.RawValue
	UpdateDoc   bson.Raw

	// JoinTarget is the target collection name for a DOJOIN predicate.
	JoinTarget string

	// Regex holds an OpRegex predicate's compiled matcher, filled in by
	// compileRegexes before the executor starts scanning so a pattern is
	// never recompiled per document.
	Regex CompiledRegex
}

// RegexEngine is the plug-in compile seam for $regex predicates, mirroring
// docket.RegexEngine structurally (query cannot import the root package,
// which imports query). Nil selects the standard-library regexp engine.
type RegexEngine interface {
	Compile(pattern string, icase bool) (CompiledRegex, error)
}

// CompiledRegex is a prepared pattern returned by RegexEngine.Compile.
type CompiledRegex interface {
	Match(text string) bool
}

// OrderKey is one $orderby entry.
type OrderKey struct {
	Path string
	Desc bool
	Seq  int
}

// Plan is the compiler's output: ready for the selector and executor.
type Plan struct {
	Predicates []Predicate
	OrBranches [][]Predicate

	OrderBy []OrderKey
	Skip    int64
	Max     int64
	HasMax  bool
	Fields  map[string]bool
	HasFields bool

	DropAll bool
	Upsert  bson.Raw
	HasUpsert bool

	Driver *Predicate // set by the selector

	// Regex is the plug-in compile engine for $regex predicates. Nil
	// falls back to the standard library, set by the caller (docket.Config.Regex)
	// before Execute.
	Regex RegexEngine
}

const noLimit = int64(1) << 62

func (p *Plan) skipMax() (int64, int64) {
	skip := p.Skip
	if !p.HasMax {
		return skip, noLimit
	}
	// $max: 0 is a real bound, not "unset" — spec.md §8: "$max: 0 yields
	// an empty result and a zero count."
	if p.Max <= 0 {
		return skip, 0
	}
	return skip, p.Max
}

// NeedAll reports whether the executor must materialize the full result
// set before truncating, per spec.md §4.G: "has orderby beyond the
// driver, OR update mode".
func (p *Plan) needAll(updateMode bool) bool {
	if updateMode {
		return true
	}
	if len(p.OrderBy) == 0 {
		return false
	}
	if p.Driver == nil {
		return true
	}
	return p.OrderBy[0].Path != p.Driver.Path
}

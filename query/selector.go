// Index selector, spec.md §4.F: scores each predicate against the
// collection's available indexes and picks the single highest-scoring
// predicate as the scan driver.
package query

import (
	"github.com/jpl-au/docket/collection"
	"github.com/jpl-au/docket/index"
)

// requiredType derives the physical index type an op needs, per spec.md
// §4.F's table. ok=false means the op cannot be served by any index.
func requiredType(op Op, icase bool) (index.Type, bool) {
	switch op {
	case OpEqString, OpStartsWith, OpStrOrEq, OpStrOrStarts:
		if icase {
			return index.ILex, true
		}
		return index.Lex, true
	case OpNumEq, OpNumGt, OpNumGe, OpNumLt, OpNumLe, OpNumBt, OpNumOrEq:
		return index.Num, true
	case OpStrAnd, OpStrOr:
		return index.Arr, true
	}
	return 0, false
}

const primaryKeyPath = "_id"

// SelectDriver scores every predicate against coll's available indexes
// and marks the best one EXCLUDED as the driver. Primary-key equality
// always wins outright (spec.md: "matches the record file directly
// without an index").
func SelectDriver(p *Plan, coll *collection.Collection) {
	for i := range p.Predicates {
		pred := &p.Predicates[i]
		if pred.Flags.has(FlagExcluded) {
			continue
		}
		if pred.Path == primaryKeyPath && (pred.Op == OpEqString || pred.Op == OpEqAny || pred.Op == OpStrOrEq) {
			pred.Flags |= FlagExcluded
			p.Driver = pred
			return
		}
	}

	var best *Predicate
	bestScore := -1.0
	for i := range p.Predicates {
		pred := &p.Predicates[i]
		if pred.Flags.has(FlagExcluded) {
			continue
		}
		t, ok := requiredType(pred.Op, pred.Flags.has(FlagICase))
		if !ok {
			continue
		}
		available := coll.Indexes(pred.Path)
		idx, ok := available[t]
		if !ok && t == index.Lex {
			// spec.md: "a LEX $in request on a path that only has an ARR
			// index is rewritten to STR-OR so the ARR index can serve it."
			if arrIdx, hasArr := available[index.Arr]; hasArr && pred.Op == OpStrOrEq {
				pred.Op = OpStrOr
				idx, ok = arrIdx, true
			}
		}
		if !ok {
			continue
		}

		score := scorePredicate(pred, idx, p)
		if score < 0 {
			continue // below the 20% selectivity floor
		}
		if score > bestScore {
			bestScore = score
			best = pred
		}
	}

	if best != nil {
		best.Flags |= FlagExcluded
		p.Driver = best
	}
}

// scorePredicate implements spec.md's "selectivity% + exact-match-bonus +
// order-bonus", returning -1 if the index falls below the 20% floor.
func scorePredicate(pred *Predicate, idx *index.Index, p *Plan) float64 {
	keyCount := idx.Count()
	if keyCount == 0 {
		return -1
	}
	// Approximate selectivity from the distinct-key count as
	// 100 - 100/distinct-keys: more distinct keys means each key set is
	// smaller, i.e. more selective. A single distinct key scores 0.
	selectivity := 100.0 - 100.0/float64(keyCount)
	if selectivity > 100 {
		selectivity = 100
	}
	if selectivity < 20 {
		return -1
	}

	exactBonus := 0.0
	switch pred.Op {
	case OpEqString, OpNumEq, OpEqAny, OpStrOrEq, OpNumOrEq:
		exactBonus = 100
	case OpStartsWith:
		exactBonus = 50
	case OpNumGt, OpNumGe, OpNumLt, OpNumLe:
		exactBonus = 50
	}

	orderBonus := 0.0
	if len(p.OrderBy) > 0 && p.OrderBy[0].Path == pred.Path {
		orderBonus = 25
	}

	return selectivity + exactBonus + orderBonus
}

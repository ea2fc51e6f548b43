// Executor, spec.md §4.G: dispatches the scan by driver type, applies
// residual predicates and OR branches, runs update actions in update
// mode, and defers index maintenance until after the cursor exhausts.
package query

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jpl-au/docket/collection"
	"github.com/jpl-au/docket/doc"
	"github.com/jpl-au/docket/index"
	"github.com/jpl-au/docket/oid"
	"go.mongodb.org/mongo-driver/bson"
)

// Result is one row produced by Execute.
type Result struct {
	ID  oid.OID
	Doc bson.Raw
}

// candidate is a lazily-pulled (id, doc) pair.
type candidate func() (oid.OID, bson.Raw, bool, error)

// Resolver looks up a sibling collection by name, used to serve
// $do.$join cross-collection rehydration. *docket.Database implements
// this.
type Resolver interface {
	Collection(name string) (*collection.Collection, bool)
}

// Execute runs the compiled plan against coll and returns the matched
// (and possibly projected/updated) rows plus the match count, per
// spec.md §4.G's outer structure. resolver may be nil if the plan has
// no $do.$join predicates.
func Execute(p *Plan, coll *collection.Collection, resolver Resolver) ([]Result, int64, error) {
	if err := compileRegexes(p); err != nil {
		return nil, 0, err
	}
	updateMode := isUpdateMode(p)
	needAll := p.needAll(updateMode)
	skip, max := p.skipMax()
	if p.HasMax && p.Max <= 0 {
		return nil, 0, nil
	}

	next, closer, err := driverScan(p, coll)
	if err != nil {
		return nil, 0, err
	}
	defer closer()

	var deferred []func()
	var res []Result
	var count int64

	for {
		id, d, ok, err := next()
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			break
		}

		if !residualMatch(p.Predicates, d) {
			continue
		}
		if len(p.OrBranches) > 0 && !anyBranchMatches(p.OrBranches, d) {
			continue
		}

		count++

		if updateMode {
			newDoc, drop, changed := applyUpdates(p.Predicates, d)
			if p.DropAll {
				drop = true
			}
			if drop {
				deferred = append(deferred, func(id oid.OID) func() {
					return func() { coll.Remove(id) }
				}(id))
			} else if changed {
				deferred = append(deferred, func(id oid.OID, nd bson.Raw) func() {
					return func() { coll.Save(nd, false) }
				}(id, newDoc))
				d = newDoc
			}
		}

		if needAll || count > skip {
			row := d
			if p.HasFields {
				if projected, err := doc.Project(d, p.Fields); err == nil {
					row = projected
				}
			}
			row = applyJoins(p.Predicates, row, resolver)
			res = append(res, Result{ID: id, Doc: row})
		}

		if !needAll && count >= skip+max {
			break
		}
	}

	for _, action := range deferred {
		action()
	}

	if p.HasUpsert && count == 0 {
		newID, err := coll.Save(p.Upsert, false)
		if err == nil {
			res = append(res, Result{ID: newID, Doc: p.Upsert})
			count = 1
		}
	}

	if needAll {
		sortResults(res, p.OrderBy)
		res = truncate(res, skip, max)
	}

	if count > max {
		count = max
	}
	return res, count, nil
}

func isUpdateMode(p *Plan) bool {
	if p.DropAll {
		return true
	}
	for _, pred := range p.Predicates {
		if pred.Flags&(FlagSet|FlagInc|FlagAddToSet|FlagPull) != 0 {
			return true
		}
	}
	return false
}

func truncate(res []Result, skip, max int64) []Result {
	if skip >= int64(len(res)) {
		return nil
	}
	end := skip + max
	if end > int64(len(res)) || end < 0 {
		end = int64(len(res))
	}
	return res[skip:end]
}

// driverScan dispatches the scan per spec.md §4.G's driver table.
func driverScan(p *Plan, coll *collection.Collection) (candidate, func(), error) {
	if p.Driver == nil {
		cur := coll.NewCursor()
		return func() (oid.OID, bson.Raw, bool, error) { return cur.Next() }, cur.Close, nil
	}

	drv := p.Driver
	if drv.Path == primaryKeyPath {
		return pkScan(drv, coll)
	}

	t, _ := requiredType(drv.Op, drv.Flags.has(FlagICase))
	idx, ok := coll.Indexes(drv.Path)[t]
	if !ok {
		cur := coll.NewCursor()
		return func() (oid.OID, bson.Raw, bool, error) { return cur.Next() }, cur.Close, nil
	}

	ids := indexScan(drv, idx, t)
	return oidListScan(ids, coll)
}

func pkScan(drv *Predicate, coll *collection.Collection) (candidate, func(), error) {
	var ids []oid.OID
	if drv.Op == OpStrOrEq {
		for _, v := range drv.List {
			if s, ok := doc.AsString(v); ok {
				if id, err := oid.Parse(s); err == nil {
					ids = append(ids, id)
				}
			}
		}
	} else if s, ok := doc.AsString(drv.Operand); ok {
		if id, err := oid.Parse(s); err == nil {
			ids = append(ids, id)
		}
	}
	return oidListScan(dedupOIDs(ids), coll)
}

func oidListScan(ids []oid.OID, coll *collection.Collection) (candidate, func(), error) {
	i := 0
	next := func() (oid.OID, bson.Raw, bool, error) {
		for i < len(ids) {
			id := ids[i]
			i++
			d, ok, err := coll.Load(id)
			if err != nil {
				return oid.Zero, nil, false, err
			}
			if !ok {
				continue
			}
			return id, d, true, nil
		}
		return oid.Zero, nil, false, nil
	}
	return next, func() {}, nil
}

func dedupOIDs(ids []oid.OID) []oid.OID {
	seen := make(map[oid.OID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// indexScan dispatches one of the index range/token lookups spec.md
// §4.G's driver table lists, returning a deduplicated oid list.
func indexScan(drv *Predicate, idx *index.Index, t index.Type) []oid.OID {
	switch t {
	case index.Arr:
		var keys [][]byte
		for _, v := range drv.List {
			if s, ok := doc.AsString(v); ok {
				keys = append(keys, []byte(s))
			}
		}
		return idx.Tokens(keys, drv.Op == OpStrAnd)
	case index.Num:
		return numIndexScan(drv, idx)
	default: // Lex / ILex
		return lexIndexScan(drv, idx)
	}
}

func lexIndexScan(drv *Predicate, idx *index.Index) []oid.OID {
	switch drv.Op {
	case OpEqString:
		s, _ := doc.AsString(drv.Operand)
		key := index.EncodeLex(s)
		return idx.Range(key, key, false)
	case OpStartsWith:
		s, _ := doc.AsString(drv.Operand)
		lo := index.EncodeLex(s)
		hi := append(append([]byte(nil), lo...), 0xff)
		return idx.Range(lo, hi, false)
	case OpStrOrEq, OpStrOrStarts:
		var all []oid.OID
		seen := make(map[oid.OID]bool)
		for _, v := range drv.List {
			s, ok := doc.AsString(v)
			if !ok {
				continue
			}
			lo := index.EncodeLex(s)
			hi := lo
			if drv.Op == OpStrOrStarts {
				hi = append(append([]byte(nil), lo...), 0xff)
			}
			for _, id := range idx.Range(lo, hi, false) {
				if !seen[id] {
					seen[id] = true
					all = append(all, id)
				}
			}
		}
		return all
	default:
		return idx.Range(nil, nil, false)
	}
}

func numIndexScan(drv *Predicate, idx *index.Index) []oid.OID {
	const desc = false // final ordering is applied by sortResults when needed
	switch drv.Op {
	case OpNumEq:
		f, _ := doc.AsFloat64(drv.Operand)
		key := index.EncodeNum(f)
		return idx.Range(key, key, false)
	case OpNumGt:
		f, _ := doc.AsFloat64(drv.Operand)
		lo := index.EncodeNum(f)
		return excludeEqual(idx.Range(lo, nil, desc), lo, idx)
	case OpNumGe:
		f, _ := doc.AsFloat64(drv.Operand)
		return idx.Range(index.EncodeNum(f), nil, desc)
	case OpNumLt:
		f, _ := doc.AsFloat64(drv.Operand)
		hi := index.EncodeNum(f)
		return excludeEqual(idx.Range(nil, hi, desc), hi, idx)
	case OpNumLe:
		f, _ := doc.AsFloat64(drv.Operand)
		return idx.Range(nil, index.EncodeNum(f), desc)
	case OpNumBt:
		lof, _ := doc.AsFloat64(drv.Operand)
		hif, _ := doc.AsFloat64(drv.Hi)
		return idx.Range(index.EncodeNum(lof), index.EncodeNum(hif), desc)
	case OpNumOrEq:
		var all []oid.OID
		seen := make(map[oid.OID]bool)
		for _, v := range drv.List {
			f, ok := doc.AsFloat64(v)
			if !ok {
				continue
			}
			key := index.EncodeNum(f)
			for _, id := range idx.Range(key, key, false) {
				if !seen[id] {
					seen[id] = true
					all = append(all, id)
				}
			}
		}
		return all
	default:
		return idx.Range(nil, nil, false)
	}
}

// excludeEqual drops oids that belong strictly to the bound key itself,
// used for strict > / < comparisons.
func excludeEqual(ids []oid.OID, bound []byte, idx *index.Index) []oid.OID {
	exact := make(map[oid.OID]bool)
	for _, id := range idx.Range(bound, bound, false) {
		exact[id] = true
	}
	out := ids[:0]
	for _, id := range ids {
		if !exact[id] {
			out = append(out, id)
		}
	}
	return out
}

// compileRegexes fills in each OpRegex predicate's Regex matcher once,
// using p.Regex when the caller supplied a plug-in engine, falling back
// to the standard library's regexp package otherwise (spec.md §1's
// "plug-in compile(pattern, flags)" seam).
func compileRegexes(p *Plan) error {
	for i := range p.Predicates {
		if err := compilePredicateRegex(&p.Predicates[i], p.Regex); err != nil {
			return err
		}
	}
	for b := range p.OrBranches {
		for i := range p.OrBranches[b] {
			if err := compilePredicateRegex(&p.OrBranches[b][i], p.Regex); err != nil {
				return err
			}
		}
	}
	return nil
}

func compilePredicateRegex(leaf *Predicate, engine RegexEngine) error {
	if leaf.Op != OpRegex || leaf.Regex != nil {
		return nil
	}
	pattern, _ := doc.AsString(leaf.Operand)
	icase := leaf.Flags.has(FlagICase)
	if engine != nil {
		re, err := engine.Compile(pattern, icase)
		if err != nil {
			return err
		}
		leaf.Regex = re
		return nil
	}
	if icase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	leaf.Regex = stdlibRegex{re}
	return nil
}

// stdlibRegex adapts *regexp.Regexp to the CompiledRegex seam.
type stdlibRegex struct{ re *regexp.Regexp }

func (s stdlibRegex) Match(text string) bool { return s.re.MatchString(text) }

// residualMatch reports whether every non-excluded predicate accepts d.
func residualMatch(preds []Predicate, d bson.Raw) bool {
	groups := make(map[int][]Predicate)
	var ungrouped []Predicate
	for _, p := range preds {
		if p.Flags.has(FlagExcluded) {
			continue
		}
		if p.GroupID != 0 {
			groups[p.GroupID] = append(groups[p.GroupID], p)
		} else {
			ungrouped = append(ungrouped, p)
		}
	}
	for _, p := range ungrouped {
		if !matchPath(p, d) {
			return false
		}
	}
	for _, group := range groups {
		if !matchElemGroup(group, d) {
			return false
		}
	}
	return true
}

// matchElemGroup requires all predicates in one $elemMatch group to
// match within the same array element, per spec.md §4.E.
func matchElemGroup(group []Predicate, d bson.Raw) bool {
	if len(group) == 0 {
		return true
	}
	arrPath := group[0].GroupPath
	arrVal, ok := doc.Lookup(d, arrPath)
	if !ok || arrVal.Type != bson.TypeArray {
		return false
	}
	vals, err := arrVal.Array().Values()
	if err != nil {
		return false
	}
	for _, elem := range vals {
		if elemSatisfiesAll(group, elem) {
			return true
		}
	}
	return false
}

func elemSatisfiesAll(group []Predicate, elem bson.RawValue) bool {
	for _, p := range group {
		suffix := strings.TrimPrefix(p.Path, p.GroupPath+".")
		var v bson.RawValue
		ok := true
		if suffix == "" {
			v = elem
		} else if elem.Type == bson.TypeEmbeddedDocument {
			v, ok = lookupInRaw(elem.Document(), suffix)
		} else {
			ok = false
		}
		if !evalLeaf(p, v, ok) {
			return false
		}
	}
	return true
}

func lookupInRaw(d bson.Raw, path string) (bson.RawValue, bool) {
	return doc.Lookup(d, path)
}

func matchPath(p Predicate, d bson.Raw) bool {
	v, ok := doc.Lookup(d, p.Path)
	if !ok {
		// spec.md: "a missing field is considered 'matches NEGATE' for
		// scalar ops".
		if p.Op == OpExists {
			return p.Flags.has(FlagNegate)
		}
		return p.Flags.has(FlagNegate)
	}
	return evalLeaf(p, v, true)
}

func evalLeaf(p Predicate, v bson.RawValue, present bool) bool {
	if !present {
		return p.Flags.has(FlagNegate)
	}
	verdict := evalOp(p, v)
	if p.Flags.has(FlagNegate) {
		return !verdict
	}
	return verdict
}

func evalOp(p Predicate, v bson.RawValue) bool {
	switch p.Op {
	case OpTrue:
		return true
	case OpExists:
		return true
	case OpEqString:
		s, ok := doc.AsString(v)
		if !ok {
			return false
		}
		opS, _ := doc.AsString(p.Operand)
		if p.Flags.has(FlagICase) {
			return strings.EqualFold(s, opS)
		}
		return s == opS
	case OpStartsWith:
		s, ok := doc.AsString(v)
		opS, _ := doc.AsString(p.Operand)
		return ok && strings.HasPrefix(s, opS)
	case OpEndsWith:
		s, ok := doc.AsString(v)
		opS, _ := doc.AsString(p.Operand)
		return ok && strings.HasSuffix(s, opS)
	case OpContains:
		s, ok := doc.AsString(v)
		opS, _ := doc.AsString(p.Operand)
		return ok && strings.Contains(s, opS)
	case OpRegex:
		s, ok := doc.AsString(v)
		if !ok || p.Regex == nil {
			return false
		}
		return p.Regex.Match(s)
	case OpEqAny:
		return v.Type == p.Operand.Type && string(v.Value) == string(p.Operand.Value)
	case OpNumEq:
		f, ok := doc.AsFloat64(v)
		opF, _ := doc.AsFloat64(p.Operand)
		return ok && f == opF
	case OpNumGt:
		f, ok := doc.AsFloat64(v)
		opF, _ := doc.AsFloat64(p.Operand)
		return ok && f > opF
	case OpNumGe:
		f, ok := doc.AsFloat64(v)
		opF, _ := doc.AsFloat64(p.Operand)
		return ok && f >= opF
	case OpNumLt:
		f, ok := doc.AsFloat64(v)
		opF, _ := doc.AsFloat64(p.Operand)
		return ok && f < opF
	case OpNumLe:
		f, ok := doc.AsFloat64(v)
		opF, _ := doc.AsFloat64(p.Operand)
		return ok && f <= opF
	case OpNumBt:
		f, ok := doc.AsFloat64(v)
		lo, _ := doc.AsFloat64(p.Operand)
		hi, _ := doc.AsFloat64(p.Hi)
		return ok && f >= lo && f <= hi
	case OpStrOrEq, OpNumOrEq:
		return matchOneOf(p, v, false)
	case OpStrOrStarts:
		return matchOneOf(p, v, true)
	case OpStrAnd, OpStrOr:
		return matchTokens(p, v)
	}
	return false
}

func matchOneOf(p Predicate, v bson.RawValue, starts bool) bool {
	if p.ListSet != nil && !starts {
		_, ok := p.ListSet[rawKey(v)]
		return ok
	}
	for _, item := range p.List {
		if starts {
			s, _ := doc.AsString(v)
			opS, _ := doc.AsString(item)
			if strings.HasPrefix(s, opS) {
				return true
			}
			continue
		}
		if s, ok := doc.AsString(v); ok {
			if opS, ok := doc.AsString(item); ok && s == opS {
				return true
			}
		}
		if f, ok := doc.AsFloat64(v); ok {
			if opF, ok := doc.AsFloat64(item); ok && f == opF {
				return true
			}
		}
	}
	return false
}

func matchTokens(p Predicate, v bson.RawValue) bool {
	s, ok := doc.AsString(v)
	if !ok {
		return false
	}
	found := 0
	for _, item := range p.List {
		opS, _ := doc.AsString(item)
		if s == opS {
			found++
			if p.Op == OpStrOr {
				return true
			}
		}
	}
	return p.Op == OpStrAnd && found == len(p.List)
}

func anyBranchMatches(branches [][]Predicate, d bson.Raw) bool {
	for _, branch := range branches {
		if residualMatch(branch, d) {
			return true
		}
	}
	return false
}

func sortResults(res []Result, order []OrderKey) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(res, func(i, j int) bool {
		for _, k := range order {
			c := compareByPath(res[i].Doc, res[j].Doc, k.Path)
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareByPath orders two documents by one path: absent sorts before
// present; numeric compares numerically; otherwise byte-wise string
// compare, per spec.md §4.H.
func compareByPath(a, b bson.Raw, path string) int {
	va, oka := doc.Lookup(a, path)
	vb, okb := doc.Lookup(b, path)
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return -1
	case !okb:
		return 1
	}
	if fa, ok := doc.AsFloat64(va); ok {
		if fb, ok := doc.AsFloat64(vb); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	sa, _ := doc.AsString(va)
	sb, _ := doc.AsString(vb)
	return strings.Compare(sa, sb)
}

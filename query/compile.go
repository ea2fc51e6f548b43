// Query compiler, spec.md §4.E: walks a query document depth-first,
// extracting predicates, recognizing $-prefixed control and update keys,
// grouping $elemMatch siblings, and folding $orderby/$skip/$max/$fields
// hints into the plan. Any other $-prefixed key at any level fails
// compilation.
//
// Supplemented from EJDB's ejdbqueryhints/ejdbqueryaddor (SPEC_FULL.md
// §4.E–H): Hints and Or are exposed as separate builder calls in
// addition to the combined Compile constructor.
package query

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrBadControl is returned for an unrecognized $-prefixed key.
type ErrBadControl struct{ Key string }

func (e *ErrBadControl) Error() string { return fmt.Sprintf("query: unknown control key %q", e.Key) }

// ErrIncExcl is returned when $fields mixes include and exclude entries.
var ErrIncExcl = fmt.Errorf("query: $fields mixes include and exclude entries")

// ErrOneElemMatch is returned when a path carries more than one $elemMatch.
var ErrOneElemMatch = fmt.Errorf("query: at most one $elemMatch per path")

type compiler struct {
	plan      *Plan
	nextGroup int
	elemPaths map[string]bool
}

// Compile builds a Plan from a top-level query document, an optional
// hints document (nil if none), and zero or more OR-branch documents.
func Compile(q bson.Raw, hints bson.Raw, orBranches ...bson.Raw) (*Plan, error) {
	c := &compiler{plan: &Plan{}, elemPaths: make(map[string]bool)}

	preds, err := c.walkTop(q)
	if err != nil {
		return nil, err
	}
	c.plan.Predicates = append(c.plan.Predicates, preds...)

	if hints != nil {
		if err := c.applyHints(hints); err != nil {
			return nil, err
		}
	}

	for _, branch := range orBranches {
		bc := &compiler{plan: &Plan{}, elemPaths: make(map[string]bool)}
		bpreds, err := bc.walkTop(branch)
		if err != nil {
			return nil, err
		}
		c.plan.OrBranches = append(c.plan.OrBranches, bpreds)
	}

	return c.plan, nil
}

// Hints applies an options document to an already-compiled plan,
// mirroring EJDB's ejdbqueryhints entry point.
func Hints(p *Plan, hints bson.Raw) error {
	c := &compiler{plan: p, elemPaths: make(map[string]bool)}
	return c.applyHints(hints)
}

// Or appends OR-branch documents to an already-compiled plan, mirroring
// EJDB's ejdbqueryaddor entry point.
func Or(p *Plan, branches ...bson.Raw) error {
	for _, branch := range branches {
		bc := &compiler{plan: &Plan{}, elemPaths: make(map[string]bool)}
		bpreds, err := bc.walkTop(branch)
		if err != nil {
			return err
		}
		p.OrBranches = append(p.OrBranches, bpreds)
	}
	return nil
}

var topUpdateKeys = map[string]bool{
	"$set": true, "$inc": true, "$upsert": true, "$addToSet": true,
	"$addToSetAll": true, "$pull": true, "$pullAll": true, "$dropall": true, "$do": true,
}

func (c *compiler) walkTop(q bson.Raw) ([]Predicate, error) {
	if q == nil {
		return nil, nil
	}
	elems, err := q.Elements()
	if err != nil {
		return nil, err
	}

	var preds []Predicate
	for _, e := range elems {
		key := e.Key()
		if key[0] == '$' {
			if !topUpdateKeys[key] {
				return nil, &ErrBadControl{Key: key}
			}
			p, err := c.compileUpdateKey(key, e.Value())
			if err != nil {
				return nil, err
			}
			if p != nil {
				preds = append(preds, *p)
			}
			continue
		}
		fieldPreds, err := c.compileField(key, e.Value(), 0, "")
		if err != nil {
			return nil, err
		}
		preds = append(preds, fieldPreds...)
	}
	return preds, nil
}

func (c *compiler) compileUpdateKey(key string, v bson.RawValue) (*Predicate, error) {
	switch key {
	case "$set", "$inc", "$addToSet", "$addToSetAll", "$pull", "$pullAll":
		doc := v.Document()
		elems, err := doc.Elements()
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			flag := updateFlag(key)
			c.plan.Predicates = append(c.plan.Predicates, Predicate{
				Path: e.Key(), Op: OpTrue, Flags: FlagExcluded | flag, UpdateValue: e.Value(),
			})
		}
		return nil, nil
	case "$dropall":
		c.plan.DropAll = v.Boolean()
		return nil, nil
	case "$upsert":
		c.plan.Upsert = v.Document()
		c.plan.HasUpsert = true
		return nil, nil
	case "$do":
		// spec.md §4.H: "$do.$join {collection}" — $do holds one entry per
		// field name, each an operator document; the only recognized
		// operator today is $join, naming the target collection.
		doc := v.Document()
		elems, err := doc.Elements()
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			fieldPath := e.Key()
			if e.Value().Type != bson.TypeEmbeddedDocument {
				continue
			}
			opElems, err := e.Value().Document().Elements()
			if err != nil {
				return nil, err
			}
			for _, op := range opElems {
				if op.Key() != "$join" {
					continue
				}
				target, _ := op.Value().StringValueOK()
				c.plan.Predicates = append(c.plan.Predicates, Predicate{
					Path: fieldPath, Op: OpTrue, Flags: FlagExcluded | FlagDoJoin, JoinTarget: target,
				})
			}
		}
		return nil, nil
	}
	return nil, nil
}

func updateFlag(key string) Flag {
	switch key {
	case "$set":
		return FlagSet
	case "$inc":
		return FlagInc
	case "$addToSet", "$addToSetAll":
		return FlagAddToSet
	case "$pull", "$pullAll":
		return FlagPull
	}
	return 0
}

// compileField compiles the value attached to a non-$ field name, which
// may be a scalar (equality) or a document of nested $-operators.
func (c *compiler) compileField(path string, v bson.RawValue, groupID int, groupPath string) ([]Predicate, error) {
	if v.Type != bson.TypeEmbeddedDocument {
		return []Predicate{scalarEquality(path, v, groupID, groupPath)}, nil
	}

	elems, err := v.Document().Elements()
	if err != nil {
		return nil, err
	}
	// A document value with no $-prefixed keys is itself a nested equality
	// target (e.g. {addr: {city: "x"}}), not an operator set.
	hasControl := false
	for _, e := range elems {
		if len(e.Key()) > 0 && e.Key()[0] == '$' {
			hasControl = true
			break
		}
	}
	if !hasControl {
		return []Predicate{scalarEquality(path, v, groupID, groupPath)}, nil
	}

	var preds []Predicate
	for _, e := range elems {
		key := e.Key()
		if key == "$elemMatch" {
			if c.elemPaths[path] {
				return nil, ErrOneElemMatch
			}
			c.elemPaths[path] = true
			c.nextGroup++
			gid := c.nextGroup
			sub, err := c.compileElemMatch(path, e.Value(), gid)
			if err != nil {
				return nil, err
			}
			preds = append(preds, sub...)
			continue
		}
		p, err := c.compileOperator(path, key, e.Value(), groupID, groupPath)
		if err != nil {
			return nil, err
		}
		if p != nil {
			preds = append(preds, *p)
		}
	}
	return preds, nil
}

func (c *compiler) compileElemMatch(path string, v bson.RawValue, gid int) ([]Predicate, error) {
	elems, err := v.Document().Elements()
	if err != nil {
		return nil, err
	}
	var preds []Predicate
	for _, e := range elems {
		sub, err := c.compileField(path+"."+e.Key(), e.Value(), gid, path)
		if err != nil {
			return nil, err
		}
		preds = append(preds, sub...)
	}
	return preds, nil
}

func scalarEquality(path string, v bson.RawValue, groupID int, groupPath string) Predicate {
	op := OpEqAny
	switch v.Type {
	case bson.TypeString:
		op = OpEqString
	case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble, bson.TypeDateTime:
		op = OpNumEq
	}
	return Predicate{Path: path, Op: op, Operand: v, GroupID: groupID, GroupPath: groupPath}
}

func (c *compiler) compileOperator(path, key string, v bson.RawValue, groupID int, groupPath string) (*Predicate, error) {
	p := &Predicate{Path: path, GroupID: groupID, GroupPath: groupPath}
	switch key {
	case "$not":
		sub, err := c.compileOperator(path, firstKey(v), firstVal(v), groupID, groupPath)
		if err != nil {
			return nil, err
		}
		sub.Flags |= FlagNegate
		return sub, nil
	case "$exists":
		p.Op = OpExists
		if !v.Boolean() {
			p.Flags |= FlagNegate
		}
	case "$gt":
		p.Op, p.Operand = OpNumGt, v
	case "$gte":
		p.Op, p.Operand = OpNumGe, v
	case "$lt":
		p.Op, p.Operand = OpNumLt, v
	case "$lte":
		p.Op, p.Operand = OpNumLe, v
	case "$bt":
		vals, _ := v.Array().Values()
		p.Op = OpNumBt
		if len(vals) == 2 {
			p.Operand, p.Hi = vals[0], vals[1]
		}
	case "$begin":
		p.Op, p.Operand, p.Flags = OpStartsWith, v, p.Flags|FlagStartsWith
	case "$icase":
		if v.Type == bson.TypeEmbeddedDocument {
			sub, err := c.compileOperator(path, firstKey(v), firstVal(v), groupID, groupPath)
			if err != nil {
				return nil, err
			}
			sub.Flags |= FlagICase
			return sub, nil
		}
		p.Op, p.Operand, p.Flags = OpEqString, v, p.Flags|FlagICase
	case "$regex":
		p.Op, p.Operand = OpRegex, v
	case "$in", "$nin":
		vals, _ := v.Array().Values()
		p.List = vals
		if len(vals) >= 16 {
			p.ListSet = make(map[string]struct{}, len(vals))
			for _, e := range vals {
				p.ListSet[rawKey(e)] = struct{}{}
			}
		}
		p.Op = OpStrOrEq
		if allNumeric(vals) {
			p.Op = OpNumOrEq
		}
		if key == "$nin" {
			p.Flags |= FlagNegate
		}
	case "$strand":
		vals, _ := v.Array().Values()
		p.Op, p.List = OpStrAnd, vals
	case "$stror":
		vals, _ := v.Array().Values()
		p.Op, p.List = OpStrOr, vals
	default:
		return nil, &ErrBadControl{Key: key}
	}
	return p, nil
}

func firstKey(v bson.RawValue) string {
	elems, err := v.Document().Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}

func firstVal(v bson.RawValue) bson.RawValue {
	elems, err := v.Document().Elements()
	if err != nil || len(elems) == 0 {
		return bson.RawValue{}
	}
	return elems[0].Value()
}

func rawKey(v bson.RawValue) string {
	return string(append([]byte{byte(v.Type)}, v.Value...))
}

func allNumeric(vals []bson.RawValue) bool {
	for _, v := range vals {
		switch v.Type {
		case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble, bson.TypeDateTime:
		default:
			return false
		}
	}
	return len(vals) > 0
}

// applyHints folds $orderby/$skip/$max/$fields into the plan.
func (c *compiler) applyHints(hints bson.Raw) error {
	elems, err := hints.Elements()
	if err != nil {
		return err
	}
	for _, e := range elems {
		switch e.Key() {
		case "$orderby":
			if err := c.applyOrderBy(e.Value()); err != nil {
				return err
			}
		case "$skip":
			c.plan.Skip = asInt64(e.Value())
		case "$max":
			c.plan.Max = asInt64(e.Value())
			c.plan.HasMax = true
		case "$fields":
			if err := c.applyFields(e.Value()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compiler) applyOrderBy(v bson.RawValue) error {
	elems, err := v.Document().Elements()
	if err != nil {
		return err
	}
	hasPred := make(map[string]bool, len(c.plan.Predicates))
	for _, p := range c.plan.Predicates {
		hasPred[p.Path] = true
	}
	for i, e := range elems {
		desc := asInt64(e.Value()) < 0
		c.plan.OrderBy = append(c.plan.OrderBy, OrderKey{Path: e.Key(), Desc: desc, Seq: i})
		if !hasPred[e.Key()] {
			c.plan.Predicates = append(c.plan.Predicates, Predicate{Path: e.Key(), Op: OpTrue, Flags: FlagExcluded})
		}
	}
	return nil
}

func (c *compiler) applyFields(v bson.RawValue) error {
	elems, err := v.Document().Elements()
	if err != nil {
		return err
	}
	fields := make(map[string]bool, len(elems))
	var sawInclude, sawExclude bool
	for _, e := range elems {
		inc := asInt64(e.Value()) != 0
		fields[e.Key()] = inc
		if e.Key() == "_id" {
			continue
		}
		if inc {
			sawInclude = true
		} else {
			sawExclude = true
		}
	}
	if sawInclude && sawExclude {
		return ErrIncExcl
	}
	// An empty $fields document (or one naming only _id) compiles to an
	// empty include set, which spec.md §4.E forces to {_id:1} rather
	// than falling through to "no projection at all".
	if len(fields) == 0 {
		fields["_id"] = true
	}
	c.plan.Fields = fields
	c.plan.HasFields = true
	return nil
}

func asInt64(v bson.RawValue) int64 {
	switch v.Type {
	case bson.TypeInt32:
		return int64(v.Int32())
	case bson.TypeInt64:
		return v.Int64()
	case bson.TypeDouble:
		return int64(v.Double())
	default:
		return 0
	}
}

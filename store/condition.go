package store

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition is a condition or filter expression over one item.
// The set of conditions is closed; build them with the constructors below.
type Condition interface {
	render(b *exprBuilder) string
	eval(item Item) bool
}

// AttributeExists holds when the attribute is present.
func AttributeExists(name string) Condition { return attributeExists{name} }

// AttributeNotExists holds when the attribute is absent.
func AttributeNotExists(name string) Condition { return attributeNotExists{name} }

// Equal holds when the attribute equals v.
func Equal(name string, v types.AttributeValue) Condition { return equal{name, v} }

// AtLeast holds when the numeric attribute is >= n.
func AtLeast(name string, n int64) Condition { return atLeast{name, n} }

// BeginsWith holds when the string attribute starts with prefix.
func BeginsWith(name, prefix string) Condition { return beginsWith{name, prefix} }

// Between holds when lo <= attribute <= hi.
func Between(name string, lo, hi types.AttributeValue) Condition { return between{name, lo, hi} }

// And holds when every non-nil condition holds. It returns nil if given none.
func And(conds ...Condition) Condition {
	var kept []Condition
	for _, c := range conds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return and(kept)
}

type attributeExists struct{ name string }

func (c attributeExists) render(b *exprBuilder) string {
	return fmt.Sprintf("attribute_exists(%s)", b.name(c.name))
}

func (c attributeExists) eval(item Item) bool {
	_, ok := item[c.name]
	return ok
}

type attributeNotExists struct{ name string }

func (c attributeNotExists) render(b *exprBuilder) string {
	return fmt.Sprintf("attribute_not_exists(%s)", b.name(c.name))
}

func (c attributeNotExists) eval(item Item) bool {
	_, ok := item[c.name]
	return !ok
}

type equal struct {
	name  string
	value types.AttributeValue
}

func (c equal) render(b *exprBuilder) string {
	return fmt.Sprintf("%s = %s", b.name(c.name), b.value(c.value))
}

func (c equal) eval(item Item) bool {
	cmp, ok := compareValues(item[c.name], c.value)
	return ok && cmp == 0
}

type atLeast struct {
	name string
	n    int64
}

func (c atLeast) render(b *exprBuilder) string {
	return fmt.Sprintf("%s >= %s", b.name(c.name), b.value(N(c.n)))
}

func (c atLeast) eval(item Item) bool {
	cmp, ok := compareValues(item[c.name], N(c.n))
	return ok && cmp >= 0
}

type beginsWith struct {
	name   string
	prefix string
}

func (c beginsWith) render(b *exprBuilder) string {
	return fmt.Sprintf("begins_with(%s, %s)", b.name(c.name), b.value(S(c.prefix)))
}

func (c beginsWith) eval(item Item) bool {
	v, ok := item[c.name].(*types.AttributeValueMemberS)
	return ok && strings.HasPrefix(v.Value, c.prefix)
}

type between struct {
	name   string
	lo, hi types.AttributeValue
}

func (c between) render(b *exprBuilder) string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", b.name(c.name), b.value(c.lo), b.value(c.hi))
}

func (c between) eval(item Item) bool {
	lo, ok := compareValues(item[c.name], c.lo)
	if !ok || lo < 0 {
		return false
	}
	hi, ok := compareValues(item[c.name], c.hi)
	return ok && hi <= 0
}

type and []Condition

func (c and) render(b *exprBuilder) string {
	parts := make([]string, len(c))
	for i, cond := range c {
		parts[i] = "(" + cond.render(b) + ")"
	}
	return strings.Join(parts, " AND ")
}

func (c and) eval(item Item) bool {
	for _, cond := range c {
		if !cond.eval(item) {
			return false
		}
	}
	return true
}

// compareValues orders two scalar attribute values of the same type.
// ok is false when either is missing or the types differ or aren't S/N.
func compareValues(a, b types.AttributeValue) (cmp int, ok bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, isS := b.(*types.AttributeValueMemberS)
		if !isS {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, isN := b.(*types.AttributeValueMemberN)
		if !isN {
			return 0, false
		}
		x, okA := new(big.Float).SetString(av.Value)
		y, okB := new(big.Float).SetString(bv.Value)
		if !okA || !okB {
			return 0, false
		}
		return x.Cmp(y), true
	}
	return 0, false
}

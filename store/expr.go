package store

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// exprBuilder allocates expression attribute placeholders for one request.
type exprBuilder struct {
	names    map[string]string
	byAttr   map[string]string
	values   map[string]types.AttributeValue
	numValue int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  make(map[string]string),
		byAttr: make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

// name returns the placeholder for an attribute name, reusing it per attribute.
func (b *exprBuilder) name(attr string) string {
	if p, ok := b.byAttr[attr]; ok {
		return p
	}
	p := fmt.Sprintf("#n%d", len(b.byAttr))
	b.byAttr[attr] = p
	b.names[p] = attr
	return p
}

func (b *exprBuilder) value(v types.AttributeValue) string {
	p := fmt.Sprintf(":v%d", b.numValue)
	b.numValue++
	b.values[p] = v
	return p
}

// attrNames returns the name placeholders, or nil if none were used.
func (b *exprBuilder) attrNames() map[string]string {
	if len(b.names) == 0 {
		return nil
	}
	return b.names
}

// attrValues returns the value placeholders, or nil if none were used.
func (b *exprBuilder) attrValues() map[string]types.AttributeValue {
	if len(b.values) == 0 {
		return nil
	}
	return b.values
}

// update renders a SET expression. Attributes in add are incremented
// atomically, starting from zero when absent. Keys are rendered in sorted
// order so the expression is stable.
func (b *exprBuilder) update(set Item, add map[string]int64) string {
	var clauses []string
	for _, k := range sortedKeys(set) {
		clauses = append(clauses, fmt.Sprintf("%s = %s", b.name(k), b.value(set[k])))
	}
	addKeys := make([]string, 0, len(add))
	for k := range add {
		addKeys = append(addKeys, k)
	}
	sort.Strings(addKeys)
	for _, k := range addKeys {
		n := b.name(k)
		clauses = append(clauses, fmt.Sprintf("%s = if_not_exists(%s, %s) + %s", n, n, b.value(N(0)), b.value(N(add[k]))))
	}
	return "SET " + strings.Join(clauses, ", ")
}

func sortedKeys(item Item) []string {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyUpdate applies a SET/add pair to item in place, mirroring update.
func applyUpdate(item Item, set Item, add map[string]int64) {
	for k, v := range set {
		item[k] = v
	}
	for k, delta := range add {
		cur := new(big.Int)
		if v, ok := item[k].(*types.AttributeValueMemberN); ok {
			if _, ok := cur.SetString(v.Value, 10); !ok {
				cur.SetInt64(0)
			}
		}
		cur.Add(cur, big.NewInt(delta))
		item[k] = &types.AttributeValueMemberN{Value: cur.String()}
	}
}

// managedAttrs are never overwritten by Update.
var managedAttrs = map[string]bool{
	AttrPK:        true,
	AttrSK:        true,
	AttrCreatedAt: true,
	AttrUpdatedAt: true,
}

// updatable copies attrs without managed attributes.
func updatable(attrs Item) Item {
	set := make(Item, len(attrs)+1)
	for k, v := range attrs {
		if managedAttrs[k] {
			continue
		}
		set[k] = v
	}
	return set
}

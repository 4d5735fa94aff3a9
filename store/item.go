package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table and index key attribute names.
const (
	AttrPK        = "PK"
	AttrSK        = "SK"
	AttrCreatedAt = "createdAt"
	AttrUpdatedAt = "updatedAt"

	GSI1 = "GSI1"
	GSI2 = "GSI2"
)

// TimeLayout is the fixed-width UTC timestamp format used for createdAt,
// updatedAt and DATE# sort keys, so lexical order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// IndexKeyAttrs returns the partition and sort key attribute names of an index.
func IndexKeyAttrs(index string) (pk, sk string) {
	return index + "PK", index + "SK"
}

// Key is a primary key in the table.
type Key struct {
	PK string
	SK string
}

func (k Key) attributes() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: S(k.PK),
		AttrSK: S(k.SK),
	}
}

// Item is a raw DynamoDB item.
type Item map[string]types.AttributeValue

// Key returns the item's primary key.
func (i Item) Key() Key {
	return Key{PK: i.String(AttrPK), SK: i.String(AttrSK)}
}

// String returns a string attribute, or "" if absent or not a string.
func (i Item) String(name string) string {
	if v, ok := i[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// Int returns a numeric attribute, or 0 if absent or not an integer.
func (i Item) Int(name string) int64 {
	if v, ok := i[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func (i Item) clone() Item {
	if i == nil {
		return nil
	}
	c := make(Item, len(i))
	for k, v := range i {
		c[k] = v
	}
	return c
}

// S builds a string attribute value.
func S(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// N builds a numeric attribute value.
func N(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

// QueryOptions defines parameters for Query and QueryIndex.
type QueryOptions struct {
	// SortKeyPrefix restricts results to sort keys beginning with it.
	SortKeyPrefix string

	// Filter is applied after the key condition. Filtered-out items still
	// count toward Limit.
	Filter Condition

	// Limit is the maximum number of items to evaluate (0 = read every page).
	Limit int32

	// Descending returns items in reverse sort-key order.
	Descending bool

	// StartKey resumes from a Page.LastKey returned by an earlier call.
	StartKey string
}

// Page is one page of query or scan results.
type Page struct {
	Items []Item
	Count int

	// LastKey is set when the page stopped at the limit with items left.
	// Pass it back verbatim as QueryOptions.StartKey.
	LastKey string
}

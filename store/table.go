package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Table is the single-table access surface used by the domain services.
type Table interface {
	// Get returns the item, or nil without error if it doesn't exist.
	Get(ctx context.Context, key Key) (Item, error)

	// Put creates or replaces an item, refreshing updatedAt. createdAt is
	// set only when the item carries none.
	Put(ctx context.Context, item Item) (Item, error)

	// PutIfNotExists is Put that fails with ErrConflict if the key exists.
	PutIfNotExists(ctx context.Context, item Item) (Item, error)

	// Update merges attributes into an existing item and returns the result.
	Update(ctx context.Context, key Key, attrs Item, conds ...Condition) (Item, error)

	// Delete removes an item. Deleting a missing key succeeds.
	Delete(ctx context.Context, key Key) error

	// Query reads one partition of the table in sort-key order.
	Query(ctx context.Context, partition string, opts QueryOptions) (*Page, error)

	// QueryIndex reads one partition of a secondary index in sort-key order.
	QueryIndex(ctx context.Context, index, partition string, opts QueryOptions) (*Page, error)

	// Scan reads the whole table, returning up to limit matches (0 = all).
	Scan(ctx context.Context, filter Condition, limit int) (*Page, error)

	// TransactWrite applies every operation atomically.
	TransactWrite(ctx context.Context, ops ...TxOp) error

	// Increment atomically adds amount to a numeric attribute.
	Increment(ctx context.Context, key Key, attr string, amount int64) (Item, error)

	// Decrement atomically subtracts amount from a numeric attribute.
	Decrement(ctx context.Context, key Key, attr string, amount int64) (Item, error)
}

// Client is the subset of the DynamoDB API used by Store.
// It mirrors the method signatures of *dynamodb.Client.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var (
	_ Table  = (*Store)(nil)
	_ Table  = (*Memory)(nil)
	_ Client = (*dynamodb.Client)(nil)
)

// Package store provides single-table DynamoDB data access for the loyalty backend.
//
// Every entity lives in one table keyed by (PK, SK), with two global secondary
// indexes (GSI1, GSI2) whose key attributes are named GSI1PK/GSI1SK and
// GSI2PK/GSI2SK. Callers work with raw [Item] values and build keys, filters,
// and transactions from the small vocabulary in this package.
//
// # Implementations
//
// Two types satisfy [Table]:
//
//   - [Store] talks to DynamoDB through the narrow [Client] interface, which
//     *dynamodb.Client satisfies.
//   - [Memory] keeps items in process with the same semantics. It backs the
//     domain tests and local runs.
//
// # Conditions
//
// Conditions and filters are a closed set of constructors:
//
//	store.And(
//	    store.AttributeExists(store.AttrPK),
//	    store.Equal("version", store.N(3)),
//	)
//
// [Store] renders them to expression syntax; [Memory] evaluates them directly.
//
// # Transactions
//
// [Table.TransactWrite] accepts [TxPut], [TxUpdate], [TxDelete] and
// [TxConditionCheck]. Either every operation commits or none does; a
// rejected transaction returns a [*TransactionFailedError] listing the
// cancellation reason of each operation in order.
//
// # Errors
//
//   - [ErrNotFound] - update target doesn't exist
//   - [ErrConflict] - conditional put found an existing item
//   - [ErrConditionFailed] - caller-supplied update condition was false
//   - [ErrTransactionFailed] - atomic multi-item write aborted
//   - [ErrInvalidCursor] - pagination token could not be decoded
package store

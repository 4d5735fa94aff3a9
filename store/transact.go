package store

// MaxTransactItems is the DynamoDB limit on operations per transaction.
const MaxTransactItems = 100

// TxOp is one operation of a TransactWrite call.
// It is implemented only by TxPut, TxUpdate, TxDelete and TxConditionCheck.
type TxOp interface {
	txKey() Key
}

// TxPut writes a whole item. createdAt is set if the item has none and
// updatedAt is always refreshed.
type TxPut struct {
	Item      Item
	Condition Condition
}

// TxUpdate sets attributes and atomically adds to numeric ones.
// updatedAt is always refreshed.
type TxUpdate struct {
	Key       Key
	Set       Item
	Add       map[string]int64
	Condition Condition
}

// TxDelete removes an item.
type TxDelete struct {
	Key       Key
	Condition Condition
}

// TxConditionCheck asserts a condition on an item without writing it.
type TxConditionCheck struct {
	Key       Key
	Condition Condition
}

func (op TxPut) txKey() Key            { return op.Item.Key() }
func (op TxUpdate) txKey() Key         { return op.Key }
func (op TxDelete) txKey() Key         { return op.Key }
func (op TxConditionCheck) txKey() Key { return op.Key }

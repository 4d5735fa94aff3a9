package entity

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxEarned         TransactionType = "earned"
	TxRedeemed       TransactionType = "redeemed"
	TxExpired        TransactionType = "expired"
	TxTransferredIn  TransactionType = "transferred_in"
	TxTransferredOut TransactionType = "transferred_out"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxEarned, TxRedeemed, TxExpired, TxTransferredIn, TxTransferredOut:
		return true
	}
	return false
}

// Debit reports whether entries of this type carry a negative delta.
func (t TransactionType) Debit() bool {
	return t == TxRedeemed || t == TxExpired || t == TxTransferredOut
}

// Transaction is an immutable ledger entry. Points is the signed delta;
// Balance and LifetimePoints snapshot the user right after it applied.
type Transaction struct {
	Keys `json:"-"`

	EntityType     string          `dynamodbav:"entityType" json:"entityType"`
	TransactionID  string          `dynamodbav:"transactionId" json:"transactionId"`
	UserID         string          `dynamodbav:"userId" json:"userId"`
	Type           TransactionType `dynamodbav:"type" json:"type"`
	Points         int64           `dynamodbav:"points" json:"points"`
	Balance        int64           `dynamodbav:"balance" json:"balance"`
	LifetimePoints int64           `dynamodbav:"lifetimePoints" json:"lifetimePoints"`
	Reason         string          `dynamodbav:"reason" json:"reason"`
	Metadata       map[string]any  `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt      string          `dynamodbav:"createdAt" json:"createdAt"`
}

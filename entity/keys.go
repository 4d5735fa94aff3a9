package entity

import (
	"strings"

	"github.com/jacentio/loyalty/internal/shard"
	"github.com/jacentio/loyalty/store"
)

// Entity type discriminators stored in the entityType attribute.
const (
	TypeUser   = "USER"
	TypeOrder  = "ORDER"
	TypePoints = "POINTS"
)

// Key prefixes.
const (
	PrefixUser   = "USER#"
	PrefixEmail  = "EMAIL#"
	PrefixPoints = "POINTS#"
	PrefixOrder  = "ORDER#"
	PrefixStatus = "STATUS#"
	PrefixDate   = "DATE#"

	ProfileSK = "PROFILE"
)

// Keys holds the table and index key attributes of an item.
// They never leave the service layer; JSON views omit them.
type Keys struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK string `dynamodbav:"GSI1SK,omitempty"`
	GSI2PK string `dynamodbav:"GSI2PK,omitempty"`
	GSI2SK string `dynamodbav:"GSI2SK,omitempty"`
}

// Key returns the primary key.
func (k Keys) Key() store.Key {
	return store.Key{PK: k.PK, SK: k.SK}
}

// UserPK is the partition holding a user's profile, orders and ledger.
func UserPK(userID string) string { return PrefixUser + userID }

// UserKey is the primary key of a user profile.
func UserKey(userID string) store.Key {
	return store.Key{PK: UserPK(userID), SK: ProfileSK}
}

// EmailPK is the GSI1 partition used for lookup by email.
func EmailPK(email string) string { return PrefixEmail + NormalizeEmail(email) }

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// PointsSK is the sort key of a ledger entry.
func PointsSK(transactionID string) string { return PrefixPoints + transactionID }

// PointsPK is the GSI1 partition holding a user's ledger in time order.
func PointsPK(userID string) string { return PrefixPoints + userID }

// OrderPK is the GSI1 partition used for direct lookup by order id.
func OrderPK(orderID string) string { return PrefixOrder + orderID }

// OrderSK is the sort key of an order under its owner.
func OrderSK(orderID, createdAt string) string { return PrefixOrder + orderID + "#" + createdAt }

// DateSK is the time-ordered index sort key.
func DateSK(timestamp string) string { return PrefixDate + timestamp }

// StatusPK is the unsharded GSI2 partition of an order status.
func StatusPK(status OrderStatus) string { return PrefixStatus + string(status) }

// StatusPartition is the GSI2 partition of an order, spread over shards.
func StatusPartition(status OrderStatus, orderID string, shards int) string {
	return shard.Partition(StatusPK(status), orderID, shards)
}

// StatusPartitions lists every GSI2 partition of a status.
func StatusPartitions(status OrderStatus, shards int) []string {
	return shard.Partitions(StatusPK(status), shards)
}

// UserKeys builds the keys of a user profile.
func UserKeys(userID, email string) Keys {
	return Keys{
		PK:     UserPK(userID),
		SK:     ProfileSK,
		GSI1PK: EmailPK(email),
		GSI1SK: UserPK(userID),
	}
}

// TransactionKeys builds the keys of a ledger entry.
func TransactionKeys(userID, transactionID, createdAt string) Keys {
	return Keys{
		PK:     UserPK(userID),
		SK:     PointsSK(transactionID),
		GSI1PK: PointsPK(userID),
		GSI1SK: DateSK(createdAt),
	}
}

// OrderKeys builds the keys of an order.
func OrderKeys(userID, orderID, createdAt string, status OrderStatus, shards int) Keys {
	return Keys{
		PK:     UserPK(userID),
		SK:     OrderSK(orderID, createdAt),
		GSI1PK: OrderPK(orderID),
		GSI1SK: DateSK(createdAt),
		GSI2PK: StatusPartition(status, orderID, shards),
		GSI2SK: DateSK(createdAt),
	}
}

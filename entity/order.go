package entity

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderFailed    OrderStatus = "failed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderCompleted, OrderCancelled, OrderFailed},
	OrderFailed:  {OrderCancelled},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID       string `dynamodbav:"id" json:"id"`
	Name     string `dynamodbav:"name" json:"name"`
	Quantity int    `dynamodbav:"quantity" json:"quantity"`
	Price    Money  `dynamodbav:"price" json:"price"`
}

// Order is a purchase that can feed points accrual.
type Order struct {
	Keys `json:"-"`

	EntityType      string         `dynamodbav:"entityType" json:"entityType"`
	OrderID         string         `dynamodbav:"orderId" json:"orderId"`
	UserID          string         `dynamodbav:"userId" json:"userId"`
	Amount          Money          `dynamodbav:"amount" json:"amount"`
	Currency        string         `dynamodbav:"currency" json:"currency"`
	Items           []OrderItem    `dynamodbav:"items" json:"items"`
	Status          OrderStatus    `dynamodbav:"status" json:"status"`
	PaymentMethod   string         `dynamodbav:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	ShippingAddress string         `dynamodbav:"shippingAddress,omitempty" json:"shippingAddress,omitempty"`
	Metadata        map[string]any `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	PointsEarned    int64          `dynamodbav:"pointsEarned" json:"pointsEarned"`
	CreatedAt       string         `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt       string         `dynamodbav:"updatedAt" json:"updatedAt"`
}

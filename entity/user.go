package entity

// UserStatus is the account state of a user.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserInactive
}

// User is a loyalty member profile.
type User struct {
	Keys `json:"-"`

	EntityType     string         `dynamodbav:"entityType" json:"entityType"`
	UserID         string         `dynamodbav:"userId" json:"userId"`
	Email          string         `dynamodbav:"email" json:"email"`
	Name           string         `dynamodbav:"name" json:"name"`
	Phone          string         `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Points         int64          `dynamodbav:"points" json:"points"`
	LifetimePoints int64          `dynamodbav:"lifetimePoints" json:"lifetimePoints"`
	Tier           Tier           `dynamodbav:"tier" json:"tier"`
	Status         UserStatus     `dynamodbav:"status" json:"status"`
	Metadata       map[string]any `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`

	// Version is bumped by every ledger write and guards balance updates.
	Version int64 `dynamodbav:"version,omitempty" json:"-"`

	CreatedAt string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt string `dynamodbav:"updatedAt" json:"updatedAt"`
}

// Balance is the points view of a user.
type Balance struct {
	UserID         string `json:"userId"`
	Points         int64  `json:"points"`
	LifetimePoints int64  `json:"lifetimePoints"`
	Tier           Tier   `json:"tier"`
}

// Balance returns the user's current points view.
func (u *User) Balance() Balance {
	return Balance{
		UserID:         u.UserID,
		Points:         u.Points,
		LifetimePoints: u.LifetimePoints,
		Tier:           u.Tier,
	}
}

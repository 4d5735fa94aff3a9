// Package user manages loyalty member profiles.
//
// Balances are never written here directly: point changes go through the
// ledger so the balance, lifetime points and tier move together.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/ledger"
	"github.com/jacentio/loyalty/store"
)

// DefaultAdjustmentReason is recorded by UpdatePoints when no reason is given.
const DefaultAdjustmentReason = "manual_adjustment"

// DefaultListLimit is the page size of List and ByTier.
const DefaultListLimit = 50

// Service manages user profiles.
type Service struct {
	table  store.Table
	ledger *ledger.Ledger
	events *event.Emitter
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a Service. A nil emitter discards events; a nil logger uses slog.Default().
func NewService(table store.Table, ledger *ledger.Ledger, events *event.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = event.NewEmitter(nil, "", logger)
	}
	return &Service{
		table:  table,
		ledger: ledger,
		events: events,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// CreateInput holds the fields of a new user.
type CreateInput struct {
	Email    string
	Name     string
	Phone    string
	Metadata map[string]any
}

// UpdateInput holds profile changes. Nil fields are left unchanged.
// Points and tier are not updatable here.
type UpdateInput struct {
	Name     *string
	Phone    *string
	Metadata map[string]any
	Status   *entity.UserStatus
}

// Stats summarizes a user's activity.
type Stats struct {
	UserID            string      `json:"userId"`
	Points            int64       `json:"points"`
	LifetimePoints    int64       `json:"lifetimePoints"`
	Tier              entity.Tier `json:"tier"`
	TotalOrders       int         `json:"totalOrders"`
	TotalTransactions int         `json:"totalTransactions"`
	MemberSince       string      `json:"memberSince"`
}

// Create registers a new user. Email uniqueness is checked before the write
// through the email index; two concurrent signups with the same email can
// both pass the check.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.User, error) {
	email := entity.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || name == "" {
		return nil, entity.Validationf("email and name are required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, entity.Validationf("invalid email %q", in.Email)
	}

	existing, err := s.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: user with email %s", entity.ErrConflict, email)
	}

	id := s.newID()
	now := store.FormatTime(s.now())
	u := &entity.User{
		Keys:       entity.UserKeys(id, email),
		EntityType: entity.TypeUser,
		UserID:     id,
		Email:      email,
		Name:       name,
		Phone:      strings.TrimSpace(in.Phone),
		Tier:       entity.TierFor(0),
		Status:     entity.UserActive,
		Metadata:   in.Metadata,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	item, err := entity.MarshalItem(u)
	if err != nil {
		return nil, err
	}
	if _, err := s.table.PutIfNotExists(ctx, item); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: user %s", entity.ErrConflict, id)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created", "userId", id)
	return u, s.events.Emit(ctx, event.UserCreated, map[string]any{
		"userId":    id,
		"email":     email,
		"name":      name,
		"timestamp": now,
	})
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, userID string) (*entity.User, error) {
	if userID == "" {
		return nil, entity.Validationf("user id is required")
	}
	item, err := s.table.Get(ctx, entity.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if item == nil {
		return nil, entity.NotFoundf("user %s", userID)
	}
	return decodeUser(item)
}

// GetByEmail looks a user up through the email index.
func (s *Service) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	email = entity.NormalizeEmail(email)
	if email == "" {
		return nil, entity.Validationf("email is required")
	}
	page, err := s.table.QueryIndex(ctx, store.GSI1, entity.EmailPK(email), store.QueryOptions{
		SortKeyPrefix: entity.PrefixUser,
		Limit:         1,
	})
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if len(page.Items) == 0 {
		return nil, entity.NotFoundf("user with email %s", email)
	}
	return decodeUser(page.Items[0])
}

// Update applies profile changes.
func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) (*entity.User, error) {
	attrs := store.Item{}
	var fields []string

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, entity.Validationf("name cannot be empty")
		}
		attrs["name"] = store.S(name)
		fields = append(fields, "name")
	}
	if in.Phone != nil {
		attrs["phone"] = store.S(strings.TrimSpace(*in.Phone))
		fields = append(fields, "phone")
	}
	if in.Metadata != nil {
		av, err := attributevalue.Marshal(in.Metadata)
		if err != nil {
			return nil, entity.Validationf("metadata: %v", err)
		}
		attrs["metadata"] = av
		fields = append(fields, "metadata")
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, entity.Validationf("invalid status %q", *in.Status)
		}
		attrs["status"] = store.S(string(*in.Status))
		fields = append(fields, "status")
	}
	if len(fields) == 0 {
		return nil, entity.Validationf("no fields to update")
	}

	u, err := s.update(ctx, userID, attrs)
	if err != nil {
		return nil, err
	}
	return u, s.events.Emit(ctx, event.UserUpdated, map[string]any{
		"userId":    userID,
		"fields":    fields,
		"timestamp": u.UpdatedAt,
	})
}

// UpdatePoints adjusts a balance by change through the ledger: a positive
// change is awarded, a negative one redeemed. The tier follows lifetime
// points as with any ledger write.
func (s *Service) UpdatePoints(ctx context.Context, userID string, change int64, reason string) (*entity.User, error) {
	if change == 0 {
		return nil, entity.Validationf("points change cannot be 0")
	}
	if reason == "" {
		reason = DefaultAdjustmentReason
	}

	var publishErrs []error
	var err error
	if change > 0 {
		_, err = s.ledger.Award(ctx, userID, change, reason, nil)
	} else {
		_, err = s.ledger.Redeem(ctx, userID, -change, reason, nil)
	}
	if err != nil {
		if !event.IsPublishError(err) {
			return nil, err
		}
		publishErrs = append(publishErrs, err)
	}

	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	publishErrs = append(publishErrs, s.events.Emit(ctx, event.PointsUpdated, map[string]any{
		"userId":         userID,
		"pointsChange":   change,
		"newBalance":     u.Points,
		"lifetimePoints": u.LifetimePoints,
		"tier":           u.Tier,
		"reason":         reason,
		"timestamp":      u.UpdatedAt,
	}))
	return u, errors.Join(publishErrs...)
}

// Deactivate marks a user inactive.
func (s *Service) Deactivate(ctx context.Context, userID string) (*entity.User, error) {
	u, err := s.update(ctx, userID, store.Item{"status": store.S(string(entity.UserInactive))})
	if err != nil {
		return nil, err
	}
	return u, s.events.Emit(ctx, event.UserDeactivated, map[string]any{
		"userId":    userID,
		"timestamp": u.UpdatedAt,
	})
}

// Delete removes a user profile permanently. Orders and ledger entries in
// the user's partition are kept.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return entity.Validationf("user id is required")
	}
	if err := s.table.Delete(ctx, entity.UserKey(userID)); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	s.logger.Info("user deleted", "userId", userID)
	return s.events.Emit(ctx, event.UserDeleted, map[string]any{
		"userId":    userID,
		"timestamp": store.FormatTime(s.now()),
	})
}

// Stats counts a user's orders and ledger entries.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var orders, transactions int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := s.table.Query(gctx, entity.UserPK(userID), store.QueryOptions{SortKeyPrefix: entity.PrefixOrder})
		if err != nil {
			return fmt.Errorf("count orders: %w", err)
		}
		orders = page.Count
		return nil
	})
	g.Go(func() error {
		page, err := s.table.Query(gctx, entity.UserPK(userID), store.QueryOptions{SortKeyPrefix: entity.PrefixPoints})
		if err != nil {
			return fmt.Errorf("count transactions: %w", err)
		}
		transactions = page.Count
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Stats{
		UserID:            u.UserID,
		Points:            u.Points,
		LifetimePoints:    u.LifetimePoints,
		Tier:              u.Tier,
		TotalOrders:       orders,
		TotalTransactions: transactions,
		MemberSince:       u.CreatedAt,
	}, nil
}

// List returns up to limit users. It scans the table.
func (s *Service) List(ctx context.Context, limit int) ([]entity.User, error) {
	return s.scan(ctx, store.Equal("entityType", store.S(entity.TypeUser)), limit)
}

// ByTier returns up to limit users in a tier. It scans the table.
func (s *Service) ByTier(ctx context.Context, tier entity.Tier, limit int) ([]entity.User, error) {
	if !tier.Valid() {
		return nil, entity.Validationf("invalid tier %q", tier)
	}
	return s.scan(ctx, store.And(
		store.Equal("entityType", store.S(entity.TypeUser)),
		store.Equal("tier", store.S(string(tier))),
	), limit)
}

func (s *Service) scan(ctx context.Context, filter store.Condition, limit int) ([]entity.User, error) {
	if limit < 1 {
		limit = DefaultListLimit
	}
	page, err := s.table.Scan(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	return entity.UnmarshalItems[entity.User](page.Items)
}

func (s *Service) update(ctx context.Context, userID string, attrs store.Item) (*entity.User, error) {
	if userID == "" {
		return nil, entity.Validationf("user id is required")
	}
	item, err := s.table.Update(ctx, entity.UserKey(userID), attrs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, entity.NotFoundf("user %s", userID)
		}
		return nil, fmt.Errorf("update user %s: %w", userID, err)
	}
	return decodeUser(item)
}

func decodeUser(item store.Item) (*entity.User, error) {
	var u entity.User
	if err := entity.UnmarshalItem(item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

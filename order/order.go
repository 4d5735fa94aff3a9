// Package order manages purchases and their lifecycle.
//
// Orders live in their owner's partition. GSI1 resolves an order id to its
// item and GSI2 groups orders by status, optionally sharded.
package order

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/store"
)

// Query defaults.
const (
	DefaultListLimit      = 50
	DefaultDateRangeLimit = 100
	MaxListLimit          = 1000
)

// DefaultCancelReason is recorded by Cancel when no reason is given.
const DefaultCancelReason = "customer_request"

// Service manages orders.
type Service struct {
	table  store.Table
	events *event.Emitter
	config Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates a Service. A nil emitter discards events; a nil logger uses slog.Default().
func NewService(table store.Table, events *event.Emitter, config Config, logger *slog.Logger) *Service {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = event.NewEmitter(nil, "", logger)
	}
	return &Service{
		table:  table,
		events: events,
		config: config,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// CreateInput holds the fields of a new order.
type CreateInput struct {
	UserID string

	// Amount is required and must not be negative.
	Amount *entity.Money

	Currency        string
	Items           []entity.OrderItem
	Status          entity.OrderStatus
	PaymentMethod   string
	ShippingAddress string
	Metadata        map[string]any
}

// ListOptions configures ListByUser.
type ListOptions struct {
	// Limit is the number of orders to evaluate per page.
	// Default: 50, Max: 1000
	Limit int32

	// Status keeps only orders in this status. The filter applies after
	// Limit, so a page can hold fewer orders while NextToken is set.
	Status entity.OrderStatus

	PageToken string
}

// Page is one page of orders.
type Page struct {
	Orders    []entity.Order `json:"orders"`
	Count     int            `json:"count"`
	NextToken string         `json:"nextToken,omitempty"`
}

// Stats summarizes a user's orders.
type Stats struct {
	TotalOrders       int          `json:"totalOrders"`
	CompletedOrders   int          `json:"completedOrders"`
	CancelledOrders   int          `json:"cancelledOrders"`
	TotalSpent        entity.Money `json:"totalSpent"`
	TotalPointsEarned int64        `json:"totalPointsEarned"`
}

// Create places an order for an existing user.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Order, error) {
	if in.UserID == "" {
		return nil, entity.Validationf("user id is required")
	}
	if in.Amount == nil {
		return nil, entity.Validationf("amount is required")
	}
	if in.Amount.IsNegative() {
		return nil, entity.Validationf("amount cannot be negative: %s", in.Amount)
	}
	status := in.Status
	if status == "" {
		status = entity.OrderPending
	}
	if !status.Valid() {
		return nil, entity.Validationf("invalid status %q", status)
	}

	owner, err := s.table.Get(ctx, entity.UserKey(in.UserID))
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", in.UserID, err)
	}
	if owner == nil {
		return nil, entity.NotFoundf("user %s", in.UserID)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	items := in.Items
	if items == nil {
		items = []entity.OrderItem{}
	}

	id := s.newID()
	now := store.FormatTime(s.now())
	o := &entity.Order{
		Keys:            entity.OrderKeys(in.UserID, id, now, status, s.config.StatusShards),
		EntityType:      entity.TypeOrder,
		OrderID:         id,
		UserID:          in.UserID,
		Amount:          *in.Amount,
		Currency:        currency,
		Items:           items,
		Status:          status,
		PaymentMethod:   in.PaymentMethod,
		ShippingAddress: in.ShippingAddress,
		Metadata:        in.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	item, err := entity.MarshalItem(o)
	if err != nil {
		return nil, err
	}
	if _, err := s.table.PutIfNotExists(ctx, item); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: order %s", entity.ErrConflict, id)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created", "orderId", id, "userId", in.UserID, "status", status)
	return o, s.events.Emit(ctx, event.OrderCreated, map[string]any{
		"orderId":   id,
		"userId":    in.UserID,
		"amount":    o.Amount,
		"currency":  currency,
		"status":    status,
		"timestamp": now,
	})
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*entity.Order, error) {
	if orderID == "" {
		return nil, entity.Validationf("order id is required")
	}
	page, err := s.table.QueryIndex(ctx, store.GSI1, entity.OrderPK(orderID), store.QueryOptions{
		SortKeyPrefix: entity.PrefixDate,
		Limit:         1,
	})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if len(page.Items) == 0 {
		return nil, entity.NotFoundf("order %s", orderID)
	}
	return decodeOrder(page.Items[0])
}

// ListByUser returns a user's orders newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	if userID == "" {
		return nil, entity.Validationf("user id is required")
	}
	q := store.QueryOptions{
		SortKeyPrefix: entity.PrefixOrder,
		Limit:         clampLimit(opts.Limit, DefaultListLimit),
		Descending:    true,
		StartKey:      opts.PageToken,
	}
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, entity.Validationf("invalid status %q", opts.Status)
		}
		q.Filter = store.Equal("status", store.S(string(opts.Status)))
	}

	page, err := s.table.Query(ctx, entity.UserPK(userID), q)
	if err != nil {
		return nil, fmt.Errorf("list orders for user %s: %w", userID, err)
	}
	orders, err := entity.UnmarshalItems[entity.Order](page.Items)
	if err != nil {
		return nil, err
	}
	return &Page{Orders: orders, Count: len(orders), NextToken: page.LastKey}, nil
}

// UpdateStatus moves an order to status, merging metadata into the order's.
// The write is conditioned on the status that was read, so a concurrent
// change fails with ErrConcurrentModification instead of being overwritten.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status entity.OrderStatus, metadata map[string]any) (*entity.Order, error) {
	if !status.Valid() {
		return nil, entity.Validationf("invalid status %q", status)
	}
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, current, status, metadata)
	if err != nil {
		return nil, err
	}
	return updated, s.publishTransition(ctx, current, updated)
}

// Cancel cancels an order that is neither completed nor already cancelled.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*entity.Order, error) {
	if reason == "" {
		reason = DefaultCancelReason
	}
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot cancel order %s with status %s",
			entity.ErrInvalidStateTransition, orderID, current.Status)
	}

	updated, err := s.transition(ctx, current, entity.OrderCancelled, map[string]any{"cancellationReason": reason})
	if err != nil {
		return nil, err
	}
	return updated, errors.Join(
		s.publishTransition(ctx, current, updated),
		s.events.Emit(ctx, event.OrderCancelled, map[string]any{
			"orderId":   orderID,
			"userId":    current.UserID,
			"amount":    current.Amount,
			"reason":    reason,
			"timestamp": updated.UpdatedAt,
		}),
	)
}

// UpdatePoints records the points credited for an order. It does not touch
// the ledger; the ledger entry is written separately.
func (s *Service) UpdatePoints(ctx context.Context, orderID string, pointsEarned int64) (*entity.Order, error) {
	if pointsEarned < 0 {
		return nil, entity.Validationf("points earned cannot be negative: %d", pointsEarned)
	}
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	item, err := s.table.Update(ctx, current.Key(), store.Item{"pointsEarned": store.N(pointsEarned)})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, entity.NotFoundf("order %s", orderID)
		}
		return nil, fmt.Errorf("update order %s points: %w", orderID, err)
	}
	return decodeOrder(item)
}

// Stats totals every order of a user. TotalSpent includes cancelled orders.
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	if userID == "" {
		return nil, entity.Validationf("user id is required")
	}
	page, err := s.table.Query(ctx, entity.UserPK(userID), store.QueryOptions{SortKeyPrefix: entity.PrefixOrder})
	if err != nil {
		return nil, fmt.Errorf("order stats for user %s: %w", userID, err)
	}
	orders, err := entity.UnmarshalItems[entity.Order](page.Items)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalOrders: len(orders)}
	spent := decimal.Zero
	for _, o := range orders {
		spent = spent.Add(o.Amount.Decimal)
		switch o.Status {
		case entity.OrderCompleted:
			stats.CompletedOrders++
			stats.TotalPointsEarned += o.PointsEarned
		case entity.OrderCancelled:
			stats.CancelledOrders++
		}
	}
	stats.TotalSpent = entity.NewMoney(spent)
	return stats, nil
}

// ByStatus returns up to limit orders in a status, newest first. Every
// status shard is queried concurrently and the results merged.
func (s *Service) ByStatus(ctx context.Context, status entity.OrderStatus, limit int32) ([]entity.Order, error) {
	if !status.Valid() {
		return nil, entity.Validationf("invalid status %q", status)
	}
	limit = clampLimit(limit, DefaultListLimit)

	partitions := entity.StatusPartitions(status, s.config.StatusShards)
	pages := make([][]store.Item, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i, partition := range partitions {
		g.Go(func() error {
			page, err := s.table.QueryIndex(gctx, store.GSI2, partition, store.QueryOptions{
				SortKeyPrefix: entity.PrefixDate,
				Limit:         limit,
				Descending:    true,
			})
			if err != nil {
				return fmt.Errorf("query %s: %w", partition, err)
			}
			pages[i] = page.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	_, skAttr := store.IndexKeyAttrs(store.GSI2)
	items := slices.Concat(pages...)
	slices.SortStableFunc(items, func(a, b store.Item) int {
		if c := cmp.Compare(b.String(skAttr), a.String(skAttr)); c != 0 {
			return c
		}
		return cmp.Compare(b.String("orderId"), a.String("orderId"))
	})
	if len(items) > int(limit) {
		items = items[:limit]
	}
	return entity.UnmarshalItems[entity.Order](items)
}

// ByDateRange returns up to limit orders created within [start, end].
// It scans the table.
func (s *Service) ByDateRange(ctx context.Context, start, end time.Time, limit int) ([]entity.Order, error) {
	if end.Before(start) {
		return nil, entity.Validationf("end %s is before start %s", store.FormatTime(end), store.FormatTime(start))
	}
	if limit < 1 {
		limit = DefaultDateRangeLimit
	}
	page, err := s.table.Scan(ctx, store.And(
		store.Equal("entityType", store.S(entity.TypeOrder)),
		store.Between(store.AttrCreatedAt, store.S(store.FormatTime(start)), store.S(store.FormatTime(end))),
	), limit)
	if err != nil {
		return nil, fmt.Errorf("scan orders by date: %w", err)
	}
	return entity.UnmarshalItems[entity.Order](page.Items)
}

func (s *Service) transition(ctx context.Context, current *entity.Order, status entity.OrderStatus, metadata map[string]any) (*entity.Order, error) {
	if !current.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: order %s from %s to %s",
			entity.ErrInvalidStateTransition, current.OrderID, current.Status, status)
	}

	gsi2pk, _ := store.IndexKeyAttrs(store.GSI2)
	attrs := store.Item{
		"status": store.S(string(status)),
		gsi2pk:   store.S(entity.StatusPartition(status, current.OrderID, s.config.StatusShards)),
	}
	if len(metadata) > 0 {
		merged := maps.Clone(current.Metadata)
		if merged == nil {
			merged = make(map[string]any, len(metadata))
		}
		maps.Copy(merged, metadata)
		av, err := attributevalue.Marshal(merged)
		if err != nil {
			return nil, entity.Validationf("metadata: %v", err)
		}
		attrs["metadata"] = av
	}

	item, err := s.table.Update(ctx, current.Key(), attrs, store.Equal("status", store.S(string(current.Status))))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, entity.NotFoundf("order %s", current.OrderID)
	case errors.Is(err, store.ErrConditionFailed):
		return nil, fmt.Errorf("%w: order %s changed status concurrently", entity.ErrConcurrentModification, current.OrderID)
	case err != nil:
		return nil, fmt.Errorf("update order %s status: %w", current.OrderID, err)
	}

	s.logger.Info("order status changed", "orderId", current.OrderID, "from", current.Status, "to", status)
	return decodeOrder(item)
}

func (s *Service) publishTransition(ctx context.Context, before, after *entity.Order) error {
	errs := []error{s.events.Emit(ctx, event.OrderStatusChanged, map[string]any{
		"orderId":   after.OrderID,
		"userId":    after.UserID,
		"oldStatus": before.Status,
		"newStatus": after.Status,
		"timestamp": after.UpdatedAt,
	})}
	if after.Status == entity.OrderCompleted {
		errs = append(errs, s.events.Emit(ctx, event.OrderCompleted, map[string]any{
			"orderId":   after.OrderID,
			"userId":    after.UserID,
			"amount":    after.Amount,
			"currency":  after.Currency,
			"items":     after.Items,
			"timestamp": after.UpdatedAt,
		}))
	}
	return errors.Join(errs...)
}

func clampLimit(limit, def int32) int32 {
	if limit < 1 {
		return def
	}
	return min(limit, MaxListLimit)
}

func decodeOrder(item store.Item) (*entity.Order, error) {
	var o entity.Order
	if err := entity.UnmarshalItem(item, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

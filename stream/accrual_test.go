package stream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/ledger"
	"github.com/jacentio/loyalty/order"
	"github.com/jacentio/loyalty/store"
	"github.com/jacentio/loyalty/stream"
)

// toImage renders an item the way the table stream delivers it.
func toImage(item store.Item) map[string]events.DynamoDBAttributeValue {
	image := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		image[k] = toStreamAttr(v)
	}
	return image
}

func toStreamAttr(v types.AttributeValue) events.DynamoDBAttributeValue {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(v.Value)
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(v.Value)
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(v.Value)
	case *types.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, len(v.Value))
		for i, e := range v.Value {
			list[i] = toStreamAttr(e)
		}
		return events.NewListAttribute(list)
	case *types.AttributeValueMemberM:
		return events.NewMapAttribute(toImage(v.Value))
	}
	return events.NewNullAttribute()
}

type fixture struct {
	table   *store.Memory
	ledger  *ledger.Ledger
	orders  *order.Service
	handler *stream.Handler
}

func newFixture(t *testing.T, config stream.Config) *fixture {
	t.Helper()
	table := store.NewMemory(store.DefaultConfig())
	emitter := event.NewEmitter(event.Nop{}, "test", nil)
	l := ledger.New(table, emitter, ledger.DefaultConfig(), nil)
	orders := order.NewService(table, emitter, order.DefaultConfig(), nil)

	u := entity.User{
		Keys:       entity.UserKeys("u1", "u1@example.com"),
		EntityType: entity.TypeUser,
		UserID:     "u1",
		Email:      "u1@example.com",
		Name:       "U1",
		Tier:       entity.TierBronze,
		Status:     entity.UserActive,
		Version:    1,
	}
	item, err := entity.MarshalItem(u)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	if _, err := table.Put(context.Background(), item); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return &fixture{
		table:   table,
		ledger:  l,
		orders:  orders,
		handler: stream.NewHandler(l, orders, config, nil),
	}
}

func (f *fixture) createOrder(t *testing.T, amount string) *entity.Order {
	t.Helper()
	m := entity.NewMoney(decimal.RequireFromString(amount))
	o, err := f.orders.Create(context.Background(), order.CreateInput{UserID: "u1", Amount: &m})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (f *fixture) image(t *testing.T, o *entity.Order) map[string]events.DynamoDBAttributeValue {
	t.Helper()
	item, err := f.table.Get(context.Background(), o.Key())
	if err != nil || item == nil {
		t.Fatalf("load order %s: %v", o.OrderID, err)
	}
	return toImage(item)
}

// complete moves an order to completed and returns the stream record of
// that change.
func (f *fixture) complete(t *testing.T, o *entity.Order) events.DynamoDBEventRecord {
	t.Helper()
	before := f.image(t, o)
	if _, err := f.orders.UpdateStatus(context.Background(), o.OrderID, entity.OrderCompleted, nil); err != nil {
		t.Fatalf("complete order: %v", err)
	}
	return events.DynamoDBEventRecord{
		EventID:   "evt-" + o.OrderID,
		EventName: "MODIFY",
		Change: events.DynamoDBStreamRecord{
			OldImage: before,
			NewImage: f.image(t, o),
		},
	}
}

func (f *fixture) balance(t *testing.T) *entity.Balance {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

// --- Handler Tests ---

func TestNewHandler(t *testing.T) {
	// nil dependencies and logger should not panic
	h := stream.NewHandler(nil, nil, stream.Config{}, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
	if got := h.Points(entity.NewMoney(decimal.RequireFromString("3.7"))); got != 3 {
		t.Errorf("expected default rate of 1 point per unit, got %d", got)
	}
}

func TestPoints(t *testing.T) {
	h := stream.NewHandler(nil, nil, stream.Config{PointsPerUnit: decimal.RequireFromString("1.5")}, nil)

	tests := []struct {
		amount string
		want   int64
	}{
		{"0", 0},
		{"0.66", 0},
		{"1", 1},
		{"99.99", 149},
		{"100", 150},
	}

	for _, tt := range tests {
		if got := h.Points(entity.NewMoney(decimal.RequireFromString(tt.amount))); got != tt.want {
			t.Errorf("amount %s: expected %d, got %d", tt.amount, tt.want, got)
		}
	}
}

func TestHandleOrderStream_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(nil, nil, stream.DefaultConfig(), nil)

	err := h.HandleOrderStream(context.Background(), events.DynamoDBEvent{})
	if err != nil {
		t.Errorf("expected no error for empty event, got %v", err)
	}
}

func TestHandleOrderStream_CreditsCompletedOrder(t *testing.T) {
	f := newFixture(t, stream.DefaultConfig())
	o := f.createOrder(t, "120.75")
	record := f.complete(t, o)

	if err := f.handler.HandleOrderStream(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b := f.balance(t)
	if b.Points != 120 || b.LifetimePoints != 120 {
		t.Errorf("expected 120/120, got %d/%d", b.Points, b.LifetimePoints)
	}

	got, err := f.orders.Get(context.Background(), o.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.PointsEarned != 120 {
		t.Errorf("expected 120 points recorded on order, got %d", got.PointsEarned)
	}

	page, err := f.ledger.History(context.Background(), "u1", ledger.HistoryOptions{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Count != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", page.Count)
	}
	tx := page.Transactions[0]
	if tx.TransactionID != stream.AccrualTransactionID(o.OrderID) {
		t.Errorf("expected transaction id %s, got %s", stream.AccrualTransactionID(o.OrderID), tx.TransactionID)
	}
	if tx.Reason != stream.AccrualReason {
		t.Errorf("expected reason %s, got %s", stream.AccrualReason, tx.Reason)
	}
}

func TestHandleOrderStream_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, stream.DefaultConfig())
	o := f.createOrder(t, "50")
	record := f.complete(t, o)
	batch := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}}

	for range 3 {
		if err := f.handler.HandleOrderStream(context.Background(), batch); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if b := f.balance(t); b.Points != 50 {
		t.Errorf("expected 50 points after redelivery, got %d", b.Points)
	}
}

func TestHandleOrderStream_InsertCompleted(t *testing.T) {
	f := newFixture(t, stream.DefaultConfig())
	m := entity.NewMoney(decimal.RequireFromString("10"))
	o, err := f.orders.Create(context.Background(), order.CreateInput{UserID: "u1", Amount: &m, Status: entity.OrderCompleted})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	record := events.DynamoDBEventRecord{
		EventName: "INSERT",
		Change:    events.DynamoDBStreamRecord{NewImage: f.image(t, o)},
	}
	if err := f.handler.HandleOrderStream(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b := f.balance(t); b.Points != 10 {
		t.Errorf("expected 10 points, got %d", b.Points)
	}
}

func TestHandleOrderStream_SkipsNonAccruingRecords(t *testing.T) {
	f := newFixture(t, stream.DefaultConfig())
	ctx := context.Background()

	pending := f.createOrder(t, "30")
	zero := f.createOrder(t, "0.99")
	zeroRecord := f.complete(t, zero)

	cancelledBefore := f.image(t, pending)
	if _, err := f.orders.Cancel(ctx, pending.OrderID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	batch := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		{EventName: "INSERT", Change: events.DynamoDBStreamRecord{NewImage: cancelledBefore}},
		{EventName: "MODIFY", Change: events.DynamoDBStreamRecord{OldImage: cancelledBefore, NewImage: f.image(t, pending)}},
		{EventName: "REMOVE", Change: events.DynamoDBStreamRecord{OldImage: cancelledBefore}},
		zeroRecord,
	}}
	if err := f.handler.HandleOrderStream(ctx, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b := f.balance(t); b.Points != 0 {
		t.Errorf("expected no points, got %d", b.Points)
	}
	got, err := f.orders.Get(ctx, zero.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.PointsEarned != 0 {
		t.Errorf("expected no points recorded on zero-point order, got %d", got.PointsEarned)
	}
}

type failingAwarder struct{ err error }

func (a failingAwarder) Award(context.Context, string, int64, string, map[string]any, ...ledger.Option) (*entity.Transaction, error) {
	return nil, a.err
}

func TestHandleOrderStream_AwardFailureStopsBatch(t *testing.T) {
	f := newFixture(t, stream.DefaultConfig())
	o := f.createOrder(t, "25")
	record := f.complete(t, o)

	boom := errors.New("throttled")
	h := stream.NewHandler(failingAwarder{err: boom}, f.orders, stream.DefaultConfig(), nil)
	err := h.HandleOrderStream(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected award error, got %v", err)
	}

	got, err := f.orders.Get(context.Background(), o.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.PointsEarned != 0 {
		t.Errorf("expected points not recorded after failed award, got %d", got.PointsEarned)
	}
}

func TestHandleOrderStream_UnknownUser(t *testing.T) {
	f := newFixture(t, stream.DefaultConfig())
	o := f.createOrder(t, "25")
	record := f.complete(t, o)
	if err := f.table.Delete(context.Background(), entity.UserKey("u1")); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	err := f.handler.HandleOrderStream(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record}})
	if !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

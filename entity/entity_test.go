package entity_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/store"
)

// --- Tier Tests ---

func TestTierFor_Boundaries(t *testing.T) {
	tests := []struct {
		lifetime int64
		want     entity.Tier
	}{
		{0, entity.TierBronze},
		{999, entity.TierBronze},
		{1000, entity.TierSilver},
		{4999, entity.TierSilver},
		{5000, entity.TierGold},
		{9999, entity.TierGold},
		{10000, entity.TierPlatinum},
		{1_000_000, entity.TierPlatinum},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.lifetime), func(t *testing.T) {
			if got := entity.TierFor(tt.lifetime); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTierFor_Monotonic(t *testing.T) {
	prev := entity.TierFor(0).Rank()
	for lifetime := int64(1); lifetime <= 12000; lifetime++ {
		rank := entity.TierFor(lifetime).Rank()
		if rank < prev {
			t.Fatalf("tier regressed at %d", lifetime)
		}
		prev = rank
	}
}

func TestTier_Valid(t *testing.T) {
	if !entity.TierGold.Valid() {
		t.Error("expected gold to be valid")
	}
	if entity.Tier("diamond").Valid() {
		t.Error("expected diamond to be invalid")
	}
}

// --- Key Tests ---

func TestUserKeys(t *testing.T) {
	keys := entity.UserKeys("u1", "  Ann@Example.COM ")
	if keys.PK != "USER#u1" || keys.SK != "PROFILE" {
		t.Errorf("unexpected primary key %s/%s", keys.PK, keys.SK)
	}
	if keys.GSI1PK != "EMAIL#ann@example.com" {
		t.Errorf("expected lowercased email partition, got %s", keys.GSI1PK)
	}
	if keys.GSI1SK != "USER#u1" {
		t.Errorf("expected GSI1SK USER#u1, got %s", keys.GSI1SK)
	}
	if keys.Key() != entity.UserKey("u1") {
		t.Error("expected Key to match UserKey")
	}
}

func TestTransactionKeys(t *testing.T) {
	keys := entity.TransactionKeys("u1", "t1", "2024-01-02T03:04:05.000Z")
	want := entity.Keys{
		PK:     "USER#u1",
		SK:     "POINTS#t1",
		GSI1PK: "POINTS#u1",
		GSI1SK: "DATE#2024-01-02T03:04:05.000Z",
	}
	if keys != want {
		t.Errorf("expected %+v, got %+v", want, keys)
	}
}

func TestOrderKeys(t *testing.T) {
	keys := entity.OrderKeys("u1", "o1", "2024-01-02T03:04:05.000Z", entity.OrderPending, 1)
	want := entity.Keys{
		PK:     "USER#u1",
		SK:     "ORDER#o1#2024-01-02T03:04:05.000Z",
		GSI1PK: "ORDER#o1",
		GSI1SK: "DATE#2024-01-02T03:04:05.000Z",
		GSI2PK: "STATUS#pending",
		GSI2SK: "DATE#2024-01-02T03:04:05.000Z",
	}
	if keys != want {
		t.Errorf("expected %+v, got %+v", want, keys)
	}

	sharded := entity.OrderKeys("u1", "o1", "2024-01-02T03:04:05.000Z", entity.OrderPending, 8)
	found := false
	for _, p := range entity.StatusPartitions(entity.OrderPending, 8) {
		if p == sharded.GSI2PK {
			found = true
		}
	}
	if !found {
		t.Errorf("sharded partition %s not among status partitions", sharded.GSI2PK)
	}
}

// --- Order Status Tests ---

func TestOrderStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to entity.OrderStatus
		want     bool
	}{
		{entity.OrderPending, entity.OrderCompleted, true},
		{entity.OrderPending, entity.OrderCancelled, true},
		{entity.OrderPending, entity.OrderFailed, true},
		{entity.OrderFailed, entity.OrderCancelled, true},
		{entity.OrderFailed, entity.OrderCompleted, false},
		{entity.OrderCompleted, entity.OrderCancelled, false},
		{entity.OrderCancelled, entity.OrderPending, false},
		{entity.OrderPending, entity.OrderPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	for _, s := range []entity.OrderStatus{entity.OrderCompleted, entity.OrderCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []entity.OrderStatus{entity.OrderPending, entity.OrderFailed} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestTransactionType_Debit(t *testing.T) {
	debits := map[entity.TransactionType]bool{
		entity.TxEarned:         false,
		entity.TxTransferredIn:  false,
		entity.TxRedeemed:       true,
		entity.TxExpired:        true,
		entity.TxTransferredOut: true,
	}
	for typ, want := range debits {
		if typ.Debit() != want {
			t.Errorf("%s: expected debit %v", typ, want)
		}
		if !typ.Valid() {
			t.Errorf("%s: expected valid", typ)
		}
	}
}

// --- Codec Tests ---

func TestMarshalItem_User(t *testing.T) {
	u := entity.User{
		Keys:       entity.UserKeys("u1", "a@b.com"),
		EntityType: entity.TypeUser,
		UserID:     "u1",
		Email:      "a@b.com",
		Name:       "A",
		Tier:       entity.TierBronze,
		Status:     entity.UserActive,
		Version:    3,
	}

	item, err := entity.MarshalItem(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Key() != entity.UserKey("u1") {
		t.Errorf("expected flattened primary key, got %+v", item.Key())
	}
	if item.String("GSI1PK") != "EMAIL#a@b.com" {
		t.Errorf("expected GSI1PK, got %q", item.String("GSI1PK"))
	}
	if _, ok := item["GSI2PK"]; ok {
		t.Error("expected empty GSI2PK to be omitted")
	}
	if _, ok := item["phone"]; ok {
		t.Error("expected empty phone to be omitted")
	}
	if item.Int("version") != 3 {
		t.Errorf("expected version 3, got %d", item.Int("version"))
	}
}

func TestUserJSON_HidesKeys(t *testing.T) {
	u := entity.User{Keys: entity.UserKeys("u1", "a@b.com"), UserID: "u1", Version: 2}
	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, hidden := range []string{"PK", "GSI1PK", "version"} {
		if strings.Contains(string(raw), `"`+hidden+`"`) {
			t.Errorf("expected %s to be hidden, got %s", hidden, raw)
		}
	}
}

func TestMoney_Attribute(t *testing.T) {
	o := entity.Order{
		Keys:   entity.OrderKeys("u1", "o1", "2024-01-01T00:00:00.000Z", entity.OrderPending, 1),
		Amount: entity.NewMoney(decimal.RequireFromString("19.99")),
		Items: []entity.OrderItem{
			{ID: "i1", Name: "Mug", Quantity: 2, Price: entity.NewMoney(decimal.RequireFromString("9.995"))},
		},
	}
	item, err := entity.MarshalItem(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, ok := item["amount"].(*types.AttributeValueMemberN)
	if !ok || n.Value != "19.99" {
		t.Fatalf("expected numeric amount 19.99, got %#v", item["amount"])
	}

	var decoded entity.Order
	if err := entity.UnmarshalItem(item, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decoded.Amount.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("expected 19.99, got %s", decoded.Amount)
	}
	if !decoded.Items[0].Price.Equal(decimal.RequireFromString("9.995")) {
		t.Errorf("expected exact item price, got %s", decoded.Items[0].Price)
	}
}

func TestMoney_UnmarshalRejectsGarbage(t *testing.T) {
	var m entity.Money
	if err := m.UnmarshalDynamoDBAttributeValue(&types.AttributeValueMemberS{Value: "abc"}); err == nil {
		t.Error("expected error for non-numeric string")
	}
	if err := m.UnmarshalDynamoDBAttributeValue(&types.AttributeValueMemberBOOL{Value: true}); err == nil {
		t.Error("expected error for boolean")
	}
}

func TestUnmarshalItems(t *testing.T) {
	items := []store.Item{
		{"transactionId": store.S("t1"), "points": store.N(5), "type": store.S("earned")},
		{"transactionId": store.S("t2"), "points": store.N(-2), "type": store.S("redeemed")},
	}
	txs, err := entity.UnmarshalItems[entity.Transaction](items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 || txs[1].Points != -2 || txs[1].Type != entity.TxRedeemed {
		t.Errorf("unexpected transactions %+v", txs)
	}
}

// --- Error Tests ---

func TestInsufficientBalanceError(t *testing.T) {
	var err error = &entity.InsufficientBalanceError{Available: 0, Required: 1}
	if !errors.Is(err, entity.ErrInsufficientBalance) {
		t.Error("expected errors.Is ErrInsufficientBalance")
	}
	if !strings.Contains(err.Error(), "available 0, required 1") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestValidationf(t *testing.T) {
	err := entity.Validationf("points must be greater than 0, got %d", -1)
	if !errors.Is(err, entity.ErrValidation) {
		t.Error("expected errors.Is ErrValidation")
	}
	if !strings.HasSuffix(err.Error(), "got -1") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

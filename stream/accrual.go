// Package stream turns table stream records into points accrual.
//
// The table stream must use the NEW_AND_OLD_IMAGES view type so that a
// status change can be told apart from other writes to a completed order.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/ledger"
	"github.com/jacentio/loyalty/store"
)

// AccrualReason is recorded on ledger entries credited for an order.
const AccrualReason = "order_completed"

// AccrualTransactionID is the ledger transaction id for an order's points.
// A fixed id per order makes redelivered records replays.
func AccrualTransactionID(orderID string) string {
	return "ORDER-" + orderID
}

// Awarder credits points. It is satisfied by *ledger.Ledger.
type Awarder interface {
	Award(ctx context.Context, userID string, points int64, reason string, metadata map[string]any, opts ...ledger.Option) (*entity.Transaction, error)
}

// OrderPoints records credited points on an order. It is satisfied by *order.Service.
type OrderPoints interface {
	UpdatePoints(ctx context.Context, orderID string, pointsEarned int64) (*entity.Order, error)
}

// Handler credits points for completed orders.
type Handler struct {
	awarder Awarder
	orders  OrderPoints
	config  Config
	logger  *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(awarder Awarder, orders OrderPoints, config Config, logger *slog.Logger) *Handler {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		awarder: awarder,
		orders:  orders,
		config:  config,
		logger:  logger,
	}
}

// HandleOrderStream credits points for every order that became completed.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleOrderStream(ctx context.Context, batch events.DynamoDBEvent) error {
	for _, record := range batch.Records {
		if err := h.processRecord(ctx, record); err != nil {
			key := ConvertStreamKey(record.Change.Keys)
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"pk", key.PK,
				"sk", key.SK,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// Points computes the points earned for an order amount.
func (h *Handler) Points(amount entity.Money) int64 {
	return amount.Mul(h.config.PointsPerUnit).Floor().IntPart()
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if !completedOrder(record) {
		return nil
	}

	var o entity.Order
	if err := entity.UnmarshalItem(ConvertStreamImage(record.Change.NewImage), &o); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}
	if o.PointsEarned > 0 {
		return nil
	}

	points := h.Points(o.Amount)
	if points <= 0 {
		h.logger.Debug("order earns no points", "orderId", o.OrderID, "amount", o.Amount)
		return nil
	}

	tx, err := h.awarder.Award(ctx, o.UserID, points, AccrualReason,
		map[string]any{"orderId": o.OrderID},
		ledger.WithTransactionID(AccrualTransactionID(o.OrderID)),
	)
	if err != nil {
		if !event.IsPublishError(err) {
			return fmt.Errorf("award points for order %s: %w", o.OrderID, err)
		}
		h.logger.Warn("points awarded without notification", "orderId", o.OrderID, "error", err)
	}

	if _, err := h.orders.UpdatePoints(ctx, o.OrderID, points); err != nil {
		return fmt.Errorf("record points on order %s: %w", o.OrderID, err)
	}

	h.logger.Info("order points credited",
		"orderId", o.OrderID,
		"userId", o.UserID,
		"points", points,
		"transactionId", tx.TransactionID,
	)
	return nil
}

// completedOrder reports whether a record is an order arriving in the
// completed status, either inserted that way or modified into it.
func completedOrder(record events.DynamoDBEventRecord) bool {
	image := record.Change.NewImage
	if getStringAttr(image, "entityType") != entity.TypeOrder {
		return false
	}
	if getStringAttr(image, "status") != string(entity.OrderCompleted) {
		return false
	}
	switch record.EventName {
	case "INSERT":
		return true
	case "MODIFY":
		return getStringAttr(record.Change.OldImage, "status") != string(entity.OrderCompleted)
	}
	return false
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertStreamImage converts a DynamoDB stream image to a store.Item so it
// can be decoded like any item read from the table.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) store.Item {
	if image == nil {
		return nil
	}
	result := make(store.Item, len(image))
	for k, v := range image {
		if av := convertAttr(v); av != nil {
			result[k] = av
		}
	}
	return result
}

// ConvertStreamKey converts a DynamoDB stream key to a store.Key.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.Key {
	return store.Key{
		PK: getStringAttr(streamKey, store.AttrPK),
		SK: getStringAttr(streamKey, store.AttrSK),
	}
}

func convertAttr(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttr(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		m := make(map[string]types.AttributeValue, len(v.Map()))
		for k, item := range v.Map() {
			if av := convertAttr(item); av != nil {
				m[k] = av
			}
		}
		return &types.AttributeValueMemberM{Value: m}
	}
	return nil
}

// Config holds configuration for the Handler.
type Config struct {
	// PointsPerUnit is the points earned per currency unit, floored.
	// Default: 1
	PointsPerUnit decimal.Decimal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PointsPerUnit: decimal.NewFromInt(1)}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if !c.PointsPerUnit.IsPositive() {
		c.PointsPerUnit = decimal.NewFromInt(1)
	}
}

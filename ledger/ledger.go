// Package ledger maintains point balances as an append-only transaction log.
//
// Every balance change goes through one step that reads the user, computes
// the new points, lifetime points and tier, and commits the ledger entry and
// the user update in a single transaction conditioned on the user's version.
// A version conflict re-reads and retries up to Config.MaxAttempts times.
//
// Mutating operations publish an event after commit. If publishing fails,
// the committed transaction is returned together with an *event.PublishError.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/store"
)

// DefaultExpireReason is recorded when Expire is called without a reason.
const DefaultExpireReason = "Points expired"

// Ledger awards, redeems, expires and transfers points.
type Ledger struct {
	table  store.Table
	events *event.Emitter
	config Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a Ledger. A nil emitter discards events; a nil logger uses slog.Default().
func New(table store.Table, events *event.Emitter, config Config, logger *slog.Logger) *Ledger {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = event.NewEmitter(nil, "", logger)
	}
	return &Ledger{
		table:  table,
		events: events,
		config: config,
		logger: logger,
		now:    time.Now,
		newID:  newTransactionID,
	}
}

// newTransactionID returns a time-ordered id.
func newTransactionID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Option configures a single Award or Redeem call.
type Option func(*options)

type options struct {
	transactionID string
}

// WithTransactionID makes the call idempotent on id. If a transaction with
// this id was already recorded for the user, it is returned unchanged and
// nothing is written or published.
func WithTransactionID(id string) Option {
	return func(o *options) {
		o.transactionID = id
	}
}

// Award credits points to a user. Points and lifetime points both grow.
func (l *Ledger) Award(ctx context.Context, userID string, points int64, reason string, metadata map[string]any, opts ...Option) (*entity.Transaction, error) {
	if err := validateAmount(userID, points); err != nil {
		return nil, err
	}

	res, err := l.apply(ctx, reason, []leg{{
		userID:        userID,
		transactionID: collect(opts).transactionID,
		typ:           entity.TxEarned,
		plan: func(*entity.User) (change, error) {
			return change{
				delta:         points,
				lifetimeDelta: points,
				metadata:      metadata,
			}, nil
		},
	}})
	if err != nil || res.replayed {
		return res.first(), err
	}

	r := res.legs[0]
	return &r.tx, l.publish(ctx, res, event.PointsAwarded, pointsDetail(r, points, reason))
}

// Redeem debits points from a user. Lifetime points are unchanged.
// A balance below points fails with *entity.InsufficientBalanceError.
func (l *Ledger) Redeem(ctx context.Context, userID string, points int64, reason string, metadata map[string]any, opts ...Option) (*entity.Transaction, error) {
	if err := validateAmount(userID, points); err != nil {
		return nil, err
	}

	res, err := l.apply(ctx, reason, []leg{{
		userID:        userID,
		transactionID: collect(opts).transactionID,
		typ:           entity.TxRedeemed,
		plan: func(u *entity.User) (change, error) {
			if u.Points < points {
				return change{}, &entity.InsufficientBalanceError{Available: u.Points, Required: points}
			}
			return change{
				delta:    -points,
				metadata: metadata,
			}, nil
		},
	}})
	if err != nil || res.replayed {
		return res.first(), err
	}

	r := res.legs[0]
	return &r.tx, l.publish(ctx, res, event.PointsRedeemed, pointsDetail(r, points, reason))
}

// Expire removes up to points from a user's balance, never below zero.
// It fails with entity.ErrNothingToExpire when the balance is already zero.
func (l *Ledger) Expire(ctx context.Context, userID string, points int64, reason string) (*entity.Transaction, error) {
	if err := validateAmount(userID, points); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = DefaultExpireReason
	}

	res, err := l.apply(ctx, reason, []leg{{
		userID: userID,
		typ:    entity.TxExpired,
		plan: func(u *entity.User) (change, error) {
			actual := min(points, u.Points)
			if actual <= 0 {
				return change{}, fmt.Errorf("%w: user %s has a zero balance", entity.ErrNothingToExpire, u.UserID)
			}
			return change{
				delta: -actual,
				metadata: map[string]any{
					"requestedExpiration": points,
					"actualExpired":       actual,
				},
			}, nil
		},
	}})
	if err != nil {
		return nil, err
	}

	r := res.legs[0]
	return &r.tx, l.publish(ctx, res, event.PointsExpired, pointsDetail(r, -r.tx.Points, reason))
}

// Transfer moves points from one user to another in one transaction.
// Lifetime points are unchanged on both sides.
func (l *Ledger) Transfer(ctx context.Context, fromUserID, toUserID string, points int64, reason string) (*Transfer, error) {
	if err := validateAmount(fromUserID, points); err != nil {
		return nil, err
	}
	if toUserID == "" {
		return nil, entity.Validationf("recipient user id is required")
	}
	if fromUserID == toUserID {
		return nil, entity.Validationf("cannot transfer points to the same user")
	}

	res, err := l.apply(ctx, reason, []leg{
		{
			userID: fromUserID,
			typ:    entity.TxTransferredOut,
			plan: func(u *entity.User) (change, error) {
				if u.Points < points {
					return change{}, &entity.InsufficientBalanceError{Available: u.Points, Required: points}
				}
				return change{
					delta:    -points,
					metadata: map[string]any{"toUserId": toUserID},
				}, nil
			},
		},
		{
			userID: toUserID,
			typ:    entity.TxTransferredIn,
			plan: func(*entity.User) (change, error) {
				return change{
					delta:    points,
					metadata: map[string]any{"fromUserId": fromUserID},
				}, nil
			},
		},
	})
	if err != nil {
		return nil, err
	}

	out, in := res.legs[0], res.legs[1]
	t := &Transfer{Out: out.tx, In: in.tx}
	return t, l.publish(ctx, res, event.PointsTransferred, map[string]any{
		"fromUserId":       fromUserID,
		"toUserId":         toUserID,
		"points":           points,
		"fromBalance":      out.after.Points,
		"toBalance":        in.after.Points,
		"outTransactionId": out.tx.TransactionID,
		"inTransactionId":  in.tx.TransactionID,
		"reason":           reason,
		"timestamp":        out.tx.CreatedAt,
	})
}

// Transfer is the pair of ledger entries written by a transfer.
type Transfer struct {
	Out entity.Transaction `json:"out"`
	In  entity.Transaction `json:"in"`
}

// change is the effect of one leg on a user.
type change struct {
	delta         int64
	lifetimeDelta int64
	metadata      map[string]any
}

// leg is one user's side of a ledger operation.
type leg struct {
	userID        string
	transactionID string
	typ           entity.TransactionType
	plan          func(u *entity.User) (change, error)
}

type appliedLeg struct {
	tx     entity.Transaction
	before entity.User
	after  entity.User
}

type result struct {
	legs     []appliedLeg
	replayed bool
}

func (r *result) first() *entity.Transaction {
	if r == nil || len(r.legs) == 0 {
		return nil
	}
	return &r.legs[0].tx
}

// apply commits every leg atomically. Each user update is conditioned on
// the version read in the same attempt; a lost race re-reads and retries.
func (l *Ledger) apply(ctx context.Context, reason string, legs []leg) (*result, error) {
	attempt := 0
	raced := false
	res, err := backoff.Retry(ctx, func() (*result, error) {
		attempt++
		raced = false
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}

		// A caller-supplied id that already exists means this call is a replay.
		if id := legs[0].transactionID; id != "" {
			existing, err := l.existingTransaction(ctx, legs[0].userID, id)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			if existing != nil {
				if existing.Type != legs[0].typ {
					return nil, backoff.Permanent(fmt.Errorf("%w: transaction %s is already recorded as %s",
						entity.ErrConflict, id, existing.Type))
				}
				l.logger.Info("ledger transaction already recorded",
					"userId", legs[0].userID,
					"transactionId", id,
				)
				return &result{legs: []appliedLeg{{tx: *existing}}, replayed: true}, nil
			}
		}

		applied, ops, err := l.prepare(ctx, reason, legs)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		err = l.table.TransactWrite(ctx, ops...)
		if err == nil {
			return &result{legs: applied}, nil
		}
		if !retryable(err) {
			return nil, backoff.Permanent(fmt.Errorf("ledger write for user %s: %w", legs[0].userID, err))
		}
		raced = true
		return nil, err
	},
		backoff.WithBackOff(l.retryBackOff()),
		backoff.WithMaxTries(uint(l.config.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Debug("ledger write conflict, retrying",
				"userId", legs[0].userID,
				"attempt", attempt,
				"backoff", next,
				"error", err,
			)
		}),
	)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return nil, permanent.Err
	}
	if raced && errors.Is(err, store.ErrTransactionFailed) {
		return nil, fmt.Errorf("%w: user %s after %d attempts: %w",
			entity.ErrConcurrentModification, legs[0].userID, attempt, err)
	}
	return nil, err
}

// retryable reports whether a failed write lost a race with another writer.
// Every cancelled operation must have failed its condition or collided with
// a concurrent transaction; any other cancellation code is permanent.
func retryable(err error) bool {
	var txErr *store.TransactionFailedError
	if !errors.As(err, &txErr) {
		return false
	}
	raced := false
	for i := range txErr.Reasons {
		switch {
		case !txErr.Cancelled(i):
		case txErr.ConditionFailed(i), txErr.Conflicted(i):
			raced = true
		default:
			return false
		}
	}
	return raced
}

func (l *Ledger) retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.config.RetryInitialInterval
	b.MaxInterval = l.config.RetryMaxInterval
	return b
}

// prepare reads every user and builds the transaction for one attempt.
func (l *Ledger) prepare(ctx context.Context, reason string, legs []leg) ([]appliedLeg, []store.TxOp, error) {
	now := store.FormatTime(l.now())
	applied := make([]appliedLeg, 0, len(legs))
	puts := make([]store.TxOp, 0, len(legs))
	updates := make([]store.TxOp, 0, len(legs))

	for _, lg := range legs {
		user, err := l.loadUser(ctx, lg.userID)
		if err != nil {
			return nil, nil, err
		}
		ch, err := lg.plan(user)
		if err != nil {
			return nil, nil, err
		}
		if lg.typ.Debit() != (ch.delta < 0) {
			return nil, nil, fmt.Errorf("ledger: %s entry cannot change points by %d", lg.typ, ch.delta)
		}

		after := *user
		after.Points = user.Points + ch.delta
		after.LifetimePoints = user.LifetimePoints + ch.lifetimeDelta
		after.Tier = entity.TierFor(after.LifetimePoints)
		after.Version = user.Version + 1
		if after.Points < 0 {
			return nil, nil, fmt.Errorf("ledger: refusing negative balance for user %s", user.UserID)
		}

		id := lg.transactionID
		if id == "" {
			id = l.newID()
		}
		tx := entity.Transaction{
			Keys:           entity.TransactionKeys(user.UserID, id, now),
			EntityType:     entity.TypePoints,
			TransactionID:  id,
			UserID:         user.UserID,
			Type:           lg.typ,
			Points:         ch.delta,
			Balance:        after.Points,
			LifetimePoints: after.LifetimePoints,
			Reason:         reason,
			Metadata:       ch.metadata,
			CreatedAt:      now,
		}
		item, err := entity.MarshalItem(tx)
		if err != nil {
			return nil, nil, err
		}

		puts = append(puts, store.TxPut{
			Item:      item,
			Condition: store.AttributeNotExists(store.AttrPK),
		})
		updates = append(updates, store.TxUpdate{
			Key: entity.UserKey(user.UserID),
			Set: store.Item{
				"points":         store.N(after.Points),
				"lifetimePoints": store.N(after.LifetimePoints),
				"tier":           store.S(string(after.Tier)),
			},
			Add:       map[string]int64{"version": 1},
			Condition: versionCondition(user.Version),
		})
		applied = append(applied, appliedLeg{tx: tx, before: *user, after: after})
	}

	return applied, append(puts, updates...), nil
}

// versionCondition guards a user update against concurrent writers.
// Users written before versioning carry no version attribute.
func versionCondition(version int64) store.Condition {
	if version == 0 {
		return store.And(store.AttributeExists(store.AttrPK), store.AttributeNotExists("version"))
	}
	return store.And(store.AttributeExists(store.AttrPK), store.Equal("version", store.N(version)))
}

func (l *Ledger) loadUser(ctx context.Context, userID string) (*entity.User, error) {
	item, err := l.table.Get(ctx, entity.UserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if item == nil {
		return nil, entity.NotFoundf("user %s", userID)
	}
	var u entity.User
	if err := entity.UnmarshalItem(item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (l *Ledger) existingTransaction(ctx context.Context, userID, transactionID string) (*entity.Transaction, error) {
	item, err := l.table.Get(ctx, store.Key{PK: entity.UserPK(userID), SK: entity.PointsSK(transactionID)})
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", transactionID, err)
	}
	if item == nil {
		return nil, nil
	}
	var tx entity.Transaction
	if err := entity.UnmarshalItem(item, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// publish emits the operation event and a tier change event for every user
// whose tier moved. All failures are joined.
func (l *Ledger) publish(ctx context.Context, res *result, eventType string, detail map[string]any) error {
	errs := []error{l.events.Emit(ctx, eventType, detail)}
	for _, r := range res.legs {
		if r.before.Tier == r.after.Tier {
			continue
		}
		errs = append(errs, l.events.Emit(ctx, event.UserTierChanged, map[string]any{
			"userId":         r.after.UserID,
			"oldTier":        r.before.Tier,
			"newTier":        r.after.Tier,
			"lifetimePoints": r.after.LifetimePoints,
			"timestamp":      r.tx.CreatedAt,
		}))
	}
	return errors.Join(errs...)
}

func pointsDetail(r appliedLeg, points int64, reason string) map[string]any {
	return map[string]any{
		"userId":         r.tx.UserID,
		"transactionId":  r.tx.TransactionID,
		"points":         points,
		"newBalance":     r.after.Points,
		"lifetimePoints": r.after.LifetimePoints,
		"tier":           r.after.Tier,
		"reason":         reason,
		"timestamp":      r.tx.CreatedAt,
	}
}

func validateAmount(userID string, points int64) error {
	if userID == "" {
		return entity.Validationf("user id is required")
	}
	if points <= 0 {
		return entity.Validationf("points must be greater than 0, got %d", points)
	}
	return nil
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

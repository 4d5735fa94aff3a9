package ledger

import (
	"context"
	"fmt"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/store"
)

// History page size bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

// HistoryOptions selects a page of transaction history.
type HistoryOptions struct {
	// Limit is the page size.
	// Default: 50
	// Max: 1000
	Limit int32

	// PageToken resumes from HistoryPage.NextToken.
	PageToken string
}

// HistoryPage is one page of a user's transactions, newest first.
type HistoryPage struct {
	Transactions []entity.Transaction `json:"transactions"`
	Count        int                  `json:"count"`
	NextToken    string               `json:"nextToken,omitempty"`
}

// Stats aggregates a user's ledger.
type Stats struct {
	UserID              string      `json:"userId"`
	TotalEarned         int64       `json:"totalEarned"`
	TotalRedeemed       int64       `json:"totalRedeemed"`
	TotalExpired        int64       `json:"totalExpired"`
	TotalTransferredIn  int64       `json:"totalTransferredIn"`
	TotalTransferredOut int64       `json:"totalTransferredOut"`
	EarnedCount         int         `json:"earnedCount"`
	RedeemedCount       int         `json:"redeemedCount"`
	TransactionCount    int         `json:"transactionCount"`
	CurrentBalance      int64       `json:"currentBalance"`
	LifetimePoints      int64       `json:"lifetimePoints"`
	Tier                entity.Tier `json:"tier"`

	// Complete is false when the ledger is longer than one history page
	// and the totals cover only the newest MaxHistoryLimit entries.
	Complete bool `json:"complete"`
}

// Balance returns a user's current points.
func (l *Ledger) Balance(ctx context.Context, userID string) (*entity.Balance, error) {
	if userID == "" {
		return nil, entity.Validationf("user id is required")
	}
	u, err := l.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	b := u.Balance()
	return &b, nil
}

// History returns a user's transactions newest first. Only the GSI1 date
// index is chronological; the primary sort key is not.
func (l *Ledger) History(ctx context.Context, userID string, opts HistoryOptions) (*HistoryPage, error) {
	if userID == "" {
		return nil, entity.Validationf("user id is required")
	}
	limit := opts.Limit
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	page, err := l.table.QueryIndex(ctx, store.GSI1, entity.PointsPK(userID), store.QueryOptions{
		SortKeyPrefix: entity.PrefixDate,
		Limit:         limit,
		Descending:    true,
		StartKey:      opts.PageToken,
	})
	if err != nil {
		return nil, fmt.Errorf("history for user %s: %w", userID, err)
	}

	txs, err := entity.UnmarshalItems[entity.Transaction](page.Items)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{
		Transactions: txs,
		Count:        len(txs),
		NextToken:    page.LastKey,
	}, nil
}

// Stats folds the newest page of up to MaxHistoryLimit transactions.
func (l *Ledger) Stats(ctx context.Context, userID string) (*Stats, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := l.History(ctx, userID, HistoryOptions{Limit: MaxHistoryLimit})
	if err != nil {
		return nil, err
	}

	s := &Stats{
		UserID:           userID,
		TransactionCount: history.Count,
		CurrentBalance:   balance.Points,
		LifetimePoints:   balance.LifetimePoints,
		Tier:             balance.Tier,
		Complete:         history.NextToken == "",
	}
	for _, tx := range history.Transactions {
		amount := tx.Points
		if amount < 0 {
			amount = -amount
		}
		switch tx.Type {
		case entity.TxEarned:
			s.TotalEarned += amount
			s.EarnedCount++
		case entity.TxRedeemed:
			s.TotalRedeemed += amount
			s.RedeemedCount++
		case entity.TxExpired:
			s.TotalExpired += amount
		case entity.TxTransferredIn:
			s.TotalTransferredIn += amount
		case entity.TxTransferredOut:
			s.TotalTransferredOut += amount
		}
	}
	return s, nil
}

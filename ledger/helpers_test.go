package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacentio/loyalty/entity"
	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/store"
)

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	err    error
	events []string
	detail []any
}

func (r *recorder) Publish(_ context.Context, eventType, _ string, detail any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.detail = append(r.detail, detail)
	return r.err
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// newTestLedger returns a ledger over an empty in-memory table with a
// stepping clock and sequential transaction ids.
func newTestLedger(t *testing.T) (*Ledger, *store.Memory, *recorder) {
	t.Helper()
	table := store.NewMemory(store.DefaultConfig())
	rec := &recorder{}
	l := New(table, event.NewEmitter(rec, "test", nil), DefaultConfig(), nil)

	var tick, seq atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) }
	l.newID = func() string { return fmt.Sprintf("tx-%06d", seq.Add(1)) }
	return l, table, rec
}

// seedUser writes a user profile directly.
func seedUser(t *testing.T, table store.Table, id string, points, lifetime, version int64) {
	t.Helper()
	u := entity.User{
		Keys:           entity.UserKeys(id, id+"@example.com"),
		EntityType:     entity.TypeUser,
		UserID:         id,
		Email:          id + "@example.com",
		Name:           id,
		Points:         points,
		LifetimePoints: lifetime,
		Tier:           entity.TierFor(lifetime),
		Status:         entity.UserActive,
		Version:        version,
	}
	item, err := entity.MarshalItem(u)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	if _, err := table.Put(context.Background(), item); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// itemCount returns the number of items in the table.
func itemCount(t *testing.T, table store.Table) int {
	t.Helper()
	page, err := table.Scan(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return page.Count
}

func mustBalance(t *testing.T, l *Ledger, userID string) *entity.Balance {
	t.Helper()
	b, err := l.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

// cancelTable rejects every transaction, reporting reason on the user
// update, which is the last operation.
type cancelTable struct {
	*store.Memory
	reason   string
	attempts atomic.Int64
}

func (c *cancelTable) TransactWrite(_ context.Context, ops ...store.TxOp) error {
	c.attempts.Add(1)
	reasons := make([]string, len(ops))
	for i := range reasons {
		reasons[i] = store.ReasonNone
	}
	reasons[len(reasons)-1] = c.reason
	return &store.TransactionFailedError{Reasons: reasons, Err: errors.New("transaction cancelled")}
}

// gateTable holds the first n reads of key until all n have happened, so
// concurrent callers start from the same snapshot before any of them writes.
type gateTable struct {
	*store.Memory
	key     store.Key
	n       int
	reads   atomic.Int64
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func newGateTable(key store.Key, n int) *gateTable {
	return &gateTable{
		Memory:  store.NewMemory(store.DefaultConfig()),
		key:     key,
		n:       n,
		release: make(chan struct{}),
	}
}

func (g *gateTable) Get(ctx context.Context, key store.Key) (store.Item, error) {
	item, err := g.Memory.Get(ctx, key)
	if key != g.key {
		return item, err
	}
	g.reads.Add(1)

	g.mu.Lock()
	if g.arrived >= g.n {
		g.mu.Unlock()
		return item, err
	}
	g.arrived++
	if g.arrived == g.n {
		close(g.release)
	}
	g.mu.Unlock()

	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return item, err
}

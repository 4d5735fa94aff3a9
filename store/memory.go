package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Table with the same conditional and
// transactional semantics as Store. It backs unit tests and local runs.
type Memory struct {
	mu     sync.Mutex
	config Config
	items  map[Key]Item
	now    func() time.Time
}

// NewMemory creates an empty in-memory table.
func NewMemory(config Config) *Memory {
	config.validate()
	return &Memory{
		config: config,
		items:  make(map[Key]Item),
		now:    time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key Key) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key].clone(), nil
}

func (m *Memory) Put(_ context.Context, item Item) (Item, error) {
	if err := validateKey(item); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stamped := stamp(item, FormatTime(m.now()))
	m.items[stamped.Key()] = stamped
	return stamped.clone(), nil
}

func (m *Memory) PutIfNotExists(_ context.Context, item Item) (Item, error) {
	if err := validateKey(item); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.Key()]; ok {
		return nil, ErrConflict
	}
	stamped := stamp(item, FormatTime(m.now()))
	m.items[stamped.Key()] = stamped
	return stamped.clone(), nil
}

func (m *Memory) Update(_ context.Context, key Key, attrs Item, conds ...Condition) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if cond := And(conds...); cond != nil && !cond.eval(existing) {
		return nil, ErrConditionFailed
	}

	set := updatable(attrs)
	set[AttrUpdatedAt] = S(FormatTime(m.now()))
	updated := existing.clone()
	applyUpdate(updated, set, nil)
	m.items[key] = updated
	return updated.clone(), nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Query(_ context.Context, partition string, opts QueryOptions) (*Page, error) {
	return m.query("", partition, opts)
}

func (m *Memory) QueryIndex(_ context.Context, index, partition string, opts QueryOptions) (*Page, error) {
	if index == "" {
		return nil, errors.New("store: index name is required")
	}
	return m.query(index, partition, opts)
}

func (m *Memory) query(index, partition string, opts QueryOptions) (*Page, error) {
	pkAttr, skAttr := AttrPK, AttrSK
	if index != "" {
		pkAttr, skAttr = IndexKeyAttrs(index)
	}

	startKey, err := decodeCursor(opts.StartKey)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []Item
	for _, item := range m.items {
		// Items without both index attributes are not projected into the index.
		if _, ok := item[skAttr]; !ok {
			continue
		}
		if item.String(pkAttr) != partition {
			continue
		}
		if opts.SortKeyPrefix != "" && !strings.HasPrefix(item.String(skAttr), opts.SortKeyPrefix) {
			continue
		}
		candidates = append(candidates, item)
	}

	order := func(a, b Item) int {
		if c := strings.Compare(a.String(skAttr), b.String(skAttr)); c != 0 {
			return c
		}
		if c := strings.Compare(a.String(AttrPK), b.String(AttrPK)); c != 0 {
			return c
		}
		return strings.Compare(a.String(AttrSK), b.String(AttrSK))
	}
	sort.Slice(candidates, func(i, j int) bool {
		c := order(candidates[i], candidates[j])
		if opts.Descending {
			return c > 0
		}
		return c < 0
	})

	if startKey != nil {
		after := Item(startKey)
		pos := len(candidates)
		for i, item := range candidates {
			c := order(item, after)
			if (!opts.Descending && c > 0) || (opts.Descending && c < 0) {
				pos = i
				break
			}
		}
		candidates = candidates[pos:]
	}

	evaluated := candidates
	var lastKey string
	if opts.Limit > 0 && len(candidates) > int(opts.Limit) {
		evaluated = candidates[:opts.Limit]
		lastKey, err = encodeCursor(cursorKey(evaluated[len(evaluated)-1], index))
		if err != nil {
			return nil, err
		}
	}

	page := &Page{LastKey: lastKey}
	for _, item := range evaluated {
		if opts.Filter != nil && !opts.Filter.eval(item) {
			continue
		}
		page.Items = append(page.Items, item.clone())
	}
	page.Count = len(page.Items)
	return page, nil
}

func (m *Memory) Scan(_ context.Context, filter Condition, limit int) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]Key, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PK != keys[j].PK {
			return keys[i].PK < keys[j].PK
		}
		return keys[i].SK < keys[j].SK
	})

	page := &Page{}
	for _, k := range keys {
		item := m.items[k]
		if filter != nil && !filter.eval(item) {
			continue
		}
		page.Items = append(page.Items, item.clone())
		if limit > 0 && len(page.Items) >= limit {
			break
		}
	}
	page.Count = len(page.Items)
	return page, nil
}

func (m *Memory) TransactWrite(_ context.Context, ops ...TxOp) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("store: transaction has %d operations, limit is %d", len(ops), MaxTransactItems)
	}

	seen := make(map[Key]bool, len(ops))
	for _, op := range ops {
		k := op.txKey()
		if k.PK == "" || k.SK == "" {
			return errors.New("store: transaction operation is missing a key")
		}
		if seen[k] {
			return fmt.Errorf("store: transaction touches %s/%s more than once", k.PK, k.SK)
		}
		seen[k] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reasons := make([]string, len(ops))
	failed := false
	for i, op := range ops {
		reasons[i] = ReasonNone
		cond, err := txCondition(op)
		if err != nil {
			return err
		}
		if cond == nil {
			continue
		}
		current := m.items[op.txKey()]
		if current == nil {
			current = Item{}
		}
		if !cond.eval(current) {
			reasons[i] = ReasonConditionalCheckFailed
			failed = true
		}
	}
	if failed {
		return &TransactionFailedError{
			Reasons: reasons,
			Err:     errors.New("transaction cancelled"),
		}
	}

	now := FormatTime(m.now())
	for _, op := range ops {
		switch op := op.(type) {
		case TxPut:
			m.items[op.Item.Key()] = stamp(op.Item, now)
		case TxUpdate:
			set := updatable(op.Set)
			set[AttrUpdatedAt] = S(now)
			m.items[op.Key] = m.upsert(op.Key, set, op.Add)
		case TxDelete:
			delete(m.items, op.Key)
		case TxConditionCheck:
		}
	}
	return nil
}

func (m *Memory) Increment(_ context.Context, key Key, attr string, amount int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := m.upsert(key, Item{AttrUpdatedAt: S(FormatTime(m.now()))}, map[string]int64{attr: amount})
	m.items[key] = updated
	return updated.clone(), nil
}

func (m *Memory) Decrement(ctx context.Context, key Key, attr string, amount int64) (Item, error) {
	return m.Increment(ctx, key, attr, -amount)
}

// upsert returns a copy of the item at key, created if missing, with the
// update applied. The caller must hold m.mu.
func (m *Memory) upsert(key Key, set Item, add map[string]int64) Item {
	item := m.items[key].clone()
	if item == nil {
		item = Item{AttrPK: S(key.PK), AttrSK: S(key.SK)}
	}
	applyUpdate(item, set, add)
	return item
}

func txCondition(op TxOp) (Condition, error) {
	switch op := op.(type) {
	case TxPut:
		return op.Condition, nil
	case TxUpdate:
		return op.Condition, nil
	case TxDelete:
		return op.Condition, nil
	case TxConditionCheck:
		if op.Condition == nil {
			return nil, errors.New("store: condition check requires a condition")
		}
		return op.Condition, nil
	}
	return nil, fmt.Errorf("store: unsupported transaction operation %T", op)
}

// cursorKey returns the key attributes DynamoDB would report as the last
// evaluated key of a query on index.
func cursorKey(item Item, index string) Item {
	key := Item{
		AttrPK: item[AttrPK],
		AttrSK: item[AttrSK],
	}
	if index != "" {
		pk, sk := IndexKeyAttrs(index)
		key[pk] = item[pk]
		key[sk] = item[sk]
	}
	return key
}

func validateKey(item Item) error {
	k := item.Key()
	if k.PK == "" || k.SK == "" {
		return errors.New("store: item is missing PK or SK")
	}
	return nil
}

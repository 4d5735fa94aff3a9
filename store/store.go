package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Store provides single-table DynamoDB operations.
type Store struct {
	client Client
	config Config
	now    func() time.Time
}

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// TableName returns the configured table name.
func (s *Store) TableName() string {
	return s.config.TableName
}

// Get retrieves an item by key with a strongly consistent read.
func (s *Store) Get(ctx context.Context, key Key) (Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            key.attributes(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", key.PK, key.SK, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	return Item(result.Item), nil
}

// Put creates or replaces an item.
func (s *Store) Put(ctx context.Context, item Item) (Item, error) {
	return s.put(ctx, item, nil)
}

// PutIfNotExists creates an item, failing with ErrConflict if the key exists.
func (s *Store) PutIfNotExists(ctx context.Context, item Item) (Item, error) {
	return s.put(ctx, item, AttributeNotExists(AttrPK))
}

func (s *Store) put(ctx context.Context, item Item, cond Condition) (Item, error) {
	stamped := stamp(item, FormatTime(s.now()))

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TableName),
		Item:      stamped,
	}
	if cond != nil {
		b := newExprBuilder()
		input.ConditionExpression = aws.String(cond.render(b))
		input.ExpressionAttributeNames = b.attrNames()
		input.ExpressionAttributeValues = b.attrValues()
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("put %s/%s: %w", stamped.String(AttrPK), stamped.String(AttrSK), err)
	}
	return stamped, nil
}

// Update merges attrs into an existing item and returns the full new item.
// Key and timestamp attributes in attrs are ignored; updatedAt is refreshed.
// A false condition returns ErrConditionFailed; a missing item ErrNotFound.
func (s *Store) Update(ctx context.Context, key Key, attrs Item, conds ...Condition) (Item, error) {
	set := updatable(attrs)
	set[AttrUpdatedAt] = S(FormatTime(s.now()))

	b := newExprBuilder()
	updateExpr := b.update(set, nil)
	cond := And(append([]Condition{AttributeExists(AttrPK)}, conds...)...)
	condExpr := cond.render(b)

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.config.TableName),
		Key:                                 key.attributes(),
		UpdateExpression:                    aws.String(updateExpr),
		ConditionExpression:                 aws.String(condExpr),
		ExpressionAttributeNames:            b.attrNames(),
		ExpressionAttributeValues:           b.attrValues(),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			// With ALL_OLD, an empty item means the key itself was missing.
			if len(condErr.Item) == 0 {
				return nil, ErrNotFound
			}
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("update %s/%s: %w", key.PK, key.SK, err)
	}
	return Item(result.Attributes), nil
}

// Delete removes an item unconditionally.
func (s *Store) Delete(ctx context.Context, key Key) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       key.attributes(),
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

// Query reads a partition of the table.
func (s *Store) Query(ctx context.Context, partition string, opts QueryOptions) (*Page, error) {
	return s.query(ctx, "", partition, opts)
}

// QueryIndex reads a partition of a secondary index.
func (s *Store) QueryIndex(ctx context.Context, index, partition string, opts QueryOptions) (*Page, error) {
	if index == "" {
		return nil, errors.New("store: index name is required")
	}
	return s.query(ctx, index, partition, opts)
}

func (s *Store) query(ctx context.Context, index, partition string, opts QueryOptions) (*Page, error) {
	pkAttr, skAttr := AttrPK, AttrSK
	if index != "" {
		pkAttr, skAttr = IndexKeyAttrs(index)
	}

	b := newExprBuilder()
	keyCond := fmt.Sprintf("%s = %s", b.name(pkAttr), b.value(S(partition)))
	if opts.SortKeyPrefix != "" {
		keyCond += " AND " + BeginsWith(skAttr, opts.SortKeyPrefix).render(b)
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.TableName),
		KeyConditionExpression: aws.String(keyCond),
		ScanIndexForward:       aws.Bool(!opts.Descending),
	}
	if opts.Filter != nil {
		input.FilterExpression = aws.String(opts.Filter.render(b))
	}
	input.ExpressionAttributeNames = b.attrNames()
	input.ExpressionAttributeValues = b.attrValues()

	if index != "" {
		input.IndexName = aws.String(index)
	} else {
		input.ConsistentRead = aws.Bool(true)
	}

	startKey, err := decodeCursor(opts.StartKey)
	if err != nil {
		return nil, err
	}
	input.ExclusiveStartKey = startKey

	// A limited query is a single page; an unlimited one reads them all.
	if opts.Limit > 0 {
		input.Limit = aws.Int32(opts.Limit)
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", partition, err)
		}
		return newPage(result.Items, result.LastEvaluatedKey)
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", partition, err)
		}
		items = append(items, page.Items...)
	}
	return newPage(items, nil)
}

// Scan reads the whole table and returns up to limit items matching filter.
// It is a fallback for rare admin paths; its cost grows with the table.
func (s *Store) Scan(ctx context.Context, filter Condition, limit int) (*Page, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.config.TableName),
		Limit:     aws.Int32(s.config.ScanPageSize),
	}
	if filter != nil {
		b := newExprBuilder()
		input.FilterExpression = aws.String(filter.render(b))
		input.ExpressionAttributeNames = b.attrNames()
		input.ExpressionAttributeValues = b.attrValues()
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, page.Items...)
		if limit > 0 && len(items) >= limit {
			items = items[:limit]
			break
		}
	}
	return newPage(items, nil)
}

// TransactWrite applies all operations atomically.
func (s *Store) TransactWrite(ctx context.Context, ops ...TxOp) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("store: transaction has %d operations, limit is %d", len(ops), MaxTransactItems)
	}

	now := FormatTime(s.now())
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		item, err := s.transactItem(op, now)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err, len(ops))
}

// transactItem translates one operation into its DynamoDB form.
func (s *Store) transactItem(op TxOp, now string) (types.TransactWriteItem, error) {
	table := aws.String(s.config.TableName)
	b := newExprBuilder()

	switch op := op.(type) {
	case TxPut:
		put := &types.Put{
			TableName: table,
			Item:      stamp(op.Item, now),
		}
		if op.Condition != nil {
			put.ConditionExpression = aws.String(op.Condition.render(b))
		}
		put.ExpressionAttributeNames = b.attrNames()
		put.ExpressionAttributeValues = b.attrValues()
		return types.TransactWriteItem{Put: put}, nil

	case TxUpdate:
		set := updatable(op.Set)
		set[AttrUpdatedAt] = S(now)
		update := &types.Update{
			TableName:        table,
			Key:              op.Key.attributes(),
			UpdateExpression: aws.String(b.update(set, op.Add)),
		}
		if op.Condition != nil {
			update.ConditionExpression = aws.String(op.Condition.render(b))
		}
		update.ExpressionAttributeNames = b.attrNames()
		update.ExpressionAttributeValues = b.attrValues()
		return types.TransactWriteItem{Update: update}, nil

	case TxDelete:
		del := &types.Delete{
			TableName: table,
			Key:       op.Key.attributes(),
		}
		if op.Condition != nil {
			del.ConditionExpression = aws.String(op.Condition.render(b))
		}
		del.ExpressionAttributeNames = b.attrNames()
		del.ExpressionAttributeValues = b.attrValues()
		return types.TransactWriteItem{Delete: del}, nil

	case TxConditionCheck:
		if op.Condition == nil {
			return types.TransactWriteItem{}, errors.New("store: condition check requires a condition")
		}
		check := &types.ConditionCheck{
			TableName:           table,
			Key:                 op.Key.attributes(),
			ConditionExpression: aws.String(op.Condition.render(b)),
		}
		check.ExpressionAttributeNames = b.attrNames()
		check.ExpressionAttributeValues = b.attrValues()
		return types.TransactWriteItem{ConditionCheck: check}, nil
	}

	return types.TransactWriteItem{}, fmt.Errorf("store: unsupported transaction operation %T", op)
}

// Increment atomically adds amount to attr, treating a missing attribute as 0.
func (s *Store) Increment(ctx context.Context, key Key, attr string, amount int64) (Item, error) {
	b := newExprBuilder()
	updateExpr := b.update(Item{AttrUpdatedAt: S(FormatTime(s.now()))}, map[string]int64{attr: amount})

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.TableName),
		Key:                       key.attributes(),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  b.attrNames(),
		ExpressionAttributeValues: b.attrValues(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("increment %s on %s/%s: %w", attr, key.PK, key.SK, err)
	}
	return Item(result.Attributes), nil
}

// Decrement atomically subtracts amount from attr.
func (s *Store) Decrement(ctx context.Context, key Key, attr string, amount int64) (Item, error) {
	return s.Increment(ctx, key, attr, -amount)
}

// mapTransactionError converts a cancelled transaction into a TransactionFailedError.
func mapTransactionError(err error, numOps int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		reasons := make([]string, numOps)
		for i := range reasons {
			reasons[i] = ReasonNone
		}
		for i, reason := range txErr.CancellationReasons {
			if i < numOps && reason.Code != nil {
				reasons[i] = *reason.Code
			}
		}
		return &TransactionFailedError{Reasons: reasons, Err: err}
	}

	return fmt.Errorf("transact write: %w", err)
}

// stamp copies item, setting updatedAt and a missing createdAt to now.
func stamp(item Item, now string) Item {
	c := item.clone()
	if c == nil {
		c = Item{}
	}
	if _, ok := c[AttrCreatedAt]; !ok {
		c[AttrCreatedAt] = S(now)
	}
	c[AttrUpdatedAt] = S(now)
	return c
}

func newPage(raw []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue) (*Page, error) {
	items := make([]Item, len(raw))
	for i, r := range raw {
		items[i] = Item(r)
	}
	cursor, err := encodeCursor(lastKey)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Count: len(items), LastKey: cursor}, nil
}

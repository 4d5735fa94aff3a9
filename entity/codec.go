package entity

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/loyalty/store"
)

// MarshalItem converts an entity into a table item.
func MarshalItem(v any) (store.Item, error) {
	av, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return store.Item(av), nil
}

// UnmarshalItem decodes a table item into an entity.
func UnmarshalItem(item store.Item, v any) error {
	if err := attributevalue.UnmarshalMap(item, v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return nil
}

// UnmarshalItems decodes a page of items.
func UnmarshalItems[T any](items []store.Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := UnmarshalItem(item, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

package recordstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore implements Store on DynamoDB global secondary indexes.
type DynamoStore struct {
	client DynamoAPI
}

// NewDynamoStore wraps a DynamoDB client.
func NewDynamoStore(client DynamoAPI) *DynamoStore {
	return &DynamoStore{client: client}
}

func (s *DynamoStore) Query(ctx context.Context, q Query) (Page, error) {
	input, err := buildQueryInput(q)
	if err != nil {
		return Page{}, err
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return Page{}, fmt.Errorf("dynamodb query %s/%s: %w", q.Table, q.Index, err)
	}

	page := Page{Count: int(out.Count), Items: make([]Item, 0, len(out.Items))}
	for _, raw := range out.Items {
		var item map[string]any
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return Page{}, fmt.Errorf("decode item: %w", err)
		}
		page.Items = append(page.Items, Item(item))
	}
	if len(out.LastEvaluatedKey) > 0 {
		var next map[string]any
		if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &next); err != nil {
			return Page{}, fmt.Errorf("decode last evaluated key: %w", err)
		}
		page.Next = Cursor(next)
	}
	return page, nil
}

func (s *DynamoStore) Put(ctx context.Context, table string, item Item) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("dynamodb put %s: %w", table, err)
	}
	return nil
}

// buildQueryInput translates a Query into a DynamoDB QueryInput. The filter
// value keeps its Go type, so a string filter becomes an S attribute and a
// bool filter a BOOL attribute.
func buildQueryInput(q Query) (*dynamodb.QueryInput, error) {
	if q.Table == "" {
		return nil, fmt.Errorf("query table is required")
	}
	if len(q.Keys) == 0 {
		return nil, fmt.Errorf("query on %s needs at least one key condition", q.Table)
	}

	keyCond := expression.Key(q.Keys[0].Name).Equal(expression.Value(q.Keys[0].Value))
	for _, k := range q.Keys[1:] {
		keyCond = keyCond.And(expression.Key(k.Name).Equal(expression.Value(k.Value)))
	}
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if q.Filter != nil {
		builder = builder.WithFilter(expression.Name(q.Filter.Name).Equal(expression.Value(q.Filter.Value)))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(q.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if q.Cursor != nil {
		start, err := attributevalue.MarshalMap(map[string]any(q.Cursor))
		if err != nil {
			return nil, fmt.Errorf("encode cursor: %w", err)
		}
		input.ExclusiveStartKey = start
	}
	return input, nil
}

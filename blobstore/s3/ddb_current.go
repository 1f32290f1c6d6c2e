package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentModification is returned when a concurrent CURRENT update is
// detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// ErrNoCurrent is returned when no CURRENT pointer has been committed yet.
var ErrNoCurrent = errors.New("no current snapshot committed")

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// CurrentPointer maintains the remote CURRENT snapshot pointer in DynamoDB.
//
// S3 has no compare-and-swap, so pushing snapshots from multiple writers can
// race on the pointer. DynamoDB conditional writes provide the missing CAS:
// every commit carries the version it read, and a stale commit fails with
// ErrConcurrentModification instead of silently overwriting.
//
// Table schema:
//   - Partition key: store_uri (string) - the S3 bucket/prefix
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name retrago-current \
//	  --attribute-definitions AttributeName=store_uri,AttributeType=S \
//	  --key-schema AttributeName=store_uri,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type CurrentPointer struct {
	client    DDBClient
	tableName string
	storeURI  string
}

// NewCurrentPointer creates a CURRENT pointer for one remote store.
// storeURI should be the "s3://bucket/prefix" the pointer guards.
func NewCurrentPointer(client DDBClient, tableName, storeURI string) *CurrentPointer {
	return &CurrentPointer{
		client:    client,
		tableName: tableName,
		storeURI:  storeURI,
	}
}

// Get returns the current snapshot id and the pointer version to pass to the
// next Commit.
func (p *CurrentPointer) Get(ctx context.Context) (snapshotID string, version uint64, err error) {
	resp, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"store_uri": &types.AttributeValueMemberS{Value: p.storeURI},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", 0, fmt.Errorf("get current pointer: %w", err)
	}
	if resp.Item == nil {
		return "", 0, ErrNoCurrent
	}

	idAttr, ok := resp.Item["snapshot_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", 0, errors.New("invalid snapshot_id attribute in DynamoDB")
	}
	versionAttr, ok := resp.Item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return "", 0, errors.New("invalid version attribute in DynamoDB")
	}
	version, err = strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid version value in DynamoDB: %w", err)
	}
	return idAttr.Value, version, nil
}

// Commit atomically points CURRENT at snapshotID. expectedVersion must be the
// version returned by Get, or 0 for the initial commit. A version conflict
// returns ErrConcurrentModification.
func (p *CurrentPointer) Commit(ctx context.Context, snapshotID string, expectedVersion uint64) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item: map[string]types.AttributeValue{
			"store_uri":   &types.AttributeValueMemberS{Value: p.storeURI},
			"snapshot_id": &types.AttributeValueMemberS{Value: snapshotID},
			"version":     &types.AttributeValueMemberN{Value: strconv.FormatUint(expectedVersion+1, 10)},
		},
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(store_uri)")
	} else {
		input.ConditionExpression = aws.String("version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatUint(expectedVersion, 10)},
		}
	}

	_, err := p.client.PutItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
		}
		return fmt.Errorf("commit current pointer: %w", err)
	}
	return nil
}

// Clear removes the pointer, e.g. after deleting the last remote snapshot.
func (p *CurrentPointer) Clear(ctx context.Context) error {
	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"store_uri": &types.AttributeValueMemberS{Value: p.storeURI},
		},
	})
	return err
}

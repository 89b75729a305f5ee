// Package checkpoint stores per-replica replication progress in DynamoDB.
//
// A batching sink records the last log sequence number a downstream replica
// has durably applied, so a restarted sink resumes without re-uploading
// batches the replica already holds. DynamoDB's conditional writes give the
// monotonicity guarantee S3-style object stores lack.
//
// Table schema:
//   - Partition key: replica_id (string)
//   - Attribute: lsn (number)
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name objcore-checkpoints \
//	  --attribute-definitions AttributeName=replica_id,AttributeType=S \
//	  --key-schema AttributeName=replica_id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrStaleCheckpoint is returned when a save would move a replica's
// checkpoint backwards.
var ErrStaleCheckpoint = errors.New("checkpoint: stale lsn")

// ErrNotFound is returned when a replica has no recorded checkpoint.
var ErrNotFound = errors.New("checkpoint: not found")

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store reads and advances replica checkpoints.
type Store struct {
	client    Client
	tableName string
}

// NewStore creates a checkpoint store over an existing DynamoDB client.
func NewStore(client Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Save records lsn as replicaID's checkpoint. The write is conditional on
// the stored lsn being smaller, so concurrent writers can only move a
// checkpoint forward.
func (s *Store) Save(ctx context.Context, replicaID string, lsn uint64) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"replica_id": &types.AttributeValueMemberS{Value: replicaID},
			"lsn":        &types.AttributeValueMemberN{Value: strconv.FormatUint(lsn, 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(lsn) OR lsn < :lsn"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lsn": &types.AttributeValueMemberN{Value: strconv.FormatUint(lsn, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: replica %s at or past %d", ErrStaleCheckpoint, replicaID, lsn)
		}
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	return nil
}

// Load returns replicaID's last saved checkpoint.
func (s *Store) Load(ctx context.Context, replicaID string) (uint64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"replica_id": &types.AttributeValueMemberS{Value: replicaID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("checkpoint: load: %w", err)
	}
	if out.Item == nil {
		return 0, fmt.Errorf("%w: replica %s", ErrNotFound, replicaID)
	}
	n, ok := out.Item["lsn"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("checkpoint: malformed item for replica %s", replicaID)
	}
	lsn, err := strconv.ParseUint(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: malformed lsn: %w", err)
	}
	return lsn, nil
}

// Delete removes replicaID's checkpoint.
func (s *Store) Delete(ctx context.Context, replicaID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"replica_id": &types.AttributeValueMemberS{Value: replicaID},
		},
	})
	if err != nil {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

package checkpoint

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDDB implements Client in memory with the conditional-write semantics
// the store relies on.
type fakeDDB struct {
	items map[string]string // replica_id → lsn
}

func newFakeDDB() *fakeDDB { return &fakeDDB{items: make(map[string]string)} }

func (f *fakeDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := in.Item["replica_id"].(*types.AttributeValueMemberS).Value
	lsn := in.Item["lsn"].(*types.AttributeValueMemberN).Value
	if cur, ok := f.items[id]; ok && in.ConditionExpression != nil {
		want := in.ExpressionAttributeValues[":lsn"].(*types.AttributeValueMemberN).Value
		if len(cur) > len(want) || (len(cur) == len(want) && cur >= want) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[id] = lsn
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := in.Key["replica_id"].(*types.AttributeValueMemberS).Value
	lsn, ok := f.items[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"replica_id": &types.AttributeValueMemberS{Value: id},
		"lsn":        &types.AttributeValueMemberN{Value: lsn},
	}}, nil
}

func (f *fakeDDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	id := in.Key["replica_id"].(*types.AttributeValueMemberS).Value
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestSaveLoad(t *testing.T) {
	store := NewStore(newFakeDDB(), "checkpoints")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "replica-1", 10))
	lsn, err := store.Load(ctx, "replica-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), lsn)
}

func TestSaveIsMonotonic(t *testing.T) {
	store := NewStore(newFakeDDB(), "checkpoints")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "r", 10))
	require.NoError(t, store.Save(ctx, "r", 11))
	assert.ErrorIs(t, store.Save(ctx, "r", 5), ErrStaleCheckpoint)
	assert.ErrorIs(t, store.Save(ctx, "r", 11), ErrStaleCheckpoint)

	lsn, err := store.Load(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), lsn)
}

func TestLoadMissing(t *testing.T) {
	store := NewStore(newFakeDDB(), "checkpoints")
	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	store := NewStore(newFakeDDB(), "checkpoints")
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "r", 1))
	require.NoError(t, store.Delete(ctx, "r"))
	_, err := store.Load(ctx, "r")
	assert.ErrorIs(t, err, ErrNotFound)
}

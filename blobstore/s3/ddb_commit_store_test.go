package s3

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/sparsego/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeDDB is an in-memory commit table honouring attribute_not_exists.
type fakeDDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	uri := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := uri + ":" + version

	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := f.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	f.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	uri := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range f.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == uri {
			items = append(items, item)
		}
	}
	version := func(i int) uint64 {
		v, _ := strconv.ParseUint(items[i]["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		return v
	}
	sort.Slice(items, func(i, j int) bool { return version(i) > version(j) })

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func newTestCommitStore(ddb *fakeDDB, baseURI string) (*DDBCommitStore, *MockS3Client) {
	client := new(MockS3Client)
	return NewDDBCommitStore(NewStore(client, "test-bucket", "test/"), ddb, "sparsego-commits", baseURI), client
}

func readCurrent(t *testing.T, store blobstore.BlobStore) string {
	t.Helper()
	data, err := blobstore.ReadAll(context.Background(), store, "CURRENT")
	require.NoError(t, err)
	return string(data)
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	store, _ := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(context.Background(), "CURRENT", []byte("MANIFEST-000001.bin")))
	assert.Equal(t, "MANIFEST-000001.bin", readCurrent(t, store))
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test/")

	for i := 1; i <= 12; i++ {
		require.NoError(t, store.Put(ctx, "CURRENT", []byte(fmt.Sprintf("MANIFEST-%06d.bin", i))))
	}
	assert.Equal(t, "MANIFEST-000012.bin", readCurrent(t, store))
}

func TestDDBCommitStore_CreateCommitsOnClose(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test/")

	w, err := store.Create(ctx, "CURRENT")
	require.NoError(t, err)
	_, err = w.Write([]byte("MANIFEST-000007.bin"))
	require.NoError(t, err)

	_, err = store.Open(ctx, "CURRENT")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, w.Close())
	assert.Equal(t, "MANIFEST-000007.bin", readCurrent(t, store))
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Put(ctx, "CURRENT", []byte(fmt.Sprintf("MANIFEST-%06d.bin", id+2)))
			if err != nil {
				assert.ErrorIs(t, err, ErrConcurrentModification)
				return
			}
			mu.Lock()
			successes++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Positive(t, successes)
}

func TestDDBCommitStore_NotFoundBeforeCommit(t *testing.T) {
	store, _ := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test/")

	_, err := store.Open(context.Background(), "CURRENT")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()

	a, _ := newTestCommitStore(ddb, "s3://bucket-a/path/")
	b, _ := newTestCommitStore(ddb, "s3://bucket-b/path/")

	require.NoError(t, a.Put(ctx, "CURRENT", []byte("MANIFEST-A.bin")))
	require.NoError(t, b.Put(ctx, "CURRENT", []byte("MANIFEST-B.bin")))

	assert.Equal(t, "MANIFEST-A.bin", readCurrent(t, a))
	assert.Equal(t, "MANIFEST-B.bin", readCurrent(t, b))
}

func TestDDBCommitStore_ListIncludesCurrent(t *testing.T) {
	ctx := context.Background()
	store, client := newTestCommitStore(newFakeDDB(), "s3://test-bucket/test/")

	client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(&s3.ListObjectsV2Output{
		Contents: []s3types.Object{
			{Key: aws.String("test/MANIFEST-000001.bin")},
			{Key: aws.String("test/segment_000001.sps")},
		},
	}, nil)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"MANIFEST-000001.bin", "segment_000001.sps"}, names)

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")))

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CURRENT", "MANIFEST-000001.bin", "segment_000001.sps"}, names)
}

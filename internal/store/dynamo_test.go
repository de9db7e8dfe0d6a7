package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/storagecost/internal/model"
)

// fakeDynamo is a map-backed table understanding the expressions DynamoStore issues.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	queries  int
	failGet  error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func itemID(k map[string]types.AttributeValue) string {
	pk, _ := stringAttr(k, attrPK)
	sk, _ := stringAttr(k, attrSK)
	return pk + "|" + sk
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	item, ok := f.items[itemID(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := itemID(in.Item)
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(pk)" {
		if _, ok := f.items[id]; ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	}
	f.items[id] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	name := in.ExpressionAttributeNames["#a"]
	switch aws.ToString(in.UpdateExpression) {
	case "SET #a = :v":
		item[name] = in.ExpressionAttributeValues[":v"]
	case "REMOVE #a":
		delete(item, name)
	default:
		return nil, errors.New("unsupported update expression")
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	pk, _ := stringAttr(in.ExpressionAttributeValues, ":pk")

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if p, _ := stringAttr(item, attrPK); p == pk {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		sa, _ := stringAttr(matched[a], attrSK)
		sb, _ := stringAttr(matched[b], attrSK)
		return sa < sb
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		after, _ := stringAttr(in.ExclusiveStartKey, attrSK)
		for start < len(matched) {
			if sk, _ := stringAttr(matched[start], attrSK); sk > after {
				break
			}
			start++
		}
	}
	end := min(start+f.pageSize, len(matched))
	out := &dynamodb.QueryOutput{}
	for _, item := range matched[start:end] {
		out.Items = append(out.Items, copyItem(item))
	}
	if end < len(matched) {
		lastSK, _ := stringAttr(matched[end-1], attrSK)
		out.LastEvaluatedKey = key(pk, lastSK)
	}
	return out, nil
}

func TestDynamoVolumesPaginated(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "storagecost")

	for _, id := range []string{"v3", "v1", "v2", "v4"} {
		require.NoError(t, s.PutVolume(ctx, model.VolumeRecord{ID: id, JobID: "job-1", ProvisionedGiB: 100}))
	}

	vols, err := s.GetVolumesByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, vols, 4)
	assert.Equal(t, []string{"v1", "v2", "v3", "v4"}, []string{vols[0].ID, vols[1].ID, vols[2].ID, vols[3].ID})
	assert.Equal(t, 3, fake.queries)

	_, err = s.GetVolumesByJob(ctx, "job-9")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDynamoVolumeAttributes(t *testing.T) {
	ctx := context.Background()
	s := NewDynamoStore(newFakeDynamo(), "storagecost")
	require.NoError(t, s.PutVolume(ctx, model.VolumeRecord{ID: "v1", JobID: "job-1", CoolAccessEnabled: true}))

	require.NoError(t, s.SaveCostAnalysis(ctx, "job-1", "v1", model.VolumeCostEstimate{TotalEstimatedCost: 7.25}))
	require.NoError(t, s.SetVolumeAssumptionOverride(ctx, "job-1", "v1", &model.AssumptionOverride{
		CoolDataPercentage: pct(40), CoolDataRetrievalPercentage: pct(2),
	}))

	v, err := s.GetVolume(ctx, "job-1", "v1")
	require.NoError(t, err)
	assert.True(t, v.CoolAccessEnabled)
	assert.True(t, v.Pinned())
	require.NotNil(t, v.CostAnalysis)
	assert.InDelta(t, 7.25, v.CostAnalysis.TotalEstimatedCost, 1e-9)

	require.NoError(t, s.SetVolumeAssumptionOverride(ctx, "job-1", "v1", nil))
	v, err = s.GetVolume(ctx, "job-1", "v1")
	require.NoError(t, err)
	assert.Nil(t, v.AssumptionOverride)

	assert.ErrorIs(t, s.SaveCostAnalysis(ctx, "job-1", "v2", model.VolumeCostEstimate{}), model.ErrNotFound)
	_, err = s.GetVolume(ctx, "job-1", "v2")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDynamoJobOverride(t *testing.T) {
	ctx := context.Background()
	s := NewDynamoStore(newFakeDynamo(), "storagecost")
	require.NoError(t, s.PutJob(ctx, "job-1"))
	require.NoError(t, s.PutJob(ctx, "job-1"))

	o, err := s.GetJobAssumptionOverride(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, o)

	require.NoError(t, s.SetJobAssumptionOverride(ctx, "job-1", model.AssumptionOverride{
		CoolDataPercentage: pct(55), CoolDataRetrievalPercentage: pct(12), ModifiedBy: "carol",
	}))
	o, err = s.GetJobAssumptionOverride(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, o.Complete())
	assert.InDelta(t, 55.0, *o.CoolDataPercentage, 1e-9)
	assert.Equal(t, "carol", o.ModifiedBy)

	require.NoError(t, s.ClearJobAssumptionOverride(ctx, "job-1"))
	require.NoError(t, s.ClearJobAssumptionOverride(ctx, "job-1"))
	o, err = s.GetJobAssumptionOverride(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, o)

	assert.ErrorIs(t, s.ClearJobAssumptionOverride(ctx, "job-2"), model.ErrNotFound)
	assert.ErrorIs(t, s.SetJobAssumptionOverride(ctx, "job-2", model.AssumptionOverride{}), model.ErrNotFound)
	_, err = s.GetJobAssumptionOverride(ctx, "job-2")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDynamoGlobalAssumptions(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "storagecost")

	g, err := s.GetGlobalAssumptions(ctx)
	require.NoError(t, err)
	assert.Nil(t, g)

	require.NoError(t, s.SetGlobalAssumptions(ctx, model.CoolDataAssumptions{
		CoolDataPercentage: 75, CoolDataRetrievalPercentage: 20, Source: model.SourceGlobal,
	}))
	g, err = s.GetGlobalAssumptions(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.InDelta(t, 75.0, g.CoolDataPercentage, 1e-9)

	fake.failGet = errors.New("throttled")
	_, err = s.GetGlobalAssumptions(ctx)
	assert.ErrorContains(t, err, "throttled")
	assert.NotErrorIs(t, err, model.ErrNotFound)
}

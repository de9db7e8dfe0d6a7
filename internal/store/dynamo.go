package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goccy/go-json"

	"github.com/rshade/storagecost/internal/model"
)

// Single-table layout. Every item is keyed by pk/sk and records are stored
// as JSON documents. Overrides and analyses live in their own attributes so
// they can be updated in place.
const (
	attrPK           = "pk"
	attrSK           = "sk"
	attrData         = "data"
	attrOverride     = "assumptionOverride"
	attrCostAnalysis = "costAnalysis"

	globalPK       = "GLOBAL"
	globalSK       = "ASSUMPTIONS"
	jobPKPrefix    = "JOB#"
	jobSK          = "JOB"
	volumeSKPrefix = "VOLUME#"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore persists jobs, volumes and assumptions in one DynamoDB table
// with a string partition key "pk" and sort key "sk".
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore creates a store over an existing client.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// OpenDynamo loads the default AWS configuration for region and returns a store for table.
func OpenDynamo(ctx context.Context, table, region string) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return key(jobPKPrefix+jobID, jobSK)
}

func volumeKey(jobID, volumeID string) map[string]types.AttributeValue {
	return key(jobPKPrefix+jobID, volumeSKPrefix+volumeID)
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	s, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

func decodeAttr(item map[string]types.AttributeValue, name string, v any) (bool, error) {
	raw, ok := stringAttr(item, name)
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func jsonAttr(v any) (types.AttributeValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberS{Value: string(data)}, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// PutJob creates the job item if it does not exist.
func (s *DynamoStore) PutJob(ctx context.Context, jobID string) error {
	item := jobKey(jobID)
	item[attrData] = &types.AttributeValueMemberS{Value: fmt.Sprintf(`{"id":%q}`, jobID)}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("put job %s: %w", jobID, err)
	}
	return nil
}

// PutVolume stores a volume record, creating its job item when needed.
func (s *DynamoStore) PutVolume(ctx context.Context, rec model.VolumeRecord) error {
	if err := s.PutJob(ctx, rec.JobID); err != nil {
		return err
	}
	item := volumeKey(rec.JobID, rec.ID)
	override, analysis := rec.AssumptionOverride, rec.CostAnalysis
	rec.AssumptionOverride, rec.CostAnalysis = nil, nil
	data, err := jsonAttr(rec)
	if err != nil {
		return fmt.Errorf("encode volume %s: %w", rec.ID, err)
	}
	item[attrData] = data
	if override != nil {
		if item[attrOverride], err = jsonAttr(override); err != nil {
			return fmt.Errorf("encode volume %s override: %w", rec.ID, err)
		}
	}
	if analysis != nil {
		if item[attrCostAnalysis], err = jsonAttr(analysis); err != nil {
			return fmt.Errorf("encode volume %s analysis: %w", rec.ID, err)
		}
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put volume %s: %w", rec.ID, err)
	}
	return nil
}

func decodeVolume(item map[string]types.AttributeValue) (model.VolumeRecord, error) {
	var rec model.VolumeRecord
	if _, err := decodeAttr(item, attrData, &rec); err != nil {
		return rec, err
	}
	var o model.AssumptionOverride
	if ok, err := decodeAttr(item, attrOverride, &o); err != nil {
		return rec, err
	} else if ok {
		rec.AssumptionOverride = &o
	}
	var est model.VolumeCostEstimate
	if ok, err := decodeAttr(item, attrCostAnalysis, &est); err != nil {
		return rec, err
	} else if ok {
		rec.CostAnalysis = &est
	}
	return rec, nil
}

// GetVolumesByJob queries the job partition and returns its volumes ordered by id.
func (s *DynamoStore) GetVolumesByJob(ctx context.Context, jobID string) ([]model.VolumeRecord, error) {
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: jobPKPrefix + jobID},
		},
	})

	var (
		found   bool
		volumes []model.VolumeRecord
	)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query job %s: %w", jobID, err)
		}
		for _, item := range page.Items {
			sk, _ := stringAttr(item, attrSK)
			switch {
			case sk == jobSK:
				found = true
			case strings.HasPrefix(sk, volumeSKPrefix):
				rec, err := decodeVolume(item)
				if err != nil {
					return nil, fmt.Errorf("volume %s: %w", strings.TrimPrefix(sk, volumeSKPrefix), err)
				}
				volumes = append(volumes, rec)
			}
		}
	}
	if !found {
		return nil, model.NotFoundf("job %s", jobID)
	}
	sort.Slice(volumes, func(a, b int) bool { return volumes[a].ID < volumes[b].ID })
	return volumes, nil
}

// GetVolume reads one volume item.
func (s *DynamoStore) GetVolume(ctx context.Context, jobID, volumeID string) (model.VolumeRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            volumeKey(jobID, volumeID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.VolumeRecord{}, fmt.Errorf("get volume %s: %w", volumeID, err)
	}
	if len(out.Item) == 0 {
		return model.VolumeRecord{}, model.NotFoundf("volume %s in job %s", volumeID, jobID)
	}
	return decodeVolume(out.Item)
}

// setAttr sets or removes one JSON attribute on an existing item.
func (s *DynamoStore) setAttr(ctx context.Context, k map[string]types.AttributeValue, name string, v any, what string) error {
	in := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      k,
		ConditionExpression:      aws.String("attribute_exists(pk)"),
		ExpressionAttributeNames: map[string]string{"#a": name},
	}
	if v == nil {
		in.UpdateExpression = aws.String("REMOVE #a")
	} else {
		av, err := jsonAttr(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		in.UpdateExpression = aws.String("SET #a = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":v": av}
	}
	if _, err := s.client.UpdateItem(ctx, in); err != nil {
		if isConditionFailed(err) {
			return model.NotFoundf("%s", what)
		}
		return fmt.Errorf("update %s: %w", what, err)
	}
	return nil
}

// SaveCostAnalysis stores est on the volume item.
func (s *DynamoStore) SaveCostAnalysis(ctx context.Context, jobID, volumeID string, est model.VolumeCostEstimate) error {
	return s.setAttr(ctx, volumeKey(jobID, volumeID), attrCostAnalysis, est, fmt.Sprintf("volume %s in job %s", volumeID, jobID))
}

// SetVolumeAssumptionOverride replaces the volume override; nil clears it.
func (s *DynamoStore) SetVolumeAssumptionOverride(ctx context.Context, jobID, volumeID string, o *model.AssumptionOverride) error {
	var v any
	if o != nil {
		v = o
	}
	return s.setAttr(ctx, volumeKey(jobID, volumeID), attrOverride, v, fmt.Sprintf("volume %s in job %s", volumeID, jobID))
}

// GetJobAssumptionOverride reads the override stored on the job item.
func (s *DynamoStore) GetJobAssumptionOverride(ctx context.Context, jobID string) (*model.AssumptionOverride, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            jobKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, model.NotFoundf("job %s", jobID)
	}
	var o model.AssumptionOverride
	ok, err := decodeAttr(out.Item, attrOverride, &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

// SetJobAssumptionOverride stores the override on the job item.
func (s *DynamoStore) SetJobAssumptionOverride(ctx context.Context, jobID string, o model.AssumptionOverride) error {
	return s.setAttr(ctx, jobKey(jobID), attrOverride, o, "job "+jobID)
}

// ClearJobAssumptionOverride removes the override from the job item.
func (s *DynamoStore) ClearJobAssumptionOverride(ctx context.Context, jobID string) error {
	return s.setAttr(ctx, jobKey(jobID), attrOverride, nil, "job "+jobID)
}

// GetGlobalAssumptions reads the singleton record, nil when absent.
func (s *DynamoStore) GetGlobalAssumptions(ctx context.Context) (*model.CoolDataAssumptions, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(globalPK, globalSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get global assumptions: %w", err)
	}
	var a model.CoolDataAssumptions
	ok, err := decodeAttr(out.Item, attrData, &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

// SetGlobalAssumptions overwrites the singleton record. Concurrent writers
// resolve as last write wins.
func (s *DynamoStore) SetGlobalAssumptions(ctx context.Context, a model.CoolDataAssumptions) error {
	item := key(globalPK, globalSK)
	data, err := jsonAttr(a)
	if err != nil {
		return fmt.Errorf("encode global assumptions: %w", err)
	}
	item[attrData] = data
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put global assumptions: %w", err)
	}
	return nil
}

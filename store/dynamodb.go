package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBStore implements fairiagent.CheckpointStore using AWS DynamoDB
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

var (
	_ fairiagent.CheckpointStore = (*DynamoDBStore)(nil)
	_ fairiagent.VersionLister   = (*DynamoDBStore)(nil)
	_ fairiagent.SessionLister   = (*DynamoDBStore)(nil)
)

// DynamoDBOption configures the DynamoDB store
type DynamoDBOption func(*DynamoDBStore)

// WithTTL expires checkpoint items the given duration after they are written
func WithTTL(ttl time.Duration) DynamoDBOption {
	return func(s *DynamoDBStore) {
		s.ttl = ttl
	}
}

// NewDynamoDBStore creates a new DynamoDB-backed checkpoint store
func NewDynamoDBStore(client DynamoDBClient, tableName string, opts ...DynamoDBOption) *DynamoDBStore {
	s := &DynamoDBStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkpointItem is the stored shape of both version items and the latest pointer
type checkpointItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"entity_type"`
	SessionID  string `dynamodbav:"session_id"`
	Version    int    `dynamodbav:"version"`
	Status     string `dynamodbav:"status"`
	Data       string `dynamodbav:"data"`
	CreatedAt  string `dynamodbav:"created_at"`
	GSI1PK     string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK     string `dynamodbav:"GSI1SK,omitempty"`
	TTL        int64  `dynamodbav:"ttl,omitempty"`
}

func (s *DynamoDBStore) Save(ctx context.Context, sessionID string, state *fairiagent.WorkflowState) (*fairiagent.CheckpointRecord, error) {
	rec, data, err := encode(sessionID, state, s.now)
	if err != nil {
		return nil, err
	}

	base := checkpointItem{
		PK:        sessionPK(sessionID),
		SessionID: sessionID,
		Version:   rec.Version,
		Status:    string(rec.State.Status),
		Data:      string(data),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.ttl > 0 {
		base.TTL = rec.CreatedAt.Add(s.ttl).Unix()
	}

	versionItem := base
	versionItem.SK = versionSK(rec.Version)
	versionItem.EntityType = EntityTypeCheckpoint

	latestItem := base
	latestItem.SK = latestSK()
	latestItem.EntityType = EntityTypeLatest
	latestItem.GSI1PK = statusGSI1PK(string(rec.State.Status))
	latestItem.GSI1SK = base.CreatedAt

	vItem, err := attributevalue.MarshalMap(versionItem)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint version: %w", err)
	}
	lItem, err := attributevalue.MarshalMap(latestItem)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal latest checkpoint: %w", err)
	}

	// Version items are write-once and the latest pointer only moves forward
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                aws.String(s.tableName),
					Item:                     vItem,
					ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
					ExpressionAttributeNames: map[string]string{"#pk": AttrPK},
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                lItem,
					ConditionExpression: aws.String("attribute_not_exists(#pk) OR #version < :version"),
					ExpressionAttributeNames: map[string]string{
						"#pk":      AttrPK,
						"#version": AttrVersion,
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.Version)},
					},
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailed(tce) {
			return nil, fmt.Errorf("%w: session %s version %d", ErrVersionConflict, sessionID, rec.Version)
		}
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return rec, nil
}

func conditionFailed(tce *types.TransactionCanceledException) bool {
	for _, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func (s *DynamoDBStore) Load(ctx context.Context, sessionID string) (*fairiagent.CheckpointRecord, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			AttrPK: &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			AttrSK: &types.AttributeValueMemberS{Value: latestSK()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}

	var item checkpointItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, &fairiagent.CheckpointCorruptionError{SessionID: sessionID, Reason: "undecodable item", Err: err}
	}

	return decode(sessionID, []byte(item.Data))
}

func (s *DynamoDBStore) ListVersions(ctx context.Context, sessionID string) ([]int, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	var versions []int
	var startKey map[string]types.AttributeValue

	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("#pk = :pk AND begins_with(#sk, :prefix)"),
			ExpressionAttributeNames: map[string]string{
				"#pk":      AttrPK,
				"#sk":      AttrSK,
				"#version": AttrVersion,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: versionSKPrefix()},
			},
			ProjectionExpression: aws.String("#version"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query checkpoint versions: %w", err)
		}

		for _, raw := range result.Items {
			var item checkpointItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal checkpoint version: %w", err)
			}
			versions = append(versions, item.Version)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: session %s", fairiagent.ErrCheckpointNotFound, sessionID)
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *DynamoDBStore) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string

	for _, status := range []fairiagent.SessionStatus{
		fairiagent.SessionStatusRunning,
		fairiagent.SessionStatusCompleted,
		fairiagent.SessionStatusFailed,
	} {
		sessions, err := s.ListSessionsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		ids = append(ids, sessions...)
	}

	sort.Strings(ids)
	return ids, nil
}

// ListSessionsByStatus queries the status index for sessions whose latest
// checkpoint has the given status
func (s *DynamoDBStore) ListSessionsByStatus(ctx context.Context, status fairiagent.SessionStatus) ([]string, error) {
	var ids []string
	var startKey map[string]types.AttributeValue

	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(IndexStatusIndex),
			KeyConditionExpression: aws.String("#gsi1pk = :gsi1pk"),
			ExpressionAttributeNames: map[string]string{
				"#gsi1pk":  AttrGSI1PK,
				"#session": "session_id",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":gsi1pk": &types.AttributeValueMemberS{Value: statusGSI1PK(string(status))},
			},
			ProjectionExpression: aws.String("#session"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query sessions by status: %w", err)
		}

		for _, raw := range result.Items {
			var item checkpointItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal session item: %w", err)
			}
			ids = append(ids, item.SessionID)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return ids, nil
}

package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/callvault/quosync/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// integrationIndex is the GSI keyed by integrationId with updatedAt as the
// sort key.
const integrationIndex = "integrationId-updatedAt-index"

// DynamoStore persists processes to DynamoDB. Counter updates use ADD
// expressions and state changes use condition expressions, so concurrent
// workers never lose writes.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("process: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("process: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Create inserts a new process record.
func (s *DynamoStore) Create(ctx context.Context, p *Process) (*Process, error) {
	if p == nil {
		return nil, errors.New("process: process cannot be nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Type == "" {
		p.Type = ProcessTypeCRMSync
	}
	if p.State == "" {
		p.State = StateInitializing
	}
	if p.Context.StartTime == "" {
		p.Context.StartTime = now
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("process: failed to marshal process: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("process: failed to persist process: %w", err)
	}
	return p, nil
}

// GetByID fetches a process by ID.
func (s *DynamoStore) GetByID(ctx context.Context, id string) (*Process, error) {
	if id == "" {
		return nil, errors.New("process: id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       processKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("process: failed to fetch process %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrProcessNotFound
	}

	var p Process
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("process: failed to decode process %s: %w", id, err)
	}
	return &p, nil
}

// UpdateState performs a guarded transition. The condition lists every state
// from which the new state is reachable; when it fails we re-read to decide
// between a harmless repeat and an illegal jump.
func (s *DynamoStore) UpdateState(ctx context.Context, id string, newState State) error {
	if id == "" {
		return errors.New("process: id required")
	}

	preds := legalPredecessors(newState)
	if len(preds) == 0 && newState != StateInitializing {
		return fmt.Errorf("%w: nothing transitions into %s", ErrIllegalTransition, newState)
	}

	values := map[string]types.AttributeValue{
		":new":     &types.AttributeValueMemberS{Value: string(newState)},
		":updated": nowAttr(),
	}
	condition := "#state IN ("
	for i, pred := range preds {
		ph := fmt.Sprintf(":s%d", i)
		values[ph] = &types.AttributeValueMemberS{Value: string(pred)}
		if i > 0 {
			condition += ", "
		}
		condition += ph
	}
	condition += ")"

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       processKey(id),
		UpdateExpression:          aws.String("SET #state = :new, #updated = :updated"),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  map[string]string{"#state": "state", "#updated": "updatedAt"},
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return nil
	}

	var conditionFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return fmt.Errorf("process: failed to update state of %s: %w", id, err)
	}

	current, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return getErr
	}
	if current.State == newState {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.State, newState)
}

// UpdateTotal overwrites the discovered totals.
func (s *DynamoStore) UpdateTotal(ctx context.Context, id string, total, totalPages int) error {
	if id == "" {
		return errors.New("process: id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       processKey(id),
		UpdateExpression: aws.String(
			"SET #ctx.#total = :total, #ctx.#pages = :pages, #updated = :updated"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#ctx":     "context",
			"#total":   "totalRecords",
			"#pages":   "totalPages",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":total":   numberAttr(total),
			":pages":   numberAttr(totalPages),
			":updated": nowAttr(),
		},
	})
	if err != nil {
		return wrapUpdateErr("update total", id, err)
	}
	return nil
}

// UpdateMetrics adds counters atomically and appends error details.
func (s *DynamoStore) UpdateMetrics(ctx context.Context, id string, delta MetricsDelta) error {
	if id == "" {
		return errors.New("process: id required")
	}

	names := map[string]string{
		"#ctx":       "context",
		"#processed": "processedRecords",
		"#results":   "results",
		"#agg":       "aggregateData",
		"#synced":    "totalSynced",
		"#failed":    "totalFailed",
		"#updated":   "updatedAt",
	}
	values := map[string]types.AttributeValue{
		":processed": numberAttr(delta.Processed),
		":synced":    numberAttr(delta.Success),
		":failed":    numberAttr(delta.Errors),
		":updated":   nowAttr(),
	}
	update := "ADD #ctx.#processed :processed, #results.#agg.#synced :synced, #results.#agg.#failed :failed SET #updated = :updated"

	if len(delta.ErrorDetails) > 0 {
		detailList, err := attributevalue.MarshalList(delta.ErrorDetails)
		if err != nil {
			return fmt.Errorf("process: failed to marshal error details: %w", err)
		}
		names["#errors"] = "errors"
		values[":details"] = &types.AttributeValueMemberL{Value: detailList}
		values[":empty"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
		update += ", #results.#agg.#errors = list_append(if_not_exists(#results.#agg.#errors, :empty), :details)"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       processKey(id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return wrapUpdateErr("update metrics", id, err)
	}

	if len(delta.ErrorDetails) > 0 {
		s.trimErrorDetails(ctx, id)
	}
	return nil
}

// trimErrorDetails enforces the error cap. Best effort: losing the race to a
// concurrent append only defers the trim to the next one.
func (s *DynamoStore) trimErrorDetails(ctx context.Context, id string) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		s.logger.Warn("failed to read process for error trim", "error", err, "process_id", id)
		return
	}
	details := current.Results.AggregateData.Errors
	if len(details) <= MaxErrorDetails {
		return
	}
	trimmed, err := attributevalue.MarshalList(trimErrors(details, MaxErrorDetails))
	if err != nil {
		s.logger.Warn("failed to marshal trimmed errors", "error", err, "process_id", id)
		return
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              processKey(id),
		UpdateExpression: aws.String("SET #results.#agg.#errors = :details"),
		ExpressionAttributeNames: map[string]string{
			"#results": "results",
			"#agg":     "aggregateData",
			"#errors":  "errors",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":details": &types.AttributeValueMemberL{Value: trimmed},
		},
	})
	if err != nil {
		s.logger.Warn("failed to trim error details", "error", err, "process_id", id)
	}
}

// UpdateMetadata merges the patch into the metadata document (top-level keys).
func (s *DynamoStore) UpdateMetadata(ctx context.Context, id string, patch map[string]any) error {
	if id == "" {
		return errors.New("process: id required")
	}
	if len(patch) == 0 {
		return nil
	}

	names := map[string]string{"#meta": "metadata", "#updated": "updatedAt"}
	values := map[string]types.AttributeValue{":updated": nowAttr()}
	update := "SET #updated = :updated"

	i := 0
	for key, val := range patch {
		attr, err := attributevalue.Marshal(val)
		if err != nil {
			return fmt.Errorf("process: failed to marshal metadata %q: %w", key, err)
		}
		namePH := fmt.Sprintf("#m%d", i)
		valuePH := fmt.Sprintf(":m%d", i)
		names[namePH] = key
		values[valuePH] = attr
		update += fmt.Sprintf(", #meta.%s = %s", namePH, valuePH)
		i++
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       processKey(id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return wrapUpdateErr("update metadata", id, err)
	}
	return nil
}

// GetMetadata fetches only the metadata document.
func (s *DynamoStore) GetMetadata(ctx context.Context, id string) (map[string]any, error) {
	p, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Metadata == nil {
		return map[string]any{}, nil
	}
	return p.Metadata, nil
}

// LatestCompleted queries the integration index newest-first and returns the
// first COMPLETED process for the given person object type.
func (s *DynamoStore) LatestCompleted(ctx context.Context, integrationID, personObjectType string) (*Process, error) {
	if integrationID == "" {
		return nil, errors.New("process: integration id required")
	}

	var exclusiveStart map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(integrationIndex),
			KeyConditionExpression: aws.String("#iid = :iid"),
			FilterExpression:       aws.String("#state = :completed AND #ctx.#pot = :pot"),
			ExpressionAttributeNames: map[string]string{
				"#iid":   "integrationId",
				"#state": "state",
				"#ctx":   "context",
				"#pot":   "personObjectType",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":iid":       &types.AttributeValueMemberS{Value: integrationID},
				":completed": &types.AttributeValueMemberS{Value: string(StateCompleted)},
				":pot":       &types.AttributeValueMemberS{Value: personObjectType},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: exclusiveStart,
		})
		if err != nil {
			return nil, fmt.Errorf("process: failed to query completed processes for %s: %w", integrationID, err)
		}
		if len(out.Items) > 0 {
			var p Process
			if err := attributevalue.UnmarshalMap(out.Items[0], &p); err != nil {
				return nil, fmt.Errorf("process: failed to decode process: %w", err)
			}
			return &p, nil
		}
		if out.LastEvaluatedKey == nil {
			return nil, ErrProcessNotFound
		}
		exclusiveStart = out.LastEvaluatedKey
	}
}

// CompleteProcess stamps duration and throughput and moves to COMPLETED.
func (s *DynamoStore) CompleteProcess(ctx context.Context, id string) (*Process, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.State == StateCompleted {
		return current, nil
	}

	duration := time.Since(current.StartedAt()).Seconds()
	if duration <= 0 {
		duration = 0.001
	}
	rps := float64(current.Results.AggregateData.TotalSynced) / duration

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       processKey(id),
		UpdateExpression: aws.String(
			"SET #state = :completed, #results.#agg.#duration = :duration, #results.#agg.#rps = :rps, #updated = :updated"),
		ConditionExpression: aws.String("#state <> :failed"),
		ExpressionAttributeNames: map[string]string{
			"#state":    "state",
			"#results":  "results",
			"#agg":      "aggregateData",
			"#duration": "duration",
			"#rps":      "recordsPerSecond",
			"#updated":  "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(StateCompleted)},
			":failed":    &types.AttributeValueMemberS{Value: string(StateFailed)},
			":duration":  floatAttr(duration),
			":rps":       floatAttr(rps),
			":updated":   nowAttr(),
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, StateFailed, StateCompleted)
		}
		return nil, wrapUpdateErr("complete", id, err)
	}

	return s.GetByID(ctx, id)
}

// HandleError records a failure; fatal errors also fail the process.
func (s *DynamoStore) HandleError(ctx context.Context, id string, cause error, fatal bool) error {
	if cause == nil {
		return nil
	}
	detail := ErrorDetail{
		Error:     cause.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.UpdateMetrics(ctx, id, MetricsDelta{Errors: 1, ErrorDetails: []ErrorDetail{detail}}); err != nil {
		return err
	}
	if !fatal {
		return nil
	}
	if err := s.UpdateState(ctx, id, StateFailed); err != nil && !errors.Is(err, ErrIllegalTransition) {
		return err
	}
	return nil
}

func processKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func numberAttr(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}

func floatAttr(f float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%g", f)}
}

func nowAttr() types.AttributeValue {
	return &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)}
}

func wrapUpdateErr(op, id string, err error) error {
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return ErrProcessNotFound
	}
	return fmt.Errorf("process: failed to %s %s: %w", op, id, err)
}

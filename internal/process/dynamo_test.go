package process

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/callvault/quosync/pkg/logging"
)

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getItem      map[string]types.AttributeValue
	getErr       error
	queryInput   *dynamodb.QueryInput
	queryItems   []map[string]types.AttributeValue
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, in)
	return &dynamodb.UpdateItemOutput{}, m.updateErr
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: m.getItem}, m.getErr
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInput = in
	return &dynamodb.QueryOutput{Items: m.queryItems}, nil
}

func itemFor(t *testing.T, p *Process) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		t.Fatalf("failed to marshal process: %v", err)
	}
	return item
}

func TestDynamoCreateDefaults(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "sync_processes", logging.Default())

	created, err := store.Create(context.Background(), &Process{
		IntegrationID: "int-1",
		Name:          "contacts initial sync",
		Context:       Context{SyncType: SyncTypeInitial, PersonObjectType: "Contact"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an ID")
	}
	if created.State != StateInitializing {
		t.Fatalf("expected INITIALIZING, got %s", created.State)
	}
	if created.Type != ProcessTypeCRMSync {
		t.Fatalf("expected CRM_SYNC, got %s", created.Type)
	}
	if created.Context.StartTime == "" || created.CreatedAt == "" {
		t.Fatal("expected timestamps to be populated")
	}
	if mock.putInput == nil || mock.putInput.ConditionExpression == nil ||
		!strings.Contains(*mock.putInput.ConditionExpression, "attribute_not_exists") {
		t.Fatal("expected create to guard against overwrites")
	}
}

func TestDynamoUpdateStateGuardsPredecessors(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "sync_processes", logging.Default())

	if err := store.UpdateState(context.Background(), "p1", StateQueuingPages); err != nil {
		t.Fatalf("UpdateState returned error: %v", err)
	}
	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected one update, got %d", len(mock.updateInputs))
	}
	cond := *mock.updateInputs[0].ConditionExpression
	if !strings.Contains(cond, "#state IN (") {
		t.Fatalf("expected state guard, got %q", cond)
	}
	// QUEUING_PAGES is only reachable from FETCHING_TOTAL.
	found := false
	for _, v := range mock.updateInputs[0].ExpressionAttributeValues {
		if s, ok := v.(*types.AttributeValueMemberS); ok && s.Value == string(StateFetchingTotal) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected FETCHING_TOTAL in the condition values")
	}
}

func TestDynamoUpdateStateRepeatIsNoOp(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoStore(mock, "sync_processes", logging.Default())
	mock.getItem = itemFor(t, &Process{ID: "p1", State: StateProcessingBatches})

	if err := store.UpdateState(context.Background(), "p1", StateProcessingBatches); err != nil {
		t.Fatalf("expected repeated transition to be a no-op, got %v", err)
	}
}

func TestDynamoUpdateStateRejectsIllegalJump(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoStore(mock, "sync_processes", logging.Default())
	mock.getItem = itemFor(t, &Process{ID: "p1", State: StateCompleted})

	err := store.UpdateState(context.Background(), "p1", StateProcessingBatches)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestDynamoUpdateMetricsUsesAdd(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "sync_processes", logging.Default())
	mock.getItem = itemFor(t, &Process{ID: "p1", State: StateProcessingBatches})

	delta := MetricsDelta{
		Processed:    10,
		Success:      8,
		Errors:       2,
		ErrorDetails: []ErrorDetail{{Error: "No phone number available", ExternalID: "x1"}},
	}
	if err := store.UpdateMetrics(context.Background(), "p1", delta); err != nil {
		t.Fatalf("UpdateMetrics returned error: %v", err)
	}

	expr := *mock.updateInputs[0].UpdateExpression
	if !strings.HasPrefix(expr, "ADD ") {
		t.Fatalf("expected additive update, got %q", expr)
	}
	if !strings.Contains(expr, "list_append") {
		t.Fatalf("expected error details append, got %q", expr)
	}
}

func TestDynamoHandleErrorFatalFailsProcess(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "sync_processes", logging.Default())
	mock.getItem = itemFor(t, &Process{ID: "p1", State: StateFetchingPage})

	if err := store.HandleError(context.Background(), "p1", errors.New("credentials revoked"), true); err != nil {
		t.Fatalf("HandleError returned error: %v", err)
	}
	// One metrics append plus one state update.
	if len(mock.updateInputs) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(mock.updateInputs))
	}
	last := mock.updateInputs[len(mock.updateInputs)-1]
	failed := false
	for _, v := range last.ExpressionAttributeValues {
		if s, ok := v.(*types.AttributeValueMemberS); ok && s.Value == string(StateFailed) {
			failed = true
		}
	}
	if !failed {
		t.Fatal("expected final update to set FAILED")
	}
}

func TestMemoryStoreMatchesSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, &Process{IntegrationID: "int-1", Context: Context{SyncType: SyncTypeInitial}})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := store.UpdateState(ctx, created.ID, StateFetchingTotal); err != nil {
		t.Fatalf("UpdateState returned error: %v", err)
	}
	if err := store.UpdateState(ctx, created.ID, StateCompleted); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}

	if err := store.UpdateMetrics(ctx, created.ID, MetricsDelta{Processed: 5, Success: 4, Errors: 1}); err != nil {
		t.Fatalf("UpdateMetrics returned error: %v", err)
	}
	if err := store.UpdateMetrics(ctx, created.ID, MetricsDelta{Processed: 5, Success: 5}); err != nil {
		t.Fatalf("UpdateMetrics returned error: %v", err)
	}

	got, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Context.ProcessedRecords != 10 {
		t.Fatalf("expected additive processed=10, got %d", got.Context.ProcessedRecords)
	}
	if got.Results.AggregateData.TotalSynced != 9 || got.Results.AggregateData.TotalFailed != 1 {
		t.Fatalf("unexpected aggregate: %+v", got.Results.AggregateData)
	}

	if err := store.UpdateState(ctx, created.ID, StateProcessingBatches); err != nil {
		t.Fatalf("UpdateState returned error: %v", err)
	}
	if err := store.UpdateState(ctx, created.ID, StateCompleting); err != nil {
		t.Fatalf("UpdateState returned error: %v", err)
	}
	completed, err := store.CompleteProcess(ctx, created.ID)
	if err != nil {
		t.Fatalf("CompleteProcess returned error: %v", err)
	}
	if completed.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", completed.State)
	}
	if completed.Results.AggregateData.DurationSeconds <= 0 {
		t.Fatal("expected duration to be stamped")
	}
	if completed.Results.AggregateData.RecordsPerSecond <= 0 {
		t.Fatal("expected records-per-second to be stamped")
	}
}

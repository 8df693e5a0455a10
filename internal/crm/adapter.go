package crm

import (
	"context"
	"time"

	"github.com/callvault/quosync/internal/quo"
)

// PaginationType selects the fetch strategy for an adapter.
type PaginationType string

const (
	PageBased   PaginationType = "PAGE_BASED"
	CursorBased PaginationType = "CURSOR_BASED"
)

// SyncConfig is an adapter's immutable sync behavior.
type SyncConfig struct {
	PaginationType       PaginationType
	SupportsTotal        bool
	ReturnFullRecords    bool
	ReverseChronological bool
	InitialBatchSize     int
	OngoingBatchSize     int
	PollInterval         time.Duration
}

// PersonObjectType names one upstream record kind holding person data and the
// Quo contact type it maps to.
type PersonObjectType struct {
	CRMObjectName  string
	QuoContactType string
}

// QueueConfig sizes the worker pool for an adapter's messages.
type QueueConfig struct {
	MaxWorkers     int
	Provisioned    int
	MaxConcurrency int
	BatchSize      int
	Timeout        time.Duration
}

// Person is a raw upstream person record. For page fetches that return
// partial records, only ID and ObjectType are guaranteed.
type Person struct {
	ID         string
	ObjectType string
	Phone      string
	UpdatedAt  time.Time
	Fields     map[string]any
}

// PageRequest asks for one page of persons. Page is used by page-based
// adapters, Cursor by cursor-based ones; the unused field is nil.
type PageRequest struct {
	ObjectType    string
	Page          *int
	Cursor        *string
	Limit         int
	ModifiedSince *time.Time
	SortDesc      bool
}

// PageResult is one fetched page. Total is nil when the upstream API does not
// report one; Cursor is the token for the next page, nil at the end.
type PageResult struct {
	Data    []Person
	Total   *int
	Cursor  *string
	HasMore bool
}

// SMSLog is a telephony message projected into the CRM as an activity.
type SMSLog struct {
	Direction  string
	Body       string
	OccurredAt time.Time
}

// CallLog is a telephony call projected into the CRM as an activity.
type CallLog struct {
	Direction  string
	Duration   time.Duration
	Summary    string
	OccurredAt time.Time
}

// Adapter is the per-vendor CRM capability set. Implementations are stateless
// with respect to sync runs; the engine re-resolves the adapter for every
// queue message by integration ID.
type Adapter interface {
	Name() string
	SyncConfig() SyncConfig
	PersonObjectTypes() []PersonObjectType
	QueueConfig() QueueConfig

	FetchPersonPage(ctx context.Context, integrationID string, req PageRequest) (*PageResult, error)
	FetchPersonsByIDs(ctx context.Context, integrationID string, ids []string) ([]Person, error)
	TransformPersonToQuo(ctx context.Context, person Person) (*quo.Contact, error)
	LogSMSToActivity(ctx context.Context, integrationID, crmPersonID string, sms SMSLog) error
	LogCallToActivity(ctx context.Context, integrationID, crmPersonID string, call CallLog) error
}

// BatchTransformer is an optional capability for adapters that can transform
// a whole page in one call (e.g. one lookup-table fetch for the batch).
type BatchTransformer interface {
	TransformPersonsToQuo(ctx context.Context, persons []Person) ([]quo.Contact, error)
}

// SingleFetcher is an optional capability for adapters whose API only
// exposes a by-ID lookup; compose with FanOutFetch for the batch shape.
type SingleFetcher interface {
	FetchPersonByID(ctx context.Context, integrationID, id string) (*Person, error)
}

// TransformPersons applies the batch capability when available, otherwise
// maps TransformPersonToQuo over each person. Per-person transform errors
// skip the person; the caller accounts for the shrinkage via read-back.
func TransformPersons(ctx context.Context, adapter Adapter, persons []Person) ([]quo.Contact, error) {
	if batch, ok := adapter.(BatchTransformer); ok {
		return batch.TransformPersonsToQuo(ctx, persons)
	}
	contacts := make([]quo.Contact, 0, len(persons))
	for _, person := range persons {
		contact, err := adapter.TransformPersonToQuo(ctx, person)
		if err != nil {
			return nil, err
		}
		if contact != nil {
			contacts = append(contacts, *contact)
		}
	}
	return contacts, nil
}

// FanOutFetch derives a batch fetch from a SingleFetcher. Adapters embed it
// to satisfy FetchPersonsByIDs without a native batch endpoint.
func FanOutFetch(ctx context.Context, fetcher SingleFetcher, integrationID string, ids []string) ([]Person, error) {
	persons := make([]Person, 0, len(ids))
	for _, id := range ids {
		person, err := fetcher.FetchPersonByID(ctx, integrationID, id)
		if err != nil {
			return nil, err
		}
		if person != nil {
			persons = append(persons, *person)
		}
	}
	return persons, nil
}

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/callvault/quosync/internal/mapping"
	"github.com/callvault/quosync/internal/process"
	"github.com/callvault/quosync/internal/quo"
	"github.com/callvault/quosync/pkg/logging"
)

// quoContactAPI is the slice of the Quo client the upsert loop needs.
type quoContactAPI interface {
	BulkCreateContacts(ctx context.Context, contacts []quo.Contact) error
	ListContacts(ctx context.Context, req quo.ListContactsRequest) ([]quo.Contact, error)
	CreateContact(ctx context.Context, contact quo.Contact) (*quo.Contact, error)
	UpdateContact(ctx context.Context, id string, contact quo.Contact) (*quo.Contact, error)
}

const (
	errNoPhone  = "No phone number available"
	errNotFound = "Contact not found after bulk create"
)

// errNotYetVisible signals the read-back poll that the asynchronous bulk
// create has not indexed every contact yet.
var errNotYetVisible = errors.New("sync: bulk-created contacts not yet visible")

// UpsertResult is the reconciliation outcome of one bulk upsert. Every input
// externalId is accounted for exactly once: either a success with a mapping
// or one error entry.
type UpsertResult struct {
	SuccessCount int
	ErrorCount   int
	Errors       []process.ErrorDetail
}

// UpsertOutcome is the result of the single-contact path.
type UpsertOutcome struct {
	Action       mapping.Action
	QuoContactID string
	ExternalID   string
}

// UpserterOption configures an Upserter.
type UpserterOption func(*Upserter)

// WithReadbackDelay sets the wait between the bulk create and the first
// read-back attempt. The downstream create is asynchronous; reading back too
// early reports contacts missing.
func WithReadbackDelay(d time.Duration) UpserterOption {
	return func(u *Upserter) {
		u.readbackDelay = d
	}
}

// WithReadbackAttempts bounds the poll-until-visible retries.
func WithReadbackAttempts(n int) UpserterOption {
	return func(u *Upserter) {
		if n > 0 {
			u.readbackAttempts = n
		}
	}
}

// WithUpserterLogger sets the logger.
func WithUpserterLogger(logger *logging.Logger) UpserterOption {
	return func(u *Upserter) {
		u.logger = logger
	}
}

// Upserter pushes CRM contacts into Quo and reconciles phone-number
// mappings.
type Upserter struct {
	quo              quoContactAPI
	mappings         mapping.Repository
	readbackDelay    time.Duration
	readbackAttempts int
	logger           *logging.Logger
}

// NewUpserter builds an Upserter.
func NewUpserter(api quoContactAPI, mappings mapping.Repository, opts ...UpserterOption) *Upserter {
	if api == nil {
		panic("sync: quo client required")
	}
	if mappings == nil {
		panic("sync: mapping repository required")
	}
	u := &Upserter{
		quo:              api,
		mappings:         mappings,
		readbackDelay:    time.Second,
		readbackAttempts: 3,
		logger:           logging.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// BulkUpsert creates contacts downstream, reads them back, and upserts one
// mapping per created contact with a phone number. A bulk-create failure is
// recorded in the result, not returned; a read-back chunk failure is
// returned so the queue can redeliver the batch.
func (u *Upserter) BulkUpsert(ctx context.Context, integrationID, entityType string, contacts []quo.Contact) (*UpsertResult, error) {
	result := &UpsertResult{}
	if len(contacts) == 0 {
		return result, nil
	}

	if err := u.quo.BulkCreateContacts(ctx, contacts); err != nil {
		result.ErrorCount = len(contacts)
		result.Errors = append(result.Errors, process.ErrorDetail{
			Error:        err.Error(),
			Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
			ContactCount: len(contacts),
		})
		return result, nil
	}

	externalIDs := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c.ExternalID != "" {
			externalIDs = append(externalIDs, c.ExternalID)
		}
	}

	created, err := u.readBack(ctx, externalIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, contact := range contacts {
		createdContact, ok := created[contact.ExternalID]
		if !ok {
			result.ErrorCount++
			result.Errors = append(result.Errors, process.ErrorDetail{
				Error:      errNotFound,
				ExternalID: contact.ExternalID,
			})
			continue
		}
		phone := createdContact.PrimaryPhoneNumber()
		if phone == "" {
			u.logger.Warn("created contact has no phone number",
				"integration_id", integrationID,
				"external_id", contact.ExternalID)
			result.ErrorCount++
			result.Errors = append(result.Errors, process.ErrorDetail{
				Error:      errNoPhone,
				ExternalID: contact.ExternalID,
			})
			continue
		}
		err := u.mappings.Upsert(ctx, mapping.Mapping{
			PhoneNumber:   phone,
			ExternalID:    contact.ExternalID,
			QuoContactID:  createdContact.ID,
			IntegrationID: integrationID,
			EntityType:    entityType,
			SyncMethod:    mapping.SyncMethodBulk,
			Action:        mapping.ActionCreated,
			LastSyncedAt:  now,
		})
		if err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, process.ErrorDetail{
				Error:      err.Error(),
				ExternalID: contact.ExternalID,
			})
			continue
		}
		result.SuccessCount++
	}
	return result, nil
}

// readBack waits out the indexing delay, then lists the created contacts in
// chunks of the downstream filter cap, polling until every ID is visible or
// the attempts run out. Missing IDs after the final attempt are left for the
// caller to account; a list failure aborts immediately.
func (u *Upserter) readBack(ctx context.Context, externalIDs []string) (map[string]quo.Contact, error) {
	if len(externalIDs) == 0 {
		return map[string]quo.Contact{}, nil
	}
	if err := sleepCtx(ctx, u.readbackDelay); err != nil {
		return nil, err
	}

	var found map[string]quo.Contact
	err := retry.Do(
		func() error {
			created, err := u.listAllChunks(ctx, externalIDs)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			found = created
			if len(found) < len(externalIDs) {
				return errNotYetVisible
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(u.readbackAttempts)),
		retry.Delay(u.readbackDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil && !errors.Is(err, errNotYetVisible) {
		return nil, fmt.Errorf("sync: read-back failed: %w", err)
	}
	return found, nil
}

// listAllChunks issues the chunked list calls in parallel; the first failure
// wins.
func (u *Upserter) listAllChunks(ctx context.Context, externalIDs []string) (map[string]quo.Contact, error) {
	chunks := chunkIDs(externalIDs, quo.MaxListContacts)

	var (
		mu       stdsync.Mutex
		wg       stdsync.WaitGroup
		firstErr error
		found    = make(map[string]quo.Contact, len(externalIDs))
	)
	for _, chunk := range chunks {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			contacts, err := u.quo.ListContacts(ctx, quo.ListContactsRequest{
				ExternalIDs: ids,
				MaxResults:  quo.MaxListContacts,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for _, c := range contacts {
				if c.ExternalID != "" {
					found[c.ExternalID] = c
				}
			}
		}(chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return found, nil
}

// UpsertOne syncs a single contact: update when it already exists
// downstream, create otherwise, then upsert the mapping when a phone number
// is present.
func (u *Upserter) UpsertOne(ctx context.Context, integrationID, entityType string, contact quo.Contact) (*UpsertOutcome, error) {
	if contact.ExternalID == "" {
		return nil, errors.New("sync: contact external id required")
	}

	existing, err := u.quo.ListContacts(ctx, quo.ListContactsRequest{
		ExternalIDs: []string{contact.ExternalID},
		MaxResults:  1,
	})
	if err != nil {
		return nil, err
	}

	var (
		synced *quo.Contact
		action mapping.Action
	)
	if len(existing) > 0 {
		synced, err = u.quo.UpdateContact(ctx, existing[0].ID, contact)
		action = mapping.ActionUpdated
	} else {
		synced, err = u.quo.CreateContact(ctx, contact)
		action = mapping.ActionCreated
	}
	if err != nil {
		return nil, err
	}

	if phone := synced.PrimaryPhoneNumber(); phone != "" {
		err := u.mappings.Upsert(ctx, mapping.Mapping{
			PhoneNumber:   phone,
			ExternalID:    contact.ExternalID,
			QuoContactID:  synced.ID,
			IntegrationID: integrationID,
			EntityType:    entityType,
			SyncMethod:    mapping.SyncMethodUpsert,
			Action:        action,
			LastSyncedAt:  time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
	}
	return &UpsertOutcome{
		Action:       action,
		QuoContactID: synced.ID,
		ExternalID:   contact.ExternalID,
	}, nil
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

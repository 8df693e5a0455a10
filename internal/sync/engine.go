package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/callvault/quosync/internal/crm"
	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/process"
	"github.com/callvault/quosync/internal/queue"
	"github.com/callvault/quosync/pkg/logging"
)

const (
	defaultCompletionDelay    = 10 * time.Second
	defaultCompletionAttempts = 5
)

// CompletionHook observes processes reaching COMPLETED. Best effort: hook
// failures are logged, never propagated.
type CompletionHook interface {
	ProcessCompleted(ctx context.Context, p *process.Process)
}

// FailureHook observes fatal process failures.
type FailureHook interface {
	ProcessFailed(ctx context.Context, p *process.Process)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCompletionDelay sets the re-enqueue delay of the completion barrier.
func WithCompletionDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.completionDelay = d
		}
	}
}

// WithCompletionAttempts bounds completion-barrier re-enqueues before the
// process is stamped regardless of in-flight batches.
func WithCompletionAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.completionAttempts = n
		}
	}
}

// WithCompletionHook registers a completion observer.
func WithCompletionHook(hook CompletionHook) EngineOption {
	return func(e *Engine) {
		e.completionHooks = append(e.completionHooks, hook)
	}
}

// WithFailureHook registers a failure observer.
func WithFailureHook(hook FailureHook) EngineOption {
	return func(e *Engine) {
		e.failureHooks = append(e.failureHooks, hook)
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine advances sync processes in response to queue messages. It holds no
// per-process state: everything it needs travels in the message or lives in
// the process store, so any worker can handle any message.
type Engine struct {
	store        process.Store
	publisher    queue.Publisher
	registry     *crm.Registry
	integrations integration.Store
	upserter     *Upserter

	completionDelay    time.Duration
	completionAttempts int
	completionHooks    []CompletionHook
	failureHooks       []FailureHook
	logger             *logging.Logger
}

// NewEngine builds an Engine.
func NewEngine(store process.Store, publisher queue.Publisher, registry *crm.Registry, integrations integration.Store, upserter *Upserter, opts ...EngineOption) *Engine {
	if store == nil {
		panic("sync: process store required")
	}
	if publisher == nil {
		panic("sync: publisher required")
	}
	if registry == nil {
		panic("sync: adapter registry required")
	}
	if integrations == nil {
		panic("sync: integration store required")
	}
	if upserter == nil {
		panic("sync: upserter required")
	}
	e := &Engine{
		store:              store,
		publisher:          publisher,
		registry:           registry,
		integrations:       integrations,
		upserter:           upserter,
		completionDelay:    defaultCompletionDelay,
		completionAttempts: defaultCompletionAttempts,
		logger:             logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) resolve(ctx context.Context, integrationID string) (crm.Adapter, *integration.Config, error) {
	cfg, err := e.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := e.registry.Get(cfg.Provider)
	if err != nil {
		return nil, nil, err
	}
	return adapter, cfg, nil
}

// HandleFetchPage processes one FETCH_PERSON_PAGE message, dispatching on
// the adapter's pagination strategy. Errors propagate so the queue
// redelivers, after being recorded against the process.
func (e *Engine) HandleFetchPage(ctx context.Context, integrationID string, payload queue.FetchPersonPage) error {
	p, err := e.store.GetByID(ctx, payload.ProcessID)
	if err != nil {
		return err
	}
	if process.IsTerminal(p.State) {
		e.logger.Info("skipping fetch for terminal process",
			"process_id", p.ID, "state", string(p.State))
		return nil
	}

	adapter, _, err := e.resolve(ctx, integrationID)
	if err != nil {
		return e.recordFatal(ctx, p.ID, err)
	}

	switch adapter.SyncConfig().PaginationType {
	case crm.CursorBased:
		err = e.fetchCursorPage(ctx, integrationID, adapter, p, payload)
	default:
		err = e.fetchNumberedPage(ctx, integrationID, adapter, p, payload)
	}
	if err != nil {
		if recErr := e.store.HandleError(ctx, p.ID, err, false); recErr != nil {
			e.logger.Error("failed to record fetch error", "process_id", p.ID, "error", recErr)
		}
		return err
	}
	return nil
}

// fetchNumberedPage implements the page-based strategy: page 0 discovers the
// total and fans out the remaining pages; every page with data enqueues a
// processing batch. When the upstream never reports a total, pages are
// walked sequentially and a short page terminates the sync.
func (e *Engine) fetchNumberedPage(ctx context.Context, integrationID string, adapter crm.Adapter, p *process.Process, payload queue.FetchPersonPage) error {
	page := 0
	if payload.Page != nil {
		page = *payload.Page
	}

	if page == 0 {
		if err := e.store.UpdateState(ctx, p.ID, process.StateFetchingTotal); err != nil && !errors.Is(err, process.ErrIllegalTransition) {
			return err
		}
	}

	result, err := adapter.FetchPersonPage(ctx, integrationID, crm.PageRequest{
		ObjectType:    payload.PersonObjectType,
		Page:          &page,
		Limit:         payload.Limit,
		ModifiedSince: payload.ModifiedSince,
		SortDesc:      payload.SortDesc,
	})
	if err != nil {
		return fmt.Errorf("sync: fetch page %d: %w", page, err)
	}

	hasTotal := result.Total != nil && *result.Total > 0

	if page == 0 && hasTotal {
		total := *result.Total
		totalPages := (total + payload.Limit - 1) / payload.Limit
		if err := e.store.UpdateTotal(ctx, p.ID, total, totalPages); err != nil {
			return err
		}

		// The fan-out is not idempotent; QUEUING_PAGES is only reachable
		// from FETCHING_TOTAL, so a redelivered page 0 loses this
		// transition and skips straight to batching.
		fanOutErr := e.store.UpdateState(ctx, p.ID, process.StateQueuingPages)
		switch {
		case fanOutErr == nil:
			if totalPages > 1 {
				if err := e.fanOutPages(ctx, integrationID, payload, totalPages); err != nil {
					return err
				}
			}
		case errors.Is(fanOutErr, process.ErrIllegalTransition):
			e.logger.Warn("pages already queued, skipping fan-out", "process_id", p.ID)
		default:
			return fanOutErr
		}

		if err := e.store.UpdateState(ctx, p.ID, process.StateProcessingBatches); err != nil && !errors.Is(err, process.ErrIllegalTransition) {
			return err
		}
	} else if page == 0 {
		if err := e.store.UpdateState(ctx, p.ID, process.StateProcessingBatches); err != nil && !errors.Is(err, process.ErrIllegalTransition) {
			return err
		}
	}

	if len(result.Data) > 0 {
		ids := make([]string, 0, len(result.Data))
		for _, person := range result.Data {
			ids = append(ids, person.ID)
		}
		err := e.publisher.Send(ctx, queue.Message{
			Event:         queue.EventProcessPersonBatch,
			IntegrationID: integrationID,
			ProcessBatch: &queue.ProcessPersonBatch{
				ProcessID:    p.ID,
				CRMPersonIDs: ids,
				Page:         &page,
				TotalInPage:  len(result.Data),
			},
		})
		if err != nil {
			return fmt.Errorf("sync: enqueue batch for page %d: %w", page, err)
		}
	}

	if !hasTotal && p.Context.TotalRecords == 0 {
		// Without a total there is no fan-out; walk pages sequentially and
		// stop at the first short page. Fanned-out pages never enter here:
		// their process already carries the page-0 total.
		if len(result.Data) >= payload.Limit {
			next := page + 1
			nextPayload := payload
			nextPayload.Page = &next
			return e.publisher.Send(ctx, queue.Message{
				Event:         queue.EventFetchPersonPage,
				IntegrationID: integrationID,
				FetchPage:     &nextPayload,
			})
		}
		// A short page, page 0 included, ends the walk.
		return e.enqueueComplete(ctx, integrationID, p.ID, 0)
	}
	return nil
}

func (e *Engine) fanOutPages(ctx context.Context, integrationID string, payload queue.FetchPersonPage, totalPages int) error {
	msgs := make([]queue.Message, 0, totalPages-1)
	for page := 1; page < totalPages; page++ {
		pageCopy := page
		fetch := payload
		fetch.Page = &pageCopy
		msgs = append(msgs, queue.Message{
			Event:         queue.EventFetchPersonPage,
			IntegrationID: integrationID,
			FetchPage:     &fetch,
		})
	}
	if err := e.publisher.BatchSend(ctx, msgs); err != nil {
		return fmt.Errorf("sync: fan out %d pages: %w", totalPages-1, err)
	}
	return nil
}

// Cursor metadata keys. Cursor walks are serialized by construction, so
// plain metadata read/patch cycles are safe.
const (
	metaTotalFetched = "totalFetched"
	metaPageCount    = "pageCount"
	metaLastCursor   = "lastCursor"
)

// fetchCursorPage implements the cursor-based strategy: pages are fetched
// one after another and processed inline, with running totals kept in
// process metadata.
func (e *Engine) fetchCursorPage(ctx context.Context, integrationID string, adapter crm.Adapter, p *process.Process, payload queue.FetchPersonPage) error {
	if p.State == process.StateInitializing {
		if err := e.store.UpdateState(ctx, p.ID, process.StateFetchingPage); err != nil && !errors.Is(err, process.ErrIllegalTransition) {
			return err
		}
	}

	result, err := adapter.FetchPersonPage(ctx, integrationID, crm.PageRequest{
		ObjectType:    payload.PersonObjectType,
		Cursor:        payload.Cursor,
		Limit:         payload.Limit,
		ModifiedSince: payload.ModifiedSince,
		SortDesc:      payload.SortDesc,
	})
	if err != nil {
		return fmt.Errorf("sync: fetch cursor page: %w", err)
	}

	firstPage := payload.Cursor == nil
	if firstPage && len(result.Data) == 0 {
		if err := e.store.UpdateTotal(ctx, p.ID, 0, 0); err != nil {
			return err
		}
		return e.enqueueComplete(ctx, integrationID, p.ID, 0)
	}

	meta, err := e.store.GetMetadata(ctx, p.ID)
	if err != nil {
		return err
	}
	totalFetched := intFromMeta(meta, metaTotalFetched) + len(result.Data)
	pageCount := intFromMeta(meta, metaPageCount) + 1
	patch := map[string]any{
		metaTotalFetched: totalFetched,
		metaPageCount:    pageCount,
	}
	if result.Cursor != nil {
		patch[metaLastCursor] = *result.Cursor
	}
	if err := e.store.UpdateMetadata(ctx, p.ID, patch); err != nil {
		return err
	}

	if err := e.store.UpdateTotal(ctx, p.ID, totalFetched, pageCount); err != nil {
		return err
	}
	if firstPage {
		if err := e.store.UpdateState(ctx, p.ID, process.StateProcessingBatches); err != nil && !errors.Is(err, process.ErrIllegalTransition) {
			return err
		}
	}

	// Inline processing: cursor APIs serialize the walk anyway, so a
	// separate batch message would only add a queue hop. Processing
	// failures are recorded and the walk continues.
	if len(result.Data) > 0 {
		persons := result.Data
		if !adapter.SyncConfig().ReturnFullRecords {
			// The page only carries IDs; hydrate before transforming.
			ids := make([]string, 0, len(result.Data))
			for _, person := range result.Data {
				ids = append(ids, person.ID)
			}
			full, hydrateErr := adapter.FetchPersonsByIDs(ctx, integrationID, ids)
			if hydrateErr != nil {
				e.logger.Error("cursor page hydration failed, continuing",
					"process_id", p.ID, "error", hydrateErr)
				if recErr := e.store.HandleError(ctx, p.ID, hydrateErr, false); recErr != nil {
					e.logger.Error("failed to record processing error", "process_id", p.ID, "error", recErr)
				}
				full = nil
			}
			persons = full
		}
		if len(persons) > 0 {
			if err := e.processPersons(ctx, integrationID, adapter, p.ID, persons); err != nil {
				e.logger.Error("cursor page processing failed, continuing",
					"process_id", p.ID, "error", err)
				if recErr := e.store.HandleError(ctx, p.ID, err, false); recErr != nil {
					e.logger.Error("failed to record processing error", "process_id", p.ID, "error", recErr)
				}
			}
		}
	}

	if result.HasMore && result.Cursor != nil {
		nextPayload := payload
		nextPayload.Cursor = result.Cursor
		return e.publisher.Send(ctx, queue.Message{
			Event:         queue.EventFetchPersonPage,
			IntegrationID: integrationID,
			FetchPage:     &nextPayload,
		})
	}
	return e.enqueueComplete(ctx, integrationID, p.ID, 0)
}

// HandleProcessBatch hydrates, transforms and upserts one batch of CRM
// person IDs, then enqueues completion when the process has consumed its
// total.
func (e *Engine) HandleProcessBatch(ctx context.Context, integrationID string, payload queue.ProcessPersonBatch) error {
	p, err := e.store.GetByID(ctx, payload.ProcessID)
	if err != nil {
		return err
	}
	if process.IsTerminal(p.State) {
		e.logger.Info("skipping batch for terminal process",
			"process_id", p.ID, "state", string(p.State))
		return nil
	}

	adapter, _, err := e.resolve(ctx, integrationID)
	if err != nil {
		return e.recordFatal(ctx, p.ID, err)
	}

	persons, err := adapter.FetchPersonsByIDs(ctx, integrationID, payload.CRMPersonIDs)
	if err != nil {
		if recErr := e.store.HandleError(ctx, p.ID, err, false); recErr != nil {
			e.logger.Error("failed to record batch error", "process_id", p.ID, "error", recErr)
		}
		return err
	}

	if err := e.processPersons(ctx, integrationID, adapter, p.ID, persons); err != nil {
		if recErr := e.store.HandleError(ctx, p.ID, err, false); recErr != nil {
			e.logger.Error("failed to record batch error", "process_id", p.ID, "error", recErr)
		}
		return err
	}

	// The last finished batch triggers completion; duplicates are harmless
	// because the completion handler re-checks the counters.
	updated, err := e.store.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if updated.Context.TotalRecords > 0 && updated.Context.ProcessedRecords >= updated.Context.TotalRecords {
		return e.enqueueComplete(ctx, integrationID, p.ID, 0)
	}
	return nil
}

// processPersons transforms a page of persons and bulk-upserts the result,
// folding the reconciliation outcome into the process metrics.
func (e *Engine) processPersons(ctx context.Context, integrationID string, adapter crm.Adapter, processID string, persons []crm.Person) error {
	contacts, err := crm.TransformPersons(ctx, adapter, persons)
	if err != nil {
		return fmt.Errorf("sync: transform persons: %w", err)
	}

	entityType := ""
	if len(persons) > 0 {
		entityType = persons[0].ObjectType
	}
	result, err := e.upserter.BulkUpsert(ctx, integrationID, entityType, contacts)
	if err != nil {
		return err
	}

	return e.store.UpdateMetrics(ctx, processID, process.MetricsDelta{
		Processed:    len(persons),
		Success:      result.SuccessCount,
		Errors:       result.ErrorCount,
		ErrorDetails: result.Errors,
	})
}

// HandleCompleteSync closes out a process. Because page batches run in
// parallel, a COMPLETE_SYNC can arrive before every batch has landed; the
// barrier re-enqueues the message with a delay until the counters catch up
// or the attempts run out, then stamps the process regardless.
func (e *Engine) HandleCompleteSync(ctx context.Context, integrationID string, payload queue.CompleteSync) error {
	p, err := e.store.GetByID(ctx, payload.ProcessID)
	if err != nil {
		return err
	}
	if process.IsTerminal(p.State) {
		return nil
	}

	outstanding := p.Context.TotalRecords > 0 && p.Context.ProcessedRecords < p.Context.TotalRecords
	if outstanding && payload.Attempt < e.completionAttempts {
		e.logger.Info("batches still in flight, deferring completion",
			"process_id", p.ID,
			"processed", p.Context.ProcessedRecords,
			"total", p.Context.TotalRecords,
			"attempt", payload.Attempt)
		return e.enqueueComplete(ctx, integrationID, p.ID, payload.Attempt+1)
	}
	if outstanding {
		e.logger.Warn("completing with batches outstanding",
			"process_id", p.ID,
			"processed", p.Context.ProcessedRecords,
			"total", p.Context.TotalRecords)
	}

	if err := e.store.UpdateState(ctx, p.ID, process.StateCompleting); err != nil && !errors.Is(err, process.ErrIllegalTransition) {
		return err
	}
	completed, err := e.store.CompleteProcess(ctx, p.ID)
	if err != nil {
		return err
	}

	for _, hook := range e.completionHooks {
		hook.ProcessCompleted(ctx, completed)
	}
	e.logger.Info("sync completed",
		"process_id", completed.ID,
		"total_synced", completed.Results.AggregateData.TotalSynced,
		"total_failed", completed.Results.AggregateData.TotalFailed)
	return nil
}

func (e *Engine) enqueueComplete(ctx context.Context, integrationID, processID string, attempt int) error {
	msg := queue.Message{
		Event:         queue.EventCompleteSync,
		IntegrationID: integrationID,
		CompleteSync:  &queue.CompleteSync{ProcessID: processID, Attempt: attempt},
	}
	if attempt > 0 {
		msg.DelaySeconds = int32(e.completionDelay / time.Second)
	}
	if err := e.publisher.Send(ctx, msg); err != nil {
		return fmt.Errorf("sync: enqueue completion for %s: %w", processID, err)
	}
	return nil
}

// recordFatal fails the process for unrecoverable setup errors (unknown
// provider, deleted integration) and propagates the cause.
func (e *Engine) recordFatal(ctx context.Context, processID string, cause error) error {
	if err := e.store.HandleError(ctx, processID, cause, true); err != nil {
		e.logger.Error("failed to record fatal error", "process_id", processID, "error", err)
	}
	if p, err := e.store.GetByID(ctx, processID); err == nil {
		for _, hook := range e.failureHooks {
			hook.ProcessFailed(ctx, p)
		}
	}
	return cause
}

func intFromMeta(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

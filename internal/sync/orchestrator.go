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

// defaultDeltaWindow bounds the first delta sync when no completed process
// exists to derive a watermark from.
const defaultDeltaWindow = 24 * time.Hour

// Orchestrator seeds sync pipelines. It never fetches data itself: it
// creates one process per person object type and enqueues the first page
// fetch; queue workers do the rest.
type Orchestrator struct {
	store        process.Store
	publisher    queue.Publisher
	registry     *crm.Registry
	integrations integration.Store
	logger       *logging.Logger
}

var _ integration.SyncStarter = (*Orchestrator)(nil)

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(store process.Store, publisher queue.Publisher, registry *crm.Registry, integrations integration.Store, logger *logging.Logger) *Orchestrator {
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
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		store:        store,
		publisher:    publisher,
		registry:     registry,
		integrations: integrations,
		logger:       logger,
	}
}

// StartInitialSync creates an INITIAL process for every person object type
// of the integration's adapter and enqueues the first page fetch for each.
func (o *Orchestrator) StartInitialSync(ctx context.Context, integrationID string) ([]string, error) {
	return o.start(ctx, integrationID, process.SyncTypeInitial)
}

// StartOngoingSync creates DELTA processes bounded by a modified-since
// watermark: the updatedAt of the most recent COMPLETED process for the same
// integration and object type, or now minus 24h when none exists.
func (o *Orchestrator) StartOngoingSync(ctx context.Context, integrationID string) ([]string, error) {
	return o.start(ctx, integrationID, process.SyncTypeDelta)
}

func (o *Orchestrator) start(ctx context.Context, integrationID string, syncType process.SyncType) ([]string, error) {
	if integrationID == "" {
		return nil, errors.New("sync: integration id required")
	}
	cfg, err := o.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	adapter, err := o.registry.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	syncCfg := adapter.SyncConfig()
	pageSize := syncCfg.InitialBatchSize
	if syncType == process.SyncTypeDelta {
		pageSize = syncCfg.OngoingBatchSize
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	var processIDs []string
	for _, objectType := range adapter.PersonObjectTypes() {
		var modifiedSince *time.Time
		if syncType == process.SyncTypeDelta {
			watermark := o.watermark(ctx, integrationID, objectType.CRMObjectName)
			modifiedSince = &watermark
		}

		p, err := o.store.Create(ctx, &process.Process{
			IntegrationID: integrationID,
			UserID:        cfg.UserID,
			Name:          fmt.Sprintf("%s %s sync", adapter.Name(), objectType.CRMObjectName),
			Context: process.Context{
				SyncType:         syncType,
				PersonObjectType: objectType.CRMObjectName,
				Pagination: process.Pagination{
					PageSize: pageSize,
				},
			},
		})
		if err != nil {
			return processIDs, err
		}

		fetch := &queue.FetchPersonPage{
			ProcessID:        p.ID,
			PersonObjectType: objectType.CRMObjectName,
			Limit:            pageSize,
			ModifiedSince:    modifiedSince,
			SortDesc:         syncCfg.ReverseChronological,
		}
		if syncCfg.PaginationType == crm.PageBased {
			page := 0
			fetch.Page = &page
		}

		err = o.publisher.Send(ctx, queue.Message{
			Event:         queue.EventFetchPersonPage,
			IntegrationID: integrationID,
			FetchPage:     fetch,
		})
		if err != nil {
			return processIDs, fmt.Errorf("sync: enqueue first fetch for %s: %w", p.ID, err)
		}

		o.logger.Info("sync started",
			"integration_id", integrationID,
			"process_id", p.ID,
			"object_type", objectType.CRMObjectName,
			"sync_type", string(syncType))
		processIDs = append(processIDs, p.ID)
	}
	return processIDs, nil
}

// watermark derives the deterministic modified-since bound for a delta sync.
func (o *Orchestrator) watermark(ctx context.Context, integrationID, objectType string) time.Time {
	prior, err := o.store.LatestCompleted(ctx, integrationID, objectType)
	if err == nil {
		if ts, parseErr := time.Parse(time.RFC3339Nano, prior.UpdatedAt); parseErr == nil {
			return ts
		}
	} else if !errors.Is(err, process.ErrProcessNotFound) {
		o.logger.Warn("watermark lookup failed, falling back to default window",
			"integration_id", integrationID,
			"object_type", objectType,
			"error", err)
	}
	return time.Now().UTC().Add(-defaultDeltaWindow).Truncate(time.Second)
}

package process

import "context"

// Store persists sync processes. Mutations must be atomic and monotonic:
// many workers may update the same process concurrently, so counters are
// additive and state transitions are guarded store-side.
type Store interface {
	Create(ctx context.Context, p *Process) (*Process, error)
	GetByID(ctx context.Context, id string) (*Process, error)

	// UpdateState rejects transitions the state machine forbids. Setting the
	// current state again is a no-op so redeliveries stay harmless.
	UpdateState(ctx context.Context, id string, newState State) error

	// UpdateTotal overwrites totals; it is idempotent because page 0 always
	// reports the same fetched total.
	UpdateTotal(ctx context.Context, id string, total, totalPages int) error

	// UpdateMetrics adds the delta to processed/synced/failed counters and
	// appends error details (capped at MaxErrorDetails).
	UpdateMetrics(ctx context.Context, id string, delta MetricsDelta) error

	UpdateMetadata(ctx context.Context, id string, patch map[string]any) error
	GetMetadata(ctx context.Context, id string) (map[string]any, error)

	// LatestCompleted returns the most recently updated COMPLETED process for
	// the integration and person object type, or ErrProcessNotFound. Delta
	// syncs derive their modified-since watermark from it.
	LatestCompleted(ctx context.Context, integrationID, personObjectType string) (*Process, error)

	// CompleteProcess moves the process to COMPLETED and stamps duration and
	// records-per-second.
	CompleteProcess(ctx context.Context, id string) (*Process, error)

	// HandleError records the failure; the process only transitions to FAILED
	// when the caller flags the error fatal.
	HandleError(ctx context.Context, id string, cause error, fatal bool) error
}

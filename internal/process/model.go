package process

import (
	"errors"
	"time"
)

// State is the lifecycle phase of a sync process.
type State string

const (
	StateInitializing      State = "INITIALIZING"
	StateFetchingTotal     State = "FETCHING_TOTAL"
	StateFetchingPage      State = "FETCHING_PAGE"
	StateQueuingPages      State = "QUEUING_PAGES"
	StateProcessingBatches State = "PROCESSING_BATCHES"
	StateCompleting        State = "COMPLETING"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
)

// SyncType distinguishes a first full sync from an incremental one.
type SyncType string

const (
	SyncTypeInitial SyncType = "INITIAL"
	SyncTypeDelta   SyncType = "DELTA"
)

// ProcessTypeCRMSync is the only process type this engine creates.
const ProcessTypeCRMSync = "CRM_SYNC"

// Error details are capped so a pathological sync cannot grow the record
// without bound.
const MaxErrorDetails = 100

var (
	// ErrProcessNotFound indicates the requested process ID does not exist.
	ErrProcessNotFound = errors.New("process: not found")
	// ErrIllegalTransition indicates a state change the machine forbids.
	ErrIllegalTransition = errors.New("process: illegal state transition")
)

// transitions lists the legal successor states. Terminal states are sinks.
var transitions = map[State][]State{
	StateInitializing:      {StateFetchingTotal, StateFetchingPage, StateFailed},
	StateFetchingTotal:     {StateQueuingPages, StateProcessingBatches, StateCompleting, StateFailed},
	StateFetchingPage:      {StateProcessingBatches, StateCompleting, StateFailed},
	StateQueuingPages:      {StateProcessingBatches, StateFailed},
	StateProcessingBatches: {StateCompleting, StateFailed},
	StateCompleting:        {StateCompleted, StateFailed},
	StateCompleted:         {},
	StateFailed:            {},
}

// CanTransition reports whether from→to is legal. Transitioning to the
// current state is treated as a legal no-op so redelivered messages stay
// idempotent.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state is a sink.
func IsTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

// legalPredecessors returns every state from which `to` is reachable,
// excluding `to` itself.
func legalPredecessors(to State) []State {
	var from []State
	for state, successors := range transitions {
		for _, next := range successors {
			if next == to {
				from = append(from, state)
			}
		}
	}
	return from
}

// Pagination carries strategy-specific cursor/page bookkeeping.
type Pagination struct {
	PageSize      int    `dynamodbav:"pageSize" json:"pageSize"`
	CurrentCursor string `dynamodbav:"currentCursor,omitempty" json:"currentCursor,omitempty"`
	NextPage      int    `dynamodbav:"nextPage,omitempty" json:"nextPage,omitempty"`
	HasMore       bool   `dynamodbav:"hasMore" json:"hasMore"`
}

// Context is the mutable working state of one sync run.
type Context struct {
	SyncType         SyncType   `dynamodbav:"syncType" json:"syncType"`
	PersonObjectType string     `dynamodbav:"personObjectType" json:"personObjectType"`
	TotalRecords     int        `dynamodbav:"totalRecords" json:"totalRecords"`
	TotalPages       int        `dynamodbav:"totalPages" json:"totalPages"`
	ProcessedRecords int        `dynamodbav:"processedRecords" json:"processedRecords"`
	CurrentPage      int        `dynamodbav:"currentPage" json:"currentPage"`
	Pagination       Pagination `dynamodbav:"pagination" json:"pagination"`
	StartTime        string     `dynamodbav:"startTime" json:"startTime"`
}

// ErrorDetail is one recorded sync failure.
type ErrorDetail struct {
	Error        string `dynamodbav:"error" json:"error"`
	ExternalID   string `dynamodbav:"externalId,omitempty" json:"externalId,omitempty"`
	Timestamp    string `dynamodbav:"timestamp,omitempty" json:"timestamp,omitempty"`
	ContactCount int    `dynamodbav:"contactCount,omitempty" json:"contactCount,omitempty"`
}

// AggregateData is the observable outcome of a sync run.
type AggregateData struct {
	TotalSynced      int           `dynamodbav:"totalSynced" json:"totalSynced"`
	TotalFailed      int           `dynamodbav:"totalFailed" json:"totalFailed"`
	DurationSeconds  float64       `dynamodbav:"duration" json:"duration"`
	RecordsPerSecond float64       `dynamodbav:"recordsPerSecond" json:"recordsPerSecond"`
	Errors           []ErrorDetail `dynamodbav:"errors,omitempty" json:"errors,omitempty"`
}

// Results wraps aggregate data for forward compatibility with per-page
// result shapes.
type Results struct {
	AggregateData AggregateData `dynamodbav:"aggregateData" json:"aggregateData"`
}

// Process is the durable record of one sync run for one person object type.
// It is created once, mutated only by queue handlers, and never deleted.
type Process struct {
	ID            string         `dynamodbav:"id" json:"id"`
	IntegrationID string         `dynamodbav:"integrationId" json:"integrationId"`
	UserID        string         `dynamodbav:"userId,omitempty" json:"userId,omitempty"`
	Name          string         `dynamodbav:"name" json:"name"`
	Type          string         `dynamodbav:"type" json:"type"`
	State         State          `dynamodbav:"state" json:"state"`
	Context       Context        `dynamodbav:"context" json:"context"`
	Results       Results        `dynamodbav:"results" json:"results"`
	Metadata      map[string]any `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt     string         `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     string         `dynamodbav:"updatedAt" json:"updatedAt"`
}

// StartedAt parses the recorded start time, falling back to CreatedAt.
func (p *Process) StartedAt() time.Time {
	for _, raw := range []string{p.Context.StartTime, p.CreatedAt} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// MetricsDelta is an additive metrics update. ErrorDetails are appended and
// truncated to the newest MaxErrorDetails entries.
type MetricsDelta struct {
	Processed    int
	Success      int
	Errors       int
	ErrorDetails []ErrorDetail
}

// trimErrors keeps the newest cap entries.
func trimErrors(details []ErrorDetail, cap int) []ErrorDetail {
	if len(details) <= cap {
		return details
	}
	return details[len(details)-cap:]
}

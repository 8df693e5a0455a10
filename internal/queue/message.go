package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event discriminates the payload carried by a Message.
type Event string

const (
	EventFetchPersonPage    Event = "FETCH_PERSON_PAGE"
	EventProcessPersonBatch Event = "PROCESS_PERSON_BATCH"
	EventCompleteSync       Event = "COMPLETE_SYNC"
	EventPostCreateSetup    Event = "POST_CREATE_SETUP"
	EventLogSMS             Event = "LOG_SMS"
	EventLogCall            Event = "LOG_CALL"
)

// FetchPersonPage asks a worker to fetch one page of CRM person records.
// Page is set for page-based adapters, Cursor for cursor-based ones.
type FetchPersonPage struct {
	ProcessID        string     `json:"processId"`
	PersonObjectType string     `json:"personObjectType"`
	Page             *int       `json:"page,omitempty"`
	Cursor           *string    `json:"cursor,omitempty"`
	Limit            int        `json:"limit"`
	ModifiedSince    *time.Time `json:"modifiedSince,omitempty"`
	SortDesc         bool       `json:"sortDesc"`
}

// ProcessPersonBatch asks a worker to hydrate, transform and upsert a set of
// CRM person IDs.
type ProcessPersonBatch struct {
	ProcessID    string   `json:"processId"`
	CRMPersonIDs []string `json:"crmPersonIds"`
	Page         *int     `json:"page,omitempty"`
	TotalInPage  int      `json:"totalInPage,omitempty"`
	IsWebhook    bool     `json:"isWebhook,omitempty"`
}

// CompleteSync closes out a sync process. Attempt counts completion-barrier
// re-enqueues.
type CompleteSync struct {
	ProcessID string `json:"processId"`
	Attempt   int    `json:"attempt,omitempty"`
}

// PostCreateSetup runs deferred webhook setup and the initial sync after an
// integration is created.
type PostCreateSetup struct {
	IntegrationID string `json:"integrationId"`
}

// SMSActivity is a telephony message event to project into the CRM.
type SMSActivity struct {
	PhoneNumber string    `json:"phoneNumber"`
	Direction   string    `json:"direction"`
	Body        string    `json:"body"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// CallActivity is a telephony call event to project into the CRM.
type CallActivity struct {
	PhoneNumber string    `json:"phoneNumber"`
	Direction   string    `json:"direction"`
	DurationSec int       `json:"durationSec"`
	Summary     string    `json:"summary,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Message is the tagged union sent through the durable queue. Exactly one
// payload field matching Event is populated.
type Message struct {
	ID            string `json:"id"`
	Event         Event  `json:"event"`
	IntegrationID string `json:"integrationId,omitempty"`

	FetchPage       *FetchPersonPage    `json:"fetchPage,omitempty"`
	ProcessBatch    *ProcessPersonBatch `json:"processBatch,omitempty"`
	CompleteSync    *CompleteSync       `json:"completeSync,omitempty"`
	PostCreateSetup *PostCreateSetup    `json:"postCreateSetup,omitempty"`
	SMS             *SMSActivity        `json:"sms,omitempty"`
	Call            *CallActivity       `json:"call,omitempty"`

	// DelaySeconds is a transport hint, not part of the body.
	DelaySeconds int32 `json:"-"`
}

const maxDelaySeconds = 900

// Encode assigns an ID when missing, clamps the delivery delay to the queue's
// supported range, and returns the JSON body.
func (m Message) Encode() (Message, string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.DelaySeconds < 0 {
		m.DelaySeconds = 0
	}
	if m.DelaySeconds > maxDelaySeconds {
		m.DelaySeconds = maxDelaySeconds
	}
	body, err := json.Marshal(m)
	if err != nil {
		return Message{}, "", fmt.Errorf("queue: failed to encode message: %w", err)
	}
	return m, string(body), nil
}

// Decode parses a message body back into a Message.
func Decode(body string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return Message{}, fmt.Errorf("queue: failed to decode message: %w", err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("queue: message %s has no event", m.ID)
	}
	return m, nil
}

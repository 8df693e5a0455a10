package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/callvault/quosync/internal/process"
)

type capturingSender struct {
	sent []EmailMessage
	err  error
}

func (c *capturingSender) Send(_ context.Context, msg EmailMessage) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func failedProcess() *process.Process {
	return &process.Process{
		ID:            "proc-1",
		IntegrationID: "int-1",
		Name:          "highlevel Contact sync",
		State:         process.StateFailed,
		Context: process.Context{
			PersonObjectType: "Contact",
		},
		Results: process.Results{
			AggregateData: process.AggregateData{
				TotalSynced: 40,
				TotalFailed: 10,
				Errors: []process.ErrorDetail{
					{Error: "No phone number available", ExternalID: "crm-9"},
				},
			},
		},
	}
}

func TestProcessFailedEmailsEveryRecipient(t *testing.T) {
	sender := &capturingSender{}
	svc := NewService(sender, []string{"ops@example.com", "oncall@example.com"}, nil)

	svc.ProcessFailed(context.Background(), failedProcess())

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if !strings.Contains(msg.Subject, "Sync failed") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"proc-1", "int-1", "Synced: 40", "Failed: 10", "No phone number available (record crm-9)"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestProcessCompletedCleanStaysQuiet(t *testing.T) {
	sender := &capturingSender{}
	svc := NewService(sender, []string{"ops@example.com"}, nil)

	p := failedProcess()
	p.State = process.StateCompleted
	p.Results.AggregateData.TotalFailed = 0
	p.Results.AggregateData.Errors = nil

	svc.ProcessCompleted(context.Background(), p)

	if len(sender.sent) != 0 {
		t.Fatalf("clean completion must not email, got %d", len(sender.sent))
	}
}

func TestProcessCompletedWithErrorsCapsErrorLines(t *testing.T) {
	sender := &capturingSender{}
	svc := NewService(sender, []string{"ops@example.com"}, nil)

	p := failedProcess()
	p.State = process.StateCompleted
	p.Results.AggregateData.Errors = nil
	for i := 0; i < 8; i++ {
		p.Results.AggregateData.Errors = append(p.Results.AggregateData.Errors, process.ErrorDetail{
			Error: fmt.Sprintf("error %d", i),
		})
	}

	svc.ProcessCompleted(context.Background(), p)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	body := sender.sent[0].Body
	if !strings.Contains(body, "completed but some records did not sync") {
		t.Fatalf("unexpected body:\n%s", body)
	}
	if strings.Contains(body, "error 2") || !strings.Contains(body, "error 7") {
		t.Fatalf("expected only the newest errors:\n%s", body)
	}
	if !strings.Contains(body, "... and 3 more") {
		t.Fatalf("expected overflow marker:\n%s", body)
	}
}

func TestSendFailureDoesNotAbortRemainingRecipients(t *testing.T) {
	sender := &capturingSender{err: errors.New("smtp down")}
	svc := NewService(sender, []string{"ops@example.com"}, nil)

	// Must not panic or propagate; hooks are best effort.
	svc.ProcessFailed(context.Background(), failedProcess())
}

func TestNoSenderConfiguredIsANoOp(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.ProcessFailed(context.Background(), failedProcess())
	svc.ProcessCompleted(context.Background(), failedProcess())
}

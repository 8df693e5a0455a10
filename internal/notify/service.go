package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/callvault/quosync/internal/process"
	"github.com/callvault/quosync/pkg/logging"
)

// maxErrorLines caps how many recorded errors an email quotes.
const maxErrorLines = 5

// Service emails operators about sync outcomes. It satisfies the engine's
// completion and failure hook shapes: a failed process always notifies,
// a completed one only when records failed to sync.
type Service struct {
	email      EmailSender
	recipients []string
	logger     *logging.Logger
}

// NewService creates a notification service. A nil sender or empty recipient
// list yields a service that logs and does nothing else, so callers can wire
// it unconditionally.
func NewService(email EmailSender, recipients []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		recipients: recipients,
		logger:     logger,
	}
}

// ProcessFailed emails operators that a sync run failed outright.
func (s *Service) ProcessFailed(ctx context.Context, p *process.Process) {
	subject := fmt.Sprintf("Sync failed: %s", p.Name)
	s.send(ctx, p, subject, "The sync run failed and will not resume on its own.")
}

// ProcessCompleted emails operators when a completed run recorded failures.
// Clean completions stay quiet.
func (s *Service) ProcessCompleted(ctx context.Context, p *process.Process) {
	if p.Results.AggregateData.TotalFailed == 0 {
		return
	}
	subject := fmt.Sprintf("Sync completed with errors: %s", p.Name)
	s.send(ctx, p, subject, "The sync run completed but some records did not sync.")
}

func (s *Service) send(ctx context.Context, p *process.Process, subject, headline string) {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("notify: no email sender or recipients configured, skipping", "process_id", p.ID)
		return
	}

	body := s.buildBody(p, headline)
	for _, recipient := range s.recipients {
		msg := EmailMessage{
			To:      recipient,
			Subject: subject,
			Body:    body,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send sync notification", "error", err, "to", recipient, "process_id", p.ID)
			continue
		}
		s.logger.Info("notify: sync notification sent", "to", recipient, "process_id", p.ID)
	}
}

func (s *Service) buildBody(p *process.Process, headline string) string {
	agg := p.Results.AggregateData

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", headline)
	fmt.Fprintf(&b, "Process: %s (%s)\n", p.Name, p.ID)
	fmt.Fprintf(&b, "Integration: %s\n", p.IntegrationID)
	fmt.Fprintf(&b, "Object type: %s\n", p.Context.PersonObjectType)
	fmt.Fprintf(&b, "State: %s\n", p.State)
	fmt.Fprintf(&b, "Synced: %d\n", agg.TotalSynced)
	fmt.Fprintf(&b, "Failed: %d\n", agg.TotalFailed)
	if agg.DurationSeconds > 0 {
		fmt.Fprintf(&b, "Duration: %.1fs\n", agg.DurationSeconds)
	}

	if len(agg.Errors) > 0 {
		fmt.Fprintf(&b, "\nRecent errors:\n")
		shown := agg.Errors
		if len(shown) > maxErrorLines {
			shown = shown[len(shown)-maxErrorLines:]
		}
		for _, detail := range shown {
			line := detail.Error
			if detail.ExternalID != "" {
				line = fmt.Sprintf("%s (record %s)", line, detail.ExternalID)
			}
			fmt.Fprintf(&b, "  - %s\n", line)
		}
		if len(agg.Errors) > maxErrorLines {
			fmt.Fprintf(&b, "  ... and %d more\n", len(agg.Errors)-maxErrorLines)
		}
	}

	b.WriteString("\n— Quo Sync")
	return b.String()
}

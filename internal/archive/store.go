// Package archive persists finished sync process records to S3 so the
// operational DynamoDB table can stay lean while history remains queryable.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/callvault/quosync/internal/process"
	"github.com/callvault/quosync/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ManifestEntry is one JSONL line in the monthly manifest.
type ManifestEntry struct {
	ProcessID     string `json:"processId"`
	IntegrationID string `json:"integrationId"`
	S3Key         string `json:"s3Key"`
	State         string `json:"state"`
	TotalSynced   int    `json:"totalSynced"`
	TotalFailed   int    `json:"totalFailed"`
	ArchivedAt    string `json:"archivedAt"`
}

// Store archives process records to S3. It satisfies the engine's completion
// and failure hook shapes so it can observe both terminal states.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ProcessCompleted archives a completed process. Best effort.
func (s *Store) ProcessCompleted(ctx context.Context, p *process.Process) {
	if err := s.ArchiveProcess(ctx, p); err != nil {
		s.logger.Error("failed to archive completed process", "error", err, "process_id", p.ID)
	}
}

// ProcessFailed archives a failed process. Best effort.
func (s *Store) ProcessFailed(ctx context.Context, p *process.Process) {
	if err := s.ArchiveProcess(ctx, p); err != nil {
		s.logger.Error("failed to archive failed process", "error", err, "process_id", p.ID)
	}
}

// ArchiveProcess writes the process record as JSON to S3 and appends to the
// monthly manifest.
func (s *Store) ArchiveProcess(ctx context.Context, p *process.Process) error {
	if !s.Enabled() {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("archive: marshal process: %w", err)
	}

	s3Key := fmt.Sprintf("processes/%s/%s.json", p.IntegrationID, p.ID)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived process to S3",
		"process_id", p.ID,
		"s3_key", s3Key,
		"state", string(p.State))

	entry := ManifestEntry{
		ProcessID:     p.ID,
		IntegrationID: p.IntegrationID,
		S3Key:         s3Key,
		State:         string(p.State),
		TotalSynced:   p.Results.AggregateData.TotalSynced,
		TotalFailed:   p.Results.AggregateData.TotalFailed,
		ArchivedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// The record itself is already archived.
		s.logger.Warn("failed to append manifest", "error", err, "process_id", p.ID)
	}
	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := time.Now().UTC()
	manifestKey := fmt.Sprintf("manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	if err != nil {
		if !isNotFoundErr(err) {
			s.logger.Debug("manifest read failed, starting fresh", "key", manifestKey, "error", err)
		}
	} else {
		existing, _ = io.ReadAll(getResp.Body)
		getResp.Body.Close()
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

// isNotFoundErr checks if the error is an S3 NoSuchKey error.
func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}

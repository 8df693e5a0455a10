package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callvault/quosync/internal/process"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte // key -> body
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "NoSuchKey: key not found" }

func completedProcess(id string) *process.Process {
	return &process.Process{
		ID:            id,
		IntegrationID: "int-1",
		Name:          "highlevel Contact sync",
		State:         process.StateCompleted,
		Results: process.Results{
			AggregateData: process.AggregateData{
				TotalSynced: 250,
				TotalFailed: 3,
			},
		},
	}
}

func TestStore_ArchiveProcess(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	err := store.ArchiveProcess(context.Background(), completedProcess("proc-123"))
	require.NoError(t, err)

	// Should have 2 PutObject calls: process + manifest
	assert.Len(t, mock.putCalls, 2)
	assert.Equal(t, "processes/int-1/proc-123.json", mock.putCalls[0].key)

	var decoded process.Process
	err = json.Unmarshal(mock.putCalls[0].body, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "proc-123", decoded.ID)
	assert.Equal(t, 250, decoded.Results.AggregateData.TotalSynced)

	assert.Contains(t, mock.putCalls[1].key, "manifests/")
	var entry ManifestEntry
	err = json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry)
	require.NoError(t, err)
	assert.Equal(t, "proc-123", entry.ProcessID)
	assert.Equal(t, "COMPLETED", entry.State)
}

func TestStore_ManifestAccumulates(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	require.NoError(t, store.ArchiveProcess(context.Background(), completedProcess("proc-1")))
	require.NoError(t, store.ArchiveProcess(context.Background(), completedProcess("proc-2")))

	var manifestKey string
	for key := range mock.objects {
		if strings.HasPrefix(key, "manifests/") {
			manifestKey = key
		}
	}
	require.NotEmpty(t, manifestKey)

	lines := strings.Split(strings.TrimSpace(string(mock.objects[manifestKey])), "\n")
	require.Len(t, lines, 2)

	var first, second ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "proc-1", first.ProcessID)
	assert.Equal(t, "proc-2", second.ProcessID)
}

func TestStore_FailureHookArchivesFailedState(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	p := completedProcess("proc-9")
	p.State = process.StateFailed
	store.ProcessFailed(context.Background(), p)

	require.NotEmpty(t, mock.putCalls)
	var decoded process.Process
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, process.StateFailed, decoded.State)
}

func TestStore_DisabledWithoutBucket(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "", nil)

	assert.False(t, store.Enabled())
	require.NoError(t, store.ArchiveProcess(context.Background(), completedProcess("proc-1")))
	assert.Empty(t, mock.putCalls)
}

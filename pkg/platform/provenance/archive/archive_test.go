package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/memory"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func sampleEvents(t *testing.T) []provenance.Event {
	t.Helper()
	ctx := context.Background()
	log := provenance.New("Shop", memory.NewInMemoryStore())
	for _, op := range []provenance.Operation{provenance.OpSource, provenance.OpTransferOut} {
		_, err := log.Append(ctx, provenance.AppendRequest{
			Operation: op, UserID: "u1", TagID: "t1", DestinationApp: "Pay",
			Metadata: map[string]any{"path": "/charge"},
		})
		require.NoError(t, err)
	}
	events, err := log.AllEvents(ctx)
	require.NoError(t, err)
	return events
}

func TestNDJSONPreservesEventsAndOrder(t *testing.T) {
	events := sampleEvents(t)

	var buf bytes.Buffer
	require.NoError(t, WriteNDJSON(&buf, events))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), `"operation":"transfer_out"`)

	back, err := ReadNDJSON(&buf)
	require.NoError(t, err)
	require.Len(t, back, 2)
	for i := range events {
		assert.Equal(t, events[i].EventID, back[i].EventID)
		assert.True(t, events[i].Timestamp.Equal(back[i].Timestamp))
		assert.Equal(t, events[i].Metadata, back[i].Metadata)
	}
}

func TestReadNDJSONRejectsGarbage(t *testing.T) {
	_, err := ReadNDJSON(bytes.NewBufferString("{\"event_id\":\"a\"}\nnot-json\n"))
	require.Error(t, err)
}

func TestArchiverUpload(t *testing.T) {
	client := &fakeS3{}
	a := NewArchiver(client, S3Config{Bucket: "audit"})
	a.now = func() time.Time { return time.Date(2026, 7, 9, 1, 2, 3, 4, time.UTC) }

	key, err := a.Upload(context.Background(), "Shop", sampleEvents(t))
	require.NoError(t, err)
	assert.Equal(t, "provenance/Shop/2026/07/09/1783558923000000004.ndjson", key)
	assert.Equal(t, "audit", aws.ToString(client.input.Bucket))
	assert.Equal(t, "2", client.input.Metadata["event-count"])
	assert.Len(t, client.input.Metadata["sha256"], 64)

	back, err := ReadNDJSON(bytes.NewReader(client.body))
	require.NoError(t, err)
	assert.Len(t, back, 2)
}

func TestArchiverUploadError(t *testing.T) {
	a := NewArchiver(&fakeS3{err: errors.New("access denied")}, S3Config{Bucket: "audit"})
	_, err := a.Upload(context.Background(), "Shop", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://audit/")
}

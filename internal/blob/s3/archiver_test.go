package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

type fakeWriter struct {
	puts map[string][]byte
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = b
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeEventStore struct{ events []domain.Event }

func (s *fakeEventStore) ListSettledBefore(context.Context, time.Time) ([]domain.Event, error) {
	return s.events, nil
}

type fakeWagerStore struct{ wagers []domain.Wager }

func (s *fakeWagerStore) ListSettledBefore(context.Context, time.Time) ([]domain.Wager, error) {
	return s.wagers, nil
}

type fakeAudit struct{ logged []string }

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.logged = append(a.logged, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveEvents(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	events := &fakeEventStore{events: []domain.Event{
		{ID: "ev-1", Status: domain.EventStatusSettled},
		{ID: "ev-2", Status: domain.EventStatusVoided},
	}}
	arch := NewArchiver(writer, events, &fakeWagerStore{}, audit)

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveEvents(t.Context(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	body, ok := writer.puts["archive/events/2026-03.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ev-1")

	assert.Equal(t, []string{"archive.events"}, audit.logged)
}

func TestArchiveWagersEmptySkipsUpload(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch := NewArchiver(writer, &fakeEventStore{}, &fakeWagerStore{}, audit)

	count, err := arch.ArchiveWagers(t.Context(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Empty(t, writer.puts)
	assert.Empty(t, audit.logged)
}

func TestMarshalJSONL(t *testing.T) {
	buf, err := marshalJSONL([]domain.Wager{
		{Identity: "alice", EventID: "ev", Amount: 5_000_000},
		{Identity: "bob", EventID: "ev", Amount: 3_000_000},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(buf, []byte("\n")))
}

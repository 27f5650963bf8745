package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

type fakeBlobs struct {
	objects map[string][]byte
	parts   map[string]int64
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, parts: map[string]int64{}}
}

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	f.parts[path] = partSize
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func TestArchiveTradeWritesOnce(t *testing.T) {
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs)
	ctx := context.Background()

	trade := domain.TradeHistory{
		PositionID: "555",
		Pair:       "EURUSD",
		Direction:  domain.PositionTypeBuy,
		Profit:     42,
		CloseTime:  time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC),
	}

	path, written, err := a.ArchiveTrade(ctx, trade)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "archive/trades/2024/03/555.json", path)

	var got domain.TradeHistory
	require.NoError(t, json.Unmarshal(blobs.objects[path], &got))
	assert.Equal(t, "EURUSD", got.Pair)

	trade.Profit = 1
	_, written, err = a.ArchiveTrade(ctx, trade)
	require.NoError(t, err)
	assert.False(t, written)
	require.NoError(t, json.Unmarshal(blobs.objects[path], &got))
	assert.Equal(t, 42.0, got.Profit)
}

func TestExportLogsJSONL(t *testing.T) {
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, nil)

	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	entries := []domain.StreamingLog{
		{ID: 1, Type: domain.LogSessionStarted, Message: "started"},
		{ID: 2, Type: domain.LogPositionOpened, Message: "opened <EURUSD>"},
	}
	path, err := a.ExportLogs(context.Background(), entries, at)
	require.NoError(t, err)
	assert.Equal(t, "archive/streaming_logs/2024-05-01T030000.jsonl", path)
	assert.Equal(t, exportPartSize, blobs.parts[path])

	sc := bufio.NewScanner(bytes.NewReader(blobs.objects[path]))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "opened <EURUSD>")
}

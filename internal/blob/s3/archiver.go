package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// exportPartSize is used for streaming log exports, which can be large.
const exportPartSize int64 = 8 * 1024 * 1024

// Archiver keeps a cold copy of closed trades and exported streaming logs in
// object storage.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates an Archiver. reader may be nil, in which case objects
// are always (re)written.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *Archiver {
	return &Archiver{writer: writer, reader: reader}
}

// TradePath returns the object key of an archived trade:
//
//	archive/trades/2024/03/123456.json
func TradePath(t domain.TradeHistory) string {
	ts := t.CloseTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return fmt.Sprintf("archive/trades/%s/%s.json", ts.UTC().Format("2006/01"), t.PositionID)
}

// ArchiveTrade uploads t as a JSON document. An existing object is left
// untouched and reported as not written.
func (a *Archiver) ArchiveTrade(ctx context.Context, t domain.TradeHistory) (string, bool, error) {
	path := TradePath(t)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return path, false, err
		}
		if exists {
			return path, false, nil
		}
	}

	body, err := json.Marshal(t)
	if err != nil {
		return path, false, fmt.Errorf("s3blob: marshal trade %s: %w", t.PositionID, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return path, false, err
	}
	return path, true, nil
}

// ExportLogs writes entries as JSONL to archive/streaming_logs/<date>.jsonl
// and returns the object key.
func (a *Archiver) ExportLogs(ctx context.Context, entries []domain.StreamingLog, at time.Time) (string, error) {
	path := fmt.Sprintf("archive/streaming_logs/%s.jsonl", at.UTC().Format("2006-01-02T150405"))
	if len(entries) == 0 {
		return path, nil
	}
	buf, err := marshalJSONL(entries)
	if err != nil {
		return path, fmt.Errorf("s3blob: export logs marshal: %w", err)
	}
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), exportPartSize); err != nil {
		return path, err
	}
	return path, nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

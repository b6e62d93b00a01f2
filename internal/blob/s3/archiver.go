package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	eventsPrefix     = "archive/events/"

	// DefaultMultipartThreshold is the payload size above which archives are
	// uploaded through the multipart manager.
	DefaultMultipartThreshold int64 = 64 * 1024 * 1024
)

// EventSource lists committed events created in a time range.
type EventSource interface {
	ListRange(ctx context.Context, from, before time.Time) ([]domain.Event, error)
}

// EventPruner removes events from the primary store once archived.
type EventPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventArchiver implements domain.Archiver. It exports outbox events to
// JSONL objects partitioned by month and optionally prunes them afterwards.
type EventArchiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	events    EventSource
	pruner    EventPruner
	audit     domain.AuditStore
	logger    *slog.Logger
	threshold int64
}

// NewEventArchiver creates an EventArchiver. pruner may be nil, in which case
// archived events stay in the primary store.
func NewEventArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events EventSource,
	pruner EventPruner,
	audit domain.AuditStore,
	logger *slog.Logger,
) *EventArchiver {
	return &EventArchiver{
		writer:    writer,
		reader:    reader,
		events:    events,
		pruner:    pruner,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		threshold: DefaultMultipartThreshold,
	}
}

// ArchiveEvents uploads the events created between the newest existing
// archive's cutoff and before to archive/events/YYYY-MM/<cutoff>.jsonl and
// returns how many were written. The cutoff is truncated to the second. A
// cutoff at or behind the newest archive writes nothing, so repeated runs
// never export an event twice.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC().Truncate(time.Second)
	path := archivePath(before)

	from, err := a.archivedThrough(ctx)
	if err != nil {
		return 0, err
	}
	if !before.After(from) {
		a.logger.InfoContext(ctx, "events already archived",
			slog.Time("before", before),
			slog.Time("archived_through", from),
		)
		return 0, nil
	}

	events, err := a.events.ListRange(ctx, from, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	if int64(len(buf)) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))
	detail := map[string]any{
		"path":   path,
		"count":  count,
		"bytes":  len(buf),
		"from":   from.Format(time.RFC3339),
		"before": before.Format(time.RFC3339),
	}

	if a.pruner != nil {
		pruned, err := a.pruner.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive events prune: %w", err)
		}
		detail["pruned"] = pruned
	}

	if err := a.audit.Log(ctx, domain.AuditEntry{Event: "archive.events", Detail: detail}); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}

	a.logger.InfoContext(ctx, "events archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// archivedThrough returns the newest cutoff among the existing archives, or
// the zero time when there are none.
func (a *EventArchiver) archivedThrough(ctx context.Context) (time.Time, error) {
	infos, err := a.reader.List(ctx, eventsPrefix)
	if err != nil {
		return time.Time{}, fmt.Errorf("s3blob: archive events list: %w", err)
	}
	var last time.Time
	for _, obj := range infos {
		if obj.Cutoff.After(last) {
			last = obj.Cutoff
		}
	}
	return last, nil
}

// ListArchives returns every event archive, oldest cutoff first.
func (a *EventArchiver) ListArchives(ctx context.Context) ([]domain.ArchiveObject, error) {
	objs, err := a.reader.List(ctx, eventsPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	slices.SortFunc(objs, func(x, y domain.ArchiveObject) int {
		return x.Cutoff.Compare(y.Cutoff)
	})
	return objs, nil
}

// ReadArchive decodes the events stored in one archive object.
func (a *EventArchiver) ReadArchive(ctx context.Context, path string) ([]domain.Event, error) {
	if !strings.HasPrefix(path, eventsPrefix) {
		return nil, fmt.Errorf("s3blob: read archive %s: %w", path, domain.ErrNotFound)
	}

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read archive exists: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("s3blob: read archive %s: %w", path, domain.ErrNotFound)
	}

	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read archive: %w", err)
	}
	defer body.Close()

	return unmarshalJSONL(body)
}

// archivePath partitions archives by the cutoff's month:
//
//	archive/events/2026-05/20260501T000000Z.jsonl
func archivePath(before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s%s/%s.jsonl", eventsPrefix, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// archiveCutoff parses the cutoff back out of an archivePath.
func archiveCutoff(path string) (time.Time, bool) {
	name := path[strings.LastIndex(path, "/")+1:]
	stamp, ok := strings.CutSuffix(name, ".jsonl")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102T150405Z", stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// marshalJSONL serialises records as newline-delimited JSON.
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

func unmarshalJSONL(r io.Reader) ([]domain.Event, error) {
	dec := json.NewDecoder(r)
	var events []domain.Event
	for {
		var e domain.Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("jsonl decode record %d: %w", len(events), err)
		}
		events = append(events, e)
	}
}

var _ domain.Archiver = (*EventArchiver)(nil)

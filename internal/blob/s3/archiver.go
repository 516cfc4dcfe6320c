package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// EventArchiveStore, TradeArchiveStore, and ExecutionArchiveStore are the
// narrow read slices of domain.EventQueueStore / domain.TradeStore /
// domain.ExecutionStore this archiver actually calls, following the same
// interface-segregation style as the rest of internal/domain.
type EventArchiveStore interface {
	ListProcessedBefore(ctx context.Context, opts domain.ListOpts) ([]domain.OnchainEvent, error)
}

type TradeArchiveStore interface {
	ListBefore(ctx context.Context, opts domain.ListOpts) ([]domain.OnchainTrade, error)
}

type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, opts domain.ListOpts) ([]domain.Execution, error)
}

// ArchiveVerifier confirms an object actually landed in cold storage after
// upload. A Put that returns success doesn't guarantee the object is
// read-back-able on every S3-compatible provider (eventual consistency on
// some backends), so upload re-reads both objects with HeadObject before the
// run is recorded as audited.
type ArchiveVerifier interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old rows, serializing them to JSONL plus a protobuf-encoded run manifest,
// and uploading both to S3.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here -- that is a separate, explicit operational step taken only
// after the archive has been verified.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	verifier   ArchiveVerifier
	events     EventArchiveStore
	trades     TradeArchiveStore
	executions ExecutionArchiveStore
	audit      domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. verifier may be nil, in which case
// upload skips the post-write existence check.
func NewArchiver(
	writer domain.BlobWriter,
	verifier ArchiveVerifier,
	events EventArchiveStore,
	trades TradeArchiveStore,
	executions ExecutionArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, verifier: verifier, events: events, trades: trades, executions: executions, audit: audit}
}

// ArchiveEvents queries processed onchain_events rows older than before,
// serializes them to JSONL, and uploads the result plus a manifest to S3 at
// archive/events/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.events.ListProcessedBefore(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return a.upload(ctx, "events", before, rows, int64(len(rows)))
}

// ArchiveTrades queries onchain_trades rows older than before, serializes
// them to JSONL, and uploads the result plus a manifest to S3 at
// archive/trades/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.trades.ListBefore(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return a.upload(ctx, "trades", before, rows, int64(len(rows)))
}

// ArchiveExecutions queries executions rows older than before, serializes
// them to JSONL, and uploads the result plus a manifest to S3 at
// archive/executions/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.executions.ListBefore(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return a.upload(ctx, "executions", before, rows, int64(len(rows)))
}

// upload is the shared tail of all three Archive* methods: marshal to JSONL,
// put the JSONL object, put a protobuf manifest sidecar describing the run,
// then record the run in the audit log.
func (a *ArchiveImpl) upload(ctx context.Context, kind string, before time.Time, records any, count int64) (int64, error) {
	var buf []byte
	var err error
	switch v := records.(type) {
	case []domain.OnchainEvent:
		buf, err = marshalJSONL(v)
	case []domain.OnchainTrade:
		buf, err = marshalJSONL(v)
	case []domain.Execution:
		buf, err = marshalJSONL(v)
	default:
		return 0, fmt.Errorf("s3blob: archive %s: unsupported record type %T", kind, records)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	manifestPath, manifestBuf, err := buildManifest(kind, before, count)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive %s manifest encode: %w", kind, err)
	}
	if err := a.writer.Put(ctx, manifestPath, bytes.NewReader(manifestBuf), "application/x-protobuf"); err != nil {
		return count, fmt.Errorf("s3blob: archive %s manifest upload: %w", kind, err)
	}

	if err := a.verify(ctx, kind, path, manifestPath); err != nil {
		return count, err
	}

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":          path,
		"manifest_path": manifestPath,
		"count":         count,
		"before":        before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// verify re-reads both uploaded objects back from cold storage before a run
// is considered audited. A no-op when no verifier was configured.
func (a *ArchiveImpl) verify(ctx context.Context, kind, path, manifestPath string) error {
	if a.verifier == nil {
		return nil
	}
	ok, err := a.verifier.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s verify: %w", kind, err)
	}
	if !ok {
		return fmt.Errorf("s3blob: archive %s verify: %s not found after upload", kind, path)
	}
	ok, err = a.verifier.Exists(ctx, manifestPath)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s manifest verify: %w", kind, err)
	}
	if !ok {
		return fmt.Errorf("s3blob: archive %s manifest verify: %s not found after upload", kind, manifestPath)
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/events/2025-01.jsonl
//	archive/trades/2025-01.jsonl
//	archive/executions/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// buildManifest protobuf-encodes a small run summary alongside the JSONL
// body, so a downstream cold-storage reader can inspect row counts and
// boundaries without parsing the full JSONL payload.
func buildManifest(kind string, before time.Time, count int64) (string, []byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"kind":   kind,
		"before": before.Format(time.RFC3339),
		"count":  count,
	})
	if err != nil {
		return "", nil, fmt.Errorf("build manifest struct: %w", err)
	}
	buf, err := proto.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return fmt.Sprintf("archive/%s/%s.manifest.pb", kind, before.Format("2006-01")), buf, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)

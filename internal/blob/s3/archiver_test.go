package s3blob

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

type fakeWriter struct {
	puts []string
}

func (f *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	f.puts = append(f.puts, path)
	return nil
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	f.puts = append(f.puts, path)
	return nil
}

type fakeVerifier struct {
	missing map[string]bool
	checked []string
}

func (f *fakeVerifier) Exists(ctx context.Context, path string) (bool, error) {
	f.checked = append(f.checked, path)
	return !f.missing[path], nil
}

type fakeAuditStore struct {
	logged []string
}

func (f *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	f.logged = append(f.logged, event)
	return nil
}

func (f *fakeAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeEventStore struct{ rows []domain.OnchainEvent }

func (f *fakeEventStore) ListProcessedBefore(ctx context.Context, opts domain.ListOpts) ([]domain.OnchainEvent, error) {
	return f.rows, nil
}

func TestArchiveEventsVerifiesBothUploadedObjects(t *testing.T) {
	writer := &fakeWriter{}
	verifier := &fakeVerifier{missing: map[string]bool{}}
	audit := &fakeAuditStore{}
	events := &fakeEventStore{rows: []domain.OnchainEvent{{TxHash: "0xabc", LogIndex: 1}}}

	a := NewArchiver(writer, verifier, events, nil, nil, audit)
	count, err := a.ArchiveEvents(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveEvents: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if len(verifier.checked) != 2 {
		t.Fatalf("verifier checked %d paths, want 2 (jsonl + manifest)", len(verifier.checked))
	}
	if len(audit.logged) != 1 {
		t.Errorf("audit entries = %d, want 1", len(audit.logged))
	}
}

func TestArchiveEventsFailsWhenUploadDoesNotVerify(t *testing.T) {
	writer := &fakeWriter{}
	events := &fakeEventStore{rows: []domain.OnchainEvent{{TxHash: "0xabc", LogIndex: 1}}}
	audit := &fakeAuditStore{}

	// Verifier reports the JSONL path missing, simulating a Put that returned
	// success but never actually landed in the bucket.
	verifier := &fakeVerifier{missing: map[string]bool{}}
	a := NewArchiver(writer, verifier, events, nil, nil, audit)

	// Force a miss by checking the path the archiver will actually write.
	path := archivePath("events", time.Unix(0, 0).UTC())
	verifier.missing[path] = true

	_, err := a.ArchiveEvents(context.Background(), time.Unix(0, 0).UTC())
	if err == nil {
		t.Fatal("expected an error when the uploaded object fails verification")
	}
	if len(audit.logged) != 0 {
		t.Error("expected no audit entry when verification fails")
	}
}

func TestArchiveEventsSkipsVerificationWhenNoVerifierConfigured(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAuditStore{}
	events := &fakeEventStore{rows: []domain.OnchainEvent{{TxHash: "0xabc", LogIndex: 1}}}

	a := NewArchiver(writer, nil, events, nil, nil, audit)
	if _, err := a.ArchiveEvents(context.Background(), time.Now()); err != nil {
		t.Fatalf("ArchiveEvents with nil verifier: %v", err)
	}
	if len(audit.logged) != 1 {
		t.Error("expected the run to still be audited when no verifier is configured")
	}
}

func TestArchiveEventsReturnsZeroWithoutUploadWhenNoRows(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAuditStore{}
	events := &fakeEventStore{}

	a := NewArchiver(writer, &fakeVerifier{missing: map[string]bool{}}, events, nil, nil, audit)
	count, err := a.ArchiveEvents(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveEvents: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	if len(writer.puts) != 0 {
		t.Error("expected no upload for an empty result set")
	}
}

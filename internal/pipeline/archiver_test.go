package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeBlobArchiver struct {
	eventsCalledWith, tradesCalledWith, executionsCalledWith time.Time
	events, trades, executions                               int64
}

func (f *fakeBlobArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	f.eventsCalledWith = before
	return f.events, nil
}

func (f *fakeBlobArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	f.tradesCalledWith = before
	return f.trades, nil
}

func (f *fakeBlobArchiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	f.executionsCalledWith = before
	return f.executions, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunArchivesAllThreeKindsWithSameCutoff(t *testing.T) {
	blob := &fakeBlobArchiver{events: 3, trades: 5, executions: 1}
	a := NewArchiver(blob, 90, discardLogger())

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if blob.eventsCalledWith.IsZero() || blob.tradesCalledWith.IsZero() || blob.executionsCalledWith.IsZero() {
		t.Fatal("expected all three archive calls to receive a cutoff")
	}
	if !blob.eventsCalledWith.Equal(blob.tradesCalledWith) || !blob.tradesCalledWith.Equal(blob.executionsCalledWith) {
		t.Error("expected all three archive calls to share the same cutoff")
	}

	expectedCutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	if d := blob.eventsCalledWith.Sub(expectedCutoff); d < -time.Minute || d > time.Minute {
		t.Errorf("cutoff = %v, want close to %v", blob.eventsCalledWith, expectedCutoff)
	}
}

func TestParseCronFieldWildcard(t *testing.T) {
	f, err := parseCronField("*", 0, 59)
	if err != nil {
		t.Fatalf("parseCronField(*): %v", err)
	}
	if !f.matches(0) || !f.matches(59) {
		t.Error("wildcard field should match any value")
	}
}

func TestParseCronFieldList(t *testing.T) {
	f, err := parseCronField("1,15,30", 0, 59)
	if err != nil {
		t.Fatalf("parseCronField(1,15,30): %v", err)
	}
	if !f.matches(15) || f.matches(16) {
		t.Error("list field should only match listed values")
	}
}

func TestParseCronFieldRange(t *testing.T) {
	f, err := parseCronField("9-17", 0, 23)
	if err != nil {
		t.Fatalf("parseCronField(9-17): %v", err)
	}
	if !f.matches(9) || !f.matches(17) || f.matches(8) || f.matches(18) {
		t.Error("range field should match only its bounds inclusive")
	}
}

func TestParseCronFieldStep(t *testing.T) {
	f, err := parseCronField("*/15", 0, 59)
	if err != nil {
		t.Fatalf("parseCronField(*/15): %v", err)
	}
	for _, v := range []int{0, 15, 30, 45} {
		if !f.matches(v) {
			t.Errorf("expected */15 to match %d", v)
		}
	}
	if f.matches(16) {
		t.Error("expected */15 not to match 16")
	}
}

func TestParseCronFieldRangeStep(t *testing.T) {
	f, err := parseCronField("1-10/2", 0, 59)
	if err != nil {
		t.Fatalf("parseCronField(1-10/2): %v", err)
	}
	if !f.matches(1) || !f.matches(3) || f.matches(2) || f.matches(11) {
		t.Error("range/step field should match every other value within bounds")
	}
}

func TestParseCronFieldInvalid(t *testing.T) {
	if _, err := parseCronField("not-a-number", 0, 59); err == nil {
		t.Fatal("expected an error for a non-numeric cron field")
	}
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseCron("0 3 1 *"); err == nil {
		t.Fatal("expected an error for a 4-field cron expression")
	}
}

func TestNextCronTimeMonthlyAtThreeAM(t *testing.T) {
	after := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next, err := nextCronTime("0 3 1 * *", after)
	if err != nil {
		t.Fatalf("nextCronTime: %v", err)
	}
	want := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextCronTime() = %v, want %v", next, want)
	}
}

func TestNextCronTimeEveryMinute(t *testing.T) {
	after := time.Date(2026, 7, 31, 12, 0, 30, 0, time.UTC)
	next, err := nextCronTime("* * * * *", after)
	if err != nil {
		t.Fatalf("nextCronTime: %v", err)
	}
	want := time.Date(2026, 7, 31, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextCronTime() = %v, want %v", next, want)
	}
}

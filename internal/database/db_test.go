package database

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, migrationsDir+"/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, f := range files {
		body, err := fs.ReadFile(migrations, f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") || !strings.Contains(string(body), "-- +goose Down") {
			t.Errorf("%s lacks goose annotations", f)
		}
	}
}

func TestInitDBRejectsEmptyDSN(t *testing.T) {
	if _, err := InitDB(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

// TestViolationStorePostgres runs against a real database when
// PPE_TEST_DATABASE_URL is set.
func TestViolationStorePostgres(t *testing.T) {
	dsn := os.Getenv("PPE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PPE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := InitDB(ctx, dsn)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer store.Close()

	source := "test-" + time.Now().Format("20060102150405.000000000")
	track := int64(42)
	ev := models.ViolationEvent{
		SessionID:   "session-1",
		SourceID:    source,
		TrackID:     &track,
		Reason:      models.ReasonFirstDetection,
		Severity:    models.SeverityCritical,
		MissingPPE:  []string{"hard_hat", "safety_vest"},
		RecordCount: 1,
		RecordedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	for i := 0; i < 2; i++ {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.List(ctx, ListFilter{SourceID: source})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d rows, want 1 (replay must be ignored)", len(got))
	}
	if got[0].TrackID == nil || *got[0].TrackID != 42 || len(got[0].MissingPPE) != 2 {
		t.Errorf("row = %+v", got[0])
	}
}

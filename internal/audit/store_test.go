package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(dsn, &gorm.Config{Logger: NewGormLogger(loggingpkg.Nop(), gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("gorm store: %v", err)
	}
	return store
}

func seedRecords(t *testing.T, store Store) time.Time {
	t.Helper()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "r1", EntityID: "a1", EntityType: EntityAsset, Action: ActionCreated, UserID: "u1", UserName: "u1", Severity: DefaultSeverity, CreatedAt: base},
		{ID: "r2", EntityID: "a1", EntityType: EntityAsset, Action: ActionUpdated, UserID: "u2", UserName: "u2", Severity: SeverityCritical, CreatedAt: base.Add(time.Hour)},
		{ID: "r3", EntityID: "u9", EntityType: EntityUser, Action: ActionCreated, UserID: "u1", UserName: "u1", Severity: DefaultSeverity, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "r4", EntityID: "a2", EntityType: EntityAsset, Action: ActionCreated, UserID: SystemUser, UserName: SystemUser, Severity: DefaultSeverity, CreatedAt: base.Add(3 * time.Hour)},
	}
	for _, rec := range records {
		rec.Payload = json.RawMessage(fmt.Sprintf(`{"id":%q}`, rec.EntityID))
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append %s: %v", rec.ID, err)
		}
	}
	return base
}

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ID)
	}
	return out
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func runStoreContract(t *testing.T, store Store) {
	base := seedRecords(t, store)
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  []string
		total int64
	}{
		{"all newest first", Query{}, []string{"r4", "r3", "r2", "r1"}, 4},
		{"by entity type", Query{EntityType: EntityAsset}, []string{"r4", "r2", "r1"}, 3},
		{"by action", Query{Action: ActionCreated}, []string{"r4", "r3", "r1"}, 3},
		{"by entity id", Query{EntityID: "a1"}, []string{"r2", "r1"}, 2},
		{"by user", Query{UserID: "u1"}, []string{"r3", "r1"}, 2},
		{"date range inclusive", Query{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)}, []string{"r3", "r2"}, 2},
		{"paging", Query{Offset: 1, Limit: 2}, []string{"r3", "r2"}, 4},
		{"offset past end", Query{Offset: 10}, nil, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.List(ctx, tt.query)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if page.Total != tt.total {
				t.Fatalf("expected total %d, got %d", tt.total, page.Total)
			}
			if got := ids(page.Records); !equalIDs(got, tt.want...) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	rec, err := store.Get(ctx, "r2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(rec.Payload) != `{"id":"a1"}` || !rec.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	report, err := BuildReport(ctx, store, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.TotalActions != 4 || report.CriticalActions != 1 {
		t.Fatalf("unexpected report totals %+v", report)
	}
	if report.ActionsByType[ActionCreated] != 3 || report.ActionsByUser["u1"] != 2 {
		t.Fatalf("unexpected report breakdown %+v", report)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestGormStoreContract(t *testing.T) {
	runStoreContract(t, newSQLiteStore(t))
}

func TestGormStoreDefaultPageSize(t *testing.T) {
	store := newSQLiteStore(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < DefaultPageSize+5; i++ {
		rec := Record{
			ID:         fmt.Sprintf("r%02d", i),
			EntityType: EntityAsset,
			Action:     ActionCreated,
			UserID:     SystemUser,
			UserName:   SystemUser,
			Severity:   DefaultSeverity,
			Payload:    json.RawMessage(`{}`),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := store.List(context.Background(), Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Records) != DefaultPageSize || page.Total != int64(DefaultPageSize+5) {
		t.Fatalf("expected a default page of %d out of %d, got %d/%d", DefaultPageSize, DefaultPageSize+5, len(page.Records), page.Total)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("  ", nil); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := NewGormStore(nil); err == nil {
		t.Fatal("expected error for nil database")
	}
}

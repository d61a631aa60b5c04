package oplog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"emhub/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), DefaultLogsFile))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndReadOperations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userID := 3
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	ops := []core.Operation{
		{UserID: &userID, Type: "request", Name: "create_booking",
			Timestamp: base,
			Args:      []any{"Krios01"},
			Kwargs:    map[string]any{"days": 3.0}},
		{Type: "task", Name: "update_session", Timestamp: base.Add(time.Hour)},
		{Type: "request", Name: "create_booking", Timestamp: base.Add(2 * time.Hour)},
	}
	for _, op := range ops {
		if err := s.Append(ctx, op); err != nil {
			t.Fatalf("append %s: %v", op.Name, err)
		}
	}

	all, err := s.Operations(ctx, OperationFilter{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(all))
	}
	first := all[0]
	if first.UserID == nil || *first.UserID != userID {
		t.Fatalf("user id not preserved: %+v", first)
	}
	if first.Kwargs["days"] != 3.0 || len(first.Args) != 1 || first.Args[0] != "Krios01" {
		t.Fatalf("arguments not preserved: %+v", first)
	}
	if !first.Timestamp.Equal(base) {
		t.Fatalf("timestamp = %v, want %v", first.Timestamp, base)
	}
	if all[1].UserID != nil {
		t.Fatal("absent user id should read back as nil")
	}
}

func TestOperationsFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"create_booking", "delete_booking", "create_booking"} {
		op := core.Operation{Type: "request", Name: name, Timestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := s.Append(ctx, op); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	byName, err := s.Operations(ctx, OperationFilter{Name: "create_booking"})
	if err != nil {
		t.Fatalf("filter by name: %v", err)
	}
	if len(byName) != 2 {
		t.Fatalf("expected 2 create_booking rows, got %d", len(byName))
	}
	since, err := s.Operations(ctx, OperationFilter{Since: base.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("filter by time: %v", err)
	}
	if len(since) != 1 || since[0].Name != "create_booking" {
		t.Fatalf("unexpected since result: %+v", since)
	}
	limited, err := s.Operations(ctx, OperationFilter{Limit: 1})
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if len(limited) != 1 || limited[0].Name != "create_booking" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestHealthSamples(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	samples := []HealthSample{
		{ResourceID: 1, Timestamp: base, Status: "ok",
			Payload: map[string]any{"vacuum": "ready", "autoloader": "ready"}},
		{ResourceID: 1, Timestamp: base.Add(time.Hour), Status: "error",
			Payload: map[string]any{"vacuum": "off"}},
		{ResourceID: 2, Timestamp: base, Status: "ok", Payload: map[string]any{}},
	}
	for _, sample := range samples {
		if err := s.AppendHealth(ctx, sample); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	history, err := s.HealthSamples(ctx, 1, time.Time{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 samples for resource 1, got %d", len(history))
	}
	if history[0].Payload["vacuum"] != "ready" || history[1].Status != "error" {
		t.Fatalf("unexpected history: %+v", history)
	}
	recent, err := s.HealthSamples(ctx, 1, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("read since: %v", err)
	}
	if len(recent) != 1 || recent[0].Status != "error" {
		t.Fatalf("unexpected recent samples: %+v", recent)
	}
}

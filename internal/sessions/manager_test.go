package sessions

import (
	"context"
	"testing"

	"emhub/internal/blob"
)

func TestContainerLifecycle(t *testing.T) {
	m := NewManager(blob.NewMemory())
	ctx := context.Background()

	ok, err := m.ContainerExists(ctx, "session_000001")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("container should not exist yet")
	}
	if err := m.CreateContainer(ctx, "session_000001"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreateContainer(ctx, "session_000001"); err == nil {
		t.Fatal("creating an existing container should fail")
	}
	ok, err = m.ContainerExists(ctx, "session_000001")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Fatal("container should exist")
	}
	if err := m.DeleteContainer(ctx, "session_000001"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = m.ContainerExists(ctx, "session_000001")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("container should be gone")
	}
}

func TestCreateSetRequiresContainer(t *testing.T) {
	m := NewManager(blob.NewMemory())
	ctx := context.Background()

	if err := m.CreateSet(ctx, "session_000009", 1, nil); err == nil {
		t.Fatal("expected an error for a missing container")
	}
}

func TestSetsAndItems(t *testing.T) {
	m := NewManager(blob.NewMemory())
	ctx := context.Background()

	if err := m.CreateContainer(ctx, "session_000002"); err != nil {
		t.Fatalf("create container: %v", err)
	}
	if err := m.CreateSet(ctx, "session_000002", 2, map[string]any{"kind": "ctfs"}); err != nil {
		t.Fatalf("create set: %v", err)
	}
	if err := m.CreateSet(ctx, "session_000002", 1, map[string]any{"kind": "micrographs"}); err != nil {
		t.Fatalf("create set: %v", err)
	}
	sets, err := m.Sets(ctx, "session_000002")
	if err != nil {
		t.Fatalf("sets: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("expected 2 sets, got %d", len(sets))
	}

	for id := 3; id >= 1; id-- {
		attrs := map[string]any{"defocus": float64(id)}
		if err := m.AddItem(ctx, "session_000002", 1, id, attrs); err != nil {
			t.Fatalf("add item %d: %v", id, err)
		}
	}
	if err := m.AddItem(ctx, "session_000002", 1, 1, nil); err == nil {
		t.Fatal("re-adding an item id should fail")
	}

	items, err := m.Items(ctx, "session_000002", 1, nil)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, item := range items {
		if int(item["id"].(float64)) != i+1 {
			t.Fatalf("items out of order: %v", items)
		}
	}

	if err := m.UpdateItem(ctx, "session_000002", 1, 2, map[string]any{"resolution": 4.2}); err != nil {
		t.Fatalf("update item: %v", err)
	}
	item, err := m.Item(ctx, "session_000002", 1, 2, []string{"resolution"})
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if item["resolution"] != 4.2 {
		t.Fatalf("expected merged resolution, got %v", item)
	}
	if _, present := item["defocus"]; present {
		t.Fatal("projection should drop unlisted attributes")
	}
	if err := m.UpdateItem(ctx, "session_000002", 1, 99, nil); err == nil {
		t.Fatal("updating a missing item should fail")
	}
}

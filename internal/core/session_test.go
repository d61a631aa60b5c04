package core

import (
	"context"
	"testing"

	"emhub/internal/blob"
	"emhub/internal/infra/persistence/memory"
	"emhub/internal/sessions"
	"emhub/pkg/domain"
)

func TestCreateSessionCreatesContainer(t *testing.T) {
	store := memory.NewStore(NewRulesEngine())
	containers := sessions.NewManager(blob.NewMemory())
	s := NewService(store, WithSessionContainers(containers))
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, domain.Session{Name: "krios001"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.DataPath != sess.ContainerName() {
		t.Fatalf("data path should default to the container name, got %q", sess.DataPath)
	}
	ok, err := containers.ContainerExists(ctx, sess.ContainerName())
	if err != nil {
		t.Fatalf("container exists: %v", err)
	}
	if !ok {
		t.Fatal("expected the session container to exist")
	}
}

func TestDeleteSessionRemovesContainer(t *testing.T) {
	store := memory.NewStore(NewRulesEngine())
	containers := sessions.NewManager(blob.NewMemory())
	s := NewService(store, WithSessionContainers(containers))
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, domain.Session{Name: "krios001"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.CreateSessionSet(ctx, sess.ID, 1, map[string]any{"kind": "micrographs"}); err != nil {
		t.Fatalf("create set: %v", err)
	}
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	ok, err := containers.ContainerExists(ctx, sess.ContainerName())
	if err != nil {
		t.Fatalf("container exists: %v", err)
	}
	if ok {
		t.Fatal("expected the container to be removed with the session")
	}
	if _, err := s.GetSession(ctx, sess.ID); err == nil {
		t.Fatal("expected the session record to be gone")
	}
}

func TestSessionItemsRoundTrip(t *testing.T) {
	store := memory.NewStore(NewRulesEngine())
	containers := sessions.NewManager(blob.NewMemory())
	s := NewService(store, WithSessionContainers(containers))
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, domain.Session{Name: "krios001"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.CreateSessionSet(ctx, sess.ID, 1, map[string]any{"kind": "micrographs"}); err != nil {
		t.Fatalf("create set: %v", err)
	}
	if err := s.AddSessionItem(ctx, sess.ID, 1, 7, map[string]any{"defocus": 1.3, "resolution": 3.9}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := s.UpdateSessionItem(ctx, sess.ID, 1, 7, map[string]any{"resolution": 3.1}); err != nil {
		t.Fatalf("update item: %v", err)
	}
	item, err := s.SessionItem(ctx, sess.ID, 1, 7, nil)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item["resolution"] != 3.1 || item["defocus"] != 1.3 {
		t.Fatalf("unexpected merged item: %v", item)
	}
	projected, err := s.SessionItems(ctx, sess.ID, 1, []string{"resolution"})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(projected) != 1 {
		t.Fatalf("expected one item, got %d", len(projected))
	}
	if _, present := projected[0]["defocus"]; present {
		t.Fatal("projection should drop unlisted attributes")
	}
}

func TestNextSessionName(t *testing.T) {
	store := memory.NewStore(NewRulesEngine())
	s := NewService(store)
	ctx := context.Background()

	name, err := s.NextSessionName(ctx, "bag")
	if err != nil {
		t.Fatalf("first name: %v", err)
	}
	if name != "bag00001" {
		t.Fatalf("expected bag00001, got %q", name)
	}
	for _, existing := range []string{"bag00001", "bag00007", "fef00003", "notasession"} {
		if _, err := s.CreateSession(ctx, domain.Session{Name: existing}); err != nil {
			t.Fatalf("seed session %s: %v", existing, err)
		}
	}
	name, err = s.NextSessionName(ctx, "bag")
	if err != nil {
		t.Fatalf("next name: %v", err)
	}
	if name != "bag00008" {
		t.Fatalf("expected bag00008, got %q", name)
	}
	if _, err := s.NextSessionName(ctx, "toolong"); err == nil {
		t.Fatal("expected a validation error for a non three-letter code")
	}
}

package core

import (
	"context"
	"testing"

	"emhub/pkg/domain"
)

func TestPuckStorageLayout(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	pucks := []domain.Puck{
		{Code: "P2-1-3", Dewar: 2, Cane: 1, Position: 3},
		{Code: "P1-2-1", Dewar: 1, Cane: 2, Position: 1},
		{Code: "P1-1-2", Dewar: 1, Cane: 1, Position: 2},
		{Code: "P1-1-1", Dewar: 1, Cane: 1, Position: 1},
	}
	for _, p := range pucks {
		if _, err := s.CreatePuck(ctx, p); err != nil {
			t.Fatalf("create puck %s: %v", p.Code, err)
		}
	}

	storage, err := s.PuckStorage(ctx)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	if len(storage) != 2 || storage[0].Dewar != 1 || storage[1].Dewar != 2 {
		t.Fatalf("unexpected dewar layout: %+v", storage)
	}
	d1 := storage[0]
	if len(d1.Canes) != 2 || d1.Canes[0].Cane != 1 || d1.Canes[1].Cane != 2 {
		t.Fatalf("unexpected cane layout: %+v", d1.Canes)
	}
	c1 := d1.Canes[0]
	if len(c1.Pucks) != 2 || c1.Pucks[0].Code != "P1-1-1" || c1.Pucks[1].Code != "P1-1-2" {
		t.Fatalf("pucks not ordered by position: %+v", c1.Pucks)
	}
	if storage[1].Canes[0].Pucks[0].Code != "P2-1-3" {
		t.Fatalf("unexpected second dewar: %+v", storage[1])
	}
}

func TestPuckStorageEmpty(t *testing.T) {
	s := newTestService(t)
	storage, err := s.PuckStorage(context.Background())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	if len(storage) != 0 {
		t.Fatalf("expected no storage entries, got %+v", storage)
	}
}

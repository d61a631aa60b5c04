package postgres

import (
	"context"
	"os"
	"testing"

	"emhub/pkg/domain"
)

// The round-trip test needs a live server; point EMHUB_TEST_POSTGRES_DSN at
// a scratch database to enable it.
func TestPersistAndReload(t *testing.T) {
	dsn := os.Getenv("EMHUB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EMHUB_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateUser(ctx, domain.User{Username: "pg-user"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	_ = reopened.View(ctx, func(v domain.TransactionView) error {
		users, _ := v.ListUsers(ctx)
		found := false
		for _, u := range users {
			if u.Username == "pg-user" {
				found = true
			}
		}
		if !found {
			t.Fatalf("user not reloaded from postgres")
		}
		return nil
	})
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"emhub/pkg/domain"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(nil)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreateResource(ctx, domain.Resource{Name: "Krios01", Tags: []string{"microscope", "krios"}}); err != nil {
			return err
		}
		if _, err := tx.CreateUser(ctx, domain.User{Username: "pi", Roles: []string{domain.RolePI}}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return store
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var first, second domain.User
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		var err error
		first, err = tx.CreateUser(ctx, domain.User{Username: "a"})
		if err != nil {
			return err
		}
		second, err = tx.CreateUser(ctx, domain.User{Username: "b"})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", first.ID, second.ID)
	}
}

func TestExplicitIDBumpsSequence(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreateUser(ctx, domain.User{ID: 10, Username: "imported"}); err != nil {
			return err
		}
		next, err := tx.CreateUser(ctx, domain.User{Username: "fresh"})
		if err != nil {
			return err
		}
		if next.ID != 11 {
			t.Fatalf("sequence should continue after explicit id, got %d", next.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRollbackOnCallbackError(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreateUser(ctx, domain.User{Username: "ghost"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		users, _ := v.ListUsers(ctx)
		if len(users) != 1 {
			t.Fatalf("aborted transaction leaked state: %d users", len(users))
		}
		return nil
	})
}

type blockAllRule struct{}

func (blockAllRule) Name() string { return "block_all" }
func (blockAllRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{
		Rule: "block_all", Severity: domain.SeverityBlock, Message: "blocked",
	}}}, nil
}

func TestBlockingRulePreventsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAllRule{})
	store := NewStore(engine)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateUser(ctx, domain.User{Username: "u"})
		return err
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		users, _ := v.ListUsers(ctx)
		if len(users) != 0 {
			t.Fatalf("blocked transaction must not commit")
		}
		return nil
	})
}

func TestReturnedRecordsAreIsolated(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	var got domain.Resource
	_ = store.View(ctx, func(v domain.TransactionView) error {
		var ok bool
		var err error
		got, ok, err = v.FindResource(ctx, 1)
		if err != nil || !ok {
			t.Fatalf("find resource: %v %v", ok, err)
		}
		return nil
	})
	got.Tags[0] = "mutated"
	got.SetDailyCost(99)
	_ = store.View(ctx, func(v domain.TransactionView) error {
		fresh, _, _ := v.FindResource(ctx, 1)
		if fresh.Tags[0] != "microscope" || fresh.DailyCost() != 0 {
			t.Fatalf("mutation of a returned record leaked into the store: %+v", fresh)
		}
		return nil
	})
}

func TestViewIsReadOnly(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	_ = store.View(ctx, func(v domain.TransactionView) error {
		tx, ok := v.(domain.Tx)
		if !ok {
			return nil
		}
		if _, err := tx.CreateUser(ctx, domain.User{Username: "x"}); err == nil {
			t.Fatalf("view must reject mutations")
		}
		return nil
	})
}

func TestReferenceGuards(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateBooking(ctx, domain.Booking{
			Start:      time.Now(),
			End:        time.Now().Add(time.Hour),
			ResourceID: 99,
			OwnerID:    1,
			CreatorID:  1,
		})
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found for missing resource, got %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateUser(ctx, domain.User{Username: "pi"})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate username rejection, got %v", err)
	}
}

func TestUniqueFieldGuards(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateUser(ctx, domain.User{Username: "ada", Email: "shared@lab"})
		return err
	})
	if err != nil {
		t.Fatalf("first user: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateUser(ctx, domain.User{Username: "grace", Email: "shared@lab"})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate email rejection, got %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateResource(ctx, domain.Resource{Name: "Krios01"})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate resource name rejection, got %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreateSession(ctx, domain.Session{Name: "s1"}); err != nil {
			return err
		}
		_, err := tx.CreateSession(ctx, domain.Session{Name: "s1"})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate session name rejection, got %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreatePuck(ctx, domain.Puck{Code: "p1", Dewar: 1, Cane: 2, Position: 3}); err != nil {
			return err
		}
		_, err := tx.CreatePuck(ctx, domain.Puck{Code: "p2", Dewar: 1, Cane: 2, Position: 3})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected occupied puck position rejection, got %v", err)
	}

	// Updates face the same guards.
	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if _, err := tx.CreateUser(ctx, domain.User{Username: "grace", Email: "grace@lab"}); err != nil {
			return err
		}
		u, _, err := tx.FindUser(ctx, 2)
		if err != nil {
			return err
		}
		_, err = tx.UpdateUser(ctx, u.ID, func(u *domain.User) error {
			u.Email = "grace@lab"
			return nil
		})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected duplicate email rejection on update, got %v", err)
	}
}

func TestApplicationCreatorMustBePI(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		plain, err := tx.CreateUser(ctx, domain.User{Username: "plain"})
		if err != nil {
			return err
		}
		_, err = tx.CreateApplication(ctx, domain.Application{Code: "APP00001", CreatorID: plain.ID})
		return err
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected non-pi creator rejection, got %v", err)
	}

	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateApplication(ctx, domain.Application{Code: "APP00001", CreatorID: 1})
		return err
	})
	if err != nil {
		t.Fatalf("pi-created application: %v", err)
	}
}

func TestDeleteResourceBlockedByBooking(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateBooking(ctx, domain.Booking{
			Start: time.Now(), End: time.Now().Add(time.Hour),
			ResourceID: 1, OwnerID: 1, CreatorID: 1,
		})
		return err
	})
	if err != nil {
		t.Fatalf("booking create failed: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		return tx.DeleteResource(ctx, 1)
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected referenced-resource rejection, got %v", err)
	}
}

func TestDeleteBookingDetachesSessions(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		b, err := tx.CreateBooking(ctx, domain.Booking{
			Start: time.Now(), End: time.Now().Add(time.Hour),
			ResourceID: 1, OwnerID: 1, CreatorID: 1,
		})
		if err != nil {
			return err
		}
		_, err = tx.CreateSession(ctx, domain.Session{Name: "s1", BookingID: &b.ID})
		return err
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		return tx.DeleteBooking(ctx, 1)
	})
	if err != nil {
		t.Fatalf("delete booking failed: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		s, ok, _ := v.FindSession(ctx, 1)
		if !ok || s.BookingID != nil {
			t.Fatalf("session should survive with booking link cleared: %+v ok=%v", s, ok)
		}
		return nil
	})
}

func TestDeleteProjectCascadesEntries(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		p, err := tx.CreateProject(ctx, domain.Project{Title: "p", UserID: 1})
		if err != nil {
			return err
		}
		_, err = tx.CreateEntry(ctx, domain.Entry{Title: "e", ProjectID: p.ID})
		return err
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		return tx.DeleteProject(ctx, 1)
	}); err != nil {
		t.Fatalf("delete project failed: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		entries, _ := v.ListEntries(ctx)
		if len(entries) != 0 {
			t.Fatalf("entries should be removed with their project")
		}
		return nil
	})
}

func TestCommitHookReceivesChanges(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var seen []domain.Change
	store.OnCommit(func(ctx context.Context, changes []domain.Change) {
		seen = append(seen, changes...)
	})
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, err := tx.CreateUser(ctx, domain.User{Username: "u"})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0].Entity != domain.EntityUser || seen[0].Action != domain.ActionCreate {
		t.Fatalf("unexpected changes: %+v", seen)
	}
	// Failed transactions must stay silent.
	seen = nil
	_ = store.RunInTransaction(ctx, func(tx domain.Tx) error {
		_, _ = tx.CreateUser(ctx, domain.User{Username: "v"})
		return errors.New("abort")
	})
	if len(seen) != 0 {
		t.Fatalf("aborted transaction must not fire hooks")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	snap, err := store.ExportState(ctx)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if snap.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version %d", snap.SchemaVersion)
	}
	restored := NewStore(nil)
	if err := restored.ImportState(ctx, snap); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	err = restored.RunInTransaction(ctx, func(tx domain.Tx) error {
		u, err := tx.CreateUser(ctx, domain.User{Username: "next"})
		if err != nil {
			return err
		}
		if u.ID != 2 {
			t.Fatalf("sequence not restored from snapshot, got id %d", u.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRestoreNormalizesLegacyRecords(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	snap := Snapshot{
		Users:    []domain.User{{ID: 3, Username: "legacy"}},
		Bookings: []domain.Booking{{ID: 7, Start: time.Now(), End: time.Now().Add(time.Hour), ResourceID: 1, OwnerID: 3, CreatorID: 3}},
	}
	if err := store.ImportState(ctx, snap); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	_ = store.View(ctx, func(v domain.TransactionView) error {
		u, _, _ := v.FindUser(ctx, 3)
		if u.Status != domain.UserStatusActive || len(u.Roles) != 1 {
			t.Fatalf("legacy user not normalized: %+v", u)
		}
		b, _, _ := v.FindBooking(ctx, 7)
		if b.Type != domain.BookingTypeBooking {
			t.Fatalf("legacy booking type not defaulted: %+v", b)
		}
		return nil
	})
}

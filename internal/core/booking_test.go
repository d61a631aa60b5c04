package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"emhub/internal/infra/persistence/memory"
	"emhub/pkg/domain"
)

var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := memory.NewStore(NewRulesEngine())
	return NewService(store, WithClock(func() time.Time { return testNow }))
}

type bookingFixtures struct {
	admin    domain.User
	pi       domain.User
	resource domain.Resource
	app      domain.Application
}

func seedBookingFixtures(t *testing.T, s *Service) bookingFixtures {
	t.Helper()
	var fx bookingFixtures
	err := s.Store().RunInTransaction(context.Background(), func(tx domain.Tx) error {
		var err error
		fx.admin, err = tx.CreateUser(context.Background(), domain.User{
			Username: "admin", Name: "Admin", Status: domain.UserStatusActive,
			Roles: []string{domain.RoleAdmin},
		})
		if err != nil {
			return err
		}
		fx.pi, err = tx.CreateUser(context.Background(), domain.User{
			Username: "rosalind", Name: "Rosalind", Status: domain.UserStatusActive,
			Roles: []string{domain.RoleUser, domain.RolePI},
		})
		if err != nil {
			return err
		}
		resource := domain.Resource{Name: "Krios01", Status: domain.ResourceStatusActive, Tags: []string{"krios"}}
		resource.SetLatestCancellation(24)
		fx.resource, err = tx.CreateResource(context.Background(), resource)
		if err != nil {
			return err
		}
		fx.app, err = tx.CreateApplication(context.Background(), domain.Application{
			Code: "DBB00001", Status: domain.ApplicationStatusActive,
			CreatorID:  fx.pi.ID,
			Allocation: domain.ResourceAllocation{Quota: map[string]int{"krios": 5}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed fixtures: %v", err)
	}
	return fx
}

func TestCreateBookingQuotaExceeded(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	first := domain.Booking{
		Title: "first 3 days", ResourceID: fx.resource.ID,
		OwnerID: fx.pi.ID, ApplicationID: &fx.app.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 10, 17, 0, 0, 0, time.UTC),
	}
	created, err := s.CreateBooking(ctx, fx.admin, first, CreateBookingOptions{})
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if len(created) != 1 || created[0].Days() != 3 {
		t.Fatalf("expected one 3-day booking, got %+v", created)
	}

	second := first
	second.Title = "second 3 days"
	second.Start = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	second.End = time.Date(2024, 1, 17, 17, 0, 0, 0, time.UTC)
	if _, err := s.CreateBooking(ctx, fx.admin, second, CreateBookingOptions{}); err == nil {
		t.Fatal("expected quota error")
	} else if !strings.Contains(err.Error(), "krios") {
		t.Fatalf("expected quota message naming the tag, got %v", err)
	}

	// The rejected booking must not have leaked into the store.
	all, err := s.ListBookings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 persisted booking, got %d", len(all))
	}
}

func TestCreateBookingQuotaSkipFlag(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	b := domain.Booking{
		Title: "backfill", ResourceID: fx.resource.ID,
		OwnerID: fx.pi.ID, ApplicationID: &fx.app.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 17, 0, 0, 0, time.UTC), // 8 days, over quota
	}
	if _, err := s.CreateBooking(ctx, fx.admin, b, CreateBookingOptions{}); err == nil {
		t.Fatal("expected quota error")
	}
	if _, err := s.CreateBooking(ctx, fx.admin, b, CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("backfill with quota disabled: %v", err)
	}
}

func TestCreateBookingDurationBounds(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	_, err := s.UpdateResource(ctx, fx.resource.ID, func(r *domain.Resource) error {
		r.SetMinBooking(2)
		r.SetMaxBooking(8)
		return nil
	})
	if err != nil {
		t.Fatalf("configure resource: %v", err)
	}

	day := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	mk := func(hours float64) domain.Booking {
		return domain.Booking{
			Title: "b", ResourceID: fx.resource.ID, OwnerID: fx.pi.ID,
			Start: day, End: day.Add(time.Duration(hours * float64(time.Hour))),
		}
	}
	if _, err := s.CreateBooking(ctx, fx.admin, mk(1), CreateBookingOptions{SkipQuota: true}); err == nil {
		t.Fatal("expected minimum duration error")
	}
	if _, err := s.CreateBooking(ctx, fx.admin, mk(9), CreateBookingOptions{SkipQuota: true}); err == nil {
		t.Fatal("expected maximum duration error")
	}
	// Exactly touching a bound is accepted.
	if _, err := s.CreateBooking(ctx, fx.admin, mk(2), CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("minimum boundary: %v", err)
	}
	day = day.AddDate(0, 0, 1)
	if _, err := s.CreateBooking(ctx, fx.admin, mk(8), CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("maximum boundary: %v", err)
	}
}

func TestCreateBookingPastDate(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	past := domain.Booking{
		Title: "yesterday", ResourceID: fx.resource.ID, OwnerID: fx.pi.ID,
		Start: testNow.AddDate(0, 0, -1),
		End:   testNow.AddDate(0, 0, -1).Add(4 * time.Hour),
	}
	if _, err := s.CreateBooking(ctx, fx.pi, past, CreateBookingOptions{SkipQuota: true}); err == nil {
		t.Fatal("expected past-date rejection for non-manager")
	}
	// Managers may backfill.
	if _, err := s.CreateBooking(ctx, fx.admin, past, CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("manager backfill: %v", err)
	}
}

func TestCreateBookingOverlap(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	first := domain.Booking{
		Title: "first", ResourceID: fx.resource.ID, OwnerID: fx.pi.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 8, 17, 0, 0, 0, time.UTC),
	}
	if _, err := s.CreateBooking(ctx, fx.admin, first, CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	overlapping := first
	overlapping.Title = "second"
	overlapping.Start = time.Date(2024, 1, 8, 16, 0, 0, 0, time.UTC)
	overlapping.End = time.Date(2024, 1, 8, 20, 0, 0, 0, time.UTC)
	if _, err := s.CreateBooking(ctx, fx.admin, overlapping, CreateBookingOptions{SkipQuota: true}); err == nil {
		t.Fatal("expected overlap rejection")
	}
	// Back to back bookings touch but do not overlap.
	adjacent := first
	adjacent.Title = "adjacent"
	adjacent.Start = first.End
	adjacent.End = first.End.Add(2 * time.Hour)
	if _, err := s.CreateBooking(ctx, fx.admin, adjacent, CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("adjacent booking: %v", err)
	}
}

func TestCreateBookingBiWeeklySeries(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	slot := domain.Booking{
		Title: "open slot", Type: domain.BookingTypeSlot,
		ResourceID: fx.resource.ID, OwnerID: fx.admin.ID,
		Start:       time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 6, 13, 0, 0, 0, time.UTC),
		RepeatValue: domain.RepeatBiWeekly,
	}
	created, err := s.CreateBooking(ctx, fx.admin, slot, CreateBookingOptions{
		RepeatStop: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	wantStarts := []time.Time{
		time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 17, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	if len(created) != len(wantStarts) {
		t.Fatalf("expected %d bookings, got %d", len(wantStarts), len(created))
	}
	seriesID := created[0].RepeatID
	if seriesID == "" {
		t.Fatal("expected a series id")
	}
	for i, b := range created {
		if !b.Start.Equal(wantStarts[i]) {
			t.Fatalf("booking %d starts %v, want %v", i, b.Start, wantStarts[i])
		}
		if b.RepeatID != seriesID {
			t.Fatalf("booking %d is not in series %s", i, seriesID)
		}
	}
}

func TestCreateBookingRepeatStopOnExactEnd(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	slot := domain.Booking{
		Title: "weekly", Type: domain.BookingTypeSlot,
		ResourceID: fx.resource.ID, OwnerID: fx.admin.ID,
		Start:       time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 6, 13, 0, 0, 0, time.UTC),
		RepeatValue: domain.RepeatWeekly,
	}
	created, err := s.CreateBooking(ctx, fx.admin, slot, CreateBookingOptions{
		// Exactly the end of the second copy.
		RepeatStop: time.Date(2024, 1, 13, 13, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected the series to stop at the exact end, got %d bookings", len(created))
	}
}

func TestDeleteBookingCancellationWindow(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	soon := domain.Booking{
		Title: "imminent", ResourceID: fx.resource.ID, OwnerID: fx.pi.ID,
		Start: testNow.Add(4 * time.Hour),
		End:   testNow.Add(8 * time.Hour),
	}
	created, err := s.CreateBooking(ctx, fx.admin, soon, CreateBookingOptions{SkipQuota: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = s.DeleteBooking(ctx, fx.pi, created[0].ID, false)
	if err == nil {
		t.Fatal("expected cancellation rejection")
	}
	if !strings.Contains(err.Error(), "Should be 24 hours in advance") {
		t.Fatalf("unexpected message: %v", err)
	}
	// Admins pass unconditionally.
	if _, err := s.DeleteBooking(ctx, fx.admin, created[0].ID, false); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestUpdateBookingSplitsSeries(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	slot := domain.Booking{
		Title: "weekly", Type: domain.BookingTypeSlot,
		ResourceID: fx.resource.ID, OwnerID: fx.admin.ID,
		Start:       time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 6, 13, 0, 0, 0, time.UTC),
		RepeatValue: domain.RepeatWeekly,
	}
	created, err := s.CreateBooking(ctx, fx.admin, slot, CreateBookingOptions{
		RepeatStop: time.Date(2024, 2, 3, 13, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("expected 5 members, got %d", len(created))
	}
	original := created[0].RepeatID

	middle := created[2]
	updated, err := s.UpdateBooking(ctx, fx.admin, middle.ID, false, func(b *domain.Booking) error {
		b.Title = "detached"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated[0].RepeatID != "" {
		t.Fatalf("target should be detached, has series %s", updated[0].RepeatID)
	}

	all, err := s.ListBookings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var freshID string
	for _, b := range all {
		switch {
		case b.ID == middle.ID:
			if b.RepeatID != "" || b.Title != "detached" {
				t.Fatalf("unexpected target state: %+v", b)
			}
		case b.Start.Before(middle.Start):
			if b.RepeatID != original {
				t.Fatalf("earlier member should keep series %s, has %s", original, b.RepeatID)
			}
		default:
			if b.RepeatID == original || b.RepeatID == "" {
				t.Fatalf("later member should be re-stamped, has %s", b.RepeatID)
			}
			if freshID == "" {
				freshID = b.RepeatID
			} else if b.RepeatID != freshID {
				t.Fatalf("later members disagree on the new series id")
			}
		}
	}
}

func TestUpdateBookingModifyAllShiftsSeries(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	slot := domain.Booking{
		Title: "weekly", Type: domain.BookingTypeSlot,
		ResourceID: fx.resource.ID, OwnerID: fx.admin.ID,
		Start:       time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 6, 13, 0, 0, 0, time.UTC),
		RepeatValue: domain.RepeatWeekly,
	}
	created, err := s.CreateBooking(ctx, fx.admin, slot, CreateBookingOptions{
		RepeatStop: time.Date(2024, 1, 20, 13, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 members, got %d", len(created))
	}

	updated, err := s.UpdateBooking(ctx, fx.admin, created[0].ID, true, func(b *domain.Booking) error {
		b.Start = b.Start.Add(time.Hour)
		b.End = b.End.Add(time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("update all: %v", err)
	}
	if len(updated) != 3 {
		t.Fatalf("expected 3 updated members, got %d", len(updated))
	}
	for i, b := range updated {
		want := created[i].Start.Add(time.Hour)
		if !b.Start.Equal(want) {
			t.Fatalf("member %d starts %v, want %v", i, b.Start, want)
		}
		if b.RepeatID != created[0].RepeatID {
			t.Fatalf("member %d left the series", i)
		}
	}
}

func TestDeleteBookingSeries(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	slot := domain.Booking{
		Title: "weekly", Type: domain.BookingTypeSlot,
		ResourceID: fx.resource.ID, OwnerID: fx.admin.ID,
		Start:       time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 6, 13, 0, 0, 0, time.UTC),
		RepeatValue: domain.RepeatWeekly,
	}
	created, err := s.CreateBooking(ctx, fx.admin, slot, CreateBookingOptions{
		RepeatStop: time.Date(2024, 1, 27, 13, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	deleted, err := s.DeleteBooking(ctx, fx.admin, created[0].ID, true)
	if err != nil {
		t.Fatalf("delete series: %v", err)
	}
	if len(deleted) != len(created) {
		t.Fatalf("expected %d deletions, got %d", len(created), len(deleted))
	}
	remaining, err := s.ListBookings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, b := range remaining {
		if b.RepeatID == created[0].RepeatID {
			t.Fatalf("booking %d still carries the deleted series id", b.ID)
		}
	}
}

func TestSlotAuthorizationRule(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	_, err := s.UpdateResource(ctx, fx.resource.ID, func(r *domain.Resource) error {
		r.SetRequiresSlot(true)
		return nil
	})
	if err != nil {
		t.Fatalf("configure resource: %v", err)
	}

	b := domain.Booking{
		Title: "unauthorized", ResourceID: fx.resource.ID, OwnerID: fx.pi.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 8, 13, 0, 0, 0, time.UTC),
	}
	if _, err := s.CreateBooking(ctx, fx.pi, b, CreateBookingOptions{SkipQuota: true}); err == nil {
		t.Fatal("expected slot authorization rejection")
	}

	// An overlapping slot listing the user opens the resource up.
	slot := domain.Booking{
		Title: "open slot", Type: domain.BookingTypeSlot,
		ResourceID: fx.resource.ID, OwnerID: fx.admin.ID,
		SlotAuth: domain.SlotAuth{Users: []int{fx.pi.ID}},
		Start:    time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 1, 8, 18, 0, 0, 0, time.UTC),
	}
	if _, err := s.CreateBooking(ctx, fx.admin, slot, CreateBookingOptions{}); err != nil {
		t.Fatalf("create slot: %v", err)
	}
	if _, err := s.CreateBooking(ctx, fx.pi, b, CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("authorized booking: %v", err)
	}
}

func TestFindBookingApplicationFromNoSlot(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	_, err := s.UpdateApplication(ctx, fx.app.ID, func(a *domain.Application) error {
		a.Allocation.NoSlot = []string{"krios"}
		return nil
	})
	if err != nil {
		t.Fatalf("configure application: %v", err)
	}

	b := domain.Booking{
		Title: "auto app", ResourceID: fx.resource.ID, OwnerID: fx.pi.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 8, 13, 0, 0, 0, time.UTC),
	}
	created, err := s.CreateBooking(ctx, fx.pi, b, CreateBookingOptions{SkipQuota: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created[0].ApplicationID == nil || *created[0].ApplicationID != fx.app.ID {
		t.Fatalf("expected application %d attached, got %v", fx.app.ID, created[0].ApplicationID)
	}
}

func TestGetBookingsRange(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	for day := 8; day <= 12; day += 2 {
		b := domain.Booking{
			Title: "b", ResourceID: fx.resource.ID, OwnerID: fx.pi.ID,
			Start: time.Date(2024, 1, day, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, day, 17, 0, 0, 0, time.UTC),
		}
		if _, err := s.CreateBooking(ctx, fx.admin, b, CreateBookingOptions{SkipQuota: true}); err != nil {
			t.Fatalf("create day %d: %v", day, err)
		}
	}
	got, err := s.GetBookingsRange(ctx,
		time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 1 || got[0].Start.Day() != 10 {
		t.Fatalf("expected only the Jan 10 booking, got %+v", got)
	}
	none, err := s.GetBookingsRange(ctx,
		time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), fx.resource.ID+1)
	if err != nil {
		t.Fatalf("range with resource filter: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no bookings for unknown resource, got %d", len(none))
	}
}

func TestCountBookingResources(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	b := domain.Booking{
		Title: "counted", ResourceID: fx.resource.ID,
		OwnerID: fx.pi.ID, ApplicationID: &fx.app.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 9, 17, 0, 0, 0, time.UTC),
	}
	if _, err := s.CreateBooking(ctx, fx.admin, b, CreateBookingOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.Store().View(ctx, func(v domain.TransactionView) error {
		byTag, err := CountBookingResources(ctx, v, []int{fx.app.ID}, nil, []string{"krios"})
		if err != nil {
			return err
		}
		if byTag[fx.app.ID]["krios"] != 2 {
			t.Fatalf("expected 2 days on tag krios, got %v", byTag)
		}
		byID, err := CountBookingResources(ctx, v, []int{fx.app.ID}, []int{fx.resource.ID}, nil)
		if err != nil {
			return err
		}
		if byID[fx.app.ID][fx.resource.QuotaKey()] != 2 {
			t.Fatalf("expected 2 days keyed by resource id, got %v", byID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
}

func TestCountBookingResourcesEveryMatchingTag(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	scope, err := s.CreateResource(ctx, domain.Resource{
		Name: "Krios02", Status: domain.ResourceStatusActive,
		Tags: []string{"microscope", "krios"},
	})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	_, err = s.UpdateApplication(ctx, fx.app.ID, func(a *domain.Application) error {
		a.Allocation.Quota = map[string]int{"microscope": 100, "krios": 5}
		return nil
	})
	if err != nil {
		t.Fatalf("configure application: %v", err)
	}

	first := domain.Booking{
		Title: "three days", ResourceID: scope.ID,
		OwnerID: fx.pi.ID, ApplicationID: &fx.app.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 10, 17, 0, 0, 0, time.UTC),
	}
	if _, err := s.CreateBooking(ctx, fx.admin, first, CreateBookingOptions{}); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	err = s.Store().View(ctx, func(v domain.TransactionView) error {
		counts, err := CountBookingResources(ctx, v, []int{fx.app.ID}, nil, []string{"microscope", "krios"})
		if err != nil {
			return err
		}
		if counts[fx.app.ID]["microscope"] != 3 || counts[fx.app.ID]["krios"] != 3 {
			t.Fatalf("expected 3 days under both tags, got %v", counts)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	// The tighter of the two tag quotas still applies.
	second := first
	second.Title = "three more"
	second.Start = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	second.End = time.Date(2024, 1, 17, 17, 0, 0, 0, time.UTC)
	if _, err := s.CreateBooking(ctx, fx.admin, second, CreateBookingOptions{}); err == nil {
		t.Fatal("expected quota error on the second tag")
	} else if !strings.Contains(err.Error(), "krios") {
		t.Fatalf("expected quota message naming krios, got %v", err)
	}
}

func TestCreateBookingInactiveResource(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	_, err := s.UpdateResource(ctx, fx.resource.ID, func(r *domain.Resource) error {
		r.Status = domain.ResourceStatusInactive
		return nil
	})
	if err != nil {
		t.Fatalf("configure resource: %v", err)
	}

	b := domain.Booking{
		Title: "on a down scope", ResourceID: fx.resource.ID,
		OwnerID: fx.pi.ID, ApplicationID: &fx.app.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 8, 13, 0, 0, 0, time.UTC),
	}
	if _, err := s.CreateBooking(ctx, fx.pi, b, CreateBookingOptions{SkipQuota: true}); err == nil {
		t.Fatal("expected inactive resource rejection")
	}
	if _, err := s.CreateBooking(ctx, fx.admin, b, CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("manager booking on inactive resource: %v", err)
	}
}

func TestCreateBookingRequiresActiveApplication(t *testing.T) {
	s := newTestService(t)
	fx := seedBookingFixtures(t, s)
	ctx := context.Background()

	visitor, err := s.CreateUser(ctx, domain.User{
		Username: "visitor", Name: "Visitor", Status: domain.UserStatusActive,
		Roles: []string{domain.RoleUser},
	}, "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	b := domain.Booking{
		Title: "no application", ResourceID: fx.resource.ID, OwnerID: visitor.ID,
		Start: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 8, 13, 0, 0, 0, time.UTC),
	}
	if _, err := s.CreateBooking(ctx, fx.admin, b, CreateBookingOptions{SkipQuota: true}); err == nil {
		t.Fatal("expected rejection for an owner without an active application")
	}

	b.OwnerID = fx.admin.ID
	if _, err := s.CreateBooking(ctx, fx.admin, b, CreateBookingOptions{SkipQuota: true}); err != nil {
		t.Fatalf("manager booking without an application: %v", err)
	}
}

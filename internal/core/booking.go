package core

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"emhub/pkg/domain"
)

// CreateBookingOptions carries the creation parameters that are not part of
// the booking record itself. The zero value enables every check; the Skip
// flags exist for administrative backfill.
type CreateBookingOptions struct {
	// RepeatStop bounds a repeating series. Required when the booking's
	// RepeatValue denotes a series, ignored otherwise.
	RepeatStop time.Time

	SkipMinBooking bool
	SkipMaxBooking bool
	SkipQuota      bool
}

// CreateBooking validates and persists a booking on behalf of actor. A
// repeating booking is expanded into concrete copies sharing a fresh series
// id, stepped by the repeat stride until the copy's end reaches RepeatStop.
// All copies are validated and committed in one transaction; the created
// bookings are returned in chronological order.
func (s *Service) CreateBooking(ctx context.Context, actor domain.User, b domain.Booking, opts CreateBookingOptions) ([]domain.Booking, error) {
	var out []domain.Booking
	err := s.run(ctx, "create_booking", func(tx domain.Tx) error {
		resource, ok, err := tx.FindResource(ctx, b.ResourceID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityResource, ID: b.ResourceID}
		}
		owner, ok, err := tx.FindUser(ctx, b.OwnerID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityUser, ID: b.OwnerID}
		}
		if b.Type == "" {
			b.Type = domain.BookingTypeBooking
		}
		if b.CreatorID == 0 {
			b.CreatorID = actor.ID
		}
		if b.ApplicationID == nil {
			appID, err := findBookingApplication(ctx, tx, owner, b, resource)
			if err != nil {
				return err
			}
			b.ApplicationID = appID
		}
		if b.IsBooking() && b.ApplicationID == nil && !owner.IsManager() && resource.RequiresApplication() {
			return domain.Validationf("user %s has no active application for resource %q", owner.Username, resource.Name)
		}

		pending := []domain.Booking{b}
		if stride, repeats := domain.RepeatStride(b.RepeatValue); repeats {
			if opts.RepeatStop.IsZero() {
				return domain.Validationf("a repeating booking requires a stop date")
			}
			seriesID := uuid.NewString()
			pending = nil
			next := b
			next.RepeatID = seriesID
			for {
				pending = append(pending, next)
				if !next.End.Before(opts.RepeatStop) {
					break
				}
				next.Start = next.Start.Add(stride)
				next.End = next.End.Add(stride)
			}
		}

		for _, nb := range pending {
			if err := s.validateBooking(ctx, tx, actor, nb, resource, opts); err != nil {
				return err
			}
			created, err := tx.CreateBooking(ctx, nb)
			if err != nil {
				return err
			}
			out = append(out, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// findBookingApplication picks the application a new booking is accounted
// under when the caller supplied none: first an active application
// authorized by an overlapping slot, then one carrying a slot exception for
// the resource, then the owner's first active application unless the owner
// is a manager.
func findBookingApplication(ctx context.Context, view domain.RuleView, owner domain.User, b domain.Booking, resource domain.Resource) (*int, error) {
	apps, err := domain.UserApplications(ctx, view, owner, domain.ApplicationStatusActive)
	if err != nil || len(apps) == 0 {
		return nil, err
	}
	bookings, err := view.ListBookings(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range bookings {
		if !existing.IsSlot() || existing.ResourceID != b.ResourceID || !existing.Overlaps(b) {
			continue
		}
		for _, a := range apps {
			if existing.ApplicationInSlot(a.Code) {
				return &a.ID, nil
			}
		}
	}
	for _, a := range apps {
		if a.NoSlot(resource.QuotaKey()) {
			return &a.ID, nil
		}
		for _, tag := range resource.Tags {
			if a.NoSlot(tag) {
				return &a.ID, nil
			}
		}
	}
	if owner.IsManager() {
		return nil, nil
	}
	return &apps[0].ID, nil
}

// validateBooking runs the creation checks in order: resource availability,
// duration bounds, past-dated start for non-managers, overlap with existing
// bookings, and the application quota per resource tag.
func (s *Service) validateBooking(ctx context.Context, tx domain.Tx, actor domain.User, b domain.Booking, resource domain.Resource, opts CreateBookingOptions) error {
	if !actor.IsManager() && !resource.IsActive() {
		return domain.Validationf("the resource %q is not active for bookings", resource.Name)
	}
	if !b.End.After(b.Start) {
		return domain.Validationf("the booking end time must be after the start time")
	}
	hours := b.Duration().Hours()
	if min := resource.MinBooking(); min > 0 && !opts.SkipMinBooking && hours < min {
		return domain.Validationf("the minimum booking time for this resource is %.1f hours", min)
	}
	if max := resource.MaxBooking(); max > 0 && !opts.SkipMaxBooking && hours > max {
		return domain.Validationf("the maximum booking time for this resource is %.1f hours", max)
	}
	if !actor.IsManager() && dateOf(b.Start).Before(dateOf(s.now())) {
		return domain.Validationf("bookings can not be created in the past")
	}
	if b.IsBooking() {
		if err := checkBookingOverlap(ctx, tx, b, nil); err != nil {
			return err
		}
	}
	if b.ApplicationID != nil && !opts.SkipQuota && b.IsBooking() {
		if err := s.checkBookingQuota(ctx, tx, b, resource); err != nil {
			return err
		}
	}
	return nil
}

// checkBookingOverlap rejects a booking that intersects another booking of
// type booking on the same resource. Slots may overlap freely. The exclude
// set skips bookings being replaced by the same operation.
func checkBookingOverlap(ctx context.Context, view domain.RuleView, b domain.Booking, exclude map[int]bool) error {
	bookings, err := view.ListBookings(ctx)
	if err != nil {
		return err
	}
	for _, existing := range bookings {
		if existing.ID == b.ID || exclude[existing.ID] {
			continue
		}
		if existing.ResourceID != b.ResourceID || !existing.IsBooking() {
			continue
		}
		if existing.Overlaps(b) {
			return domain.Validationf("booking overlaps with an existing booking: %q from %s to %s",
				existing.Title, existing.Start.Format(time.RFC3339), existing.End.Format(time.RFC3339))
		}
	}
	return nil
}

// checkBookingQuota recomputes the attached application's day count for each
// tag of the resource and rejects the booking when adding its days would
// exceed the allocation. Zero or missing allocations do not restrict.
func (s *Service) checkBookingQuota(ctx context.Context, tx domain.Tx, b domain.Booking, resource domain.Resource) error {
	app, ok, err := tx.FindApplication(ctx, *b.ApplicationID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityApplication, ID: *b.ApplicationID}
	}
	if len(resource.Tags) == 0 {
		return nil
	}
	counts, err := CountBookingResources(ctx, tx, []int{app.ID}, nil, resource.Tags)
	if err != nil {
		return err
	}
	for _, tag := range resource.Tags {
		quota := app.Quota(tag)
		if quota <= 0 {
			continue
		}
		if counts[app.ID][tag]+b.Days() > quota {
			return domain.Validationf("exceeded number of allocated days for application %s on resource tag '%s'", app.Code, tag)
		}
	}
	return nil
}

// UpdateBooking applies mutate to the booking with the given id. When the
// target belongs to a repeating series and modifyAll is set, the change is
// propagated to every member starting after the target, with start and end
// shifted by the same offset the target moved. When modifyAll is not set on
// a series member, the series splits: the target is detached and the later
// members are re-stamped with a fresh series id. Every modified booking
// passes the cancellation check first.
func (s *Service) UpdateBooking(ctx context.Context, actor domain.User, id int, modifyAll bool, mutate func(*domain.Booking) error) ([]domain.Booking, error) {
	var out []domain.Booking
	err := s.run(ctx, "update_booking", func(tx domain.Tx) error {
		target, ok, err := tx.FindBooking(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityBooking, ID: id}
		}
		resource, ok, err := tx.FindResource(ctx, target.ResourceID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityResource, ID: target.ResourceID}
		}
		if err := s.checkCancellation(actor, target, resource); err != nil {
			return err
		}

		later, err := seriesMembersAfter(ctx, tx, target)
		if err != nil {
			return err
		}
		mutated := target
		if err := mutate(&mutated); err != nil {
			return err
		}
		deltaStart := mutated.Start.Sub(target.Start)
		deltaEnd := mutated.End.Sub(target.End)

		exclude := map[int]bool{target.ID: true}
		for _, m := range later {
			exclude[m.ID] = true
		}
		if mutated.IsBooking() {
			if err := checkBookingOverlap(ctx, tx, mutated, exclude); err != nil {
				return err
			}
		}

		if target.RepeatID != "" && !modifyAll {
			mutated.RepeatID = ""
			mutated.RepeatValue = domain.RepeatNone
		}
		updated, err := tx.UpdateBooking(ctx, id, func(b *domain.Booking) error {
			*b = mutated
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, updated)

		if target.RepeatID == "" {
			return nil
		}
		if !modifyAll {
			// Splitting the series: the slice after the detached member
			// becomes its own series.
			freshID := uuid.NewString()
			for _, m := range later {
				member, err := tx.UpdateBooking(ctx, m.ID, func(b *domain.Booking) error {
					b.RepeatID = freshID
					return nil
				})
				if err != nil {
					return err
				}
				out = append(out, member)
			}
			return nil
		}
		for _, m := range later {
			if err := s.checkCancellation(actor, m, resource); err != nil {
				return err
			}
			oldStart, oldEnd := m.Start, m.End
			member, err := tx.UpdateBooking(ctx, m.ID, func(b *domain.Booking) error {
				if err := mutate(b); err != nil {
					return err
				}
				b.Start = oldStart.Add(deltaStart)
				b.End = oldEnd.Add(deltaEnd)
				return nil
			})
			if err != nil {
				return err
			}
			if member.IsBooking() {
				if err := checkBookingOverlap(ctx, tx, member, exclude); err != nil {
					return err
				}
			}
			out = append(out, member)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBooking removes the booking after a cancellation check. With
// modifyAll set on a series member, every member starting after the target
// is removed in the same transaction. The deleted bookings are returned.
func (s *Service) DeleteBooking(ctx context.Context, actor domain.User, id int, modifyAll bool) ([]domain.Booking, error) {
	var out []domain.Booking
	err := s.run(ctx, "delete_booking", func(tx domain.Tx) error {
		target, ok, err := tx.FindBooking(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityBooking, ID: id}
		}
		resource, ok, err := tx.FindResource(ctx, target.ResourceID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityResource, ID: target.ResourceID}
		}
		affected := []domain.Booking{target}
		if target.RepeatID != "" && modifyAll {
			later, err := seriesMembersAfter(ctx, tx, target)
			if err != nil {
				return err
			}
			affected = append(affected, later...)
		}
		for _, b := range affected {
			if err := s.checkCancellation(actor, b, resource); err != nil {
				return err
			}
			if err := tx.DeleteBooking(ctx, b.ID); err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBooking fetches one booking by id.
func (s *Service) GetBooking(ctx context.Context, id int) (domain.Booking, error) {
	var out domain.Booking
	err := s.view(ctx, "get_booking", func(v domain.TransactionView) error {
		b, ok, err := v.FindBooking(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityBooking, ID: id}
		}
		out = b
		return nil
	})
	return out, err
}

// GetBookingsRange lists the bookings intersecting the half-open interval
// [start, end), in chronological order, optionally restricted to the given
// resources.
func (s *Service) GetBookingsRange(ctx context.Context, start, end time.Time, resourceIDs ...int) ([]domain.Booking, error) {
	wanted := make(map[int]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		wanted[id] = true
	}
	var out []domain.Booking
	err := s.view(ctx, "get_bookings_range", func(v domain.TransactionView) error {
		bookings, err := v.ListBookings(ctx)
		if err != nil {
			return err
		}
		for _, b := range bookings {
			if len(wanted) > 0 && !wanted[b.ResourceID] {
				continue
			}
			if b.InRange(start, end) {
				out = append(out, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBookings(out)
	return out, nil
}

// ListBookings lists every booking.
func (s *Service) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	var out []domain.Booking
	err := s.view(ctx, "list_bookings", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListBookings(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortBookings(out)
	return out, nil
}

// checkCancellation guards booking updates and deletions. Administrators
// pass unconditionally, managers must act before the starting date, and
// everyone else must respect the resource's cancellation window.
func (s *Service) checkCancellation(actor domain.User, b domain.Booking, resource domain.Resource) error {
	if actor.IsAdmin() {
		return nil
	}
	now := s.now()
	if actor.IsManager() {
		if !dateOf(b.Start).After(dateOf(now)) {
			return domain.Validationf("bookings can only be modified before their starting date")
		}
		return nil
	}
	hours := resource.LatestCancellation()
	if b.Start.Add(-time.Duration(hours) * time.Hour).Before(now) {
		return domain.Validationf("Should be %d hours in advance", hours)
	}
	return nil
}

// seriesMembersAfter returns the members of the target's series whose start
// is strictly after the target's, in chronological order.
func seriesMembersAfter(ctx context.Context, view domain.RuleView, target domain.Booking) ([]domain.Booking, error) {
	if target.RepeatID == "" {
		return nil, nil
	}
	bookings, err := view.ListBookings(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Booking
	for _, b := range bookings {
		if b.RepeatID == target.RepeatID && b.ID != target.ID && b.Start.After(target.Start) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func sortBookings(bookings []domain.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].Start.Before(bookings[j].Start)
	})
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

package core

import (
	"context"
	"fmt"

	"emhub/pkg/domain"
)

// NewSlotAuthRule returns the in-transaction rule enforcing slot
// authorization: a non-manager may only hold a booking on a slot-protected
// resource when an overlapping slot authorizes them or one of their active
// applications carries a slot exception for the resource.
func NewSlotAuthRule() domain.Rule {
	return slotAuthRule{}
}

type slotAuthRule struct{}

func (slotAuthRule) Name() string { return "booking_slot_auth" }

func (slotAuthRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, c := range changes {
		if c.Entity != domain.EntityBooking || c.Action == domain.ActionDelete {
			continue
		}
		b, ok := c.After.(domain.Booking)
		if !ok || !b.IsBooking() {
			continue
		}
		allowed, err := bookingAllowed(ctx, view, b)
		if err != nil {
			return domain.Result{}, err
		}
		if !allowed {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "booking_slot_auth",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("user %d is not authorized to book this resource outside an authorized slot", b.OwnerID),
				Entity:   domain.EntityBooking,
				EntityID: b.ID,
			})
		}
	}
	return res, nil
}

func bookingAllowed(ctx context.Context, view domain.RuleView, b domain.Booking) (bool, error) {
	owner, ok, err := view.FindUser(ctx, b.OwnerID)
	if err != nil || !ok {
		return ok, err
	}
	resource, ok, err := view.FindResource(ctx, b.ResourceID)
	if err != nil || !ok {
		return ok, err
	}
	allowed, err := domain.CanBookResource(ctx, view, owner, resource)
	if err != nil || allowed {
		return allowed, err
	}
	bookings, err := view.ListBookings(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range bookings {
		if !existing.IsSlot() || existing.ResourceID != b.ResourceID || !existing.Overlaps(b) {
			continue
		}
		authorized, err := domain.AllowsUserInSlot(ctx, view, existing, owner)
		if err != nil {
			return false, err
		}
		if authorized {
			return true, nil
		}
	}
	return false, nil
}

// NewRulesEngine builds the engine with the always-on booking rules
// registered.
func NewRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewSeriesIntegrityRule())
	engine.Register(NewSlotAuthRule())
	return engine
}

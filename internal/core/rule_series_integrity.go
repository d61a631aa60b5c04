package core

import (
	"context"
	"fmt"

	"emhub/pkg/domain"
)

// NewSeriesIntegrityRule returns the in-transaction rule keeping repeating
// booking series uniform: every member of a series must share resource,
// owner, duration, and repeat frequency.
func NewSeriesIntegrityRule() domain.Rule {
	return seriesIntegrityRule{}
}

type seriesIntegrityRule struct{}

func (seriesIntegrityRule) Name() string { return "booking_series_integrity" }

func (seriesIntegrityRule) Evaluate(ctx context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	bookings, err := view.ListBookings(ctx)
	if err != nil {
		return domain.Result{}, err
	}
	heads := make(map[string]domain.Booking)
	res := domain.Result{}
	for _, b := range bookings {
		if b.RepeatID == "" {
			continue
		}
		head, seen := heads[b.RepeatID]
		if !seen {
			heads[b.RepeatID] = b
			continue
		}
		if b.ResourceID != head.ResourceID || b.OwnerID != head.OwnerID ||
			b.Duration() != head.Duration() || b.RepeatValue != head.RepeatValue {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "booking_series_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("booking %d diverges from its repeating series %s", b.ID, b.RepeatID),
				Entity:   domain.EntityBooking,
				EntityID: b.ID,
			})
		}
	}
	return res, nil
}

package core

import (
	"context"
	"strconv"

	"emhub/pkg/domain"
)

// CountBookingResources tallies booked days per application. A booking is
// counted under every given tag its resource carries, and under the resource
// id when none of the tags match. A non-empty resourceIDs set restricts the
// scan to bookings on those resources. Only bookings attached to one of the
// given applications are counted. This is the sole counter consulted by the
// quota check in CreateBooking.
func CountBookingResources(ctx context.Context, view domain.RuleView, applicationIDs, resourceIDs []int, tags []string) (map[int]map[string]int, error) {
	wantedApp := make(map[int]bool, len(applicationIDs))
	for _, id := range applicationIDs {
		wantedApp[id] = true
	}
	wantedRes := make(map[int]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		wantedRes[id] = true
	}
	resources, err := view.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]domain.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}
	bookings, err := view.ListBookings(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[int]map[string]int)
	for _, b := range bookings {
		if b.ApplicationID == nil || !wantedApp[*b.ApplicationID] {
			continue
		}
		if len(wantedRes) > 0 && !wantedRes[b.ResourceID] {
			continue
		}
		var keys []string
		if r, ok := byID[b.ResourceID]; ok {
			for _, tag := range tags {
				if r.HasTag(tag) {
					keys = append(keys, tag)
				}
			}
		}
		if len(keys) == 0 {
			keys = append(keys, strconv.Itoa(b.ResourceID))
		}
		perKey := counts[*b.ApplicationID]
		if perKey == nil {
			perKey = make(map[string]int)
			counts[*b.ApplicationID] = perKey
		}
		for _, key := range keys {
			perKey[key] += b.Days()
		}
	}
	return counts, nil
}

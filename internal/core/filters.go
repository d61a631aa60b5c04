package core

import (
	"context"
	"encoding/json"
	"reflect"

	"emhub/pkg/domain"
)

// Attribute filters compare against the JSON projection of a record, so any
// serialized field name is a valid key ("username", "resource_id", ...).
// Values are normalized through JSON as well, which makes 7 match 7.0 and
// nested structures comparable.

func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matchFilters(record any, filters map[string]any) (bool, error) {
	projected, err := normalizeJSON(record)
	if err != nil {
		return false, err
	}
	fields, ok := projected.(map[string]any)
	if !ok {
		return false, domain.Validationf("record does not project to an object")
	}
	for key, want := range filters {
		got, present := fields[key]
		if !present {
			return false, domain.Validationf("unknown filter attribute %q", key)
		}
		normWant, err := normalizeJSON(want)
		if err != nil {
			return false, err
		}
		if !reflect.DeepEqual(got, normWant) {
			return false, nil
		}
	}
	return true, nil
}

func filterRecords[T any](items []T, filters map[string]any) ([]T, error) {
	var out []T
	for _, item := range items {
		ok, err := matchFilters(item, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// singleRecord returns the only match; more than one match is an error so
// callers notice underspecified filters.
func singleRecord[T any](items []T, filters map[string]any) (T, bool, error) {
	var zero T
	matches, err := filterRecords(items, filters)
	if err != nil {
		return zero, false, err
	}
	switch len(matches) {
	case 0:
		return zero, false, nil
	case 1:
		return matches[0], true, nil
	default:
		return zero, false, domain.Validationf("filters match %d records, expected one", len(matches))
	}
}

// UsersBy returns the users matching all attribute filters.
func (s *Service) UsersBy(ctx context.Context, filters map[string]any) ([]domain.User, error) {
	items, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// FindUserBy returns the single user matching all attribute filters.
func (s *Service) FindUserBy(ctx context.Context, filters map[string]any) (domain.User, bool, error) {
	items, err := s.ListUsers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	return singleRecord(items, filters)
}

// ResourcesBy returns the resources matching all attribute filters.
func (s *Service) ResourcesBy(ctx context.Context, filters map[string]any) ([]domain.Resource, error) {
	items, err := s.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// FindResourceBy returns the single resource matching all attribute filters.
func (s *Service) FindResourceBy(ctx context.Context, filters map[string]any) (domain.Resource, bool, error) {
	items, err := s.ListResources(ctx)
	if err != nil {
		return domain.Resource{}, false, err
	}
	return singleRecord(items, filters)
}

// ApplicationsBy returns the applications matching all attribute filters.
func (s *Service) ApplicationsBy(ctx context.Context, filters map[string]any) ([]domain.Application, error) {
	items, err := s.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// FindApplicationBy returns the single application matching all filters.
func (s *Service) FindApplicationBy(ctx context.Context, filters map[string]any) (domain.Application, bool, error) {
	items, err := s.ListApplications(ctx)
	if err != nil {
		return domain.Application{}, false, err
	}
	return singleRecord(items, filters)
}

// BookingsBy returns the bookings matching all attribute filters.
func (s *Service) BookingsBy(ctx context.Context, filters map[string]any) ([]domain.Booking, error) {
	items, err := s.ListBookings(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// FindBookingBy returns the single booking matching all attribute filters.
func (s *Service) FindBookingBy(ctx context.Context, filters map[string]any) (domain.Booking, bool, error) {
	items, err := s.ListBookings(ctx)
	if err != nil {
		return domain.Booking{}, false, err
	}
	return singleRecord(items, filters)
}

// SessionsBy returns the sessions matching all attribute filters.
func (s *Service) SessionsBy(ctx context.Context, filters map[string]any) ([]domain.Session, error) {
	items, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// FindSessionBy returns the single session matching all attribute filters.
func (s *Service) FindSessionBy(ctx context.Context, filters map[string]any) (domain.Session, bool, error) {
	items, err := s.ListSessions(ctx)
	if err != nil {
		return domain.Session{}, false, err
	}
	return singleRecord(items, filters)
}

// ProjectsBy returns the projects matching all attribute filters.
func (s *Service) ProjectsBy(ctx context.Context, filters map[string]any) ([]domain.Project, error) {
	items, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// EntriesBy returns the project entries matching all attribute filters.
func (s *Service) EntriesBy(ctx context.Context, filters map[string]any) ([]domain.Entry, error) {
	var items []domain.Entry
	err := s.view(ctx, "list_entries", func(v domain.TransactionView) error {
		var err error
		items, err = v.ListEntries(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// PucksBy returns the pucks matching all attribute filters.
func (s *Service) PucksBy(ctx context.Context, filters map[string]any) ([]domain.Puck, error) {
	items, err := s.ListPucks(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

// TransactionsBy returns the financial transactions matching all filters.
func (s *Service) TransactionsBy(ctx context.Context, filters map[string]any) ([]domain.Transaction, error) {
	items, err := s.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	return filterRecords(items, filters)
}

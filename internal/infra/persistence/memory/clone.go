package memory

import "emhub/pkg/domain"

// cloneValue deep-copies a JSON-shaped value (maps, slices, scalars).
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneExtra(e domain.Extra) domain.Extra {
	if e == nil {
		return nil
	}
	out := make(domain.Extra, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneValue(m).(map[string]any)
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneResource(r domain.Resource) domain.Resource {
	r.Tags = append([]string(nil), r.Tags...)
	r.Extra = cloneExtra(r.Extra)
	return r
}

func cloneUser(u domain.User) domain.User {
	u.Roles = append([]string(nil), u.Roles...)
	u.PIID = cloneIntPtr(u.PIID)
	u.Extra = cloneExtra(u.Extra)
	return u
}

func cloneTemplate(t domain.Template) domain.Template {
	t.FormSchema = cloneAnyMap(t.FormSchema)
	t.Extra = cloneExtra(t.Extra)
	return t
}

func cloneApplication(a domain.Application) domain.Application {
	a.Allocation = a.Allocation.Clone()
	a.UserIDs = append([]int(nil), a.UserIDs...)
	a.TemplateID = cloneIntPtr(a.TemplateID)
	a.Extra = cloneExtra(a.Extra)
	return a
}

func cloneBooking(b domain.Booking) domain.Booking {
	b.SlotAuth = b.SlotAuth.Clone()
	b.OperatorID = cloneIntPtr(b.OperatorID)
	b.ApplicationID = cloneIntPtr(b.ApplicationID)
	b.ProjectID = cloneIntPtr(b.ProjectID)
	b.Experiment = cloneAnyMap(b.Experiment)
	b.Extra = cloneExtra(b.Extra)
	return b
}

func cloneSession(s domain.Session) domain.Session {
	if s.Start != nil {
		v := *s.Start
		s.Start = &v
	}
	if s.End != nil {
		v := *s.End
		s.End = &v
	}
	s.ResourceID = cloneIntPtr(s.ResourceID)
	s.BookingID = cloneIntPtr(s.BookingID)
	s.OperatorID = cloneIntPtr(s.OperatorID)
	s.Extra = cloneExtra(s.Extra)
	return s
}

func cloneProject(p domain.Project) domain.Project {
	p.Extra = cloneExtra(p.Extra)
	return p
}

func cloneEntry(e domain.Entry) domain.Entry {
	e.Data = cloneAnyMap(e.Data)
	e.Extra = cloneExtra(e.Extra)
	return e
}

func clonePuck(p domain.Puck) domain.Puck {
	p.Extra = cloneExtra(p.Extra)
	return p
}

func cloneInvoicePeriod(p domain.InvoicePeriod) domain.InvoicePeriod {
	p.Extra = cloneExtra(p.Extra)
	return p
}

func cloneTransaction(t domain.Transaction) domain.Transaction {
	t.Extra = cloneExtra(t.Extra)
	return t
}

func cloneForm(f domain.Form) domain.Form {
	f.Definition = cloneAnyMap(f.Definition)
	return f
}

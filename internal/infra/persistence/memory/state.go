// Package memory implements the in-memory persistent store backing the
// facility engine. Transactions operate on a deep copy of the state and
// commit by swapping it in, so readers never observe partial writes.
package memory

import (
	"sort"

	"emhub/pkg/domain"
)

// Snapshot is the serialized form of the whole store, one bucket per entity
// type plus the id counters. The sqlite and postgres backends persist it
// bucket by bucket.
type Snapshot struct {
	SchemaVersion  int                    `json:"schema_version"`
	Resources      []domain.Resource      `json:"resources"`
	Users          []domain.User          `json:"users"`
	Templates      []domain.Template      `json:"templates"`
	Applications   []domain.Application   `json:"applications"`
	Bookings       []domain.Booking       `json:"bookings"`
	Sessions       []domain.Session       `json:"sessions"`
	Projects       []domain.Project       `json:"projects"`
	Entries        []domain.Entry         `json:"entries"`
	Pucks          []domain.Puck          `json:"pucks"`
	InvoicePeriods []domain.InvoicePeriod `json:"invoice_periods"`
	Transactions   []domain.Transaction   `json:"transactions"`
	Forms          []domain.Form          `json:"forms"`
	Sequences      map[string]int         `json:"sequences"`
}

// SchemaVersion is bumped when the snapshot layout changes.
const SchemaVersion = 1

// BucketNames lists the snapshot buckets in their persisted order.
var BucketNames = []string{
	"resources", "users", "templates", "applications", "bookings",
	"sessions", "projects", "entries", "pucks", "invoice_periods",
	"transactions", "forms", "sequences",
}

// BucketTarget maps a bucket name to a pointer at the matching snapshot
// field, for the durable backends to (un)marshal bucket by bucket.
func BucketTarget(snap *Snapshot, bucket string) (any, bool) {
	switch bucket {
	case "resources":
		return &snap.Resources, true
	case "users":
		return &snap.Users, true
	case "templates":
		return &snap.Templates, true
	case "applications":
		return &snap.Applications, true
	case "bookings":
		return &snap.Bookings, true
	case "sessions":
		return &snap.Sessions, true
	case "projects":
		return &snap.Projects, true
	case "entries":
		return &snap.Entries, true
	case "pucks":
		return &snap.Pucks, true
	case "invoice_periods":
		return &snap.InvoicePeriods, true
	case "transactions":
		return &snap.Transactions, true
	case "forms":
		return &snap.Forms, true
	case "sequences":
		return &snap.Sequences, true
	default:
		return nil, false
	}
}

type state struct {
	resources      map[int]domain.Resource
	users          map[int]domain.User
	templates      map[int]domain.Template
	applications   map[int]domain.Application
	bookings       map[int]domain.Booking
	sessions       map[int]domain.Session
	projects       map[int]domain.Project
	entries        map[int]domain.Entry
	pucks          map[int]domain.Puck
	invoicePeriods map[int]domain.InvoicePeriod
	transactions   map[int]domain.Transaction
	forms          map[int]domain.Form
	sequences      map[string]int
}

func newState() *state {
	return &state{
		resources:      map[int]domain.Resource{},
		users:          map[int]domain.User{},
		templates:      map[int]domain.Template{},
		applications:   map[int]domain.Application{},
		bookings:       map[int]domain.Booking{},
		sessions:       map[int]domain.Session{},
		projects:       map[int]domain.Project{},
		entries:        map[int]domain.Entry{},
		pucks:          map[int]domain.Puck{},
		invoicePeriods: map[int]domain.InvoicePeriod{},
		transactions:   map[int]domain.Transaction{},
		forms:          map[int]domain.Form{},
		sequences:      map[string]int{},
	}
}

// nextID advances the autoincrement counter of one bucket.
func (s *state) nextID(bucket domain.EntityType) int {
	s.sequences[string(bucket)]++
	return s.sequences[string(bucket)]
}

// bumpSequence raises a bucket counter to at least id, used when records are
// created with explicit ids during import.
func (s *state) bumpSequence(bucket domain.EntityType, id int) {
	if s.sequences[string(bucket)] < id {
		s.sequences[string(bucket)] = id
	}
}

func (s *state) clone() *state {
	out := newState()
	for id, v := range s.resources {
		out.resources[id] = cloneResource(v)
	}
	for id, v := range s.users {
		out.users[id] = cloneUser(v)
	}
	for id, v := range s.templates {
		out.templates[id] = cloneTemplate(v)
	}
	for id, v := range s.applications {
		out.applications[id] = cloneApplication(v)
	}
	for id, v := range s.bookings {
		out.bookings[id] = cloneBooking(v)
	}
	for id, v := range s.sessions {
		out.sessions[id] = cloneSession(v)
	}
	for id, v := range s.projects {
		out.projects[id] = cloneProject(v)
	}
	for id, v := range s.entries {
		out.entries[id] = cloneEntry(v)
	}
	for id, v := range s.pucks {
		out.pucks[id] = clonePuck(v)
	}
	for id, v := range s.invoicePeriods {
		out.invoicePeriods[id] = cloneInvoicePeriod(v)
	}
	for id, v := range s.transactions {
		out.transactions[id] = cloneTransaction(v)
	}
	for id, v := range s.forms {
		out.forms[id] = cloneForm(v)
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	return out
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{SchemaVersion: SchemaVersion, Sequences: map[string]int{}}
	for _, v := range sortedValues(s.resources) {
		snap.Resources = append(snap.Resources, cloneResource(v))
	}
	for _, v := range sortedValues(s.users) {
		snap.Users = append(snap.Users, cloneUser(v))
	}
	for _, v := range sortedValues(s.templates) {
		snap.Templates = append(snap.Templates, cloneTemplate(v))
	}
	for _, v := range sortedValues(s.applications) {
		snap.Applications = append(snap.Applications, cloneApplication(v))
	}
	for _, v := range sortedValues(s.bookings) {
		snap.Bookings = append(snap.Bookings, cloneBooking(v))
	}
	for _, v := range sortedValues(s.sessions) {
		snap.Sessions = append(snap.Sessions, cloneSession(v))
	}
	for _, v := range sortedValues(s.projects) {
		snap.Projects = append(snap.Projects, cloneProject(v))
	}
	for _, v := range sortedValues(s.entries) {
		snap.Entries = append(snap.Entries, cloneEntry(v))
	}
	for _, v := range sortedValues(s.pucks) {
		snap.Pucks = append(snap.Pucks, clonePuck(v))
	}
	for _, v := range sortedValues(s.invoicePeriods) {
		snap.InvoicePeriods = append(snap.InvoicePeriods, cloneInvoicePeriod(v))
	}
	for _, v := range sortedValues(s.transactions) {
		snap.Transactions = append(snap.Transactions, cloneTransaction(v))
	}
	for _, v := range sortedValues(s.forms) {
		snap.Forms = append(snap.Forms, cloneForm(v))
	}
	for k, v := range s.sequences {
		snap.Sequences[k] = v
	}
	return snap
}

// restore rebuilds the state from a snapshot, normalizing legacy records and
// recomputing any sequence counter that lags behind the stored ids.
func restore(snap Snapshot) *state {
	s := newState()
	for _, v := range snap.Resources {
		if v.Status == "" {
			v.Status = domain.ResourceStatusActive
		}
		s.resources[v.ID] = cloneResource(v)
		s.bumpSequence(domain.EntityResource, v.ID)
	}
	for _, v := range snap.Users {
		if v.Status == "" {
			v.Status = domain.UserStatusActive
		}
		if len(v.Roles) == 0 {
			v.Roles = []string{domain.RoleUser}
		}
		s.users[v.ID] = cloneUser(v)
		s.bumpSequence(domain.EntityUser, v.ID)
	}
	for _, v := range snap.Templates {
		s.templates[v.ID] = cloneTemplate(v)
		s.bumpSequence(domain.EntityTemplate, v.ID)
	}
	for _, v := range snap.Applications {
		s.applications[v.ID] = cloneApplication(v)
		s.bumpSequence(domain.EntityApplication, v.ID)
	}
	for _, v := range snap.Bookings {
		if v.Type == "" {
			v.Type = domain.BookingTypeBooking
		}
		s.bookings[v.ID] = cloneBooking(v)
		s.bumpSequence(domain.EntityBooking, v.ID)
	}
	for _, v := range snap.Sessions {
		s.sessions[v.ID] = cloneSession(v)
		s.bumpSequence(domain.EntitySession, v.ID)
	}
	for _, v := range snap.Projects {
		if v.Status == "" {
			v.Status = domain.ProjectStatusActive
		}
		s.projects[v.ID] = cloneProject(v)
		s.bumpSequence(domain.EntityProject, v.ID)
	}
	for _, v := range snap.Entries {
		s.entries[v.ID] = cloneEntry(v)
		s.bumpSequence(domain.EntityEntry, v.ID)
	}
	for _, v := range snap.Pucks {
		s.pucks[v.ID] = clonePuck(v)
		s.bumpSequence(domain.EntityPuck, v.ID)
	}
	for _, v := range snap.InvoicePeriods {
		s.invoicePeriods[v.ID] = cloneInvoicePeriod(v)
		s.bumpSequence(domain.EntityInvoicePeriod, v.ID)
	}
	for _, v := range snap.Transactions {
		s.transactions[v.ID] = cloneTransaction(v)
		s.bumpSequence(domain.EntityTransaction, v.ID)
	}
	for _, v := range snap.Forms {
		s.forms[v.ID] = cloneForm(v)
		s.bumpSequence(domain.EntityForm, v.ID)
	}
	for k, v := range snap.Sequences {
		if s.sequences[k] < v {
			s.sequences[k] = v
		}
	}
	return s
}

func sortedValues[T any](m map[int]T) []T {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

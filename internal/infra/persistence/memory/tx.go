package memory

import (
	"context"

	"emhub/pkg/domain"
)

// transaction is the working view handed to RunInTransaction callbacks. It
// owns a private state clone; mutations apply immediately to the clone and
// are recorded for rule evaluation and commit hooks.
type transaction struct {
	state    *state
	changes  []domain.Change
	readOnly bool
}

var errReadOnly = domain.ValidationError{Message: "store view is read-only"}

func (t *transaction) record(entity domain.EntityType, action domain.Action, before, after any) {
	t.changes = append(t.changes, domain.Change{
		Entity: entity,
		Action: action,
		Before: before,
		After:  after,
	})
}

// --- finders -------------------------------------------------------------

func (t *transaction) ListResources(ctx context.Context) ([]domain.Resource, error) {
	out := sortedValues(t.state.resources)
	for i := range out {
		out[i] = cloneResource(out[i])
	}
	return out, nil
}

func (t *transaction) FindResource(ctx context.Context, id int) (domain.Resource, bool, error) {
	v, ok := t.state.resources[id]
	if !ok {
		return domain.Resource{}, false, nil
	}
	return cloneResource(v), true, nil
}

func (t *transaction) ListUsers(ctx context.Context) ([]domain.User, error) {
	out := sortedValues(t.state.users)
	for i := range out {
		out[i] = cloneUser(out[i])
	}
	return out, nil
}

func (t *transaction) FindUser(ctx context.Context, id int) (domain.User, bool, error) {
	v, ok := t.state.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	return cloneUser(v), true, nil
}

func (t *transaction) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	out := sortedValues(t.state.templates)
	for i := range out {
		out[i] = cloneTemplate(out[i])
	}
	return out, nil
}

func (t *transaction) FindTemplate(ctx context.Context, id int) (domain.Template, bool, error) {
	v, ok := t.state.templates[id]
	if !ok {
		return domain.Template{}, false, nil
	}
	return cloneTemplate(v), true, nil
}

func (t *transaction) ListApplications(ctx context.Context) ([]domain.Application, error) {
	out := sortedValues(t.state.applications)
	for i := range out {
		out[i] = cloneApplication(out[i])
	}
	return out, nil
}

func (t *transaction) FindApplication(ctx context.Context, id int) (domain.Application, bool, error) {
	v, ok := t.state.applications[id]
	if !ok {
		return domain.Application{}, false, nil
	}
	return cloneApplication(v), true, nil
}

func (t *transaction) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	out := sortedValues(t.state.bookings)
	for i := range out {
		out[i] = cloneBooking(out[i])
	}
	return out, nil
}

func (t *transaction) FindBooking(ctx context.Context, id int) (domain.Booking, bool, error) {
	v, ok := t.state.bookings[id]
	if !ok {
		return domain.Booking{}, false, nil
	}
	return cloneBooking(v), true, nil
}

func (t *transaction) ListSessions(ctx context.Context) ([]domain.Session, error) {
	out := sortedValues(t.state.sessions)
	for i := range out {
		out[i] = cloneSession(out[i])
	}
	return out, nil
}

func (t *transaction) FindSession(ctx context.Context, id int) (domain.Session, bool, error) {
	v, ok := t.state.sessions[id]
	if !ok {
		return domain.Session{}, false, nil
	}
	return cloneSession(v), true, nil
}

func (t *transaction) ListProjects(ctx context.Context) ([]domain.Project, error) {
	out := sortedValues(t.state.projects)
	for i := range out {
		out[i] = cloneProject(out[i])
	}
	return out, nil
}

func (t *transaction) FindProject(ctx context.Context, id int) (domain.Project, bool, error) {
	v, ok := t.state.projects[id]
	if !ok {
		return domain.Project{}, false, nil
	}
	return cloneProject(v), true, nil
}

func (t *transaction) ListEntries(ctx context.Context) ([]domain.Entry, error) {
	out := sortedValues(t.state.entries)
	for i := range out {
		out[i] = cloneEntry(out[i])
	}
	return out, nil
}

func (t *transaction) FindEntry(ctx context.Context, id int) (domain.Entry, bool, error) {
	v, ok := t.state.entries[id]
	if !ok {
		return domain.Entry{}, false, nil
	}
	return cloneEntry(v), true, nil
}

func (t *transaction) ListPucks(ctx context.Context) ([]domain.Puck, error) {
	out := sortedValues(t.state.pucks)
	for i := range out {
		out[i] = clonePuck(out[i])
	}
	return out, nil
}

func (t *transaction) FindPuck(ctx context.Context, id int) (domain.Puck, bool, error) {
	v, ok := t.state.pucks[id]
	if !ok {
		return domain.Puck{}, false, nil
	}
	return clonePuck(v), true, nil
}

func (t *transaction) ListInvoicePeriods(ctx context.Context) ([]domain.InvoicePeriod, error) {
	out := sortedValues(t.state.invoicePeriods)
	for i := range out {
		out[i] = cloneInvoicePeriod(out[i])
	}
	return out, nil
}

func (t *transaction) FindInvoicePeriod(ctx context.Context, id int) (domain.InvoicePeriod, bool, error) {
	v, ok := t.state.invoicePeriods[id]
	if !ok {
		return domain.InvoicePeriod{}, false, nil
	}
	return cloneInvoicePeriod(v), true, nil
}

func (t *transaction) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	out := sortedValues(t.state.transactions)
	for i := range out {
		out[i] = cloneTransaction(out[i])
	}
	return out, nil
}

func (t *transaction) FindTransaction(ctx context.Context, id int) (domain.Transaction, bool, error) {
	v, ok := t.state.transactions[id]
	if !ok {
		return domain.Transaction{}, false, nil
	}
	return cloneTransaction(v), true, nil
}

func (t *transaction) ListForms(ctx context.Context) ([]domain.Form, error) {
	out := sortedValues(t.state.forms)
	for i := range out {
		out[i] = cloneForm(out[i])
	}
	return out, nil
}

func (t *transaction) FindForm(ctx context.Context, id int) (domain.Form, bool, error) {
	v, ok := t.state.forms[id]
	if !ok {
		return domain.Form{}, false, nil
	}
	return cloneForm(v), true, nil
}

// --- reference guards ----------------------------------------------------

func (t *transaction) requireUser(id int) error {
	if _, ok := t.state.users[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityUser, ID: id}
	}
	return nil
}

func (t *transaction) requireOptionalUser(id *int) error {
	if id == nil {
		return nil
	}
	return t.requireUser(*id)
}

func (t *transaction) requireResource(id int) error {
	if _, ok := t.state.resources[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityResource, ID: id}
	}
	return nil
}

func (t *transaction) requireProject(id int) error {
	if _, ok := t.state.projects[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityProject, ID: id}
	}
	return nil
}

// --- resources -----------------------------------------------------------

func (t *transaction) CreateResource(ctx context.Context, r domain.Resource) (domain.Resource, error) {
	if t.readOnly {
		return domain.Resource{}, errReadOnly
	}
	if r.Name == "" {
		return domain.Resource{}, domain.Validationf("resource name is required")
	}
	for _, existing := range t.state.resources {
		if existing.Name == r.Name {
			return domain.Resource{}, domain.Validationf("resource name %q already taken", r.Name)
		}
	}
	if r.Status == "" {
		r.Status = domain.ResourceStatusActive
	}
	if r.ID == 0 {
		r.ID = t.state.nextID(domain.EntityResource)
	} else {
		if _, exists := t.state.resources[r.ID]; exists {
			return domain.Resource{}, domain.Validationf("resource %d already exists", r.ID)
		}
		t.state.bumpSequence(domain.EntityResource, r.ID)
	}
	stored := cloneResource(r)
	t.state.resources[r.ID] = stored
	t.record(domain.EntityResource, domain.ActionCreate, nil, cloneResource(stored))
	return cloneResource(stored), nil
}

func (t *transaction) UpdateResource(ctx context.Context, id int, mutate func(*domain.Resource) error) (domain.Resource, error) {
	if t.readOnly {
		return domain.Resource{}, errReadOnly
	}
	current, ok := t.state.resources[id]
	if !ok {
		return domain.Resource{}, domain.NotFoundError{Entity: domain.EntityResource, ID: id}
	}
	before := cloneResource(current)
	updated := cloneResource(current)
	if err := mutate(&updated); err != nil {
		return domain.Resource{}, err
	}
	updated.ID = id
	if updated.Name == "" {
		return domain.Resource{}, domain.Validationf("resource name is required")
	}
	for _, other := range t.state.resources {
		if other.ID != id && other.Name == updated.Name {
			return domain.Resource{}, domain.Validationf("resource name %q already taken", updated.Name)
		}
	}
	t.state.resources[id] = cloneResource(updated)
	t.record(domain.EntityResource, domain.ActionUpdate, before, cloneResource(updated))
	return updated, nil
}

func (t *transaction) DeleteResource(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.resources[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityResource, ID: id}
	}
	for _, b := range t.state.bookings {
		if b.ResourceID == id {
			return domain.Validationf("resource %d is referenced by booking %d", id, b.ID)
		}
	}
	for _, s := range t.state.sessions {
		if s.ResourceID != nil && *s.ResourceID == id {
			return domain.Validationf("resource %d is referenced by session %d", id, s.ID)
		}
	}
	delete(t.state.resources, id)
	t.record(domain.EntityResource, domain.ActionDelete, cloneResource(current), nil)
	return nil
}

// --- users ---------------------------------------------------------------

func (t *transaction) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if t.readOnly {
		return domain.User{}, errReadOnly
	}
	if u.Username == "" {
		return domain.User{}, domain.Validationf("username is required")
	}
	for _, existing := range t.state.users {
		if existing.Username == u.Username {
			return domain.User{}, domain.Validationf("username %q already taken", u.Username)
		}
		if u.Email != "" && existing.Email == u.Email {
			return domain.User{}, domain.Validationf("email %q already taken", u.Email)
		}
	}
	if err := t.requireOptionalUser(u.PIID); err != nil {
		return domain.User{}, err
	}
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{domain.RoleUser}
	}
	if u.ID == 0 {
		u.ID = t.state.nextID(domain.EntityUser)
	} else {
		if _, exists := t.state.users[u.ID]; exists {
			return domain.User{}, domain.Validationf("user %d already exists", u.ID)
		}
		t.state.bumpSequence(domain.EntityUser, u.ID)
	}
	stored := cloneUser(u)
	t.state.users[u.ID] = stored
	t.record(domain.EntityUser, domain.ActionCreate, nil, cloneUser(stored))
	return cloneUser(stored), nil
}

func (t *transaction) UpdateUser(ctx context.Context, id int, mutate func(*domain.User) error) (domain.User, error) {
	if t.readOnly {
		return domain.User{}, errReadOnly
	}
	current, ok := t.state.users[id]
	if !ok {
		return domain.User{}, domain.NotFoundError{Entity: domain.EntityUser, ID: id}
	}
	before := cloneUser(current)
	updated := cloneUser(current)
	if err := mutate(&updated); err != nil {
		return domain.User{}, err
	}
	updated.ID = id
	if updated.Username == "" {
		return domain.User{}, domain.Validationf("username is required")
	}
	for _, other := range t.state.users {
		if other.ID == id {
			continue
		}
		if other.Username == updated.Username {
			return domain.User{}, domain.Validationf("username %q already taken", updated.Username)
		}
		if updated.Email != "" && other.Email == updated.Email {
			return domain.User{}, domain.Validationf("email %q already taken", updated.Email)
		}
	}
	if updated.PIID != nil && *updated.PIID == id {
		return domain.User{}, domain.Validationf("user %d cannot be their own pi reference", id)
	}
	if err := t.requireOptionalUser(updated.PIID); err != nil {
		return domain.User{}, err
	}
	t.state.users[id] = cloneUser(updated)
	t.record(domain.EntityUser, domain.ActionUpdate, before, cloneUser(updated))
	return updated, nil
}

func (t *transaction) DeleteUser(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.users[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityUser, ID: id}
	}
	for _, u := range t.state.users {
		if u.PIID != nil && *u.PIID == id {
			return domain.Validationf("user %d is pi of user %d", id, u.ID)
		}
	}
	for _, b := range t.state.bookings {
		if b.OwnerID == id || b.CreatorID == id || (b.OperatorID != nil && *b.OperatorID == id) {
			return domain.Validationf("user %d is referenced by booking %d", id, b.ID)
		}
	}
	for _, a := range t.state.applications {
		if a.HasUser(id) {
			return domain.Validationf("user %d is referenced by application %d", id, a.ID)
		}
	}
	for _, p := range t.state.projects {
		if p.UserID == id {
			return domain.Validationf("user %d is referenced by project %d", id, p.ID)
		}
	}
	for _, tr := range t.state.transactions {
		if tr.UserID == id {
			return domain.Validationf("user %d is referenced by transaction %d", id, tr.ID)
		}
	}
	delete(t.state.users, id)
	t.record(domain.EntityUser, domain.ActionDelete, cloneUser(current), nil)
	return nil
}

// --- templates -----------------------------------------------------------

func (t *transaction) CreateTemplate(ctx context.Context, tpl domain.Template) (domain.Template, error) {
	if t.readOnly {
		return domain.Template{}, errReadOnly
	}
	if tpl.Status == "" {
		tpl.Status = domain.TemplateStatusPreparation
	}
	if tpl.ID == 0 {
		tpl.ID = t.state.nextID(domain.EntityTemplate)
	} else {
		if _, exists := t.state.templates[tpl.ID]; exists {
			return domain.Template{}, domain.Validationf("template %d already exists", tpl.ID)
		}
		t.state.bumpSequence(domain.EntityTemplate, tpl.ID)
	}
	stored := cloneTemplate(tpl)
	t.state.templates[tpl.ID] = stored
	t.record(domain.EntityTemplate, domain.ActionCreate, nil, cloneTemplate(stored))
	return cloneTemplate(stored), nil
}

func (t *transaction) UpdateTemplate(ctx context.Context, id int, mutate func(*domain.Template) error) (domain.Template, error) {
	if t.readOnly {
		return domain.Template{}, errReadOnly
	}
	current, ok := t.state.templates[id]
	if !ok {
		return domain.Template{}, domain.NotFoundError{Entity: domain.EntityTemplate, ID: id}
	}
	before := cloneTemplate(current)
	updated := cloneTemplate(current)
	if err := mutate(&updated); err != nil {
		return domain.Template{}, err
	}
	updated.ID = id
	t.state.templates[id] = cloneTemplate(updated)
	t.record(domain.EntityTemplate, domain.ActionUpdate, before, cloneTemplate(updated))
	return updated, nil
}

func (t *transaction) DeleteTemplate(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.templates[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTemplate, ID: id}
	}
	for _, a := range t.state.applications {
		if a.TemplateID != nil && *a.TemplateID == id {
			return domain.Validationf("template %d is referenced by application %d", id, a.ID)
		}
	}
	delete(t.state.templates, id)
	t.record(domain.EntityTemplate, domain.ActionDelete, cloneTemplate(current), nil)
	return nil
}

// --- applications --------------------------------------------------------

func (t *transaction) CreateApplication(ctx context.Context, a domain.Application) (domain.Application, error) {
	if t.readOnly {
		return domain.Application{}, errReadOnly
	}
	if a.Code == "" {
		return domain.Application{}, domain.Validationf("application code is required")
	}
	for _, existing := range t.state.applications {
		if existing.Code == a.Code {
			return domain.Application{}, domain.Validationf("application code %q already taken", a.Code)
		}
	}
	if err := t.requireUser(a.CreatorID); err != nil {
		return domain.Application{}, err
	}
	if creator := t.state.users[a.CreatorID]; !creator.IsPI() {
		return domain.Application{}, domain.Validationf("application creator %q must hold the pi role", creator.Username)
	}
	for _, uid := range a.UserIDs {
		if err := t.requireUser(uid); err != nil {
			return domain.Application{}, err
		}
	}
	if a.TemplateID != nil {
		if _, ok := t.state.templates[*a.TemplateID]; !ok {
			return domain.Application{}, domain.NotFoundError{Entity: domain.EntityTemplate, ID: *a.TemplateID}
		}
	}
	if a.Status == "" {
		a.Status = domain.ApplicationStatusPreparation
	}
	if a.ID == 0 {
		a.ID = t.state.nextID(domain.EntityApplication)
	} else {
		if _, exists := t.state.applications[a.ID]; exists {
			return domain.Application{}, domain.Validationf("application %d already exists", a.ID)
		}
		t.state.bumpSequence(domain.EntityApplication, a.ID)
	}
	stored := cloneApplication(a)
	t.state.applications[a.ID] = stored
	t.record(domain.EntityApplication, domain.ActionCreate, nil, cloneApplication(stored))
	return cloneApplication(stored), nil
}

func (t *transaction) UpdateApplication(ctx context.Context, id int, mutate func(*domain.Application) error) (domain.Application, error) {
	if t.readOnly {
		return domain.Application{}, errReadOnly
	}
	current, ok := t.state.applications[id]
	if !ok {
		return domain.Application{}, domain.NotFoundError{Entity: domain.EntityApplication, ID: id}
	}
	before := cloneApplication(current)
	updated := cloneApplication(current)
	if err := mutate(&updated); err != nil {
		return domain.Application{}, err
	}
	updated.ID = id
	if updated.Code == "" {
		return domain.Application{}, domain.Validationf("application code is required")
	}
	if err := t.requireUser(updated.CreatorID); err != nil {
		return domain.Application{}, err
	}
	for _, uid := range updated.UserIDs {
		if err := t.requireUser(uid); err != nil {
			return domain.Application{}, err
		}
	}
	t.state.applications[id] = cloneApplication(updated)
	t.record(domain.EntityApplication, domain.ActionUpdate, before, cloneApplication(updated))
	return updated, nil
}

func (t *transaction) DeleteApplication(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.applications[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityApplication, ID: id}
	}
	for _, b := range t.state.bookings {
		if b.ApplicationID != nil && *b.ApplicationID == id {
			return domain.Validationf("application %d is referenced by booking %d", id, b.ID)
		}
	}
	delete(t.state.applications, id)
	t.record(domain.EntityApplication, domain.ActionDelete, cloneApplication(current), nil)
	return nil
}

// --- bookings ------------------------------------------------------------

func (t *transaction) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if t.readOnly {
		return domain.Booking{}, errReadOnly
	}
	if b.Start.IsZero() || b.End.IsZero() {
		return domain.Booking{}, domain.Validationf("booking start and end are required")
	}
	if err := t.requireResource(b.ResourceID); err != nil {
		return domain.Booking{}, err
	}
	if err := t.requireUser(b.OwnerID); err != nil {
		return domain.Booking{}, err
	}
	if err := t.requireUser(b.CreatorID); err != nil {
		return domain.Booking{}, err
	}
	if err := t.requireOptionalUser(b.OperatorID); err != nil {
		return domain.Booking{}, err
	}
	if b.ApplicationID != nil {
		if _, ok := t.state.applications[*b.ApplicationID]; !ok {
			return domain.Booking{}, domain.NotFoundError{Entity: domain.EntityApplication, ID: *b.ApplicationID}
		}
	}
	if b.ProjectID != nil {
		if err := t.requireProject(*b.ProjectID); err != nil {
			return domain.Booking{}, err
		}
	}
	if b.Type == "" {
		b.Type = domain.BookingTypeBooking
	}
	if b.ID == 0 {
		b.ID = t.state.nextID(domain.EntityBooking)
	} else {
		if _, exists := t.state.bookings[b.ID]; exists {
			return domain.Booking{}, domain.Validationf("booking %d already exists", b.ID)
		}
		t.state.bumpSequence(domain.EntityBooking, b.ID)
	}
	stored := cloneBooking(b)
	t.state.bookings[b.ID] = stored
	t.record(domain.EntityBooking, domain.ActionCreate, nil, cloneBooking(stored))
	return cloneBooking(stored), nil
}

func (t *transaction) UpdateBooking(ctx context.Context, id int, mutate func(*domain.Booking) error) (domain.Booking, error) {
	if t.readOnly {
		return domain.Booking{}, errReadOnly
	}
	current, ok := t.state.bookings[id]
	if !ok {
		return domain.Booking{}, domain.NotFoundError{Entity: domain.EntityBooking, ID: id}
	}
	before := cloneBooking(current)
	updated := cloneBooking(current)
	if err := mutate(&updated); err != nil {
		return domain.Booking{}, err
	}
	updated.ID = id
	if updated.Start.IsZero() || updated.End.IsZero() {
		return domain.Booking{}, domain.Validationf("booking start and end are required")
	}
	if err := t.requireResource(updated.ResourceID); err != nil {
		return domain.Booking{}, err
	}
	if err := t.requireUser(updated.OwnerID); err != nil {
		return domain.Booking{}, err
	}
	if err := t.requireOptionalUser(updated.OperatorID); err != nil {
		return domain.Booking{}, err
	}
	t.state.bookings[id] = cloneBooking(updated)
	t.record(domain.EntityBooking, domain.ActionUpdate, before, cloneBooking(updated))
	return updated, nil
}

func (t *transaction) DeleteBooking(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.bookings[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityBooking, ID: id}
	}
	// Sessions survive the booking they were collected under.
	for sid, sess := range t.state.sessions {
		if sess.BookingID != nil && *sess.BookingID == id {
			before := cloneSession(sess)
			sess.BookingID = nil
			t.state.sessions[sid] = cloneSession(sess)
			t.record(domain.EntitySession, domain.ActionUpdate, before, cloneSession(sess))
		}
	}
	delete(t.state.bookings, id)
	t.record(domain.EntityBooking, domain.ActionDelete, cloneBooking(current), nil)
	return nil
}

// --- sessions ------------------------------------------------------------

func (t *transaction) CreateSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	if t.readOnly {
		return domain.Session{}, errReadOnly
	}
	if s.Name == "" {
		return domain.Session{}, domain.Validationf("session name is required")
	}
	for _, existing := range t.state.sessions {
		if existing.Name == s.Name {
			return domain.Session{}, domain.Validationf("session name %q already taken", s.Name)
		}
	}
	if s.ResourceID != nil {
		if err := t.requireResource(*s.ResourceID); err != nil {
			return domain.Session{}, err
		}
	}
	if s.BookingID != nil {
		if _, ok := t.state.bookings[*s.BookingID]; !ok {
			return domain.Session{}, domain.NotFoundError{Entity: domain.EntityBooking, ID: *s.BookingID}
		}
	}
	if err := t.requireOptionalUser(s.OperatorID); err != nil {
		return domain.Session{}, err
	}
	if s.Status == "" {
		s.Status = domain.SessionStatusPending
	}
	if s.ID == 0 {
		s.ID = t.state.nextID(domain.EntitySession)
	} else {
		if _, exists := t.state.sessions[s.ID]; exists {
			return domain.Session{}, domain.Validationf("session %d already exists", s.ID)
		}
		t.state.bumpSequence(domain.EntitySession, s.ID)
	}
	stored := cloneSession(s)
	t.state.sessions[s.ID] = stored
	t.record(domain.EntitySession, domain.ActionCreate, nil, cloneSession(stored))
	return cloneSession(stored), nil
}

func (t *transaction) UpdateSession(ctx context.Context, id int, mutate func(*domain.Session) error) (domain.Session, error) {
	if t.readOnly {
		return domain.Session{}, errReadOnly
	}
	current, ok := t.state.sessions[id]
	if !ok {
		return domain.Session{}, domain.NotFoundError{Entity: domain.EntitySession, ID: id}
	}
	before := cloneSession(current)
	updated := cloneSession(current)
	if err := mutate(&updated); err != nil {
		return domain.Session{}, err
	}
	updated.ID = id
	if updated.Name == "" {
		return domain.Session{}, domain.Validationf("session name is required")
	}
	for _, other := range t.state.sessions {
		if other.ID != id && other.Name == updated.Name {
			return domain.Session{}, domain.Validationf("session name %q already taken", updated.Name)
		}
	}
	t.state.sessions[id] = cloneSession(updated)
	t.record(domain.EntitySession, domain.ActionUpdate, before, cloneSession(updated))
	return updated, nil
}

func (t *transaction) DeleteSession(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.sessions[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntitySession, ID: id}
	}
	delete(t.state.sessions, id)
	t.record(domain.EntitySession, domain.ActionDelete, cloneSession(current), nil)
	return nil
}

// --- projects ------------------------------------------------------------

func (t *transaction) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if t.readOnly {
		return domain.Project{}, errReadOnly
	}
	if err := t.requireUser(p.UserID); err != nil {
		return domain.Project{}, err
	}
	if p.Status == "" {
		p.Status = domain.ProjectStatusActive
	}
	if p.ID == 0 {
		p.ID = t.state.nextID(domain.EntityProject)
	} else {
		if _, exists := t.state.projects[p.ID]; exists {
			return domain.Project{}, domain.Validationf("project %d already exists", p.ID)
		}
		t.state.bumpSequence(domain.EntityProject, p.ID)
	}
	stored := cloneProject(p)
	t.state.projects[p.ID] = stored
	t.record(domain.EntityProject, domain.ActionCreate, nil, cloneProject(stored))
	return cloneProject(stored), nil
}

func (t *transaction) UpdateProject(ctx context.Context, id int, mutate func(*domain.Project) error) (domain.Project, error) {
	if t.readOnly {
		return domain.Project{}, errReadOnly
	}
	current, ok := t.state.projects[id]
	if !ok {
		return domain.Project{}, domain.NotFoundError{Entity: domain.EntityProject, ID: id}
	}
	before := cloneProject(current)
	updated := cloneProject(current)
	if err := mutate(&updated); err != nil {
		return domain.Project{}, err
	}
	updated.ID = id
	if err := t.requireUser(updated.UserID); err != nil {
		return domain.Project{}, err
	}
	t.state.projects[id] = cloneProject(updated)
	t.record(domain.EntityProject, domain.ActionUpdate, before, cloneProject(updated))
	return updated, nil
}

func (t *transaction) DeleteProject(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.projects[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityProject, ID: id}
	}
	// Entries belong to their project and are removed with it; bookings only
	// point at it and lose the link.
	for eid, e := range t.state.entries {
		if e.ProjectID == id {
			t.record(domain.EntityEntry, domain.ActionDelete, cloneEntry(e), nil)
			delete(t.state.entries, eid)
		}
	}
	for bid, b := range t.state.bookings {
		if b.ProjectID != nil && *b.ProjectID == id {
			before := cloneBooking(b)
			b.ProjectID = nil
			t.state.bookings[bid] = cloneBooking(b)
			t.record(domain.EntityBooking, domain.ActionUpdate, before, cloneBooking(b))
		}
	}
	delete(t.state.projects, id)
	t.record(domain.EntityProject, domain.ActionDelete, cloneProject(current), nil)
	return nil
}

// --- entries -------------------------------------------------------------

func (t *transaction) CreateEntry(ctx context.Context, e domain.Entry) (domain.Entry, error) {
	if t.readOnly {
		return domain.Entry{}, errReadOnly
	}
	if err := t.requireProject(e.ProjectID); err != nil {
		return domain.Entry{}, err
	}
	if e.ID == 0 {
		e.ID = t.state.nextID(domain.EntityEntry)
	} else {
		if _, exists := t.state.entries[e.ID]; exists {
			return domain.Entry{}, domain.Validationf("entry %d already exists", e.ID)
		}
		t.state.bumpSequence(domain.EntityEntry, e.ID)
	}
	stored := cloneEntry(e)
	t.state.entries[e.ID] = stored
	t.record(domain.EntityEntry, domain.ActionCreate, nil, cloneEntry(stored))
	return cloneEntry(stored), nil
}

func (t *transaction) UpdateEntry(ctx context.Context, id int, mutate func(*domain.Entry) error) (domain.Entry, error) {
	if t.readOnly {
		return domain.Entry{}, errReadOnly
	}
	current, ok := t.state.entries[id]
	if !ok {
		return domain.Entry{}, domain.NotFoundError{Entity: domain.EntityEntry, ID: id}
	}
	before := cloneEntry(current)
	updated := cloneEntry(current)
	if err := mutate(&updated); err != nil {
		return domain.Entry{}, err
	}
	updated.ID = id
	if err := t.requireProject(updated.ProjectID); err != nil {
		return domain.Entry{}, err
	}
	t.state.entries[id] = cloneEntry(updated)
	t.record(domain.EntityEntry, domain.ActionUpdate, before, cloneEntry(updated))
	return updated, nil
}

func (t *transaction) DeleteEntry(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.entries[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityEntry, ID: id}
	}
	delete(t.state.entries, id)
	t.record(domain.EntityEntry, domain.ActionDelete, cloneEntry(current), nil)
	return nil
}

// --- pucks ---------------------------------------------------------------

func (t *transaction) CreatePuck(ctx context.Context, p domain.Puck) (domain.Puck, error) {
	if t.readOnly {
		return domain.Puck{}, errReadOnly
	}
	if p.Code == "" {
		return domain.Puck{}, domain.Validationf("puck code is required")
	}
	for _, existing := range t.state.pucks {
		if existing.Dewar == p.Dewar && existing.Cane == p.Cane && existing.Position == p.Position {
			return domain.Puck{}, domain.Validationf("puck storage position %d/%d/%d already taken", p.Dewar, p.Cane, p.Position)
		}
	}
	if p.ID == 0 {
		p.ID = t.state.nextID(domain.EntityPuck)
	} else {
		if _, exists := t.state.pucks[p.ID]; exists {
			return domain.Puck{}, domain.Validationf("puck %d already exists", p.ID)
		}
		t.state.bumpSequence(domain.EntityPuck, p.ID)
	}
	stored := clonePuck(p)
	t.state.pucks[p.ID] = stored
	t.record(domain.EntityPuck, domain.ActionCreate, nil, clonePuck(stored))
	return clonePuck(stored), nil
}

func (t *transaction) UpdatePuck(ctx context.Context, id int, mutate func(*domain.Puck) error) (domain.Puck, error) {
	if t.readOnly {
		return domain.Puck{}, errReadOnly
	}
	current, ok := t.state.pucks[id]
	if !ok {
		return domain.Puck{}, domain.NotFoundError{Entity: domain.EntityPuck, ID: id}
	}
	before := clonePuck(current)
	updated := clonePuck(current)
	if err := mutate(&updated); err != nil {
		return domain.Puck{}, err
	}
	updated.ID = id
	for _, other := range t.state.pucks {
		if other.ID != id && other.Dewar == updated.Dewar && other.Cane == updated.Cane && other.Position == updated.Position {
			return domain.Puck{}, domain.Validationf("puck storage position %d/%d/%d already taken", updated.Dewar, updated.Cane, updated.Position)
		}
	}
	t.state.pucks[id] = clonePuck(updated)
	t.record(domain.EntityPuck, domain.ActionUpdate, before, clonePuck(updated))
	return updated, nil
}

func (t *transaction) DeletePuck(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.pucks[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityPuck, ID: id}
	}
	delete(t.state.pucks, id)
	t.record(domain.EntityPuck, domain.ActionDelete, clonePuck(current), nil)
	return nil
}

// --- invoice periods -----------------------------------------------------

func (t *transaction) CreateInvoicePeriod(ctx context.Context, p domain.InvoicePeriod) (domain.InvoicePeriod, error) {
	if t.readOnly {
		return domain.InvoicePeriod{}, errReadOnly
	}
	if p.Start.IsZero() || p.End.IsZero() || !p.Start.Before(p.End) {
		return domain.InvoicePeriod{}, domain.Validationf("invoice period needs start before end")
	}
	if p.Status == "" {
		p.Status = "active"
	}
	if p.ID == 0 {
		p.ID = t.state.nextID(domain.EntityInvoicePeriod)
	} else {
		if _, exists := t.state.invoicePeriods[p.ID]; exists {
			return domain.InvoicePeriod{}, domain.Validationf("invoice period %d already exists", p.ID)
		}
		t.state.bumpSequence(domain.EntityInvoicePeriod, p.ID)
	}
	stored := cloneInvoicePeriod(p)
	t.state.invoicePeriods[p.ID] = stored
	t.record(domain.EntityInvoicePeriod, domain.ActionCreate, nil, cloneInvoicePeriod(stored))
	return cloneInvoicePeriod(stored), nil
}

func (t *transaction) UpdateInvoicePeriod(ctx context.Context, id int, mutate func(*domain.InvoicePeriod) error) (domain.InvoicePeriod, error) {
	if t.readOnly {
		return domain.InvoicePeriod{}, errReadOnly
	}
	current, ok := t.state.invoicePeriods[id]
	if !ok {
		return domain.InvoicePeriod{}, domain.NotFoundError{Entity: domain.EntityInvoicePeriod, ID: id}
	}
	before := cloneInvoicePeriod(current)
	updated := cloneInvoicePeriod(current)
	if err := mutate(&updated); err != nil {
		return domain.InvoicePeriod{}, err
	}
	updated.ID = id
	t.state.invoicePeriods[id] = cloneInvoicePeriod(updated)
	t.record(domain.EntityInvoicePeriod, domain.ActionUpdate, before, cloneInvoicePeriod(updated))
	return updated, nil
}

func (t *transaction) DeleteInvoicePeriod(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.invoicePeriods[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityInvoicePeriod, ID: id}
	}
	delete(t.state.invoicePeriods, id)
	t.record(domain.EntityInvoicePeriod, domain.ActionDelete, cloneInvoicePeriod(current), nil)
	return nil
}

// --- transactions --------------------------------------------------------

func (t *transaction) CreateTransaction(ctx context.Context, tr domain.Transaction) (domain.Transaction, error) {
	if t.readOnly {
		return domain.Transaction{}, errReadOnly
	}
	if err := t.requireUser(tr.UserID); err != nil {
		return domain.Transaction{}, err
	}
	if tr.ID == 0 {
		tr.ID = t.state.nextID(domain.EntityTransaction)
	} else {
		if _, exists := t.state.transactions[tr.ID]; exists {
			return domain.Transaction{}, domain.Validationf("transaction %d already exists", tr.ID)
		}
		t.state.bumpSequence(domain.EntityTransaction, tr.ID)
	}
	stored := cloneTransaction(tr)
	t.state.transactions[tr.ID] = stored
	t.record(domain.EntityTransaction, domain.ActionCreate, nil, cloneTransaction(stored))
	return cloneTransaction(stored), nil
}

func (t *transaction) UpdateTransaction(ctx context.Context, id int, mutate func(*domain.Transaction) error) (domain.Transaction, error) {
	if t.readOnly {
		return domain.Transaction{}, errReadOnly
	}
	current, ok := t.state.transactions[id]
	if !ok {
		return domain.Transaction{}, domain.NotFoundError{Entity: domain.EntityTransaction, ID: id}
	}
	before := cloneTransaction(current)
	updated := cloneTransaction(current)
	if err := mutate(&updated); err != nil {
		return domain.Transaction{}, err
	}
	updated.ID = id
	if err := t.requireUser(updated.UserID); err != nil {
		return domain.Transaction{}, err
	}
	t.state.transactions[id] = cloneTransaction(updated)
	t.record(domain.EntityTransaction, domain.ActionUpdate, before, cloneTransaction(updated))
	return updated, nil
}

func (t *transaction) DeleteTransaction(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.transactions[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTransaction, ID: id}
	}
	delete(t.state.transactions, id)
	t.record(domain.EntityTransaction, domain.ActionDelete, cloneTransaction(current), nil)
	return nil
}

// --- forms ---------------------------------------------------------------

func (t *transaction) CreateForm(ctx context.Context, f domain.Form) (domain.Form, error) {
	if t.readOnly {
		return domain.Form{}, errReadOnly
	}
	if f.Name == "" {
		return domain.Form{}, domain.Validationf("form name is required")
	}
	for _, existing := range t.state.forms {
		if existing.Name == f.Name {
			return domain.Form{}, domain.Validationf("form %q already exists", f.Name)
		}
	}
	if f.ID == 0 {
		f.ID = t.state.nextID(domain.EntityForm)
	} else {
		if _, exists := t.state.forms[f.ID]; exists {
			return domain.Form{}, domain.Validationf("form %d already exists", f.ID)
		}
		t.state.bumpSequence(domain.EntityForm, f.ID)
	}
	stored := cloneForm(f)
	t.state.forms[f.ID] = stored
	t.record(domain.EntityForm, domain.ActionCreate, nil, cloneForm(stored))
	return cloneForm(stored), nil
}

func (t *transaction) UpdateForm(ctx context.Context, id int, mutate func(*domain.Form) error) (domain.Form, error) {
	if t.readOnly {
		return domain.Form{}, errReadOnly
	}
	current, ok := t.state.forms[id]
	if !ok {
		return domain.Form{}, domain.NotFoundError{Entity: domain.EntityForm, ID: id}
	}
	before := cloneForm(current)
	updated := cloneForm(current)
	if err := mutate(&updated); err != nil {
		return domain.Form{}, err
	}
	updated.ID = id
	if updated.Name == "" {
		return domain.Form{}, domain.Validationf("form name is required")
	}
	t.state.forms[id] = cloneForm(updated)
	t.record(domain.EntityForm, domain.ActionUpdate, before, cloneForm(updated))
	return updated, nil
}

func (t *transaction) DeleteForm(ctx context.Context, id int) error {
	if t.readOnly {
		return errReadOnly
	}
	current, ok := t.state.forms[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityForm, ID: id}
	}
	delete(t.state.forms, id)
	t.record(domain.EntityForm, domain.ActionDelete, cloneForm(current), nil)
	return nil
}

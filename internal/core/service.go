// Package core implements the facility engine: entity lifecycle, the
// booking rules, session management, and the operation log.
package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"emhub/internal/sessions"
	"emhub/pkg/domain"
)

// DefaultAdminUsername is created by Bootstrap when the store is empty.
const DefaultAdminUsername = "admin"

// Service exposes the engine operations on top of a persistent store.
type Service struct {
	store      domain.PersistentStore
	log        OperationLogger
	metrics    MetricsRecorder
	containers *sessions.Manager
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, used by tests and the booking engine
// cutoff checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOperationLog records every committed change to the given log.
func WithOperationLog(log OperationLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithMetrics records operation timings and results.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// commitNotifier is implemented by the store backends that expose their
// commit stream.
type commitNotifier interface {
	OnCommit(func(context.Context, []domain.Change))
}

// NewService wires a service around the store. When the store exposes its
// commit stream and an operation log is configured, every committed change
// is appended to the log.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NopMetrics{}
	}
	if s.log != nil {
		if n, ok := store.(commitNotifier); ok {
			n.OnCommit(s.appendChangesToLog)
		}
	}
	return s
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Now returns the service clock reading.
func (s *Service) Now() time.Time { return s.now() }

// run executes fn in a store transaction, recording duration and outcome.
func (s *Service) run(ctx context.Context, op string, fn func(domain.Tx) error) error {
	start := s.now()
	err := s.store.RunInTransaction(ctx, fn)
	s.metrics.Observe(op, time.Since(start), err)
	return err
}

// view executes fn on a read snapshot, recording duration and outcome.
func (s *Service) view(ctx context.Context, op string, fn func(domain.TransactionView) error) error {
	start := s.now()
	err := s.store.View(ctx, fn)
	s.metrics.Observe(op, time.Since(start), err)
	return err
}

func (s *Service) appendChangesToLog(ctx context.Context, changes []domain.Change) {
	for _, c := range changes {
		name := fmt.Sprintf("%s_%s", c.Action, c.Entity)
		payload := c.After
		if c.Action == domain.ActionDelete {
			payload = c.Before
		}
		// Logging is best effort; a full log database must not block the
		// domain transaction that already committed.
		_ = s.log.Append(ctx, Operation{
			Type:      "operation",
			Name:      name,
			Timestamp: s.now(),
			Args:      []any{payload},
		})
	}
}

// Bootstrap prepares an empty store for first use: it creates the admin
// account when no users exist. An empty password falls back to the admin
// username.
func (s *Service) Bootstrap(ctx context.Context, password string) error {
	if password == "" {
		password = DefaultAdminUsername
	}
	return s.run(ctx, "bootstrap", func(tx domain.Tx) error {
		users, err := tx.ListUsers(ctx)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return nil
		}
		hash, err := HashPassword(password)
		if err != nil {
			return err
		}
		_, err = tx.CreateUser(ctx, domain.User{
			Username:     DefaultAdminUsername,
			Email:        "admin@emhub",
			Name:         "Admin",
			Created:      s.now(),
			Status:       domain.UserStatusActive,
			Roles:        []string{domain.RoleAdmin},
			PasswordHash: hash,
		})
		return err
	})
}

// HashPassword hashes a clear-text password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a clear-text password against a user record.
func CheckPassword(u domain.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Authenticate resolves a username/password pair to an active user.
func (s *Service) Authenticate(ctx context.Context, username, password string) (domain.User, error) {
	var found domain.User
	err := s.view(ctx, "authenticate", func(v domain.TransactionView) error {
		users, err := v.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			if u.Username == username {
				found = u
				return nil
			}
		}
		return domain.Authorizationf("invalid username or password")
	})
	if err != nil {
		return domain.User{}, err
	}
	if !found.IsActive() || !CheckPassword(found, password) {
		return domain.User{}, domain.Authorizationf("invalid username or password")
	}
	return found, nil
}

// --- resources -----------------------------------------------------------

// CreateResource stores a new resource.
func (s *Service) CreateResource(ctx context.Context, r domain.Resource) (domain.Resource, error) {
	var out domain.Resource
	err := s.run(ctx, "create_resource", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateResource(ctx, r)
		return err
	})
	return out, err
}

// UpdateResource applies mutate to the stored resource.
func (s *Service) UpdateResource(ctx context.Context, id int, mutate func(*domain.Resource) error) (domain.Resource, error) {
	var out domain.Resource
	err := s.run(ctx, "update_resource", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateResource(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeleteResource removes a resource with no remaining references.
func (s *Service) DeleteResource(ctx context.Context, id int) error {
	return s.run(ctx, "delete_resource", func(tx domain.Tx) error {
		return tx.DeleteResource(ctx, id)
	})
}

// GetResource fetches one resource.
func (s *Service) GetResource(ctx context.Context, id int) (domain.Resource, error) {
	var out domain.Resource
	err := s.view(ctx, "get_resource", func(v domain.TransactionView) error {
		r, ok, err := v.FindResource(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityResource, ID: id}
		}
		out = r
		return nil
	})
	return out, err
}

// ListResources returns all resources ordered by id.
func (s *Service) ListResources(ctx context.Context) ([]domain.Resource, error) {
	var out []domain.Resource
	err := s.view(ctx, "list_resources", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListResources(ctx)
		return err
	})
	return out, err
}

// --- users ---------------------------------------------------------------

// CreateUser stores a new user. A non-empty password is hashed into the
// record; the clear text is never stored.
func (s *Service) CreateUser(ctx context.Context, u domain.User, password string) (domain.User, error) {
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			return domain.User{}, err
		}
		u.PasswordHash = hash
	}
	if u.Created.IsZero() {
		u.Created = s.now()
	}
	var out domain.User
	err := s.run(ctx, "create_user", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateUser(ctx, u)
		return err
	})
	return out, err
}

// UpdateUser applies mutate to the stored user.
func (s *Service) UpdateUser(ctx context.Context, id int, mutate func(*domain.User) error) (domain.User, error) {
	var out domain.User
	err := s.run(ctx, "update_user", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateUser(ctx, id, mutate)
		return err
	})
	return out, err
}

// SetPassword replaces a user's password.
func (s *Service) SetPassword(ctx context.Context, id int, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.UpdateUser(ctx, id, func(u *domain.User) error {
		u.PasswordHash = hash
		return nil
	})
	return err
}

// DeleteUser removes a user with no remaining references.
func (s *Service) DeleteUser(ctx context.Context, id int) error {
	return s.run(ctx, "delete_user", func(tx domain.Tx) error {
		return tx.DeleteUser(ctx, id)
	})
}

// GetUser fetches one user.
func (s *Service) GetUser(ctx context.Context, id int) (domain.User, error) {
	var out domain.User
	err := s.view(ctx, "get_user", func(v domain.TransactionView) error {
		u, ok, err := v.FindUser(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityUser, ID: id}
		}
		out = u
		return nil
	})
	return out, err
}

// ListUsers returns all users ordered by id.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := s.view(ctx, "list_users", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListUsers(ctx)
		return err
	})
	return out, err
}

// --- templates -----------------------------------------------------------

// CreateTemplate stores a new application template.
func (s *Service) CreateTemplate(ctx context.Context, t domain.Template) (domain.Template, error) {
	var out domain.Template
	err := s.run(ctx, "create_template", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateTemplate(ctx, t)
		return err
	})
	return out, err
}

// UpdateTemplate applies mutate to the stored template.
func (s *Service) UpdateTemplate(ctx context.Context, id int, mutate func(*domain.Template) error) (domain.Template, error) {
	var out domain.Template
	err := s.run(ctx, "update_template", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateTemplate(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeleteTemplate removes a template with no remaining references.
func (s *Service) DeleteTemplate(ctx context.Context, id int) error {
	return s.run(ctx, "delete_template", func(tx domain.Tx) error {
		return tx.DeleteTemplate(ctx, id)
	})
}

// ListTemplates returns all templates ordered by id.
func (s *Service) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	var out []domain.Template
	err := s.view(ctx, "list_templates", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListTemplates(ctx)
		return err
	})
	return out, err
}

// --- applications --------------------------------------------------------

// CreateApplication stores a new application with an explicit code.
func (s *Service) CreateApplication(ctx context.Context, a domain.Application) (domain.Application, error) {
	if a.Created.IsZero() {
		a.Created = s.now()
	}
	var out domain.Application
	err := s.run(ctx, "create_application", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateApplication(ctx, a)
		return err
	})
	return out, err
}

// CreateApplicationFromTemplate mints the application code from the
// template's prefix followed by a five-digit counter and stores the
// application linked to the template.
func (s *Service) CreateApplicationFromTemplate(ctx context.Context, templateID int, a domain.Application) (domain.Application, error) {
	if a.Created.IsZero() {
		a.Created = s.now()
	}
	var out domain.Application
	err := s.run(ctx, "create_application", func(tx domain.Tx) error {
		tpl, ok, err := tx.FindTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityTemplate, ID: templateID}
		}
		prefix := tpl.CodePrefix()
		if prefix == "" {
			return domain.Validationf("template %d has no code prefix", templateID)
		}
		apps, err := tx.ListApplications(ctx)
		if err != nil {
			return err
		}
		a.Code = mintCode(prefix, apps)
		a.TemplateID = &templateID
		out, err = tx.CreateApplication(ctx, a)
		return err
	})
	return out, err
}

// mintCode returns prefix plus a five-digit counter one past the highest
// existing suffix for that prefix.
func mintCode(prefix string, apps []domain.Application) string {
	max := 0
	for _, a := range apps {
		if !strings.HasPrefix(a.Code, prefix) {
			continue
		}
		if n, err := strconv.Atoi(a.Code[len(prefix):]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%05d", prefix, max+1)
}

// UpdateApplication applies mutate to the stored application.
func (s *Service) UpdateApplication(ctx context.Context, id int, mutate func(*domain.Application) error) (domain.Application, error) {
	var out domain.Application
	err := s.run(ctx, "update_application", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateApplication(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeleteApplication removes an application with no remaining references.
func (s *Service) DeleteApplication(ctx context.Context, id int) error {
	return s.run(ctx, "delete_application", func(tx domain.Tx) error {
		return tx.DeleteApplication(ctx, id)
	})
}

// ListApplications returns all applications ordered by id.
func (s *Service) ListApplications(ctx context.Context) ([]domain.Application, error) {
	var out []domain.Application
	err := s.view(ctx, "list_applications", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListApplications(ctx)
		return err
	})
	return out, err
}

// --- projects and entries ------------------------------------------------

// CreateProject stores a project stamped with creation/update audit fields
// for the acting user.
func (s *Service) CreateProject(ctx context.Context, actor domain.User, p domain.Project) (domain.Project, error) {
	now := s.now()
	p.CreationDate = now
	p.CreationUserID = actor.ID
	p.LastUpdateDate = now
	p.LastUpdateUserID = actor.ID
	if p.Date.IsZero() {
		p.Date = now
	}
	var out domain.Project
	err := s.run(ctx, "create_project", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateProject(ctx, p)
		return err
	})
	return out, err
}

// UpdateProject applies mutate and refreshes the update audit pair.
func (s *Service) UpdateProject(ctx context.Context, actor domain.User, id int, mutate func(*domain.Project) error) (domain.Project, error) {
	var out domain.Project
	err := s.run(ctx, "update_project", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateProject(ctx, id, func(p *domain.Project) error {
			if err := mutate(p); err != nil {
				return err
			}
			p.LastUpdateDate = s.now()
			p.LastUpdateUserID = actor.ID
			return nil
		})
		return err
	})
	return out, err
}

// DeleteProject removes a project together with its entries.
func (s *Service) DeleteProject(ctx context.Context, id int) error {
	return s.run(ctx, "delete_project", func(tx domain.Tx) error {
		return tx.DeleteProject(ctx, id)
	})
}

// ListProjects returns all projects ordered by id.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	err := s.view(ctx, "list_projects", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListProjects(ctx)
		return err
	})
	return out, err
}

// CanEditProject reports whether the actor may modify the project or its
// entries: managers always, the owner when the project allows it, and
// listed collaborators.
func CanEditProject(actor domain.User, p domain.Project) bool {
	if actor.IsManager() {
		return true
	}
	if actor.ID == p.UserID {
		return p.UserCanEdit()
	}
	for _, id := range p.CollaboratorIDs() {
		if id == actor.ID {
			return p.UserCanEdit()
		}
	}
	return false
}

// CreateEntry stores a project entry stamped with audit fields, enforcing
// the project edit permission.
func (s *Service) CreateEntry(ctx context.Context, actor domain.User, e domain.Entry) (domain.Entry, error) {
	now := s.now()
	e.CreationDate = now
	e.CreationUserID = actor.ID
	e.LastUpdateDate = now
	e.LastUpdateUserID = actor.ID
	if e.Date.IsZero() {
		e.Date = now
	}
	var out domain.Entry
	err := s.run(ctx, "create_entry", func(tx domain.Tx) error {
		p, ok, err := tx.FindProject(ctx, e.ProjectID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityProject, ID: e.ProjectID}
		}
		if !CanEditProject(actor, p) {
			return domain.Authorizationf("user %s cannot edit project %d", actor.Username, p.ID)
		}
		out, err = tx.CreateEntry(ctx, e)
		return err
	})
	return out, err
}

// UpdateEntry applies mutate and refreshes the update audit pair, enforcing
// the project edit permission.
func (s *Service) UpdateEntry(ctx context.Context, actor domain.User, id int, mutate func(*domain.Entry) error) (domain.Entry, error) {
	var out domain.Entry
	err := s.run(ctx, "update_entry", func(tx domain.Tx) error {
		current, ok, err := tx.FindEntry(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityEntry, ID: id}
		}
		p, ok, err := tx.FindProject(ctx, current.ProjectID)
		if err != nil {
			return err
		}
		if ok && !CanEditProject(actor, p) {
			return domain.Authorizationf("user %s cannot edit project %d", actor.Username, p.ID)
		}
		out, err = tx.UpdateEntry(ctx, id, func(e *domain.Entry) error {
			if err := mutate(e); err != nil {
				return err
			}
			e.LastUpdateDate = s.now()
			e.LastUpdateUserID = actor.ID
			return nil
		})
		return err
	})
	return out, err
}

// DeleteEntry removes an entry, enforcing the project edit permission.
func (s *Service) DeleteEntry(ctx context.Context, actor domain.User, id int) error {
	return s.run(ctx, "delete_entry", func(tx domain.Tx) error {
		current, ok, err := tx.FindEntry(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityEntry, ID: id}
		}
		p, ok, err := tx.FindProject(ctx, current.ProjectID)
		if err != nil {
			return err
		}
		if ok && !CanEditProject(actor, p) {
			return domain.Authorizationf("user %s cannot edit project %d", actor.Username, p.ID)
		}
		return tx.DeleteEntry(ctx, id)
	})
}

// --- pucks, invoicing, forms ---------------------------------------------

// CreatePuck stores a grid-storage puck.
func (s *Service) CreatePuck(ctx context.Context, p domain.Puck) (domain.Puck, error) {
	var out domain.Puck
	err := s.run(ctx, "create_puck", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreatePuck(ctx, p)
		return err
	})
	return out, err
}

// UpdatePuck applies mutate to the stored puck.
func (s *Service) UpdatePuck(ctx context.Context, id int, mutate func(*domain.Puck) error) (domain.Puck, error) {
	var out domain.Puck
	err := s.run(ctx, "update_puck", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdatePuck(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeletePuck removes a puck.
func (s *Service) DeletePuck(ctx context.Context, id int) error {
	return s.run(ctx, "delete_puck", func(tx domain.Tx) error {
		return tx.DeletePuck(ctx, id)
	})
}

// ListPucks returns all pucks ordered by id.
func (s *Service) ListPucks(ctx context.Context) ([]domain.Puck, error) {
	var out []domain.Puck
	err := s.view(ctx, "list_pucks", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListPucks(ctx)
		return err
	})
	return out, err
}

// CreateInvoicePeriod stores an invoicing period.
func (s *Service) CreateInvoicePeriod(ctx context.Context, p domain.InvoicePeriod) (domain.InvoicePeriod, error) {
	var out domain.InvoicePeriod
	err := s.run(ctx, "create_invoice_period", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateInvoicePeriod(ctx, p)
		return err
	})
	return out, err
}

// UpdateInvoicePeriod applies mutate to the stored period.
func (s *Service) UpdateInvoicePeriod(ctx context.Context, id int, mutate func(*domain.InvoicePeriod) error) (domain.InvoicePeriod, error) {
	var out domain.InvoicePeriod
	err := s.run(ctx, "update_invoice_period", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateInvoicePeriod(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeleteInvoicePeriod removes an invoicing period.
func (s *Service) DeleteInvoicePeriod(ctx context.Context, id int) error {
	return s.run(ctx, "delete_invoice_period", func(tx domain.Tx) error {
		return tx.DeleteInvoicePeriod(ctx, id)
	})
}

// ListInvoicePeriods returns all invoicing periods ordered by id.
func (s *Service) ListInvoicePeriods(ctx context.Context) ([]domain.InvoicePeriod, error) {
	var out []domain.InvoicePeriod
	err := s.view(ctx, "list_invoice_periods", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListInvoicePeriods(ctx)
		return err
	})
	return out, err
}

// CreateTransaction stores a financial transaction.
func (s *Service) CreateTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	if t.Date.IsZero() {
		t.Date = s.now()
	}
	var out domain.Transaction
	err := s.run(ctx, "create_transaction", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateTransaction(ctx, t)
		return err
	})
	return out, err
}

// UpdateTransaction applies mutate to the stored transaction.
func (s *Service) UpdateTransaction(ctx context.Context, id int, mutate func(*domain.Transaction) error) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.run(ctx, "update_transaction", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateTransaction(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeleteTransaction removes a financial transaction.
func (s *Service) DeleteTransaction(ctx context.Context, id int) error {
	return s.run(ctx, "delete_transaction", func(tx domain.Tx) error {
		return tx.DeleteTransaction(ctx, id)
	})
}

// ListTransactions returns all financial transactions ordered by id.
func (s *Service) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.view(ctx, "list_transactions", func(v domain.TransactionView) error {
		var err error
		out, err = v.ListTransactions(ctx)
		return err
	})
	return out, err
}

// CreateForm stores a dynamic form definition.
func (s *Service) CreateForm(ctx context.Context, f domain.Form) (domain.Form, error) {
	var out domain.Form
	err := s.run(ctx, "create_form", func(tx domain.Tx) error {
		var err error
		out, err = tx.CreateForm(ctx, f)
		return err
	})
	return out, err
}

// UpdateForm applies mutate to the stored form.
func (s *Service) UpdateForm(ctx context.Context, id int, mutate func(*domain.Form) error) (domain.Form, error) {
	var out domain.Form
	err := s.run(ctx, "update_form", func(tx domain.Tx) error {
		var err error
		out, err = tx.UpdateForm(ctx, id, mutate)
		return err
	})
	return out, err
}

// DeleteForm removes a form definition.
func (s *Service) DeleteForm(ctx context.Context, id int) error {
	return s.run(ctx, "delete_form", func(tx domain.Tx) error {
		return tx.DeleteForm(ctx, id)
	})
}

// GetFormByName fetches a form by its unique name.
func (s *Service) GetFormByName(ctx context.Context, name string) (domain.Form, error) {
	var out domain.Form
	err := s.view(ctx, "get_form", func(v domain.TransactionView) error {
		forms, err := v.ListForms(ctx)
		if err != nil {
			return err
		}
		for _, f := range forms {
			if f.Name == name {
				out = f
				return nil
			}
		}
		return domain.Validationf("form %q not found", name)
	})
	return out, err
}

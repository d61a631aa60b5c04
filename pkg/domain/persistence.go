package domain

import "context"

// Tx is the mutable view handed to transaction callbacks. Reads observe the
// transaction's in-flight state; mutations are buffered until commit.
type Tx interface {
	RuleView

	CreateResource(ctx context.Context, r Resource) (Resource, error)
	UpdateResource(ctx context.Context, id int, mutate func(*Resource) error) (Resource, error)
	DeleteResource(ctx context.Context, id int) error

	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, id int, mutate func(*User) error) (User, error)
	DeleteUser(ctx context.Context, id int) error

	CreateTemplate(ctx context.Context, t Template) (Template, error)
	UpdateTemplate(ctx context.Context, id int, mutate func(*Template) error) (Template, error)
	DeleteTemplate(ctx context.Context, id int) error

	CreateApplication(ctx context.Context, a Application) (Application, error)
	UpdateApplication(ctx context.Context, id int, mutate func(*Application) error) (Application, error)
	DeleteApplication(ctx context.Context, id int) error

	CreateBooking(ctx context.Context, b Booking) (Booking, error)
	UpdateBooking(ctx context.Context, id int, mutate func(*Booking) error) (Booking, error)
	DeleteBooking(ctx context.Context, id int) error

	CreateSession(ctx context.Context, s Session) (Session, error)
	UpdateSession(ctx context.Context, id int, mutate func(*Session) error) (Session, error)
	DeleteSession(ctx context.Context, id int) error

	CreateProject(ctx context.Context, p Project) (Project, error)
	UpdateProject(ctx context.Context, id int, mutate func(*Project) error) (Project, error)
	DeleteProject(ctx context.Context, id int) error

	CreateEntry(ctx context.Context, e Entry) (Entry, error)
	UpdateEntry(ctx context.Context, id int, mutate func(*Entry) error) (Entry, error)
	DeleteEntry(ctx context.Context, id int) error

	CreatePuck(ctx context.Context, p Puck) (Puck, error)
	UpdatePuck(ctx context.Context, id int, mutate func(*Puck) error) (Puck, error)
	DeletePuck(ctx context.Context, id int) error

	CreateInvoicePeriod(ctx context.Context, p InvoicePeriod) (InvoicePeriod, error)
	UpdateInvoicePeriod(ctx context.Context, id int, mutate func(*InvoicePeriod) error) (InvoicePeriod, error)
	DeleteInvoicePeriod(ctx context.Context, id int) error

	CreateTransaction(ctx context.Context, t Transaction) (Transaction, error)
	UpdateTransaction(ctx context.Context, id int, mutate func(*Transaction) error) (Transaction, error)
	DeleteTransaction(ctx context.Context, id int) error

	CreateForm(ctx context.Context, f Form) (Form, error)
	UpdateForm(ctx context.Context, id int, mutate func(*Form) error) (Form, error)
	DeleteForm(ctx context.Context, id int) error
}

// TransactionView provides read-only access to a consistent snapshot of the
// store.
type TransactionView interface {
	RuleView
}

// PersistentStore is implemented by the storage backends. RunInTransaction
// applies fn atomically: either every buffered change commits, or none do.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}

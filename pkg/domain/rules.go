package domain

import "context"

// RuleView exposes read access to committed plus in-flight state during rule
// evaluation.
type RuleView interface {
	ListResources(ctx context.Context) ([]Resource, error)
	FindResource(ctx context.Context, id int) (Resource, bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	FindUser(ctx context.Context, id int) (User, bool, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	FindTemplate(ctx context.Context, id int) (Template, bool, error)
	ListApplications(ctx context.Context) ([]Application, error)
	FindApplication(ctx context.Context, id int) (Application, bool, error)
	ListBookings(ctx context.Context) ([]Booking, error)
	FindBooking(ctx context.Context, id int) (Booking, bool, error)
	ListSessions(ctx context.Context) ([]Session, error)
	FindSession(ctx context.Context, id int) (Session, bool, error)
	ListProjects(ctx context.Context) ([]Project, error)
	FindProject(ctx context.Context, id int) (Project, bool, error)
	ListEntries(ctx context.Context) ([]Entry, error)
	FindEntry(ctx context.Context, id int) (Entry, bool, error)
	ListPucks(ctx context.Context) ([]Puck, error)
	FindPuck(ctx context.Context, id int) (Puck, bool, error)
	ListInvoicePeriods(ctx context.Context) ([]InvoicePeriod, error)
	FindInvoicePeriod(ctx context.Context, id int) (InvoicePeriod, bool, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)
	FindTransaction(ctx context.Context, id int) (Transaction, bool, error)
	ListForms(ctx context.Context) ([]Form, error)
	FindForm(ctx context.Context, id int) (Form, bool, error)
}

// Rule checks invariants across a set of changes before commit.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine evaluates registered rules against pending changes.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine creates an empty engine.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register adds a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Evaluate runs all rules and merges their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var result Result
	if e == nil {
		return result, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		result.Merge(res)
	}
	return result, nil
}

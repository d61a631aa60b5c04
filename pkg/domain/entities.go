// Package domain defines the persistent entities, value types, and rule
// evaluation primitives of the facility booking and session engine.
package domain

import (
	"fmt"
	"strconv"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityResource identifies an instrument or service record.
	EntityResource EntityType = "resource"
	// EntityUser identifies a user account record.
	EntityUser EntityType = "user"
	// EntityTemplate identifies an application template record.
	EntityTemplate EntityType = "template"
	// EntityApplication identifies an access-grant application record.
	EntityApplication EntityType = "application"
	// EntityBooking identifies a calendar booking record.
	EntityBooking EntityType = "booking"
	// EntitySession identifies a data-collection session record.
	EntitySession EntityType = "session"
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntityEntry identifies a project entry record.
	EntityEntry EntityType = "entry"
	// EntityPuck identifies a grid-storage puck record.
	EntityPuck EntityType = "puck"
	// EntityInvoicePeriod identifies an invoicing period record.
	EntityInvoicePeriod EntityType = "invoice_period"
	// EntityTransaction identifies a financial transaction record.
	EntityTransaction EntityType = "transaction"
	// EntityForm identifies a dynamic form definition record.
	EntityForm EntityType = "form"
)

// Resource statuses.
const (
	ResourceStatusPending  = "pending"
	ResourceStatusActive   = "active"
	ResourceStatusInactive = "inactive"
)

// User statuses.
const (
	UserStatusPending  = "pending"
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// Application statuses.
const (
	ApplicationStatusPreparation = "preparation"
	ApplicationStatusReview      = "review"
	ApplicationStatusAccepted    = "accepted"
	ApplicationStatusActive      = "active"
	ApplicationStatusClosed      = "closed"
)

// Template statuses.
const (
	TemplateStatusPreparation = "preparation"
	TemplateStatusActive      = "active"
	TemplateStatusClosed      = "closed"
)

// Booking types.
const (
	BookingTypeBooking     = "booking"
	BookingTypeSlot        = "slot"
	BookingTypeDowntime    = "downtime"
	BookingTypeMaintenance = "maintenance"
	BookingTypeSpecial     = "special"
)

// Repeat frequencies for booking series.
const (
	RepeatNone     = "no"
	RepeatWeekly   = "weekly"
	RepeatBiWeekly = "bi-weekly"
)

// RepeatStride returns the series stride for a repeat frequency, or false
// when the value does not denote a repeating series.
func RepeatStride(repeatValue string) (time.Duration, bool) {
	switch repeatValue {
	case RepeatWeekly:
		return 7 * 24 * time.Hour, true
	case RepeatBiWeekly:
		return 14 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Session statuses.
const (
	SessionStatusPending  = "pending"
	SessionStatusCreated  = "created"
	SessionStatusRunning  = "running"
	SessionStatusFailed   = "failed"
	SessionStatusFinished = "finished"
)

// Project statuses.
const (
	ProjectStatusActive   = "active"
	ProjectStatusInactive = "inactive"
)

// Extra is the free-form attribute bag carried by most entities. Values hold
// what JSON decoding produces (float64 numbers, []any, map[string]any).
// Setters replace the whole map so aliasing never leaks between a stored
// record and a mutated copy.
type Extra map[string]any

// Clone returns a shallow copy of the bag. Callers replacing a nested value
// must substitute it wholesale.
func (e Extra) Clone() Extra {
	if e == nil {
		return nil
	}
	out := make(Extra, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func (e Extra) getBool(key string, def bool) bool {
	if v, ok := e[key].(bool); ok {
		return v
	}
	return def
}

func (e Extra) getFloat(key string, def float64) float64 {
	switch v := e[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func (e Extra) getString(key, def string) string {
	if v, ok := e[key].(string); ok {
		return v
	}
	return def
}

// with returns a copy of the bag with one key replaced.
func (e Extra) with(key string, value any) Extra {
	out := e.Clone()
	if out == nil {
		out = Extra{}
	}
	out[key] = value
	return out
}

// Resource represents a microscope, another instrument, or a service offered
// by the facility.
type Resource struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Tags   []string `json:"tags"`
	Image  string   `json:"image"`
	Color  string   `json:"color"`
	Extra  Extra    `json:"extra"`
}

// IsActive reports whether bookings may be made for this resource.
func (r Resource) IsActive() bool { return r.Status == ResourceStatusActive }

// IsMicroscope reports whether the resource carries the "microscope" tag.
func (r Resource) IsMicroscope() bool { return r.HasTag("microscope") }

// HasTag reports whether the resource carries the given tag.
func (r Resource) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RequiresSlot reports whether users need an authorized slot (or an
// application exception) to book this resource.
func (r Resource) RequiresSlot() bool { return r.Extra.getBool("requires_slot", false) }

// RequiresApplication reports whether the booking owner must belong to an
// active application to book this resource.
func (r Resource) RequiresApplication() bool { return r.Extra.getBool("requires_application", true) }

// LatestCancellation returns how many hours before start a booking on this
// resource can still be cancelled by a regular user. Zero means any time.
func (r Resource) LatestCancellation() int {
	return int(r.Extra.getFloat("latest_cancellation", 0))
}

// MinBooking returns the minimum booking length in hours (0 = unrestricted).
func (r Resource) MinBooking() float64 { return r.Extra.getFloat("min_booking", 0) }

// MaxBooking returns the maximum booking length in hours (0 = unrestricted).
func (r Resource) MaxBooking() float64 { return r.Extra.getFloat("max_booking", 0) }

// DailyCost returns the cost of one day of usage of this resource.
func (r Resource) DailyCost() float64 { return r.Extra.getFloat("daily_cost", 0) }

// SetRequiresSlot replaces the requires_slot attribute.
func (r *Resource) SetRequiresSlot(v bool) { r.Extra = r.Extra.with("requires_slot", v) }

// SetRequiresApplication replaces the requires_application attribute.
func (r *Resource) SetRequiresApplication(v bool) {
	r.Extra = r.Extra.with("requires_application", v)
}

// SetLatestCancellation replaces the latest_cancellation attribute in hours.
func (r *Resource) SetLatestCancellation(hours int) {
	r.Extra = r.Extra.with("latest_cancellation", float64(hours))
}

// SetMinBooking replaces the min_booking attribute in hours.
func (r *Resource) SetMinBooking(hours float64) { r.Extra = r.Extra.with("min_booking", hours) }

// SetMaxBooking replaces the max_booking attribute in hours.
func (r *Resource) SetMaxBooking(hours float64) { r.Extra = r.Extra.with("max_booking", hours) }

// SetDailyCost replaces the daily_cost attribute.
func (r *Resource) SetDailyCost(cost float64) { r.Extra = r.Extra.with("daily_cost", cost) }

// QuotaKey returns the string key under which this resource's id appears in
// application allocations.
func (r Resource) QuotaKey() string { return strconv.Itoa(r.ID) }

// User roles.
const (
	RoleUser        = "user"
	RoleAdmin       = "admin"
	RoleManager     = "manager"
	RoleHead        = "head"
	RolePI          = "pi"
	RoleIndependent = "independent"
	RoleDeveloper   = "developer"
)

// User is an account registered at the facility. Users form a depth-1 lab
// tree through the PIID reference; PIs are PI of themselves.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	Status       string    `json:"status"`
	Roles        []string  `json:"roles"`
	PasswordHash string    `json:"password_hash"`
	ProfileImage string    `json:"profile_image"`
	PIID         *int      `json:"pi_id"`
	Extra        Extra     `json:"extra"`
}

// HasRole reports whether the role set contains the given role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsDeveloper reports the developer role.
func (u User) IsDeveloper() bool { return u.HasRole(RoleDeveloper) }

// IsAdmin reports admin privileges; developers are implicitly admins.
func (u User) IsAdmin() bool { return u.HasRole(RoleAdmin) || u.IsDeveloper() }

// IsHead reports the facility-head role.
func (u User) IsHead() bool { return u.HasRole(RoleHead) }

// IsManager reports manager privileges; admins and heads are implicitly
// managers.
func (u User) IsManager() bool { return u.HasRole(RoleManager) || u.IsAdmin() || u.IsHead() }

// IsPI reports the principal-investigator role.
func (u User) IsPI() bool { return u.HasRole(RolePI) }

// IsIndependent reports the independent-user role.
func (u User) IsIndependent() bool { return u.HasRole(RoleIndependent) }

// IsActive reports whether the account is active.
func (u User) IsActive() bool { return u.Status == UserStatusActive }

// IsStaff reports whether the user belongs to the given staff unit. With an
// empty unit it falls back to manager privileges.
func (u User) IsStaff(unit string) bool {
	if unit == "" {
		return u.IsManager()
	}
	return u.HasRole("staff-" + unit)
}

// StaffUnit returns the unit of the first staff-* role, or "".
func (u User) StaffUnit() string {
	for _, r := range u.Roles {
		if len(r) > 6 && r[:6] == "staff-" {
			return r[6:]
		}
	}
	return ""
}

// HasAnyRole reports whether the user holds any role from the list. An empty
// list grants access.
func (u User) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// ResourceAllocation holds the per-application day quotas and slot
// exceptions. Keys are either a resource id (decimal string) or a resource
// tag such as "krios".
type ResourceAllocation struct {
	Quota  map[string]int `json:"quota"`
	NoSlot []string       `json:"noslot"`
}

// Clone deep-copies the allocation.
func (a ResourceAllocation) Clone() ResourceAllocation {
	out := ResourceAllocation{NoSlot: append([]string(nil), a.NoSlot...)}
	if a.Quota != nil {
		out.Quota = make(map[string]int, len(a.Quota))
		for k, v := range a.Quota {
			out.Quota[k] = v
		}
	}
	return out
}

// Application is a time/quota access grant issued to a PI and their lab.
type Application struct {
	ID               int                `json:"id"`
	Code             string             `json:"code"`
	Created          time.Time          `json:"created"`
	Alias            string             `json:"alias"`
	Status           string             `json:"status"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	InvoiceReference string             `json:"invoice_reference"`
	InvoiceAddress   string             `json:"invoice_address"`
	Allocation       ResourceAllocation `json:"resource_allocation"`
	CreatorID        int                `json:"creator_id"`
	UserIDs          []int              `json:"user_ids"`
	TemplateID       *int               `json:"template_id"`
	Extra            Extra              `json:"extra"`
}

// IsActive reports whether the application may back new bookings.
func (a Application) IsActive() bool { return a.Status == ApplicationStatusActive }

// Quota returns the day quota for a resource id or tag key. Zero means the
// application is not restricted on that key.
func (a Application) Quota(key string) int { return a.Allocation.Quota[key] }

// NoSlot reports whether the application exempts its users from slot
// restrictions for the given resource key.
func (a Application) NoSlot(key string) bool {
	for _, k := range a.Allocation.NoSlot {
		if k == key {
			return true
		}
	}
	return false
}

// Confidential reports whether access to the application is restricted among
// managers.
func (a Application) Confidential() bool { return a.Extra.getBool("confidential", false) }

// AccessList returns the manager user ids granted access to a confidential
// application.
func (a Application) AccessList() []int {
	entries, _ := a.Extra["access"].([]any)
	var ids []int
	for _, e := range entries {
		if m, ok := e.(map[string]any); ok {
			if id, ok := m["user_id"].(float64); ok {
				ids = append(ids, int(id))
			}
		}
	}
	return ids
}

// HasUser reports whether the given user participates in the application,
// either as creator or member.
func (a Application) HasUser(userID int) bool {
	if a.CreatorID == userID {
		return true
	}
	for _, id := range a.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Template parameterizes the creation of applications. Codes minted from a
// template follow "<prefix><5-digit counter>".
type Template struct {
	ID          int            `json:"id"`
	Status      string         `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	FormSchema  map[string]any `json:"form_schema"`
	Extra       Extra          `json:"extra"`
}

// CodePrefix returns the application-code prefix minted from this template.
func (t Template) CodePrefix() string { return t.Extra.getString("code_prefix", "") }

// SetCodePrefix replaces the code_prefix attribute.
func (t *Template) SetCodePrefix(p string) { t.Extra = t.Extra.with("code_prefix", p) }

// SlotAuth lists who may book inside a slot. The special application code
// "any" opens the slot to everyone.
type SlotAuth struct {
	Applications []string `json:"applications"`
	Users        []int    `json:"users"`
}

// Clone deep-copies the authorization lists.
func (s SlotAuth) Clone() SlotAuth {
	return SlotAuth{
		Applications: append([]string(nil), s.Applications...),
		Users:        append([]int(nil), s.Users...),
	}
}

// BookingCost is one extra cost line attached to a booking.
type BookingCost struct {
	Label  string  `json:"label"`
	UserID int     `json:"user_id"`
	Amount float64 `json:"amount"`
}

// Booking is a calendar reservation of a resource. Repeating series are
// expanded to concrete rows sharing a RepeatID.
type Booking struct {
	ID            int            `json:"id"`
	Title         string         `json:"title"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	Type          string         `json:"type"`
	SlotAuth      SlotAuth       `json:"slot_auth"`
	Description   string         `json:"description"`
	RepeatID      string         `json:"repeat_id"`
	RepeatValue   string         `json:"repeat_value"`
	ResourceID    int            `json:"resource_id"`
	CreatorID     int            `json:"creator_id"`
	OwnerID       int            `json:"owner_id"`
	OperatorID    *int           `json:"operator_id"`
	ApplicationID *int           `json:"application_id"`
	ProjectID     *int           `json:"project_id"`
	Experiment    map[string]any `json:"experiment"`
	Extra         Extra          `json:"extra"`
}

// Duration returns end - start.
func (b Booking) Duration() time.Duration { return b.End.Sub(b.Start) }

// Days counts the calendar days the booking touches, whole-day inclusive.
// A Monday 9:00 to Wednesday 23:59 booking spans 3 days.
func (b Booking) Days() int {
	sy, sm, sd := b.Start.Date()
	ey, em, ed := b.End.Date()
	start := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours()/24) + 1
}

// IsBooking reports type == "booking".
func (b Booking) IsBooking() bool { return b.Type == BookingTypeBooking }

// IsSlot reports type == "slot".
func (b Booking) IsSlot() bool { return b.Type == BookingTypeSlot }

// Overlaps reports whether the half-open interval [Start, End) of both
// bookings intersect.
func (b Booking) Overlaps(other Booking) bool {
	return b.Start.Before(other.End) && other.Start.Before(b.End)
}

// InRange reports whether the booking intersects [start, end).
func (b Booking) InRange(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// Costs returns the extra cost lines stored in the attribute bag.
func (b Booking) Costs() []BookingCost {
	entries, _ := b.Extra["costs"].([]any)
	var costs []BookingCost
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		c := BookingCost{}
		c.Label, _ = m["label"].(string)
		if id, ok := m["user_id"].(float64); ok {
			c.UserID = int(id)
		}
		c.Amount, _ = m["amount"].(float64)
		costs = append(costs, c)
	}
	return costs
}

// SetCosts replaces the costs attribute.
func (b *Booking) SetCosts(costs []BookingCost) {
	entries := make([]any, 0, len(costs))
	for _, c := range costs {
		entries = append(entries, map[string]any{
			"label":   c.Label,
			"user_id": float64(c.UserID),
			"amount":  c.Amount,
		})
	}
	b.Extra = b.Extra.with("costs", entries)
}

// TotalCost sums the daily resource cost over the spanned days plus the extra
// cost lines.
func (b Booking) TotalCost(resource Resource) float64 {
	total := float64(b.Days()) * resource.DailyCost()
	for _, c := range b.Costs() {
		total += c.Amount
	}
	return total
}

// ApplicationInSlot reports whether a slot authorizes the given application
// code. Always false for non-slot bookings.
func (b Booking) ApplicationInSlot(code string) bool {
	if !b.IsSlot() {
		return false
	}
	for _, c := range b.SlotAuth.Applications {
		if c == code {
			return true
		}
	}
	return false
}

// UserInSlot reports whether the user id is listed explicitly in the slot
// authorization.
func (b Booking) UserInSlot(userID int) bool {
	for _, id := range b.SlotAuth.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// Acquisition holds microscope acquisition parameters of a session.
type Acquisition struct {
	Voltage       float64 `json:"voltage"`
	Magnification float64 `json:"magnification"`
	Cs            float64 `json:"cs"`
	PixelSize     float64 `json:"pixel_size"`
	Dose          float64 `json:"dose"`
}

// SessionStats aggregates processing counters of a session.
type SessionStats struct {
	NumMovies    int `json:"numOfMovies"`
	NumMics      int `json:"numOfMics"`
	NumCtfs      int `json:"numOfCtfs"`
	NumParticles int `json:"numOfPtcls"`
	NumClasses2D int `json:"numOfCls2D"`
	PtclSizeMin  int `json:"ptclSizeMin"`
	PtclSizeMax  int `json:"ptclSizeMax"`
}

// Session is one data-collection run on a microscope. DataPath names the
// per-session artifact container relative to the sessions root.
type Session struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Start       *time.Time   `json:"start"`
	End         *time.Time   `json:"end"`
	Status      string       `json:"status"`
	DataPath    string       `json:"data_path"`
	Acquisition Acquisition  `json:"acquisition"`
	Stats       SessionStats `json:"stats"`
	ResourceID  *int         `json:"resource_id"`
	BookingID   *int         `json:"booking_id"`
	OperatorID  *int         `json:"operator_id"`
	Extra       Extra        `json:"extra"`
}

// ContainerName returns the conventional name of the per-session artifact
// container.
func (s Session) ContainerName() string { return fmt.Sprintf("session_%06d", s.ID) }

// OTF returns the on-the-fly processing descriptor from the attribute bag.
func (s Session) OTF() map[string]any {
	if m, ok := s.Extra["otf"].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// OTFStatus returns the processing status reported by the pipeline.
func (s Session) OTFStatus() string {
	v, _ := s.OTF()["status"].(string)
	return v
}

// OTFPath returns the pipeline project directory for this session.
func (s Session) OTFPath() string {
	v, _ := s.OTF()["path"].(string)
	return v
}

// ProjectID returns the project reference from the attribute bag (0 = unset).
func (s Session) ProjectID() int { return int(s.Extra.getFloat("project_id", 0)) }

// RawFiles returns the per-extension file counters of the raw acquisition.
func (s Session) RawFiles() map[string]any {
	raw, _ := s.Extra["raw"].(map[string]any)
	files, _ := raw["files"].(map[string]any)
	return files
}

// TotalFiles sums the file counters of the raw acquisition.
func (s Session) TotalFiles() int {
	total := 0
	for _, fi := range s.RawFiles() {
		if m, ok := fi.(map[string]any); ok {
			if c, ok := m["count"].(float64); ok {
				total += int(c)
			}
		}
	}
	return total
}

// TotalSize sums the size counters of the raw acquisition, in bytes.
func (s Session) TotalSize() int64 {
	var total int64
	for _, fi := range s.RawFiles() {
		if m, ok := fi.(map[string]any); ok {
			if c, ok := m["size"].(float64); ok {
				total += int64(c)
			}
		}
	}
	return total
}

// Project groups shipments, grid preparation, collections and processing for
// one lab. The owner's PI determines lab visibility.
type Project struct {
	ID               int       `json:"id"`
	Date             time.Time `json:"date"`
	Status           string    `json:"status"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	UserID           int       `json:"user_id"`
	CreationDate     time.Time `json:"creation_date"`
	CreationUserID   int       `json:"creation_user_id"`
	LastUpdateDate   time.Time `json:"last_update_date"`
	LastUpdateUserID int       `json:"last_update_user_id"`
	Extra            Extra     `json:"extra"`
}

// IsActive reports whether the project is open.
func (p Project) IsActive() bool { return p.Status == ProjectStatusActive }

// UserCanEdit reports whether the owning user may edit project entries.
func (p Project) UserCanEdit() bool { return p.Extra.getBool("user_can_edit", false) }

// SetUserCanEdit replaces the user_can_edit attribute.
func (p *Project) SetUserCanEdit(v bool) { p.Extra = p.Extra.with("user_can_edit", v) }

// IsConfidential reports whether project information is restricted.
func (p Project) IsConfidential() bool { return p.Extra.getBool("is_confidential", false) }

// CollaboratorIDs returns the ids of extra users granted access.
func (p Project) CollaboratorIDs() []int {
	entries, _ := p.Extra["collaborators_ids"].([]any)
	var ids []int
	for _, e := range entries {
		if id, ok := e.(float64); ok {
			ids = append(ids, int(id))
		}
	}
	return ids
}

// SetCollaboratorIDs replaces the collaborators_ids attribute.
func (p *Project) SetCollaboratorIDs(ids []int) {
	entries := make([]any, len(ids))
	for i, id := range ids {
		entries[i] = float64(id)
	}
	p.Extra = p.Extra.with("collaborators_ids", entries)
}

// Entry is one dated record attached to a project.
type Entry struct {
	ID               int            `json:"id"`
	Date             time.Time      `json:"date"`
	Type             string         `json:"type"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	ProjectID        int            `json:"project_id"`
	CreationDate     time.Time      `json:"creation_date"`
	CreationUserID   int            `json:"creation_user_id"`
	LastUpdateDate   time.Time      `json:"last_update_date"`
	LastUpdateUserID int            `json:"last_update_user_id"`
	Data             map[string]any `json:"data"`
	Extra            Extra          `json:"extra"`
}

// Puck is a physical grid-storage container located by (dewar, cane,
// position).
type Puck struct {
	ID       int    `json:"id"`
	Code     string `json:"code"`
	Label    string `json:"label"`
	Color    string `json:"color"`
	Dewar    int    `json:"dewar"`
	Cane     int    `json:"cane"`
	Position int    `json:"position"`
	Extra    Extra  `json:"extra"`
}

// InvoicePeriod is a span of time for which invoices are generated.
type InvoicePeriod struct {
	ID     int       `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Status string    `json:"status"`
	Extra  Extra     `json:"extra"`
}

// Transaction is a financial transaction associated with a user, usually a
// PI.
type Transaction struct {
	ID      int       `json:"id"`
	Date    time.Time `json:"date"`
	Amount  float64   `json:"amount"`
	Comment string    `json:"comment"`
	UserID  int       `json:"user_id"`
	Extra   Extra     `json:"extra"`
}

// Form stores a named dynamic-form definition.
type Form struct {
	ID         int            `json:"id"`
	Name       string         `json:"name"`
	Definition map[string]any `json:"definition"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured for rules and the
// operation log.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn records a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return v.Message
		}
	}
	return "transaction blocked by rules"
}

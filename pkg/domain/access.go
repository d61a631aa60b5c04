package domain

import "context"

// PIOf resolves the principal investigator of a user. PIs resolve to
// themselves; users without a PI reference resolve to false.
func PIOf(ctx context.Context, view RuleView, u User) (User, bool, error) {
	if u.IsPI() {
		return u, true, nil
	}
	if u.PIID == nil {
		return User{}, false, nil
	}
	return view.FindUser(ctx, *u.PIID)
}

// SameLab reports whether two users resolve to the same PI.
func SameLab(ctx context.Context, view RuleView, a, b User) (bool, error) {
	pa, oka, err := PIOf(ctx, view, a)
	if err != nil {
		return false, err
	}
	pb, okb, err := PIOf(ctx, view, b)
	if err != nil {
		return false, err
	}
	return oka && okb && pa.ID == pb.ID, nil
}

// UserApplications returns the applications reachable through the user's PI,
// both created by the PI and joined as member, filtered by status. The
// status "all" disables filtering.
func UserApplications(ctx context.Context, view RuleView, u User, status string) ([]Application, error) {
	pi, ok, err := PIOf(ctx, view, u)
	if err != nil || !ok {
		return nil, err
	}
	apps, err := view.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	var out []Application
	for _, a := range apps {
		if !a.HasUser(pi.ID) {
			continue
		}
		if status != "all" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// CanBookResource reports whether the user may create bookings on the
// resource outside of authorized slots. Managers always can; otherwise the
// resource must not require slots, or one of the user's active applications
// must carry a slot exception for it.
func CanBookResource(ctx context.Context, view RuleView, u User, r Resource) (bool, error) {
	if u.IsManager() || !r.RequiresSlot() {
		return true, nil
	}
	apps, err := UserApplications(ctx, view, u, ApplicationStatusActive)
	if err != nil {
		return false, err
	}
	for _, a := range apps {
		if a.NoSlot(r.QuotaKey()) {
			return true, nil
		}
		for _, tag := range r.Tags {
			if a.NoSlot(tag) {
				return true, nil
			}
		}
	}
	return false, nil
}

// AllowsUserInSlot reports whether the slot booking authorizes the given
// user, by manager privilege, explicit user listing, the open code "any", or
// membership in an authorized application.
func AllowsUserInSlot(ctx context.Context, view RuleView, slot Booking, u User) (bool, error) {
	if u.IsManager() || slot.UserInSlot(u.ID) || slot.ApplicationInSlot("any") {
		return true, nil
	}
	apps, err := UserApplications(ctx, view, u, ApplicationStatusActive)
	if err != nil {
		return false, err
	}
	for _, a := range apps {
		if slot.ApplicationInSlot(a.Code) {
			return true, nil
		}
	}
	return false, nil
}

// AllowsAccess reports whether the user may see the application's details.
// Admins always may; managers may unless the application is confidential and
// does not list them; everyone else needs to participate in the application
// through their PI.
func AllowsAccess(ctx context.Context, view RuleView, a Application, u User) (bool, error) {
	if u.IsAdmin() {
		return true, nil
	}
	if u.IsManager() {
		if !a.Confidential() {
			return true, nil
		}
		for _, id := range a.AccessList() {
			if id == u.ID {
				return true, nil
			}
		}
		return false, nil
	}
	pi, ok, err := PIOf(ctx, view, u)
	if err != nil || !ok {
		return false, err
	}
	return a.HasUser(pi.ID), nil
}

// PIList returns the PIs participating in the application: the creator plus
// every member user holding the pi role.
func PIList(ctx context.Context, view RuleView, a Application) ([]User, error) {
	var pis []User
	if creator, ok, err := view.FindUser(ctx, a.CreatorID); err != nil {
		return nil, err
	} else if ok {
		pis = append(pis, creator)
	}
	for _, id := range a.UserIDs {
		u, ok, err := view.FindUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && u.IsPI() {
			pis = append(pis, u)
		}
	}
	return pis, nil
}

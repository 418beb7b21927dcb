package appointment

// The transition table below is the single source of truth for appointment
// lifecycle rules. Everything that changes a status, including the no-show
// sweep, goes through it.

type transition struct {
	From Status
	To   Status
}

var allowedTransitions = map[transition][]Role{
	{StatusScheduled, StatusConfirmed}: {RoleCounselor, RoleAdmin},
	{StatusScheduled, StatusCompleted}: {RoleCounselor, RoleAdmin},
	{StatusConfirmed, StatusCompleted}: {RoleCounselor, RoleAdmin},
	{StatusScheduled, StatusCancelled}: {RoleStudent, RoleCounselor, RoleAdmin},
	{StatusConfirmed, StatusCancelled}: {RoleStudent, RoleCounselor, RoleAdmin},
	{StatusScheduled, StatusNoShow}:    {RoleCounselor, RoleAdmin},
	{StatusConfirmed, StatusNoShow}:    {RoleCounselor, RoleAdmin},
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another, regardless of who asks.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[transition{from, to}]
	return ok
}

// RoleMayTransition reports whether the given role is permitted to perform the
// transition. Ownership checks (students and counselors may only act on their
// own appointments) are layered on top by the service.
func RoleMayTransition(role Role, from, to Status) bool {
	roles, ok := allowedTransitions[transition{from, to}]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

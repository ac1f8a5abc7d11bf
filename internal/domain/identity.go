package domain

// RoleAdmin bypasses ownership checks on read and cancel.
const RoleAdmin = "admin"

// Identity is the authenticated caller of an engine operation. A zero
// Identity represents an unauthenticated or internal submission.
type Identity struct {
	Subject string
	Roles   []string
}

// Anonymous reports whether no caller identity was established.
func (id Identity) Anonymous() bool { return id.Subject == "" }

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	for _, r := range id.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// MayAccess reports whether the identity may view or cancel the given
// record. Records without an owner are open; owned records require the
// owner or an admin.
func (id Identity) MayAccess(rec *DispatchRecord) bool {
	if rec.Owner == "" {
		return true
	}
	return id.IsAdmin() || id.Subject == rec.Owner
}

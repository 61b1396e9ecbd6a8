package models

// Role is the kind of actor calling into the order core.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
)

// Principal is the authenticated caller. It is passed explicitly to every
// service entry point.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Is reports whether the principal has one of the given roles.
func (p Principal) Is(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

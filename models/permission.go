package models

// Capability is a token in the static role permission table.
type Capability string

const (
	CapBook            Capability = "book"
	CapReturn          Capability = "return"
	CapViewInventory   Capability = "view_inventory"
	CapAIAssistant     Capability = "ai_assistant"
	CapViewReports     Capability = "view_reports"
	CapViewAllBookings Capability = "view_all_bookings"
	CapManageInventory Capability = "manage_inventory"
	CapManageUsers     Capability = "manage_users"
)

var allCapabilities = []Capability{
	CapBook, CapReturn, CapViewInventory, CapAIAssistant,
	CapViewReports, CapViewAllBookings, CapManageInventory, CapManageUsers,
}

// Managers and admins share capabilities; only the role name gates
// admin-only actions such as account creation.
var permissions = map[Role][]Capability{
	RoleAdmin:   allCapabilities,
	RoleManager: allCapabilities,
	RoleUser:    {CapBook, CapReturn, CapViewInventory, CapAIAssistant},
}

// Can reports whether role grants capability.
func Can(role Role, c Capability) bool {
	for _, have := range permissions[role] {
		if have == c {
			return true
		}
	}
	return false
}

// CapabilitiesOf returns a copy of the role's capability list.
func CapabilitiesOf(role Role) []Capability {
	caps := permissions[role]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

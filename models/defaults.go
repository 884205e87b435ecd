package models

import "time"

// DefaultPassword is the initial password of every built-in account.
// Seeded accounts must rotate it on first sign-in.
const DefaultPassword = "changeme"

// DefaultUsers is the built-in account set used when the store has none.
func DefaultUsers() []User {
	mk := func(id, name string, role Role, email string) User {
		return User{
			ID: id, Name: name, Role: role, Email: email,
			Password: DefaultPassword, IsEnabled: true, MustChangePassword: true,
		}
	}
	return []User{
		mk("U1", "Site Admin", RoleAdmin, "admin@site.local"),
		mk("U2", "Jonas Weber", RoleUser, "jonas@site.local"),
		mk("U3", "Mira Kovac", RoleManager, "mira@site.local"),
		mk("U4", "Tom Brandt", RoleUser, "tom@site.local"),
	}
}

// DefaultTools is the built-in inventory used when the store has none.
func DefaultTools() []Tool {
	created := time.Date(2024, 1, 8, 7, 0, 0, 0, time.UTC)
	mk := func(id, name, category, serial string) Tool {
		return Tool{
			ID: id, Name: name, Category: category, SerialNumber: serial,
			ItemCount: 1, Status: StatusAvailable,
			Logs: []ToolLog{{
				ID: id + "-create", UserID: "U1", UserName: "Site Admin",
				Action: ActionCreate, Timestamp: created,
			}},
		}
	}
	tools := []Tool{
		mk("T1", "Hilti TE 30 Rotary Hammer", "Power Tools", "HT30-0012"),
		mk("T2", "Bosch GLL 3-80 Line Laser", "Measuring", "GLL380-4471"),
		mk("T3", "Makita DHS680 Circular Saw", "Power Tools", "DHS680-2209"),
		mk("T4", "Honda EU22i Generator", "Power Supply", "EU22I-0815"),
		mk("T5", "Aluminium Ladder 3x9", "Access", ""),
		mk("T6", "Wacker BS 60-2 Rammer", "Compaction", "BS602-1137"),
	}
	tools[4].ItemCount = 2
	tools[5].Status = StatusUnderRepair
	tools[5].Notes = "Carburettor serviced externally"
	return tools
}

package workflow

// Actor is the authenticated caller of a lifecycle operation, acting under
// one of the roles they hold.
type Actor struct {
	UserID string
	Role   Role
}

// SystemActor is used for automatic routing entries.
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

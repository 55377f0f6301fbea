package domain

// AdminGroup is joined by every authenticated administrator connection.
const AdminGroup = "admin-room"

// UserGroup is the private group of a single user.
func UserGroup(userID string) string {
	return "user:" + userID
}

// Broadcaster pushes server events to connected clients. Implementations never
// block on slow or missing recipients.
type Broadcaster interface {
	EmitToHandle(handle, event string, data interface{})
	EmitToGroup(group, event string, data interface{})
	EmitToAll(event string, data interface{})
}

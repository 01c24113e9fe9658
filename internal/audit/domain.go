package audit

import "time"

// Level classifies an audit event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelAudit Level = "audit"
)

// Known audit actions. Handlers may also record free-form actions.
const (
	ActionCreate = "CREATE"
	ActionRead   = "READ"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionLogin  = "LOGIN"
	ActionLogout = "LOGOUT"
	ActionAccess = "ACCESS"
	ActionDeny   = "DENY"
)

// Event is a structured, append-only record of an authorization decision or
// state-changing action. It carries enough context to reconstruct who did what
// to which entity, regardless of whether the business operation itself
// succeeded.
type Event struct {
	At         time.Time      `json:"at"`
	Level      Level          `json:"level"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entityId,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	ActorIP    string         `json:"actorIp,omitempty"`
	ActorAgent string         `json:"actorAgent,omitempty"`
	Message    string         `json:"message"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Record is an event as stored in the structured store, with its identity.
type Record struct {
	ID int64
	Event
}

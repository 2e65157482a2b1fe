package models

import "time"

// ChangeActionENUMType change event action ENUM type
type ChangeActionENUMType string

const (
	// ChangeActionCreate a record was created
	ChangeActionCreate ChangeActionENUMType = "create"
	// ChangeActionUpdate a record was updated
	ChangeActionUpdate ChangeActionENUMType = "update"
	// ChangeActionDelete a record was deleted
	ChangeActionDelete ChangeActionENUMType = "delete"
	// ChangeActionRestore every collection was replaced from a snapshot
	ChangeActionRestore ChangeActionENUMType = "restore"
	// ChangeActionImport every collection was replaced from an external dump
	ChangeActionImport ChangeActionENUMType = "import"
)

// ChangeEvent tells observers a collection changed
type ChangeEvent struct {
	// Collection the changed collection, or AllCollections
	Collection Collection `json:"collection"`
	// Action what changed
	Action ChangeActionENUMType `json:"action"`
	// RecordID the affected record, empty for whole-store events
	RecordID string `json:"recordId,omitempty"`
	// Timestamp when the change committed
	Timestamp time.Time `json:"timestamp"`
}

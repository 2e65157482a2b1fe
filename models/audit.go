package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// AuditActionENUMType audit entry action ENUM type
type AuditActionENUMType string

const (
	// AuditActionCreate record was created
	AuditActionCreate AuditActionENUMType = "create"
	// AuditActionUpdate one field of a record was changed
	AuditActionUpdate AuditActionENUMType = "update"
	// AuditActionDelete record was deleted
	AuditActionDelete AuditActionENUMType = "delete"
)

// AuditEntry immutable record of one change
//
// Updates produce one entry per changed field. A create entry carries the full record in
// NewValue, a delete entry carries the record's final state in OldValue.
type AuditEntry struct {
	// Seq global commit sequence, strictly increasing
	Seq uint64 `json:"seq" gorm:"column:seq;primaryKey;autoIncrement"`
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;not null;uniqueIndex" validate:"required"`
	// Collection the collection of the changed record
	Collection Collection `json:"collection" gorm:"column:collection;not null;index:idx_audit_target" validate:"required,record_collection"`
	// RecordID the changed record
	RecordID string `json:"recordId" gorm:"column:record_id;not null;index:idx_audit_target" validate:"required"`
	// Action what happened
	Action AuditActionENUMType `json:"action" gorm:"column:action;not null" validate:"required,audit_action"`
	// Field the changed field, set for updates only
	Field string `json:"field,omitempty" gorm:"column:field"`
	// OldValue JSON encoded value before the change
	OldValue datatypes.JSON `json:"oldValue,omitempty" gorm:"column:old_value;default:null"`
	// NewValue JSON encoded value after the change
	NewValue datatypes.JSON `json:"newValue,omitempty" gorm:"column:new_value;default:null"`
	// User acting user
	User string `json:"user" gorm:"column:user_name;not null" validate:"required"`
	// CommittedAt commit timestamp
	CommittedAt time.Time `json:"committedAt" gorm:"column:committed_at;not null"`
}

// FieldChange one field-level difference between two versions of a record
type FieldChange struct {
	// Field JSON name of the field
	Field string `json:"field"`
	// OldValue JSON encoded old value
	OldValue json.RawMessage `json:"oldValue"`
	// NewValue JSON encoded new value
	NewValue json.RawMessage `json:"newValue"`
}

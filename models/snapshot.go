package models

import (
	"encoding/json"
	"time"
)

// SnapshotFormatVersion current snapshot payload format version
const SnapshotFormatVersion = 1

// SnapshotMeta catalog metadata of one stored snapshot
type SnapshotMeta struct {
	// ID snapshot ID
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required"`
	// Name snapshot name, unique in the catalog
	Name string `json:"name" gorm:"column:name;not null;uniqueIndex" validate:"required,snapshot_name"`
	// CreatedAt the instant the collections were captured
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime:false;index"`
	// Size size of the encoded payload in bytes
	Size int64 `json:"size" gorm:"column:size;not null"`
	// Checksum SHA-256 of the encoded payload, hex encoded
	Checksum string `json:"checksum" gorm:"column:checksum;not null" validate:"required"`
	// RecordCount total records across all collections
	RecordCount int `json:"recordCount" gorm:"column:record_count"`
}

// SnapshotContents the self-contained copy of every collection at one instant
type SnapshotContents struct {
	// FormatVersion payload format version
	FormatVersion int `json:"formatVersion"`
	// CapturedAt the capture instant
	CapturedAt time.Time `json:"capturedAt"`
	// Collections JSON encoded records of each collection
	Collections map[Collection][]json.RawMessage `json:"collections"`
	// History the audit log at the capture instant
	History []AuditEntry `json:"history,omitempty"`
}

// DecodedSnapshot snapshot contents decoded into typed records
type DecodedSnapshot struct {
	// CapturedAt the capture instant
	CapturedAt time.Time `json:"capturedAt"`
	// Records typed records of each collection
	Records map[Collection][]Record `json:"records"`
	// History the audit log at the capture instant; nil when the payload carried none
	History []AuditEntry `json:"history,omitempty"`
}

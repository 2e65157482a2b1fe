// Package models - inventory data models
package models

import (
	"fmt"
	"time"
)

// Collection name of an independent namespace of records
type Collection string

const (
	// CollectionDevices office computers and workstations
	CollectionDevices Collection = "devices"
	// CollectionNetworkDevices switches, routers, access points
	CollectionNetworkDevices Collection = "networkDevices"
	// CollectionStorageItems consumables and spare parts kept in storage
	CollectionStorageItems Collection = "storageItems"
	// CollectionEmployees employees equipment can be assigned to
	CollectionEmployees Collection = "employees"
	// CollectionMFU multi-function devices (printer / scanner / copier)
	CollectionMFU Collection = "mfu"
	// CollectionServerEquipment rack servers and their components
	CollectionServerEquipment Collection = "serverEquipment"

	// CollectionHistory pseudo collection exposing the audit log
	CollectionHistory Collection = "history"

	// AllCollections wildcard used by change events which affect every collection
	AllCollections Collection = "*"
)

// RecordCollections the collections holding records, in a stable order
var RecordCollections = []Collection{
	CollectionDevices,
	CollectionNetworkDevices,
	CollectionStorageItems,
	CollectionEmployees,
	CollectionMFU,
	CollectionServerEquipment,
}

// IsRecordCollection whether the collection holds records
func (c Collection) IsRecordCollection() bool {
	for _, known := range RecordCollections {
		if c == known {
			return true
		}
	}
	return false
}

// Meta bookkeeping fields shared by every record
type Meta struct {
	// ID record ID, unique within its collection
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required,max=128"`
	// CreatedAt record creation timestamp
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime:false;index"`
	// UpdatedAt record last modification timestamp
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime:false"`
}

// GetMeta return the record bookkeeping fields
func (m *Meta) GetMeta() *Meta {
	return m
}

// Record one entity belonging to exactly one collection
type Record interface {
	// Collection the collection this record belongs to
	Collection() Collection
	// GetMeta the record bookkeeping fields
	GetMeta() *Meta
}

/*
NewRecord allocate an empty record of the type held by a collection

	@param collection Collection - the collection
	@returns the empty record
*/
func NewRecord(collection Collection) (Record, error) {
	switch collection {
	case CollectionDevices:
		return &Device{}, nil
	case CollectionNetworkDevices:
		return &NetworkDevice{}, nil
	case CollectionStorageItems:
		return &StorageItem{}, nil
	case CollectionEmployees:
		return &Employee{}, nil
	case CollectionMFU:
		return &MFU{}, nil
	case CollectionServerEquipment:
		return &ServerEquipment{}, nil
	}
	return nil, fmt.Errorf("collection '%s' [%w]", collection, ErrUnknownCollection)
}

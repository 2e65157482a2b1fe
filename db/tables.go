package db

import (
	"context"
	"fmt"

	"github.com/alwitt/stockpile/models"
	"gorm.io/gorm"
)

// --------------------------------------------------------------------------------------
// Audit log

// AuditEntryDBEntry audit log DB entry
type AuditEntryDBEntry struct {
	models.AuditEntry
}

// TableName hard code table name
func (AuditEntryDBEntry) TableName() string {
	return "audit_entries"
}

// --------------------------------------------------------------------------------------
// Snapshot catalog

// SnapshotDBEntry snapshot catalog DB entry, including the encoded payload
type SnapshotDBEntry struct {
	models.SnapshotMeta
	Payload []byte `gorm:"column:payload;not null" validate:"required"`
}

// TableName hard code table name
func (SnapshotDBEntry) TableName() string {
	return "snapshots"
}

// --------------------------------------------------------------------------------------
// Service leases

// ServiceLeaseDBEntry service lease DB entry
type ServiceLeaseDBEntry struct {
	models.ServiceLease
}

// TableName hard code table name
func (ServiceLeaseDBEntry) TableName() string {
	return "service_leases"
}

// --------------------------------------------------------------------------------------
// Record collections

// DeviceDBEntry device DB entry
type DeviceDBEntry struct {
	models.Device
}

// TableName hard code table name
func (DeviceDBEntry) TableName() string {
	return "devices"
}

// NetworkDeviceDBEntry network device DB entry
type NetworkDeviceDBEntry struct {
	models.NetworkDevice
}

// TableName hard code table name
func (NetworkDeviceDBEntry) TableName() string {
	return "network_devices"
}

// StorageItemDBEntry storage item DB entry
type StorageItemDBEntry struct {
	models.StorageItem
}

// TableName hard code table name
func (StorageItemDBEntry) TableName() string {
	return "storage_items"
}

// EmployeeDBEntry employee DB entry
type EmployeeDBEntry struct {
	models.Employee
}

// TableName hard code table name
func (EmployeeDBEntry) TableName() string {
	return "employees"
}

// MFUDBEntry multi-function device DB entry
type MFUDBEntry struct {
	models.MFU
}

// TableName hard code table name
func (MFUDBEntry) TableName() string {
	return "mfu_devices"
}

// ServerEquipmentDBEntry server equipment DB entry
type ServerEquipmentDBEntry struct {
	models.ServerEquipment
}

// TableName hard code table name
func (ServerEquipmentDBEntry) TableName() string {
	return "server_equipment"
}

// --------------------------------------------------------------------------------------
// Collection to table registry

// collectionTable how the records of one collection are persisted
type collectionTable struct {
	// table the SQL table name
	table string
	// list read every row of the table as typed records
	list func(tx *gorm.DB, table string) ([]models.Record, error)
}

// listAs read every row of a table into records of type T
func listAs[T any, PT interface {
	*T
	models.Record
}](tx *gorm.DB, table string) ([]models.Record, error) {
	var rows []T
	if tmp := tx.Table(table).Order("created_at").Order("id").Find(&rows); tmp.Error != nil {
		return nil, tmp.Error
	}
	result := make([]models.Record, 0, len(rows))
	for idx := range rows {
		result = append(result, PT(&rows[idx]))
	}
	return result, nil
}

var collectionTables = map[models.Collection]collectionTable{
	models.CollectionDevices: {
		table: DeviceDBEntry{}.TableName(),
		list:  listAs[models.Device, *models.Device],
	},
	models.CollectionNetworkDevices: {
		table: NetworkDeviceDBEntry{}.TableName(),
		list:  listAs[models.NetworkDevice, *models.NetworkDevice],
	},
	models.CollectionStorageItems: {
		table: StorageItemDBEntry{}.TableName(),
		list:  listAs[models.StorageItem, *models.StorageItem],
	},
	models.CollectionEmployees: {
		table: EmployeeDBEntry{}.TableName(),
		list:  listAs[models.Employee, *models.Employee],
	},
	models.CollectionMFU: {
		table: MFUDBEntry{}.TableName(),
		list:  listAs[models.MFU, *models.MFU],
	},
	models.CollectionServerEquipment: {
		table: ServerEquipmentDBEntry{}.TableName(),
		list:  listAs[models.ServerEquipment, *models.ServerEquipment],
	},
}

// tableOf find the table holding a collection
func tableOf(collection models.Collection) (collectionTable, error) {
	entry, ok := collectionTables[collection]
	if !ok {
		return collectionTable{}, fmt.Errorf("collection '%s' [%w]", collection, models.ErrUnknownCollection)
	}
	return entry, nil
}

// AllTableModels every persisted model, for migration tooling
func AllTableModels() []interface{} {
	return []interface{}{
		&AuditEntryDBEntry{},
		&SnapshotDBEntry{},
		&ServiceLeaseDBEntry{},
		&DeviceDBEntry{},
		&NetworkDeviceDBEntry{},
		&StorageItemDBEntry{},
		&EmployeeDBEntry{},
		&MFUDBEntry{},
		&ServerEquipmentDBEntry{},
	}
}

// DefineTables prepare a database with tables. Used by unit tests and the `migrate`
// command.
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(AllTableModels()...)
}

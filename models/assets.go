package models

// RecordStatusENUMType equipment / employee status ENUM type
type RecordStatusENUMType string

const (
	// RecordStatusInUse item is deployed and in use
	RecordStatusInUse RecordStatusENUMType = "in_use"
	// RecordStatusInStock item is kept in storage
	RecordStatusInStock RecordStatusENUMType = "in_stock"
	// RecordStatusRepair item is under repair
	RecordStatusRepair RecordStatusENUMType = "repair"
	// RecordStatusWrittenOff item is decommissioned
	RecordStatusWrittenOff RecordStatusENUMType = "written_off"
)

// Device an office computer or workstation
//
// Monitor, UPS and peripherals are optional price components; nil means "not recorded",
// which is distinct from a recorded price of zero.
type Device struct {
	Meta

	Name                string               `json:"name" gorm:"column:name;not null" validate:"required"`
	Type                string               `json:"type" gorm:"column:type;not null" validate:"required"`
	InventoryNumber     string               `json:"inventoryNumber" gorm:"column:inventory_number;not null" validate:"required"`
	SerialNumber        string               `json:"serialNumber" gorm:"column:serial_number"`
	Status              RecordStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,record_status"`
	Location            string               `json:"location" gorm:"column:location"`
	ResponsibleEmployee string               `json:"responsibleEmployee" gorm:"column:responsible_employee"`
	Price               float64              `json:"price" gorm:"column:price" validate:"gte=0"`
	MonitorPrice        *float64             `json:"monitorPrice" gorm:"column:monitor_price" validate:"omitempty,gte=0"`
	UPSPrice            *float64             `json:"upsPrice" gorm:"column:ups_price" validate:"omitempty,gte=0"`
	PeripheralsPrice    *float64             `json:"peripheralsPrice" gorm:"column:peripherals_price" validate:"omitempty,gte=0"`
	PurchaseDate        string               `json:"purchaseDate" gorm:"column:purchase_date" validate:"omitempty,datetime=2006-01-02"`
	Notes               string               `json:"notes" gorm:"column:notes"`
}

// Collection the collection this record belongs to
func (Device) Collection() Collection {
	return CollectionDevices
}

// NetworkDevice a switch, router, or access point
type NetworkDevice struct {
	Meta

	Name                string               `json:"name" gorm:"column:name;not null" validate:"required"`
	Type                string               `json:"type" gorm:"column:type;not null" validate:"required"`
	InventoryNumber     string               `json:"inventoryNumber" gorm:"column:inventory_number;not null" validate:"required"`
	IPAddress           string               `json:"ipAddress" gorm:"column:ip_address" validate:"omitempty,ip"`
	MACAddress          string               `json:"macAddress" gorm:"column:mac_address" validate:"omitempty,mac"`
	Status              RecordStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,record_status"`
	Location            string               `json:"location" gorm:"column:location"`
	ResponsibleEmployee string               `json:"responsibleEmployee" gorm:"column:responsible_employee"`
	Price               float64              `json:"price" gorm:"column:price" validate:"gte=0"`
	Notes               string               `json:"notes" gorm:"column:notes"`
}

// Collection the collection this record belongs to
func (NetworkDevice) Collection() Collection {
	return CollectionNetworkDevices
}

// StorageItem a stock of consumables or spare parts
type StorageItem struct {
	Meta

	Name     string               `json:"name" gorm:"column:name;not null" validate:"required"`
	Category string               `json:"category" gorm:"column:category;not null" validate:"required"`
	Quantity int                  `json:"quantity" gorm:"column:quantity" validate:"gte=0"`
	Unit     string               `json:"unit" gorm:"column:unit"`
	Status   RecordStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,record_status"`
	Location string               `json:"location" gorm:"column:location"`
	// Price per unit
	Price float64 `json:"price" gorm:"column:price" validate:"gte=0"`
	Notes string  `json:"notes" gorm:"column:notes"`
}

// Collection the collection this record belongs to
func (StorageItem) Collection() Collection {
	return CollectionStorageItems
}

// Employee a person equipment can be assigned to
type Employee struct {
	Meta

	FullName   string               `json:"fullName" gorm:"column:full_name;not null" validate:"required"`
	Position   string               `json:"position" gorm:"column:position"`
	Department string               `json:"department" gorm:"column:department"`
	Email      string               `json:"email" gorm:"column:email" validate:"omitempty,email"`
	Phone      string               `json:"phone" gorm:"column:phone"`
	Status     RecordStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,record_status"`
	Notes      string               `json:"notes" gorm:"column:notes"`
}

// Collection the collection this record belongs to
func (Employee) Collection() Collection {
	return CollectionEmployees
}

// MFU a multi-function device
type MFU struct {
	Meta

	Name                string               `json:"name" gorm:"column:name;not null" validate:"required"`
	Model               string               `json:"model" gorm:"column:model;not null" validate:"required"`
	InventoryNumber     string               `json:"inventoryNumber" gorm:"column:inventory_number;not null" validate:"required"`
	SerialNumber        string               `json:"serialNumber" gorm:"column:serial_number"`
	Status              RecordStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,record_status"`
	Location            string               `json:"location" gorm:"column:location"`
	ResponsibleEmployee string               `json:"responsibleEmployee" gorm:"column:responsible_employee"`
	Price               float64              `json:"price" gorm:"column:price" validate:"gte=0"`
	CartridgePrice      *float64             `json:"cartridgePrice" gorm:"column:cartridge_price" validate:"omitempty,gte=0"`
	Notes               string               `json:"notes" gorm:"column:notes"`
}

// Collection the collection this record belongs to
func (MFU) Collection() Collection {
	return CollectionMFU
}

// ServerEquipment a rack server or related equipment
type ServerEquipment struct {
	Meta

	Name            string               `json:"name" gorm:"column:name;not null" validate:"required"`
	Type            string               `json:"type" gorm:"column:type;not null" validate:"required"`
	InventoryNumber string               `json:"inventoryNumber" gorm:"column:inventory_number;not null" validate:"required"`
	SerialNumber    string               `json:"serialNumber" gorm:"column:serial_number"`
	RackLocation    string               `json:"rackLocation" gorm:"column:rack_location"`
	Status          RecordStatusENUMType `json:"status" gorm:"column:status;not null" validate:"required,record_status"`
	IPAddress       string               `json:"ipAddress" gorm:"column:ip_address" validate:"omitempty,ip"`
	Price           float64              `json:"price" gorm:"column:price" validate:"gte=0"`
	ComponentsPrice *float64             `json:"componentsPrice" gorm:"column:components_price" validate:"omitempty,gte=0"`
	Notes           string               `json:"notes" gorm:"column:notes"`
}

// Collection the collection this record belongs to
func (ServerEquipment) Collection() Collection {
	return CollectionServerEquipment
}

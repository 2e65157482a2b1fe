package models

// CollectionStatistics derived counts and totals of one collection
type CollectionStatistics struct {
	// Total number of records
	Total int `json:"total"`
	// ByStatus number of records per status value
	ByStatus map[RecordStatusENUMType]int `json:"byStatus"`
	// TotalValue summed monetary value of the collection
	TotalValue float64 `json:"totalValue"`
}

// Statistics derived read-only statistics across collections
type Statistics struct {
	// Collections per collection statistics
	Collections map[Collection]CollectionStatistics `json:"collections"`
	// TotalRecords records across every collection
	TotalRecords int `json:"totalRecords"`
	// TotalValue monetary value across every collection
	TotalValue float64 `json:"totalValue"`
}

package models

import "time"

// ServiceLease heartbeat row marking an API server as running against a database
type ServiceLease struct {
	// ID lease ID, one per server process
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required"`
	// Host the host the server runs on
	Host string `json:"host" gorm:"column:host"`
	// PID server process ID
	PID int `json:"pid" gorm:"column:pid"`
	// ListenAddress the API listen address
	ListenAddress string `json:"listenAddress" gorm:"column:listen_address"`
	// HeartbeatAt the last renewal
	HeartbeatAt time.Time `json:"heartbeatAt" gorm:"column:heartbeat_at;not null;index"`
}

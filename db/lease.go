package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/stockpile/models"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Service leases

/*
RenewServiceLease insert or refresh a service lease

	@param ctx context.Context - execution context
	@param lease models.ServiceLease - the lease
*/
func (d *databaseImpl) RenewServiceLease(_ context.Context, lease models.ServiceLease) error {
	entry := ServiceLeaseDBEntry{ServiceLease: lease}
	entry.HeartbeatAt = entry.HeartbeatAt.UTC()

	if err := d.validator.Struct(&entry); err != nil {
		return fmt.Errorf("service lease '%s' is not valid [%w]", lease.ID, validationError(err))
	}

	if tmp := d.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry); tmp.Error != nil {
		return fmt.Errorf("service lease '%s' renewal failed [%w]", lease.ID, tmp.Error)
	}
	return nil
}

/*
ReleaseServiceLease drop a service lease. Dropping an unknown lease is not an error.

	@param ctx context.Context - execution context
	@param leaseID string - lease ID
*/
func (d *databaseImpl) ReleaseServiceLease(_ context.Context, leaseID string) error {
	if tmp := d.db.Where("id = ?", leaseID).Delete(&ServiceLeaseDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to release service lease '%s' [%w]", leaseID, tmp.Error)
	}
	return nil
}

/*
ListLiveServiceLeases list the leases renewed at or after a cutoff, newest first

	@param ctx context.Context - execution context
	@param since time.Time - the cutoff
	@returns the leases
*/
func (d *databaseImpl) ListLiveServiceLeases(
	_ context.Context, since time.Time,
) ([]models.ServiceLease, error) {
	var entries []ServiceLeaseDBEntry
	tmp := d.db.
		Where("heartbeat_at >= ?", since.UTC()).
		Order("heartbeat_at desc").
		Find(&entries)
	if tmp.Error != nil {
		return nil, fmt.Errorf("failed to list service leases [%w]", tmp.Error)
	}

	result := []models.ServiceLease{}
	for _, entry := range entries {
		result = append(result, entry.ServiceLease)
	}
	return result, nil
}

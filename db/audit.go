// Package db - persistence layer
package db

import (
	"context"
	"fmt"

	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
)

/*
AppendAuditEntries append entries to the audit log. Entry IDs are assigned here.

	@param ctx context.Context - execution context
	@param entries []models.AuditEntry - the new entries, in commit order
	@returns the stored entries
*/
func (d *databaseImpl) AppendAuditEntries(
	_ context.Context, entries []models.AuditEntry,
) ([]models.AuditEntry, error) {
	result := make([]models.AuditEntry, 0, len(entries))

	// Insert one at a time so the commit sequence follows the slice order
	for _, entry := range entries {
		newEntry := AuditEntryDBEntry{AuditEntry: entry}
		newEntry.Seq = 0
		newEntry.ID = ulid.Make().String()

		if err := d.validator.Struct(&newEntry); err != nil {
			return nil, fmt.Errorf(
				"new %s audit entry for %s record %s is not valid [%w]",
				entry.Action,
				entry.Collection,
				entry.RecordID,
				validationError(err),
			)
		}

		if tmp := d.db.Create(&newEntry); tmp.Error != nil {
			return nil, fmt.Errorf(
				"new %s audit entry for %s record %s insert failed [%w]",
				entry.Action,
				entry.Collection,
				entry.RecordID,
				tmp.Error,
			)
		}

		result = append(result, newEntry.AuditEntry)
	}

	return result, nil
}

/*
ListAuditEntries list audit log entries

	@param ctx context.Context - execution context
	@param filters AuditEntryQueryFilter - entry listing filter
	@returns the entries
*/
func (d *databaseImpl) ListAuditEntries(
	_ context.Context, filters AuditEntryQueryFilter,
) ([]models.AuditEntry, error) {
	query := d.db.Model(&AuditEntryDBEntry{})

	if filters.TargetCollection != nil {
		query = query.Where("collection = ?", *filters.TargetCollection)
	}
	if filters.TargetRecordID != nil {
		query = query.Where("record_id = ?", *filters.TargetRecordID)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	if filters.NewestFirst {
		query = query.Order("seq desc")
	} else {
		query = query.Order("seq")
	}

	var entries []AuditEntryDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list audit entries [%w]", tmp.Error)
	}

	result := []models.AuditEntry{}
	for _, entry := range entries {
		result = append(result, entry.AuditEntry)
	}

	return result, nil
}

/*
ReplaceAuditLog discard the audit log, then insert the given entries in order

	@param ctx context.Context - execution context
	@param entries []models.AuditEntry - the new audit log, oldest first
*/
func (d *databaseImpl) ReplaceAuditLog(ctx context.Context, entries []models.AuditEntry) error {
	if tmp := d.db.Where("1 = 1").Delete(&AuditEntryDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to clear audit log [%w]", tmp.Error)
	}

	for _, entry := range entries {
		replayed := AuditEntryDBEntry{AuditEntry: entry}
		// Sequence numbers are reassigned, the original order is kept
		replayed.Seq = 0
		if replayed.ID == "" {
			replayed.ID = ulid.Make().String()
		}
		if err := d.validator.Struct(&replayed); err != nil {
			return fmt.Errorf("replayed audit entry %s is not valid [%w]", entry.ID, validationError(err))
		}
		if tmp := d.db.Create(&replayed); tmp.Error != nil {
			return fmt.Errorf("replayed audit entry %s insert failed [%w]", entry.ID, tmp.Error)
		}
	}

	log.WithFields(d.GetLogTagsForContext(ctx)).
		WithField("entries", len(entries)).
		Info("Replaced audit log")

	return nil
}

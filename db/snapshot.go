package db

import (
	"context"
	"fmt"

	"github.com/alwitt/stockpile/models"
	"github.com/oklog/ulid/v2"
)

// ======================================================================================
// Snapshot catalog

/*
RecordSnapshot store a new snapshot

	@param ctx context.Context - execution context
	@param meta models.SnapshotMeta - snapshot metadata
	@param payload []byte - encoded snapshot payload
	@returns the stored metadata
*/
func (d *databaseImpl) RecordSnapshot(
	_ context.Context, meta models.SnapshotMeta, payload []byte,
) (models.SnapshotMeta, error) {
	newEntry := SnapshotDBEntry{SnapshotMeta: meta, Payload: payload}
	if newEntry.ID == "" {
		newEntry.ID = ulid.Make().String()
	}
	newEntry.Size = int64(len(payload))

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.SnapshotMeta{}, fmt.Errorf(
			"new snapshot '%s' is not valid [%w]", meta.Name, validationError(err),
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.SnapshotMeta{}, fmt.Errorf(
			"new snapshot '%s' insert failed [%w]", meta.Name, tmp.Error,
		)
	}

	return newEntry.SnapshotMeta, nil
}

// metadataColumns snapshot catalog columns excluding the payload
var metadataColumns = []string{"id", "name", "created_at", "size", "checksum", "record_count"}

/*
GetSnapshot fetch snapshot metadata by name

	@param ctx context.Context - execution context
	@param name string - snapshot name
	@returns the metadata
*/
func (d *databaseImpl) GetSnapshot(_ context.Context, name string) (models.SnapshotMeta, error) {
	var entry SnapshotDBEntry
	tmp := d.db.Select(metadataColumns).Where("name = ?", name).Take(&entry)
	if tmp.Error != nil {
		return models.SnapshotMeta{}, fmt.Errorf(
			"failed to fetch snapshot '%s' [%w]", name, translateError(tmp.Error),
		)
	}
	return entry.SnapshotMeta, nil
}

/*
GetSnapshotPayload fetch snapshot metadata and its encoded payload by name

	@param ctx context.Context - execution context
	@param name string - snapshot name
	@returns the metadata and the payload
*/
func (d *databaseImpl) GetSnapshotPayload(
	_ context.Context, name string,
) (models.SnapshotMeta, []byte, error) {
	var entry SnapshotDBEntry
	if tmp := d.db.Where("name = ?", name).Take(&entry); tmp.Error != nil {
		return models.SnapshotMeta{}, nil, fmt.Errorf(
			"failed to fetch snapshot '%s' [%w]", name, translateError(tmp.Error),
		)
	}
	return entry.SnapshotMeta, entry.Payload, nil
}

/*
ListSnapshots list snapshot metadata, newest first unless asked otherwise

	@param ctx context.Context - execution context
	@param filters SnapshotQueryFilter - entry listing filter
	@returns the metadata
*/
func (d *databaseImpl) ListSnapshots(
	_ context.Context, filters SnapshotQueryFilter,
) ([]models.SnapshotMeta, error) {
	query := d.db.Model(&SnapshotDBEntry{}).Select(metadataColumns)

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	if filters.OldestFirst {
		query = query.Order("created_at").Order("id")
	} else {
		query = query.Order("created_at desc").Order("id desc")
	}

	var entries []SnapshotDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list snapshots [%w]", tmp.Error)
	}

	result := []models.SnapshotMeta{}
	for _, entry := range entries {
		result = append(result, entry.SnapshotMeta)
	}

	return result, nil
}

/*
DeleteSnapshot delete a snapshot

	@param ctx context.Context - execution context
	@param name string - snapshot name
*/
func (d *databaseImpl) DeleteSnapshot(_ context.Context, name string) error {
	tmp := d.db.Where("name = ?", name).Delete(&SnapshotDBEntry{})
	if tmp.Error != nil {
		return fmt.Errorf("failed to delete snapshot '%s' [%w]", name, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("failed to delete snapshot '%s' [%w]", name, models.ErrNotFound)
	}
	return nil
}

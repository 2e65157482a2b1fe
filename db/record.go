package db

import (
	"context"
	"fmt"

	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
)

// ======================================================================================
// Records

/*
InsertRecord validate and insert a new record. The record's bookkeeping fields
must already be set.

	@param ctx context.Context - execution context
	@param record models.Record - the record
*/
func (d *databaseImpl) InsertRecord(_ context.Context, record models.Record) error {
	collection := record.Collection()
	table, err := tableOf(collection)
	if err != nil {
		return err
	}

	if err := d.validator.Struct(record); err != nil {
		return fmt.Errorf("new %s record is not valid [%w]", collection, validationError(err))
	}

	if tmp := d.db.Table(table.table).Create(record); tmp.Error != nil {
		return fmt.Errorf(
			"new %s record %s failed insert [%w]", collection, record.GetMeta().ID, tmp.Error,
		)
	}

	return nil
}

/*
GetRecord fetch a record by ID

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@param recordID string - the record ID
	@returns the record
*/
func (d *databaseImpl) GetRecord(
	_ context.Context, collection models.Collection, recordID string,
) (models.Record, error) {
	table, err := tableOf(collection)
	if err != nil {
		return nil, err
	}

	record, err := models.NewRecord(collection)
	if err != nil {
		return nil, err
	}

	if tmp := d.db.Table(table.table).Where("id = ?", recordID).Take(record); tmp.Error != nil {
		return nil, fmt.Errorf(
			"failed to fetch %s record %s [%w]", collection, recordID, translateError(tmp.Error),
		)
	}

	return record, nil
}

/*
ListRecords list every record of a collection, ordered by creation time

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@returns the records
*/
func (d *databaseImpl) ListRecords(
	_ context.Context, collection models.Collection,
) ([]models.Record, error) {
	table, err := tableOf(collection)
	if err != nil {
		return nil, err
	}

	records, err := table.list(d.db, table.table)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records [%w]", collection, err)
	}

	return records, nil
}

/*
UpdateRecord validate and overwrite every field of an existing record

	@param ctx context.Context - execution context
	@param record models.Record - the new version of the record
*/
func (d *databaseImpl) UpdateRecord(_ context.Context, record models.Record) error {
	collection := record.Collection()
	recordID := record.GetMeta().ID
	table, err := tableOf(collection)
	if err != nil {
		return err
	}

	if err := d.validator.Struct(record); err != nil {
		return fmt.Errorf(
			"new version of %s record %s is not valid [%w]", collection, recordID, validationError(err),
		)
	}

	tmp := d.db.Table(table.table).Select("*").Where("id = ?", recordID).Updates(record)
	if tmp.Error != nil {
		return fmt.Errorf("failed to update %s record %s [%w]", collection, recordID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("failed to update %s record %s [%w]", collection, recordID, models.ErrNotFound)
	}

	return nil
}

/*
DeleteRecord delete a record

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@param recordID string - the record ID
*/
func (d *databaseImpl) DeleteRecord(
	_ context.Context, collection models.Collection, recordID string,
) error {
	table, err := tableOf(collection)
	if err != nil {
		return err
	}

	record, err := models.NewRecord(collection)
	if err != nil {
		return err
	}

	tmp := d.db.Table(table.table).Where("id = ?", recordID).Delete(record)
	if tmp.Error != nil {
		return fmt.Errorf("failed to delete %s record %s [%w]", collection, recordID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return fmt.Errorf("failed to delete %s record %s [%w]", collection, recordID, models.ErrNotFound)
	}

	return nil
}

/*
ReplaceCollection delete every record of a collection, then insert the given records

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@param records []models.Record - the new contents
*/
func (d *databaseImpl) ReplaceCollection(
	ctx context.Context, collection models.Collection, records []models.Record,
) error {
	table, err := tableOf(collection)
	if err != nil {
		return err
	}

	blank, err := models.NewRecord(collection)
	if err != nil {
		return err
	}

	if tmp := d.db.Table(table.table).Where("1 = 1").Delete(blank); tmp.Error != nil {
		return fmt.Errorf("failed to clear %s collection [%w]", collection, tmp.Error)
	}

	for _, record := range records {
		if record.Collection() != collection {
			return fmt.Errorf(
				"%s record can't be placed in the %s collection [%w]",
				record.Collection(),
				collection,
				models.ErrValidationFailed,
			)
		}
		if err := d.InsertRecord(ctx, record); err != nil {
			return err
		}
	}

	log.WithFields(d.GetLogTagsForContext(ctx)).
		WithField("collection", collection).
		WithField("records", len(records)).
		Debug("Replaced collection contents")

	return nil
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// AuditEntryQueryFilter audit log query filter conditions
type AuditEntryQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetCollection fetch only entries of this collection
	TargetCollection *models.Collection
	// TargetRecordID fetch only entries of this record
	TargetRecordID *string
	// NewestFirst order by descending commit sequence
	NewestFirst bool
}

// SnapshotQueryFilter snapshot catalog query filter conditions
type SnapshotQueryFilter struct {
	CommonListEntryQueryFilter
	// OldestFirst order by ascending creation time
	OldestFirst bool
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// Records

	/*
		InsertRecord validate and insert a new record. The record's bookkeeping fields
		must already be set.

			@param ctx context.Context - execution context
			@param record models.Record - the record
	*/
	InsertRecord(ctx context.Context, record models.Record) error

	/*
		GetRecord fetch a record by ID

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@param recordID string - the record ID
			@returns the record
	*/
	GetRecord(
		ctx context.Context, collection models.Collection, recordID string,
	) (models.Record, error)

	/*
		ListRecords list every record of a collection, ordered by creation time

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@returns the records
	*/
	ListRecords(ctx context.Context, collection models.Collection) ([]models.Record, error)

	/*
		UpdateRecord validate and overwrite every field of an existing record

			@param ctx context.Context - execution context
			@param record models.Record - the new version of the record
	*/
	UpdateRecord(ctx context.Context, record models.Record) error

	/*
		DeleteRecord delete a record

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@param recordID string - the record ID
	*/
	DeleteRecord(ctx context.Context, collection models.Collection, recordID string) error

	/*
		ReplaceCollection delete every record of a collection, then insert the given records

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@param records []models.Record - the new contents
	*/
	ReplaceCollection(
		ctx context.Context, collection models.Collection, records []models.Record,
	) error

	// ------------------------------------------------------------------------------------
	// Audit log

	/*
		AppendAuditEntries append entries to the audit log. Entry IDs are assigned here.

			@param ctx context.Context - execution context
			@param entries []models.AuditEntry - the new entries, in commit order
			@returns the stored entries
	*/
	AppendAuditEntries(
		ctx context.Context, entries []models.AuditEntry,
	) ([]models.AuditEntry, error)

	/*
		ListAuditEntries list audit log entries

			@param ctx context.Context - execution context
			@param filters AuditEntryQueryFilter - entry listing filter
			@returns the entries
	*/
	ListAuditEntries(
		ctx context.Context, filters AuditEntryQueryFilter,
	) ([]models.AuditEntry, error)

	/*
		ReplaceAuditLog discard the audit log, then insert the given entries in order

			@param ctx context.Context - execution context
			@param entries []models.AuditEntry - the new audit log, oldest first
	*/
	ReplaceAuditLog(ctx context.Context, entries []models.AuditEntry) error

	// ------------------------------------------------------------------------------------
	// Snapshot catalog

	/*
		RecordSnapshot store a new snapshot

			@param ctx context.Context - execution context
			@param meta models.SnapshotMeta - snapshot metadata
			@param payload []byte - encoded snapshot payload
			@returns the stored metadata
	*/
	RecordSnapshot(
		ctx context.Context, meta models.SnapshotMeta, payload []byte,
	) (models.SnapshotMeta, error)

	/*
		GetSnapshot fetch snapshot metadata by name

			@param ctx context.Context - execution context
			@param name string - snapshot name
			@returns the metadata
	*/
	GetSnapshot(ctx context.Context, name string) (models.SnapshotMeta, error)

	/*
		GetSnapshotPayload fetch snapshot metadata and its encoded payload by name

			@param ctx context.Context - execution context
			@param name string - snapshot name
			@returns the metadata and the payload
	*/
	GetSnapshotPayload(ctx context.Context, name string) (models.SnapshotMeta, []byte, error)

	/*
		ListSnapshots list snapshot metadata, newest first unless asked otherwise

			@param ctx context.Context - execution context
			@param filters SnapshotQueryFilter - entry listing filter
			@returns the metadata
	*/
	ListSnapshots(
		ctx context.Context, filters SnapshotQueryFilter,
	) ([]models.SnapshotMeta, error)

	/*
		DeleteSnapshot delete a snapshot

			@param ctx context.Context - execution context
			@param name string - snapshot name
	*/
	DeleteSnapshot(ctx context.Context, name string) error

	// ------------------------------------------------------------------------------------
	// Service leases

	/*
		RenewServiceLease insert or refresh a service lease

			@param ctx context.Context - execution context
			@param lease models.ServiceLease - the lease
	*/
	RenewServiceLease(ctx context.Context, lease models.ServiceLease) error

	/*
		ReleaseServiceLease drop a service lease. Dropping an unknown lease is not an error.

			@param ctx context.Context - execution context
			@param leaseID string - lease ID
	*/
	ReleaseServiceLease(ctx context.Context, leaseID string) error

	/*
		ListLiveServiceLeases list the leases renewed at or after a cutoff, newest first

			@param ctx context.Context - execution context
			@param since time.Time - the cutoff
			@returns the leases
	*/
	ListLiveServiceLeases(ctx context.Context, since time.Time) ([]models.ServiceLease, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "stockpile", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// translateError map GORM errors onto the sentinel errors
func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

// validationError wrap validator output into the sentinel error
func validationError(err error) error {
	return fmt.Errorf("%w: %s", models.ErrValidationFailed, err.Error())
}

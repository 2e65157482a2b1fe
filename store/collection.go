// Package store - inventory data storage controllers
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/diff"
	"github.com/alwitt/stockpile/models"
	"github.com/alwitt/stockpile/writequeue"
	"github.com/apex/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Publisher receives change events once the change has committed
type Publisher interface {
	/*
		Publish deliver a change event. Must not block.

			@param event models.ChangeEvent - the event
	*/
	Publish(event models.ChangeEvent)
}

// CollectionStore CRUD over the record collections, with every change audited
type CollectionStore interface {
	/*
		Create define a new record. The ID and timestamps are assigned by the store.

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@param data json.RawMessage - JSON object holding the record fields
			@param user string - acting user
			@returns the stored record
	*/
	Create(
		ctx context.Context, collection models.Collection, data json.RawMessage, user string,
	) (models.Record, error)

	/*
		Get fetch one record

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@param id string - the record ID
			@returns the record
	*/
	Get(ctx context.Context, collection models.Collection, id string) (models.Record, error)

	/*
		List fetch every record of a collection, oldest first

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@returns the records
	*/
	List(ctx context.Context, collection models.Collection) ([]models.Record, error)

	/*
		Update change some fields of a record

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@param id string - the record ID
			@param partial json.RawMessage - JSON object holding the fields to change
			@param user string - acting user
			@returns the stored record
	*/
	Update(
		ctx context.Context,
		collection models.Collection,
		id string,
		partial json.RawMessage,
		user string,
	) (models.Record, error)

	/*
		Delete remove a record

			@param ctx context.Context - execution context
			@param collection models.Collection - the collection
			@param id string - the record ID
			@param user string - acting user
	*/
	Delete(ctx context.Context, collection models.Collection, id string, user string) error
}

// Options collection store behavior settings
type Options struct {
	// RejectNoopUpdates fail updates which change nothing, instead of returning the
	// unchanged record
	RejectNoopUpdates bool
}

// collectionStoreImpl implements CollectionStore
type collectionStoreImpl struct {
	goutils.Component
	persistence db.Client
	gate        *WriteGate
	writers     *writequeue.Manager
	publisher   Publisher
	options     Options
}

/*
NewCollectionStore define new collection store

Writes to one collection are serialized through the write queue keyed by the collection
name, and every write holds the write gate shared.

	@param persistence db.Client - persistence layer client
	@param gate *WriteGate - the global write gate
	@param writers *writequeue.Manager - per collection write serialization
	@param publisher Publisher - receives committed change events
	@param options Options - behavior settings
	@returns store instance
*/
func NewCollectionStore(
	persistence db.Client,
	gate *WriteGate,
	writers *writequeue.Manager,
	publisher Publisher,
	options Options,
) (CollectionStore, error) {
	if persistence == nil || gate == nil || writers == nil || publisher == nil {
		return nil, fmt.Errorf("collection store is missing dependencies")
	}

	logTags := log.Fields{"package": "stockpile", "module": "store", "component": "collection-store"}

	return &collectionStoreImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		gate:        gate,
		writers:     writers,
		publisher:   publisher,
		options:     options,
	}, nil
}

// AnonymousUser acting user recorded when the caller gives none
const AnonymousUser = "anonymous"

func actingUser(user string) string {
	if user == "" {
		return AnonymousUser
	}
	return user
}

func checkCollection(collection models.Collection) error {
	if !collection.IsRecordCollection() {
		return fmt.Errorf("collection '%s' [%w]", collection, models.ErrUnknownCollection)
	}
	return nil
}

/*
mutate run a mutation of one collection. The mutation runs in a single transaction, in
the collection's write queue, holding the write gate shared. Its change event is
published after commit.
*/
func (s *collectionStoreImpl) mutate(
	ctx context.Context,
	collection models.Collection,
	coreLogic func(ctx context.Context, dbClient db.Database) (*models.ChangeEvent, error),
) error {
	return s.writers.Execute(ctx, string(collection), func(opCtx context.Context) error {
		return s.gate.RunShared(func() error {
			var event *models.ChangeEvent
			if err := s.persistence.UseDatabaseInTransaction(
				opCtx, func(dbCtx context.Context, dbClient db.Database) error {
					var err error
					event, err = coreLogic(dbCtx, dbClient)
					return err
				},
			); err != nil {
				return err
			}
			if event != nil {
				s.publisher.Publish(*event)
			}
			return nil
		})
	})
}

// encodeRecord JSON encode a record for the audit log
func encodeRecord(record models.Record) (datatypes.JSON, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to encode %s record %s [%w]", record.Collection(), record.GetMeta().ID, err,
		)
	}
	return datatypes.JSON(encoded), nil
}

/*
Create define a new record. The ID and timestamps are assigned by the store.

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@param data json.RawMessage - JSON object holding the record fields
	@param user string - acting user
	@returns the stored record
*/
func (s *collectionStoreImpl) Create(
	ctx context.Context, collection models.Collection, data json.RawMessage, user string,
) (models.Record, error) {
	logTags := s.GetLogTagsForContext(ctx)
	user = actingUser(user)
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	record, err := models.NewRecord(collection)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(record); err != nil {
		return nil, fmt.Errorf(
			"new %s record is malformed [%w: %s]", collection, models.ErrValidationFailed, err,
		)
	}

	meta := record.GetMeta()
	meta.ID = uuid.NewString()

	if err := s.mutate(
		ctx, collection, func(dbCtx context.Context, dbClient db.Database) (*models.ChangeEvent, error) {
			now := time.Now().UTC()
			meta.CreatedAt = now
			meta.UpdatedAt = now

			if err := dbClient.InsertRecord(dbCtx, record); err != nil {
				return nil, err
			}

			fullRecord, err := encodeRecord(record)
			if err != nil {
				return nil, err
			}
			if _, err := dbClient.AppendAuditEntries(dbCtx, []models.AuditEntry{
				{
					Collection:  collection,
					RecordID:    meta.ID,
					Action:      models.AuditActionCreate,
					NewValue:    fullRecord,
					User:        user,
					CommittedAt: now,
				},
			}); err != nil {
				return nil, fmt.Errorf("failed to audit new %s record [%w]", collection, err)
			}

			return &models.ChangeEvent{
				Collection: collection,
				Action:     models.ChangeActionCreate,
				RecordID:   meta.ID,
				Timestamp:  now,
			}, nil
		},
	); err != nil {
		log.WithError(err).WithFields(logTags).WithField("collection", collection).Debug("Create failed")
		return nil, fmt.Errorf("failed to create %s record [%w]", collection, err)
	}

	log.WithFields(logTags).
		WithField("collection", collection).
		WithField("record", meta.ID).
		WithField("user", user).
		Debug("Created record")

	return record, nil
}

/*
Get fetch one record

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@param id string - the record ID
	@returns the record
*/
func (s *collectionStoreImpl) Get(
	ctx context.Context, collection models.Collection, id string,
) (models.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var record models.Record
	if err := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			record, err = dbClient.GetRecord(dbCtx, collection, id)
			return err
		},
	); err != nil {
		return nil, err
	}
	return record, nil
}

/*
List fetch every record of a collection, oldest first

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@returns the records
*/
func (s *collectionStoreImpl) List(
	ctx context.Context, collection models.Collection,
) ([]models.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var records []models.Record
	if err := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			records, err = dbClient.ListRecords(dbCtx, collection)
			return err
		},
	); err != nil {
		return nil, err
	}
	return records, nil
}

/*
Update change some fields of a record

The diff is computed against the committed record inside the collection's write queue,
so concurrent updates apply in commit order, each against its predecessor's result.

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@param id string - the record ID
	@param partial json.RawMessage - JSON object holding the fields to change
	@param user string - acting user
	@returns the stored record
*/
func (s *collectionStoreImpl) Update(
	ctx context.Context,
	collection models.Collection,
	id string,
	partial json.RawMessage,
	user string,
) (models.Record, error) {
	logTags := s.GetLogTagsForContext(ctx)
	user = actingUser(user)
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var result models.Record
	var changed []models.FieldChange
	if err := s.mutate(
		ctx, collection, func(dbCtx context.Context, dbClient db.Database) (*models.ChangeEvent, error) {
			base, err := dbClient.GetRecord(dbCtx, collection, id)
			if err != nil {
				return nil, err
			}

			merged, err := diff.Merge(base, partial)
			if err != nil {
				return nil, err
			}

			changed, err = diff.Compute(base, merged)
			if err != nil {
				return nil, err
			}
			if len(changed) == 0 {
				if s.options.RejectNoopUpdates {
					return nil, fmt.Errorf("update changes nothing [%w]", models.ErrValidationFailed)
				}
				result = base
				return nil, nil
			}

			now := time.Now().UTC()
			merged.GetMeta().UpdatedAt = now
			if err := dbClient.UpdateRecord(dbCtx, merged); err != nil {
				return nil, err
			}

			entries := make([]models.AuditEntry, 0, len(changed))
			for _, change := range changed {
				entries = append(entries, models.AuditEntry{
					Collection:  collection,
					RecordID:    id,
					Action:      models.AuditActionUpdate,
					Field:       change.Field,
					OldValue:    datatypes.JSON(change.OldValue),
					NewValue:    datatypes.JSON(change.NewValue),
					User:        user,
					CommittedAt: now,
				})
			}
			if _, err := dbClient.AppendAuditEntries(dbCtx, entries); err != nil {
				return nil, fmt.Errorf("failed to audit update of %s record %s [%w]", collection, id, err)
			}

			result = merged
			return &models.ChangeEvent{
				Collection: collection,
				Action:     models.ChangeActionUpdate,
				RecordID:   id,
				Timestamp:  now,
			}, nil
		},
	); err != nil {
		return nil, fmt.Errorf("failed to update %s record %s [%w]", collection, id, err)
	}

	log.WithFields(logTags).
		WithField("collection", collection).
		WithField("record", id).
		WithField("user", user).
		WithField("fields-changed", len(changed)).
		Debug("Updated record")

	return result, nil
}

/*
Delete remove a record

	@param ctx context.Context - execution context
	@param collection models.Collection - the collection
	@param id string - the record ID
	@param user string - acting user
*/
func (s *collectionStoreImpl) Delete(
	ctx context.Context, collection models.Collection, id string, user string,
) error {
	logTags := s.GetLogTagsForContext(ctx)
	user = actingUser(user)
	if err := checkCollection(collection); err != nil {
		return err
	}

	if err := s.mutate(
		ctx, collection, func(dbCtx context.Context, dbClient db.Database) (*models.ChangeEvent, error) {
			final, err := dbClient.GetRecord(dbCtx, collection, id)
			if err != nil {
				return nil, err
			}
			finalState, err := encodeRecord(final)
			if err != nil {
				return nil, err
			}

			if err := dbClient.DeleteRecord(dbCtx, collection, id); err != nil {
				return nil, err
			}

			now := time.Now().UTC()
			if _, err := dbClient.AppendAuditEntries(dbCtx, []models.AuditEntry{
				{
					Collection:  collection,
					RecordID:    id,
					Action:      models.AuditActionDelete,
					OldValue:    finalState,
					User:        user,
					CommittedAt: now,
				},
			}); err != nil {
				return nil, fmt.Errorf("failed to audit delete of %s record %s [%w]", collection, id, err)
			}

			return &models.ChangeEvent{
				Collection: collection,
				Action:     models.ChangeActionDelete,
				RecordID:   id,
				Timestamp:  now,
			}, nil
		},
	); err != nil {
		return fmt.Errorf("failed to delete %s record %s [%w]", collection, id, err)
	}

	log.WithFields(logTags).
		WithField("collection", collection).
		WithField("record", id).
		WithField("user", user).
		Debug("Deleted record")

	return nil
}

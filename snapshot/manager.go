// Package snapshot - point-in-time copies of every collection
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/diff"
	"github.com/alwitt/stockpile/models"
	"github.com/alwitt/stockpile/store"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// AuditPolicy what happens to the audit log when collections are replaced wholesale
type AuditPolicy string

const (
	// AuditPolicyPreserve keep the live audit log untouched
	AuditPolicyPreserve AuditPolicy = "preserve"
	// AuditPolicyReplace replace the live audit log with the history carried by the
	// snapshot or dump
	AuditPolicyReplace AuditPolicy = "replace"
)

// DefaultMaxSnapshots number of snapshots kept when no limit is configured
const DefaultMaxSnapshots = 10

// Options snapshot manager settings
type Options struct {
	// MaxSnapshots retention limit; the oldest snapshots beyond it are pruned
	MaxSnapshots int
	// AuditPolicy audit log handling on restore and import
	AuditPolicy AuditPolicy
	// Sinks off-box destinations new snapshots are mirrored to
	Sinks []ExportSink
}

// ImportReport outcome of an import
type ImportReport struct {
	// Records number of records now held by each collection
	Records map[models.Collection]int `json:"records"`
	// MissingCollections collections absent from the dump, which were emptied
	MissingCollections []models.Collection `json:"missingCollections"`
	// HistoryReplaced whether the audit log was replaced
	HistoryReplaced bool `json:"historyReplaced"`
}

// Manager snapshot lifecycle controller
type Manager interface {
	/*
		CreateSnapshot capture every collection at one instant into a new named snapshot

			@param ctx context.Context - execution context
			@param name string - snapshot name; empty selects a timestamped name
			@returns the snapshot metadata
	*/
	CreateSnapshot(ctx context.Context, name string) (models.SnapshotMeta, error)

	/*
		ListSnapshots list the stored snapshots, newest first

			@param ctx context.Context - execution context
			@returns the snapshot metadata
	*/
	ListSnapshots(ctx context.Context) ([]models.SnapshotMeta, error)

	/*
		ReadSnapshotContents read back the contents of a snapshot

			@param ctx context.Context - execution context
			@param name string - snapshot name
			@returns the decoded contents
	*/
	ReadSnapshotContents(ctx context.Context, name string) (models.DecodedSnapshot, error)

	/*
		ExportSnapshot write the encoded snapshot (gzip compressed JSON) to a writer

			@param ctx context.Context - execution context
			@param name string - snapshot name
			@param w io.Writer - the destination
			@returns the snapshot metadata
	*/
	ExportSnapshot(ctx context.Context, name string, w io.Writer) (models.SnapshotMeta, error)

	/*
		Restore replace every collection with the contents of a snapshot, all or nothing

			@param ctx context.Context - execution context
			@param name string - snapshot name
			@param user string - acting user
	*/
	Restore(ctx context.Context, name string, user string) error

	/*
		DeleteSnapshot permanently remove a snapshot

			@param ctx context.Context - execution context
			@param name string - snapshot name
	*/
	DeleteSnapshot(ctx context.Context, name string) error

	/*
		ImportExternal replace every collection with a full dump from an external source,
		all or nothing. Collections absent from the dump are emptied, with a warning.

			@param ctx context.Context - execution context
			@param payload []byte - the dump
			@param user string - acting user
			@returns the import report
	*/
	ImportExternal(ctx context.Context, payload []byte, user string) (ImportReport, error)

	/*
		PreviewImport compare a dump against the live collections without applying it

			@param ctx context.Context - execution context
			@param payload []byte - the dump
			@returns the comparison
	*/
	PreviewImport(ctx context.Context, payload []byte) (diff.Reconciliation, error)
}

// managerImpl implements Manager
type managerImpl struct {
	goutils.Component
	persistence db.Client
	gate        *store.WriteGate
	publisher   store.Publisher
	validator   *validator.Validate
	options     Options
}

/*
NewManager define new snapshot manager

	@param persistence db.Client - persistence layer client
	@param gate *store.WriteGate - the global write gate shared with the collection store
	@param publisher store.Publisher - receives restore and import events
	@param options Options - settings
	@returns manager
*/
func NewManager(
	persistence db.Client, gate *store.WriteGate, publisher store.Publisher, options Options,
) (Manager, error) {
	if persistence == nil || gate == nil || publisher == nil {
		return nil, fmt.Errorf("snapshot manager is missing dependencies")
	}
	if options.MaxSnapshots <= 0 {
		options.MaxSnapshots = DefaultMaxSnapshots
	}
	switch options.AuditPolicy {
	case "":
		options.AuditPolicy = AuditPolicyPreserve
	case AuditPolicyPreserve, AuditPolicyReplace:
	default:
		return nil, fmt.Errorf("unknown audit policy '%s'", options.AuditPolicy)
	}

	logTags := log.Fields{"package": "stockpile", "module": "snapshot", "component": "manager"}

	instance := &managerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		gate:        gate,
		publisher:   publisher,
		validator:   validator.New(),
		options:     options,
	}
	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// capture read every collection and the audit log from one consistent state of the DB
func (m *managerImpl) capture(
	ctx context.Context,
) (map[models.Collection][]models.Record, []models.AuditEntry, time.Time, error) {
	records := map[models.Collection][]models.Record{}
	var history []models.AuditEntry
	var capturedAt time.Time

	err := m.gate.RunExclusive(func() error {
		return m.persistence.UseDatabaseInReadSnapshot(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				capturedAt = time.Now().UTC()
				for _, collection := range models.RecordCollections {
					entries, err := dbClient.ListRecords(dbCtx, collection)
					if err != nil {
						return err
					}
					records[collection] = entries
				}
				var err error
				history, err = dbClient.ListAuditEntries(dbCtx, db.AuditEntryQueryFilter{})
				return err
			},
		)
	})
	return records, history, capturedAt, err
}

/*
CreateSnapshot capture every collection at one instant into a new named snapshot

Writers are held off only while the collections are read. Encoding, storage, retention
enforcement, and mirroring happen after they are released.

	@param ctx context.Context - execution context
	@param name string - snapshot name; empty selects a timestamped name
	@returns the snapshot metadata
*/
func (m *managerImpl) CreateSnapshot(ctx context.Context, name string) (models.SnapshotMeta, error) {
	logTags := m.GetLogTagsForContext(ctx)

	if name == "" {
		name = "backup-" + time.Now().UTC().Format("20060102T150405.000Z")
	}
	if err := m.validator.Var(name, "required,snapshot_name"); err != nil {
		return models.SnapshotMeta{}, fmt.Errorf(
			"snapshot name '%s' is not valid [%w]", name, models.ErrValidationFailed,
		)
	}

	// Reject duplicates before pausing writers
	if err := m.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		_, err := dbClient.GetSnapshot(dbCtx, name)
		return err
	}); err == nil {
		return models.SnapshotMeta{}, fmt.Errorf(
			"snapshot '%s' already exists [%w]", name, models.ErrConflictOrStale,
		)
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.SnapshotMeta{}, fmt.Errorf("failed to check snapshot catalog [%w]", err)
	}

	records, history, capturedAt, err := m.capture(ctx)
	if err != nil {
		return models.SnapshotMeta{}, fmt.Errorf("failed to capture collections [%w]", err)
	}

	contents := models.SnapshotContents{
		FormatVersion: models.SnapshotFormatVersion,
		CapturedAt:    capturedAt,
		Collections:   map[models.Collection][]json.RawMessage{},
		History:       history,
	}
	recordCount := 0
	for collection, entries := range records {
		encoded := make([]json.RawMessage, 0, len(entries))
		for _, record := range entries {
			raw, err := json.Marshal(record)
			if err != nil {
				return models.SnapshotMeta{}, fmt.Errorf(
					"failed to encode %s record %s [%w]", collection, record.GetMeta().ID, err,
				)
			}
			encoded = append(encoded, raw)
		}
		contents.Collections[collection] = encoded
		recordCount += len(encoded)
	}

	payload, checksum, err := encodeContents(contents)
	if err != nil {
		return models.SnapshotMeta{}, err
	}

	var stored models.SnapshotMeta
	if err := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			stored, err = dbClient.RecordSnapshot(dbCtx, models.SnapshotMeta{
				ID:          ulid.Make().String(),
				Name:        name,
				CreatedAt:   capturedAt,
				Checksum:    checksum,
				RecordCount: recordCount,
			}, payload)
			return err
		},
	); err != nil {
		return models.SnapshotMeta{}, fmt.Errorf("failed to store snapshot '%s' [%w]", name, err)
	}

	log.WithFields(logTags).
		WithField("snapshot", name).
		WithField("records", recordCount).
		WithField("size", stored.Size).
		Info("Created snapshot")

	if err := m.enforceRetention(ctx); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Snapshot retention enforcement incomplete")
	}

	m.mirror(ctx, FileNameOf(name), payload)

	return stored, nil
}

// enforceRetention prune the oldest snapshots beyond the retention limit
func (m *managerImpl) enforceRetention(ctx context.Context) error {
	logTags := m.GetLogTagsForContext(ctx)

	var pruned []string
	err := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			all, err := dbClient.ListSnapshots(dbCtx, db.SnapshotQueryFilter{OldestFirst: true})
			if err != nil {
				return err
			}
			for idx := 0; idx < len(all)-m.options.MaxSnapshots; idx++ {
				if err := dbClient.DeleteSnapshot(dbCtx, all[idx].Name); err != nil {
					return err
				}
				pruned = append(pruned, all[idx].Name)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %s", models.ErrRetentionPruneFailed, err.Error())
	}

	for _, name := range pruned {
		log.WithFields(logTags).WithField("snapshot", name).Info("Pruned snapshot beyond retention limit")
		m.unmirror(ctx, FileNameOf(name))
	}
	return nil
}

// mirror copy a new snapshot to every sink, logging failures
func (m *managerImpl) mirror(ctx context.Context, fileName string, payload []byte) {
	if len(m.options.Sinks) == 0 {
		return
	}
	logTags := m.GetLogTagsForContext(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, sink := range m.options.Sinks {
		group.Go(func() error {
			if err := sink.Put(groupCtx, fileName, payload); err != nil {
				log.WithError(err).WithFields(logTags).WithField("sink", sink.Name()).Error("Snapshot mirror failed")
				return err
			}
			log.WithFields(logTags).WithField("sink", sink.Name()).WithField("file", fileName).Debug("Snapshot mirrored")
			return nil
		})
	}
	_ = group.Wait()
}

// unmirror remove a snapshot from every sink, logging failures
func (m *managerImpl) unmirror(ctx context.Context, fileName string) {
	logTags := m.GetLogTagsForContext(ctx)
	for _, sink := range m.options.Sinks {
		if err := sink.Remove(ctx, fileName); err != nil {
			log.WithError(err).WithFields(logTags).WithField("sink", sink.Name()).Warn("Snapshot mirror removal failed")
		}
	}
}

/*
ListSnapshots list the stored snapshots, newest first

	@param ctx context.Context - execution context
	@returns the snapshot metadata
*/
func (m *managerImpl) ListSnapshots(ctx context.Context) ([]models.SnapshotMeta, error) {
	var result []models.SnapshotMeta
	if err := m.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		var err error
		result, err = dbClient.ListSnapshots(dbCtx, db.SnapshotQueryFilter{})
		return err
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// loadPayload fetch and verify the stored payload of a snapshot
func (m *managerImpl) loadPayload(
	ctx context.Context, name string,
) (models.SnapshotMeta, []byte, error) {
	var meta models.SnapshotMeta
	var payload []byte
	if err := m.persistence.UseDatabase(ctx, func(dbCtx context.Context, dbClient db.Database) error {
		var err error
		meta, payload, err = dbClient.GetSnapshotPayload(dbCtx, name)
		return err
	}); err != nil {
		return models.SnapshotMeta{}, nil, err
	}
	if checksumOf(payload) != meta.Checksum {
		return models.SnapshotMeta{}, nil, fmt.Errorf(
			"snapshot '%s' checksum mismatch [%w]", name, models.ErrSnapshotCorrupt,
		)
	}
	return meta, payload, nil
}

// loadContents fetch, verify, and decode a snapshot
func (m *managerImpl) loadContents(ctx context.Context, name string) (models.DecodedSnapshot, error) {
	meta, payload, err := m.loadPayload(ctx, name)
	if err != nil {
		return models.DecodedSnapshot{}, err
	}
	contents, err := decodePayload(payload, meta.Checksum)
	if err != nil {
		return models.DecodedSnapshot{}, fmt.Errorf("snapshot '%s' is unreadable [%w]", name, err)
	}
	decoded, err := decodeRecords(contents, m.validator)
	if err != nil {
		return models.DecodedSnapshot{}, fmt.Errorf("snapshot '%s' is unreadable [%w]", name, err)
	}
	return decoded, nil
}

/*
ReadSnapshotContents read back the contents of a snapshot

	@param ctx context.Context - execution context
	@param name string - snapshot name
	@returns the decoded contents
*/
func (m *managerImpl) ReadSnapshotContents(
	ctx context.Context, name string,
) (models.DecodedSnapshot, error) {
	return m.loadContents(ctx, name)
}

/*
ExportSnapshot write the encoded snapshot (gzip compressed JSON) to a writer

	@param ctx context.Context - execution context
	@param name string - snapshot name
	@param w io.Writer - the destination
	@returns the snapshot metadata
*/
func (m *managerImpl) ExportSnapshot(
	ctx context.Context, name string, w io.Writer,
) (models.SnapshotMeta, error) {
	meta, payload, err := m.loadPayload(ctx, name)
	if err != nil {
		return models.SnapshotMeta{}, err
	}
	if _, err := w.Write(payload); err != nil {
		return models.SnapshotMeta{}, fmt.Errorf("failed to write snapshot '%s' [%w]", name, err)
	}
	return meta, nil
}

/*
replaceAll atomically replace every collection, and optionally the audit log, then
publish a whole-store change event

Holds the write gate exclusively, so no mutation interleaves with the replacement.
*/
func (m *managerImpl) replaceAll(
	ctx context.Context,
	decoded models.DecodedSnapshot,
	replaceHistory bool,
	action models.ChangeActionENUMType,
) error {
	return m.gate.RunExclusive(func() error {
		if err := m.persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				for _, collection := range models.RecordCollections {
					if err := dbClient.ReplaceCollection(
						dbCtx, collection, decoded.Records[collection],
					); err != nil {
						return err
					}
				}
				if replaceHistory {
					return dbClient.ReplaceAuditLog(dbCtx, decoded.History)
				}
				return nil
			},
		); err != nil {
			return err
		}

		m.publisher.Publish(models.ChangeEvent{
			Collection: models.AllCollections,
			Action:     action,
			Timestamp:  time.Now().UTC(),
		})
		return nil
	})
}

/*
Restore replace every collection with the contents of a snapshot, all or nothing

The snapshot is loaded, verified, and decoded before writers are paused, so a missing or
corrupt snapshot blocks nothing and changes nothing.

	@param ctx context.Context - execution context
	@param name string - snapshot name
	@param user string - acting user
*/
func (m *managerImpl) Restore(ctx context.Context, name string, user string) error {
	logTags := m.GetLogTagsForContext(ctx)

	decoded, err := m.loadContents(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to restore snapshot '%s' [%w]", name, err)
	}

	replaceHistory := m.options.AuditPolicy == AuditPolicyReplace
	if err := m.replaceAll(ctx, decoded, replaceHistory, models.ChangeActionRestore); err != nil {
		return fmt.Errorf("failed to restore snapshot '%s' [%w]", name, err)
	}

	log.WithFields(logTags).
		WithField("snapshot", name).
		WithField("user", user).
		WithField("history-replaced", replaceHistory).
		Info("Restored snapshot")
	return nil
}

/*
DeleteSnapshot permanently remove a snapshot

	@param ctx context.Context - execution context
	@param name string - snapshot name
*/
func (m *managerImpl) DeleteSnapshot(ctx context.Context, name string) error {
	if err := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.DeleteSnapshot(dbCtx, name)
		},
	); err != nil {
		return err
	}

	log.WithFields(m.GetLogTagsForContext(ctx)).WithField("snapshot", name).Info("Deleted snapshot")
	m.unmirror(ctx, FileNameOf(name))
	return nil
}

// decodeDump parse, validate, and decode an external dump
func (m *managerImpl) decodeDump(
	ctx context.Context, payload []byte,
) (models.DecodedSnapshot, []models.Collection, error) {
	contents, missing, err := parseExternalDump(payload)
	if err != nil {
		return models.DecodedSnapshot{}, nil, err
	}
	for _, collection := range missing {
		log.WithFields(m.GetLogTagsForContext(ctx)).
			WithField("collection", collection).
			Warn("Import payload is missing a collection")
	}
	decoded, err := decodeRecords(contents, m.validator)
	if err != nil {
		return models.DecodedSnapshot{}, nil, err
	}
	return decoded, missing, nil
}

/*
ImportExternal replace every collection with a full dump from an external source,
all or nothing. Collections absent from the dump are emptied, with a warning.

	@param ctx context.Context - execution context
	@param payload []byte - the dump
	@param user string - acting user
	@returns the import report
*/
func (m *managerImpl) ImportExternal(
	ctx context.Context, payload []byte, user string,
) (ImportReport, error) {
	logTags := m.GetLogTagsForContext(ctx)

	decoded, missing, err := m.decodeDump(ctx, payload)
	if err != nil {
		return ImportReport{}, fmt.Errorf("import rejected [%w]", err)
	}

	// A dump without history leaves the live log alone under either policy
	replaceHistory := m.options.AuditPolicy == AuditPolicyReplace && decoded.History != nil
	if err := m.replaceAll(ctx, decoded, replaceHistory, models.ChangeActionImport); err != nil {
		return ImportReport{}, fmt.Errorf("import failed [%w]", err)
	}

	report := ImportReport{
		Records:            map[models.Collection]int{},
		MissingCollections: missing,
		HistoryReplaced:    replaceHistory,
	}
	for collection, records := range decoded.Records {
		report.Records[collection] = len(records)
	}

	log.WithFields(logTags).
		WithField("user", user).
		WithField("missing-collections", len(missing)).
		WithField("history-replaced", replaceHistory).
		Info("Imported external dump")
	return report, nil
}

/*
PreviewImport compare a dump against the live collections without applying it

	@param ctx context.Context - execution context
	@param payload []byte - the dump
	@returns the comparison
*/
func (m *managerImpl) PreviewImport(
	ctx context.Context, payload []byte,
) (diff.Reconciliation, error) {
	decoded, _, err := m.decodeDump(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("import rejected [%w]", err)
	}

	current := map[models.Collection][]models.Record{}
	if err := m.persistence.UseDatabaseInReadSnapshot(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			for _, collection := range models.RecordCollections {
				records, err := dbClient.ListRecords(dbCtx, collection)
				if err != nil {
					return err
				}
				current[collection] = records
			}
			return nil
		},
	); err != nil {
		return nil, fmt.Errorf("failed to read live collections [%w]", err)
	}

	return diff.Reconcile(current, decoded.Records)
}

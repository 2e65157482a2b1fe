package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) db.Client {
	assert := assert.New(t)

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/stockpile_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(
		db.GetSqliteDialector(testDB), logger.Error, db.ConnectionPoolConfig{MaxOpenConns: 1},
	)
	assert.Nil(err)

	// Create database tables
	assert.Nil(uut.RunSQLInTransaction(context.Background(), db.DefineTables))

	t.Cleanup(func() { _ = uut.Close() })
	return uut
}

func newEmployee(name string) *models.Employee {
	now := time.Now().UTC()
	return &models.Employee{
		Meta:     models.Meta{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		FullName: name,
		Status:   models.RecordStatusInUse,
	}
}

// TestDBRecordCRUD verifies the behavior of `Database.InsertRecord`, `Database.GetRecord`,
// `Database.UpdateRecord`, and `Database.DeleteRecord`.
func TestDBRecordCRUD(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestDB(t)

	// -------------------------------------------------------------------------
	// 1 – Insert a new employee
	emp1 := newEmployee("Jane Doe")
	emp1.Email = "jane@example.com"
	err := uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.InsertRecord(ctx, emp1)
	})
	assert.Nil(err)

	// 2 – Read it back
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		r, err := dbClient.GetRecord(ctx, models.CollectionEmployees, emp1.ID)
		if err != nil {
			return err
		}
		asEmployee, ok := r.(*models.Employee)
		assert.True(ok)
		assert.Equal("Jane Doe", asEmployee.FullName)
		assert.Equal("jane@example.com", asEmployee.Email)
		assert.True(emp1.CreatedAt.Equal(asEmployee.CreatedAt))
		return nil
	})
	assert.Nil(err)

	// 3 – Insert an invalid employee (missing name)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.InsertRecord(ctx, newEmployee(""))
	})
	assert.ErrorIs(err, models.ErrValidationFailed)

	// 4 – Insert an invalid employee (bad status)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		invalid := newEmployee("John Doe")
		invalid.Status = "lost"
		return dbClient.InsertRecord(ctx, invalid)
	})
	assert.ErrorIs(err, models.ErrValidationFailed)

	// -------------------------------------------------------------------------
	// 5 – Update the employee
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		updated := *emp1
		updated.Department = "Accounting"
		updated.Email = ""
		updated.UpdatedAt = time.Now().UTC()
		return dbClient.UpdateRecord(ctx, &updated)
	})
	assert.Nil(err)

	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		r, err := dbClient.GetRecord(ctx, models.CollectionEmployees, emp1.ID)
		if err != nil {
			return err
		}
		asEmployee, ok := r.(*models.Employee)
		assert.True(ok)
		assert.Equal("Accounting", asEmployee.Department)
		// zero value written too
		assert.Equal("", asEmployee.Email)
		return nil
	})
	assert.Nil(err)

	// 6 – Update unknown employee
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.UpdateRecord(ctx, newEmployee("Nobody"))
	})
	assert.ErrorIs(err, models.ErrNotFound)

	// -------------------------------------------------------------------------
	// 7 – Delete the employee
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteRecord(ctx, models.CollectionEmployees, emp1.ID)
	})
	assert.Nil(err)

	// 8 – Read it back (should fail)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.GetRecord(ctx, models.CollectionEmployees, emp1.ID)
		return err
	})
	assert.ErrorIs(err, models.ErrNotFound)

	// 9 – Delete again (should fail)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteRecord(ctx, models.CollectionEmployees, emp1.ID)
	})
	assert.ErrorIs(err, models.ErrNotFound)

	// 10 – Unknown collection
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.ListRecords(ctx, models.CollectionHistory)
		return err
	})
	assert.ErrorIs(err, models.ErrUnknownCollection)
}

// TestDBOptionalPrices verifies nil and zero optional prices survive a round trip
func TestDBOptionalPrices(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestDB(t)

	now := time.Now().UTC()
	zero := 0.0
	withZero := &models.Device{
		Meta:            models.Meta{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		Name:            "PC-1",
		Type:            "desktop",
		InventoryNumber: "INV-1",
		Status:          models.RecordStatusInUse,
		Price:           500,
		MonitorPrice:    &zero,
	}
	withNil := &models.Device{
		Meta:            models.Meta{ID: uuid.NewString(), CreatedAt: now.Add(time.Second), UpdatedAt: now},
		Name:            "PC-2",
		Type:            "laptop",
		InventoryNumber: "INV-2",
		Status:          models.RecordStatusInStock,
		Price:           800,
	}

	err := uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		if err := dbClient.InsertRecord(ctx, withZero); err != nil {
			return err
		}
		return dbClient.InsertRecord(ctx, withNil)
	})
	assert.Nil(err)

	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		records, err := dbClient.ListRecords(ctx, models.CollectionDevices)
		if err != nil {
			return err
		}
		assert.Len(records, 2)
		first, ok := records[0].(*models.Device)
		assert.True(ok)
		second, ok := records[1].(*models.Device)
		assert.True(ok)
		assert.Equal(withZero.ID, first.ID)
		assert.NotNil(first.MonitorPrice)
		assert.Equal(0.0, *first.MonitorPrice)
		assert.Equal(withNil.ID, second.ID)
		assert.Nil(second.MonitorPrice)
		return nil
	})
	assert.Nil(err)
}

// TestDBReplaceCollection verifies the behavior of `Database.ReplaceCollection`
func TestDBReplaceCollection(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestDB(t)

	original := []models.Record{newEmployee("A"), newEmployee("B")}
	err := uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.ReplaceCollection(ctx, models.CollectionEmployees, original)
	})
	assert.Nil(err)

	// Replace with one valid and one invalid record; nothing should change
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.ReplaceCollection(
			ctx, models.CollectionEmployees, []models.Record{newEmployee("C"), newEmployee("")},
		)
	})
	assert.ErrorIs(err, models.ErrValidationFailed)

	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		records, err := dbClient.ListRecords(ctx, models.CollectionEmployees)
		if err != nil {
			return err
		}
		assert.Len(records, 2)
		return nil
	})
	assert.Nil(err)

	// Wrong record type for the collection
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.ReplaceCollection(
			ctx, models.CollectionDevices, []models.Record{newEmployee("D")},
		)
	})
	assert.ErrorIs(err, models.ErrValidationFailed)

	// Empty the collection
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.ReplaceCollection(ctx, models.CollectionEmployees, nil)
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		records, err := dbClient.ListRecords(ctx, models.CollectionEmployees)
		if err != nil {
			return err
		}
		assert.Empty(records)
		return nil
	})
	assert.Nil(err)
}

// TestDBAuditLog verifies the behavior of `Database.AppendAuditEntries`,
// `Database.ListAuditEntries`, and `Database.ReplaceAuditLog`
func TestDBAuditLog(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestDB(t)

	rec1 := uuid.NewString()
	rec2 := uuid.NewString()
	makeEntry := func(
		collection models.Collection, recordID string, action models.AuditActionENUMType, field string,
	) models.AuditEntry {
		return models.AuditEntry{
			Collection:  collection,
			RecordID:    recordID,
			Action:      action,
			Field:       field,
			NewValue:    datatypes.JSON(`"x"`),
			User:        "tester",
			CommittedAt: time.Now().UTC(),
		}
	}

	// 1 – Append entries across two transactions
	err := uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		stored, err := dbClient.AppendAuditEntries(ctx, []models.AuditEntry{
			makeEntry(models.CollectionDevices, rec1, models.AuditActionCreate, ""),
			makeEntry(models.CollectionDevices, rec1, models.AuditActionUpdate, "location"),
		})
		if err != nil {
			return err
		}
		assert.Len(stored, 2)
		assert.NotEmpty(stored[0].ID)
		assert.Less(stored[0].Seq, stored[1].Seq)
		return nil
	})
	assert.Nil(err)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.AppendAuditEntries(ctx, []models.AuditEntry{
			makeEntry(models.CollectionMFU, rec2, models.AuditActionCreate, ""),
		})
		return err
	})
	assert.Nil(err)

	// 2 – Invalid entry
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.AppendAuditEntries(ctx, []models.AuditEntry{
			makeEntry(models.CollectionHistory, rec2, models.AuditActionCreate, ""),
		})
		return err
	})
	assert.ErrorIs(err, models.ErrValidationFailed)

	// 3 – List with filters
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		all, err := dbClient.ListAuditEntries(ctx, db.AuditEntryQueryFilter{NewestFirst: true})
		if err != nil {
			return err
		}
		assert.Len(all, 3)
		assert.Equal(rec2, all[0].RecordID)
		assert.Greater(all[0].Seq, all[1].Seq)

		devices := models.CollectionDevices
		byCollection, err := dbClient.ListAuditEntries(
			ctx, db.AuditEntryQueryFilter{TargetCollection: &devices},
		)
		if err != nil {
			return err
		}
		assert.Len(byCollection, 2)
		assert.Equal(models.AuditActionCreate, byCollection[0].Action)
		assert.Equal("location", byCollection[1].Field)

		limit := 1
		limited, err := dbClient.ListAuditEntries(ctx, db.AuditEntryQueryFilter{
			CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &limit},
			TargetRecordID:             &rec1,
			NewestFirst:                true,
		})
		if err != nil {
			return err
		}
		assert.Len(limited, 1)
		assert.Equal("location", limited[0].Field)
		return nil
	})
	assert.Nil(err)

	// 4 – Replace the log
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.ReplaceAuditLog(ctx, []models.AuditEntry{
			makeEntry(models.CollectionEmployees, rec1, models.AuditActionCreate, ""),
		})
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		all, err := dbClient.ListAuditEntries(ctx, db.AuditEntryQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(all, 1)
		assert.Equal(models.CollectionEmployees, all[0].Collection)
		return nil
	})
	assert.Nil(err)
}

// TestDBSnapshotCatalog verifies the behavior of the snapshot catalog calls
func TestDBSnapshotCatalog(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestDB(t)

	base := time.Now().UTC()
	for idx, name := range []string{"first", "second", "third"} {
		err := uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			stored, err := dbClient.RecordSnapshot(ctx, models.SnapshotMeta{
				Name:      name,
				CreatedAt: base.Add(time.Duration(idx) * time.Second),
				Checksum:  "abc",
			}, []byte(name))
			if err != nil {
				return err
			}
			assert.NotEmpty(stored.ID)
			assert.Equal(int64(len(name)), stored.Size)
			return nil
		})
		assert.Nil(err)
	}

	// Duplicate name
	err := uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.RecordSnapshot(
			ctx, models.SnapshotMeta{Name: "first", CreatedAt: base, Checksum: "abc"}, []byte("x"),
		)
		return err
	})
	assert.Error(err)

	// Invalid name
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.RecordSnapshot(
			ctx, models.SnapshotMeta{Name: "../escape", CreatedAt: base, Checksum: "abc"}, []byte("x"),
		)
		return err
	})
	assert.ErrorIs(err, models.ErrValidationFailed)

	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		newest, err := dbClient.ListSnapshots(ctx, db.SnapshotQueryFilter{})
		if err != nil {
			return err
		}
		assert.Len(newest, 3)
		assert.Equal("third", newest[0].Name)

		oldest, err := dbClient.ListSnapshots(ctx, db.SnapshotQueryFilter{OldestFirst: true})
		if err != nil {
			return err
		}
		assert.Equal("first", oldest[0].Name)

		meta, payload, err := dbClient.GetSnapshotPayload(ctx, "second")
		if err != nil {
			return err
		}
		assert.Equal("second", meta.Name)
		assert.Equal([]byte("second"), payload)

		_, err = dbClient.GetSnapshot(ctx, "fourth")
		assert.ErrorIs(err, models.ErrNotFound)
		return nil
	})
	assert.Nil(err)

	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteSnapshot(ctx, "second")
	})
	assert.Nil(err)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteSnapshot(ctx, "second")
	})
	assert.ErrorIs(err, models.ErrNotFound)
}

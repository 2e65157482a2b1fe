package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/models"
	"github.com/alwitt/stockpile/notify"
	"github.com/alwitt/stockpile/store"
	"github.com/alwitt/stockpile/writequeue"
	"github.com/apex/log"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

type testRig struct {
	persistence db.Client
	hub         *notify.Hub
	writers     *writequeue.Manager
	uut         store.CollectionStore
	history     store.History
}

func newTestRig(t *testing.T, options store.Options) testRig {
	assert := assert.New(t)

	testDB := fmt.Sprintf("/tmp/stockpile_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	persistence, err := db.NewConnection(
		db.GetSqliteDialector(testDB), logger.Error, db.ConnectionPoolConfig{MaxOpenConns: 1},
	)
	assert.Nil(err)
	assert.Nil(persistence.RunSQLInTransaction(context.Background(), db.DefineTables))

	hub := notify.NewHub()
	writers := writequeue.New(nil)

	uut, err := store.NewCollectionStore(persistence, store.NewWriteGate(), writers, hub, options)
	assert.Nil(err)

	t.Cleanup(func() {
		_ = writers.Shutdown(context.Background())
		hub.Close()
		_ = persistence.Close()
	})

	return testRig{
		persistence: persistence,
		hub:         hub,
		writers:     writers,
		uut:         uut,
		history:     store.NewHistory(persistence, 0),
	}
}

const testDevicePayload = `{
	"name": "Accounting PC",
	"type": "desktop",
	"inventoryNumber": "INV-0001",
	"status": "in_use",
	"location": "Room 1",
	"price": 100,
	"monitorPrice": 0
}`

func TestCollectionStoreCreateThenRead(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	created, err := rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(testDevicePayload), "alice")
	assert.Nil(err)
	device, ok := created.(*models.Device)
	assert.True(ok)
	assert.NotEmpty(device.ID)
	assert.False(device.CreatedAt.IsZero())
	assert.True(device.CreatedAt.Equal(device.UpdatedAt))

	read, err := rig.uut.Get(utCtx, models.CollectionDevices, device.ID)
	assert.Nil(err)
	readDevice, ok := read.(*models.Device)
	assert.True(ok)
	assert.Equal(device.Name, readDevice.Name)
	assert.Equal(100.0, readDevice.Price)
	assert.NotNil(readDevice.MonitorPrice)
	assert.Nil(readDevice.UPSPrice)
	assert.True(device.CreatedAt.Equal(readDevice.CreatedAt))

	// Exactly one create entry carrying the full record
	entries, err := rig.history.Query(
		utCtx, store.HistoryQuery{Collection: models.CollectionDevices, RecordID: device.ID},
	)
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.Equal(models.AuditActionCreate, entries[0].Action)
	assert.Equal("alice", entries[0].User)
	var audited models.Device
	assert.Nil(json.Unmarshal(entries[0].NewValue, &audited))
	assert.Equal(device.ID, audited.ID)
	assert.Equal("Room 1", audited.Location)

	all, err := rig.uut.List(utCtx, models.CollectionDevices)
	assert.Nil(err)
	assert.Len(all, 1)
}

func TestCollectionStoreCreateRejects(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	// Missing required field
	_, err := rig.uut.Create(
		utCtx, models.CollectionEmployees, json.RawMessage(`{"status":"in_use"}`), "alice",
	)
	assert.ErrorIs(err, models.ErrValidationFailed)

	// Unknown field
	_, err = rig.uut.Create(
		utCtx,
		models.CollectionEmployees,
		json.RawMessage(`{"fullName":"Jo","status":"in_use","shoeSize":44}`),
		"alice",
	)
	assert.ErrorIs(err, models.ErrValidationFailed)

	// Malformed email
	_, err = rig.uut.Create(
		utCtx,
		models.CollectionEmployees,
		json.RawMessage(`{"fullName":"Jo","status":"in_use","email":"nope"}`),
		"alice",
	)
	assert.ErrorIs(err, models.ErrValidationFailed)

	// Unknown collection
	_, err = rig.uut.Create(utCtx, models.CollectionHistory, json.RawMessage(`{}`), "alice")
	assert.ErrorIs(err, models.ErrUnknownCollection)

	// Nothing was written
	entries, err := rig.history.Query(utCtx, store.HistoryQuery{})
	assert.Nil(err)
	assert.Empty(entries)
}

func TestCollectionStoreUpdateRejectsMalformedBody(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	created, err := rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(testDevicePayload), "alice")
	assert.Nil(err)
	id := created.GetMeta().ID

	for _, body := range []string{`[1,2]`, `"text"`, `{"price":`, `42`} {
		_, err := rig.uut.Update(utCtx, models.CollectionDevices, id, json.RawMessage(body), "bob")
		assert.ErrorIsf(err, models.ErrValidationFailed, "body %s", body)
	}

	// Only the create was audited
	entries, err := rig.history.Query(utCtx, store.HistoryQuery{})
	assert.Nil(err)
	assert.Len(entries, 1)
}

func TestCollectionStoreUpdateDiff(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{RejectNoopUpdates: true})

	created, err := rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(testDevicePayload), "alice")
	assert.Nil(err)
	id := created.GetMeta().ID

	updated, err := rig.uut.Update(
		utCtx, models.CollectionDevices, id, json.RawMessage(`{"price":150,"location":"Room 1"}`), "bob",
	)
	assert.Nil(err)
	assert.Equal(150.0, updated.(*models.Device).Price)
	assert.True(updated.GetMeta().UpdatedAt.After(created.GetMeta().CreatedAt) ||
		updated.GetMeta().UpdatedAt.Equal(created.GetMeta().CreatedAt))
	assert.True(created.GetMeta().CreatedAt.Equal(updated.GetMeta().CreatedAt))

	entries, err := rig.history.Query(
		utCtx, store.HistoryQuery{Collection: models.CollectionDevices, RecordID: id},
	)
	assert.Nil(err)
	assert.Len(entries, 2)
	assert.Equal(models.AuditActionUpdate, entries[0].Action)
	assert.Equal("price", entries[0].Field)
	assert.Equal("100", string(entries[0].OldValue))
	assert.Equal("150", string(entries[0].NewValue))
	assert.Equal("bob", entries[0].User)

	// No-op update is rejected
	_, err = rig.uut.Update(
		utCtx, models.CollectionDevices, id, json.RawMessage(`{"price":150}`), "bob",
	)
	assert.ErrorIs(err, models.ErrValidationFailed)

	// Invalid update leaves the record alone
	_, err = rig.uut.Update(
		utCtx, models.CollectionDevices, id, json.RawMessage(`{"status":"misplaced"}`), "bob",
	)
	assert.ErrorIs(err, models.ErrValidationFailed)
	read, err := rig.uut.Get(utCtx, models.CollectionDevices, id)
	assert.Nil(err)
	assert.Equal(models.RecordStatusInUse, read.(*models.Device).Status)

	entries, err = rig.history.Query(
		utCtx, store.HistoryQuery{Collection: models.CollectionDevices, RecordID: id},
	)
	assert.Nil(err)
	assert.Len(entries, 2)
}

func TestCollectionStoreNoopUpdateAllowed(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	created, err := rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(testDevicePayload), "alice")
	assert.Nil(err)
	id := created.GetMeta().ID

	sub := rig.hub.Subscribe(10)
	result, err := rig.uut.Update(utCtx, models.CollectionDevices, id, json.RawMessage(`{"price":100}`), "bob")
	assert.Nil(err)
	assert.True(created.GetMeta().UpdatedAt.Equal(result.GetMeta().UpdatedAt))

	// Nothing written, nothing published
	entries, err := rig.history.Query(
		utCtx, store.HistoryQuery{Collection: models.CollectionDevices, RecordID: id},
	)
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.Len(sub.Events, 0)
}

func TestCollectionStoreDeleteFinality(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	created, err := rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(testDevicePayload), "alice")
	assert.Nil(err)
	id := created.GetMeta().ID

	assert.Nil(rig.uut.Delete(utCtx, models.CollectionDevices, id, "carol"))

	_, err = rig.uut.Get(utCtx, models.CollectionDevices, id)
	assert.ErrorIs(err, models.ErrNotFound)
	_, err = rig.uut.Update(utCtx, models.CollectionDevices, id, json.RawMessage(`{"price":1}`), "carol")
	assert.ErrorIs(err, models.ErrNotFound)
	assert.ErrorIs(rig.uut.Delete(utCtx, models.CollectionDevices, id, "carol"), models.ErrNotFound)

	entries, err := rig.history.Query(
		utCtx, store.HistoryQuery{Collection: models.CollectionDevices, RecordID: id},
	)
	assert.Nil(err)
	assert.Len(entries, 2)
	assert.Equal(models.AuditActionDelete, entries[0].Action)
	assert.Equal("carol", entries[0].User)
	var finalState models.Device
	assert.Nil(json.Unmarshal(entries[0].OldValue, &finalState))
	assert.Equal(id, finalState.ID)
}

func TestCollectionStoreBroadcastAfterCommit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	sub := rig.hub.Subscribe(10)

	// Observe the store from the subscriber side as soon as the event arrives
	visible := make(chan bool, 1)
	go func() {
		event, ok := <-sub.Events
		if !ok {
			visible <- false
			return
		}
		_, err := rig.uut.Get(utCtx, event.Collection, event.RecordID)
		visible <- err == nil && event.Action == models.ChangeActionCreate
	}()

	_, err := rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(testDevicePayload), "alice")
	assert.Nil(err)

	select {
	case ok := <-visible:
		assert.True(ok)
	case <-time.After(5 * time.Second):
		assert.Fail("no change event received")
	}

	// A failed write publishes nothing
	_, err = rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(`{}`), "alice")
	assert.Error(err)
	assert.Equal(1, rig.hub.SubscriberCount())
	assert.Len(sub.Events, 0)
}

func TestCollectionStoreConcurrentUpdateOrdering(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	created, err := rig.uut.Create(utCtx, models.CollectionDevices, json.RawMessage(testDevicePayload), "alice")
	assert.Nil(err)
	id := created.GetMeta().ID

	// Many writers, each bumping the same field by setting a distinct value
	writers := 10
	var wg sync.WaitGroup
	for idx := 0; idx < writers; idx++ {
		price := 200 + idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rig.uut.Update(
				utCtx,
				models.CollectionDevices,
				id,
				json.RawMessage(fmt.Sprintf(`{"price":%d,"notes":"writer %d"}`, price, price)),
				"writer",
			)
			assert.Nil(err)
		}()
	}
	wg.Wait()

	entries, err := rig.history.Query(
		utCtx, store.HistoryQuery{Collection: models.CollectionDevices, RecordID: id},
	)
	assert.Nil(err)

	// Replay the price entries oldest first; each diff's old value is its predecessor's
	// new value, and the final value is the committed state
	var priceChanges []models.AuditEntry
	for idx := len(entries) - 1; idx >= 0; idx-- {
		if entries[idx].Field == "price" {
			priceChanges = append(priceChanges, entries[idx])
		}
	}
	assert.Len(priceChanges, writers)
	assert.Equal("100", string(priceChanges[0].OldValue))
	for idx := 1; idx < len(priceChanges); idx++ {
		assert.Equal(string(priceChanges[idx-1].NewValue), string(priceChanges[idx].OldValue))
		assert.Less(priceChanges[idx-1].Seq, priceChanges[idx].Seq)
	}

	read, err := rig.uut.Get(utCtx, models.CollectionDevices, id)
	assert.Nil(err)
	finalPrice, err := json.Marshal(read.(*models.Device).Price)
	assert.Nil(err)
	assert.Equal(string(priceChanges[writers-1].NewValue), string(finalPrice))
}

func TestCollectionStoreCreateThenReadProperty(t *testing.T) {
	log.SetLevel(log.InfoLevel)
	defer log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	rig := newTestRig(t, store.Options{})

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25

	properties := gopter.NewProperties(parameters)

	properties.Property("create then get returns the input plus bookkeeping", prop.ForAll(
		func(name, category string, quantity int, price float64) bool {
			payload, err := json.Marshal(map[string]interface{}{
				"name": name, "category": category, "quantity": quantity, "status": "in_stock", "price": price,
			})
			if err != nil {
				return false
			}
			created, err := rig.uut.Create(utCtx, models.CollectionStorageItems, payload, "prop")
			if err != nil {
				return false
			}
			read, err := rig.uut.Get(utCtx, models.CollectionStorageItems, created.GetMeta().ID)
			if err != nil {
				return false
			}
			item, ok := read.(*models.StorageItem)
			return ok &&
				item.Name == name &&
				item.Category == category &&
				item.Quantity == quantity &&
				item.Price == price &&
				item.Status == models.RecordStatusInStock
		},
		gen.AlphaString().SuchThat(func(v string) bool { return v != "" }),
		gen.AlphaString().SuchThat(func(v string) bool { return v != "" }),
		gen.IntRange(0, 10000),
		gen.Float64Range(0, 1e6),
	))

	properties.TestingRun(t)
}

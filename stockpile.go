// Package stockpile - audited inventory data storage
package stockpile

import (
	"context"
	"fmt"

	"github.com/alwitt/stockpile/config"
	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/notify"
	"github.com/alwitt/stockpile/snapshot"
	"github.com/alwitt/stockpile/stats"
	"github.com/alwitt/stockpile/store"
	"github.com/alwitt/stockpile/writequeue"
	"github.com/apex/log"
	"gorm.io/gorm/logger"
)

// InventoryService every inventory component, wired together
type InventoryService struct {
	// Persistence persistence layer client
	Persistence db.Client
	// Notifier change notification hub
	Notifier *notify.Hub
	// Records collection store
	Records store.CollectionStore
	// History audit log reader
	History store.History
	// Snapshots snapshot manager
	Snapshots snapshot.Manager
	// Stats statistics aggregator
	Stats stats.Aggregator

	writers   *writequeue.Manager
	scheduler *snapshot.Scheduler
}

var sqlLogLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

/*
OpenDatabase connect to the configured database

	@param cfg config.DatabaseConfig - database settings
	@returns persistence client
*/
func OpenDatabase(cfg config.DatabaseConfig) (db.Client, error) {
	dialector, err := db.GetDialector(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}
	pool := db.ConnectionPoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: config.Duration(cfg.ConnMaxLifetime),
	}
	if cfg.Type == db.DatabaseTypeSqlite {
		pool.MaxOpenConns = 1
	}
	return db.NewConnection(dialector, sqlLogLevels[cfg.SQLLogLevel], pool)
}

/*
exportSinks define the snapshot export sinks enabled by the configuration

	@param ctx context.Context - execution context
	@param cfg config.SnapshotConfig - snapshot settings
	@returns the sinks
*/
func exportSinks(ctx context.Context, cfg config.SnapshotConfig) ([]snapshot.ExportSink, error) {
	sinks := []snapshot.ExportSink{}
	if cfg.ExportDir != "" {
		sink, err := snapshot.NewDirectorySink(cfg.ExportDir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.S3.Bucket != "" {
		sink, err := snapshot.NewS3Sink(ctx, snapshot.S3SinkConfig{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

/*
NewInventoryService initialize an inventory service instance

The database schema is brought up to date, and the snapshot schedule, if any, is
started.

	@param ctx context.Context - execution context
	@param cfg *config.Config - service configuration
	@returns new service instance
*/
func NewInventoryService(ctx context.Context, cfg *config.Config) (*InventoryService, error) {
	// Prepare persistence
	persistence, err := OpenDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}
	if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
		_ = persistence.Close()
		return nil, fmt.Errorf("failed to prepare database schema [%w]", err)
	}

	hub := notify.NewHub()
	gate := store.NewWriteGate()
	writers := writequeue.New(&writequeue.Config{
		QueueCapacity: cfg.WriteQueue.Capacity,
		WriteTimeout:  config.Duration(cfg.WriteQueue.Timeout),
		IdleTimeout:   config.Duration(cfg.WriteQueue.IdleTime),
	})

	service := &InventoryService{
		Persistence: persistence,
		Notifier:    hub,
		History:     store.NewHistory(persistence, cfg.Store.HistoryWindow),
		Stats:       stats.NewAggregator(persistence),
		writers:     writers,
	}

	fail := func(err error) (*InventoryService, error) {
		_ = service.Close(ctx)
		return nil, err
	}

	service.Records, err = store.NewCollectionStore(
		persistence, gate, writers, hub, store.Options{RejectNoopUpdates: cfg.Store.RejectNoopUpdates},
	)
	if err != nil {
		return fail(fmt.Errorf("failed to initialized collection store [%w]", err))
	}

	sinks, err := exportSinks(ctx, cfg.Snapshot)
	if err != nil {
		return fail(fmt.Errorf("failed to initialized snapshot export [%w]", err))
	}
	service.Snapshots, err = snapshot.NewManager(persistence, gate, hub, snapshot.Options{
		MaxSnapshots: cfg.Snapshot.MaxSnapshots,
		AuditPolicy:  snapshot.AuditPolicy(cfg.Snapshot.AuditPolicy),
		Sinks:        sinks,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to initialized snapshot manager [%w]", err))
	}

	if cfg.Snapshot.Schedule != "" {
		service.scheduler, err = snapshot.NewScheduler(service.Snapshots, cfg.Snapshot.Schedule)
		if err != nil {
			return fail(fmt.Errorf("failed to initialized snapshot scheduler [%w]", err))
		}
		service.scheduler.Start()
	}

	return service, nil
}

/*
Close stop the service. Scheduled snapshots stop, queued writes drain, observers are
disconnected, and the database connections are released.

	@param ctx context.Context - bounds the wait for in-flight work
*/
func (s *InventoryService) Close(ctx context.Context) error {
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			log.WithError(err).Warn("Snapshot scheduler did not stop in time")
		}
	}
	if err := s.writers.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Write queues did not drain in time")
	}
	s.Notifier.Close()
	return s.Persistence.Close()
}

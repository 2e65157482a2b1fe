package stockpile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
)

// LeaseRenewInterval how often a running server renews its lease
const LeaseRenewInterval = 10 * time.Second

// LeaseTTL a lease not renewed within this long is stale
const LeaseTTL = 3 * LeaseRenewInterval

/*
ServiceLeaseHolder keeps a service lease alive while an API server runs

Offline administration commands run with their own write gate and notification hub, so
they refuse to change the database while a live lease exists.
*/
type ServiceLeaseHolder struct {
	goutils.Component
	persistence db.Client
	lease       models.ServiceLease
	timer       goutils.IntervalTimer
	wg          sync.WaitGroup
}

/*
AcquireServiceLease record a lease for this process, and renew it in the background
until released

	@param ctx context.Context - execution context
	@param persistence db.Client - persistence client
	@param listenAddress string - the API listen address, for operators
	@returns the lease holder
*/
func AcquireServiceLease(
	ctx context.Context, persistence db.Client, listenAddress string,
) (*ServiceLeaseHolder, error) {
	host, _ := os.Hostname()
	lease := models.ServiceLease{
		ID:            ulid.Make().String(),
		Host:          host,
		PID:           os.Getpid(),
		ListenAddress: listenAddress,
	}
	logTags := log.Fields{
		"package": "stockpile", "module": "stockpile", "component": "service-lease", "lease": lease.ID,
	}

	holder := &ServiceLeaseHolder{
		Component:   goutils.Component{LogTags: logTags},
		persistence: persistence,
		lease:       lease,
	}
	if err := holder.renew(ctx); err != nil {
		return nil, fmt.Errorf("failed to record service lease [%w]", err)
	}

	timer, err := goutils.GetIntervalTimerInstance(context.Background(), &holder.wg, logTags)
	if err != nil {
		return nil, fmt.Errorf("failed to define lease renewal timer [%w]", err)
	}
	holder.timer = timer
	if err := timer.Start(LeaseRenewInterval, func() error {
		return holder.renew(context.Background())
	}, false); err != nil {
		return nil, fmt.Errorf("failed to start lease renewal [%w]", err)
	}

	log.WithFields(logTags).WithField("host", host).Info("Holding service lease")
	return holder, nil
}

// renew refresh the lease heartbeat
func (h *ServiceLeaseHolder) renew(ctx context.Context) error {
	lease := h.lease
	lease.HeartbeatAt = time.Now().UTC()
	return h.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.RenewServiceLease(dbCtx, lease)
		},
	)
}

/*
Release stop renewing the lease and drop it

	@param ctx context.Context - execution context
*/
func (h *ServiceLeaseHolder) Release(ctx context.Context) error {
	_ = h.timer.Stop()
	h.wg.Wait()
	if err := h.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.ReleaseServiceLease(dbCtx, h.lease.ID)
		},
	); err != nil {
		return err
	}
	log.WithFields(h.LogTags).Info("Released service lease")
	return nil
}

/*
EnsureNoLiveServer fail with ErrServiceRunning when an API server holds a live lease
on the database

	@param ctx context.Context - execution context
	@param persistence db.Client - persistence client
*/
func EnsureNoLiveServer(ctx context.Context, persistence db.Client) error {
	var live []models.ServiceLease
	if err := persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			live, err = dbClient.ListLiveServiceLeases(dbCtx, time.Now().UTC().Add(-LeaseTTL))
			return err
		},
	); err != nil {
		return fmt.Errorf("failed to check for a running server [%w]", err)
	}
	if len(live) > 0 {
		return fmt.Errorf(
			"%w: %s pid %d listening on '%s'; use the API instead",
			models.ErrServiceRunning, live[0].Host, live[0].PID, live[0].ListenAddress,
		)
	}
	return nil
}

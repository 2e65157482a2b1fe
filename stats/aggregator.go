// Package stats - derived inventory statistics
package stats

import (
	"context"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// Aggregator computes statistics across the collections on demand
type Aggregator interface {
	/*
		Compute derive counts and money totals from the committed collections

			@param ctx context.Context - execution context
			@returns the statistics
	*/
	Compute(ctx context.Context) (models.Statistics, error)
}

// aggregatorImpl implements Aggregator
type aggregatorImpl struct {
	goutils.Component
	persistence db.Client
}

/*
NewAggregator define new statistics aggregator

	@param persistence db.Client - persistence layer client
	@returns aggregator
*/
func NewAggregator(persistence db.Client) Aggregator {
	logTags := log.Fields{"package": "stockpile", "module": "stats", "component": "aggregator"}
	return &aggregatorImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
	}
}

func optional(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}

// valueAndStatus monetary value and status of one record
func valueAndStatus(record models.Record) (float64, models.RecordStatusENUMType) {
	switch r := record.(type) {
	case *models.Device:
		return r.Price + optional(r.MonitorPrice) + optional(r.UPSPrice) + optional(r.PeripheralsPrice), r.Status
	case *models.NetworkDevice:
		return r.Price, r.Status
	case *models.StorageItem:
		return r.Price * float64(r.Quantity), r.Status
	case *models.Employee:
		return 0, r.Status
	case *models.MFU:
		return r.Price + optional(r.CartridgePrice), r.Status
	case *models.ServerEquipment:
		return r.Price + optional(r.ComponentsPrice), r.Status
	}
	return 0, ""
}

/*
Summarize derive the statistics of one collection

	@param records []models.Record - records of one collection
	@returns the statistics
*/
func Summarize(records []models.Record) models.CollectionStatistics {
	result := models.CollectionStatistics{ByStatus: map[models.RecordStatusENUMType]int{}}
	for _, record := range records {
		value, status := valueAndStatus(record)
		result.Total++
		result.TotalValue += value
		if status != "" {
			result.ByStatus[status]++
		}
	}
	return result
}

/*
Compute derive counts and money totals from the committed collections

Collections are read in parallel. A collection which fails to read is logged and
reported with zeros.

	@param ctx context.Context - execution context
	@returns the statistics
*/
func (a *aggregatorImpl) Compute(ctx context.Context) (models.Statistics, error) {
	logTags := a.GetLogTagsForContext(ctx)

	result := models.Statistics{Collections: map[models.Collection]models.CollectionStatistics{}}
	var lock sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, collection := range models.RecordCollections {
		group.Go(func() error {
			var records []models.Record
			if err := a.persistence.UseDatabase(
				groupCtx, func(dbCtx context.Context, dbClient db.Database) error {
					var err error
					records, err = dbClient.ListRecords(dbCtx, collection)
					return err
				},
			); err != nil {
				log.WithError(err).
					WithFields(logTags).
					WithField("collection", collection).
					Error("Failed to read collection for statistics")
				records = nil
			}
			summary := Summarize(records)

			lock.Lock()
			defer lock.Unlock()
			result.Collections[collection] = summary
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return models.Statistics{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Statistics{}, err
	}

	for _, summary := range result.Collections {
		result.TotalRecords += summary.Total
		result.TotalValue += summary.TotalValue
	}
	return result, nil
}

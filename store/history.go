package store

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/db"
	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
)

// DefaultHistoryWindow number of entries returned by an unfiltered history query
const DefaultHistoryWindow = 100

// HistoryQuery audit log query parameters
type HistoryQuery struct {
	// Collection limit to one collection
	Collection models.Collection
	// RecordID limit to one record
	RecordID string
	// Limit max number of entries; zero selects the default for the query shape
	Limit int
}

// History read access to the audit log
type History interface {
	/*
		Query read audit entries, newest first

		With no filter, returns the recent global history, never more than the history
		window. With a collection, returns that collection's history, up to the window
		unless a larger limit is given. With a record ID, returns the full history of that
		record unless a limit is given.

			@param ctx context.Context - execution context
			@param query HistoryQuery - query parameters
			@returns the entries
	*/
	Query(ctx context.Context, query HistoryQuery) ([]models.AuditEntry, error)
}

// historyImpl implements History
type historyImpl struct {
	goutils.Component
	persistence db.Client
	window      int
}

/*
NewHistory define new audit log reader

	@param persistence db.Client - persistence layer client
	@param window int - size of the unfiltered history window
	@returns reader instance
*/
func NewHistory(persistence db.Client, window int) History {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	logTags := log.Fields{"package": "stockpile", "module": "store", "component": "history"}
	return &historyImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		window:      window,
	}
}

/*
Query read audit entries, newest first

	@param ctx context.Context - execution context
	@param query HistoryQuery - query parameters
	@returns the entries
*/
func (h *historyImpl) Query(
	ctx context.Context, query HistoryQuery,
) ([]models.AuditEntry, error) {
	if query.Limit < 0 {
		return nil, fmt.Errorf("history limit can't be negative [%w]", models.ErrValidationFailed)
	}

	filter := db.AuditEntryQueryFilter{NewestFirst: true}
	limit := query.Limit

	if query.Collection != "" {
		if err := checkCollection(query.Collection); err != nil {
			return nil, err
		}
		collection := query.Collection
		filter.TargetCollection = &collection
	}
	if query.RecordID != "" {
		recordID := query.RecordID
		filter.TargetRecordID = &recordID
	}

	switch {
	case query.RecordID != "":
		// Full history of one record
	case query.Collection != "":
		if limit == 0 {
			limit = h.window
		}
	default:
		if limit == 0 || limit > h.window {
			limit = h.window
		}
	}
	if limit > 0 {
		filter.Limit = &limit
	}

	var entries []models.AuditEntry
	if err := h.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			entries, err = dbClient.ListAuditEntries(dbCtx, filter)
			return err
		},
	); err != nil {
		return nil, fmt.Errorf("failed to query history [%w]", err)
	}
	return entries, nil
}

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/alwitt/stockpile/models"
	"github.com/alwitt/stockpile/store"
	"github.com/gin-gonic/gin"
)

// SuccessResponse body of operations with nothing else to report
type SuccessResponse struct {
	Success bool `json:"success"`
}

// collectionParam the target collection. The history pseudo collection is read-only.
func collectionParam(c *gin.Context, mutating bool) (models.Collection, error) {
	collection := models.Collection(c.Param("collection"))
	if mutating && collection == models.CollectionHistory {
		return "", fmt.Errorf("history is read-only [%w]", models.ErrValidationFailed)
	}
	return collection, nil
}

// historyQueryOf read the history query parameters
func historyQueryOf(c *gin.Context) (store.HistoryQuery, error) {
	query := store.HistoryQuery{
		Collection: models.Collection(c.Query("collection")),
		RecordID:   c.Query("recordId"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return store.HistoryQuery{}, fmt.Errorf(
				"limit '%s' is not a number [%w]", raw, models.ErrValidationFailed,
			)
		}
		query.Limit = limit
	}
	return query, nil
}

// readBody read the JSON request body
func readBody(c *gin.Context) ([]byte, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body [%w]", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("request body is empty [%w]", models.ErrValidationFailed)
	}
	return body, nil
}

// listCollection GET /api/v1/collections/:collection
func (h *handlers) listCollection(c *gin.Context) {
	collection, _ := collectionParam(c, false)
	if collection == models.CollectionHistory {
		h.queryHistory(c)
		return
	}
	records, err := h.service.Records.List(c.Request.Context(), collection)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// getRecord GET /api/v1/collections/:collection/:id
func (h *handlers) getRecord(c *gin.Context) {
	collection, _ := collectionParam(c, false)
	record, err := h.service.Records.Get(c.Request.Context(), collection, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// createRecord POST /api/v1/collections/:collection
func (h *handlers) createRecord(c *gin.Context) {
	collection, err := collectionParam(c, true)
	if err != nil {
		abortWithError(c, err)
		return
	}
	body, err := readBody(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	record, err := h.service.Records.Create(c.Request.Context(), collection, body, actingUserOf(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// updateRecord PUT /api/v1/collections/:collection/:id
func (h *handlers) updateRecord(c *gin.Context) {
	collection, err := collectionParam(c, true)
	if err != nil {
		abortWithError(c, err)
		return
	}
	body, err := readBody(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	record, err := h.service.Records.Update(
		c.Request.Context(), collection, c.Param("id"), body, actingUserOf(c),
	)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// deleteRecord DELETE /api/v1/collections/:collection/:id
func (h *handlers) deleteRecord(c *gin.Context) {
	collection, err := collectionParam(c, true)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.service.Records.Delete(
		c.Request.Context(), collection, c.Param("id"), actingUserOf(c),
	); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// queryHistory GET /api/v1/history
func (h *handlers) queryHistory(c *gin.Context) {
	query, err := historyQueryOf(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	entries, err := h.service.History.Query(c.Request.Context(), query)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// getStats GET /api/v1/stats
func (h *handlers) getStats(c *gin.Context) {
	result, err := h.service.Stats.Compute(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

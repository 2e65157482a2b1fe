package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/alwitt/stockpile/models"
	"github.com/alwitt/stockpile/snapshot"
	"github.com/gin-gonic/gin"
)

// CreateSnapshotRequest body of POST /api/v1/backups
type CreateSnapshotRequest struct {
	// Name snapshot name; empty selects a timestamped name
	Name string `json:"name"`
}

// listSnapshots GET /api/v1/backups
func (h *handlers) listSnapshots(c *gin.Context) {
	result, err := h.service.Snapshots.ListSnapshots(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// createSnapshot POST /api/v1/backups
func (h *handlers) createSnapshot(c *gin.Context) {
	var request CreateSnapshotRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			abortWithError(c, fmt.Errorf("request is malformed [%w: %s]", models.ErrValidationFailed, err))
			return
		}
	}
	meta, err := h.service.Snapshots.CreateSnapshot(c.Request.Context(), request.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// readSnapshot GET /api/v1/backups/:name
func (h *handlers) readSnapshot(c *gin.Context) {
	contents, err := h.service.Snapshots.ReadSnapshotContents(c.Request.Context(), c.Param("name"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, contents)
}

// exportSnapshot GET /api/v1/backups/:name/export
func (h *handlers) exportSnapshot(c *gin.Context) {
	name := c.Param("name")
	var payload bytes.Buffer
	if _, err := h.service.Snapshots.ExportSnapshot(c.Request.Context(), name, &payload); err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, snapshot.FileNameOf(name)))
	c.Data(http.StatusOK, "application/gzip", payload.Bytes())
}

// restoreSnapshot POST /api/v1/backups/:name/restore
func (h *handlers) restoreSnapshot(c *gin.Context) {
	if err := h.service.Snapshots.Restore(
		c.Request.Context(), c.Param("name"), actingUserOf(c),
	); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// deleteSnapshot DELETE /api/v1/backups/:name
func (h *handlers) deleteSnapshot(c *gin.Context) {
	if err := h.service.Snapshots.DeleteSnapshot(c.Request.Context(), c.Param("name")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// readImport read an import body, bounded by the configured limit
func (h *handlers) readImport(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.options.MaxImportSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf(
				"import exceeds %d bytes [%w]", h.options.MaxImportSize, errPayloadTooLarge,
			)
		}
		return nil, fmt.Errorf("failed to read import [%w]", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("import is empty [%w]", models.ErrValidationFailed)
	}
	return body, nil
}

// importDump POST /api/v1/import
func (h *handlers) importDump(c *gin.Context) {
	body, err := h.readImport(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	report, err := h.service.Snapshots.ImportExternal(c.Request.Context(), body, actingUserOf(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// previewImport POST /api/v1/import/preview
func (h *handlers) previewImport(c *gin.Context) {
	body, err := h.readImport(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	preview, err := h.service.Snapshots.PreviewImport(c.Request.Context(), body)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

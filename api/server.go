// Package api - inventory REST API and change notification channel
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// Options API settings
type Options struct {
	// SubscriberBuffer change events buffered per websocket observer
	SubscriberBuffer int
	// MaxImportSize largest accepted import body in bytes
	MaxImportSize int64
}

// handlers request handlers over one inventory service
type handlers struct {
	goutils.Component
	service *stockpile.InventoryService
	options Options
}

/*
NewRouter define the HTTP router over an inventory service

	@param service *stockpile.InventoryService - the service
	@param options Options - API settings
	@returns the router
*/
func NewRouter(service *stockpile.InventoryService, options Options) *gin.Engine {
	if options.MaxImportSize <= 0 {
		options.MaxImportSize = 64 << 20
	}

	logTags := log.Fields{"package": "stockpile", "module": "api", "component": "router"}
	h := &handlers{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		service: service,
		options: options,
	}

	promMetrics := newMetrics(service.Notifier)
	go promMetrics.observe(service.Notifier, logTags)

	events := newEventStream(service.Notifier, options.SubscriberBuffer)

	router := gin.New()
	router.Use(requestParams(), recovery(logTags), accessLog(logTags), promMetrics.countRequests())

	router.GET("/healthz", h.health)
	router.GET("/metrics", promMetrics.handler())

	v1 := router.Group("/api/v1", resolveRole())
	{
		v1.GET("/collections/:collection", h.listCollection)
		v1.GET("/collections/:collection/:id", h.getRecord)
		v1.POST("/collections/:collection", requireAdmin(), h.createRecord)
		v1.PUT("/collections/:collection/:id", requireAdmin(), h.updateRecord)
		v1.DELETE("/collections/:collection/:id", requireAdmin(), h.deleteRecord)

		v1.GET("/history", h.queryHistory)
		v1.GET("/stats", h.getStats)

		v1.GET("/backups", h.listSnapshots)
		v1.POST("/backups", requireAdmin(), h.createSnapshot)
		v1.GET("/backups/:name", h.readSnapshot)
		v1.GET("/backups/:name/export", h.exportSnapshot)
		v1.POST("/backups/:name/restore", requireAdmin(), h.restoreSnapshot)
		v1.DELETE("/backups/:name", requireAdmin(), h.deleteSnapshot)

		v1.POST("/import", requireAdmin(), h.importDump)
		v1.POST("/import/preview", h.previewImport)

		v1.GET("/events", events.serve)
	}

	router.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
			Error: "no such route", RequestID: requestIDOf(c),
		})
	})

	return router
}

// health GET /healthz
func (h *handlers) health(c *gin.Context) {
	if err := h.service.Persistence.Ping(c.Request.Context()); err != nil {
		log.WithError(err).WithFields(h.GetLogTagsForContext(c.Request.Context())).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

/*
Serve run the HTTP server until the context is cancelled, then shut it down gracefully

	@param ctx context.Context - server lifetime
	@param cfg ServerConfig - server settings
	@param handler http.Handler - the router
*/
func Serve(ctx context.Context, cfg ServerConfig, handler http.Handler) error {
	logTags := log.Fields{"package": "stockpile", "module": "api", "component": "server"}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logTags).WithField("listen", cfg.ListenAddress).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed [%w]", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.WithFields(logTags).Info("HTTP server stopping")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed [%w]", err)
	}
	return nil
}

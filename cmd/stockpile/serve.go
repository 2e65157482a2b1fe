package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alwitt/stockpile"
	"github.com/alwitt/stockpile/api"
	"github.com/alwitt/stockpile/config"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the inventory API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withService(ctx, func(cfg *config.Config, service *stockpile.InventoryService) error {
				lease, err := stockpile.AcquireServiceLease(ctx, service.Persistence, cfg.API.ListenAddress)
				if err != nil {
					return err
				}
				defer func() {
					if err := lease.Release(context.Background()); err != nil {
						log.WithError(err).Warn("Service lease was not released")
					}
				}()

				if cfg.Log.Level != "debug" {
					gin.SetMode(gin.ReleaseMode)
				}
				router := api.NewRouter(service, api.Options{
					SubscriberBuffer: cfg.API.SubscriberBuffer,
					MaxImportSize:    cfg.API.MaxImportSize,
				})
				return api.Serve(ctx, api.ServerConfig{
					ListenAddress: cfg.API.ListenAddress,
					ReadTimeout:   config.Duration(cfg.API.ReadTimeout),
					WriteTimeout:  config.Duration(cfg.API.WriteTimeout),
				}, router)
			})
		},
	})
}

// Package main - stockpile inventory service and administration CLI
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alwitt/stockpile"
	"github.com/alwitt/stockpile/config"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configFile string
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:           "stockpile",
	Short:         "Audited inventory store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&flags.configFile, "config", "c", "stockpile.yaml", "configuration file; absent means defaults",
	)
}

/*
loadConfig read the configuration and set up logging from it

	@returns the configuration
*/
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Log.JSON {
		log.SetHandler(json.New(os.Stderr))
	} else {
		log.SetHandler(cli.New(os.Stderr))
	}
	log.SetLevelFromString(cfg.Log.Level)
	return cfg, nil
}

/*
withService run a command body against a fully wired inventory service

	@param ctx context.Context - execution context
	@param body func(cfg *config.Config, service *stockpile.InventoryService) error - command body
*/
func withService(
	ctx context.Context, body func(cfg *config.Config, service *stockpile.InventoryService) error,
) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	service, err := stockpile.NewInventoryService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := service.Close(ctx); err != nil {
			log.WithError(err).Warn("Service did not close cleanly")
		}
	}()
	return body(cfg, service)
}

/*
withOfflineService run a mutating command body against a locally wired inventory service

The local service has its own write gate and notification hub. The command is refused
while an API server holds a live lease on the same database, since the server would
neither be paused by the change nor broadcast it to its observers.

	@param ctx context.Context - execution context
	@param body func(cfg *config.Config, service *stockpile.InventoryService) error - command body
*/
func withOfflineService(
	ctx context.Context, body func(cfg *config.Config, service *stockpile.InventoryService) error,
) error {
	return withService(ctx, func(cfg *config.Config, service *stockpile.InventoryService) error {
		if err := stockpile.EnsureNoLiveServer(ctx, service.Persistence); err != nil {
			return err
		}
		return body(cfg, service)
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alwitt/stockpile"
	"github.com/alwitt/stockpile/config"
	"github.com/spf13/cobra"
)

type importFlags struct {
	user    string
	preview bool
}

func init() {
	iFlags := new(importFlags)

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace every collection with a full dump; '-' reads stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			var err error
			if args[0] == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read %s [%w]", args[0], err)
			}

			run := withOfflineService
			if iFlags.preview {
				run = withService
			}
			return run(cmd.Context(), func(_ *config.Config, service *stockpile.InventoryService) error {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if iFlags.preview {
					preview, err := service.Snapshots.PreviewImport(cmd.Context(), payload)
					if err != nil {
						return err
					}
					return encoder.Encode(preview)
				}
				report, err := service.Snapshots.ImportExternal(cmd.Context(), payload, iFlags.user)
				if err != nil {
					return err
				}
				return encoder.Encode(report)
			})
		},
	}
	importCmd.Flags().StringVarP(&iFlags.user, "user", "u", "cli", "acting user recorded for the import")
	importCmd.Flags().BoolVar(&iFlags.preview, "preview", false, "compare against live state without applying")

	rootCmd.AddCommand(importCmd)
}

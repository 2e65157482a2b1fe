package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alwitt/stockpile"
	"github.com/alwitt/stockpile/config"
	"github.com/alwitt/stockpile/snapshot"
	"github.com/apex/log"
	"github.com/spf13/cobra"
)

type snapshotFlags struct {
	user   string
	output string
}

func init() {
	sFlags := new(snapshotFlags)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage inventory snapshots",
	}
	snapshotCmd.PersistentFlags().StringVarP(&sFlags.user, "user", "u", "cli", "acting user recorded for restores")

	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Capture every collection into a new snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withOfflineService(cmd.Context(), func(_ *config.Config, service *stockpile.InventoryService) error {
				meta, err := service.Snapshots.CreateSnapshot(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d records\t%d bytes\n", meta.Name, meta.RecordCount, meta.Size)
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), func(_ *config.Config, service *stockpile.InventoryService) error {
				all, err := service.Snapshots.ListSnapshots(cmd.Context())
				if err != nil {
					return err
				}
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "NAME\tCREATED\tRECORDS\tSIZE")
				for _, meta := range all {
					fmt.Fprintf(
						writer, "%s\t%s\t%d\t%d\n",
						meta.Name, meta.CreatedAt.Format(time.RFC3339), meta.RecordCount, meta.Size,
					)
				}
				return writer.Flush()
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print the contents of a snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(_ *config.Config, service *stockpile.InventoryService) error {
				contents, err := service.Snapshots.ReadSnapshotContents(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(contents)
			})
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace every collection with the contents of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineService(cmd.Context(), func(_ *config.Config, service *stockpile.InventoryService) error {
				if err := service.Snapshots.Restore(cmd.Context(), args[0], sFlags.user); err != nil {
					return err
				}
				log.WithField("snapshot", args[0]).Info("Snapshot restored")
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Permanently remove a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineService(cmd.Context(), func(_ *config.Config, service *stockpile.InventoryService) error {
				return service.Snapshots.DeleteSnapshot(cmd.Context(), args[0])
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Write a snapshot as gzip compressed JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(_ *config.Config, service *stockpile.InventoryService) error {
				var out io.Writer = cmd.OutOrStdout()
				target := sFlags.output
				if target == "" {
					target = snapshot.FileNameOf(args[0])
				}
				if target != "-" {
					file, err := os.Create(target)
					if err != nil {
						return fmt.Errorf("failed to create %s [%w]", target, err)
					}
					defer func() { _ = file.Close() }()
					out = file
				}
				meta, err := service.Snapshots.ExportSnapshot(cmd.Context(), args[0], out)
				if err != nil {
					return err
				}
				log.WithField("snapshot", meta.Name).WithField("target", target).Info("Snapshot exported")
				return nil
			})
		},
	}
	exportCmd.Flags().StringVarP(&sFlags.output, "output", "o", "", "target file; '-' writes to stdout")

	snapshotCmd.AddCommand(createCmd, listCmd, showCmd, restoreCmd, deleteCmd, exportCmd)
	rootCmd.AddCommand(snapshotCmd)
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stitchdesk/stitchdesk/internal/client"
	"github.com/stitchdesk/stitchdesk/internal/model"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect and manage stored files",
	}

	filesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stored file (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				files, err := cl.ListFiles(cmd.Context())
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No files stored")
					return nil
				}
				for _, f := range files {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			})
		},
	})

	filesCmd.AddCommand(&cobra.Command{
		Use:   "info <file-url>",
		Short: "Show everything stored for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			colorize := shouldColorize(cmd.OutOrStdout())
			return ctx.withClient(func(cl *client.Client) error {
				rec, err := cl.FileInfo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Owner", rec.Owner},
					{"Visibility", string(rec.Visibility)},
					{"Stage", colorStage(rec.Status.Stage, colorize)},
					{"Status", rec.Status.Status},
					{"Progress", strconv.Itoa(rec.Progress) + "%"},
					{"Updated", formatTimestamp(rec.Status.Timestamp)},
					{"PES", optional(rec.Status.PesURL)},
					{"DST", optional(rec.Status.DstURL)},
					{"Versions", strconv.Itoa(len(rec.Versions))},
					{"Downloads", strconv.FormatInt(rec.Downloads.Count, 10)},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", rec.URL}, rows, nil))
				return nil
			})
		},
	})

	filesCmd.AddCommand(&cobra.Command{
		Use:   "visibility <file-url> <public|private>",
		Short: "Change who may fetch a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := model.Visibility(args[1])
			if !v.Valid() {
				return fmt.Errorf("invalid visibility %q", args[1])
			}
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.SetVisibility(cmd.Context(), args[0], v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Visibility set to %s\n", v)
				return nil
			})
		},
	})

	filesCmd.AddCommand(&cobra.Command{
		Use:   "delete <file-url>",
		Short: "Delete a file and everything recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.DeleteFile(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "File deleted")
				return nil
			})
		},
	})

	filesCmd.AddCommand(&cobra.Command{
		Use:   "clean-up",
		Short: "Run the retention sweep now (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				report, err := cl.CleanUp(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Message)
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Deleted", "Notified", "Reconciled"},
					[][]string{{
						strconv.Itoa(report.Deleted),
						strconv.Itoa(report.Notified),
						strconv.Itoa(report.Reconciled),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	})

	return filesCmd
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stitchdesk/stitchdesk/internal/client"
)

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <file-url>",
		Short: "List or restore the versions of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				versions, err := cl.Versions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(versions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No versions recorded")
					return nil
				}
				rows := make([][]string, 0, len(versions))
				for _, v := range versions {
					rows = append(rows, []string{
						strconv.FormatInt(v.Version, 10),
						formatTimestamp(time.UnixMilli(v.Version)),
						v.FileURL,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Version", "Saved", "File"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save <file-url>",
		Short: "Record the current file as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				version, err := cl.SaveVersion(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved version %d\n", version)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback <file-url> <version>",
		Short: "Print the file recorded for a version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[1])
			}
			return ctx.withClient(func(cl *client.Client) error {
				restored, err := cl.Rollback(cmd.Context(), args[0], version)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), restored)
				return nil
			})
		},
	})

	return cmd
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stitchdesk/stitchdesk/internal/client"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload artwork or stitch files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]client.UploadFile, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()

				size := int64(-1)
				if info, err := f.Stat(); err == nil {
					size = info.Size()
				}
				files = append(files, client.UploadFile{Name: filepath.Base(path), Body: f, Size: size})
			}

			var progress client.UploadProgress
			if stderr := cmd.ErrOrStderr(); shouldColorize(stderr) {
				progress = func(name string, sent, size int64) {
					if size > 0 {
						fmt.Fprintf(stderr, "\r%s %d%%", name, sent*100/size)
						if sent == size {
							fmt.Fprintln(stderr)
						}
					}
				}
			}

			return ctx.withClient(func(cl *client.Client) error {
				uploaded, err := cl.Upload(cmd.Context(), files, progress)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(uploaded))
				for _, u := range uploaded {
					rows = append(rows, []string{u.URL, formatTimestamp(u.ExpiryDate)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"URL", "Expires"}, rows, nil))
				return nil
			})
		},
	}
}

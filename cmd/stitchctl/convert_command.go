package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/stitchdesk/stitchdesk/internal/client"
	"github.com/stitchdesk/stitchdesk/internal/poller"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "convert <file-url>",
		Short: "Convert an uploaded image into embroidery files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fileURL := args[0]

			return ctx.withClient(func(cl *client.Client) error {
				var wg sync.WaitGroup
				stop := func() {}
				if follow {
					stderr := cmd.ErrOrStderr()
					colorize := shouldColorize(stderr)
					p := poller.New(cl,
						poller.WithInterval(cfg.pollInterval),
						poller.WithCallback(func(e poller.Entry) {
							fmt.Fprintln(stderr, renderUpdate(e, colorize))
						}),
					)
					p.Track(fileURL)

					var runCtx context.Context
					runCtx, stop = context.WithCancel(cmd.Context())
					wg.Go(func() {
						_ = p.Run(runCtx)
					})
				}

				res, err := cl.Convert(cmd.Context(), fileURL)
				stop()
				wg.Wait()
				if err != nil {
					return err
				}

				rows := [][]string{
					{"pes", optional(res.PesURL)},
					{"dst", optional(res.DstURL)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Format", "URL"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Print status updates while the conversion runs")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stitchdesk/stitchdesk/internal/client"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/poller"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <file-url>...",
		Short: "Show the conversion status of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			colorize := shouldColorize(cmd.OutOrStdout())
			return ctx.withClient(func(cl *client.Client) error {
				rows := make([][]string, 0, len(args))
				for _, fileURL := range args {
					p, err := cl.Progress(cmd.Context(), fileURL)
					if err != nil {
						return fmt.Errorf("%s: %w", fileURL, err)
					}
					ts := "-"
					if p.Timestamp != nil {
						ts = formatTimestamp(*p.Timestamp)
					}
					rows = append(rows, []string{
						fileURL,
						colorStage(p.Stage, colorize),
						p.Status,
						strconv.Itoa(p.Progress) + "%",
						ts,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"URL", "Stage", "Status", "Progress", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file-url>...",
		Short: "Follow files until every one is done or failed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			return ctx.withClient(func(cl *client.Client) error {
				p := poller.New(cl,
					poller.WithInterval(cfg.pollInterval),
					poller.WithExitWhenSettled(),
					poller.WithCallback(func(e poller.Entry) {
						fmt.Fprintln(out, renderUpdate(e, colorize))
					}),
				)
				for _, fileURL := range args {
					p.Track(fileURL)
				}

				// first read without waiting a full interval
				p.Poll(cmd.Context())
				if !p.Settled() {
					if err := p.Run(cmd.Context()); err != nil {
						return err
					}
				}
				if err := cmd.Context().Err(); err != nil {
					return err
				}

				var failed int
				for _, e := range p.Entries() {
					if e.Stage == model.StageError {
						failed++
					}
				}
				if failed > 0 {
					return errors.New(strconv.Itoa(failed) + " file(s) failed")
				}
				return nil
			})
		},
	}
}

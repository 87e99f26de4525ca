package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/events"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Stream history changes until interrupted",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			asJSON := v.GetBool("json")
			err := newClient(v).Watch(ctx, func(ev events.Event) {
				if asJSON {
					_ = printJSON(out, ev)
					return
				}
				fmt.Fprintln(out, formatEvent(ev))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Bool("json", false, "print one JSON object per event")
	addClientFlags(cmd)
	return cmd
}

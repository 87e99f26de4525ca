package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/history"
	"go.klb.dev/clipvault/internal/message"
)

func newSettingsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "settings",
		Short:   "Show the daemon's settings",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := fetchSettings(cmd, v)
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), st)
			}
			return printSettings(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().Bool("json", false, "print JSON")
	addClientFlags(cmd)

	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more settings",
		Long: `Only the flags given are changed; everything else keeps its current value.

  clipvault settings set --history-limit 500
  clipvault settings set --deny org.keepassxc.KeePassXC
  clipvault settings set --allow com.lastpass.LastPass`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := fetchSettings(cmd, v)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("history-limit") {
				st.HistoryLimit = v.GetInt64("history-limit")
			}
			if f.Changed("max-clip-bytes") {
				st.MaxClipBytes = v.GetInt64("max-clip-bytes")
			}
			if f.Changed("restore-after-paste") {
				st.RestoreClipboardAfterPaste = v.GetBool("restore-after-paste")
			}
			if f.Changed("paused") {
				st.TrackingPaused = v.GetBool("paused")
			}
			st.Denylist = editDenylist(st.Denylist, v.GetStringSlice("deny"), v.GetStringSlice("allow"))

			st, err = pushSettings(cmd, v, st)
			if err != nil {
				return err
			}
			return printSettings(cmd.OutOrStdout(), st)
		},
	}

	f := cmd.Flags()
	f.Int64("history-limit", history.DefaultHistoryLimit, "maximum number of unpinned entries kept")
	f.Int64("max-clip-bytes", history.DefaultMaxClipBytes, "largest payload recorded, in bytes")
	f.Bool("restore-after-paste", true, "restore the previous clipboard after a paste")
	f.Bool("paused", false, "pause recording")
	f.StringSlice("deny", nil, "add application ids to the denylist")
	f.StringSlice("allow", nil, "remove application ids from the denylist")
	addClientFlags(cmd)
	return cmd
}

// newPauseCmd returns "pause" or, with pause false, "resume".
func newPauseCmd(pause bool) *cobra.Command {
	v := viper.New()

	use, short := "pause", "Stop recording clipboard changes"
	if !pause {
		use, short = "resume", "Resume recording clipboard changes"
	}

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ := message.TypeResume
			if pause {
				typ = message.TypePause
			}
			if _, err := newClient(v).Call(cmd.Context(), &message.Message{Type: typ}); err != nil {
				return err
			}
			if pause {
				fmt.Fprintln(cmd.OutOrStdout(), "recording paused")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "recording resumed")
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func fetchSettings(cmd *cobra.Command, v *viper.Viper) (history.Settings, error) {
	resp, err := newClient(v).Call(cmd.Context(), &message.Message{Type: message.TypeSettings})
	if err != nil {
		return history.Settings{}, err
	}
	if resp.Settings == nil {
		return history.Settings{}, fmt.Errorf("daemon returned no settings")
	}
	return *resp.Settings, nil
}

func pushSettings(cmd *cobra.Command, v *viper.Viper, st history.Settings) (history.Settings, error) {
	resp, err := newClient(v).Call(cmd.Context(), &message.Message{
		Type:     message.TypeUpdateSettings,
		Settings: &st,
	})
	if err != nil {
		return history.Settings{}, err
	}
	if resp.Settings == nil {
		return st, nil
	}
	return *resp.Settings, nil
}

// editDenylist appends add (skipping ids already present) and then drops
// every id in remove.
func editDenylist(list, add, remove []string) []string {
	out := slices.Clone(list)
	for _, id := range add {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return slices.DeleteFunc(out, func(id string) bool {
		return slices.Contains(remove, id)
	})
}

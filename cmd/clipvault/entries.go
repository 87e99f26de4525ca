package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/control"
	"go.klb.dev/clipvault/internal/message"
)

func newListCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List history entries, pinned first then newest first",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newClient(v).Call(cmd.Context(), &message.Message{
				Type:   message.TypeList,
				Query:  v.GetString("query"),
				Limit:  v.GetInt64("limit"),
				Offset: v.GetInt64("offset"),
			})
			if err != nil {
				return err
			}
			if resp.Page == nil {
				return fmt.Errorf("daemon returned no page")
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), resp.Page)
			}
			return printPage(cmd.OutOrStdout(), *resp.Page)
		},
	}

	f := cmd.Flags()
	f.StringP("query", "q", "", "case-insensitive substring filter")
	f.Int64P("limit", "n", control.DefaultListLimit, "maximum entries to show")
	f.Int64("offset", 0, "entries to skip")
	f.Bool("json", false, "print JSON instead of a table")
	addClientFlags(cmd)
	return cmd
}

func newGetCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "get <id>",
		Short:   "Print one entry",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callWithID(cmd, v, message.TypeGet, args[0])
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), resp.Entry)
			}
			if resp.Entry != nil {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Entry.Content)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the full entry as JSON")
	addClientFlags(cmd)
	return cmd
}

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "copy <id>",
		Short:   "Put a history entry back on the clipboard",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := callWithID(cmd, v, message.TypeCopy, args[0])
			return err
		},
	}
	addClientFlags(cmd)
	return cmd
}

// newPinCmd returns "pin" or, with pin false, "unpin".
func newPinCmd(pin bool) *cobra.Command {
	v := viper.New()

	use, short, typ := "pin <id>", "Pin an entry so it is never evicted", message.TypePin
	if !pin {
		use, short, typ = "unpin <id>", "Unpin an entry", message.TypeUnpin
	}

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callWithID(cmd, v, typ, args[0])
			if err != nil {
				return err
			}
			if resp.Entry != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d pinned=%t\n", resp.Entry.ID, resp.Entry.Pinned)
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete one entry",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := callWithID(cmd, v, message.TypeDelete, args[0])
			return err
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newClearCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Delete every entry, pinned ones included",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !v.GetBool("yes") {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			resp, err := newClient(v).Call(cmd.Context(), &message.Message{Type: message.TypeClear})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", resp.Count)
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "confirm clearing the whole history")
	addClientFlags(cmd)
	return cmd
}

func callWithID(cmd *cobra.Command, v *viper.Viper, typ message.Type, arg string) (*message.Message, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	return newClient(v).Call(cmd.Context(), &message.Message{Type: typ, ID: id})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entry id %q", s)
	}
	return id, nil
}

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/control"
	"go.klb.dev/clipvault/internal/ipc"
	"go.klb.dev/clipvault/internal/logging"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPVAULT_* env var prefix. Dashes in flag
// names become underscores in env vars (--http-addr is CLIPVAULT_HTTP_ADDR).
//
// Precedence (lowest → highest): defaults → config file → CLIPVAULT_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipvault")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipvault/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "clipvault"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addClientFlags adds the flags shared by commands that talk to the daemon.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("socket", "", "daemon IPC socket (default: platform socket path)")
	cmd.Flags().Duration("timeout", control.DefaultTimeout, "request timeout")
	addConfigFlag(cmd)
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}

// newClient returns a control client for the socket configured in v.
func newClient(v *viper.Viper) *control.Client {
	path := v.GetString("socket")
	if path == "" {
		path = ipc.SocketPath()
	}
	c := control.NewClient()
	c.Dial = func() (net.Conn, error) { return ipc.DialAt(path) }
	if d := v.GetDuration("timeout"); d > 0 {
		c.Timeout = d
	}
	return c
}

// resolveDataDir makes dir absolute. Stored media paths include the data
// dir, so it must not depend on the working directory of a given run.
func resolveDataDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving data dir %q: %w", dir, err)
	}
	return abs, nil
}

// defaultDataDir returns where the database and media live by default.
//
//   - Linux:   $XDG_DATA_HOME/clipvault, else ~/.local/share/clipvault
//   - macOS:   ~/Library/Application Support/clipvault
//   - Windows: %AppData%\clipvault
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "clipvault")
	}
	if runtime.GOOS == "linux" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", "clipvault")
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "clipvault")
	}
	return "clipvault-data"
}

// routershell is an IOS-style shell for configuring Linux networking.
//
// Run without arguments it reconciles the host with the stored
// configuration and starts the interactive shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psaab/routershell/pkg/cli"
	"github.com/psaab/routershell/pkg/configstore"
	"github.com/psaab/routershell/pkg/daemon"
	"github.com/psaab/routershell/pkg/logging"
	"github.com/psaab/routershell/pkg/settings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootDir     string
	configFile  string
	dbPath      string
	debug       bool
	noOS        bool
	noReconcile bool
	resetYes    bool

	cfg    *settings.Settings
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "routershell",
	Short: "IOS-style shell for Linux networking",
	Long: `routershell configures interfaces, bridges, VLANs, NAT, DHCP, wireless
and firewall policies through a Cisco IOS style command line.

The configuration is kept in a SQLite store and is authoritative: at
startup the host is brought back in line with it.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()
		return d.Run(cmd.Context(), !noReconcile)
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Apply a saved configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()
		failed, err := d.Load(cmd.Context(), args[0], os.Stderr)
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d line(s) failed", failed)
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reapply the stored configuration to the host and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()
		n, err := d.Reconcile(cmd.Context())
		if err != nil {
			cli.RenderError(os.Stderr, "", "", err)
			return errors.New("reconcile failed")
		}
		fmt.Printf("[OK] %d operation(s) applied\n", n)
		return nil
	},
}

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "Delete the stored configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return errors.New("refusing to delete the configuration store without --yes")
		}
		if err := configstore.Destroy(cfg.Store.Path); err != nil {
			return err
		}
		fmt.Printf("configuration store %s removed\n", cfg.Store.Path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("routershell version %s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootDir, "root", "", "project root (default $"+settings.RootEnv+" or "+settings.DefaultRoot+")")
	pf.StringVar(&configFile, "config", "", "settings file (default <root>/config/routershell.toml)")
	pf.StringVar(&dbPath, "db", "", "configuration store (overrides store.path)")
	pf.BoolVar(&debug, "debug", false, "debug logging to the terminal")
	pf.BoolVar(&noOS, "no-os", false, "config-only mode: do not modify the host")
	rootCmd.Flags().BoolVar(&noReconcile, "no-reconcile", false, "skip reconciling the host at startup")
	factoryResetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm deletion")

	rootCmd.AddCommand(loadCmd, reconcileCmd, factoryResetCmd, versionCmd)
}

// setup loads the settings and installs the process logger.
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}
	root := settings.ResolveRoot(rootDir)
	var err error
	cfg, err = settings.Load(root, configFile)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	logger, err = logging.Setup(logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		Stderr:     debug,
		Syslog:     cfg.Log.Syslog,
		SyslogMin:  cfg.Log.SyslogMin,
		Components: cfg.Log.Components,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func open(ctx context.Context) (*daemon.Daemon, error) {
	return daemon.New(ctx, daemon.Options{
		Settings: cfg,
		NoOS:     noOS,
		Version:  version,
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "routershell: %v\n", err)
		os.Exit(1)
	}
}

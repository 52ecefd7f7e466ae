// Package daemon implements the routershell process lifecycle: it opens
// the store, builds the OS backend and the command pipeline, reconciles
// the host and runs the shell.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/psaab/routershell/pkg/api"
	"github.com/psaab/routershell/pkg/cli"
	"github.com/psaab/routershell/pkg/configstore"
	"github.com/psaab/routershell/pkg/dhcpserver"
	"github.com/psaab/routershell/pkg/executor"
	"github.com/psaab/routershell/pkg/logging"
	"github.com/psaab/routershell/pkg/resolver"
	"github.com/psaab/routershell/pkg/settings"
	"github.com/psaab/routershell/pkg/system"
)

// Options configures the daemon.
type Options struct {
	Settings *settings.Settings
	// NoOS runs in config-only mode: every operation is accepted and
	// nothing touches the host.
	NoOS    bool
	Version string
	// Out receives command output; os.Stdout when nil.
	Out io.Writer
	// Backend overrides the OS backend. Tests set a system.Recorder.
	Backend executor.Backend
}

// Daemon owns the long-lived components of one routershell process.
type Daemon struct {
	opts    Options
	log     *slog.Logger
	store   *configstore.Store
	linux   *system.Linux
	exec    *executor.Executor
	session *cli.Session
	api     *api.Server
}

// New opens the store and builds the pipeline. A store created by this
// call is seeded with the hostname and banner from the settings.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	if opts.Settings == nil {
		return nil, errors.New("daemon: settings are required")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	s := opts.Settings
	d := &Daemon{opts: opts, log: logging.For("daemon")}

	for _, f := range []string{s.Store.Path, s.Shell.HistoryFile} {
		if f == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	_, statErr := os.Stat(s.Store.Path)
	fresh := errors.Is(statErr, os.ErrNotExist)
	store, err := configstore.Open(s.Store.Path)
	if err != nil {
		return nil, err
	}
	d.store = store

	backend := opts.Backend
	var resOpts []resolver.Option
	var live cli.LiveState
	var leases cli.LeaseSource
	var clients cli.ClientLeases
	switch {
	case backend != nil:
	case opts.NoOS:
		backend = system.Noop{}
		d.log.Info("config-only mode, host is not modified")
	default:
		linux, err := system.NewLinux(system.Options{
			DhcpBackend:  dhcpserver.Backend(s.Dhcp.Backend),
			DhcpDir:      s.Dhcp.ConfigDir,
			DhcpStateDir: s.Dhcp.StateDir,
			RadvdConf:    s.Dhcp.RadvdConf,
			WirelessDir:  s.Wireless.ConfigDir,
			NetworkdDir:  s.Networkd.Dir,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open host backend: %w", err)
		}
		d.linux = linux
		backend = linux
		resOpts = append(resOpts, resolver.WithInventory(linux.Net()))
		live = linux.Net()
		leases = linux.Dhcp()
		clients = linux.Clients()
	}
	resOpts = append(resOpts,
		resolver.WithOptionChecker(dhcpserver.CheckOption),
		resolver.WithLogger(logging.For("resolver")))

	d.exec = executor.New(backend,
		executor.WithTimeout(s.Timeout()),
		executor.WithDryRun(s.Executor.DryRun),
		executor.WithLogger(logging.For("executor")))

	d.session, err = cli.NewSession(ctx, cli.Options{
		Store:    store,
		Resolver: resolver.New(resOpts...),
		Executor: d.exec,
		Live:     live,
		Leases:   leases,
		Clients:  clients,
		Out:      opts.Out,
		Version:  opts.Version,
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	d.api = api.NewServer(api.Config{
		MetricsAddr: s.API.MetricsAddr,
		GrpcAddr:    s.API.GrpcAddr,
		Executor:    d.exec,
		Store:       store,
	})
	d.api.SetServing(true)

	if fresh {
		if err := d.seed(ctx); err != nil {
			d.log.Warn("seed new store", "err", err)
		}
	}
	d.log.Info("routershell ready", "store", s.Store.Path, "pid", os.Getpid())
	return d, nil
}

// seed commits the settings' hostname and banner to a new store.
func (d *Daemon) seed(ctx context.Context) error {
	sh := d.opts.Settings.Shell
	var lines []string
	if sh.Hostname != "" && sh.Hostname != "Router" {
		lines = append(lines, "hostname "+sh.Hostname)
	}
	if sh.Banner != "" {
		lines = append(lines, "banner motd "+sh.Banner)
	}
	if len(lines) == 0 {
		return nil
	}
	var errs strings.Builder
	failed, err := d.session.Load(ctx, strings.NewReader(strings.Join(lines, "\n")), &errs)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d seed line(s) failed: %s", failed, strings.TrimSpace(errs.String()))
	}
	d.session.Stack().Reset()
	return nil
}

// Session returns the CLI session.
func (d *Daemon) Session() *cli.Session { return d.session }

// Store returns the configuration store.
func (d *Daemon) Store() *configstore.Store { return d.store }

// Reconcile reapplies the stored configuration to the host.
func (d *Daemon) Reconcile(ctx context.Context) (int, error) {
	n, err := d.session.Reconcile(ctx)
	if err != nil {
		d.log.Warn("reconcile failed", "err", err)
		return n, err
	}
	return n, nil
}

// Load runs a saved configuration file through the session.
func (d *Daemon) Load(ctx context.Context, path string, errw io.Writer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	failed, err := d.session.Load(ctx, f, errw)
	d.log.Info("configuration loaded", "file", path, "failed", failed)
	return failed, err
}

// Run starts the API listeners, reconciles the host unless told not to and
// runs the interactive shell until it exits or a signal arrives.
func (d *Daemon) Run(ctx context.Context, reconcile bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if d.api.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.api.Run(ctx); err != nil {
				d.log.Error("api server", "err", err)
			}
		}()
	}

	if reconcile {
		if n, err := d.Reconcile(ctx); err != nil {
			cli.RenderError(os.Stderr, "", "", err)
		} else {
			d.log.Info("host reconciled", "ops", n)
		}
	}

	shell := cli.NewShell(d.session, d.opts.Settings.Shell.HistoryFile)
	errCh := make(chan error, 1)
	go func() {
		errCh <- shell.Run(ctx)
	}()

	var runErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("shell: %w", err)
		}
	case <-ctx.Done():
		d.log.Info("signal received, shutting down")
	}

	stop()
	wg.Wait()
	d.log.Info("shutdown complete")
	return runErr
}

// Close releases the store and the host handles.
func (d *Daemon) Close() error {
	if d.api != nil {
		d.api.SetServing(false)
	}
	var errs []error
	if d.linux != nil {
		errs = append(errs, d.linux.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hengadev/credhub"
	"github.com/hengadev/credhub/internal/monitoring"
	"golang.org/x/sync/errgroup"
)

type KeyUsageCommand struct {
	baseCommand
}

func (c *KeyUsageCommand) Synopsis() string { return "Count stored versions per key bucket" }

func (c *KeyUsageCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub key-usage

  Counts stored versions under the active key, under other configured keys
  and under keys missing from the configuration.
` + configHelp)
}

func (c *KeyUsageCommand) Run(args []string) int {
	fs := c.flagSet("key-usage")
	if !c.parse(fs, args) {
		return exitUsage
	}
	return c.withApp(func(ctx context.Context, app *App) error {
		usage, err := app.Usage.Snapshot(ctx)
		if err != nil {
			return err
		}
		return c.printJSON(usage)
	})
}

type ReencryptCommand struct {
	baseCommand
}

func (c *ReencryptCommand) Synopsis() string { return "Re-encrypt versions under the active key" }

func (c *ReencryptCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub reencrypt

  Copies every live version that is not under the active key into a new
  version sealed by the active key. Interrupting the command stops the pass;
  finished copies are kept.
` + configHelp)
}

func (c *ReencryptCommand) Run(args []string) int {
	fs := c.flagSet("reencrypt")
	if !c.parse(fs, args) {
		return exitUsage
	}
	return c.withApp(func(ctx context.Context, app *App) error {
		result, err := app.Reencryptor().Run(ctx)
		if perr := c.printJSON(result); perr != nil {
			return perr
		}
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d versions could not be re-encrypted", result.Failed)
		}
		return nil
	})
}

type ProvisionCommand struct {
	baseCommand
}

func (c *ProvisionCommand) Synopsis() string { return "Write fresh material for a key kept in a secret backend" }

func (c *ProvisionCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub keys provision -id=<key id> [-overwrite]

  Generates a random 256-bit key and stores it at the secret backend path of
  the configured internal key with the given id.

Options:

  -id=<uuid>     Id of a configured key with a secret block.
  -overwrite     Replace material that already exists.
` + configHelp)
}

func (c *ProvisionCommand) Run(args []string) int {
	var id string
	var overwrite bool
	fs := c.flagSet("keys provision")
	fs.StringVar(&id, "id", "", "")
	fs.BoolVar(&overwrite, "overwrite", false, "")
	if !c.parse(fs, args) {
		return exitUsage
	}
	if err := required("id", id); err != nil {
		c.ui.Error(err.Error())
		return exitUsage
	}

	ctx, stop := signalContext()
	defer stop()

	cfg, err := c.loadConfig()
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	var key *credhub.KeyConfig
	for i := range cfg.Encryption.Keys {
		if strings.EqualFold(cfg.Encryption.Keys[i].ID, id) {
			key = &cfg.Encryption.Keys[i]
			break
		}
	}
	if key == nil {
		c.ui.Error(fmt.Sprintf("key %s is not configured", id))
		return exitError
	}

	logger, err := monitoring.NewLogger(cfg.Logging, c.deps.logOutput)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	path, err := newResolver(cfg, logger, c.deps).Provision(ctx, *key, overwrite)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	if err := c.printJSON(map[string]string{"key_id": key.ID, "path": path}); err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	return exitOK
}

type MonitorCommand struct {
	baseCommand

	// ready receives the bound listener address once serving starts.
	ready chan<- string
}

func (c *MonitorCommand) Synopsis() string { return "Serve metrics and export key usage" }

func (c *MonitorCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub monitor [-addr=<host:port>]

  Serves Prometheus metrics on /metrics and the key directory state on
  /healthz, and refreshes the key usage gauges every metrics.usage_interval.
  SIGHUP reloads the key list from the configuration file.

Options:

  -addr=<host:port>    Listen address. Defaults to metrics.listen_addr.
` + configHelp)
}

func (c *MonitorCommand) Run(args []string) int {
	var addr string
	fs := c.flagSet("monitor")
	fs.StringVar(&addr, "addr", "", "")
	if !c.parse(fs, args) {
		return exitUsage
	}
	return c.withApp(func(ctx context.Context, app *App) error {
		if addr == "" {
			addr = app.Config.Metrics.ListenAddr
		}
		return c.serve(ctx, app, addr)
	})
}

func (c *MonitorCommand) serve(ctx context.Context, app *App, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	app.Logger.Info("monitor listening", slog.String("addr", ln.Addr().String()))
	if c.ready != nil {
		c.ready <- ln.Addr().String()
	}

	exporter := monitoring.NewUsageExporter(app.Usage, app.Metrics, app.Logger, app.Config.Metrics.UsageInterval)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return exporter.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-hup:
				c.reload(gctx, app, exporter)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reload applies the key list of the configuration file. A failed reload
// keeps the current keys.
func (c *MonitorCommand) reload(ctx context.Context, app *App, exporter *monitoring.UsageExporter) {
	cfg, err := c.loadConfig()
	if err == nil {
		err = app.ReloadKeys(ctx, cfg)
	}
	if err != nil {
		app.Logger.Error("key reload failed", slog.String("error", err.Error()))
		return
	}
	app.Logger.Info("keys reloaded", slog.String("active_key", app.Directory.ActiveKeyID().String()))
	if _, err := exporter.Export(ctx); err != nil {
		app.Logger.Warn("usage export after reload failed", slog.String("error", err.Error()))
	}
}

type VersionCommand struct {
	baseCommand
}

func (c *VersionCommand) Synopsis() string { return "Print the credhub version" }

func (c *VersionCommand) Help() string {
	return "Usage: credhub version"
}

func (c *VersionCommand) Run(args []string) int {
	if err := c.printJSON(credhub.FullVersionInfo()); err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	return exitOK
}

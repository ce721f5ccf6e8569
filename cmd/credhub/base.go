package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hengadev/credhub"
	"github.com/mitchellh/cli"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// errUsage marks errors caused by bad invocation rather than by the operation.
var errUsage = errors.New("usage")

type baseCommand struct {
	ui         cli.Ui
	deps       appDeps
	configPath string
}

func defaultConfigPath() string {
	if path := os.Getenv(credhub.EnvConfigPath); path != "" {
		return path
	}
	return credhub.DefaultConfigPath
}

func (b *baseCommand) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&b.configPath, "config", defaultConfigPath(), "")
	return fs
}

// parse parses args and reports a usage error for stray arguments.
func (b *baseCommand) parse(fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		b.ui.Error(err.Error())
		return false
	}
	if fs.NArg() > 0 {
		b.ui.Error(fmt.Sprintf("unexpected arguments: %s", strings.Join(fs.Args(), " ")))
		return false
	}
	return true
}

func (b *baseCommand) loadConfig() (credhub.Config, error) {
	return credhub.LoadConfig(b.configPath)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp runs fn against a fully wired App and maps its error to an exit code.
func (b *baseCommand) withApp(fn func(ctx context.Context, app *App) error) int {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := b.loadConfig()
	if err != nil {
		b.ui.Error(err.Error())
		return exitError
	}
	app, err := NewApp(ctx, cfg, b.deps)
	if err != nil {
		b.ui.Error(err.Error())
		return exitError
	}

	code := exitOK
	if err := fn(ctx, app); err != nil {
		b.ui.Error(err.Error())
		code = exitError
		if errors.Is(err, errUsage) {
			code = exitUsage
		}
	}
	if err := app.Close(context.WithoutCancel(ctx)); err != nil {
		b.ui.Error(fmt.Sprintf("close: %s", err))
		code = exitError
	}
	return code
}

func (b *baseCommand) printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b.ui.Output(string(out))
	return nil
}

func required(flagName, value string) error {
	if value == "" {
		return fmt.Errorf("%w: -%s is required", errUsage, flagName)
	}
	return nil
}

const configHelp = `
  -config=<path>    YAML configuration file. Defaults to $CREDHUB_CONFIG,
                    then credhub.yaml.`

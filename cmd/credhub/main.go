// Command credhub manages encrypted credentials in a local version store.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/hengadev/credhub"
	"github.com/joho/godotenv"
	"github.com/mitchellh/cli"
)

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, appDeps{}))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, deps appDeps) int {
	ui := &cli.ColoredUi{
		OutputColor: cli.UiColorNone,
		ErrorColor:  cli.UiColorRed,
		WarnColor:   cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Reader:      stdin,
			Writer:      stdout,
			ErrorWriter: stderr,
		},
	}

	c := &cli.CLI{
		Name:         "credhub",
		Version:      credhub.VersionInfo(),
		Args:         args,
		Commands:     commands(ui, deps),
		HelpFunc:     cli.BasicHelpFunc("credhub"),
		HelpWriter:   stderr,
		ErrorWriter:  stderr,
		Autocomplete: true,
	}

	code, err := c.Run()
	if err != nil {
		fmt.Fprintf(stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return code
}

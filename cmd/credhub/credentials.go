package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hengadev/credhub"
)

type SetCommand struct {
	baseCommand
}

func (c *SetCommand) Synopsis() string { return "Store a new version of a credential" }

func (c *SetCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub set -name=<name> -type=<type> [-value=<value> | -value-file=<path>]

  Encrypts the value under the active key and appends it as the newest
  version of name. Types other than value and password take a JSON object.

Options:

  -name=<name>          Credential name.
  -type=<type>          value, password, json, certificate, ssh, rsa or user.
  -value=<value>        Value to store.
  -value-file=<path>    Read the value from a file, or stdin when "-".
` + configHelp)
}

func (c *SetCommand) Run(args []string) int {
	var name, typ, value, valueFile string
	fs := c.flagSet("set")
	fs.StringVar(&name, "name", "", "")
	fs.StringVar(&typ, "type", string(credhub.TypeValue), "")
	fs.StringVar(&value, "value", "", "")
	fs.StringVar(&valueFile, "value-file", "", "")
	if !c.parse(fs, args) {
		return exitUsage
	}

	return c.withApp(func(ctx context.Context, app *App) error {
		if err := required("name", name); err != nil {
			return err
		}
		raw, err := readValue(value, valueFile)
		if err != nil {
			return err
		}
		t, err := credhub.ParseCredentialType(typ)
		if err != nil {
			return err
		}
		decoded, err := credhub.DecodeCredentialValue(t, raw)
		if err != nil {
			return err
		}
		v, err := app.Credentials.Set(ctx, name, decoded)
		if err != nil {
			return err
		}
		view, err := app.Credentials.ToView(ctx, v)
		if err != nil {
			return err
		}
		return c.printJSON(view)
	})
}

func readValue(value, path string) ([]byte, error) {
	switch {
	case value != "" && path != "":
		return nil, fmt.Errorf("%w: -value and -value-file are mutually exclusive", errUsage)
	case path == "-":
		return io.ReadAll(os.Stdin)
	case path != "":
		return os.ReadFile(path)
	case value == "":
		return nil, fmt.Errorf("%w: -value or -value-file is required", errUsage)
	}
	return []byte(value), nil
}

type GetCommand struct {
	baseCommand
}

func (c *GetCommand) Synopsis() string { return "Show the latest version of a credential" }

func (c *GetCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub get [-name=<name> | -id=<version id>]

  Decrypts and prints the newest version of name, or the version with the
  given id.

Options:

  -name=<name>    Credential name.
  -id=<uuid>      Version id.
` + configHelp)
}

func (c *GetCommand) Run(args []string) int {
	var name, id string
	fs := c.flagSet("get")
	fs.StringVar(&name, "name", "", "")
	fs.StringVar(&id, "id", "", "")
	if !c.parse(fs, args) {
		return exitUsage
	}

	return c.withApp(func(ctx context.Context, app *App) error {
		var (
			view *credhub.CredentialView
			err  error
		)
		switch {
		case id != "" && name != "":
			return fmt.Errorf("%w: -name and -id are mutually exclusive", errUsage)
		case id != "":
			versionID, perr := uuid.Parse(id)
			if perr != nil {
				return fmt.Errorf("%w: invalid -id: %w", errUsage, perr)
			}
			v, ferr := app.Credentials.FindByID(ctx, versionID)
			if ferr != nil {
				return ferr
			}
			view, err = app.Credentials.ToView(ctx, v)
		case name != "":
			view, err = app.Credentials.Get(ctx, name)
		default:
			return fmt.Errorf("%w: -name or -id is required", errUsage)
		}
		if err != nil {
			return err
		}
		return c.printJSON(view)
	})
}

type VersionsCommand struct {
	baseCommand
}

func (c *VersionsCommand) Synopsis() string { return "List every version of a credential" }

func (c *VersionsCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub versions -name=<name>

  Decrypts and prints every version of name, newest first.

Options:

  -name=<name>    Credential name.
` + configHelp)
}

func (c *VersionsCommand) Run(args []string) int {
	var name string
	fs := c.flagSet("versions")
	fs.StringVar(&name, "name", "", "")
	if !c.parse(fs, args) {
		return exitUsage
	}

	return c.withApp(func(ctx context.Context, app *App) error {
		if err := required("name", name); err != nil {
			return err
		}
		versions, err := app.Credentials.AllVersions(ctx, name)
		if err != nil {
			return err
		}
		views := make([]*credhub.CredentialView, 0, len(versions))
		for _, v := range versions {
			view, err := app.Credentials.ToView(ctx, v)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return c.printJSON(map[string]any{"data": views})
	})
}

type FindCommand struct {
	baseCommand
}

func (c *FindCommand) Synopsis() string { return "Search credential names" }

func (c *FindCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub find [-name-like=<term> | -path=<path> | -paths]

  Lists credential names, newest first. Matching ignores case.

Options:

  -name-like=<term>    Names containing term.
  -path=<path>         Names under path.
  -paths               List every path that holds a credential.
` + configHelp)
}

func (c *FindCommand) Run(args []string) int {
	var term, path string
	var paths bool
	fs := c.flagSet("find")
	fs.StringVar(&term, "name-like", "", "")
	fs.StringVar(&path, "path", "", "")
	fs.BoolVar(&paths, "paths", false, "")
	if !c.parse(fs, args) {
		return exitUsage
	}

	return c.withApp(func(ctx context.Context, app *App) error {
		switch {
		case paths:
			all, err := app.Credentials.Paths(ctx)
			if err != nil {
				return err
			}
			return c.printJSON(map[string]any{"paths": all})
		case term != "" && path != "":
			return fmt.Errorf("%w: -name-like and -path are mutually exclusive", errUsage)
		case term != "":
			found, err := app.Credentials.FindContainingName(ctx, term)
			if err != nil {
				return err
			}
			return c.printJSON(map[string]any{"credentials": found})
		case path != "":
			found, err := app.Credentials.FindStartingWithPath(ctx, path)
			if err != nil {
				return err
			}
			return c.printJSON(map[string]any{"credentials": found})
		}
		return fmt.Errorf("%w: one of -name-like, -path or -paths is required", errUsage)
	})
}

type DeleteCommand struct {
	baseCommand
}

func (c *DeleteCommand) Synopsis() string { return "Delete every version of a credential" }

func (c *DeleteCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub delete -name=<name>

  Removes every version of name, including re-encrypted copies.

Options:

  -name=<name>    Credential name.
` + configHelp)
}

func (c *DeleteCommand) Run(args []string) int {
	var name string
	fs := c.flagSet("delete")
	fs.StringVar(&name, "name", "", "")
	if !c.parse(fs, args) {
		return exitUsage
	}

	return c.withApp(func(ctx context.Context, app *App) error {
		if err := required("name", name); err != nil {
			return err
		}
		removed, err := app.Credentials.DeleteByName(ctx, name)
		if err != nil {
			return err
		}
		return c.printJSON(map[string]int64{"deleted": removed})
	})
}

type GenerateCommand struct {
	baseCommand
}

func (c *GenerateCommand) Synopsis() string { return "Generate and store a credential" }

func (c *GenerateCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub generate -name=<name> -type=<type> [-params=<json>]

  Generates a password, user, ssh, rsa or certificate credential and stores
  it together with the parameters used, so it can be regenerated later.

Options:

  -name=<name>      Credential name.
  -type=<type>      password, user, ssh, rsa or certificate.
  -params=<json>    Generation parameters as a JSON object.
` + configHelp)
}

func (c *GenerateCommand) Run(args []string) int {
	var name, typ, params string
	fs := c.flagSet("generate")
	fs.StringVar(&name, "name", "", "")
	fs.StringVar(&typ, "type", string(credhub.TypePassword), "")
	fs.StringVar(&params, "params", "", "")
	if !c.parse(fs, args) {
		return exitUsage
	}

	return c.withApp(func(ctx context.Context, app *App) error {
		if err := required("name", name); err != nil {
			return err
		}
		t, err := credhub.ParseCredentialType(typ)
		if err != nil {
			return err
		}
		p, err := credhub.ParseGenerationParameters(t, []byte(params))
		if err != nil {
			return err
		}
		v, err := app.Credentials.Generate(ctx, name, p)
		if err != nil {
			return err
		}
		view, err := app.Credentials.ToView(ctx, v)
		if err != nil {
			return err
		}
		return c.printJSON(view)
	})
}

type RegenerateCommand struct {
	baseCommand
}

func (c *RegenerateCommand) Synopsis() string { return "Regenerate a credential from its stored parameters" }

func (c *RegenerateCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub regenerate -name=<name>
       credhub regenerate -signed-by=<ca>

  Generates a new version of name with the parameters of its latest version.
  With -signed-by, regenerates every certificate whose latest version is
  signed by the named CA and prints the regenerated names.

Options:

  -name=<name>         Credential name.
  -signed-by=<ca>      Certificate authority name.
` + configHelp)
}

func (c *RegenerateCommand) Run(args []string) int {
	var name, signedBy string
	fs := c.flagSet("regenerate")
	fs.StringVar(&name, "name", "", "")
	fs.StringVar(&signedBy, "signed-by", "", "")
	if !c.parse(fs, args) {
		return exitUsage
	}

	return c.withApp(func(ctx context.Context, app *App) error {
		if name != "" && signedBy != "" {
			return fmt.Errorf("%w: -name and -signed-by are mutually exclusive", errUsage)
		}
		if signedBy != "" {
			result, err := app.Credentials.RegenerateSignedBy(ctx, signedBy)
			if err != nil {
				return err
			}
			return c.printJSON(result)
		}
		if err := required("name", name); err != nil {
			return err
		}
		v, err := app.Credentials.Regenerate(ctx, name)
		if err != nil {
			return err
		}
		view, err := app.Credentials.ToView(ctx, v)
		if err != nil {
			return err
		}
		return c.printJSON(view)
	})
}

type SerialCommand struct {
	baseCommand
}

func (c *SerialCommand) Synopsis() string { return "Print a random certificate serial number" }

func (c *SerialCommand) Help() string {
	return strings.TrimSpace(`
Usage: credhub serial

  Prints a random positive serial number suitable for an X.509 certificate.
`)
}

func (c *SerialCommand) Run(args []string) int {
	fs := c.flagSet("serial")
	if !c.parse(fs, args) {
		return exitUsage
	}
	serial, err := credhub.NewCredentialGenerator(nil).RandomSerialNumber()
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	if err := c.printJSON(map[string]string{"serial_number": serial.Text(16)}); err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	return exitOK
}

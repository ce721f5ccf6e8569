package main

import (
	"github.com/mitchellh/cli"
)

func commands(ui cli.Ui, deps appDeps) map[string]cli.CommandFactory {
	base := func() baseCommand { return baseCommand{ui: ui, deps: deps} }
	return map[string]cli.CommandFactory{
		"set": func() (cli.Command, error) {
			return &SetCommand{baseCommand: base()}, nil
		},
		"get": func() (cli.Command, error) {
			return &GetCommand{baseCommand: base()}, nil
		},
		"versions": func() (cli.Command, error) {
			return &VersionsCommand{baseCommand: base()}, nil
		},
		"find": func() (cli.Command, error) {
			return &FindCommand{baseCommand: base()}, nil
		},
		"delete": func() (cli.Command, error) {
			return &DeleteCommand{baseCommand: base()}, nil
		},
		"generate": func() (cli.Command, error) {
			return &GenerateCommand{baseCommand: base()}, nil
		},
		"regenerate": func() (cli.Command, error) {
			return &RegenerateCommand{baseCommand: base()}, nil
		},
		"serial": func() (cli.Command, error) {
			return &SerialCommand{baseCommand: base()}, nil
		},
		"key-usage": func() (cli.Command, error) {
			return &KeyUsageCommand{baseCommand: base()}, nil
		},
		"reencrypt": func() (cli.Command, error) {
			return &ReencryptCommand{baseCommand: base()}, nil
		},
		"keys provision": func() (cli.Command, error) {
			return &ProvisionCommand{baseCommand: base()}, nil
		},
		"monitor": func() (cli.Command, error) {
			return &MonitorCommand{baseCommand: base()}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{baseCommand: base()}, nil
		},
	}
}

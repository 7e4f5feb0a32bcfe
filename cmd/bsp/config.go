package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/cmd/bsp/console"
	"github.com/mklimuk/bsp/pkg/config"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "board configuration",
	Subcommands: cli.Commands{
		&configInitCmd,
		&configShowCmd,
		&configCheckCmd,
	},
}

var configInitCmd = cli.Command{
	Name:  "init",
	Usage: "write the reference layout to the configuration file",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "overwrite without asking"},
	},
	Action: func(c *cli.Context) error {
		path := c.String("config")
		_, err := os.Stat(path)
		if err == nil && !c.Bool("force") {
			answer, err := console.YesOrNo(path + " exists, overwrite?")
			if err != nil {
				return console.Exit(1, "prompt error: %s", err)
			}
			if answer != console.Yes {
				console.PInfof(console.PictoStop, "configuration left untouched")
				return nil
			}
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return console.Exit(1, "could not check %s: %s", path, console.Red(err))
		}
		if err := config.Save(path, config.Default()); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.PInfof(console.PictoNotebook, "reference layout written to %s", console.White(path))
		return nil
	},
}

var configShowCmd = cli.Command{
	Name:  "show",
	Usage: "print the effective configuration",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load configuration: %s", console.Red(err))
		}
		return printYAML(cfg)
	},
}

var configCheckCmd = cli.Command{
	Name:  "check",
	Usage: "validate the configuration file",
	Action: func(c *cli.Context) error {
		if _, err := config.Load(c.String("config")); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.PInfof(console.PictoFinish, "%s is valid", c.String("config"))
		return nil
	},
}

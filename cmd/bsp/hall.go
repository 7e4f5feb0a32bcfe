package main

import (
	"context"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/cmd/bsp/console"
)

var hallCmd = cli.Command{
	Name:  "hall",
	Usage: "read Hall switches",
	Flags: []cli.Flag{sensorFlag, countFlag, intervalFlag},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load configuration: %s", console.Red(err))
		}
		b, closeBoard, err := openBoard(c.Context, cfg)
		if err != nil {
			return err
		}
		defer closeBoard()

		var names []string
		for name, s := range b.Switches {
			if !selected(c, name) {
				continue
			}
			if err := s.Init(); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			if err := s.Enable(c.Context); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return console.Exit(1, "no hall switch available")
		}
		sort.Strings(names)
		return repeat(c.Context, c, func(ctx context.Context) error {
			for _, name := range names {
				s := b.Switches[name]
				if err := s.Update(); err != nil {
					console.Errorf("%s: %s", name, console.Red(err))
					continue
				}
				console.Printf("%s %s (%s)  %s field %s\n", console.PictoPin, console.White(name), s.Variant(),
					console.PictoMagnet, console.White(s.Field()))
			}
			return nil
		})
	},
}

var speedCmd = cli.Command{
	Name:    "speed",
	Aliases: []string{"tli4966"},
	Usage:   "read TLx4966 speed and direction sensors",
	Flags: []cli.Flag{
		sensorFlag, countFlag,
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "time between readings",
			Value: 100 * time.Millisecond,
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "could not load configuration: %s", console.Red(err))
		}
		b, closeBoard, err := openBoard(c.Context, cfg)
		if err != nil {
			return err
		}
		defer closeBoard()

		var names []string
		for name, s := range b.Speed {
			if !selected(c, name) {
				continue
			}
			if err := s.Init(); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			if err := s.Enable(c.Context); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return console.Exit(1, "no speed sensor available")
		}
		sort.Strings(names)
		return repeat(c.Context, c, func(ctx context.Context) error {
			for _, name := range names {
				s := b.Speed[name]
				s.Update()
				console.Printf("%s %s  %s %.2f %s  %s %s\n", console.PictoPin, console.White(name),
					console.PictoWheel, s.Speed(), s.Unit(), console.PictoCompass, s.Direction())
			}
			return nil
		})
	},
}

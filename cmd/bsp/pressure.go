package main

import (
	"context"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/cmd/bsp/console"
	"github.com/mklimuk/bsp/pressure"
)

var pressureCmd = cli.Command{
	Name:    "pressure",
	Aliases: []string{"dps368"},
	Usage:   "read DPS368 pressure sensors",
	Flags:   []cli.Flag{sensorFlag, countFlag, intervalFlag},
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

		names := make([]string, 0, len(b.Pressure))
		for name := range b.Pressure {
			if selected(c, name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		live := map[string]*pressure.DPS368{}
		for _, name := range names {
			s := b.Pressure[name]
			if err := s.Connect(c.Context); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			live[name] = s
			if console.IsVerbose(c.Context) {
				console.Printf("%s %s coefficients %+v\n", console.PictoNotebook, console.White(name), s.Coefficients())
			}
		}
		if len(live) == 0 {
			return console.Exit(1, "no pressure sensor answered")
		}
		return repeat(c.Context, c, func(ctx context.Context) error {
			for _, name := range names {
				s, ok := live[name]
				if !ok {
					continue
				}
				m, err := s.GetData(ctx)
				if err != nil {
					console.Errorf("%s: %s", name, console.Red(err))
					continue
				}
				console.Printf("%s %s  %s %.2f°C  %s %.2f hPa\n", console.PictoPin, console.White(name),
					console.PictoThermometer, m.Temperature, console.PictoGauge, m.Pressure)
			}
			return nil
		})
	},
}

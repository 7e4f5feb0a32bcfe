package main

import (
	"context"
	"errors"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/bsp/cmd/bsp/console"
	"github.com/mklimuk/bsp/magnetic"
)

var magneticCmd = cli.Command{
	Name:    "magnetic",
	Aliases: []string{"tlv493d"},
	Usage:   "read TLV493D 3D magnetic sensors",
	Flags: []cli.Flag{
		sensorFlag, countFlag, intervalFlag,
		&cli.StringFlag{
			Name:  "mode",
			Usage: "access mode: fast, low-power, ultra-low-power, master-controlled or power-down",
			Value: magnetic.LowPower.String(),
		},
	},
	Action: func(c *cli.Context) error {
		mode, err := parseAccessMode(c.String("mode"))
		if err != nil {
			return console.Exit(1, "%s", err)
		}
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
		for name, s := range b.Magnetic {
			if !selected(c, name) {
				continue
			}
			if err := s.Init(c.Context); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			if err := s.SetAccessMode(c.Context, mode); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			if err := s.EnableTemperature(c.Context); err != nil {
				console.Errorf("%s: %s", name, console.Red(err))
				continue
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return console.Exit(1, "no magnetic sensor answered")
		}
		sort.Strings(names)
		defer func() {
			for _, name := range names {
				if err := b.Magnetic[name].End(context.Background()); err != nil {
					console.Warnf("%s: could not power down: %s", name, err)
				}
			}
		}()
		return repeat(c.Context, c, func(ctx context.Context) error {
			for _, name := range names {
				s := b.Magnetic[name]
				if err := s.Update(ctx); err != nil && !errors.Is(err, magnetic.ErrFrame) {
					console.Errorf("%s: %s", name, console.Red(err))
					continue
				}
				console.Printf("%s %s  %s x=%.3f y=%.3f z=%.3f mT |B|=%.3f  %s az=%.3f pol=%.3f  %s %.1f°C\n",
					console.PictoPin, console.White(name),
					console.PictoMagnet, s.X(), s.Y(), s.Z(), s.Amount(),
					console.PictoCompass, s.Azimuth(), s.Polar(),
					console.PictoThermometer, s.Temperature())
			}
			return nil
		})
	},
}

func parseAccessMode(name string) (magnetic.AccessMode, error) {
	for m := magnetic.PowerDown; m <= magnetic.MasterControlled; m++ {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, errors.New("unknown access mode " + name)
}
